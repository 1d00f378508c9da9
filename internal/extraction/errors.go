package extraction

import (
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an upload failure. It is assigned once, where the
// service response is interpreted, so callers never inspect message text.
type Kind string

const (
	// KindTransport: the service could not be reached or timed out.
	KindTransport Kind = "transport"
	// KindService: non-2xx status or an explicit success=false.
	KindService Kind = "service"
	// KindMalformed: a 2xx body that could not be interpreted.
	KindMalformed Kind = "malformed"

	KindAPIKey          Kind = "api_key"
	KindRateLimit       Kind = "rate_limit"
	KindFileTooLarge    Kind = "file_too_large"
	KindUnsupportedType Kind = "unsupported_type"
)

// UploadError is the normalized failure of a single Submit call.
type UploadError struct {
	Kind       Kind
	StatusCode int    // zero for transport failures
	Message    string // human-readable, from the service when it sent one
	Err        error
}

func (e *UploadError) Error() string {
	return e.Message
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// messageKinds maps the service's known failure phrases to kinds, in
// precedence order.
var messageKinds = []struct {
	phrase string
	kind   Kind
}{
	{"API key", KindAPIKey},
	{"Rate limit", KindRateLimit},
	{"File too large", KindFileTooLarge},
	{"File type not supported", KindUnsupportedType},
}

// classify picks the most specific kind for a failure. Status codes with a
// dedicated meaning win over message phrases; base is used when neither
// says more.
func classify(base Kind, status int, message string) Kind {
	switch status {
	case http.StatusRequestEntityTooLarge:
		return KindFileTooLarge
	case http.StatusUnsupportedMediaType:
		return KindUnsupportedType
	case http.StatusTooManyRequests:
		return KindRateLimit
	}
	for _, mk := range messageKinds {
		if strings.Contains(message, mk.phrase) {
			return mk.kind
		}
	}
	return base
}

func newUploadError(base Kind, status int, message string, cause error) *UploadError {
	return &UploadError{
		Kind:       classify(base, status, message),
		StatusCode: status,
		Message:    message,
		Err:        cause,
	}
}

func httpStatusMessage(status int) string {
	return fmt.Sprintf("HTTP error! status: %d", status)
}
