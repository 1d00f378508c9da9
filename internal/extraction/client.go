// Package extraction submits invoice files to the remote extraction service.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/phyntra/backend/internal/models"
	"github.com/phyntra/backend/internal/observability"
	"github.com/rs/zerolog"
)

// ProcessInvoicePath is appended to the configured base URL.
const ProcessInvoicePath = "/process-invoice"

// transportFailureMessage is reported when the service cannot be reached.
const transportFailureMessage = "Network error: could not reach the invoice processing service"

type requestStartedAt struct{}

// Client performs exactly one multipart POST per Submit call. It never
// retries.
type Client struct {
	http *resty.Client
	log  zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds each request. Zero means no client-side timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.SetTimeout(d)
	}
}

// WithLogger sets the client logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log.With().Str("component", "extraction").Logger()
	}
}

// NewClient creates a client for the service rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetHeader("Accept", "application/json").
			SetRetryCount(0),
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.http.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		r.SetContext(context.WithValue(r.Context(), requestStartedAt{}, time.Now()))
		return nil
	})
	c.http.OnAfterResponse(func(_ *resty.Client, r *resty.Response) error {
		start, _ := r.Request.Context().Value(requestStartedAt{}).(time.Time)
		c.log.Debug().
			Int("status", r.StatusCode()).
			Str("url", r.Request.URL).
			Dur("latency", time.Since(start)).
			Msg("extraction request")
		return nil
	})
	return c
}

// serviceResponse is the body of both the success and the failure paths.
type serviceResponse struct {
	Success  bool                      `json:"success"`
	Data     *models.InvoiceExtraction `json:"data"`
	FileHash string                    `json:"file_hash"`
	Message  string                    `json:"message"`
	Detail   json.RawMessage           `json:"detail"`
}

// Submit uploads file as the multipart field "file" and returns the
// extraction, or an *UploadError describing why there is none.
func (c *Client) Submit(ctx context.Context, file models.UploadFile) (*models.ExtractionOutcome, error) {
	start := time.Now()
	outcome, err := c.submit(ctx, file)

	label := "ok"
	var uerr *UploadError
	if errors.As(err, &uerr) {
		label = string(uerr.Kind)
		c.log.Warn().
			Str("file", file.Name).
			Str("kind", label).
			Int("status", uerr.StatusCode).
			Err(err).
			Msg("extraction failed")
	}
	observability.ExtractionRequestsTotal.WithLabelValues(label).Inc()
	observability.ExtractionDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	return outcome, err
}

func (c *Client) submit(ctx context.Context, file models.UploadFile) (*models.ExtractionOutcome, error) {
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	observability.UploadBytesTotal.WithLabelValues(contentType).Add(float64(len(file.Content)))

	resp, err := c.http.R().
		SetContext(ctx).
		SetMultipartField("file", file.Name, contentType, bytes.NewReader(file.Content)).
		Post(ProcessInvoicePath)
	if err != nil {
		return nil, newUploadError(KindTransport, 0, transportFailureMessage, err)
	}

	status := resp.StatusCode()
	var body serviceResponse
	decodeErr := json.Unmarshal(resp.Body(), &body)

	if !resp.IsSuccess() {
		msg := detailMessage(body.Detail)
		if decodeErr != nil || msg == "" {
			msg = httpStatusMessage(status)
		}
		return nil, newUploadError(KindService, status, msg, nil)
	}

	if decodeErr != nil {
		return nil, newUploadError(KindMalformed, status,
			fmt.Sprintf("Invalid response from invoice processing service: %v", decodeErr), decodeErr)
	}
	if !body.Success {
		msg := body.Message
		if msg == "" {
			msg = "Processing failed"
		}
		return nil, newUploadError(KindService, status, msg, nil)
	}
	if body.Data == nil {
		return nil, newUploadError(KindMalformed, status, "Invalid response from invoice processing service: missing data", nil)
	}

	return &models.ExtractionOutcome{
		Data:     *body.Data,
		FileHash: body.FileHash,
	}, nil
}

// detailMessage returns detail when the service sent it as a string.
func detailMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
