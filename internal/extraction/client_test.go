package extraction

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phyntra/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func invoiceFile() models.UploadFile {
	return models.UploadFile{
		Name:        "invoice.pdf",
		ContentType: "application/pdf",
		Content:     []byte("%PDF-1.4 test"),
	}
}

func TestClient_SubmitSuccess(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/process-invoice", r.URL.Path)

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "invoice.pdf", header.Filename)
		assert.Equal(t, "application/pdf", header.Header.Get("Content-Type"))
		assert.Equal(t, "%PDF-1.4 test", string(data))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":{"Invoice_Number":"INV-7","Vendor_Name":"Acme",
			"Items":[{"Items":"Widget","Qty":3,"Rate":"50"}]},"file_hash":"abc123"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL + "/api")
	outcome, err := client.Submit(context.Background(), invoiceFile())

	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, "abc123", outcome.FileHash)
	assert.Equal(t, "INV-7", outcome.Data.InvoiceNumber.String())
	assert.Equal(t, "Acme", outcome.Data.VendorName.String())
	require.Len(t, outcome.Data.Items, 1)
	assert.Equal(t, "Widget", outcome.Data.Items[0].Description.String())
	assert.Equal(t, "3", outcome.Data.Items[0].Qty.String())
	assert.Equal(t, "50", outcome.Data.Items[0].Rate.String())
}

func TestClient_SubmitAcceptsNonStringFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":{"Invoice_Number":12345,"Invoice_Date":null,"Buyer_Name":false,
			"Items":[{"Items":7,"Qty":"2","Rate":"50.00"}]},"file_hash":"h1"}`))
	}))
	defer server.Close()

	outcome, err := NewClient(server.URL).Submit(context.Background(), invoiceFile())

	require.NoError(t, err)
	assert.Equal(t, models.Text("12345"), outcome.Data.InvoiceNumber)
	assert.Empty(t, outcome.Data.InvoiceDate)
	assert.Empty(t, outcome.Data.BuyerName)
	require.Len(t, outcome.Data.Items, 1)
	assert.Equal(t, models.Text("7"), outcome.Data.Items[0].Description)
	assert.Equal(t, "50.00", outcome.Data.Items[0].Rate.String())
}

func TestClient_SubmitFailures(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantKind    Kind
		wantMessage string
	}{
		{
			name:        "detail on non-2xx",
			status:      http.StatusBadRequest,
			body:        `{"detail":"Could not read document"}`,
			wantKind:    KindService,
			wantMessage: "Could not read document",
		},
		{
			name:        "non-2xx without detail",
			status:      http.StatusInternalServerError,
			body:        `{}`,
			wantKind:    KindService,
			wantMessage: "HTTP error! status: 500",
		},
		{
			name:        "non-2xx with non-JSON body",
			status:      http.StatusBadGateway,
			body:        `<html>bad gateway</html>`,
			wantKind:    KindService,
			wantMessage: "HTTP error! status: 502",
		},
		{
			name:        "success false with message",
			status:      http.StatusOK,
			body:        `{"success":false,"message":"Processing failed"}`,
			wantKind:    KindService,
			wantMessage: "Processing failed",
		},
		{
			name:        "success false without message",
			status:      http.StatusOK,
			body:        `{"success":false}`,
			wantKind:    KindService,
			wantMessage: "Processing failed",
		},
		{
			name:     "malformed body",
			status:   http.StatusOK,
			body:     `{"success":tru`,
			wantKind: KindMalformed,
		},
		{
			name:     "success without data",
			status:   http.StatusOK,
			body:     `{"success":true}`,
			wantKind: KindMalformed,
		},
		{
			name:        "rate limit phrase",
			status:      http.StatusServiceUnavailable,
			body:        `{"detail":"Rate limit exceeded for model"}`,
			wantKind:    KindRateLimit,
			wantMessage: "Rate limit exceeded for model",
		},
		{
			name:        "api key phrase",
			status:      http.StatusInternalServerError,
			body:        `{"detail":"OpenAI API key missing"}`,
			wantKind:    KindAPIKey,
			wantMessage: "OpenAI API key missing",
		},
		{
			name:     "413 status",
			status:   http.StatusRequestEntityTooLarge,
			body:     `{"detail":"too big"}`,
			wantKind: KindFileTooLarge,
		},
		{
			name:        "unsupported type phrase",
			status:      http.StatusBadRequest,
			body:        `{"detail":"File type not supported: .gif"}`,
			wantKind:    KindUnsupportedType,
			wantMessage: "File type not supported: .gif",
		},
		{
			name:        "detail not a string",
			status:      http.StatusUnprocessableEntity,
			body:        `{"detail":[{"loc":["file"],"msg":"field required"}]}`,
			wantKind:    KindService,
			wantMessage: "HTTP error! status: 422",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewClient(server.URL).Submit(context.Background(), invoiceFile())
			require.Error(t, err)

			var uerr *UploadError
			require.True(t, errors.As(err, &uerr), "expected *UploadError, got %T", err)
			assert.Equal(t, tt.wantKind, uerr.Kind)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, uerr.Message)
			}
			assert.NotEmpty(t, uerr.Error())
		})
	}
}

func TestClient_SubmitTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewClient(url).Submit(context.Background(), invoiceFile())

	var uerr *UploadError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, KindTransport, uerr.Kind)
	assert.Equal(t, transportFailureMessage, uerr.Message)
	assert.Zero(t, uerr.StatusCode)
	assert.NotNil(t, errors.Unwrap(uerr))
}

func TestClient_SubmitTimeoutDoesNotRetry(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		<-release
	}))
	defer server.Close()
	defer close(release)

	_, err := NewClient(server.URL, WithTimeout(50*time.Millisecond)).Submit(context.Background(), invoiceFile())

	var uerr *UploadError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, KindTransport, uerr.Kind)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindRateLimit, classify(KindService, http.StatusTooManyRequests, ""))
	assert.Equal(t, KindUnsupportedType, classify(KindService, http.StatusUnsupportedMediaType, ""))
	assert.Equal(t, KindAPIKey, classify(KindTransport, 0, "bad API key and Rate limit"))
	assert.Equal(t, KindTransport, classify(KindTransport, 0, "connection refused"))
}
