package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/phyntra/backend/internal/models"
	"github.com/shopspring/decimal"
)

// Responder decides the reply of the fake extraction service for one
// uploaded file. body is encoded as JSON unless it is a string, which is
// sent verbatim.
type Responder func(fileName string, content []byte) (status int, body interface{})

// ReceivedFile records one request seen by ExtractionServer.
type ReceivedFile struct {
	Name        string
	ContentType string
	Content     []byte
}

// ExtractionServer is an httptest stand-in for the invoice extraction
// service. Its URL is a valid client base URL.
type ExtractionServer struct {
	*httptest.Server

	mu       sync.Mutex
	respond  Responder
	received []ReceivedFile
}

// NewExtractionServer starts a fake service that answers with respond.
// It is closed when the test ends.
func NewExtractionServer(t testing.TB, respond Responder) *ExtractionServer {
	t.Helper()
	s := &ExtractionServer{respond: respond}

	mux := http.NewServeMux()
	mux.HandleFunc("/process-invoice", s.handleProcessInvoice)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *ExtractionServer) handleProcessInvoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"detail":"file field missing"}`)
		return
	}
	defer file.Close()
	content, _ := io.ReadAll(file)

	s.mu.Lock()
	s.received = append(s.received, ReceivedFile{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Content:     content,
	})
	respond := s.respond
	s.mu.Unlock()

	status, body := respond(header.Filename, content)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if raw, ok := body.(string); ok {
		_, _ = io.WriteString(w, raw)
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

// Received returns the files uploaded so far, in arrival order.
func (s *ExtractionServer) Received() []ReceivedFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ReceivedFile, len(s.received))
	copy(out, s.received)
	return out
}

// SuccessBody is the service reply for a successful extraction.
func SuccessBody(inv models.InvoiceExtraction, fileHash string) map[string]interface{} {
	return map[string]interface{}{
		"success":   true,
		"data":      inv,
		"file_hash": fileHash,
	}
}

// FailureBody is the service reply when extraction did not succeed.
func FailureBody(message string) map[string]interface{} {
	return map[string]interface{}{
		"success": false,
		"message": message,
	}
}

// DetailBody is the error body the service sends with non-2xx statuses.
func DetailBody(detail string) map[string]interface{} {
	return map[string]interface{}{"detail": detail}
}

// SampleInvoice returns a small extraction result.
func SampleInvoice() models.InvoiceExtraction {
	return models.InvoiceExtraction{
		InvoiceNumber: "INV-001",
		InvoiceDate:   "2024-01-15",
		VendorName:    "Acme Supplies",
		VendorGSTIN:   "29ABCDE1234F1Z5",
		BuyerName:     "Globex Ltd",
		Items: []models.LineItem{
			{Description: "Widget", Qty: models.NewAmount(decimal.NewFromInt(3)), Rate: models.NewAmount(decimal.NewFromInt(50))},
		},
	}
}
