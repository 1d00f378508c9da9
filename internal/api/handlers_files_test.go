package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/phyntra/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleFiles(t *testing.T) {
	hs := newHarness(t, okResponder)
	id := hs.createSession(t).ID
	other := hs.createSession(t).ID

	body, contentType := multipartBody(t, "file",
		formFile{name: "invoice.pdf", content: pdfContent},
		formFile{name: "scan.png", content: pngContent},
	)
	rec := hs.do(t, http.MethodPost, "/api/sessions/"+id+"/uploads", body, contentType)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	hs.uploads.Wait()

	rec = hs.do(t, http.MethodGet, "/api/sessions/"+id+"/files", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var files []models.FileInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &files))
	require.Len(t, files, 2)
	byName := map[string]models.FileInfo{}
	for _, f := range files {
		byName[f.Name] = f
	}
	pdf := byName["invoice.pdf"]
	require.NotEmpty(t, pdf.ID)
	assert.Equal(t, "processed", pdf.Status)

	tests := []struct {
		name        string
		path        string
		wantStatus  int
		wantType    string
		wantContent []byte
	}{
		{name: "list with limit", path: "/api/sessions/" + id + "/files?limit=1", wantStatus: http.StatusOK},
		{name: "bad limit", path: "/api/sessions/" + id + "/files?limit=x", wantStatus: http.StatusBadRequest},
		{name: "metadata", path: "/api/sessions/" + id + "/files/" + pdf.ID, wantStatus: http.StatusOK},
		{name: "content", path: "/api/sessions/" + id + "/files/" + pdf.ID + "/content", wantStatus: http.StatusOK,
			wantType: "application/pdf", wantContent: pdfContent},
		{name: "unknown file", path: "/api/sessions/" + id + "/files/nope", wantStatus: http.StatusNotFound},
		{name: "file of another session", path: "/api/sessions/" + other + "/files/" + pdf.ID + "/content", wantStatus: http.StatusNotFound},
		{name: "unknown session", path: "/api/sessions/missing/files", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := hs.do(t, http.MethodGet, tt.path, nil, "")
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantContent != nil {
				assert.Equal(t, tt.wantType, rec.Header().Get("Content-Type"))
				assert.Equal(t, tt.wantContent, rec.Body.Bytes())
			}
		})
	}

	rec = hs.do(t, http.MethodGet, "/api/sessions/"+other+"/files", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	// files are unreachable once the session ends
	require.Equal(t, http.StatusNoContent, hs.do(t, http.MethodDelete, "/api/sessions/"+id, nil, "").Code)
	assert.Equal(t, http.StatusNotFound, hs.do(t, http.MethodGet, "/api/sessions/"+id+"/files/"+pdf.ID, nil, "").Code)
}
