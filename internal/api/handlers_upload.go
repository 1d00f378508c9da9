// handlers_upload.go - Invoice upload handlers
package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/labstack/echo/v4"
	"github.com/phyntra/backend/internal/models"
	"github.com/phyntra/backend/internal/upload"
)

// uploadFormField is the repeated multipart field carrying the files.
const uploadFormField = "file"

// sniffLen is how much of a file is inspected when its type is not declared.
const sniffLen = 3072

type uploadResponse struct {
	JobID string `json:"jobId"`
	Total int    `json:"total"`
}

// HandleUploadFiles stores the submitted files and starts a batch that
// uploads them one at a time into the session's conversation.
func (h *Handler) HandleUploadFiles(c echo.Context) error {
	sess, err := h.lookupSession(c)
	if err != nil {
		return err
	}

	if _, busy := h.uploads.ActiveJob(sess.ID); busy || sess.Conversation.Processing() {
		return NewConflictError(upload.ErrBusy.Error())
	}

	form, err := c.MultipartForm()
	if err != nil {
		return NewBadRequestError("invalid multipart form", err)
	}
	headers := form.File[uploadFormField]
	if len(headers) == 0 {
		return NewValidationError(uploadFormField)
	}

	files := make([]models.UploadFile, 0, len(headers))
	for _, fh := range headers {
		file, err := h.saveFormFile(sess.ID, fh)
		if err != nil {
			h.discard(files)
			return err
		}
		files = append(files, file)
	}

	job, err := h.uploads.StartJob(sess.ID, sess.Conversation, files)
	if err != nil {
		h.discard(files)
		switch {
		case errors.Is(err, upload.ErrBusy):
			return NewConflictError(err.Error())
		case errors.Is(err, upload.ErrNoFiles):
			return NewValidationError(uploadFormField)
		}
		return NewInternalError("failed to start upload", err)
	}

	h.log.Info().
		Str("session_id", sess.ID).
		Str("job_id", job.ID).
		Int("files", len(files)).
		Msg("upload batch started")

	return c.JSON(http.StatusAccepted, uploadResponse{JobID: job.ID, Total: job.Total})
}

// saveFormFile streams one multipart file into the store. The content is
// read back from the store when the batch reaches the file.
func (h *Handler) saveFormFile(sessionID string, fh *multipart.FileHeader) (models.UploadFile, error) {
	if fh.Size > h.maxFileSize {
		return models.UploadFile{}, NewTooLargeError(fh.Filename, h.maxFileSize)
	}

	src, err := fh.Open()
	if err != nil {
		return models.UploadFile{}, NewBadRequestError(fmt.Sprintf("failed to open %s", fh.Filename), err)
	}
	defer src.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(src, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return models.UploadFile{}, NewBadRequestError(fmt.Sprintf("failed to read %s", fh.Filename), err)
	}
	head = head[:n]
	contentType := detectContentType(fh.Header.Get(echo.HeaderContentType), head)

	body := io.LimitReader(io.MultiReader(bytes.NewReader(head), src), h.maxFileSize+1)
	info, err := h.store.Save(sessionID, fh.Filename, contentType, body)
	if err != nil {
		return models.UploadFile{}, NewInternalError("failed to save file", err)
	}
	if info.Size > h.maxFileSize {
		h.discard([]models.UploadFile{{ID: info.ID}})
		return models.UploadFile{}, NewTooLargeError(fh.Filename, h.maxFileSize)
	}

	return models.UploadFile{
		ID:          info.ID,
		Name:        fh.Filename,
		ContentType: contentType,
		Size:        info.Size,
	}, nil
}

// discard removes files saved for a batch that never started.
func (h *Handler) discard(files []models.UploadFile) {
	for _, f := range files {
		if err := h.store.Delete(f.ID); err != nil {
			h.log.Warn().Err(err).Str("file_id", f.ID).Msg("failed to discard upload")
		}
	}
}

// detectContentType trusts the declared part type unless it is missing or
// generic, in which case the content is sniffed.
func detectContentType(declared string, data []byte) string {
	if declared != "" && declared != echo.MIMEOctetStream {
		return declared
	}
	return mimetype.Detect(data).String()
}

// HandleGetUploadJob returns the progress of an upload batch.
func (h *Handler) HandleGetUploadJob(c echo.Context) error {
	id := c.Param("jobId")
	job, ok := h.uploads.GetJob(id)
	if !ok {
		return NewNotFoundError("upload job", id)
	}
	return c.JSON(http.StatusOK, job)
}
