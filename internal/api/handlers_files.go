// handlers_files.go - Stored upload handlers
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/phyntra/backend/internal/models"
	"github.com/phyntra/backend/internal/storage"
)

// HandleListFiles returns the files a session uploaded, newest first.
// An optional ?limit bounds the result.
func (h *Handler) HandleListFiles(c echo.Context) error {
	sess, err := h.lookupSession(c)
	if err != nil {
		return err
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return NewValidationError("limit")
		}
	}

	files, err := h.store.List(sess.ID, limit)
	if err != nil {
		return NewInternalError("failed to list files", err)
	}
	if files == nil {
		files = []*models.FileInfo{}
	}
	return c.JSON(http.StatusOK, files)
}

// HandleGetFile returns the metadata of one stored file.
func (h *Handler) HandleGetFile(c echo.Context) error {
	info, err := h.sessionFile(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, info)
}

// HandleGetFileContent returns the stored bytes of one file.
func (h *Handler) HandleGetFileContent(c echo.Context) error {
	info, err := h.sessionFile(c)
	if err != nil {
		return err
	}
	data, err := h.store.ReadFile(info.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return NewNotFoundError("file", info.ID)
	}
	if err != nil {
		return NewInternalError("failed to read file", err)
	}

	contentType := info.ContentType
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	return c.Blob(http.StatusOK, contentType, data)
}

// sessionFile resolves :fileId within the session named by :id. Files of
// other sessions are reported as not found.
func (h *Handler) sessionFile(c echo.Context) (*models.FileInfo, error) {
	sess, err := h.lookupSession(c)
	if err != nil {
		return nil, err
	}
	id := c.Param("fileId")
	info, err := h.store.Get(id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && info.SessionID != sess.ID) {
		return nil, NewNotFoundError("file", id)
	}
	if err != nil {
		return nil, NewInternalError("failed to load file", err)
	}
	return info, nil
}
