package api

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/phyntra/backend/internal/session"
	"github.com/phyntra/backend/internal/storage"
	"github.com/phyntra/backend/internal/upload"
	"github.com/rs/zerolog"
)

// DefaultMaxFileSize bounds a single uploaded file when no limit is set.
const DefaultMaxFileSize = 20 << 20

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store       storage.Store
	Sessions    *session.Manager
	Uploads     *upload.Manager
	Logger      zerolog.Logger
	MaxFileSize int64
	Version     string
}

// Handler handles API requests.
type Handler struct {
	store       storage.Store
	sessions    *session.Manager
	uploads     *upload.Manager
	log         zerolog.Logger
	validate    *validator.Validate
	maxFileSize int64
	version     string
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies) *Handler {
	maxFileSize := deps.MaxFileSize
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	return &Handler{
		store:       deps.Store,
		sessions:    deps.Sessions,
		uploads:     deps.Uploads,
		log:         deps.Logger.With().Str("component", "api").Logger(),
		validate:    newValidator(),
		maxFileSize: maxFileSize,
		version:     deps.Version,
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// bindAndValidate decodes the JSON body into req and checks its tags.
func (h *Handler) bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return NewValidationError(verrs[0].Field())
		}
		return NewBadRequestError("invalid request", err)
	}
	return nil
}

// lookupSession resolves the :id path parameter and refreshes its
// last-access time.
func (h *Handler) lookupSession(c echo.Context) (*session.Session, error) {
	id := c.Param("id")
	if id == "" {
		return nil, NewValidationError("id")
	}
	sess, ok := h.sessions.GetSession(id)
	if !ok {
		return nil, NewNotFoundError("session", id)
	}
	return sess, nil
}

// HandleHealth returns server health status.
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"version":  h.version,
		"sessions": h.sessions.Len(),
	})
}
