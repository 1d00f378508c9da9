// handlers_session.go - Conversation session handlers
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/phyntra/backend/internal/models"
	"github.com/phyntra/backend/internal/session"
	"github.com/vmihailenco/msgpack/v5"
)

const mimeMsgpack = "application/msgpack"

// sessionResponse is the state snapshot of one session.
type sessionResponse struct {
	ID           string           `json:"id"`
	Processing   bool             `json:"processing"`
	PendingInput string           `json:"pendingInput"`
	Current      int              `json:"current,omitempty"`
	Total        int              `json:"total,omitempty"`
	Messages     []models.Message `json:"messages"`
}

func newSessionResponse(sess *session.Session) sessionResponse {
	state := sess.Conversation.State()
	return sessionResponse{
		ID:           sess.ID,
		Processing:   state.Processing,
		PendingInput: state.PendingInput,
		Current:      state.Current,
		Total:        state.Total,
		Messages:     state.Messages,
	}
}

type sendMessageRequest struct {
	Text string `json:"text" validate:"max=10000"`
}

type setInputRequest struct {
	Text string `json:"text" validate:"max=10000"`
}

// HandleCreateSession starts a conversation seeded with the welcome message.
func (h *Handler) HandleCreateSession(c echo.Context) error {
	sess, err := h.sessions.StartSession()
	if err != nil {
		if errors.Is(err, session.ErrTooManySessions) {
			return NewServiceUnavailableError(err.Error())
		}
		return NewInternalError("failed to start session", err)
	}
	return c.JSON(http.StatusCreated, newSessionResponse(sess))
}

// HandleGetSession returns the session state snapshot.
func (h *Handler) HandleGetSession(c echo.Context) error {
	sess, err := h.lookupSession(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newSessionResponse(sess))
}

// HandleEndSession ends a session and discards its conversation.
func (h *Handler) HandleEndSession(c echo.Context) error {
	id := c.Param("id")
	if !h.sessions.EndSession(id) {
		return NewNotFoundError("session", id)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleSetInput stores the text the user is composing.
func (h *Handler) HandleSetInput(c echo.Context) error {
	sess, err := h.lookupSession(c)
	if err != nil {
		return err
	}
	var req setInputRequest
	if err := h.bindAndValidate(c, &req); err != nil {
		return err
	}
	sess.Conversation.SetPendingInput(req.Text)
	return c.NoContent(http.StatusNoContent)
}

// HandleSendMessage appends a user text message. Empty or whitespace-only
// text is answered with {"accepted":false} and leaves the timeline as is.
func (h *Handler) HandleSendMessage(c echo.Context) error {
	sess, err := h.lookupSession(c)
	if err != nil {
		return err
	}
	var req sendMessageRequest
	if err := h.bindAndValidate(c, &req); err != nil {
		return err
	}

	if !sess.Conversation.SendTextMessage(req.Text) {
		return c.JSON(http.StatusOK, map[string]bool{"accepted": false})
	}
	return c.JSON(http.StatusAccepted, map[string]bool{"accepted": true})
}

// HandleGetMessages returns the timeline, optionally only the messages
// after index ?since=N. Clients that accept application/msgpack get the
// compact encoding.
func (h *Handler) HandleGetMessages(c echo.Context) error {
	sess, err := h.lookupSession(c)
	if err != nil {
		return err
	}

	since := 0
	if raw := c.QueryParam("since"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return NewValidationError("since")
		}
		since = n
	}
	messages := sess.Conversation.MessagesSince(since)

	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), mimeMsgpack) {
		data, err := msgpack.Marshal(messages)
		if err != nil {
			return NewInternalError("failed to encode msgpack", err)
		}
		return c.Blob(http.StatusOK, mimeMsgpack, data)
	}
	return c.JSON(http.StatusOK, messages)
}
