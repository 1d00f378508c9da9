package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/phyntra/backend/internal/models"
	"github.com/rs/zerolog"
)

// WebSocket frame types
const (
	// Client -> Server messages
	MsgTypePing = "ping"

	// Server -> Client messages
	MsgTypeSnapshot = "snapshot"
	MsgTypeMessage  = "message"
	MsgTypePong     = "pong"
	MsgTypeEnded    = "ended"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// WSFrame is one server-to-client frame of the timeline stream.
type WSFrame struct {
	Type       string           `json:"type"`
	Messages   []models.Message `json:"messages,omitempty"`
	Message    *models.Message  `json:"message,omitempty"`
	Processing bool             `json:"processing"`
	Timestamp  int64            `json:"timestamp"`
}

type wsClientMessage struct {
	Type string `json:"type"`
}

// WebSocketHandler streams conversation timelines to browsers.
type WebSocketHandler struct {
	handler        *Handler
	upgrader       websocket.Upgrader
	maxMessageSize int64
	pingInterval   time.Duration
	log            zerolog.Logger
}

// NewWebSocketHandler creates a new timeline stream handler. maxMessageSize
// bounds client frames in bytes.
func NewWebSocketHandler(h *Handler, maxMessageSize int64) *WebSocketHandler {
	if maxMessageSize <= 0 {
		maxMessageSize = 64 * 1024
	}
	return &WebSocketHandler{
		handler: h,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from dev server
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		maxMessageSize: maxMessageSize,
		pingInterval:   wsPingInterval,
		log:            h.log.With().Str("component", "websocket").Logger(),
	}
}

// HandleTimeline sends the current timeline as a snapshot frame, then one
// frame per appended message until the client disconnects or the session
// ends.
func (wsh *WebSocketHandler) HandleTimeline(c echo.Context) error {
	sess, err := wsh.handler.lookupSession(c)
	if err != nil {
		return err
	}

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	conv := sess.Conversation
	log := wsh.log.With().Str("session_id", sess.ID).Logger()
	log.Debug().Msg("timeline client connected")

	// Subscribe before the snapshot so no append can slip between them.
	updates, cancel := conv.Subscribe()
	defer cancel()

	state := conv.State()
	sent := len(state.Messages)
	if err := wsh.send(ws, WSFrame{Type: MsgTypeSnapshot, Messages: state.Messages, Processing: state.Processing}); err != nil {
		return nil
	}

	pings := make(chan struct{}, 1)
	closed := make(chan struct{})
	go wsh.readLoop(ws, pings, closed, log)

	ticker := time.NewTicker(wsh.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			log.Debug().Msg("timeline client disconnected")
			return nil

		case <-pings:
			if err := wsh.send(ws, WSFrame{Type: MsgTypePong}); err != nil {
				return nil
			}

		case <-updates:
			for _, msg := range conv.MessagesSince(sent) {
				sent++
				if err := wsh.send(ws, WSFrame{Type: MsgTypeMessage, Message: &msg, Processing: conv.Processing()}); err != nil {
					return nil
				}
			}

		case <-ticker.C:
			if !wsh.handler.sessions.TouchSession(sess.ID) {
				_ = wsh.send(ws, WSFrame{Type: MsgTypeEnded})
				return nil
			}
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}

// readLoop owns reads on ws. It forwards ping requests and closes closed
// when the connection goes away.
func (wsh *WebSocketHandler) readLoop(ws *websocket.Conn, pings chan<- struct{}, closed chan<- struct{}, log zerolog.Logger) {
	defer close(closed)
	ws.SetReadLimit(wsh.maxMessageSize)
	for {
		var msg wsClientMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("timeline connection error")
			}
			return
		}
		if msg.Type == MsgTypePing {
			select {
			case pings <- struct{}{}:
			default:
			}
		}
	}
}

func (wsh *WebSocketHandler) send(ws *websocket.Conn, frame WSFrame) error {
	frame.Timestamp = time.Now().UnixMilli()
	_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := ws.WriteJSON(frame); err != nil {
		wsh.log.Debug().Err(err).Msg("failed to send frame")
		return err
	}
	return nil
}
