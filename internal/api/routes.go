// routes.go - Route registration helpers
package api

import (
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// MiddlewareConfig selects the optional middleware.
type MiddlewareConfig struct {
	EnableCORS     bool
	AllowOrigins   string // comma separated
	BodyLimit      string
	RequestLogging bool
	ShowDetails    bool
	Logger         zerolog.Logger
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, h *Handler, ws *WebSocketHandler) {
	// Health check and metrics
	e.GET("/api/health", h.HandleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Conversation sessions
	sessions := e.Group("/api/sessions")
	sessions.POST("", h.HandleCreateSession)
	sessions.GET("/:id", h.HandleGetSession)
	sessions.DELETE("/:id", h.HandleEndSession)
	sessions.PUT("/:id/input", h.HandleSetInput)
	sessions.GET("/:id/messages", h.HandleGetMessages)
	sessions.POST("/:id/messages", h.HandleSendMessage)
	sessions.POST("/:id/uploads", h.HandleUploadFiles)
	sessions.GET("/:id/files", h.HandleListFiles)
	sessions.GET("/:id/files/:fileId", h.HandleGetFile)
	sessions.GET("/:id/files/:fileId/content", h.HandleGetFileContent)
	sessions.GET("/:id/ws", ws.HandleTimeline)

	// Upload batches
	e.GET("/api/uploads/:jobId", h.HandleGetUploadJob)
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg MiddlewareConfig) {
	e.HTTPErrorHandler = NewErrorHandler(cfg.ShowDetails, cfg.Logger)

	e.Use(middleware.Recover())

	if cfg.RequestLogging {
		log := cfg.Logger
		e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			LogURI:      true,
			LogStatus:   true,
			LogLatency:  true,
			LogMethod:   true,
			LogError:    true,
			HandleError: true,
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				event := log.Info()
				if v.Error != nil {
					event = log.Warn().Err(v.Error)
				}
				event.
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Msg("request")
				return nil
			},
		}))
	}

	if cfg.EnableCORS {
		origins := []string{"*"}
		if cfg.AllowOrigins != "" {
			origins = strings.Split(cfg.AllowOrigins, ",")
			for i := range origins {
				origins[i] = strings.TrimSpace(origins[i])
			}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
		}))
	}

	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}
}
