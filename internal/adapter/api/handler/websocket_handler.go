package handler

import (
	"net/http"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"fitlink/internal/adapter/api/middleware"
	ws "fitlink/internal/infrastructure/websocket"
	"fitlink/pkg/errors"
	"fitlink/pkg/logger"
)

type WebSocketHandler struct {
	wsManager      *ws.Manager
	eventHandler   *ws.EventHandler
	authMiddleware *middleware.AuthMiddleware
}

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // restrict to known origins in production
	},
}

func NewWebSocketHandler(wsManager *ws.Manager, eventHandler *ws.EventHandler, authMiddleware *middleware.AuthMiddleware) *WebSocketHandler {
	return &WebSocketHandler{
		wsManager:      wsManager,
		eventHandler:   eventHandler,
		authMiddleware: authMiddleware,
	}
}

// HandleWebSocket authenticates via the "token" query parameter, since
// browsers cannot set headers on WebSocket handshakes, then upgrades the
// connection.
func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return errors.Unauthorized("Authentication token required", nil)
	}

	userID, err := h.authMiddleware.GetUIDFromToken(c.Request().Context(), token)
	if err != nil {
		return errors.Unauthorized("Invalid or expired token", err)
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("Failed to upgrade connection for %s: %v", userID, err)
		return errors.Internal("Failed to upgrade connection", err)
	}

	client := ws.NewClient(userID, conn)
	h.wsManager.Register <- client

	go client.ReadPump(h.eventHandler)
	go client.WritePump()

	return nil
}
