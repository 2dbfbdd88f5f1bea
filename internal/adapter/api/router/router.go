package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fitlink/internal/adapter/api/handler"
	"fitlink/internal/adapter/api/middleware"
)

// Setup wires every route group onto the echo instance.
func Setup(
	e *echo.Echo,
	conversationHandler *handler.ConversationHandler,
	wsHandler *handler.WebSocketHandler,
	healthHandler *handler.HealthHandler,
	authMiddleware *middleware.AuthMiddleware,
) {
	e.GET("/health", healthHandler.CheckHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	SetupConversationRouter(e, conversationHandler, authMiddleware)
	SetupWebSocketRouter(e, wsHandler)
}
