package router

import (
	"github.com/labstack/echo/v4"

	"fitlink/internal/adapter/api/handler"
	"fitlink/internal/adapter/api/middleware"
)

// SetupConversationRouter mounts all conversation and messaging routes.
func SetupConversationRouter(e *echo.Echo, conversationHandler *handler.ConversationHandler, authMiddleware *middleware.AuthMiddleware) {
	group := e.Group("/v1/conversations")
	group.Use(authMiddleware.Authenticate)

	group.POST("/direct", conversationHandler.ResolveDirect)       // POST /v1/conversations/direct
	group.POST("/challenge", conversationHandler.ResolveChallenge) // POST /v1/conversations/challenge
	group.GET("", conversationHandler.ListConversations)           // GET /v1/conversations
	group.GET("/:id", conversationHandler.GetConversation)         // GET /v1/conversations/:id
	group.PUT("/:id/read", conversationHandler.MarkRead)           // PUT /v1/conversations/:id/read
	group.GET("/:id/unread", conversationHandler.UnreadCount)      // GET /v1/conversations/:id/unread

	group.POST("/:id/messages", conversationHandler.SendMessage) // POST /v1/conversations/:id/messages
	group.GET("/:id/messages", conversationHandler.ListMessages) // GET /v1/conversations/:id/messages
}
