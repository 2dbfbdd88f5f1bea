package handler

import (
	"fmt"
	"io"
	"strings"

	"github.com/labstack/echo/v4"

	"fitlink/internal/usecase"
	"fitlink/pkg/errors"
	"fitlink/pkg/logger"
	"fitlink/pkg/response"
)

type ConversationHandler struct {
	messaging      *usecase.MessagingUseCase
	maxUploadBytes int64
}

func NewConversationHandler(messaging *usecase.MessagingUseCase, maxUploadBytes int64) *ConversationHandler {
	return &ConversationHandler{
		messaging:      messaging,
		maxUploadBytes: maxUploadBytes,
	}
}

type resolveDirectRequest struct {
	RecipientID string `json:"recipient_id" validate:"required"`
}

type resolveChallengeRequest struct {
	ChallengeID string `json:"challenge_id" validate:"required"`
}

type sendMessageRequest struct {
	Content    string `json:"content"`
	ContextRef string `json:"context_ref,omitempty"`
	ClientRef  string `json:"client_ref,omitempty"`
}

// ResolveDirect returns the conversation between the caller and the
// recipient, creating it on first contact.
func (h *ConversationHandler) ResolveDirect(c echo.Context) error {
	var req resolveDirectRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)

	conversation, err := h.messaging.ResolveDirectConversation(c.Request().Context(), userID, req.RecipientID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, conversation)
}

// ResolveChallenge returns the group conversation for a challenge, creating
// it and syncing its roster on demand.
func (h *ConversationHandler) ResolveChallenge(c echo.Context) error {
	var req resolveChallengeRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)

	conversation, err := h.messaging.ResolveChallengeConversation(c.Request().Context(), userID, req.ChallengeID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, conversation)
}

// ListConversations returns the caller's conversations with previews and
// unread counts, most recent activity first.
func (h *ConversationHandler) ListConversations(c echo.Context) error {
	userID := c.Get("uid").(string)

	previews, err := h.messaging.ListConversations(c.Request().Context(), userID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, previews)
}

// GetConversation returns a single conversation the caller participates in.
func (h *ConversationHandler) GetConversation(c echo.Context) error {
	conversationID := c.Param("id")
	userID := c.Get("uid").(string)

	conversation, err := h.messaging.GetConversation(c.Request().Context(), userID, conversationID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, conversation)
}

// ListMessages returns the full ordered history of a conversation.
func (h *ConversationHandler) ListMessages(c echo.Context) error {
	conversationID := c.Param("id")
	userID := c.Get("uid").(string)

	messages, err := h.messaging.ListMessages(c.Request().Context(), userID, conversationID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, messages)
}

// SendMessage accepts either a JSON body (text only) or a multipart form
// with an optional "media" file part.
func (h *ConversationHandler) SendMessage(c echo.Context) error {
	conversationID := c.Param("id")
	userID := c.Get("uid").(string)

	input := usecase.SendMessageInput{
		ConversationID: conversationID,
	}

	contentType := c.Request().Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		input.Content = c.FormValue("content")
		input.ContextRef = c.FormValue("context_ref")
		input.ClientRef = c.FormValue("client_ref")

		file, err := c.FormFile("media")
		if err == nil {
			if file.Size > h.maxUploadBytes {
				logger.Warn("Attachment too large from %s: %d bytes", userID, file.Size)
				return response.Error(c, errors.BadRequest(
					fmt.Sprintf("Attachment exceeds maximum allowed size (%dMB)", h.maxUploadBytes/(1024*1024)), nil))
			}

			src, err := file.Open()
			if err != nil {
				return response.Error(c, errors.BadRequest("Unreadable media file", err))
			}
			defer src.Close()

			input.Media = io.Reader(src)
			input.MediaType = file.Header.Get("Content-Type")
		}
	} else {
		var req sendMessageRequest
		if err := c.Bind(&req); err != nil {
			return response.Error(c, err)
		}

		input.Content = req.Content
		input.ContextRef = req.ContextRef
		input.ClientRef = req.ClientRef
	}

	message, err := h.messaging.SendMessage(c.Request().Context(), userID, input)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, message)
}

// MarkRead merges read receipts for every message the caller has not read
// yet. The returned count reflects the state before the merge.
func (h *ConversationHandler) MarkRead(c echo.Context) error {
	conversationID := c.Param("id")
	userID := c.Get("uid").(string)

	unreadBefore, err := h.messaging.MarkConversationRead(c.Request().Context(), userID, conversationID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]int{"marked_read": unreadBefore})
}

// UnreadCount returns how many messages the caller has not read.
func (h *ConversationHandler) UnreadCount(c echo.Context) error {
	conversationID := c.Param("id")
	userID := c.Get("uid").(string)

	count, err := h.messaging.UnreadCount(c.Request().Context(), userID, conversationID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]int{"unread_count": count})
}
