package websocket

import (
	"context"
	"encoding/json"
	"time"

	"fitlink/internal/domain/entity"
	"fitlink/internal/infrastructure/delivery"
	"fitlink/internal/usecase"
	"fitlink/pkg/logger"
)

// WebSocket event types
const (
	EventTypePing                 = "ping"
	EventTypePong                 = "pong"
	EventTypeJoinConversation     = "join_conversation"
	EventTypeLeaveConversation    = "leave_conversation"
	EventTypeMarkRead             = "mark_read"
	EventTypeConversationSnapshot = "conversation_snapshot"
	EventTypeConversationPreview  = "conversation_preview"
	EventTypeError                = "error"
)

type Event struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Data           interface{} `json:"data,omitempty"`
	Timestamp      string      `json:"timestamp"`
}

// SnapshotData carries the authoritative current state of a conversation.
// Every push is the full ordered list, never a diff.
type SnapshotData struct {
	Messages    []*entity.Message `json:"messages"`
	UnreadCount int               `json:"unread_count"`
}

type PreviewData struct {
	LastMessage   string `json:"last_message"`
	LastMessageAt string `json:"last_message_at"`
	SenderID      string `json:"sender_id"`
	SenderName    string `json:"sender_name"`
	MediaType     string `json:"media_type"`
}

// EventHandler processes incoming WebSocket events and wires room
// subscriptions to the live delivery channel.
type EventHandler struct {
	manager   *Manager
	messaging *usecase.MessagingUseCase
	channel   *delivery.Channel
}

func NewEventHandler(manager *Manager, messaging *usecase.MessagingUseCase, channel *delivery.Channel) *EventHandler {
	return &EventHandler{
		manager:   manager,
		messaging: messaging,
		channel:   channel,
	}
}

func (h *EventHandler) HandleClientMessage(client *Client, payload []byte) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		logger.Warn("WebSocket: failed to unmarshal event from client %s: %v", client.UserID, err)
		h.sendError(client, "Invalid event format")
		return
	}

	switch event.Type {
	case EventTypePing:
		h.handlePing(client)

	case EventTypeJoinConversation:
		h.handleJoin(client, event.ConversationID)

	case EventTypeLeaveConversation:
		h.handleLeave(client, event.ConversationID)

	case EventTypeMarkRead:
		h.handleMarkRead(client, event.ConversationID)

	default:
		logger.Warn("WebSocket: unknown event type '%s' from client %s", event.Type, client.UserID)
		h.sendError(client, "Unknown event type")
	}
}

func (h *EventHandler) handlePing(client *Client) {
	h.send(client, Event{
		Type:      EventTypePong,
		Data:      map[string]string{"status": "alive"},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleJoin subscribes the client to the conversation's live channel. The
// first delivery is immediate and carries the full current list; each later
// commit triggers a fresh snapshot. Observing a snapshot also runs the
// read-receipt tracker for the viewer.
func (h *EventHandler) handleJoin(client *Client, conversationID string) {
	if conversationID == "" {
		h.sendError(client, "Missing conversation_id")
		return
	}

	if _, err := h.messaging.GetConversation(context.Background(), client.UserID, conversationID); err != nil {
		logger.Warn("WebSocket: join rejected for %s on %s: %v", client.UserID, conversationID, err)
		h.sendError(client, "Cannot join conversation")
		return
	}

	userID := client.UserID
	cancel := h.channel.Subscribe(conversationID, func(messages []*entity.Message) {
		unread := 0
		for _, message := range messages {
			if !message.ReadByUser(userID) {
				unread++
			}
		}

		// The count shown is the one computed before the merge below
		// confirms; the next snapshot reflects the merge.
		h.send(client, Event{
			Type:           EventTypeConversationSnapshot,
			ConversationID: conversationID,
			Data: SnapshotData{
				Messages:    messages,
				UnreadCount: unread,
			},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})

		if unread > 0 {
			go h.markRead(userID, conversationID)
		}
	})

	if !client.addSubscription(conversationID, cancel) {
		// Already joined, or the client disconnected during the handshake;
		// either way the new subscription is released.
		cancel()
		return
	}

	logger.Info("WebSocket: client %s joined conversation %s", client.UserID, conversationID)
}

func (h *EventHandler) handleLeave(client *Client, conversationID string) {
	if conversationID == "" {
		h.sendError(client, "Missing conversation_id")
		return
	}

	client.cancelSubscription(conversationID)
	logger.Info("WebSocket: client %s left conversation %s", client.UserID, conversationID)
}

func (h *EventHandler) handleMarkRead(client *Client, conversationID string) {
	if conversationID == "" {
		h.sendError(client, "Missing conversation_id")
		return
	}

	go h.markRead(client.UserID, conversationID)
}

// markRead is best-effort: a failed merge leaves unread counts transiently
// stale and self-corrects on the next snapshot.
func (h *EventHandler) markRead(userID, conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := h.messaging.MarkConversationRead(ctx, userID, conversationID); err != nil {
		logger.Warn("WebSocket: receipt merge failed for %s on %s: %v", userID, conversationID, err)
	}
}

func (h *EventHandler) send(client *Client, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Error("WebSocket: failed to marshal event for client %s: %v", client.UserID, err)
		return
	}

	if !client.trySend(payload) {
		logger.Warn("WebSocket: dropping event for client %s", client.UserID)
	}
}

func (h *EventHandler) sendError(client *Client, errorMsg string) {
	h.send(client, Event{
		Type:      EventTypeError,
		Data:      map[string]string{"error": errorMsg},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
