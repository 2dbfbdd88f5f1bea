package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fitlink/internal/domain/entity"
	"fitlink/internal/infrastructure/metrics"
	"fitlink/pkg/logger"
)

// Client represents one connected viewer.
type Client struct {
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	mu            sync.Mutex
	closed        bool
	subscriptions map[string]func() // conversationID -> delivery cancel
}

func NewClient(userID string, conn *websocket.Conn) *Client {
	return &Client{
		UserID:        userID,
		Conn:          conn,
		Send:          make(chan []byte, 256),
		subscriptions: make(map[string]func()),
	}
}

func (c *Client) addSubscription(conversationID string, cancel func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if _, ok := c.subscriptions[conversationID]; ok {
		return false
	}
	c.subscriptions[conversationID] = cancel
	return true
}

func (c *Client) cancelSubscription(conversationID string) {
	c.mu.Lock()
	cancel, ok := c.subscriptions[conversationID]
	delete(c.subscriptions, conversationID)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

func (c *Client) cancelAll() {
	c.mu.Lock()
	cancels := make([]func(), 0, len(c.subscriptions))
	for _, cancel := range c.subscriptions {
		cancels = append(cancels, cancel)
	}
	c.subscriptions = make(map[string]func())
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// trySend queues a payload unless the client is closed or its queue is full.
// The closed flag and the channel close flip under the same mutex, so a
// delivery callback racing disconnection drops the payload instead of sending
// on a closed channel.
func (c *Client) trySend(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- payload:
		return true
	default:
		return false
	}
}

// close marks the client dead and closes its queue exactly once. Callers
// cancel the client's subscriptions first, so any delivery callback still in
// flight finds the closed flag set when it tries to send.
func (c *Client) close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
	c.mu.Unlock()
}

// Manager manages all active WebSocket connections.
type Manager struct {
	clients    map[string]*Client
	Register   chan *Client
	Unregister chan *Client
	mutex      sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		clients:    make(map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// Start runs the manager's main loop in a goroutine.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case client := <-m.Register:
				m.mutex.Lock()
				if old, ok := m.clients[client.UserID]; ok {
					// Reconnect: the stale connection's subscriptions are
					// released before its queue closes; the new connection
					// joins rooms afresh and receives full snapshots.
					old.cancelAll()
					old.close()
				} else {
					metrics.ConnectedClients.Inc()
				}
				m.clients[client.UserID] = client
				m.mutex.Unlock()
				logger.Info("Client registered: %s", client.UserID)

			case client := <-m.Unregister:
				m.mutex.Lock()
				if current, ok := m.clients[client.UserID]; ok && current == client {
					delete(m.clients, client.UserID)
					metrics.ConnectedClients.Dec()
				}
				m.mutex.Unlock()
				// Subscriptions go first: once every delivery cancel has run,
				// a late callback hits the closed flag, not a closed channel.
				client.cancelAll()
				client.close()
				logger.Info("Client unregistered: %s", client.UserID)

			case <-ctx.Done():
				return
			}
		}
	}()
}

// SendToUser queues a message for a specific user, dropping it if the user is
// gone or their outbound queue is full.
func (m *Manager) SendToUser(userID string, message []byte) {
	m.mutex.RLock()
	client, ok := m.clients[userID]
	m.mutex.RUnlock()

	if !ok {
		return
	}

	if !client.trySend(message) {
		logger.Warn("Dropping message for client %s", userID)
	}
}

// NotifyPreview pushes a conversation-list preview to every connected
// participant except the sender, so list pages update without a room
// subscription.
func (m *Manager) NotifyPreview(conversation *entity.Conversation, message *entity.Message) {
	event := Event{
		Type:           EventTypeConversationPreview,
		ConversationID: conversation.ID,
		Data: PreviewData{
			LastMessage:   conversation.LastMessage,
			LastMessageAt: message.Timestamp.Format(time.RFC3339Nano),
			SenderID:      message.Sender.ID,
			SenderName:    message.Sender.DisplayName,
			MediaType:     message.MediaType,
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		logger.Error("Failed to marshal preview event: %v", err)
		return
	}

	for _, participantID := range conversation.ParticipantIDs {
		if participantID != message.Sender.ID {
			m.SendToUser(participantID, payload)
		}
	}
}

// ReadPump reads events from the WebSocket connection.
func (c *Client) ReadPump(h *EventHandler) {
	defer func() {
		h.manager.Unregister <- c
		c.Conn.Close()
	}()

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("WebSocket read error for %s: %v", c.UserID, err)
			}
			break
		}

		h.HandleClientMessage(c, message)
	}
}

// WritePump sends queued messages to the WebSocket connection.
func (c *Client) WritePump() {
	defer c.Conn.Close()

	for {
		message, ok := <-c.Send
		if !ok {
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}

		if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logger.Warn("WebSocket write error for %s: %v", c.UserID, err)
			return
		}
	}
}
