package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitlink/internal/adapter/api"
	"fitlink/internal/domain/entity"
	"fitlink/internal/usecase"
	apperrors "fitlink/pkg/errors"
)

type stubMessageRepo struct {
	mu       sync.Mutex
	messages map[string][]*entity.Message
	last     map[string]time.Time
}

func newStubMessageRepo() *stubMessageRepo {
	return &stubMessageRepo{
		messages: make(map[string][]*entity.Message),
		last:     make(map[string]time.Time),
	}
}

func (r *stubMessageRepo) Append(ctx context.Context, message *entity.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if !now.After(r.last[message.ConversationID]) {
		now = r.last[message.ConversationID].Add(time.Microsecond)
	}
	r.last[message.ConversationID] = now

	message.ID = uuid.New().String()
	message.Timestamp = now
	if message.ReadBy == nil {
		message.ReadBy = make(map[string]time.Time)
	}
	message.ReadBy[message.Sender.ID] = now

	r.messages[message.ConversationID] = append(r.messages[message.ConversationID], message)
	return nil
}

func (r *stubMessageRepo) ListOrdered(ctx context.Context, conversationID string) ([]*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*entity.Message(nil), r.messages[conversationID]...), nil
}

func (r *stubMessageRepo) MergeReadReceipts(ctx context.Context, conversationID string, messageIDs []string, readerID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wanted := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		wanted[id] = true
	}
	for _, message := range r.messages[conversationID] {
		if wanted[message.ID] && !message.ReadByUser(readerID) {
			message.ReadBy[readerID] = at
		}
	}
	return nil
}

type stubConversationRepo struct {
	mu            sync.Mutex
	conversations map[string]*entity.Conversation
}

func newStubConversationRepo() *stubConversationRepo {
	return &stubConversationRepo{conversations: make(map[string]*entity.Conversation)}
}

func (r *stubConversationRepo) Create(ctx context.Context, conversation *entity.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations[conversation.ID] = conversation
	return nil
}

func (r *stubConversationRepo) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conversation, ok := r.conversations[id]
	if !ok {
		return nil, apperrors.NotFound("Conversation", nil)
	}
	return conversation, nil
}

func (r *stubConversationRepo) ListByUserID(ctx context.Context, userID string) ([]*entity.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Conversation
	for _, conversation := range r.conversations {
		if conversation.HasParticipant(userID) {
			out = append(out, conversation)
		}
	}
	return out, nil
}

func (r *stubConversationRepo) UpdateSummary(ctx context.Context, conversationID, lastMessage string, lastMessageAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conversation, ok := r.conversations[conversationID]; ok && !conversation.LastMessageAt.After(lastMessageAt) {
		conversation.LastMessage = lastMessage
		conversation.LastMessageAt = lastMessageAt
	}
	return nil
}

func (r *stubConversationRepo) SetParticipants(ctx context.Context, conversationID string, participantIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conversation, ok := r.conversations[conversationID]; ok {
		conversation.ParticipantIDs = participantIDs
	}
	return nil
}

type stubUserRepo struct {
	users map[string]*entity.User
}

func (r *stubUserRepo) GetByID(ctx context.Context, id string) (*entity.User, error) {
	user, ok := r.users[id]
	if !ok {
		return nil, apperrors.NotFound("User", nil)
	}
	return user, nil
}

type stubChallengeRepo struct{}

func (r *stubChallengeRepo) GetByID(ctx context.Context, id string) (*entity.Challenge, error) {
	return nil, apperrors.NotFound("Challenge", nil)
}

type noopNotifier struct{}

func (noopNotifier) Dispatch(ctx context.Context, conversation *entity.Conversation, message *entity.Message) error {
	return nil
}

type noopPublisher struct{}

func (noopPublisher) Publish(conversationID string) {}

type noopPreviews struct{}

func (noopPreviews) NotifyPreview(conversation *entity.Conversation, message *entity.Message) {}

func newTestHandler(t *testing.T) (*ConversationHandler, *stubConversationRepo, *stubMessageRepo) {
	t.Helper()

	messageRepo := newStubMessageRepo()
	conversationRepo := newStubConversationRepo()
	userRepo := &stubUserRepo{users: map[string]*entity.User{
		"alice": {ID: "alice", Username: "alice", DisplayName: "Alice"},
		"bob":   {ID: "bob", Username: "bob", DisplayName: "Bob"},
	}}

	messaging := usecase.NewMessagingUseCase(
		messageRepo,
		conversationRepo,
		userRepo,
		&stubChallengeRepo{},
		nil,
		noopNotifier{},
		noopPublisher{},
		noopPreviews{},
	)

	return NewConversationHandler(messaging, 1024*1024), conversationRepo, messageRepo
}

func newTestContext(method, target, body, userID string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	e.Validator = api.NewValidator()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("uid", userID)
	return c, rec
}

func TestResolveDirectCreatesConversation(t *testing.T) {
	h, _, _ := newTestHandler(t)

	c, rec := newTestContext(http.MethodPost, "/v1/conversations/direct", `{"recipient_id":"bob"}`, "alice")

	require.NoError(t, h.ResolveDirect(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dm_alice_bob")
}

func TestResolveDirectRejectsSelf(t *testing.T) {
	h, _, _ := newTestHandler(t)

	c, rec := newTestContext(http.MethodPost, "/v1/conversations/direct", `{"recipient_id":"alice"}`, "alice")

	require.NoError(t, h.ResolveDirect(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessageAndListMessages(t *testing.T) {
	h, _, _ := newTestHandler(t)

	c, rec := newTestContext(http.MethodPost, "/v1/conversations/direct", `{"recipient_id":"bob"}`, "alice")
	require.NoError(t, h.ResolveDirect(c))
	require.Equal(t, http.StatusOK, rec.Code)

	c, rec = newTestContext(http.MethodPost, "/v1/conversations/dm_alice_bob/messages",
		`{"content":"hello there","client_ref":"tmp-1"}`, "alice")
	c.SetParamNames("id")
	c.SetParamValues("dm_alice_bob")

	require.NoError(t, h.SendMessage(c))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "hello there")
	assert.Contains(t, rec.Body.String(), `"client_ref":"tmp-1"`)

	c, rec = newTestContext(http.MethodGet, "/v1/conversations/dm_alice_bob/messages", "", "bob")
	c.SetParamNames("id")
	c.SetParamValues("dm_alice_bob")

	require.NoError(t, h.ListMessages(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hello there")
}

func TestSendMessageRejectsEmpty(t *testing.T) {
	h, _, _ := newTestHandler(t)

	c, rec := newTestContext(http.MethodPost, "/v1/conversations/direct", `{"recipient_id":"bob"}`, "alice")
	require.NoError(t, h.ResolveDirect(c))

	c, rec = newTestContext(http.MethodPost, "/v1/conversations/dm_alice_bob/messages",
		`{"content":""}`, "alice")
	c.SetParamNames("id")
	c.SetParamValues("dm_alice_bob")

	require.NoError(t, h.SendMessage(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "EMPTY_MESSAGE")
}

func TestSendMessageRejectsNonParticipant(t *testing.T) {
	h, convRepo, _ := newTestHandler(t)

	require.NoError(t, convRepo.Create(context.Background(), &entity.Conversation{
		ID:             "dm_alice_bob",
		Type:           entity.ConversationTypeDirect,
		ParticipantIDs: []string{"alice", "bob"},
	}))

	c, rec := newTestContext(http.MethodPost, "/v1/conversations/dm_alice_bob/messages",
		`{"content":"let me in"}`, "mallory")
	c.SetParamNames("id")
	c.SetParamValues("dm_alice_bob")

	require.NoError(t, h.SendMessage(c))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_A_PARTICIPANT")
}

func TestMarkReadReportsCountBeforeMerge(t *testing.T) {
	h, _, _ := newTestHandler(t)

	c, _ := newTestContext(http.MethodPost, "/v1/conversations/direct", `{"recipient_id":"bob"}`, "alice")
	require.NoError(t, h.ResolveDirect(c))

	for _, content := range []string{"one", "two", "three"} {
		c, rec := newTestContext(http.MethodPost, "/v1/conversations/dm_alice_bob/messages",
			`{"content":"`+content+`"}`, "alice")
		c.SetParamNames("id")
		c.SetParamValues("dm_alice_bob")
		require.NoError(t, h.SendMessage(c))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	c, rec := newTestContext(http.MethodPut, "/v1/conversations/dm_alice_bob/read", "", "bob")
	c.SetParamNames("id")
	c.SetParamValues("dm_alice_bob")

	require.NoError(t, h.MarkRead(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"marked_read":3`)

	// A second pass has nothing left to merge.
	c, rec = newTestContext(http.MethodPut, "/v1/conversations/dm_alice_bob/read", "", "bob")
	c.SetParamNames("id")
	c.SetParamValues("dm_alice_bob")

	require.NoError(t, h.MarkRead(c))
	assert.Contains(t, rec.Body.String(), `"marked_read":0`)
}

func TestUnreadCountExcludesOwnMessages(t *testing.T) {
	h, _, _ := newTestHandler(t)

	c, _ := newTestContext(http.MethodPost, "/v1/conversations/direct", `{"recipient_id":"bob"}`, "alice")
	require.NoError(t, h.ResolveDirect(c))

	c, rec := newTestContext(http.MethodPost, "/v1/conversations/dm_alice_bob/messages",
		`{"content":"ping"}`, "alice")
	c.SetParamNames("id")
	c.SetParamValues("dm_alice_bob")
	require.NoError(t, h.SendMessage(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	c, rec = newTestContext(http.MethodGet, "/v1/conversations/dm_alice_bob/unread", "", "alice")
	c.SetParamNames("id")
	c.SetParamValues("dm_alice_bob")

	require.NoError(t, h.UnreadCount(c))
	assert.Contains(t, rec.Body.String(), `"unread_count":0`)

	c, rec = newTestContext(http.MethodGet, "/v1/conversations/dm_alice_bob/unread", "", "bob")
	c.SetParamNames("id")
	c.SetParamValues("dm_alice_bob")

	require.NoError(t, h.UnreadCount(c))
	assert.Contains(t, rec.Body.String(), `"unread_count":1`)
}
