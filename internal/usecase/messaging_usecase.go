package usecase

import (
	"context"
	"io"
	"strings"
	"time"

	"fitlink/internal/domain/entity"
	"fitlink/internal/domain/repository"
	"fitlink/internal/infrastructure/metrics"
	"fitlink/internal/infrastructure/ratelimit"
	"fitlink/pkg/errors"
	"fitlink/pkg/logger"
)

// MessagingUseCase is the send pipeline, conversation registry, and
// read-receipt tracker of the messaging core. Constructed explicitly and
// passed to callers; there is no process-wide instance.
type MessagingUseCase struct {
	messageRepo   repository.MessageRepository
	convRepo      repository.ConversationRepository
	userRepo      repository.UserRepository
	challengeRepo repository.ChallengeRepository
	uploader      MediaUploader
	notifier      NotificationDispatcher
	publisher     Publisher
	previews      PreviewNotifier
	rateLimiter   *ratelimit.RateLimiter
}

func NewMessagingUseCase(
	messageRepo repository.MessageRepository,
	convRepo repository.ConversationRepository,
	userRepo repository.UserRepository,
	challengeRepo repository.ChallengeRepository,
	uploader MediaUploader,
	notifier NotificationDispatcher,
	publisher Publisher,
	previews PreviewNotifier,
) *MessagingUseCase {
	rateLimiter := ratelimit.NewRateLimiter()
	rateLimiter.StartCleanupRoutine()

	return &MessagingUseCase{
		messageRepo:   messageRepo,
		convRepo:      convRepo,
		userRepo:      userRepo,
		challengeRepo: challengeRepo,
		uploader:      uploader,
		notifier:      notifier,
		publisher:     publisher,
		previews:      previews,
		rateLimiter:   rateLimiter,
	}
}

type SendMessageInput struct {
	ConversationID string
	Content        string
	Media          io.Reader // optional raw media payload
	MediaType      string    // content type of the payload, e.g. "image/jpeg"
	ContextRef     string    // opaque reference (e.g. a check-in), passed through
	ClientRef      string    // client correlation id for optimistic UI, never persisted
}

type MessageResponse struct {
	*entity.Message
	ClientRef string `json:"client_ref,omitempty"`
}

type ConversationPreview struct {
	*entity.Conversation
	OtherUser   *entity.User `json:"other_user,omitempty"`
	UnreadCount int          `json:"unread_count"`
}

// ResolveDirectConversation returns the direct conversation between two users,
// creating it lazily on first use. The pair id is order-independent, so both
// users resolve to the same conversation.
func (uc *MessagingUseCase) ResolveDirectConversation(ctx context.Context, userID, otherUserID string) (*entity.Conversation, error) {
	if userID == otherUserID {
		return nil, errors.BadRequest("You cannot start a conversation with yourself", nil)
	}

	if _, err := uc.userRepo.GetByID(ctx, otherUserID); err != nil {
		return nil, errors.NotFound("Recipient", err)
	}

	conversationID := entity.DirectConversationID(userID, otherUserID)

	conversation, err := uc.convRepo.GetByID(ctx, conversationID)
	if err == nil {
		return conversation, nil
	}
	if !errors.Is(err, "NOT_FOUND") {
		return nil, err
	}

	allowed, waitTime := uc.rateLimiter.Allow(userID, "start_conversation")
	if !allowed {
		return nil, errors.TooManyRequests("Rate limit exceeded. Please wait before starting another conversation", waitTime)
	}

	conversation = &entity.Conversation{
		ID:             conversationID,
		Type:           entity.ConversationTypeDirect,
		ParticipantIDs: []string{userID, otherUserID},
	}
	if err := uc.convRepo.Create(ctx, conversation); err != nil {
		return nil, err
	}

	return conversation, nil
}

// ResolveChallengeConversation returns the group conversation owned by a
// round/challenge, creating it lazily and refreshing its participant set from
// the challenge roster.
func (uc *MessagingUseCase) ResolveChallengeConversation(ctx context.Context, userID, challengeID string) (*entity.Conversation, error) {
	challenge, err := uc.challengeRepo.GetByID(ctx, challengeID)
	if err != nil {
		return nil, err
	}

	roster := challenge.Roster()
	conversationID := entity.ChallengeConversationID(challengeID)

	conversation, err := uc.convRepo.GetByID(ctx, conversationID)
	if errors.Is(err, "NOT_FOUND") {
		conversation = &entity.Conversation{
			ID:             conversationID,
			Type:           entity.ConversationTypeChallenge,
			ChallengeID:    challengeID,
			ParticipantIDs: roster,
		}
		if err := uc.convRepo.Create(ctx, conversation); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else if !sameParticipants(conversation.ParticipantIDs, roster) {
		// Roster changed since last resolve. Receipts of departed members are
		// retained on historical messages.
		if err := uc.convRepo.SetParticipants(ctx, conversationID, roster); err != nil {
			logger.Warn("Failed to sync roster for conversation %s: %v", conversationID, err)
		} else {
			conversation.ParticipantIDs = roster
		}
	}

	if !conversation.HasParticipant(userID) {
		return nil, errors.NotAParticipant(userID, conversationID)
	}

	return conversation, nil
}

// GetConversation loads a conversation the viewer belongs to.
func (uc *MessagingUseCase) GetConversation(ctx context.Context, userID, conversationID string) (*entity.Conversation, error) {
	conversation, err := uc.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(userID) {
		return nil, errors.NotAParticipant(userID, conversationID)
	}
	return conversation, nil
}

// ListConversations returns the viewer's conversation previews, built from the
// denormalized summary plus the viewer's unread count.
func (uc *MessagingUseCase) ListConversations(ctx context.Context, userID string) ([]*ConversationPreview, error) {
	conversations, err := uc.convRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	var previews []*ConversationPreview
	for _, conversation := range conversations {
		preview := &ConversationPreview{Conversation: conversation}

		unread, err := uc.UnreadCount(ctx, userID, conversation.ID)
		if err != nil {
			logger.Warn("Failed to compute unread count for conversation %s: %v", conversation.ID, err)
		} else {
			preview.UnreadCount = unread
		}

		if conversation.Type == entity.ConversationTypeDirect {
			for _, participantID := range conversation.ParticipantIDs {
				if participantID != userID {
					if otherUser, err := uc.userRepo.GetByID(ctx, participantID); err == nil {
						preview.OtherUser = otherUser
					}
					break
				}
			}
		}

		previews = append(previews, preview)
	}

	return previews, nil
}

// ListMessages returns the full ordered message list of a conversation the
// viewer belongs to.
func (uc *MessagingUseCase) ListMessages(ctx context.Context, userID, conversationID string) ([]*entity.Message, error) {
	conversation, err := uc.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(userID) {
		return nil, errors.NotAParticipant(userID, conversationID)
	}

	return uc.messageRepo.ListOrdered(ctx, conversationID)
}

// SendMessage runs the full send pipeline: validate, resolve the attachment,
// append, update the summary, publish, then notify best-effort. A failure at
// any step before append leaves the store untouched; the caller re-runs the
// whole pipeline on retry.
func (uc *MessagingUseCase) SendMessage(ctx context.Context, senderID string, input SendMessageInput) (*MessageResponse, error) {
	allowed, waitTime := uc.rateLimiter.Allow(senderID, "send_message")
	if !allowed {
		logger.Warn("SendMessage rate limited: user %s must wait %v", senderID, waitTime)
		return nil, errors.TooManyRequests("Rate limit exceeded. Please wait before sending another message", waitTime)
	}

	if input.Content == "" && input.Media == nil {
		metrics.SendFailures.WithLabelValues("EMPTY_MESSAGE").Inc()
		return nil, errors.EmptyMessage()
	}

	conversation, err := uc.convRepo.GetByID(ctx, input.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(senderID) {
		metrics.SendFailures.WithLabelValues("NOT_A_PARTICIPANT").Inc()
		return nil, errors.NotAParticipant(senderID, input.ConversationID)
	}

	sender, err := uc.userRepo.GetByID(ctx, senderID)
	if err != nil {
		return nil, errors.NotFound("Sender", err)
	}

	mediaURL := ""
	mediaType := entity.MediaTypeNone
	if input.Media != nil {
		mediaType, err = mediaKind(input.MediaType)
		if err != nil {
			return nil, err
		}
		mediaURL, err = uc.uploader.Upload(ctx, input.Media, input.MediaType)
		if err != nil {
			// Aborts the whole send: no text-only fallback is persisted.
			metrics.SendFailures.WithLabelValues("ATTACHMENT_FAILED").Inc()
			return nil, errors.AttachmentFailed(err)
		}
	}

	message := &entity.Message{
		ConversationID: input.ConversationID,
		Sender:         sender.Snapshot(),
		Content:        input.Content,
		MediaURL:       mediaURL,
		MediaType:      mediaType,
		ContextRef:     input.ContextRef,
	}

	if err := uc.messageRepo.Append(ctx, message); err != nil {
		metrics.SendFailures.WithLabelValues("STORE_UNAVAILABLE").Inc()
		return nil, err
	}

	if err := uc.convRepo.UpdateSummary(ctx, conversation.ID, summaryPreview(message), message.Timestamp); err != nil {
		// The message is durable; a stale preview self-corrects on the next
		// successful send.
		logger.Warn("Failed to update summary for conversation %s: %v", conversation.ID, err)
	}

	uc.publisher.Publish(conversation.ID)
	uc.previews.NotifyPreview(conversation, message)
	metrics.MessagesSent.Inc()

	// Fire-and-forget: notification failure never fails the send.
	go func(conversation entity.Conversation, message entity.Message) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := uc.notifier.Dispatch(ctx, &conversation, &message); err != nil {
			logger.Warn("Notification dispatch failed for conversation %s: %v", conversation.ID, err)
		}
	}(*conversation, *message)

	return &MessageResponse{
		Message:   message,
		ClientRef: input.ClientRef,
	}, nil
}

// MarkConversationRead is the read-receipt tracker: it computes which
// messages lack the viewer's receipt, reports that count, and merges receipts
// for them. The returned count is taken before the merge commits, so it may
// race with a concurrent send; the next delivered snapshot reflects the merge.
func (uc *MessagingUseCase) MarkConversationRead(ctx context.Context, readerID, conversationID string) (int, error) {
	conversation, err := uc.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if !conversation.HasParticipant(readerID) {
		return 0, errors.NotAParticipant(readerID, conversationID)
	}

	messages, err := uc.messageRepo.ListOrdered(ctx, conversationID)
	if err != nil {
		return 0, err
	}

	var unreadIDs []string
	for _, message := range messages {
		if !message.ReadByUser(readerID) {
			unreadIDs = append(unreadIDs, message.ID)
		}
	}

	if len(unreadIDs) == 0 {
		return 0, nil
	}

	if err := uc.messageRepo.MergeReadReceipts(ctx, conversationID, unreadIDs, readerID, time.Now().UTC()); err != nil {
		metrics.ReceiptMergeFailures.Inc()
		return len(unreadIDs), err
	}

	metrics.ReceiptsMerged.Add(float64(len(unreadIDs)))
	uc.publisher.Publish(conversationID)

	return len(unreadIDs), nil
}

// UnreadCount counts the viewer's unread messages in a conversation.
func (uc *MessagingUseCase) UnreadCount(ctx context.Context, viewerID, conversationID string) (int, error) {
	messages, err := uc.messageRepo.ListOrdered(ctx, conversationID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, message := range messages {
		if !message.ReadByUser(viewerID) {
			count++
		}
	}
	return count, nil
}

func summaryPreview(message *entity.Message) string {
	if message.Content != "" {
		return message.Content
	}
	return "[" + message.MediaType + "]"
}

func mediaKind(contentType string) (string, error) {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return entity.MediaTypeImage, nil
	case strings.HasPrefix(contentType, "video/"):
		return entity.MediaTypeVideo, nil
	case strings.HasPrefix(contentType, "audio/"):
		return entity.MediaTypeAudio, nil
	default:
		return "", errors.BadRequest("Unsupported media type: "+contentType, nil)
	}
}

func sameParticipants(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, id := range a {
		set[id] = true
	}
	for _, id := range b {
		if !set[id] {
			return false
		}
	}
	return true
}
