package repository

import (
	"context"
	"time"

	"fitlink/internal/domain/entity"
)

// MessageRepository is the append-ordered message store for a conversation.
type MessageRepository interface {
	// Append assigns the message id and a server timestamp that is strictly
	// after every previous append to the same conversation, seeds the
	// sender's own read receipt, and persists the message.
	Append(ctx context.Context, message *entity.Message) error

	// ListOrdered returns every message of the conversation sorted ascending
	// by timestamp.
	ListOrdered(ctx context.Context, conversationID string) ([]*entity.Message, error)

	// MergeReadReceipts sets readBy[readerID] = at on each named message that
	// does not already carry a receipt for the reader. First read wins; the
	// call is idempotent and safe under concurrent invocation. Unknown
	// message ids are skipped.
	MergeReadReceipts(ctx context.Context, conversationID string, messageIDs []string, readerID string, at time.Time) error
}

type ConversationRepository interface {
	Create(ctx context.Context, conversation *entity.Conversation) error
	GetByID(ctx context.Context, id string) (*entity.Conversation, error)
	ListByUserID(ctx context.Context, userID string) ([]*entity.Conversation, error)

	// UpdateSummary caches the last message preview. The summary only moves
	// forward: an update whose timestamp is older than the stored one is
	// dropped, so racing senders may commit in any order.
	UpdateSummary(ctx context.Context, conversationID, lastMessage string, lastMessageAt time.Time) error

	// SetParticipants replaces the participant set (challenge roster sync).
	SetParticipants(ctx context.Context, conversationID string, participantIDs []string) error
}

type UserRepository interface {
	GetByID(ctx context.Context, id string) (*entity.User, error)
}

// ChallengeRepository is the domain membership source for group conversations.
type ChallengeRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Challenge, error)
}
