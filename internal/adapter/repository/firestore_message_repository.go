package repository

import (
	"context"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"fitlink/internal/domain/entity"
	"fitlink/internal/domain/repository"
	"fitlink/pkg/errors"
	"fitlink/pkg/logger"
)

type firestoreMessageRepository struct {
	client *firestore.Client

	// Guards lastAssigned. Timestamps are server-assigned and must form a
	// total order per conversation, so ties with the previous append are
	// bumped forward before the write.
	mu           sync.Mutex
	lastAssigned map[string]time.Time
}

func NewFirestoreMessageRepository(client *firestore.Client) repository.MessageRepository {
	return &firestoreMessageRepository{
		client:       client,
		lastAssigned: make(map[string]time.Time),
	}
}

func (r *firestoreMessageRepository) messages(conversationID string) *firestore.CollectionRef {
	return r.client.Collection("conversations").Doc(conversationID).Collection("messages")
}

// nextTimestamp returns a timestamp strictly after every timestamp previously
// assigned to the conversation by this process.
func (r *firestoreMessageRepository) nextTimestamp(conversationID string) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := time.Now().UTC()
	if last, ok := r.lastAssigned[conversationID]; ok && !ts.After(last) {
		ts = last.Add(time.Microsecond)
	}
	r.lastAssigned[conversationID] = ts
	return ts
}

func (r *firestoreMessageRepository) Append(ctx context.Context, message *entity.Message) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.MediaType == "" {
		message.MediaType = entity.MediaTypeNone
	}

	message.Timestamp = r.nextTimestamp(message.ConversationID)

	// A sender has always read their own message.
	if message.ReadBy == nil {
		message.ReadBy = make(map[string]time.Time)
	}
	message.ReadBy[message.Sender.ID] = message.Timestamp

	_, err := r.messages(message.ConversationID).Doc(message.ID).Set(ctx, message)
	if err != nil {
		return errors.StoreUnavailable(err)
	}

	return nil
}

func (r *firestoreMessageRepository) ListOrdered(ctx context.Context, conversationID string) ([]*entity.Message, error) {
	iter := r.messages(conversationID).OrderBy("timestamp", firestore.Asc).Documents(ctx)

	var messages []*entity.Message
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			logger.Error("Firestore error while iterating messages for conversation %s: %v", conversationID, err)
			return nil, errors.StoreUnavailable(err)
		}

		var message entity.Message
		if err := doc.DataTo(&message); err != nil {
			return nil, errors.Internal("Failed to parse message data", err)
		}

		messages = append(messages, &message)
	}

	return messages, nil
}

func (r *firestoreMessageRepository) MergeReadReceipts(ctx context.Context, conversationID string, messageIDs []string, readerID string, at time.Time) error {
	if len(messageIDs) == 0 {
		return nil
	}

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var pending []*firestore.DocumentRef

		for _, messageID := range messageIDs {
			ref := r.messages(conversationID).Doc(messageID)
			doc, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					// Unknown or deleted message: a no-op, not an error.
					continue
				}
				return err
			}

			var message entity.Message
			if err := doc.DataTo(&message); err != nil {
				return err
			}
			if message.ReadByUser(readerID) {
				// First read wins; never overwritten.
				continue
			}

			pending = append(pending, ref)
		}

		for _, ref := range pending {
			if err := tx.Update(ref, []firestore.Update{
				{FieldPath: firestore.FieldPath{"readBy", readerID}, Value: at},
			}); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return errors.StoreUnavailable(err)
	}

	return nil
}
