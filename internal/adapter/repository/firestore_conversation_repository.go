package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"fitlink/internal/domain/entity"
	"fitlink/internal/domain/repository"
	"fitlink/pkg/errors"
	"fitlink/pkg/logger"
)

type firestoreConversationRepository struct {
	client *firestore.Client
}

func NewFirestoreConversationRepository(client *firestore.Client) repository.ConversationRepository {
	return &firestoreConversationRepository{
		client: client,
	}
}

func (r *firestoreConversationRepository) Create(ctx context.Context, conversation *entity.Conversation) error {
	now := time.Now().UTC()
	conversation.CreatedAt = now
	conversation.UpdatedAt = now

	_, err := r.client.Collection("conversations").Doc(conversation.ID).Set(ctx, conversation)
	if err != nil {
		return errors.StoreUnavailable(err)
	}

	return nil
}

func (r *firestoreConversationRepository) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	doc, err := r.client.Collection("conversations").Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Conversation", err)
		}
		return nil, errors.StoreUnavailable(err)
	}

	var conversation entity.Conversation
	if err := doc.DataTo(&conversation); err != nil {
		return nil, errors.Internal("Failed to parse conversation data", err)
	}

	return &conversation, nil
}

func (r *firestoreConversationRepository) ListByUserID(ctx context.Context, userID string) ([]*entity.Conversation, error) {
	query := r.client.Collection("conversations").
		Where("participantIds", "array-contains", userID).
		OrderBy("lastMessageAt", firestore.Desc)

	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		logger.Error("Firestore error while fetching conversations for user %s: %v", userID, err)
		return nil, errors.StoreUnavailable(err)
	}

	var conversations []*entity.Conversation
	for _, doc := range docs {
		var conversation entity.Conversation
		if err := doc.DataTo(&conversation); err != nil {
			logger.Warn("Skipping malformed conversation document %s: %v", doc.Ref.ID, err)
			continue
		}
		conversations = append(conversations, &conversation)
	}

	return conversations, nil
}

func (r *firestoreConversationRepository) UpdateSummary(ctx context.Context, conversationID, lastMessage string, lastMessageAt time.Time) error {
	ref := r.client.Collection("conversations").Doc(conversationID)

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			return err
		}

		var conversation entity.Conversation
		if err := doc.DataTo(&conversation); err != nil {
			return err
		}

		// Last write wins on the message timestamp: racing senders may land
		// in any order, but the summary never moves backwards.
		if conversation.LastMessageAt.After(lastMessageAt) {
			return nil
		}

		return tx.Update(ref, []firestore.Update{
			{Path: "lastMessage", Value: lastMessage},
			{Path: "lastMessageAt", Value: lastMessageAt},
			{Path: "updatedAt", Value: time.Now().UTC()},
		})
	})
	if err != nil {
		return errors.StoreUnavailable(err)
	}

	return nil
}

func (r *firestoreConversationRepository) SetParticipants(ctx context.Context, conversationID string, participantIDs []string) error {
	_, err := r.client.Collection("conversations").Doc(conversationID).Update(ctx, []firestore.Update{
		{Path: "participantIds", Value: participantIDs},
		{Path: "updatedAt", Value: time.Now().UTC()},
	})
	if err != nil {
		return errors.StoreUnavailable(err)
	}

	return nil
}
