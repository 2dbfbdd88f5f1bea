package repository

import (
	"context"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"fitlink/internal/domain/entity"
	"fitlink/internal/domain/repository"
	"fitlink/pkg/errors"
)

type firestoreChallengeRepository struct {
	client *firestore.Client
}

func NewFirestoreChallengeRepository(client *firestore.Client) repository.ChallengeRepository {
	return &firestoreChallengeRepository{
		client: client,
	}
}

func (r *firestoreChallengeRepository) GetByID(ctx context.Context, id string) (*entity.Challenge, error) {
	doc, err := r.client.Collection("challenges").Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Challenge", err)
		}
		return nil, errors.StoreUnavailable(err)
	}

	var challenge entity.Challenge
	if err := doc.DataTo(&challenge); err != nil {
		return nil, errors.Internal("Failed to parse challenge data", err)
	}
	challenge.ID = doc.Ref.ID

	return &challenge, nil
}
