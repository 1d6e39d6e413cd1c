package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tg_rewards_bot/internal/domain"
)

type accountCollection interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

// AccountRepository persists ledger account snapshots in MongoDB.
type AccountRepository struct {
	collection accountCollection
}

// NewAccountRepository constructs an AccountRepository.
func NewAccountRepository(collection accountCollection) *AccountRepository {
	return &AccountRepository{collection: collection}
}

// Upsert writes the full account document keyed by user_id, inserting it when
// missing. The account is the authoritative in-memory state; the stored
// document is always replaced wholesale.
func (r *AccountRepository) Upsert(ctx context.Context, account domain.Account) error {
	if r == nil || r.collection == nil {
		return errors.New("account repository is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if account.UserID == "" {
		return errors.New("user_id is required")
	}

	_, err := r.collection.UpdateOne(ctx,
		bson.M{"user_id": account.UserID},
		bson.M{"$set": account},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert account %s: %w", account.UserID, err)
	}

	return nil
}

// ListAll loads every stored account, used to restore the ledger at startup.
func (r *AccountRepository) ListAll(ctx context.Context) ([]domain.Account, error) {
	if r == nil || r.collection == nil {
		return nil, errors.New("account repository is not initialized")
	}
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	cursor, err := r.collection.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("find accounts: %w", err)
	}

	var accounts []domain.Account
	if err := cursor.All(ctx, &accounts); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}

	return accounts, nil
}
