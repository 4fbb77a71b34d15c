package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/prdatur/soopfw-openid/internal/model"
)

type sessionDocument struct {
	ID        string    `bson:"_id"`
	AccountID string    `bson:"account_id"`
	ExpiresAt time.Time `bson:"expires_at"`
	CreatedAt time.Time `bson:"created_at"`
}

// MongoSessionRepo はMongoDBを使用したセッションリポジトリ。
// expires_atにTTLインデックスを張るが、削除タイミングはサーバー依存のため
// 読み出し時にも期限を判定する。
type MongoSessionRepo struct {
	sessions *mongo.Collection
}

// NewMongoSessionRepo はMongoSessionRepoを生成し、必要なインデックスを作成する。
func NewMongoSessionRepo(ctx context.Context, db *mongo.Database) (*MongoSessionRepo, error) {
	repo := &MongoSessionRepo{sessions: db.Collection(SessionsCollection)}

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "account_id", Value: 1}}},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}
	if _, err := repo.sessions.Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, fmt.Errorf("failed to create session indexes: %w", err)
	}

	return repo, nil
}

// Create はセッションを作成する。
func (r *MongoSessionRepo) Create(ctx context.Context, session *model.Session) error {
	_, err := r.sessions.InsertOne(ctx, sessionDocument{
		ID:        session.ID,
		AccountID: session.AccountID,
		ExpiresAt: session.ExpiresAt,
		CreatedAt: session.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *MongoSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var doc sessionDocument
	err := r.sessions.FindOne(ctx, bson.M{
		"_id":        id,
		"expires_at": bson.M{"$gt": time.Now()},
	}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return &model.Session{
		ID:        doc.ID,
		AccountID: doc.AccountID,
		ExpiresAt: doc.ExpiresAt,
		CreatedAt: doc.CreatedAt,
	}, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *MongoSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.sessions.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByAccountID は指定アカウントの全セッションを削除する。
func (r *MongoSessionRepo) DeleteByAccountID(ctx context.Context, accountID string) error {
	if _, err := r.sessions.DeleteMany(ctx, bson.M{"account_id": accountID}); err != nil {
		return fmt.Errorf("failed to delete account sessions: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
func (r *MongoSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.sessions.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": now}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return result.DeletedCount, nil
}

// compile-time interface check
var _ SessionRepository = (*MongoSessionRepo)(nil)
