package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// mongoConnectTimeout はMongoDB接続確認のタイムアウト。
const mongoConnectTimeout = 10 * time.Second

// OpenMongo はMongoDBへ接続し、指定データベースのハンドルを返す。
// 接続確認としてPingを行い、失敗した場合はクライアントを切断してエラーを返す。
func OpenMongo(ctx context.Context, uri, dbName string) (*mongo.Client, *mongo.Database, error) {
	if uri == "" || dbName == "" {
		return nil, nil, fmt.Errorf("mongo uri and database name must be provided")
	}

	connectCtx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri).SetConnectTimeout(mongoConnectTimeout))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return client, client.Database(dbName), nil
}

// MongoPinger は*mongo.ClientをPingContextで死活確認できるようにする。
// ヘルスチェックで*sql.DBと同じインターフェースとして扱うために使う。
type MongoPinger struct {
	Client *mongo.Client
}

// PingContext はプライマリへのPingを行う。
func (p MongoPinger) PingContext(ctx context.Context) error {
	return p.Client.Ping(ctx, readpref.Primary())
}
