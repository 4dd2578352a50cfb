// Package mongostore はMongoDBを使って通知エンジンのすべてのポートとロックストアを実装する。
//
// 複数のワーカーで同じイベントログを共有する構成向け。CommitEventはマルチドキュメント
// トランザクションを使うため、接続先はレプリカセットである必要がある。
package mongostore

import (
	"context"
	"fmt"

	"github.com/nao1215/notifier/internal/notification"
	"github.com/nao1215/notifier/pkg/lock"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// コレクション名。
const (
	collEvents            = "events"
	collNotifications     = "notifications"
	collLocks             = "locks"
	collUsers             = "users"
	collRooms             = "rooms"
	collDocuments         = "documents"
	collDocumentRevisions = "document_revisions"
)

// Store はMongoDBに保存する通知エンジンのストア。
type Store struct {
	db     *mongo.Database
	logger *zap.Logger
}

var (
	_ notification.EventLog                   = (*Store)(nil)
	_ notification.Committer                  = (*Store)(nil)
	_ notification.UserDirectory              = (*Store)(nil)
	_ notification.ContentLookup              = (*Store)(nil)
	_ notification.NotificationRepository     = (*Store)(nil)
	_ notification.ExpiredNotificationDeleter = (*Store)(nil)
	_ lock.Store                              = (*Store)(nil)
)

// Open はuriのMongoDBに接続し、インデックスを作成したStoreを返す。
func Open(ctx context.Context, uri, database string, logger *zap.Logger) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("MongoDBへの接続に失敗: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("MongoDBの疎通確認に失敗: %w", err)
	}
	s, err := New(ctx, client.Database(database), logger)
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// New はデータベースからStoreを生成し、必要なインデックスを作成する。
func New(ctx context.Context, db *mongo.Database, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{db: db, logger: logger}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("インデックスの作成に失敗: %w", err)
	}
	return s, nil
}

// Close はクライアントを切断する。
func (s *Store) Close(ctx context.Context) error {
	return s.db.Client().Disconnect(ctx)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	collections := map[string][]mongo.IndexModel{
		collEvents: {{
			Keys:    bson.D{{Key: "processed_on", Value: 1}, {Key: "created_on", Value: 1}, {Key: "_id", Value: 1}},
			Options: options.Index().SetName("ix_unprocessed"),
		}},
		collNotifications: {
			{
				Keys:    bson.D{{Key: "event_id", Value: 1}, {Key: "notified_user_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uniq_event_user"),
			},
			{
				Keys:    bson.D{{Key: "notified_user_id", Value: 1}, {Key: "created_on", Value: -1}},
				Options: options.Index().SetName("ix_user_created"),
			},
			{
				Keys:    bson.D{{Key: "expires_on", Value: 1}},
				Options: options.Index().SetName("ix_expires_on"),
			},
		},
		collLocks: {
			{
				Keys:    bson.D{{Key: "domain", Value: 1}, {Key: "key", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uniq_domain_key"),
			},
			{
				// 放置された期限切れロックの掃除用。排他の判定には使わない
				Keys:    bson.D{{Key: "expires_on", Value: 1}},
				Options: options.Index().SetExpireAfterSeconds(0).SetName("ttl_expires_on"),
			},
		},
		collUsers: {{
			Keys:    bson.D{{Key: "active", Value: 1}, {Key: "created_on", Value: 1}, {Key: "_id", Value: 1}},
			Options: options.Index().SetName("ix_active_created"),
		}},
	}

	for name, indexes := range collections {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("%sのインデックス作成に失敗: %w", name, err)
		}
	}
	return nil
}
