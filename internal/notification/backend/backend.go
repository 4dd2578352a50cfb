// Package backend は設定に応じて通知ストアとロックストアを組み立てる。
//
// MONGO_URIが設定されていればMongoDB、そうでなければSQLiteをストアに使う。
// REDIS_ADDRが設定されていればロックだけをRedisで管理する。
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/nao1215/notifier/internal/config"
	"github.com/nao1215/notifier/internal/notification"
	"github.com/nao1215/notifier/internal/notification/mongostore"
	"github.com/nao1215/notifier/internal/notification/sqlitestore"
	"github.com/nao1215/notifier/pkg/lock"
	"github.com/nao1215/notifier/pkg/lock/redislock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Store は通知サービスが使うすべての永続化操作を満たすストア。
type Store interface {
	notification.EventLog
	notification.Committer
	notification.UserDirectory
	notification.ContentLookup
	notification.NotificationRepository
	notification.ExpiredNotificationDeleter
}

// Backend は組み立て済みのストアとロックストア。
type Backend struct {
	// Store は通知とイベントのストア。
	Store Store
	// Locks はロックの保存先。
	Locks lock.Store
	// Kind はストアの種類（"sqlite" または "mongo"）。
	Kind string

	closers []func(ctx context.Context) error
}

// Open は設定からBackendを組み立てる。
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Backend{}
	if cfg.UseMongo() {
		s, err := mongostore.Open(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			return nil, fmt.Errorf("MongoDBストアの初期化に失敗: %w", err)
		}
		b.Store, b.Locks, b.Kind = s, s, "mongo"
		b.closers = append(b.closers, s.Close)
	} else {
		s, err := sqlitestore.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("SQLiteストアの初期化に失敗: %w", err)
		}
		b.Store, b.Locks, b.Kind = s, s, "sqlite"
		b.closers = append(b.closers, func(context.Context) error { return s.Close() })
	}

	if cfg.UseRedisLock() {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			_ = b.Close(ctx)
			return nil, fmt.Errorf("Redisへの接続に失敗: %w", err)
		}
		b.Locks = redislock.New(rdb, cfg.RedisKeyPrefix)
		b.closers = append(b.closers, func(context.Context) error { return rdb.Close() })
		logger.Info("ロックをRedisで管理します", zap.String("addr", cfg.RedisAddr))
	}

	logger.Info("ストアを初期化しました", zap.String("kind", b.Kind))
	return b, nil
}

// Close は開いた接続をすべて閉じる。
func (b *Backend) Close(ctx context.Context) error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
