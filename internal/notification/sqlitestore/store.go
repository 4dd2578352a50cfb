// Package sqlitestore はSQLiteを使って通知エンジンのすべてのポートとロックストアを実装する。
//
// 1プロセスで完結する構成や開発・テスト用のストア。コネクションは1本に制限するため、
// ユーザーのイテレータを開いている間は他のクエリが待たされる。
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/nao1215/notifier/internal/notification"
	"github.com/nao1215/notifier/pkg/lock"
	"github.com/nao1215/notifier/pkg/migration"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store はSQLiteに保存する通知エンジンのストア。
type Store struct {
	db     *sql.DB
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

// Open はpathのSQLiteデータベースを開き、マイグレーションを適用する。
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	s, err := New(ctx, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New は開いたデータベースからStoreを生成し、マイグレーションを適用する。
func New(ctx context.Context, db *sql.DB, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	// 書き込みを直列化する。StreamActiveUsersのイテレータはCloseまでこの接続を占有する
	db.SetMaxOpenConns(1)

	if err := migration.Run(ctx, db, migrations, "migrations", logger); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close はデータベース接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// toMillis は日時をUNIXミリ秒に変換する。
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// fromMillis はUNIXミリ秒をUTCの日時に変換する。
func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// nullMillis はnilを許す日時をNULL可能なUNIXミリ秒に変換する。
func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

// timePtr はNULL可能なUNIXミリ秒を日時のポインタに変換する。
func timePtr(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := fromMillis(ms.Int64)
	return &t
}

// boolToInt はSQLiteに保存するための真偽値の整数表現を返す。
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
