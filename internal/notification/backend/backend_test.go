package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nao1215/notifier/internal/config"
	"github.com/nao1215/notifier/internal/notification/sqlitestore"
	"github.com/nao1215/notifier/pkg/event"
	"github.com/nao1215/notifier/pkg/lock"
	"github.com/nao1215/notifier/pkg/lock/redislock"
)

func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("MONGO_URIが無い場合SQLiteが使われること", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		cfg := &config.Config{SQLitePath: filepath.Join(t.TempDir(), "notification.db")}
		b, err := Open(ctx, cfg, nil)
		if err != nil {
			t.Fatalf("Open()でエラーが発生: %v", err)
		}
		t.Cleanup(func() { _ = b.Close(ctx) })

		if b.Kind != "sqlite" {
			t.Errorf("Kind = %q, want %q", b.Kind, "sqlite")
		}
		if _, ok := b.Locks.(*sqlitestore.Store); !ok {
			t.Errorf("Locks = %T, want *sqlitestore.Store", b.Locks)
		}

		ev, err := event.NewRoomMessageCreated(event.RoomMessageCreatedParams{RoomMessageID: "m-1", RoomID: "room-1", UserID: "u-1"})
		if err != nil {
			t.Fatalf("イベントの生成に失敗: %v", err)
		}
		if err := b.Store.RecordEvent(ctx, ev); err != nil {
			t.Fatalf("RecordEvent()でエラーが発生: %v", err)
		}
		id, ok, err := b.Store.OldestUnprocessedEventID(ctx)
		if err != nil || !ok || id != ev.ID {
			t.Errorf("OldestUnprocessedEventID() = (%q, %v, %v), want (%q, true, nil)", id, ok, err, ev.ID)
		}

		m := lock.NewManager(b.Locks)
		l, err := m.Acquire(ctx, lock.DomainEvent, ev.ID)
		if err != nil {
			t.Fatalf("Acquire()でエラーが発生: %v", err)
		}
		if err := m.Release(ctx, l); err != nil {
			t.Errorf("Release()でエラーが発生: %v", err)
		}
	})

	t.Run("Closeを2回呼んでもエラーにならないこと", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		cfg := &config.Config{SQLitePath: filepath.Join(t.TempDir(), "notification.db")}
		b, err := Open(ctx, cfg, nil)
		if err != nil {
			t.Fatalf("Open()でエラーが発生: %v", err)
		}
		if err := b.Close(ctx); err != nil {
			t.Errorf("Close()でエラーが発生: %v", err)
		}
		if err := b.Close(ctx); err != nil {
			t.Errorf("2回目のClose()でエラーが発生: %v", err)
		}
	})

	t.Run("REDIS_ADDRがある場合ロックがRedisで管理されること", func(t *testing.T) {
		t.Parallel()

		addr := os.Getenv("NOTIFIER_TEST_REDIS_ADDR")
		if addr == "" {
			t.Skip("NOTIFIER_TEST_REDIS_ADDRが未設定のためスキップ")
		}

		ctx := context.Background()
		cfg := &config.Config{
			SQLitePath:     filepath.Join(t.TempDir(), "notification.db"),
			RedisAddr:      addr,
			RedisKeyPrefix: "notifier-backend-test:",
		}
		b, err := Open(ctx, cfg, nil)
		if err != nil {
			t.Fatalf("Open()でエラーが発生: %v", err)
		}
		t.Cleanup(func() { _ = b.Close(ctx) })

		if _, ok := b.Locks.(*redislock.Store); !ok {
			t.Errorf("Locks = %T, want *redislock.Store", b.Locks)
		}
	})
}
