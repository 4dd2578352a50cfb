// Package locktest はlock.Store実装が満たすべき振る舞いを検証する共通テストを提供する。
package locktest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nao1215/notifier/pkg/lock"
)

// newLock はテスト用のロックを生成する。
func newLock(domain, key string, now time.Time, ttl time.Duration) lock.Lock {
	return lock.Lock{
		ID:        uuid.New().String(),
		Domain:    domain,
		Key:       key,
		ExpiresOn: now.Add(ttl),
	}
}

// RunStoreTests はlock.Storeの契約を検証する。
// newStoreはサブテストごとに呼ばれ、独立したストアを返す必要がある。
func RunStoreTests(t *testing.T, newStore func(t *testing.T) lock.Store) {
	t.Helper()

	t.Run("存在しないロックは取得できること", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		if err := store.InsertLock(ctx, newLock("event", "e-1", now, time.Minute), now); err != nil {
			t.Fatalf("InsertLock()でエラーが発生: %v", err)
		}
	})

	t.Run("期限切れでないロックがあるとErrLockedが返ること", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		if err := store.InsertLock(ctx, newLock("event", "e-1", now, time.Minute), now); err != nil {
			t.Fatalf("1回目のInsertLock()でエラーが発生: %v", err)
		}
		err := store.InsertLock(ctx, newLock("event", "e-1", now, time.Minute), now)
		if !errors.Is(err, lock.ErrLocked) {
			t.Fatalf("2回目のInsertLock() = %v, want ErrLocked", err)
		}
	})

	t.Run("ドメインやキーが異なれば取得できること", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		for _, l := range []lock.Lock{
			newLock("event", "e-1", now, time.Minute),
			newLock("event", "e-2", now, time.Minute),
			newLock("document", "e-1", now, time.Minute),
		} {
			if err := store.InsertLock(ctx, l, now); err != nil {
				t.Fatalf("InsertLock(%s/%s)でエラーが発生: %v", l.Domain, l.Key, err)
			}
		}
	})

	t.Run("期限切れのロックは再取得できること", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		if err := store.InsertLock(ctx, newLock("event", "e-1", now, 100*time.Millisecond), now); err != nil {
			t.Fatalf("1回目のInsertLock()でエラーが発生: %v", err)
		}
		time.Sleep(300 * time.Millisecond)

		later := time.Now().UTC()
		if err := store.InsertLock(ctx, newLock("event", "e-1", later, time.Minute), later); err != nil {
			t.Fatalf("期限切れ後のInsertLock()でエラーが発生: %v", err)
		}
	})

	t.Run("解放後は再取得できること", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		l := newLock("event", "e-1", now, time.Minute)
		if err := store.InsertLock(ctx, l, now); err != nil {
			t.Fatalf("InsertLock()でエラーが発生: %v", err)
		}
		if err := store.DeleteLock(ctx, l); err != nil {
			t.Fatalf("DeleteLock()でエラーが発生: %v", err)
		}
		if err := store.InsertLock(ctx, newLock("event", "e-1", now, time.Minute), now); err != nil {
			t.Fatalf("解放後のInsertLock()でエラーが発生: %v", err)
		}
	})

	t.Run("解放は冪等であること", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		l := newLock("event", "e-1", now, time.Minute)
		// 一度も取得していないロックの解放
		if err := store.DeleteLock(ctx, l); err != nil {
			t.Fatalf("未取得ロックのDeleteLock()でエラーが発生: %v", err)
		}
		if err := store.InsertLock(ctx, l, now); err != nil {
			t.Fatalf("InsertLock()でエラーが発生: %v", err)
		}
		for i := range 2 {
			if err := store.DeleteLock(ctx, l); err != nil {
				t.Fatalf("%d回目のDeleteLock()でエラーが発生: %v", i+1, err)
			}
		}
	})

	t.Run("他の保持者が再取得したロックは古いトークンで解放されないこと", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		stale := newLock("event", "e-1", now, 100*time.Millisecond)
		if err := store.InsertLock(ctx, stale, now); err != nil {
			t.Fatalf("InsertLock()でエラーが発生: %v", err)
		}
		time.Sleep(300 * time.Millisecond)

		later := time.Now().UTC()
		current := newLock("event", "e-1", later, time.Minute)
		if err := store.InsertLock(ctx, current, later); err != nil {
			t.Fatalf("再取得のInsertLock()でエラーが発生: %v", err)
		}
		if err := store.DeleteLock(ctx, stale); err != nil {
			t.Fatalf("古いトークンのDeleteLock()でエラーが発生: %v", err)
		}
		err := store.InsertLock(ctx, newLock("event", "e-1", later, time.Minute), later)
		if !errors.Is(err, lock.ErrLocked) {
			t.Fatalf("InsertLock() = %v, want ErrLocked", err)
		}
	})

	t.Run("同時に取得しても成功するのは1つだけであること", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		const workers = 8
		var (
			wg        sync.WaitGroup
			succeeded atomic.Int32
			failures  = make(chan error, workers)
		)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := store.InsertLock(ctx, newLock("event", "e-race", now, time.Minute), now)
				switch {
				case err == nil:
					succeeded.Add(1)
				case !errors.Is(err, lock.ErrLocked):
					failures <- err
				}
			}()
		}
		wg.Wait()
		close(failures)

		for err := range failures {
			t.Errorf("想定外のエラー: %v", err)
		}
		if got := succeeded.Load(); got != 1 {
			t.Errorf("取得に成功した数 = %d, want 1", got)
		}
	})
}
