package sqlitestore

import (
	"context"
	"fmt"
	"time"

	"github.com/nao1215/notifier/pkg/lock"
)

// InsertLock はロックが存在しないか期限切れの場合にのみ書き込む。
// 期限内のロックがある場合、UPSERTのWHERE句で更新が抑止され変更件数が0になる。
func (s *Store) InsertLock(ctx context.Context, l lock.Lock, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO locks (domain, lock_key, id, expires_on) VALUES (?, ?, ?, ?)
		ON CONFLICT (domain, lock_key) DO UPDATE
			SET id = excluded.id, expires_on = excluded.expires_on
			WHERE locks.expires_on <= ?
	`, l.Domain, l.Key, l.ID, toMillis(l.ExpiresOn), toMillis(now))
	if err != nil {
		return fmt.Errorf("ロックの書き込みに失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("変更件数の取得に失敗: %w", err)
	}
	if n == 0 {
		return lock.ErrLocked
	}
	return nil
}

// DeleteLock はトークンが一致するロックを削除する。
func (s *Store) DeleteLock(ctx context.Context, l lock.Lock) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM locks WHERE domain = ? AND lock_key = ? AND id = ?
	`, l.Domain, l.Key, l.ID); err != nil {
		return fmt.Errorf("ロックの削除に失敗: %w", err)
	}
	return nil
}
