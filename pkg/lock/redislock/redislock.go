// Package redislock はRedisを共有ストアとするlock.Store実装を提供する。
//
// ロックはSET NX PXで書き込み、失効はRedisのキー期限に任せる。
// 解放はLuaスクリプトでトークンを照合してから削除する。
package redislock

import (
	"context"
	"fmt"
	"time"

	"github.com/nao1215/notifier/pkg/lock"
	"github.com/redis/go-redis/v9"
)

// KEYS[1]=lockKey; ARGV[1]=token
// トークンが一致するときだけ削除する。返り値は削除件数。
var luaCompareAndDelete = redis.NewScript(`
  if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
  end
  return 0
`)

// Store はRedis上のlock.Store実装。
type Store struct {
	rdb    redis.UniversalClient
	prefix string
}

// New は新しいStoreを生成する。prefixはキー名の先頭に付与される（例: "notifier:"）。
func New(rdb redis.UniversalClient, prefix string) *Store {
	return &Store{rdb: rdb, prefix: prefix}
}

var _ lock.Store = (*Store)(nil)

func (s *Store) key(domain, key string) string {
	return s.prefix + "lock:" + domain + ":" + key
}

// InsertLock はキーが存在しない場合にロックを書き込む。
// 期限切れのキーはRedisが削除済みのため、存在判定だけで失効ロックの再取得を満たす。
func (s *Store) InsertLock(ctx context.Context, l lock.Lock, now time.Time) error {
	ttl := l.ExpiresOn.Sub(now)
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}

	ok, err := s.rdb.SetNX(ctx, s.key(l.Domain, l.Key), l.ID, ttl).Result()
	if err != nil {
		return fmt.Errorf("RedisへのSETNXに失敗: %w", err)
	}
	if !ok {
		return lock.ErrLocked
	}
	return nil
}

// DeleteLock はトークンが一致する場合にロックを削除する。
func (s *Store) DeleteLock(ctx context.Context, l lock.Lock) error {
	if err := luaCompareAndDelete.Run(ctx, s.rdb, []string{s.key(l.Domain, l.Key)}, l.ID).Err(); err != nil {
		return fmt.Errorf("Redisのロック削除に失敗: %w", err)
	}
	return nil
}
