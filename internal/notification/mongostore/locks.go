package mongostore

import (
	"context"
	"fmt"
	"time"

	"github.com/nao1215/notifier/pkg/lock"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// InsertLock はロックが存在しないか期限切れの場合にのみ書き込む。
//
// 期限切れのロックは条件付き更新で奪い、存在しない場合はupsertで挿入する。
// 期限内のロックがあると条件に一致せずupsertの挿入が(domain, key)の一意インデックスに
// 違反するため、重複キーエラーを競合として扱う。
func (s *Store) InsertLock(ctx context.Context, l lock.Lock, now time.Time) error {
	_, err := s.db.Collection(collLocks).UpdateOne(ctx,
		bson.M{
			"domain":     l.Domain,
			"key":        l.Key,
			"expires_on": bson.M{"$lte": now},
		},
		bson.M{"$set": bson.M{
			"holder":     l.ID,
			"expires_on": l.ExpiresOn,
		}},
		options.Update().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		return lock.ErrLocked
	}
	if err != nil {
		return fmt.Errorf("ロックの書き込みに失敗: %w", err)
	}
	return nil
}

// DeleteLock はトークンが一致するロックを削除する。
func (s *Store) DeleteLock(ctx context.Context, l lock.Lock) error {
	if _, err := s.db.Collection(collLocks).DeleteOne(ctx, bson.M{
		"domain": l.Domain,
		"key":    l.Key,
		"holder": l.ID,
	}); err != nil {
		return fmt.Errorf("ロックの削除に失敗: %w", err)
	}
	return nil
}
