package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nao1215/notifier/pkg/lock"
	"go.uber.org/zap"
)

// pruneLockKey は期限切れ通知の削除に使うロックのキー。
const pruneLockKey = "notifications"

// Pruner は期限切れの通知を削除する。複数のワーカーが同時に実行しないようロックを取る。
type Pruner struct {
	locks   LockManager
	deleter ExpiredNotificationDeleter
	now     func() time.Time
	logger  *zap.Logger
}

// NewPruner は新しいPrunerを生成する。
func NewPruner(locks LockManager, deleter ExpiredNotificationDeleter, logger *zap.Logger) *Pruner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pruner{
		locks:   locks,
		deleter: deleter,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger,
	}
}

// PruneExpired は期限切れの通知を削除して削除件数を返す。
// 他のワーカーが削除中の場合は何もせず0を返す。
func (p *Pruner) PruneExpired(ctx context.Context) (int64, error) {
	l, err := p.locks.Acquire(ctx, lock.DomainNotificationExpiry, pruneLockKey)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			p.logger.Debug("期限切れ通知の削除は他のワーカーが実行中です")
			return 0, nil
		}
		return 0, fmt.Errorf("削除用ロックの取得に失敗: %w", err)
	}
	defer func() {
		if err := p.locks.Release(context.WithoutCancel(ctx), l); err != nil {
			p.logger.Error("削除用ロックの解放に失敗しました", zap.Error(err))
		}
	}()

	deleted, err := p.deleter.DeleteExpiredNotifications(ctx, p.now())
	if err != nil {
		return 0, fmt.Errorf("期限切れ通知の削除に失敗: %w", err)
	}
	if deleted > 0 {
		p.logger.Info("期限切れ通知を削除しました", zap.Int64("deleted", deleted))
	}
	return deleted, nil
}

// Run はintervalごとにPruneExpiredを実行する。ctxがキャンセルされると戻る。
func (p *Pruner) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.PruneExpired(ctx); err != nil {
				p.logger.Error("期限切れ通知の削除に失敗しました", zap.Error(err))
			}
		}
	}
}
