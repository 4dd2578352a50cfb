package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrLocked は期限切れでないロックが既に存在することを表す。
// 競合は異常ではないため、呼び出し側はerrors.Isで判定して静かにスキップする。
var ErrLocked = errors.New("ロックは他の処理が保持しています")

const (
	// DomainEvent はイベント処理用のロックドメイン。キーはイベントID。
	DomainEvent = "event"
	// DomainNotificationExpiry は期限切れ通知の削除（長時間のメンテナンス処理）用のロックドメイン。
	DomainNotificationExpiry = "notification-expiry"
)

// domainTTLs はドメインごとの想定最大保持時間。
var domainTTLs = map[string]time.Duration{
	DomainEvent:              5 * time.Minute,
	DomainNotificationExpiry: 30 * time.Minute,
}

// DefaultTTL はdomainTTLsにないドメインのTTL。
const DefaultTTL = 1 * time.Minute

// TTL は指定ドメインのロックの有効期間を返す。
func TTL(domain string) time.Duration {
	if ttl, ok := domainTTLs[domain]; ok {
		return ttl
	}
	return DefaultTTL
}

// Lock は相互排他のためのロックレコード。
type Lock struct {
	// ID は保持者を識別するトークン（UUID）。解放時の照合に使う。
	ID string `json:"id"`
	// Domain はロックの種類。
	Domain string `json:"domain"`
	// Key はドメイン内でロック対象を識別するキー。
	Key string `json:"key"`
	// ExpiresOn はロックが失効する日時。
	ExpiresOn time.Time `json:"expiresOn"`
}

// Store はロックを永続化する共有ストア。
type Store interface {
	// InsertLock は(domain, key)にロックが存在しないか、既存ロックの期限がnow以前の場合に
	// 原子的にlockを書き込む。期限切れでないロックが存在する場合はErrLockedを返す。
	InsertLock(ctx context.Context, lock Lock, now time.Time) error
	// DeleteLock は(domain, key)のロックをトークンが一致する場合に削除する。
	// 存在しない場合は何もせずnilを返す。
	DeleteLock(ctx context.Context, lock Lock) error
}

// Manager はロックの取得と解放を行う。
type Manager struct {
	store Store
	now   func() time.Time
}

// Option はManagerの設定を変更する。
type Option func(*Manager)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager は新しいManagerを生成する。
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire は(domain, key)のロックを取得する。
// 競合時はErrLockedをラップしたエラーを返す。
func (m *Manager) Acquire(ctx context.Context, domain, key string) (Lock, error) {
	now := m.now()
	l := Lock{
		ID:        uuid.New().String(),
		Domain:    domain,
		Key:       key,
		ExpiresOn: now.Add(TTL(domain)),
	}
	if err := m.store.InsertLock(ctx, l, now); err != nil {
		return Lock{}, fmt.Errorf("ロックの取得に失敗 (domain=%s, key=%s): %w", domain, key, err)
	}
	return l, nil
}

// Release はロックを解放する。解放済みや存在しないロックに対しては何もしない。
func (m *Manager) Release(ctx context.Context, l Lock) error {
	if l.Domain == "" && l.Key == "" {
		return nil
	}
	if err := m.store.DeleteLock(ctx, l); err != nil {
		return fmt.Errorf("ロックの解放に失敗 (domain=%s, key=%s): %w", l.Domain, l.Key, err)
	}
	return nil
}

// WithLock はロックを取得してfnを実行し、終了時に必ず解放する。
// fnのエラーと解放のエラーが両方ある場合はfnのエラーを優先する。
func (m *Manager) WithLock(ctx context.Context, domain, key string, fn func(ctx context.Context) error) (err error) {
	l, err := m.Acquire(ctx, domain, key)
	if err != nil {
		return err
	}
	defer func() {
		// 呼び出し元のキャンセルに関わらず解放する
		releaseErr := m.Release(context.WithoutCancel(ctx), l)
		if err == nil {
			err = releaseErr
		}
	}()
	return fn(ctx)
}
