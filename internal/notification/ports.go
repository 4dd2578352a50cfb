package notification

import (
	"context"
	"errors"
	"time"

	"github.com/nao1215/notifier/pkg/event"
	"github.com/nao1215/notifier/pkg/lock"
)

// ErrEventNotFound は指定されたイベントが存在しないことを表す。
var ErrEventNotFound = errors.New("イベントが見つかりません")

// ErrNotificationNotFound は指定された通知が存在しないことを表す。
var ErrNotificationNotFound = errors.New("通知が見つかりません")

// ErrEventAlreadyProcessed はコミット対象のイベントが既に処理済みであることを表す。
// ロックの期限切れ後に他のワーカーが先に処理を終えた場合に返る。
var ErrEventAlreadyProcessed = errors.New("イベントは既に処理済みです")

// EventLog はイベントの記録と取得を行う。
type EventLog interface {
	// OldestUnprocessedEventID は未処理のイベントのうち最も古いもののIDを返す。
	// 存在しない場合はokがfalseになる。
	OldestUnprocessedEventID(ctx context.Context) (id string, ok bool, err error)
	// GetEventByID はイベントを取得する。存在しない場合はErrEventNotFoundを返す。
	GetEventByID(ctx context.Context, id string) (*event.Event, error)
	// RecordEvent は新しいイベントを記録する。
	RecordEvent(ctx context.Context, ev *event.Event) error
}

// Committer はイベントの更新と通知の挿入を1つの原子的な書き込みとして行う。
// 読み手がどちらか片方だけを観測することはない。
//
// イベントの更新は未処理の場合にだけ行う。既に処理済みならErrEventAlreadyProcessedを返し、
// 通知も挿入しない。
type Committer interface {
	CommitEvent(ctx context.Context, ev *event.Event, notifications []Notification) error
}

// UserIterator はアクティブユーザーの遅延シーケンス。有限で、巻き戻しはできない。
// 呼び出し側はすべての終了経路でCloseを呼ぶ必要がある。
//
// SQLiteストアのイテレータはCloseまで唯一のDB接続を保持する。
// 走査中に同じストアへ問い合わせるとデッドロックするため、
// ユーザーごとの参照が必要なら走査の前に読み込んでおくこと。
type UserIterator interface {
	// Next は次のユーザーを返す。シーケンスの終端ではokがfalseになる。
	Next(ctx context.Context) (user User, ok bool, err error)
	Close() error
}

// UserDirectory はアクティブユーザーを提供する。
type UserDirectory interface {
	StreamActiveUsers(ctx context.Context) (UserIterator, error)
}

// ContentLookup は参照されたコンテンツを取得する。削除済みの場合はnil, nilを返す。
type ContentLookup interface {
	GetDocument(ctx context.Context, id string) (*Document, error)
	GetDocumentRevision(ctx context.Context, id string) (*DocumentRevision, error)
	GetRoom(ctx context.Context, id string) (*Room, error)
}

// LockManager はキー付きの相互排他ロックを提供する。*lock.Managerが満たす。
type LockManager interface {
	Acquire(ctx context.Context, domain, key string) (lock.Lock, error)
	Release(ctx context.Context, l lock.Lock) error
}

// NotificationRepository はHTTP APIが使う通知の参照・既読管理。
type NotificationRepository interface {
	// ListNotifications はユーザーの通知を作成日時の降順で返す。
	ListNotifications(ctx context.Context, userID string) ([]Notification, error)
	// ListUnreadNotifications はユーザーの未読通知を作成日時の降順で返す。
	ListUnreadNotifications(ctx context.Context, userID string) ([]Notification, error)
	// GetNotification は通知を取得する。存在しない場合はErrNotificationNotFoundを返す。
	GetNotification(ctx context.Context, id string) (*Notification, error)
	MarkNotificationRead(ctx context.Context, id string, readOn time.Time) error
	MarkAllNotificationsRead(ctx context.Context, userID string, readOn time.Time) error
}

// ExpiredNotificationDeleter は期限切れ通知を削除する。
type ExpiredNotificationDeleter interface {
	// DeleteExpiredNotifications はExpiresOnがnow以前の通知を削除し、削除件数を返す。
	DeleteExpiredNotifications(ctx context.Context, now time.Time) (int64, error)
}
