package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nao1215/notifier/internal/notification"
	"github.com/nao1215/notifier/pkg/event"
)

const notificationColumns = `id, notified_user_id, event_id, event_type, event_params, reasons, created_on, expires_on, read_on`

// scanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type scanner interface {
	Scan(dest ...any) error
}

func scanNotification(row scanner) (notification.Notification, error) {
	var (
		n         notification.Notification
		eventType string
		params    string
		reasons   string
		createdOn int64
		expiresOn int64
		readOn    sql.NullInt64
	)
	if err := row.Scan(&n.ID, &n.NotifiedUserID, &n.EventID, &eventType, &params, &reasons, &createdOn, &expiresOn, &readOn); err != nil {
		return notification.Notification{}, err
	}
	n.EventType = event.Type(eventType)
	n.EventParams = json.RawMessage(params)
	if err := json.Unmarshal([]byte(reasons), &n.Reasons); err != nil {
		return notification.Notification{}, fmt.Errorf("通知理由のデシリアライズに失敗 (id=%s): %w", n.ID, err)
	}
	n.CreatedOn = fromMillis(createdOn)
	n.ExpiresOn = fromMillis(expiresOn)
	n.ReadOn = timePtr(readOn)
	return n, nil
}

func (s *Store) queryNotifications(ctx context.Context, query string, args ...any) ([]notification.Notification, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []notification.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// ListNotifications はユーザーの通知を作成日時の降順で返す。
func (s *Store) ListNotifications(ctx context.Context, userID string) ([]notification.Notification, error) {
	notifications, err := s.queryNotifications(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE notified_user_id = ?
		ORDER BY created_on DESC, rowid DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗 (user=%s): %w", userID, err)
	}
	return notifications, nil
}

// ListUnreadNotifications はユーザーの未読通知を作成日時の降順で返す。
func (s *Store) ListUnreadNotifications(ctx context.Context, userID string) ([]notification.Notification, error) {
	notifications, err := s.queryNotifications(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE notified_user_id = ? AND read_on IS NULL
		ORDER BY created_on DESC, rowid DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("未読通知一覧の取得に失敗 (user=%s): %w", userID, err)
	}
	return notifications, nil
}

// GetNotification は通知を取得する。
func (s *Store) GetNotification(ctx context.Context, id string) (*notification.Notification, error) {
	n, err := scanNotification(s.db.QueryRowContext(ctx, `
		SELECT `+notificationColumns+` FROM notifications WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("通知の取得に失敗 (id=%s): %w", id, notification.ErrNotificationNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("通知の取得に失敗 (id=%s): %w", id, err)
	}
	return &n, nil
}

// ListNotificationsByEvent はイベントから生成された通知をユーザーID順に返す。
func (s *Store) ListNotificationsByEvent(ctx context.Context, eventID string) ([]notification.Notification, error) {
	notifications, err := s.queryNotifications(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE event_id = ?
		ORDER BY notified_user_id
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("イベントの通知一覧の取得に失敗 (event=%s): %w", eventID, err)
	}
	return notifications, nil
}

// MarkNotificationRead は通知を既読にする。既読済みの場合は既読日時を変えない。
func (s *Store) MarkNotificationRead(ctx context.Context, id string, readOn time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read_on = COALESCE(read_on, ?) WHERE id = ?
	`, toMillis(readOn), id)
	if err != nil {
		return fmt.Errorf("通知の既読処理に失敗 (id=%s): %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("通知の既読処理に失敗 (id=%s): %w", id, notification.ErrNotificationNotFound)
	}
	return nil
}

// MarkAllNotificationsRead はユーザーの未読通知をすべて既読にする。
func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID string, readOn time.Time) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read_on = ? WHERE notified_user_id = ? AND read_on IS NULL
	`, toMillis(readOn), userID); err != nil {
		return fmt.Errorf("全通知の既読処理に失敗 (user=%s): %w", userID, err)
	}
	return nil
}

// DeleteExpiredNotifications はExpiresOnがnow以前の通知を削除する。
func (s *Store) DeleteExpiredNotifications(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE expires_on <= ?`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("期限切れ通知の削除に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	return n, nil
}
