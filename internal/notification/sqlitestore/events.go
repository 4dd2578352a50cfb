package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nao1215/notifier/internal/notification"
	"github.com/nao1215/notifier/pkg/event"
)

// OldestUnprocessedEventID は未処理のイベントのうち作成日時が最も古いもののIDを返す。
// 作成日時が同じ場合は記録した順に返す。
func (s *Store) OldestUnprocessedEventID(ctx context.Context) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM events
		WHERE processed_on IS NULL
		ORDER BY created_on, rowid
		LIMIT 1
	`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("未処理イベントの検索に失敗: %w", err)
	}
	return id, true, nil
}

// GetEventByID はイベントを取得する。
func (s *Store) GetEventByID(ctx context.Context, id string) (*event.Event, error) {
	var (
		ev          event.Event
		typ         string
		params      string
		createdOn   int64
		processedOn sql.NullInt64
		errs        string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, type, params, created_on, processed_on, processing_errors
		FROM events WHERE id = ?
	`, id).Scan(&ev.ID, &typ, &params, &createdOn, &processedOn, &errs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("イベントの取得に失敗 (id=%s): %w", id, notification.ErrEventNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("イベントの取得に失敗 (id=%s): %w", id, err)
	}

	ev.Type = event.Type(typ)
	ev.Params = json.RawMessage(params)
	ev.CreatedOn = fromMillis(createdOn)
	ev.ProcessedOn = timePtr(processedOn)
	if err := json.Unmarshal([]byte(errs), &ev.ProcessingErrors); err != nil {
		return nil, fmt.Errorf("処理エラー履歴のデシリアライズに失敗 (id=%s): %w", id, err)
	}
	return &ev, nil
}

// RecordEvent はイベントを記録する。
func (s *Store) RecordEvent(ctx context.Context, ev *event.Event) error {
	errs, err := marshalErrors(ev.ProcessingErrors)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, type, params, created_on, processed_on, processing_errors)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ev.ID, string(ev.Type), string(ev.Params), toMillis(ev.CreatedOn), nullMillis(ev.ProcessedOn), errs); err != nil {
		return fmt.Errorf("イベントの記録に失敗 (id=%s): %w", ev.ID, err)
	}
	return nil
}

// CommitEvent はイベントの更新と通知の挿入を1つのトランザクションで行う。
func (s *Store) CommitEvent(ctx context.Context, ev *event.Event, notifications []notification.Notification) error {
	errs, err := marshalErrors(ev.ProcessingErrors)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// 処理済みのイベントは書き換えない
	res, err := tx.ExecContext(ctx, `
		UPDATE events SET processed_on = ?, processing_errors = ?
		WHERE id = ? AND processed_on IS NULL
	`, nullMillis(ev.ProcessedOn), errs, ev.ID)
	if err != nil {
		return fmt.Errorf("イベントの更新に失敗 (id=%s): %w", ev.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("更新件数の取得に失敗: %w", err)
	} else if n == 0 {
		return s.missedUpdate(ctx, tx, ev.ID)
	}

	if len(notifications) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO notifications
				(id, notified_user_id, event_id, event_type, event_params, reasons, created_on, expires_on, read_on)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("通知挿入文の準備に失敗: %w", err)
		}
		defer stmt.Close()

		for _, n := range notifications {
			reasons, err := json.Marshal(n.Reasons)
			if err != nil {
				return fmt.Errorf("通知理由のシリアライズに失敗: %w", err)
			}
			if _, err := stmt.ExecContext(ctx,
				n.ID, n.NotifiedUserID, n.EventID, string(n.EventType), string(n.EventParams),
				string(reasons), toMillis(n.CreatedOn), toMillis(n.ExpiresOn), nullMillis(n.ReadOn),
			); err != nil {
				return fmt.Errorf("通知の挿入に失敗 (user=%s): %w", n.NotifiedUserID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("コミットに失敗: %w", err)
	}
	return nil
}

// missedUpdate は更新対象が無かった理由を判別してエラーを返す。
func (s *Store) missedUpdate(ctx context.Context, tx *sql.Tx, id string) error {
	var exists int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM events WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("イベントの更新に失敗 (id=%s): %w", id, notification.ErrEventNotFound)
	}
	if err != nil {
		return fmt.Errorf("イベントの存在確認に失敗 (id=%s): %w", id, err)
	}
	return fmt.Errorf("イベントの更新を中止 (id=%s): %w", id, notification.ErrEventAlreadyProcessed)
}

func marshalErrors(errs []string) (string, error) {
	if errs == nil {
		errs = []string{}
	}
	b, err := json.Marshal(errs)
	if err != nil {
		return "", fmt.Errorf("処理エラー履歴のシリアライズに失敗: %w", err)
	}
	return string(b), nil
}
