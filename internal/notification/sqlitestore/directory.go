package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nao1215/notifier/internal/notification"
)

// userIterator はsql.Rowsを1行ずつユーザーに変換する。
type userIterator struct {
	rows *sql.Rows
}

// Next は次のユーザーを返す。
func (it *userIterator) Next(_ context.Context) (notification.User, bool, error) {
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			return notification.User{}, false, fmt.Errorf("ユーザーの読み込みに失敗: %w", err)
		}
		return notification.User{}, false, nil
	}

	var (
		u         notification.User
		createdOn int64
		favorites string
	)
	if err := it.rows.Scan(&u.ID, &createdOn, &favorites); err != nil {
		return notification.User{}, false, fmt.Errorf("ユーザーの読み込みに失敗: %w", err)
	}
	u.CreatedOn = fromMillis(createdOn)
	if err := json.Unmarshal([]byte(favorites), &u.Favorites); err != nil {
		return notification.User{}, false, fmt.Errorf("お気に入りのデシリアライズに失敗 (user=%s): %w", u.ID, err)
	}
	return u, true, nil
}

// Close は結果セットを閉じてコネクションを返却する。
func (it *userIterator) Close() error {
	return it.rows.Close()
}

// StreamActiveUsers はアクティブなユーザーを登録順に返すイテレータを開く。
// イテレータを閉じるまでコネクションを占有する。
func (s *Store) StreamActiveUsers(ctx context.Context) (notification.UserIterator, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_on, favorites FROM users
		WHERE active = 1
		ORDER BY created_on, id
	`)
	if err != nil {
		return nil, fmt.Errorf("アクティブユーザーの検索に失敗: %w", err)
	}
	return &userIterator{rows: rows}, nil
}

// GetDocument はドキュメントを取得する。削除済みの場合はnilを返す。
func (s *Store) GetDocument(ctx context.Context, id string) (*notification.Document, error) {
	var (
		d     notification.Document
		draft int
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, room_id, draft FROM documents WHERE id = ?`, id).
		Scan(&d.ID, &d.RoomID, &draft)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ドキュメントの取得に失敗 (id=%s): %w", id, err)
	}
	d.Draft = draft != 0
	return &d, nil
}

// GetDocumentRevision はリビジョンを取得する。削除済みの場合はnilを返す。
func (s *Store) GetDocumentRevision(ctx context.Context, id string) (*notification.DocumentRevision, error) {
	var (
		r     notification.DocumentRevision
		draft int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, room_id, draft FROM document_revisions WHERE id = ?
	`, id).Scan(&r.ID, &r.DocumentID, &r.RoomID, &draft)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("リビジョンの取得に失敗 (id=%s): %w", id, err)
	}
	r.Draft = draft != 0
	return &r, nil
}

// GetRoom はルームとメンバーを取得する。削除済みの場合はnilを返す。
func (s *Store) GetRoom(ctx context.Context, id string) (*notification.Room, error) {
	room := notification.Room{ID: id}
	err := s.db.QueryRowContext(ctx, `SELECT owner_id FROM rooms WHERE id = ?`, id).Scan(&room.OwnerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ルームの取得に失敗 (id=%s): %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM room_members WHERE room_id = ? ORDER BY user_id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("ルームメンバーの取得に失敗 (id=%s): %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var m notification.RoomMember
		if err := rows.Scan(&m.UserID); err != nil {
			return nil, fmt.Errorf("ルームメンバーの読み込みに失敗 (id=%s): %w", id, err)
		}
		room.Members = append(room.Members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ルームメンバーの読み込みに失敗 (id=%s): %w", id, err)
	}
	return &room, nil
}

// PutUser はユーザーをアクティブな状態で登録または更新する。
func (s *Store) PutUser(ctx context.Context, u notification.User) error {
	favorites := u.Favorites
	if favorites == nil {
		favorites = []notification.Favorite{}
	}
	b, err := json.Marshal(favorites)
	if err != nil {
		return fmt.Errorf("お気に入りのシリアライズに失敗: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, created_on, favorites, active) VALUES (?, ?, ?, 1)
		ON CONFLICT (id) DO UPDATE
			SET created_on = excluded.created_on, favorites = excluded.favorites, active = 1
	`, u.ID, toMillis(u.CreatedOn), string(b)); err != nil {
		return fmt.Errorf("ユーザーの登録に失敗 (id=%s): %w", u.ID, err)
	}
	return nil
}

// DeactivateUser はユーザーを非アクティブにする。非アクティブなユーザーには通知しない。
func (s *Store) DeactivateUser(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE users SET active = 0 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("ユーザーの無効化に失敗 (id=%s): %w", id, err)
	}
	return nil
}

// PutRoom はルームとメンバーを登録または置き換える。
func (s *Store) PutRoom(ctx context.Context, room notification.Room) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO rooms (id, owner_id) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET owner_id = excluded.owner_id
	`, room.ID, room.OwnerID); err != nil {
		return fmt.Errorf("ルームの登録に失敗 (id=%s): %w", room.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM room_members WHERE room_id = ?`, room.ID); err != nil {
		return fmt.Errorf("ルームメンバーの削除に失敗 (id=%s): %w", room.ID, err)
	}
	for _, m := range room.Members {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO room_members (room_id, user_id) VALUES (?, ?)
		`, room.ID, m.UserID); err != nil {
			return fmt.Errorf("ルームメンバーの登録に失敗 (id=%s): %w", room.ID, err)
		}
	}
	return tx.Commit()
}

// DeleteRoom はルームとメンバーを削除する。
func (s *Store) DeleteRoom(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM room_members WHERE room_id = ?`, id); err != nil {
		return fmt.Errorf("ルームメンバーの削除に失敗 (id=%s): %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id); err != nil {
		return fmt.Errorf("ルームの削除に失敗 (id=%s): %w", id, err)
	}
	return tx.Commit()
}

// PutDocument はドキュメントを登録または更新する。
func (s *Store) PutDocument(ctx context.Context, d notification.Document) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, room_id, draft) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET room_id = excluded.room_id, draft = excluded.draft
	`, d.ID, d.RoomID, boolToInt(d.Draft)); err != nil {
		return fmt.Errorf("ドキュメントの登録に失敗 (id=%s): %w", d.ID, err)
	}
	return nil
}

// DeleteDocument はドキュメントを削除する。
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("ドキュメントの削除に失敗 (id=%s): %w", id, err)
	}
	return nil
}

// PutDocumentRevision はリビジョンを登録または更新する。
func (s *Store) PutDocumentRevision(ctx context.Context, r notification.DocumentRevision) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO document_revisions (id, document_id, room_id, draft) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
			SET document_id = excluded.document_id, room_id = excluded.room_id, draft = excluded.draft
	`, r.ID, r.DocumentID, r.RoomID, boolToInt(r.Draft)); err != nil {
		return fmt.Errorf("リビジョンの登録に失敗 (id=%s): %w", r.ID, err)
	}
	return nil
}

// DeleteDocumentRevision はリビジョンを削除する。
func (s *Store) DeleteDocumentRevision(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM document_revisions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("リビジョンの削除に失敗 (id=%s): %w", id, err)
	}
	return nil
}
