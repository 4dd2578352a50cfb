// Package event は書き込み側のドメインイベントを表す型を提供する。
//
// イベントはコンテンツ・コメント・ルームの各サービスが書き込み時に記録する
// 追記専用のレコードで、通知ファンアウトの入力になる。
package event

import (
	"encoding/json"
	"time"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeRevisionCreated はドキュメントの新しいリビジョンが作成されたことを表す。
	TypeRevisionCreated Type = "revisionCreated"
	// TypeCommentCreated はドキュメントにコメントが投稿されたことを表す。
	TypeCommentCreated Type = "commentCreated"
	// TypeRoomMessageCreated はルームにメッセージが投稿されたことを表す。
	TypeRoomMessageCreated Type = "roomMessageCreated"
)

// Valid は既知のイベント種別であればtrueを返す。
func (t Type) Valid() bool {
	switch t {
	case TypeRevisionCreated, TypeCommentCreated, TypeRoomMessageCreated:
		return true
	default:
		return false
	}
}

// Event は通知ファンアウト待ちの不変なイベントレコード。
// 変更されるのはProcessedOnとProcessingErrorsのみで、更新はイベント処理器だけが行う。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// Type はイベントの種類。
	Type Type `json:"type"`
	// Params はイベント種別ごとのパラメータ（JSON形式）。常に操作したユーザーのIDを含む。
	Params json.RawMessage `json:"params"`
	// CreatedOn はイベントが記録された日時。
	CreatedOn time.Time `json:"createdOn"`
	// ProcessedOn は処理が終端した日時。未処理の間はnilで、一度設定されたら戻らない。
	ProcessedOn *time.Time `json:"processedOn"`
	// ProcessingErrors は処理失敗の記録。長さは最大試行回数で頭打ちになる。
	ProcessingErrors []string `json:"processingErrors"`
}

// Processed はイベントが終端状態であればtrueを返す。
func (e *Event) Processed() bool {
	return e.ProcessedOn != nil
}

// RevisionCreatedParams はrevisionCreatedイベントのパラメータ。
type RevisionCreatedParams struct {
	// DocumentRevisionID は作成されたリビジョンのID。
	DocumentRevisionID string `json:"documentRevisionId"`
	// DocumentID はリビジョンが属するドキュメントのID。
	DocumentID string `json:"documentId"`
	// RoomID はドキュメントが属するルームのID。公開ドキュメントの場合は空。
	RoomID string `json:"roomId,omitempty"`
	// UserID はリビジョンを作成したユーザーのID。
	UserID string `json:"userId"`
}

// CommentCreatedParams はcommentCreatedイベントのパラメータ。
type CommentCreatedParams struct {
	// CommentID は投稿されたコメントのID。
	CommentID string `json:"commentId"`
	// DocumentID はコメント対象のドキュメントのID。
	DocumentID string `json:"documentId"`
	// UserID はコメントを投稿したユーザーのID。
	UserID string `json:"userId"`
}

// RoomMessageCreatedParams はroomMessageCreatedイベントのパラメータ。
type RoomMessageCreatedParams struct {
	// RoomMessageID は投稿されたメッセージのID。
	RoomMessageID string `json:"roomMessageId"`
	// RoomID はメッセージが投稿されたルームのID。
	RoomID string `json:"roomId"`
	// UserID はメッセージを投稿したユーザーのID。
	UserID string `json:"userId"`
}
