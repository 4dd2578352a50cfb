package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New は未処理状態の新しいイベントを生成する。
// paramsにはイベント種別ごとのパラメータ構造体を渡す。JSON形式にシリアライズされる。
func New(eventType Type, params any) (*Event, error) {
	if !eventType.Valid() {
		return nil, fmt.Errorf("未知のイベント種別です: %q", eventType)
	}

	jsonParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("イベントパラメータのシリアライズに失敗: %w", err)
	}

	return &Event{
		ID:               uuid.New().String(),
		Type:             eventType,
		Params:           jsonParams,
		CreatedOn:        time.Now().UTC(),
		ProcessedOn:      nil,
		ProcessingErrors: []string{},
	}, nil
}

// NewRevisionCreated はrevisionCreatedイベントを生成する。
func NewRevisionCreated(params RevisionCreatedParams) (*Event, error) {
	return New(TypeRevisionCreated, params)
}

// NewCommentCreated はcommentCreatedイベントを生成する。
func NewCommentCreated(params CommentCreatedParams) (*Event, error) {
	return New(TypeCommentCreated, params)
}

// NewRoomMessageCreated はroomMessageCreatedイベントを生成する。
func NewRoomMessageCreated(params RoomMessageCreatedParams) (*Event, error) {
	return New(TypeRoomMessageCreated, params)
}

// DecodeParams はイベントのParamsフィールドを指定された型にデシリアライズする。
func DecodeParams[T any](e *Event) (*T, error) {
	var params T
	if err := json.Unmarshal(e.Params, &params); err != nil {
		return nil, fmt.Errorf("イベントパラメータのデシリアライズに失敗: %w", err)
	}
	return &params, nil
}

// ActorID はイベントを発生させたユーザーのIDを返す。
// すべてのイベント種別のパラメータはuserIdを含む。
func ActorID(e *Event) (string, error) {
	params, err := DecodeParams[struct {
		UserID string `json:"userId"`
	}](e)
	if err != nil {
		return "", err
	}
	return params.UserID, nil
}
