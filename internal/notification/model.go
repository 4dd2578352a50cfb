package notification

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/nao1215/notifier/pkg/event"
)

// DefaultRetention は通知の保持期間。作成からこの期間を過ぎた通知は削除対象になる。
const DefaultRetention = 30 * 24 * time.Hour

// DefaultMaxAttempts はイベント処理の最大試行回数。
const DefaultMaxAttempts = 3

// Reason はユーザーに通知する理由を表す。
type Reason string

const (
	// ReasonRoomMembership はユーザーがルームのオーナーまたはメンバーであることを表す。
	ReasonRoomMembership Reason = "roomMembership"
	// ReasonRoomFavorite はユーザーがルームをお気に入りに登録していることを表す。
	ReasonRoomFavorite Reason = "roomFavorite"
	// ReasonDocumentFavorite はユーザーがドキュメントをお気に入りに登録していることを表す。
	ReasonDocumentFavorite Reason = "documentFavorite"
	// ReasonUserFavorite はユーザーが操作したユーザーをお気に入りに登録していることを表す。
	ReasonUserFavorite Reason = "userFavorite"
)

// Notification はユーザーごとの通知レコード。
type Notification struct {
	// ID は通知の一意識別子（UUID）。
	ID string `json:"id"`
	// NotifiedUserID は通知先のユーザーID。
	NotifiedUserID string `json:"notifiedUserId"`
	// EventID は通知の元になったイベントのID。
	EventID string `json:"eventId"`
	// EventType はイベントの種類。
	EventType event.Type `json:"eventType"`
	// EventParams はイベントのパラメータのコピー。
	EventParams json.RawMessage `json:"eventParams"`
	// Reasons は通知する理由。空になることはない。
	Reasons []Reason `json:"reasons"`
	// CreatedOn はイベントの作成日時と同じ値。
	CreatedOn time.Time `json:"createdOn"`
	// ExpiresOn は通知が削除対象になる日時。
	ExpiresOn time.Time `json:"expiresOn"`
	// ReadOn は既読にした日時。未読の間はnil。
	ReadOn *time.Time `json:"readOn"`
}

// NewNotification はイベントから通知を生成する。
func NewNotification(ev *event.Event, userID string, reasons []Reason, retention time.Duration) Notification {
	return Notification{
		ID:             uuid.New().String(),
		NotifiedUserID: userID,
		EventID:        ev.ID,
		EventType:      ev.Type,
		EventParams:    slices.Clone(ev.Params),
		Reasons:        slices.Clone(reasons),
		CreatedOn:      ev.CreatedOn,
		ExpiresOn:      ev.CreatedOn.Add(retention),
		ReadOn:         nil,
	}
}

// FavoriteType はお気に入りの対象の種類。
type FavoriteType string

const (
	// FavoriteRoom はルームのお気に入り。
	FavoriteRoom FavoriteType = "room"
	// FavoriteDocument はドキュメントのお気に入り。
	FavoriteDocument FavoriteType = "document"
	// FavoriteUser はユーザーのお気に入り。
	FavoriteUser FavoriteType = "user"
)

// Favorite はユーザーのお気に入り登録。
type Favorite struct {
	Type FavoriteType `json:"type"`
	ID   string       `json:"id"`
}

// User はファンアウトで評価するユーザーの最小ビュー。
type User struct {
	ID        string     `json:"id"`
	CreatedOn time.Time  `json:"createdOn"`
	Favorites []Favorite `json:"favorites"`
}

// HasFavorite は指定された対象をお気に入りに登録していればtrueを返す。
func (u User) HasFavorite(typ FavoriteType, id string) bool {
	if id == "" {
		return false
	}
	return slices.Contains(u.Favorites, Favorite{Type: typ, ID: id})
}

// RoomMember はルームに招待されたメンバー。
type RoomMember struct {
	UserID string `json:"userId"`
}

// Room はルームの最小ビュー。
type Room struct {
	ID      string       `json:"id"`
	OwnerID string       `json:"owner"`
	Members []RoomMember `json:"members"`
}

// HasOwnerOrMember はユーザーがオーナーまたはメンバーであればtrueを返す。
func (r *Room) HasOwnerOrMember(userID string) bool {
	if r == nil {
		return false
	}
	if r.OwnerID == userID {
		return true
	}
	return slices.ContainsFunc(r.Members, func(m RoomMember) bool { return m.UserID == userID })
}

// Document はドキュメントの最小ビュー。
type Document struct {
	ID string `json:"id"`
	// RoomID はドキュメントが属するルームのID。公開ドキュメントの場合は空。
	RoomID string `json:"roomId"`
	// Draft はルーム内ドキュメントが下書きであればtrue。
	Draft bool `json:"draft"`
}

// DocumentRevision はドキュメントリビジョンの最小ビュー。
type DocumentRevision struct {
	ID         string `json:"id"`
	DocumentID string `json:"documentId"`
	RoomID     string `json:"roomId"`
	Draft      bool   `json:"draft"`
}
