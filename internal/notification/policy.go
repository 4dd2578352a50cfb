package notification

import "github.com/nao1215/notifier/pkg/event"

// Refs はイベント処理の1回の試行で読み込んだ参照先コンテンツの情報。
// 受信者ポリシーはこれとユーザーだけを見て判定する。
type Refs struct {
	// ActorID はイベントを発生させたユーザーのID。
	ActorID string
	// DocumentID は対象ドキュメントのID。ルームメッセージの場合は空。
	DocumentID string
	// RoomID は対象コンテンツが属するルームのID。公開コンテンツの場合は空。
	RoomID string
	// Exists は主な参照先（リビジョン・ドキュメント・ルーム）が削除されていなければtrue。
	Exists bool
	// Draft は種別ごとの下書きフラグ。
	Draft bool
	// Room はRoomIDのルーム。削除済みの場合はnil。
	Room *Room
}

// RoomBound はコンテンツがルームに属していればtrueを返す。
func (r Refs) RoomBound() bool {
	return r.RoomID != ""
}

// ShouldNotify はユーザーにイベントを通知すべきかを判定する。
// 副作用はなく、同じ入力には常に同じ結果を返す。
func ShouldNotify(ev *event.Event, refs Refs, user User) bool {
	if !refs.Exists {
		return false
	}
	if user.CreatedOn.After(ev.CreatedOn) {
		return false
	}
	if user.ID == refs.ActorID {
		return false
	}
	if refs.RoomBound() {
		// 下書きは誰にも通知しない
		if refs.Draft {
			return false
		}
		// ルーム外のユーザーにはルーム内コンテンツを通知しない
		if !refs.Room.HasOwnerOrMember(user.ID) {
			return false
		}
	}
	return true
}

// DetermineReasons は通知する理由をすべて返す。ShouldNotifyを通過したユーザーに対してのみ呼ぶ。
// 結果の順序はroomMembership, documentFavorite, roomFavorite, userFavoriteで固定。
func DetermineReasons(refs Refs, user User) []Reason {
	reasons := make([]Reason, 0, 4)
	if refs.RoomBound() && refs.Room.HasOwnerOrMember(user.ID) {
		reasons = append(reasons, ReasonRoomMembership)
	}
	if user.HasFavorite(FavoriteDocument, refs.DocumentID) {
		reasons = append(reasons, ReasonDocumentFavorite)
	}
	if user.HasFavorite(FavoriteRoom, refs.RoomID) {
		reasons = append(reasons, ReasonRoomFavorite)
	}
	if user.HasFavorite(FavoriteUser, refs.ActorID) {
		reasons = append(reasons, ReasonUserFavorite)
	}
	return reasons
}
