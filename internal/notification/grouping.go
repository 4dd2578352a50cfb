package notification

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/nao1215/notifier/pkg/event"
)

// NotificationGroup は表示用にまとめた連続する同一対象の通知。
type NotificationGroup struct {
	// NotificationIDs はグループに含まれる通知のID（入力順）。
	NotificationIDs []string `json:"notificationIds"`
	// EventType はグループ先頭の通知のイベント種別。
	EventType event.Type `json:"eventType"`
	// EventParams はグループ先頭の通知のイベントパラメータのコピー。
	EventParams json.RawMessage `json:"eventParams"`
	// FirstCreatedOn はグループ内で最も古い通知の作成日時。
	FirstCreatedOn time.Time `json:"firstCreatedOn"`
	// LastCreatedOn はグループ内で最も新しい通知の作成日時。
	LastCreatedOn time.Time `json:"lastCreatedOn"`
}

type groupKey struct {
	eventType event.Type
	subjectID string
}

// subjectKey は通知のグループキーを返す。
// 入力はこのパッケージが生成した通知である前提のため、未知の種別はプログラムの誤りとしてパニックする。
func subjectKey(n Notification) groupKey {
	var params struct {
		DocumentID string `json:"documentId"`
		RoomID     string `json:"roomId"`
	}
	if err := json.Unmarshal(n.EventParams, &params); err != nil {
		panic(fmt.Sprintf("通知 %s のイベントパラメータを解釈できません: %v", n.ID, err))
	}

	switch n.EventType {
	case event.TypeRevisionCreated, event.TypeCommentCreated:
		return groupKey{eventType: n.EventType, subjectID: params.DocumentID}
	case event.TypeRoomMessageCreated:
		return groupKey{eventType: n.EventType, subjectID: params.RoomID}
	default:
		panic(fmt.Sprintf("通知 %s のイベント種別 %q はグループ化できません", n.ID, n.EventType))
	}
}

// GroupNotifications は作成日時の降順に並んだ通知のうち、隣接していて
// イベント種別と対象が同じものを1つのグループにまとめる。
// 離れた位置に同じキーが再び現れた場合は別のグループになる。
func GroupNotifications(notifications []Notification) []NotificationGroup {
	groups := make([]NotificationGroup, 0, len(notifications))

	var current *NotificationGroup
	var currentKey groupKey
	for _, n := range notifications {
		key := subjectKey(n)
		if current != nil && key == currentKey {
			current.NotificationIDs = append(current.NotificationIDs, n.ID)
			if n.CreatedOn.Before(current.FirstCreatedOn) {
				current.FirstCreatedOn = n.CreatedOn
			}
			if n.CreatedOn.After(current.LastCreatedOn) {
				current.LastCreatedOn = n.CreatedOn
			}
			continue
		}

		groups = append(groups, NotificationGroup{
			NotificationIDs: []string{n.ID},
			EventType:       n.EventType,
			EventParams:     slices.Clone(n.EventParams),
			FirstCreatedOn:  n.CreatedOn,
			LastCreatedOn:   n.CreatedOn,
		})
		current = &groups[len(groups)-1]
		currentKey = key
	}
	return groups
}
