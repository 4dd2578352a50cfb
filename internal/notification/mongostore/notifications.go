package mongostore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nao1215/notifier/internal/notification"
	"github.com/nao1215/notifier/pkg/event"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// notificationDoc はnotificationsコレクションのドキュメント。
type notificationDoc struct {
	ID             string     `bson:"_id"`
	NotifiedUserID string     `bson:"notified_user_id"`
	EventID        string     `bson:"event_id"`
	EventType      string     `bson:"event_type"`
	EventParams    string     `bson:"event_params"`
	Reasons        []string   `bson:"reasons"`
	CreatedOn      time.Time  `bson:"created_on"`
	ExpiresOn      time.Time  `bson:"expires_on"`
	ReadOn         *time.Time `bson:"read_on"`
}

func toNotificationDoc(n notification.Notification) notificationDoc {
	reasons := make([]string, 0, len(n.Reasons))
	for _, r := range n.Reasons {
		reasons = append(reasons, string(r))
	}
	return notificationDoc{
		ID:             n.ID,
		NotifiedUserID: n.NotifiedUserID,
		EventID:        n.EventID,
		EventType:      string(n.EventType),
		EventParams:    string(n.EventParams),
		Reasons:        reasons,
		CreatedOn:      n.CreatedOn,
		ExpiresOn:      n.ExpiresOn,
		ReadOn:         n.ReadOn,
	}
}

func (d notificationDoc) toNotification() notification.Notification {
	reasons := make([]notification.Reason, 0, len(d.Reasons))
	for _, r := range d.Reasons {
		reasons = append(reasons, notification.Reason(r))
	}
	return notification.Notification{
		ID:             d.ID,
		NotifiedUserID: d.NotifiedUserID,
		EventID:        d.EventID,
		EventType:      event.Type(d.EventType),
		EventParams:    json.RawMessage(d.EventParams),
		Reasons:        reasons,
		CreatedOn:      d.CreatedOn.UTC(),
		ExpiresOn:      d.ExpiresOn.UTC(),
		ReadOn:         utcPtr(d.ReadOn),
	}
}

func (s *Store) findNotifications(ctx context.Context, filter bson.M, sort bson.D) ([]notification.Notification, error) {
	cur, err := s.db.Collection(collNotifications).Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return nil, err
	}
	var docs []notificationDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	notifications := make([]notification.Notification, 0, len(docs))
	for _, d := range docs {
		notifications = append(notifications, d.toNotification())
	}
	return notifications, nil
}

var newestFirst = bson.D{{Key: "created_on", Value: -1}, {Key: "_id", Value: -1}}

// ListNotifications はユーザーの通知を作成日時の降順で返す。
func (s *Store) ListNotifications(ctx context.Context, userID string) ([]notification.Notification, error) {
	notifications, err := s.findNotifications(ctx, bson.M{"notified_user_id": userID}, newestFirst)
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗 (user=%s): %w", userID, err)
	}
	return notifications, nil
}

// ListUnreadNotifications はユーザーの未読通知を作成日時の降順で返す。
func (s *Store) ListUnreadNotifications(ctx context.Context, userID string) ([]notification.Notification, error) {
	notifications, err := s.findNotifications(ctx, bson.M{"notified_user_id": userID, "read_on": nil}, newestFirst)
	if err != nil {
		return nil, fmt.Errorf("未読通知一覧の取得に失敗 (user=%s): %w", userID, err)
	}
	return notifications, nil
}

// ListNotificationsByEvent はイベントから生成された通知をユーザーID順に返す。
func (s *Store) ListNotificationsByEvent(ctx context.Context, eventID string) ([]notification.Notification, error) {
	notifications, err := s.findNotifications(ctx, bson.M{"event_id": eventID}, bson.D{{Key: "notified_user_id", Value: 1}})
	if err != nil {
		return nil, fmt.Errorf("イベントの通知一覧の取得に失敗 (event=%s): %w", eventID, err)
	}
	return notifications, nil
}

// GetNotification は通知を取得する。
func (s *Store) GetNotification(ctx context.Context, id string) (*notification.Notification, error) {
	var doc notificationDoc
	err := s.db.Collection(collNotifications).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("通知の取得に失敗 (id=%s): %w", id, notification.ErrNotificationNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("通知の取得に失敗 (id=%s): %w", id, err)
	}
	n := doc.toNotification()
	return &n, nil
}

// MarkNotificationRead は通知を既読にする。既読済みの場合は既読日時を変えない。
func (s *Store) MarkNotificationRead(ctx context.Context, id string, readOn time.Time) error {
	res, err := s.db.Collection(collNotifications).UpdateOne(ctx,
		bson.M{"_id": id},
		mongo.Pipeline{{{Key: "$set", Value: bson.M{
			"read_on": bson.M{"$ifNull": bson.A{"$read_on", readOn}},
		}}}},
	)
	if err != nil {
		return fmt.Errorf("通知の既読処理に失敗 (id=%s): %w", id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("通知の既読処理に失敗 (id=%s): %w", id, notification.ErrNotificationNotFound)
	}
	return nil
}

// MarkAllNotificationsRead はユーザーの未読通知をすべて既読にする。
func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID string, readOn time.Time) error {
	if _, err := s.db.Collection(collNotifications).UpdateMany(ctx,
		bson.M{"notified_user_id": userID, "read_on": nil},
		bson.M{"$set": bson.M{"read_on": readOn}},
	); err != nil {
		return fmt.Errorf("全通知の既読処理に失敗 (user=%s): %w", userID, err)
	}
	return nil
}

// DeleteExpiredNotifications はExpiresOnがnow以前の通知を削除する。
func (s *Store) DeleteExpiredNotifications(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.Collection(collNotifications).DeleteMany(ctx, bson.M{"expires_on": bson.M{"$lte": now}})
	if err != nil {
		return 0, fmt.Errorf("期限切れ通知の削除に失敗: %w", err)
	}
	return res.DeletedCount, nil
}
