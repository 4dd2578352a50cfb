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

// eventDoc はeventsコレクションのドキュメント。
type eventDoc struct {
	ID               string     `bson:"_id"`
	Type             string     `bson:"type"`
	Params           string     `bson:"params"`
	CreatedOn        time.Time  `bson:"created_on"`
	ProcessedOn      *time.Time `bson:"processed_on"`
	ProcessingErrors []string   `bson:"processing_errors"`
}

func toEventDoc(ev *event.Event) eventDoc {
	errs := ev.ProcessingErrors
	if errs == nil {
		errs = []string{}
	}
	return eventDoc{
		ID:               ev.ID,
		Type:             string(ev.Type),
		Params:           string(ev.Params),
		CreatedOn:        ev.CreatedOn,
		ProcessedOn:      ev.ProcessedOn,
		ProcessingErrors: errs,
	}
}

func (d eventDoc) toEvent() *event.Event {
	errs := d.ProcessingErrors
	if errs == nil {
		errs = []string{}
	}
	return &event.Event{
		ID:               d.ID,
		Type:             event.Type(d.Type),
		Params:           json.RawMessage(d.Params),
		CreatedOn:        d.CreatedOn.UTC(),
		ProcessedOn:      utcPtr(d.ProcessedOn),
		ProcessingErrors: errs,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// OldestUnprocessedEventID は未処理のイベントのうち作成日時が最も古いもののIDを返す。
func (s *Store) OldestUnprocessedEventID(ctx context.Context) (string, bool, error) {
	var doc struct {
		ID string `bson:"_id"`
	}
	err := s.db.Collection(collEvents).FindOne(ctx,
		bson.M{"processed_on": nil},
		options.FindOne().
			SetSort(bson.D{{Key: "created_on", Value: 1}, {Key: "_id", Value: 1}}).
			SetProjection(bson.M{"_id": 1}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("未処理イベントの検索に失敗: %w", err)
	}
	return doc.ID, true, nil
}

// GetEventByID はイベントを取得する。
func (s *Store) GetEventByID(ctx context.Context, id string) (*event.Event, error) {
	var doc eventDoc
	err := s.db.Collection(collEvents).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("イベントの取得に失敗 (id=%s): %w", id, notification.ErrEventNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("イベントの取得に失敗 (id=%s): %w", id, err)
	}
	return doc.toEvent(), nil
}

// RecordEvent はイベントを記録する。
func (s *Store) RecordEvent(ctx context.Context, ev *event.Event) error {
	if _, err := s.db.Collection(collEvents).InsertOne(ctx, toEventDoc(ev)); err != nil {
		return fmt.Errorf("イベントの記録に失敗 (id=%s): %w", ev.ID, err)
	}
	return nil
}

// CommitEvent はイベントの更新と通知の挿入を1つのトランザクションで行う。
func (s *Store) CommitEvent(ctx context.Context, ev *event.Event, notifications []notification.Notification) error {
	sess, err := s.db.Client().StartSession()
	if err != nil {
		return fmt.Errorf("セッション開始に失敗: %w", err)
	}
	defer sess.EndSession(ctx)

	doc := toEventDoc(ev)
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		// 処理済みのイベントは書き換えない
		res, err := s.db.Collection(collEvents).UpdateOne(sc,
			bson.M{"_id": ev.ID, "processed_on": nil},
			bson.M{"$set": bson.M{
				"processed_on":      doc.ProcessedOn,
				"processing_errors": doc.ProcessingErrors,
			}},
		)
		if err != nil {
			return nil, fmt.Errorf("イベントの更新に失敗 (id=%s): %w", ev.ID, err)
		}
		if res.MatchedCount == 0 {
			n, err := s.db.Collection(collEvents).CountDocuments(sc, bson.M{"_id": ev.ID})
			if err != nil {
				return nil, fmt.Errorf("イベントの存在確認に失敗 (id=%s): %w", ev.ID, err)
			}
			if n == 0 {
				return nil, fmt.Errorf("イベントの更新に失敗 (id=%s): %w", ev.ID, notification.ErrEventNotFound)
			}
			return nil, fmt.Errorf("イベントの更新を中止 (id=%s): %w", ev.ID, notification.ErrEventAlreadyProcessed)
		}

		if len(notifications) == 0 {
			return nil, nil
		}
		docs := make([]any, 0, len(notifications))
		for _, n := range notifications {
			docs = append(docs, toNotificationDoc(n))
		}
		if _, err := s.db.Collection(collNotifications).InsertMany(sc, docs); err != nil {
			return nil, fmt.Errorf("通知の挿入に失敗 (event=%s): %w", ev.ID, err)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("コミットに失敗: %w", err)
	}
	return nil
}
