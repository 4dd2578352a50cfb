package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nao1215/notifier/internal/notification"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type favoriteDoc struct {
	Type string `bson:"type"`
	ID   string `bson:"id"`
}

// userDoc はusersコレクションのドキュメント。
type userDoc struct {
	ID        string        `bson:"_id"`
	CreatedOn time.Time     `bson:"created_on"`
	Favorites []favoriteDoc `bson:"favorites"`
	Active    bool          `bson:"active"`
}

func (d userDoc) toUser() notification.User {
	u := notification.User{ID: d.ID, CreatedOn: d.CreatedOn.UTC()}
	for _, f := range d.Favorites {
		u.Favorites = append(u.Favorites, notification.Favorite{Type: notification.FavoriteType(f.Type), ID: f.ID})
	}
	return u
}

type roomMemberDoc struct {
	UserID string `bson:"user_id"`
}

// roomDoc はroomsコレクションのドキュメント。
type roomDoc struct {
	ID      string          `bson:"_id"`
	OwnerID string          `bson:"owner_id"`
	Members []roomMemberDoc `bson:"members"`
}

// documentDoc はdocumentsコレクションのドキュメント。
type documentDoc struct {
	ID     string `bson:"_id"`
	RoomID string `bson:"room_id"`
	Draft  bool   `bson:"draft"`
}

// revisionDoc はdocument_revisionsコレクションのドキュメント。
type revisionDoc struct {
	ID         string `bson:"_id"`
	DocumentID string `bson:"document_id"`
	RoomID     string `bson:"room_id"`
	Draft      bool   `bson:"draft"`
}

// userIterator はカーソルを1件ずつユーザーに変換する。
type userIterator struct {
	cur *mongo.Cursor
}

// Next は次のユーザーを返す。
func (it *userIterator) Next(ctx context.Context) (notification.User, bool, error) {
	if !it.cur.Next(ctx) {
		if err := it.cur.Err(); err != nil {
			return notification.User{}, false, fmt.Errorf("ユーザーの読み込みに失敗: %w", err)
		}
		return notification.User{}, false, nil
	}
	var doc userDoc
	if err := it.cur.Decode(&doc); err != nil {
		return notification.User{}, false, fmt.Errorf("ユーザーのデコードに失敗: %w", err)
	}
	return doc.toUser(), true, nil
}

// Close はカーソルを閉じる。
func (it *userIterator) Close() error {
	return it.cur.Close(context.Background())
}

// StreamActiveUsers はアクティブなユーザーを登録順に返すイテレータを開く。
func (s *Store) StreamActiveUsers(ctx context.Context) (notification.UserIterator, error) {
	cur, err := s.db.Collection(collUsers).Find(ctx,
		bson.M{"active": true},
		options.Find().SetSort(bson.D{{Key: "created_on", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("アクティブユーザーの検索に失敗: %w", err)
	}
	return &userIterator{cur: cur}, nil
}

// findByID はidのドキュメントをoutにデコードする。存在しない場合はfalseを返す。
func (s *Store) findByID(ctx context.Context, collection, id string, out any) (bool, error) {
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetDocument はドキュメントを取得する。削除済みの場合はnilを返す。
func (s *Store) GetDocument(ctx context.Context, id string) (*notification.Document, error) {
	var doc documentDoc
	found, err := s.findByID(ctx, collDocuments, id, &doc)
	if err != nil {
		return nil, fmt.Errorf("ドキュメントの取得に失敗 (id=%s): %w", id, err)
	}
	if !found {
		return nil, nil
	}
	return &notification.Document{ID: doc.ID, RoomID: doc.RoomID, Draft: doc.Draft}, nil
}

// GetDocumentRevision はリビジョンを取得する。削除済みの場合はnilを返す。
func (s *Store) GetDocumentRevision(ctx context.Context, id string) (*notification.DocumentRevision, error) {
	var doc revisionDoc
	found, err := s.findByID(ctx, collDocumentRevisions, id, &doc)
	if err != nil {
		return nil, fmt.Errorf("リビジョンの取得に失敗 (id=%s): %w", id, err)
	}
	if !found {
		return nil, nil
	}
	return &notification.DocumentRevision{ID: doc.ID, DocumentID: doc.DocumentID, RoomID: doc.RoomID, Draft: doc.Draft}, nil
}

// GetRoom はルームとメンバーを取得する。削除済みの場合はnilを返す。
func (s *Store) GetRoom(ctx context.Context, id string) (*notification.Room, error) {
	var doc roomDoc
	found, err := s.findByID(ctx, collRooms, id, &doc)
	if err != nil {
		return nil, fmt.Errorf("ルームの取得に失敗 (id=%s): %w", id, err)
	}
	if !found {
		return nil, nil
	}
	room := &notification.Room{ID: doc.ID, OwnerID: doc.OwnerID}
	for _, m := range doc.Members {
		room.Members = append(room.Members, notification.RoomMember{UserID: m.UserID})
	}
	return room, nil
}

// replaceByID はidのドキュメントを置き換え、存在しなければ挿入する。
func (s *Store) replaceByID(ctx context.Context, collection, id string, doc any) error {
	_, err := s.db.Collection(collection).ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	return err
}

// PutUser はユーザーをアクティブな状態で登録または更新する。
func (s *Store) PutUser(ctx context.Context, u notification.User) error {
	doc := userDoc{ID: u.ID, CreatedOn: u.CreatedOn, Favorites: []favoriteDoc{}, Active: true}
	for _, f := range u.Favorites {
		doc.Favorites = append(doc.Favorites, favoriteDoc{Type: string(f.Type), ID: f.ID})
	}
	if err := s.replaceByID(ctx, collUsers, u.ID, doc); err != nil {
		return fmt.Errorf("ユーザーの登録に失敗 (id=%s): %w", u.ID, err)
	}
	return nil
}

// DeactivateUser はユーザーを非アクティブにする。
func (s *Store) DeactivateUser(ctx context.Context, id string) error {
	if _, err := s.db.Collection(collUsers).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"active": false}},
	); err != nil {
		return fmt.Errorf("ユーザーの無効化に失敗 (id=%s): %w", id, err)
	}
	return nil
}

// PutRoom はルームとメンバーを登録または置き換える。
func (s *Store) PutRoom(ctx context.Context, room notification.Room) error {
	doc := roomDoc{ID: room.ID, OwnerID: room.OwnerID, Members: []roomMemberDoc{}}
	for _, m := range room.Members {
		doc.Members = append(doc.Members, roomMemberDoc{UserID: m.UserID})
	}
	if err := s.replaceByID(ctx, collRooms, room.ID, doc); err != nil {
		return fmt.Errorf("ルームの登録に失敗 (id=%s): %w", room.ID, err)
	}
	return nil
}

// DeleteRoom はルームを削除する。
func (s *Store) DeleteRoom(ctx context.Context, id string) error {
	if _, err := s.db.Collection(collRooms).DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("ルームの削除に失敗 (id=%s): %w", id, err)
	}
	return nil
}

// PutDocument はドキュメントを登録または更新する。
func (s *Store) PutDocument(ctx context.Context, d notification.Document) error {
	if err := s.replaceByID(ctx, collDocuments, d.ID, documentDoc{ID: d.ID, RoomID: d.RoomID, Draft: d.Draft}); err != nil {
		return fmt.Errorf("ドキュメントの登録に失敗 (id=%s): %w", d.ID, err)
	}
	return nil
}

// DeleteDocument はドキュメントを削除する。
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.db.Collection(collDocuments).DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("ドキュメントの削除に失敗 (id=%s): %w", id, err)
	}
	return nil
}

// PutDocumentRevision はリビジョンを登録または更新する。
func (s *Store) PutDocumentRevision(ctx context.Context, r notification.DocumentRevision) error {
	doc := revisionDoc{ID: r.ID, DocumentID: r.DocumentID, RoomID: r.RoomID, Draft: r.Draft}
	if err := s.replaceByID(ctx, collDocumentRevisions, r.ID, doc); err != nil {
		return fmt.Errorf("リビジョンの登録に失敗 (id=%s): %w", r.ID, err)
	}
	return nil
}

// DeleteDocumentRevision はリビジョンを削除する。
func (s *Store) DeleteDocumentRevision(ctx context.Context, id string) error {
	if _, err := s.db.Collection(collDocumentRevisions).DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("リビジョンの削除に失敗 (id=%s): %w", id, err)
	}
	return nil
}
