package event

import (
	"testing"
	"time"
)

// TestNew はNew関数で未処理状態のイベントが生成されることを検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("未処理状態のイベントが生成されること", func(t *testing.T) {
		t.Parallel()

		before := time.Now().UTC()
		ev, err := NewCommentCreated(CommentCreatedParams{CommentID: "c-1", DocumentID: "d-1", UserID: "u-1"})
		if err != nil {
			t.Fatalf("NewCommentCreated()でエラーが発生: %v", err)
		}
		after := time.Now().UTC()

		if ev.ID == "" {
			t.Error("IDが空")
		}
		if ev.Type != TypeCommentCreated {
			t.Errorf("Type = %q, want %q", ev.Type, TypeCommentCreated)
		}
		if ev.ProcessedOn != nil {
			t.Errorf("ProcessedOn = %v, want nil", ev.ProcessedOn)
		}
		if len(ev.ProcessingErrors) != 0 {
			t.Errorf("ProcessingErrorsの長さ = %d, want 0", len(ev.ProcessingErrors))
		}
		if ev.CreatedOn.Before(before) || ev.CreatedOn.After(after) {
			t.Errorf("CreatedOn = %v, want [%v, %v]", ev.CreatedOn, before, after)
		}
		if ev.CreatedOn.Location() != time.UTC {
			t.Errorf("CreatedOnのタイムゾーン = %v, want UTC", ev.CreatedOn.Location())
		}
	})

	t.Run("生成のたびに異なるIDが割り当てられること", func(t *testing.T) {
		t.Parallel()

		params := RoomMessageCreatedParams{RoomMessageID: "m-1", RoomID: "room-1", UserID: "u-1"}
		ev1, err := NewRoomMessageCreated(params)
		if err != nil {
			t.Fatalf("NewRoomMessageCreated()でエラーが発生: %v", err)
		}
		ev2, err := NewRoomMessageCreated(params)
		if err != nil {
			t.Fatalf("NewRoomMessageCreated()でエラーが発生: %v", err)
		}
		if ev1.ID == ev2.ID {
			t.Errorf("異なるイベントが同じIDを持っている: %q", ev1.ID)
		}
	})

	t.Run("未知のイベント種別でエラーが返ること", func(t *testing.T) {
		t.Parallel()

		ev, err := New("documentDeleted", map[string]string{"userId": "u-1"})
		if err == nil {
			t.Fatal("New()がエラーを返すべきだが、nilが返った")
		}
		if ev != nil {
			t.Error("エラー時にnilでないEventが返った")
		}
	})

	t.Run("シリアライズ不可能なパラメータでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		// json.Marshalでエラーになるチャネル型を渡す
		ev, err := New(TypeRevisionCreated, make(chan int))
		if err == nil {
			t.Fatal("New()がエラーを返すべきだが、nilが返った")
		}
		if ev != nil {
			t.Error("エラー時にnilでないEventが返った")
		}
	})
}

// TestDecodeParams はDecodeParams関数でパラメータを正しくデシリアライズできることを検証する。
func TestDecodeParams(t *testing.T) {
	t.Parallel()

	t.Run("RevisionCreatedParamsを正しくデコードできること", func(t *testing.T) {
		t.Parallel()

		original := RevisionCreatedParams{
			DocumentRevisionID: "r-10",
			DocumentID:         "d-10",
			RoomID:             "room-10",
			UserID:             "u-10",
		}
		ev, err := NewRevisionCreated(original)
		if err != nil {
			t.Fatalf("NewRevisionCreated()でエラーが発生: %v", err)
		}

		decoded, err := DecodeParams[RevisionCreatedParams](ev)
		if err != nil {
			t.Fatalf("DecodeParams()でエラーが発生: %v", err)
		}
		if *decoded != original {
			t.Errorf("decoded = %+v, want %+v", *decoded, original)
		}
	})

	t.Run("不正なJSONでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		ev := &Event{ID: "event-x", Type: TypeCommentCreated, Params: []byte(`{"commentId":`)}
		if _, err := DecodeParams[CommentCreatedParams](ev); err == nil {
			t.Error("DecodeParams()がエラーを返すべきだが、nilが返った")
		}
	})
}

// TestActorID はすべてのイベント種別から操作ユーザーを取り出せることを検証する。
func TestActorID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		typ    Type
		params any
	}{
		{name: "revisionCreated", typ: TypeRevisionCreated, params: RevisionCreatedParams{DocumentID: "d-1", UserID: "actor"}},
		{name: "commentCreated", typ: TypeCommentCreated, params: CommentCreatedParams{DocumentID: "d-1", UserID: "actor"}},
		{name: "roomMessageCreated", typ: TypeRoomMessageCreated, params: RoomMessageCreatedParams{RoomID: "room-1", UserID: "actor"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ev, err := New(tt.typ, tt.params)
			if err != nil {
				t.Fatalf("New()でエラーが発生: %v", err)
			}
			got, err := ActorID(ev)
			if err != nil {
				t.Fatalf("ActorID()でエラーが発生: %v", err)
			}
			if got != "actor" {
				t.Errorf("ActorID() = %q, want %q", got, "actor")
			}
		})
	}
}
