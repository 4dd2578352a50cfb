package notifyclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nao1215/notifier/pkg/event"
)

// receivedRequest はテストサーバーが受け取ったリクエスト情報を保持する構造体。
type receivedRequest struct {
	Method  string
	Path    string
	Body    []byte
	Headers http.Header
}

// newRecordingServer は受け取ったリクエストを記録し、固定のレスポンスを返すテストサーバーを生成する。
func newRecordingServer(t *testing.T, status int, respBody string) (*httptest.Server, *receivedRequest) {
	t.Helper()

	var received receivedRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Method = r.Method
		received.Path = r.URL.Path
		received.Body, _ = io.ReadAll(r.Body)
		received.Headers = r.Header.Clone()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(respBody))
	}))
	t.Cleanup(ts.Close)
	return ts, &received
}

// TestNew はNew関数でクライアントが正しく生成されることを検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("タイムアウトが30秒に設定されていること", func(t *testing.T) {
		t.Parallel()

		client := New("http://localhost:8086", "token")
		if client.httpClient.Timeout.Seconds() != 30 {
			t.Errorf("Timeout = %v, want 30s", client.httpClient.Timeout)
		}
	})

	t.Run("WithHTTPClientでHTTPクライアントを差し替えられること", func(t *testing.T) {
		t.Parallel()

		hc := &http.Client{}
		client := New("http://localhost:8086", "token", WithHTTPClient(hc))
		if client.httpClient != hc {
			t.Error("httpClientが差し替えられていない")
		}
	})
}

// TestRecord は各イベント記録メソッドのリクエスト内容を検証する。
func TestRecord(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		call       func(ctx context.Context, c *Client) (*RecordResult, error)
		wantType   event.Type
		wantParams map[string]string
	}{
		{
			name: "リビジョン作成イベントを記録できること",
			call: func(ctx context.Context, c *Client) (*RecordResult, error) {
				return c.RecordRevisionCreated(ctx, event.RevisionCreatedParams{
					DocumentRevisionID: "rev-1", DocumentID: "doc-1", RoomID: "room-1", UserID: "user-1",
				})
			},
			wantType: event.TypeRevisionCreated,
			wantParams: map[string]string{
				"documentRevisionId": "rev-1", "documentId": "doc-1", "roomId": "room-1", "userId": "user-1",
			},
		},
		{
			name: "コメント作成イベントを記録できること",
			call: func(ctx context.Context, c *Client) (*RecordResult, error) {
				return c.RecordCommentCreated(ctx, event.CommentCreatedParams{
					CommentID: "comment-1", DocumentID: "doc-1", UserID: "user-1",
				})
			},
			wantType: event.TypeCommentCreated,
			wantParams: map[string]string{
				"commentId": "comment-1", "documentId": "doc-1", "userId": "user-1",
			},
		},
		{
			name: "ルームメッセージ作成イベントを記録できること",
			call: func(ctx context.Context, c *Client) (*RecordResult, error) {
				return c.RecordRoomMessageCreated(ctx, event.RoomMessageCreatedParams{
					RoomMessageID: "msg-1", RoomID: "room-1", UserID: "user-1",
				})
			},
			wantType: event.TypeRoomMessageCreated,
			wantParams: map[string]string{
				"roomMessageId": "msg-1", "roomId": "room-1", "userId": "user-1",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ts, received := newRecordingServer(t, http.StatusCreated, `{"id":"event-1","message":"イベントを記録しました"}`)
			client := New(ts.URL, "service-token")

			result, err := tt.call(context.Background(), client)
			if err != nil {
				t.Fatalf("予期しないエラー: %v", err)
			}
			if result.ID != "event-1" {
				t.Errorf("ID = %q, want %q", result.ID, "event-1")
			}

			if received.Method != http.MethodPost {
				t.Errorf("Method = %q, want %q", received.Method, http.MethodPost)
			}
			if received.Path != recordEventPath {
				t.Errorf("Path = %q, want %q", received.Path, recordEventPath)
			}
			if got := received.Headers.Get("Authorization"); got != "Bearer service-token" {
				t.Errorf("Authorization = %q, want %q", got, "Bearer service-token")
			}
			if got := received.Headers.Get("Content-Type"); got != "application/json" {
				t.Errorf("Content-Type = %q, want %q", got, "application/json")
			}

			var body struct {
				Type   event.Type        `json:"type"`
				Params map[string]string `json:"params"`
			}
			if err := json.Unmarshal(received.Body, &body); err != nil {
				t.Fatalf("リクエストボディのパースに失敗: %v", err)
			}
			if body.Type != tt.wantType {
				t.Errorf("type = %q, want %q", body.Type, tt.wantType)
			}
			for k, want := range tt.wantParams {
				if body.Params[k] != want {
					t.Errorf("params[%s] = %q, want %q", k, body.Params[k], want)
				}
			}
		})
	}
}

// TestRecordError はエラー応答の扱いを検証する。
func TestRecordError(t *testing.T) {
	t.Parallel()

	t.Run("2xx以外のステータスでStatusErrorが返ること", func(t *testing.T) {
		t.Parallel()

		ts, _ := newRecordingServer(t, http.StatusBadRequest, `{"error":"リクエストが不正です"}`)
		client := New(ts.URL, "token")

		_, err := client.RecordCommentCreated(context.Background(), event.CommentCreatedParams{})
		var statusErr *StatusError
		if !errors.As(err, &statusErr) {
			t.Fatalf("StatusErrorが返されなかった: %v", err)
		}
		if statusErr.StatusCode != http.StatusBadRequest {
			t.Errorf("StatusCode = %d, want %d", statusErr.StatusCode, http.StatusBadRequest)
		}
	})

	t.Run("トークンが空の場合Authorizationヘッダーを付与しないこと", func(t *testing.T) {
		t.Parallel()

		ts, received := newRecordingServer(t, http.StatusCreated, `{"id":"event-1"}`)
		client := New(ts.URL, "")

		if _, err := client.RecordRoomMessageCreated(context.Background(), event.RoomMessageCreatedParams{
			RoomMessageID: "msg-1", RoomID: "room-1", UserID: "user-1",
		}); err != nil {
			t.Fatalf("予期しないエラー: %v", err)
		}
		if got := received.Headers.Get("Authorization"); got != "" {
			t.Errorf("Authorization = %q, want 空", got)
		}
	})

	t.Run("不正なJSONレスポンスでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		ts, _ := newRecordingServer(t, http.StatusCreated, `not-json`)
		client := New(ts.URL, "token")

		if _, err := client.RecordRevisionCreated(context.Background(), event.RevisionCreatedParams{}); err == nil {
			t.Fatal("エラーが返されなかった")
		}
	})

	t.Run("接続できない場合エラーが返ること", func(t *testing.T) {
		t.Parallel()

		client := New("http://127.0.0.1:1", "token")
		if _, err := client.RecordRevisionCreated(context.Background(), event.RevisionCreatedParams{}); err == nil {
			t.Fatal("エラーが返されなかった")
		}
	})
}
