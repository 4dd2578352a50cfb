package notifyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nao1215/notifier/pkg/event"
)

// recordEventPath はイベント記録APIのパス。
const recordEventPath = "/api/v1/internal/events"

// Client は通知サービスのイベント記録APIを呼び出すHTTPクライアント。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// baseURL は通知サービスのベースURL。
	baseURL string
	// token はAuthorizationヘッダーに付与するJWT。
	token string
}

// Option はClientの設定を変更する。
type Option func(*Client)

// WithHTTPClient は内部で使用するHTTPクライアントを差し替える。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New は新しいクライアントを生成する。
// baseURLには通知サービスのベースURL（例: "http://notification:8086"）を、
// tokenにはサービス用に発行したJWTを指定する。
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: baseURL,
		token:   token,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RecordResult はイベント記録APIのレスポンス。
type RecordResult struct {
	// ID は記録されたイベントのID。
	ID string `json:"id"`
	// Message は結果メッセージ。
	Message string `json:"message"`
}

// recordRequest はイベント記録APIのリクエストボディ。
type recordRequest struct {
	Type   event.Type `json:"type"`
	Params any        `json:"params"`
}

// RecordRevisionCreated はドキュメントリビジョン作成イベントを記録する。
func (c *Client) RecordRevisionCreated(ctx context.Context, params event.RevisionCreatedParams) (*RecordResult, error) {
	return c.record(ctx, event.TypeRevisionCreated, params)
}

// RecordCommentCreated はコメント作成イベントを記録する。
func (c *Client) RecordCommentCreated(ctx context.Context, params event.CommentCreatedParams) (*RecordResult, error) {
	return c.record(ctx, event.TypeCommentCreated, params)
}

// RecordRoomMessageCreated はルームメッセージ作成イベントを記録する。
func (c *Client) RecordRoomMessageCreated(ctx context.Context, params event.RoomMessageCreatedParams) (*RecordResult, error) {
	return c.record(ctx, event.TypeRoomMessageCreated, params)
}

func (c *Client) record(ctx context.Context, typ event.Type, params any) (*RecordResult, error) {
	var result RecordResult
	if err := c.doJSON(ctx, http.MethodPost, recordEventPath, recordRequest{Type: typ, Params: params}, &result); err != nil {
		return nil, fmt.Errorf("イベントの記録に失敗 (type=%s): %w", typ, err)
	}
	return &result, nil
}

// StatusError は通知サービスが2xx以外のステータスを返したことを表す。
type StatusError struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Body はレスポンスボディ。
	Body string
}

// Error はエラーメッセージを返す。
func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTPエラー: status=%d, body=%s", e.StatusCode, e.Body)
}

// doJSON はJSON形式のHTTPリクエストを実行する共通処理。
func (c *Client) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
		}
	}
	return nil
}
