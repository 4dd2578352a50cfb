package notification

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/notifier/pkg/event"
	"github.com/nao1215/notifier/pkg/middleware"
	"go.uber.org/zap"
)

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// notifications は通知の参照・既読管理。
	notifications NotificationRepository
	// events はイベントの記録先。
	events EventLog
	// logger はロガー。
	logger *zap.Logger
	// now は現在時刻の取得関数。
	now func() time.Time
}

// NewServer は新しい通知サーバーを生成する。
func NewServer(port, jwtSecret string, notifications NotificationRepository, events EventLog, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(gin.Logger())

	s := &Server{
		router:        router,
		port:          port,
		notifications: notifications,
		events:        events,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
	s.setupRoutes(middleware.JWTAuth(jwtSecret))

	return s
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes(auth gin.HandlerFunc) {
	api := s.router.Group("/api/v1")
	api.Use(auth)
	{
		notifications := api.Group("/notifications")
		{
			// 通知一覧取得
			notifications.GET("", s.handleList())
			// 未読通知をグループ化して取得
			notifications.GET("/groups", s.handleListGroups())
			// 通知を既読にする
			notifications.PUT("/:id/read", s.handleMarkAsRead())
			// 全通知を既読にする
			notifications.PUT("/read-all", s.handleMarkAllAsRead())
		}

		// イベント記録（内部API - コンテンツ・コメント・ルームの各サービスから呼び出される）
		internal := api.Group("/internal")
		{
			internal.POST("/events", s.handleRecordEvent())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notification"})
	})
}

// handleList は認証済みユーザーの通知一覧を返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		notifications, err := s.notifications.ListNotifications(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知一覧の取得に失敗しました"})
			s.logger.Error("通知一覧取得エラー", zap.Error(err))
			return
		}
		if notifications == nil {
			notifications = []Notification{}
		}

		c.JSON(http.StatusOK, notifications)
	}
}

// handleListGroups は認証済みユーザーの未読通知をグループ化して返すハンドラ。
func (s *Server) handleListGroups() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		notifications, err := s.notifications.ListUnreadNotifications(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "未読通知一覧の取得に失敗しました"})
			s.logger.Error("未読通知一覧取得エラー", zap.Error(err))
			return
		}

		c.JSON(http.StatusOK, GroupNotifications(notifications))
	}
}

// handleMarkAsRead は指定された通知を既読にするハンドラ。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		notificationID := c.Param("id")

		// 通知の存在確認と所有者チェック
		n, err := s.notifications.GetNotification(c.Request.Context(), notificationID)
		if err != nil {
			if errors.Is(err, ErrNotificationNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の取得に失敗しました"})
			s.logger.Error("通知取得エラー", zap.String("notification_id", notificationID), zap.Error(err))
			return
		}

		if n.NotifiedUserID != userID {
			c.JSON(http.StatusForbidden, gin.H{"error": "この通知を操作する権限がありません"})
			return
		}

		if err := s.notifications.MarkNotificationRead(c.Request.Context(), notificationID, s.now()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の既読処理に失敗しました"})
			s.logger.Error("通知既読処理エラー", zap.String("notification_id", notificationID), zap.Error(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "通知を既読にしました"})
	}
}

// handleMarkAllAsRead は認証済みユーザーの全通知を既読にするハンドラ。
func (s *Server) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		if err := s.notifications.MarkAllNotificationsRead(c.Request.Context(), userID, s.now()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "全通知の既読処理に失敗しました"})
			s.logger.Error("全通知既読処理エラー", zap.Error(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "全通知を既読にしました"})
	}
}

// recordEventRequest はイベント記録リクエストのJSON構造。
type recordEventRequest struct {
	// Type はイベントの種類。
	Type event.Type `json:"type" binding:"required"`
	// Params はイベント種別ごとのパラメータ。
	Params json.RawMessage `json:"params" binding:"required"`
}

// validateParams はイベント種別ごとに必須パラメータを検証し、正規化したパラメータを返す。
func validateParams(typ event.Type, raw json.RawMessage) (any, error) {
	switch typ {
	case event.TypeRevisionCreated:
		var p event.RevisionCreatedParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		if p.DocumentRevisionID == "" || p.DocumentID == "" || p.UserID == "" {
			return nil, errors.New("documentRevisionId, documentId, userIdは必須です")
		}
		return p, nil
	case event.TypeCommentCreated:
		var p event.CommentCreatedParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		if p.CommentID == "" || p.DocumentID == "" || p.UserID == "" {
			return nil, errors.New("commentId, documentId, userIdは必須です")
		}
		return p, nil
	case event.TypeRoomMessageCreated:
		var p event.RoomMessageCreatedParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		if p.RoomMessageID == "" || p.RoomID == "" || p.UserID == "" {
			return nil, errors.New("roomMessageId, roomId, userIdは必須です")
		}
		return p, nil
	default:
		return nil, fmt.Errorf("未知のイベント種別です: %q", typ)
	}
}

// handleRecordEvent はイベントを未処理状態で記録するハンドラ。
// 通知の生成はワーカーが非同期に行う。
func (s *Server) handleRecordEvent() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req recordEventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		params, err := validateParams(req.Type, req.Params)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		ev, err := event.New(req.Type, params)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの生成に失敗しました"})
			s.logger.Error("イベント生成エラー", zap.Error(err))
			return
		}

		if err := s.events.RecordEvent(c.Request.Context(), ev); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの記録に失敗しました"})
			s.logger.Error("イベント記録エラー", zap.String("event_type", string(req.Type)), zap.Error(err))
			return
		}

		actorID, _ := event.ActorID(ev)
		s.logger.Info("イベントを記録しました",
			zap.String("event_id", ev.ID),
			zap.String("event_type", string(ev.Type)),
			zap.String("actor_id", actorID))

		c.JSON(http.StatusCreated, gin.H{
			"id":      ev.ID,
			"message": "イベントを記録しました",
		})
	}
}
