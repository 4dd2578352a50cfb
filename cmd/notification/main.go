// 通知サービスのエントリポイント。
// 通知の一覧・グループ化・既読化のAPIと、各サービスからのイベント記録APIを提供する。
// 通知の生成はnotification-workerが非同期に行う。
package main

import (
	"context"
	"log"

	"github.com/nao1215/notifier/internal/config"
	"github.com/nao1215/notifier/internal/notification"
	"github.com/nao1215/notifier/internal/notification/backend"
	"github.com/nao1215/notifier/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("ロガーの初期化に失敗: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx := context.Background()
	b, err := backend.Open(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("ストアの初期化に失敗", zap.Error(err))
	}
	defer func() { _ = b.Close(ctx) }()

	server := notification.NewServer(cfg.Port, cfg.JWTSecret, b.Store, b.Store, zl)

	zl.Info("通知サービスを起動します", zap.String("port", cfg.Port))
	if err := server.Run(); err != nil {
		zl.Error("通知サービスの起動に失敗", zap.Error(err))
	}
}
