// 通知ワーカーのエントリポイント。
// 未処理イベントを1件ずつ取り出して通知を生成し、期限切れ通知を定期的に削除する。
// 複数プロセスで同時に動かしてもイベント単位のロックで重複処理を防ぐ。
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/nao1215/notifier/internal/config"
	"github.com/nao1215/notifier/internal/notification"
	"github.com/nao1215/notifier/internal/notification/backend"
	"github.com/nao1215/notifier/pkg/lock"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := backend.Open(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("ストアの初期化に失敗", zap.Error(err))
	}
	defer func() { _ = b.Close(context.WithoutCancel(ctx)) }()

	locks := lock.NewManager(b.Locks)
	processor := notification.NewProcessor(notification.Deps{
		Events:    b.Store,
		Committer: b.Store,
		Locks:     locks,
		Users:     b.Store,
		Content:   b.Store,
	},
		notification.WithMaxAttempts(cfg.MaxAttempts),
		notification.WithRetention(cfg.Retention),
		notification.WithProcessorLogger(zl.Named("processor")),
	)

	// ストア操作のctxはシグナルで切らず、処理中のイベントはキャンセル要求で止める
	driver := notification.NewDriver(processor, cfg.PollInterval, zl.Named("driver"))
	driver.Start(context.WithoutCancel(ctx))

	pruner := notification.NewPruner(locks, b.Store, zl.Named("pruner"))
	go pruner.Run(ctx, cfg.PruneInterval)

	zl.Info("通知ワーカーを起動しました",
		zap.String("store", b.Kind),
		zap.Int("max_attempts", cfg.MaxAttempts),
	)

	<-ctx.Done()
	zl.Info("停止シグナルを受信しました")
	driver.Stop()
	zl.Info("通知ワーカーを停止しました")
}
