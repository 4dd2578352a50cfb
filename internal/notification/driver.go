package notification

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventProcessor はドライバーが繰り返し呼び出す処理器。*Processorが満たす。
type EventProcessor interface {
	ProcessNextEvent(ctx context.Context, signal CancelSignal) bool
}

// Driver はイベント処理器を繰り返し呼び出すバックグラウンドのポーリングループ。
// 処理器がtrueを返す間は続けて呼び出し、falseを返したら間隔を空ける。
type Driver struct {
	// processor はイベント処理器。
	processor EventProcessor
	// interval はアイドル時の待機間隔。
	interval time.Duration
	// signal はループとイベント処理器で共有するキャンセル要求。
	signal Switch
	// logger はロガー。
	logger *zap.Logger
	// stop はループに停止を伝えるチャネル。
	stop chan struct{}
	// done はループの終了を通知するチャネル。
	done chan struct{}
	// stopOnce はstopを一度だけ閉じるためのもの。
	stopOnce sync.Once
}

// NewDriver は新しいDriverを生成する。
func NewDriver(processor EventProcessor, interval time.Duration, logger *zap.Logger) *Driver {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		processor: processor,
		interval:  interval,
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start はバックグラウンドでポーリングを開始する。
func (d *Driver) Start(ctx context.Context) {
	go func() {
		defer close(d.done)
		d.logger.Info("イベントポーリングを開始します", zap.Duration("interval", d.interval))
		d.run(ctx)
		d.logger.Info("イベントポーリングを停止しました")
	}()
}

func (d *Driver) run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case <-timer.C:
		}

		// 処理すべきイベントがある間は待たずに続ける
		for d.processor.ProcessNextEvent(ctx, &d.signal) {
			if d.signal.CancellationRequested() || ctx.Err() != nil {
				return
			}
		}
		timer.Reset(d.interval)
	}
}

// Stop は処理中のファンアウトにキャンセルを要求し、ループの終了を待つ。
// キャンセルされた試行は何もコミットせず、イベントは次回の起動時に最初から処理される。
func (d *Driver) Stop() {
	d.stopOnce.Do(func() {
		d.signal.Request()
		close(d.stop)
	})
	<-d.done
}
