package notification

import "sync/atomic"

// CancelSignal は協調的キャンセルの要求状態を返す。
// 処理器はイベント開始前とファンアウト中のユーザーごとにこれを確認する。
type CancelSignal interface {
	CancellationRequested() bool
}

// Switch はドライバーが所有する可変のキャンセル要求フラグ。ゼロ値で使える。
type Switch struct {
	requested atomic.Bool
}

var _ CancelSignal = (*Switch)(nil)

// Request はキャンセルを要求する。
func (s *Switch) Request() {
	s.requested.Store(true)
}

// Reset はキャンセル要求を取り消す。
func (s *Switch) Reset() {
	s.requested.Store(false)
}

// CancellationRequested はキャンセルが要求されていればtrueを返す。
func (s *Switch) CancellationRequested() bool {
	return s.requested.Load()
}
