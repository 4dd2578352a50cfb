package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/nao1215/notifier/pkg/event"
	"github.com/nao1215/notifier/pkg/lock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Deps はProcessorが依存する外部コンポーネント。
type Deps struct {
	Events    EventLog
	Committer Committer
	Locks     LockManager
	Users     UserDirectory
	Content   ContentLookup
}

// Processor はイベントを1件ずつ通知へファンアウトするイベント処理器。
// 呼び出し間で状態を持たず、毎回必要なものをすべて読み直す。
type Processor struct {
	deps        Deps
	now         func() time.Time
	maxAttempts int
	retention   time.Duration
	logger      *zap.Logger
}

// ProcessorOption はProcessorの設定を変更する。
type ProcessorOption func(*Processor)

// WithProcessorClock は現在時刻の取得関数を差し替える。
func WithProcessorClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		p.now = now
	}
}

// WithMaxAttempts は最大試行回数を変更する。1未満は無視する。
func WithMaxAttempts(n int) ProcessorOption {
	return func(p *Processor) {
		if n >= 1 {
			p.maxAttempts = n
		}
	}
}

// WithRetention は通知の保持期間を変更する。
func WithRetention(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d > 0 {
			p.retention = d
		}
	}
}

// WithProcessorLogger はロガーを設定する。
func WithProcessorLogger(logger *zap.Logger) ProcessorOption {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewProcessor は新しいProcessorを生成する。
func NewProcessor(deps Deps, opts ...ProcessorOption) *Processor {
	p := &Processor{
		deps:        deps,
		now:         func() time.Time { return time.Now().UTC() },
		maxAttempts: DefaultMaxAttempts,
		retention:   DefaultRetention,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessNextEvent は最も古い未処理イベントを1件処理する。
//
// 未処理イベントがない場合と想定外のエラーが発生した場合はfalseを返す。
// エラーはログに記録するだけで呼び出し元には返さない。
// キャンセルが既に要求されている場合は、イベントに触れずにtrueを返す（作業はあるがこの回は見送った）。
// ロックが競合した場合はfalseを返し、呼び出し元にポーリング間隔だけ待たせる。
func (p *Processor) ProcessNextEvent(ctx context.Context, signal CancelSignal) (more bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("イベント処理中にパニックが発生しました", zap.Any("panic", r), zap.Stack("stack"))
			more = false
		}
	}()

	eventID, ok, err := p.deps.Events.OldestUnprocessedEventID(ctx)
	if err != nil {
		p.logger.Error("未処理イベントの取得に失敗しました", zap.Error(err))
		return false
	}
	if !ok {
		return false
	}

	if signal.CancellationRequested() {
		p.logger.Debug("キャンセルが要求されているためイベント処理を見送ります", zap.String("event_id", eventID))
		return true
	}

	if err := p.processEvent(ctx, eventID, signal); err != nil {
		if errors.Is(err, lock.ErrLocked) {
			p.logger.Debug("イベントは他のワーカーが処理中です", zap.String("event_id", eventID))
			return false
		}
		p.logger.Error("イベント処理に失敗しました", zap.String("event_id", eventID), zap.Error(err))
		return false
	}
	return true
}

// processEvent はイベントのロックを取得して1回の試行を行い、結果をコミットする。
// ロックはすべての終了経路で解放する。
func (p *Processor) processEvent(ctx context.Context, eventID string, signal CancelSignal) error {
	l, err := p.deps.Locks.Acquire(ctx, lock.DomainEvent, eventID)
	if err != nil {
		return fmt.Errorf("イベントロックの取得に失敗: %w", err)
	}
	defer func() {
		if err := p.deps.Locks.Release(context.WithoutCancel(ctx), l); err != nil {
			p.logger.Error("イベントロックの解放に失敗しました", zap.String("event_id", eventID), zap.Error(err))
		}
	}()

	ev, err := p.deps.Events.GetEventByID(ctx, eventID)
	if err != nil {
		return fmt.Errorf("イベントの再取得に失敗: %w", err)
	}
	// ロック取得までの間に他のワーカーが処理を終えていた
	if ev.Processed() {
		return nil
	}

	result := p.attempt(ctx, ev, signal)

	var notifications []Notification
	now := p.now()
	switch result.status {
	case statusCancelled:
		p.logger.Info("イベント処理がキャンセルされました", zap.String("event_id", ev.ID))
		return nil
	case statusSucceeded:
		ev.ProcessedOn = &now
		notifications = result.notifications
	case statusFailed:
		ev.ProcessingErrors = append(ev.ProcessingErrors, fmt.Sprintf("%+v", result.err))
		if len(ev.ProcessingErrors) >= p.maxAttempts {
			ev.ProcessedOn = &now
			p.logger.Warn("最大試行回数に達したためイベントを破棄します",
				zap.String("event_id", ev.ID),
				zap.Int("attempts", len(ev.ProcessingErrors)),
				zap.Error(result.err))
		} else {
			p.logger.Warn("イベント処理に失敗しました。次回のポーリングで再試行します",
				zap.String("event_id", ev.ID),
				zap.Int("attempts", len(ev.ProcessingErrors)),
				zap.Error(result.err))
		}
	}

	if err := p.deps.Committer.CommitEvent(ctx, ev, notifications); err != nil {
		if errors.Is(err, ErrEventAlreadyProcessed) {
			p.logger.Info("イベントは他のワーカーが処理済みのため結果を破棄しました", zap.String("event_id", ev.ID))
			return nil
		}
		p.recordCommitFailure(ctx, ev.ID, err)
		return fmt.Errorf("イベントのコミットに失敗: %w", err)
	}

	if result.status == statusSucceeded {
		p.logger.Info("イベントを処理しました",
			zap.String("event_id", ev.ID),
			zap.String("event_type", string(ev.Type)),
			zap.Int("notifications", len(notifications)))
	}
	return nil
}

// recordCommitFailure はコミットの失敗を1回の試行として記録する。
// 通知は挿入せずイベントだけを更新するので、通知の書き込みで失敗し続けるイベントも
// 最大試行回数で処理済みになる。この記録自体が失敗した場合はログに残すだけにする。
func (p *Processor) recordCommitFailure(ctx context.Context, eventID string, commitErr error) {
	ev, err := p.deps.Events.GetEventByID(ctx, eventID)
	if err != nil {
		p.logger.Error("コミット失敗の記録に失敗しました", zap.String("event_id", eventID), zap.Error(err))
		return
	}
	if ev.Processed() {
		return
	}

	ev.ProcessingErrors = append(ev.ProcessingErrors, fmt.Sprintf("%+v", errors.Wrap(commitErr, "イベントのコミットに失敗")))
	if len(ev.ProcessingErrors) >= p.maxAttempts {
		now := p.now()
		ev.ProcessedOn = &now
	}
	if err := p.deps.Committer.CommitEvent(ctx, ev, nil); err != nil {
		if !errors.Is(err, ErrEventAlreadyProcessed) {
			p.logger.Error("コミット失敗の記録に失敗しました", zap.String("event_id", eventID), zap.Error(err))
		}
		return
	}
	p.logger.Warn("コミットの失敗を試行として記録しました",
		zap.String("event_id", eventID),
		zap.Int("attempts", len(ev.ProcessingErrors)),
		zap.Bool("discarded", ev.Processed()))
}

type attemptStatus int

const (
	statusSucceeded attemptStatus = iota
	statusFailed
	statusCancelled
)

type attemptResult struct {
	status        attemptStatus
	notifications []Notification
	err           error
}

func failed(err error) attemptResult {
	return attemptResult{status: statusFailed, err: err}
}

// attempt はイベント種別ごとのハンドラで参照先を読み込み、ファンアウトを行う。
// ハンドラのエラーとパニックは失敗として捕捉する。
func (p *Processor) attempt(ctx context.Context, ev *event.Event, signal CancelSignal) (result attemptResult) {
	defer func() {
		if r := recover(); r != nil {
			result = failed(errors.Errorf("イベントハンドラでパニックが発生: %v", r))
		}
	}()

	var loadRefs func(context.Context, *event.Event) (Refs, error)
	switch ev.Type {
	case event.TypeRevisionCreated:
		loadRefs = p.revisionCreatedRefs
	case event.TypeCommentCreated:
		loadRefs = p.commentCreatedRefs
	case event.TypeRoomMessageCreated:
		loadRefs = p.roomMessageCreatedRefs
	default:
		return failed(errors.Errorf("未知のイベント種別です: %q", ev.Type))
	}

	refs, err := loadRefs(ctx, ev)
	if err != nil {
		return failed(errors.WithStack(err))
	}
	// 参照先が削除済みなら誰にも通知しない
	if !refs.Exists {
		return attemptResult{status: statusSucceeded}
	}
	return p.fanOut(ctx, ev, refs, signal)
}

// fanOut はアクティブユーザーを1人ずつ受信者ポリシーで評価して通知を組み立てる。
// キャンセルが要求されたら、それまでに組み立てた通知をすべて破棄する。
func (p *Processor) fanOut(ctx context.Context, ev *event.Event, refs Refs, signal CancelSignal) attemptResult {
	users, err := p.deps.Users.StreamActiveUsers(ctx)
	if err != nil {
		return failed(errors.Wrap(err, "アクティブユーザーの取得に失敗"))
	}
	defer func() {
		if err := users.Close(); err != nil {
			p.logger.Warn("ユーザーシーケンスのクローズに失敗しました", zap.String("event_id", ev.ID), zap.Error(err))
		}
	}()

	var notifications []Notification
	for {
		user, ok, err := users.Next(ctx)
		if err != nil {
			return failed(errors.Wrap(err, "アクティブユーザーの読み込みに失敗"))
		}
		if !ok {
			break
		}
		if signal.CancellationRequested() {
			return attemptResult{status: statusCancelled}
		}
		if !ShouldNotify(ev, refs, user) {
			continue
		}
		reasons := DetermineReasons(refs, user)
		if len(reasons) == 0 {
			continue
		}
		notifications = append(notifications, NewNotification(ev, user.ID, reasons, p.retention))
	}
	return attemptResult{status: statusSucceeded, notifications: notifications}
}

// revisionCreatedRefs はリビジョンとそのルームを読み込む。
func (p *Processor) revisionCreatedRefs(ctx context.Context, ev *event.Event) (Refs, error) {
	params, err := event.DecodeParams[event.RevisionCreatedParams](ev)
	if err != nil {
		return Refs{}, err
	}
	refs := Refs{
		ActorID:    params.UserID,
		DocumentID: params.DocumentID,
		RoomID:     params.RoomID,
	}

	revision, err := p.deps.Content.GetDocumentRevision(ctx, params.DocumentRevisionID)
	if err != nil {
		return Refs{}, fmt.Errorf("リビジョンの取得に失敗 (id=%s): %w", params.DocumentRevisionID, err)
	}
	if revision == nil {
		return refs, nil
	}
	refs.Exists = true
	refs.Draft = revision.Draft
	if revision.DocumentID != "" {
		refs.DocumentID = revision.DocumentID
	}
	if revision.RoomID != "" {
		refs.RoomID = revision.RoomID
	}
	return p.withRoom(ctx, refs)
}

// commentCreatedRefs はコメント対象のドキュメントとそのルームを読み込む。
func (p *Processor) commentCreatedRefs(ctx context.Context, ev *event.Event) (Refs, error) {
	params, err := event.DecodeParams[event.CommentCreatedParams](ev)
	if err != nil {
		return Refs{}, err
	}
	refs := Refs{
		ActorID:    params.UserID,
		DocumentID: params.DocumentID,
	}

	doc, err := p.deps.Content.GetDocument(ctx, params.DocumentID)
	if err != nil {
		return Refs{}, fmt.Errorf("ドキュメントの取得に失敗 (id=%s): %w", params.DocumentID, err)
	}
	if doc == nil {
		return refs, nil
	}
	refs.Exists = true
	refs.Draft = doc.Draft
	refs.RoomID = doc.RoomID
	return p.withRoom(ctx, refs)
}

// roomMessageCreatedRefs はメッセージが投稿されたルームを読み込む。
func (p *Processor) roomMessageCreatedRefs(ctx context.Context, ev *event.Event) (Refs, error) {
	params, err := event.DecodeParams[event.RoomMessageCreatedParams](ev)
	if err != nil {
		return Refs{}, err
	}

	room, err := p.deps.Content.GetRoom(ctx, params.RoomID)
	if err != nil {
		return Refs{}, fmt.Errorf("ルームの取得に失敗 (id=%s): %w", params.RoomID, err)
	}
	return Refs{
		ActorID: params.UserID,
		RoomID:  params.RoomID,
		Exists:  room != nil,
		Room:    room,
	}, nil
}

// withRoom はルームに属するコンテンツであればルームを読み込んでrefsに設定する。
func (p *Processor) withRoom(ctx context.Context, refs Refs) (Refs, error) {
	if !refs.RoomBound() {
		return refs, nil
	}
	room, err := p.deps.Content.GetRoom(ctx, refs.RoomID)
	if err != nil {
		return Refs{}, fmt.Errorf("ルームの取得に失敗 (id=%s): %w", refs.RoomID, err)
	}
	refs.Room = room
	return refs, nil
}
