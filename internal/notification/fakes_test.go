package notification

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/nao1215/notifier/pkg/event"
	"github.com/nao1215/notifier/pkg/lock"
)

// memStore はテスト用のインメモリ実装。EventLog, Committer, UserDirectory, ContentLookupを満たす。
type memStore struct {
	mu sync.Mutex

	events        map[string]*event.Event
	notifications []Notification
	commits       int

	users       []User
	streamErr   error
	nextErrAt   int
	openedIters int
	closedIters int

	documents map[string]*Document
	revisions map[string]*DocumentRevision
	rooms     map[string]*Room

	oldestErr error
	oldestID  string
	commitErr error
	// insertErr は通知を伴うコミットだけを失敗させる。
	insertErr  error
	contentErr error
	panicOnGet bool
	// beforeContent はコンテンツ参照のたびに呼ばれる。
	beforeContent func()
}

func newMemStore() *memStore {
	return &memStore{
		events:    make(map[string]*event.Event),
		documents: make(map[string]*Document),
		revisions: make(map[string]*DocumentRevision),
		rooms:     make(map[string]*Room),
	}
}

func cloneEvent(ev *event.Event) *event.Event {
	c := *ev
	c.Params = slices.Clone(ev.Params)
	c.ProcessingErrors = slices.Clone(ev.ProcessingErrors)
	if ev.ProcessedOn != nil {
		t := *ev.ProcessedOn
		c.ProcessedOn = &t
	}
	return &c
}

func (m *memStore) OldestUnprocessedEventID(_ context.Context) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.oldestErr != nil {
		return "", false, m.oldestErr
	}
	if m.oldestID != "" {
		return m.oldestID, true, nil
	}
	var pending []*event.Event
	for _, ev := range m.events {
		if !ev.Processed() {
			pending = append(pending, ev)
		}
	}
	if len(pending) == 0 {
		return "", false, nil
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedOn.Before(pending[j].CreatedOn) })
	return pending[0].ID, true, nil
}

func (m *memStore) GetEventByID(_ context.Context, id string) (*event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	return cloneEvent(ev), nil
}

func (m *memStore) RecordEvent(_ context.Context, ev *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events[ev.ID] = cloneEvent(ev)
	return nil
}

func (m *memStore) CommitEvent(_ context.Context, ev *event.Event, notifications []Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.commitErr != nil {
		return m.commitErr
	}
	current, ok := m.events[ev.ID]
	if !ok {
		return ErrEventNotFound
	}
	if current.Processed() {
		return ErrEventAlreadyProcessed
	}
	if len(notifications) > 0 && m.insertErr != nil {
		return m.insertErr
	}
	m.commits++
	m.events[ev.ID] = cloneEvent(ev)
	m.notifications = append(m.notifications, notifications...)
	return nil
}

// markProcessed は他のワーカーが処理を終えたようにイベントを処理済みにする。
func (m *memStore) markProcessed(id string, processedOn time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[id].ProcessedOn = &processedOn
}

// stored は保存されているイベントのコピーを返す。
func (m *memStore) stored(id string) *event.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneEvent(m.events[id])
}

// notificationsFor はイベントの通知を通知先ユーザーのID順に返す。
func (m *memStore) notificationsFor(eventID string) []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Notification
	for _, n := range m.notifications {
		if n.EventID == eventID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NotifiedUserID < out[j].NotifiedUserID })
	return out
}

type memIterator struct {
	store *memStore
	users []User
	pos   int
}

func (it *memIterator) Next(_ context.Context) (User, bool, error) {
	if it.store.nextErrAt > 0 && it.pos+1 == it.store.nextErrAt {
		return User{}, false, errors.New("ユーザーディレクトリの読み込みエラー")
	}
	if it.pos >= len(it.users) {
		return User{}, false, nil
	}
	u := it.users[it.pos]
	it.pos++
	return u, true, nil
}

func (it *memIterator) Close() error {
	it.store.mu.Lock()
	defer it.store.mu.Unlock()
	it.store.closedIters++
	return nil
}

func (m *memStore) StreamActiveUsers(_ context.Context) (UserIterator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.streamErr != nil {
		return nil, m.streamErr
	}
	m.openedIters++
	return &memIterator{store: m, users: slices.Clone(m.users)}, nil
}

func (m *memStore) contentCall() error {
	if m.beforeContent != nil {
		m.beforeContent()
	}
	if m.panicOnGet {
		panic("コンテンツ参照で想定外の状態")
	}
	return m.contentErr
}

func (m *memStore) GetDocument(_ context.Context, id string) (*Document, error) {
	if err := m.contentCall(); err != nil {
		return nil, err
	}
	return m.documents[id], nil
}

func (m *memStore) GetDocumentRevision(_ context.Context, id string) (*DocumentRevision, error) {
	if err := m.contentCall(); err != nil {
		return nil, err
	}
	return m.revisions[id], nil
}

func (m *memStore) GetRoom(_ context.Context, id string) (*Room, error) {
	if err := m.contentCall(); err != nil {
		return nil, err
	}
	return m.rooms[id], nil
}

// fakeLocks はテスト用のLockManager。取得と解放の回数を記録する。
type fakeLocks struct {
	mu         sync.Mutex
	held       map[string]lock.Lock
	acquireErr error
	acquired   int
	released   int
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{held: make(map[string]lock.Lock)}
}

func (f *fakeLocks) Acquire(_ context.Context, domain, key string) (lock.Lock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.acquireErr != nil {
		return lock.Lock{}, f.acquireErr
	}
	k := domain + "/" + key
	if _, ok := f.held[k]; ok {
		return lock.Lock{}, lock.ErrLocked
	}
	l := lock.Lock{ID: k, Domain: domain, Key: key, ExpiresOn: time.Now().Add(lock.TTL(domain))}
	f.held[k] = l
	f.acquired++
	return l, nil
}

func (f *fakeLocks) Release(_ context.Context, l lock.Lock) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := l.Domain + "/" + l.Key
	if held, ok := f.held[k]; ok && held.ID == l.ID {
		delete(f.held, k)
		f.released++
	}
	return nil
}

// holding は現在保持されているロックの数を返す。
func (f *fakeLocks) holding() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.held)
}
