package changelog

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-memory Log. Readers load an immutable snapshot and never
// take a lock; appends to one collection are linearized by its mutex.
type Memory struct {
	logs sync.Map // collection ID -> *memoryLog
	now  func() time.Time
}

type memoryLog struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

type snapshot struct {
	head    head
	entries []Entry
}

// NewMemory creates an empty in-memory change log.
func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

func (m *Memory) log(collectionID string) *memoryLog {
	if l, ok := m.logs.Load(collectionID); ok {
		return l.(*memoryLog)
	}
	fresh := &memoryLog{}
	fresh.snap.Store(&snapshot{head: head{epoch: uuid.NewString()}})
	l, _ := m.logs.LoadOrStore(collectionID, fresh)
	return l.(*memoryLog)
}

func (m *Memory) Append(ctx context.Context, collectionID string, c Change) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	l := m.log(collectionID)
	l.mu.Lock()
	defer l.mu.Unlock()

	old := l.snap.Load()
	next := &snapshot{head: old.head}
	next.head.seq++
	// old snapshots only read up to their own length, so the backing array
	// can be shared
	next.entries = append(old.entries, Entry{
		CollectionID: collectionID,
		Seq:          next.head.seq,
		Name:         c.Name,
		UID:          c.UID,
		Kind:         c.Kind,
		Time:         m.now(),
	})
	l.snap.Store(next)
	return next.head.token(collectionID), nil
}

func (m *Memory) ChangesSince(ctx context.Context, collectionID string, since Token) (Changes, error) {
	if err := ctx.Err(); err != nil {
		return Changes{}, err
	}
	snap := m.log(collectionID).snap.Load()
	if err := snap.head.check(collectionID, since); err != nil {
		return Changes{}, err
	}
	// entries are ordered by Seq
	start := sort.Search(len(snap.entries), func(i int) bool { return snap.entries[i].Seq > since.Seq })
	return collapse(snap.entries[start:], snap.head.token(collectionID)), nil
}

func (m *Memory) Current(ctx context.Context, collectionID string) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	return m.log(collectionID).snap.Load().head.token(collectionID), nil
}

func (m *Memory) Reset(ctx context.Context, collectionID string) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	l := m.log(collectionID)
	l.mu.Lock()
	defer l.mu.Unlock()
	next := &snapshot{head: head{epoch: uuid.NewString()}}
	l.snap.Store(next)
	return next.head.token(collectionID), nil
}

func (m *Memory) Prune(ctx context.Context, collectionID string, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l := m.log(collectionID)
	l.mu.Lock()
	defer l.mu.Unlock()

	old := l.snap.Load()
	cut := 0
	for cut < len(old.entries) && old.entries[cut].Time.Before(before) {
		cut++
	}
	if cut == 0 {
		return 0, nil
	}
	next := &snapshot{head: old.head}
	next.head.floor = old.entries[cut-1].Seq
	next.entries = append([]Entry(nil), old.entries[cut:]...)
	l.snap.Store(next)
	return cut, nil
}

func (m *Memory) Collections(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ids []string
	m.logs.Range(func(key, _ any) bool {
		ids = append(ids, key.(string))
		return true
	})
	sort.Strings(ids)
	return ids, nil
}

var _ Log = (*Memory)(nil)
