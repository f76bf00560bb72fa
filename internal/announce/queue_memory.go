package announce

import (
	"context"
	"sort"
	"sync"
)

// MemoryQueueStore is an in-process QueueStore. State does not survive a
// restart; use it for development and tests.
type MemoryQueueStore struct {
	mu         sync.Mutex
	broadcasts map[BroadcastID]*memBroadcast
	unreached  map[BroadcastID]*memUnreached
	migrations map[int64]int64
}

type memBroadcast struct {
	pending  map[int64]struct{}
	failed   map[int64]struct{}
	attempts int64
	counters map[string]int64
	payload  []byte
}

type memUnreached struct {
	ids     map[int64]struct{}
	payload []byte
}

func NewMemoryQueueStore() *MemoryQueueStore {
	return &MemoryQueueStore{
		broadcasts: map[BroadcastID]*memBroadcast{},
		unreached:  map[BroadcastID]*memUnreached{},
		migrations: map[int64]int64{},
	}
}

func newMemBroadcast(payload []byte, ids map[int64]struct{}, attempts int) *memBroadcast {
	return &memBroadcast{
		pending:  ids,
		failed:   map[int64]struct{}{},
		attempts: int64(attempts),
		counters: map[string]int64{},
		payload:  append([]byte(nil), payload...),
	}
}

func (s *MemoryQueueStore) Active(_ context.Context, id BroadcastID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.broadcasts[id]
	return ok, nil
}

func (s *MemoryQueueStore) Init(_ context.Context, id BroadcastID, payload []byte, chatIDs []int64, attempts int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.broadcasts[id]; ok {
		return false, nil
	}
	pending := make(map[int64]struct{}, len(chatIDs))
	for _, c := range chatIDs {
		pending[c] = struct{}{}
	}
	s.broadcasts[id] = newMemBroadcast(payload, pending, attempts)
	return true, nil
}

func (s *MemoryQueueStore) Payload(_ context.Context, id BroadcastID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.broadcasts[id]
	if !ok {
		return nil, ErrUnknownBroadcast
	}
	return append([]byte(nil), b.payload...), nil
}

func (s *MemoryQueueStore) Pop(_ context.Context, id BroadcastID) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.broadcasts[id]
	if !ok {
		return 0, false, nil
	}
	for c := range b.pending {
		delete(b.pending, c)
		return c, true, nil
	}
	return 0, false, nil
}

func (s *MemoryQueueStore) PushPending(_ context.Context, id BroadcastID, chatID int64) error {
	return s.push(id, chatID, false)
}

func (s *MemoryQueueStore) PushFailed(_ context.Context, id BroadcastID, chatID int64) error {
	return s.push(id, chatID, true)
}

func (s *MemoryQueueStore) push(id BroadcastID, chatID int64, failed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.broadcasts[id]
	if !ok {
		return ErrUnknownBroadcast
	}
	if to, moved := s.migrations[chatID]; moved {
		chatID = to
	}
	target, other := b.pending, b.failed
	if failed {
		target, other = b.failed, b.pending
	}
	if _, dup := other[chatID]; dup {
		return nil
	}
	target[chatID] = struct{}{}
	return nil
}

func (s *MemoryQueueStore) Forward(_ context.Context, id BroadcastID, chatID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	to, moved := s.migrations[chatID]
	if !moved {
		return false, nil
	}
	b, ok := s.broadcasts[id]
	if !ok {
		return true, ErrUnknownBroadcast
	}
	if _, dup := b.failed[to]; !dup {
		b.pending[to] = struct{}{}
	}
	return true, nil
}

func (s *MemoryQueueStore) Incr(_ context.Context, id BroadcastID, counter string, n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.broadcasts[id]
	if !ok {
		return ErrUnknownBroadcast
	}
	b.counters[counter] += n
	return nil
}

func (s *MemoryQueueStore) RetryCycle(_ context.Context, id BroadcastID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.broadcasts[id]
	if !ok {
		return false, ErrUnknownBroadcast
	}
	if len(b.failed) == 0 || b.attempts <= 0 {
		return false, nil
	}
	for c := range b.failed {
		b.pending[c] = struct{}{}
	}
	b.failed = map[int64]struct{}{}
	b.attempts--
	return true, nil
}

func (s *MemoryQueueStore) Snapshot(_ context.Context, id BroadcastID) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{ID: id}
	if u, ok := s.unreached[id]; ok {
		snap.Unreached = int64(len(u.ids))
	}
	b, ok := s.broadcasts[id]
	if !ok {
		return snap, nil
	}
	snap.Active = true
	snap.Pending = int64(len(b.pending))
	snap.Failed = int64(len(b.failed))
	snap.Attempts = b.attempts
	snap.Reach = reachFromCounters(b.counters)
	return snap, nil
}

func (s *MemoryQueueStore) Finalize(_ context.Context, id BroadcastID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.broadcasts[id]
	if !ok {
		return nil
	}
	if len(b.pending) > 0 {
		return ErrPendingNotEmpty
	}
	if len(b.failed) > 0 {
		u, ok := s.unreached[id]
		if !ok {
			u = &memUnreached{ids: map[int64]struct{}{}}
			s.unreached[id] = u
		}
		for c := range b.failed {
			u.ids[c] = struct{}{}
		}
		u.payload = b.payload
	}
	delete(s.broadcasts, id)
	return nil
}

func (s *MemoryQueueStore) Requeue(_ context.Context, id BroadcastID, attempts int) (RequeueResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.unreached[id]
	if b, ok := s.broadcasts[id]; ok {
		for c := range b.failed {
			b.pending[c] = struct{}{}
		}
		b.failed = map[int64]struct{}{}
		if u != nil {
			for c := range u.ids {
				b.pending[c] = struct{}{}
			}
			delete(s.unreached, id)
		}
		return RequeueMerged, nil
	}
	if u == nil || len(u.ids) == 0 {
		return RequeueNothing, nil
	}
	s.broadcasts[id] = newMemBroadcast(u.payload, u.ids, attempts)
	delete(s.unreached, id)
	return RequeueReinitialized, nil
}

func (s *MemoryQueueStore) RecordMigration(_ context.Context, oldID, newID int64) error {
	s.mu.Lock()
	s.migrations[oldID] = newID
	s.mu.Unlock()
	return nil
}

func (s *MemoryQueueStore) Relocate(_ context.Context, oldID, newID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.migrations[oldID] = newID
	moved := 0
	for _, b := range s.broadcasts {
		for _, set := range []map[int64]struct{}{b.pending, b.failed} {
			if _, ok := set[oldID]; !ok {
				continue
			}
			delete(set, oldID)
			_, inPending := b.pending[newID]
			_, inFailed := b.failed[newID]
			if !inPending && !inFailed {
				set[newID] = struct{}{}
			}
			moved++
		}
	}
	return moved, nil
}

func (s *MemoryQueueStore) ActiveIDs(_ context.Context) ([]BroadcastID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]BroadcastID, 0, len(s.broadcasts))
	for id := range s.broadcasts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
