package announce

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"freestuffbot/internal/freestuff"
	"freestuffbot/internal/transport"
)

var errSendFailed = errors.New("send failed")

type fakeConfigs struct {
	mu   sync.Mutex
	cfgs map[int64]freestuff.ChatConfig
	err  error
}

func newFakeConfigs(ids ...int64) *fakeConfigs {
	f := &fakeConfigs{cfgs: map[int64]freestuff.ChatConfig{}}
	for _, id := range ids {
		f.set(id, freestuff.DefaultChatConfig(id))
	}
	return f
}

func (f *fakeConfigs) set(id int64, cfg freestuff.ChatConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg.ChatID = id
	f.cfgs[id] = cfg
}

func (f *fakeConfigs) ChatConfig(_ context.Context, id int64) (freestuff.ChatConfig, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return freestuff.ChatConfig{}, false, f.err
	}
	cfg, ok := f.cfgs[id]
	return cfg, ok, nil
}

func (f *fakeConfigs) EnabledChatIDs(context.Context) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var ids []int64
	for id, cfg := range f.cfgs {
		if cfg.Enabled {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (f *fakeConfigs) MigrateChat(_ context.Context, oldID, newID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cfg, ok := f.cfgs[oldID]; ok {
		delete(f.cfgs, oldID)
		cfg.ChatID = newID
		f.cfgs[newID] = cfg
	}
	return nil
}

// fakeDeliverer records successful sends. Chats default to private.
type fakeDeliverer struct {
	mu        sync.Mutex
	kinds     map[int64]transport.ChatKind
	members   map[int64]int
	fail      func(chatID int64) bool
	panicOn   map[int64]bool
	delay     time.Duration
	delivered map[int64]int
	attempts  map[int64]int
	posts     []transport.Post
}

func newFakeDeliverer() *fakeDeliverer {
	return &fakeDeliverer{
		kinds:     map[int64]transport.ChatKind{},
		members:   map[int64]int{},
		panicOn:   map[int64]bool{},
		delivered: map[int64]int{},
		attempts:  map[int64]int{},
	}
}

func (f *fakeDeliverer) SendPost(ctx context.Context, to transport.ChatTarget, post transport.Post) (transport.Delivery, error) {
	f.mu.Lock()
	f.attempts[to.ChatID]++
	boom := f.panicOn[to.ChatID]
	if boom {
		delete(f.panicOn, to.ChatID)
	}
	delay, fail := f.delay, f.fail
	f.mu.Unlock()

	if boom {
		panic("deliverer exploded")
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return transport.Delivery{}, ctx.Err()
		}
	}
	if fail != nil && fail(to.ChatID) {
		return transport.Delivery{}, errSendFailed
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered[to.ChatID]++
	f.posts = append(f.posts, post)
	kind, ok := f.kinds[to.ChatID]
	if !ok {
		kind = transport.ChatPrivate
	}
	return transport.Delivery{Ref: transport.MessageRef{ChatID: to.ChatID, MessageID: 1}, Kind: kind}, nil
}

func (f *fakeDeliverer) MemberCount(_ context.Context, chatID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.members[chatID]
	if !ok {
		return 0, errors.New("no member count")
	}
	return n, nil
}

func (f *fakeDeliverer) deliveredTo(chatID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delivered[chatID]
}

func (f *fakeDeliverer) attemptsFor(chatID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[chatID]
}

func (f *fakeDeliverer) totalDelivered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.delivered {
		n += c
	}
	return n
}

type fakeSink struct {
	mu      sync.Mutex
	reports []freestuff.BroadcastReport
}

func (f *fakeSink) MarkBroadcastComplete(_ context.Context, r freestuff.BroadcastReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, r)
	return nil
}

func (f *fakeSink) all() []freestuff.BroadcastReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]freestuff.BroadcastReport(nil), f.reports...)
}

type fakeSource struct {
	games []freestuff.Game
}

func (f *fakeSource) ReadyGames(context.Context) ([]freestuff.Game, error) {
	return f.games, nil
}

func testPayload() Payload { return TestPayload{Text: "hello"} }

// members returns the sorted pending and failed ids of a broadcast.
func (s *MemoryQueueStore) members(id BroadcastID) (pending, failed []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.broadcasts[id]
	if !ok {
		return nil, nil
	}
	return sortedIDs(b.pending), sortedIDs(b.failed)
}

func (s *MemoryQueueStore) unreachedIDs(id BroadcastID) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.unreached[id]; ok {
		return sortedIDs(u.ids)
	}
	return nil
}

func sortedIDs(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
