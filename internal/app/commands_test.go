package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"freestuffbot/internal/announce"
	"freestuffbot/internal/freestuff"
	"freestuffbot/internal/storage"
	kit "freestuffbot/internal/transport"
	"freestuffbot/internal/transport/telegram/router"
	logx "freestuffbot/pkg/logx"
)

type replyRecorder struct {
	mu   sync.Mutex
	sent []string
}

func (r *replyRecorder) Start(context.Context, chan<- kit.Update) error { return nil }
func (r *replyRecorder) Stop(context.Context) error                     { return nil }
func (r *replyRecorder) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	r.sent = append(r.sent, text)
	r.mu.Unlock()
	return kit.MessageRef{}, nil
}
func (r *replyRecorder) SendPost(context.Context, kit.ChatTarget, kit.Post) (kit.Delivery, error) {
	return kit.Delivery{}, nil
}
func (r *replyRecorder) MemberCount(context.Context, int64) (int, error) { return 0, nil }

func (r *replyRecorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return ""
	}
	return r.sent[len(r.sent)-1]
}

type fakeAnnouncer struct {
	scheduled  []announce.BroadcastID
	payloads   []announce.Payload
	requeue    announce.RequeueResult
	requeueErr error
	snap       announce.Snapshot
	active     map[announce.BroadcastID]bool
}

func (f *fakeAnnouncer) ScheduleBroadcast(id announce.BroadcastID, p announce.Payload) error {
	f.scheduled = append(f.scheduled, id)
	f.payloads = append(f.payloads, p)
	return nil
}

func (f *fakeAnnouncer) RequeueFailed(context.Context, announce.BroadcastID) (announce.RequeueResult, error) {
	return f.requeue, f.requeueErr
}

func (f *fakeAnnouncer) Status(_ context.Context, id announce.BroadcastID) (announce.Snapshot, error) {
	s := f.snap
	s.ID = id
	return s, nil
}

func (f *fakeAnnouncer) Active(context.Context) (map[announce.BroadcastID]bool, error) {
	return f.active, nil
}

type fakeGames struct{ n int64 }

func (f fakeGames) MarkAllForAnnouncement(context.Context) (int64, error) { return f.n, nil }

type fakeAuditor struct {
	entries []storage.AuditEntry
}

func (f *fakeAuditor) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

func commandByName(t *testing.T, cmds []router.Command, name string) router.Command {
	t.Helper()
	for _, c := range cmds {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("command %q not registered", name)
	return router.Command{}
}

func run(t *testing.T, c router.Command, args ...string) (*replyRecorder, error) {
	t.Helper()
	rec := &replyRecorder{}
	req := &router.Request{Command: c.Name, Args: args, FromID: 1, Chat: kit.ChatTarget{ChatID: 1}, Adapter: rec, Logger: logx.Nop()}
	return rec, c.Handle(context.Background(), req)
}

func TestAdminCommandsAreOwnerOnly(t *testing.T) {
	for _, c := range adminCommands(&fakeAnnouncer{}, fakeGames{}) {
		if c.Name == "ping" {
			continue
		}
		if c.Access != router.AccessOwnerOnly {
			t.Fatalf("/%s is not owner-only", c.Name)
		}
	}
}

func TestAnnounceTestCommand(t *testing.T) {
	ann := &fakeAnnouncer{}
	cmd := commandByName(t, adminCommands(ann, fakeGames{}), "announce_test")

	rec, err := run(t, cmd)
	if err != nil || !strings.HasPrefix(rec.last(), "usage:") {
		t.Fatalf("empty text: err=%v reply=%q", err, rec.last())
	}

	rec, err = run(t, cmd, "hello", "<world>")
	if err != nil {
		t.Fatalf("announce_test: %v", err)
	}
	if len(ann.scheduled) != 1 || !strings.HasPrefix(string(ann.scheduled[0]), "test-") {
		t.Fatalf("scheduled %v", ann.scheduled)
	}
	p, ok := ann.payloads[0].(announce.TestPayload)
	if !ok || p.Text != "hello <world>" {
		t.Fatalf("payload %#v", ann.payloads[0])
	}
	if !strings.Contains(rec.last(), string(ann.scheduled[0])) {
		t.Fatalf("reply %q does not name the broadcast", rec.last())
	}
}

func TestRequeueCommand(t *testing.T) {
	ann := &fakeAnnouncer{requeue: announce.RequeueReinitialized}
	cmd := commandByName(t, adminCommands(ann, fakeGames{}), "requeue")

	rec, _ := run(t, cmd, "42")
	if !strings.Contains(rec.last(), "restarted") {
		t.Fatalf("reply %q", rec.last())
	}

	ann.requeueErr = announce.ErrNothingToRequeue
	rec, err := run(t, cmd, "42")
	if err != nil || !strings.Contains(rec.last(), "nothing to requeue") {
		t.Fatalf("nothing: err=%v reply=%q", err, rec.last())
	}

	ann.requeueErr = announce.ErrDisabled
	if _, err := run(t, cmd, "42"); !errors.Is(err, announce.ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestStatusCommand(t *testing.T) {
	ann := &fakeAnnouncer{
		snap:   announce.Snapshot{Active: true, Pending: 3, Reach: freestuff.Reach{Users: 2, ChannelsUsers: 90}},
		active: map[announce.BroadcastID]bool{"9": false, "10": true},
	}
	cmd := commandByName(t, adminCommands(ann, fakeGames{}), "status")

	rec, _ := run(t, cmd, "7")
	for _, want := range []string{"<code>7</code>", "pending: 3", "2 users", "90 in channels"} {
		if !strings.Contains(rec.last(), want) {
			t.Fatalf("status reply %q missing %q", rec.last(), want)
		}
	}

	rec, _ = run(t, cmd)
	if !strings.Contains(rec.last(), "<code>10</code> running") || !strings.Contains(rec.last(), "<code>9</code> waiting") {
		t.Fatalf("active reply %q", rec.last())
	}
}

func TestAnnounceAllCommand(t *testing.T) {
	cmd := commandByName(t, adminCommands(&fakeAnnouncer{}, fakeGames{n: 4}), "announce_all")
	rec, err := run(t, cmd)
	if err != nil || !strings.HasPrefix(rec.last(), "4 games") {
		t.Fatalf("err=%v reply=%q", err, rec.last())
	}
}

func TestAuditMiddleware(t *testing.T) {
	aud := &fakeAuditor{}
	boom := errors.New("boom")
	h := router.Chain(func(context.Context, *router.Request) error { return boom }, auditMiddleware(aud, logx.Nop()))

	req := &router.Request{Command: "requeue", Args: []string{"42"}, FromID: 7, FromUsername: "op", Chat: kit.ChatTarget{ChatID: -100}}
	if err := h(context.Background(), req); !errors.Is(err, boom) {
		t.Fatalf("handler error not passed through: %v", err)
	}
	if len(aud.entries) != 1 {
		t.Fatalf("audit entries %d", len(aud.entries))
	}
	e := aud.entries[0]
	if e.Command != "/requeue" || e.Target != "42" || e.OK || e.Error != "boom" || e.ActorID != 7 || e.ChatID != -100 {
		t.Fatalf("audit entry %+v", e)
	}
}

func TestFinishedSummary(t *testing.T) {
	ev := announce.FinishedEvent{
		Snapshot: announce.Snapshot{ID: "12", Reach: freestuff.Reach{Users: 1, Groups: 2}, Unreached: 3},
		Kind:     announce.KindItem,
		Took:     90 * time.Second,
	}
	got := finishedSummary(ev)
	for _, want := range []string{"<code>12</code>", "reached 3 chats", "3 unreached", "1m30s"} {
		if !strings.Contains(got, want) {
			t.Fatalf("summary %q missing %q", got, want)
		}
	}
}
