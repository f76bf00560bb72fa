package storage

import (
	"context"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"freestuffbot/internal/freestuff"
	logx "freestuffbot/pkg/logx"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "data", "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("expected disabled store, got %v %v", st, err)
	}
	if _, _, err := st.ChatConfig(context.Background(), 1); err != ErrDisabled {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
	if _, err := Open(Config{Driver: "bolt"}, logx.Nop()); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestChatConfigRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	if _, ok, err := st.ChatConfig(ctx, 42); err != nil || ok {
		t.Fatalf("unknown chat: ok=%v err=%v", ok, err)
	}

	cfg := freestuff.DefaultChatConfig(42)
	cfg.Currency = freestuff.CurrencyEUR
	cfg.UntilFormat = freestuff.UntilWeekday
	cfg.MinPrice = 4.99
	if err := st.PutChatConfig(ctx, cfg); err != nil {
		t.Fatalf("put: %v", err)
	}
	off := freestuff.DefaultChatConfig(-100)
	off.Enabled = false
	if err := st.PutChatConfig(ctx, off); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok, err := st.ChatConfig(ctx, 42)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got != cfg {
		t.Fatalf("got %+v want %+v", got, cfg)
	}

	ids, err := st.EnabledChatIDs(ctx)
	if err != nil {
		t.Fatalf("enabled: %v", err)
	}
	if len(ids) != 1 || ids[0] != 42 {
		t.Fatalf("enabled ids %v", ids)
	}
}

func TestMigrateChat(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	old := freestuff.DefaultChatConfig(-1)
	old.Trash = true
	_ = st.PutChatConfig(ctx, old)

	if err := st.MigrateChat(ctx, -1, -1001); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, ok, _ := st.ChatConfig(ctx, -1); ok {
		t.Fatalf("old id still present")
	}
	got, ok, _ := st.ChatConfig(ctx, -1001)
	if !ok || !got.Trash {
		t.Fatalf("migrated config %+v ok=%v", got, ok)
	}

	// an existing config under the new id wins
	_ = st.PutChatConfig(ctx, freestuff.DefaultChatConfig(-2))
	if err := st.MigrateChat(ctx, -2, -1001); err != nil {
		t.Fatalf("migrate onto existing: %v", err)
	}
	if _, ok, _ := st.ChatConfig(ctx, -2); ok {
		t.Fatalf("old id still present")
	}
	got, _, _ = st.ChatConfig(ctx, -1001)
	if !got.Trash {
		t.Fatalf("existing config overwritten: %+v", got)
	}
}

func TestReadyGamesAndReport(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	g1 := freestuff.Game{ID: 1, Title: "First", Store: "steam"}
	g2 := freestuff.Game{ID: 2, Title: "Second", Store: "epic"}
	g3 := freestuff.Game{ID: 3, Title: "Pending", Store: "gog"}
	for _, g := range []freestuff.Game{g1, g2} {
		if err := st.PutGame(ctx, g, GameStatusPublished); err != nil {
			t.Fatalf("put game: %v", err)
		}
	}
	_ = st.PutGame(ctx, g3, GameStatusPending)

	ready, err := st.ReadyGames(ctx)
	if err != nil {
		t.Fatalf("ready: %v", err)
	}
	if len(ready) != 2 || ready[0].ID != 1 || ready[1].ID != 2 {
		t.Fatalf("ready games %+v", ready)
	}

	r := freestuff.BroadcastReport{
		BroadcastID: "1",
		Kind:        "ITEM",
		GameID:      1,
		Reach:       freestuff.Reach{Users: 3, Groups: 1, GroupsUsers: 20},
		Unreached:   2,
	}
	if err := st.MarkBroadcastComplete(ctx, r); err != nil {
		t.Fatalf("complete: %v", err)
	}
	ready, _ = st.ReadyGames(ctx)
	if len(ready) != 1 || ready[0].ID != 2 {
		t.Fatalf("game 1 still outgoing: %+v", ready)
	}

	// a requeued run adds to the reach and replaces the unreached count
	r.Reach = freestuff.Reach{Users: 1}
	r.Unreached = 0
	if err := st.MarkBroadcastComplete(ctx, r); err != nil {
		t.Fatalf("complete again: %v", err)
	}
	got, ok, err := st.Report(ctx, "1")
	if err != nil || !ok {
		t.Fatalf("report: ok=%v err=%v", ok, err)
	}
	want := freestuff.Reach{Users: 4, Groups: 1, GroupsUsers: 20}
	if got.Reach != want || got.Unreached != 0 || got.GameID != 1 {
		t.Fatalf("report %+v", got)
	}

	n, err := st.MarkAllForAnnouncement(ctx)
	if err != nil || n != 1 {
		t.Fatalf("mark all: n=%d err=%v", n, err)
	}
	ready, _ = st.ReadyGames(ctx)
	if len(ready) != 2 {
		t.Fatalf("expected both published games ready, got %+v", ready)
	}
}

func TestSearchGames(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	put := func(g freestuff.Game, status GameStatus) {
		t.Helper()
		if err := st.PutGame(ctx, g, status); err != nil {
			t.Fatalf("put game %d: %v", g.ID, err)
		}
	}
	put(freestuff.Game{ID: 1, Title: "Portal 2", Until: now.Add(24 * time.Hour)}, GameStatusPublished)
	put(freestuff.Game{ID: 2, Title: "Portal Stories", Until: now.Add(-time.Hour)}, GameStatusPublished)
	put(freestuff.Game{ID: 3, Title: "PORTAL Knights"}, GameStatusAccepted)
	put(freestuff.Game{ID: 4, Title: "Portal Pending"}, GameStatusPending)
	put(freestuff.Game{ID: 5, Title: "100% Orange Juice"}, GameStatusPublished)

	ids := func(games []freestuff.Game) []int64 {
		out := make([]int64, 0, len(games))
		for _, g := range games {
			out = append(out, g.ID)
		}
		return out
	}

	tests := []struct {
		name  string
		query string
		limit int
		want  []int64
	}{
		{name: "title, case-insensitive, live only", query: "portal", want: []int64{1, 3}},
		{name: "limit", query: "portal", limit: 1, want: []int64{1}},
		{name: "share query", query: "game_id:1", want: []int64{1}},
		{name: "share query of expired game", query: "game_id:2", want: []int64{}},
		{name: "like wildcards are literal", query: "0%", want: []int64{5}},
		{name: "underscore is literal", query: "_", want: []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := st.SearchGames(ctx, tt.query, now, tt.limit)
			if err != nil {
				t.Fatalf("search: %v", err)
			}
			if g := ids(got); !slices.Equal(g, tt.want) {
				t.Fatalf("SearchGames(%q) = %v, want %v", tt.query, g, tt.want)
			}
		})
	}

	var nilStore *SQLiteStore
	if _, err := nilStore.SearchGames(ctx, "x", now, 0); err != ErrDisabled {
		t.Fatalf("disabled search err = %v, want ErrDisabled", err)
	}
}

func TestTestReportLeavesGamesAlone(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	_ = st.PutGame(ctx, freestuff.Game{ID: 7, Title: "Seven"}, GameStatusPublished)
	if err := st.MarkBroadcastComplete(ctx, freestuff.BroadcastReport{BroadcastID: "test-x", Kind: "TEST"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	ready, _ := st.ReadyGames(ctx)
	if len(ready) != 1 {
		t.Fatalf("test broadcast touched games: %+v", ready)
	}
	if _, ok, _ := st.Report(ctx, "missing"); ok {
		t.Fatalf("unexpected report")
	}
}

func TestAppendAudit(t *testing.T) {
	st := openTestStore(t)
	err := st.AppendAudit(context.Background(), AuditEntry{ActorID: 1, ChatID: 1, Command: "/status", OK: true})
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	var n int
	if err := st.db.QueryRow(`SELECT COUNT(1) FROM audit WHERE command = '/status'`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("audit rows n=%d err=%v", n, err)
	}
}
