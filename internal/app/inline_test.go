package app

import (
	"context"
	"testing"
	"time"

	"freestuffbot/internal/freestuff"
	"freestuffbot/internal/storage"
	kit "freestuffbot/internal/transport"
)

type fakeSearch struct {
	games []freestuff.Game
	err   error
	query string
}

func (f *fakeSearch) SearchGames(_ context.Context, q string, _ time.Time, _ int) ([]freestuff.Game, error) {
	f.query = q
	return f.games, f.err
}

type fakeChatConfigs map[int64]freestuff.ChatConfig

func (f fakeChatConfigs) ChatConfig(_ context.Context, id int64) (freestuff.ChatConfig, bool, error) {
	cfg, ok := f[id]
	return cfg, ok, nil
}

type disabledConfigs struct{}

func (disabledConfigs) ChatConfig(context.Context, int64) (freestuff.ChatConfig, bool, error) {
	return freestuff.ChatConfig{}, false, storage.ErrDisabled
}

type fakeAnswerer struct {
	queryID string
	results []kit.InlineResult
	calls   int
}

func (f *fakeAnswerer) AnswerInline(_ context.Context, id string, results []kit.InlineResult) error {
	f.calls++
	f.queryID, f.results = id, results
	return nil
}

func inlineGames() []freestuff.Game {
	return []freestuff.Game{
		{ID: 1, Title: "Portal", Thumbnail: "https://img/1.jpg", OrgPrice: freestuff.Price{Dollar: 9.99}, OrgURL: "https://store/1"},
		{ID: 2, Title: "Shovelware", Thumbnail: "https://img/2.jpg", Flags: freestuff.FlagTrash},
		{ID: 3, Title: "Cheap", Thumbnail: "https://img/3.jpg", OrgPrice: freestuff.Price{Dollar: 0.99}},
		{ID: 4, Title: "No Image"},
	}
}

func TestInlineSearchAppliesUserFilters(t *testing.T) {
	search := &fakeSearch{games: inlineGames()}
	ans := &fakeAnswerer{}
	picky := freestuff.DefaultChatConfig(7)
	picky.MinPrice = 5
	h := inlineSearch(search, fakeChatConfigs{7: picky}, ans, time.Now)

	if err := h(context.Background(), &kit.InlineQuery{ID: "q", FromID: 7, Query: "game_id:1"}); err != nil {
		t.Fatalf("inline: %v", err)
	}
	if search.query != "game_id:1" || ans.queryID != "q" {
		t.Fatalf("query=%q answered=%q", search.query, ans.queryID)
	}
	if len(ans.results) != 1 || ans.results[0].ID != "1" {
		t.Fatalf("results %+v, want only game 1", ans.results)
	}
	r := ans.results[0]
	if r.PhotoURL != "https://img/1.jpg" || len(r.Buttons) != 1 || r.Buttons[0][0].URL != "https://store/1" {
		t.Fatalf("result %+v", r)
	}
}

func TestInlineSearchDefaultsForUnknownUser(t *testing.T) {
	search := &fakeSearch{games: inlineGames()}
	ans := &fakeAnswerer{}
	h := inlineSearch(search, fakeChatConfigs{}, ans, time.Now)

	if err := h(context.Background(), &kit.InlineQuery{ID: "q", FromID: 99, Query: "a"}); err != nil {
		t.Fatalf("inline: %v", err)
	}
	var ids []string
	for _, r := range ans.results {
		ids = append(ids, r.ID)
	}
	// Trash is filtered by default and games without an image have no photo result.
	if len(ids) != 2 || ids[0] != "1" || ids[1] != "3" {
		t.Fatalf("result ids %v, want [1 3]", ids)
	}
}

func TestInlineSearchWithoutStorage(t *testing.T) {
	ans := &fakeAnswerer{}
	h := inlineSearch(&fakeSearch{err: storage.ErrDisabled}, disabledConfigs{}, ans, time.Now)
	if err := h(context.Background(), &kit.InlineQuery{ID: "q", FromID: 1}); err != nil {
		t.Fatalf("inline: %v", err)
	}
	if ans.calls != 1 || len(ans.results) != 0 {
		t.Fatalf("calls=%d results=%v, want one empty answer", ans.calls, ans.results)
	}
}
