package freestuff

import (
	"strings"
	"testing"
	"time"
)

func sampleGame() Game {
	return Game{
		ID:        7,
		Title:     "Tom & Jerry",
		OrgPrice:  Price{Euro: 17.5, Dollar: 19.99},
		Thumbnail: "https://img.example/7.png",
		Until:     time.Date(2026, 10, 18, 15, 0, 0, 0, time.UTC), // a Sunday
		URL:       "https://freestuffbot.xyz/game/7",
		OrgURL:    "https://store.steampowered.com/app/7",
		Store:     "steam",
	}
}

func TestCaption(t *testing.T) {
	t.Parallel()
	g := sampleGame()
	tests := []struct {
		name string
		cfg  ChatConfig
		want string
	}{
		{
			name: "usd date",
			cfg:  ChatConfig{Currency: CurrencyUSD, UntilFormat: UntilDate},
			want: "<b>Free Game!</b>\n<b>Tom &amp; Jerry</b>\n<s>$19.99</s> <b>Free</b> until 2026-10-18 • Steam\nvia freestuffbot.xyz",
		},
		{
			name: "eur weekday",
			cfg:  ChatConfig{Currency: CurrencyEUR, UntilFormat: UntilWeekday},
			want: "<b>Free Game!</b>\n<b>Tom &amp; Jerry</b>\n<s>€17.50</s> <b>Free</b> until next Sunday • Steam\nvia freestuffbot.xyz",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := Caption(g, tt.cfg); got != tt.want {
				t.Fatalf("Caption() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatUntilUnknown(t *testing.T) {
	t.Parallel()
	if got := FormatUntil(time.Time{}, UntilDate); got != "unknown" {
		t.Fatalf("FormatUntil(zero) = %q, want unknown", got)
	}
}

func TestAnnouncementPostButtons(t *testing.T) {
	t.Parallel()
	p := AnnouncementPost(sampleGame(), DefaultChatConfig(1))
	if p.PhotoURL == "" || p.ParseMode != ParseModeHTML {
		t.Fatalf("post = %+v, want photo with HTML parse mode", p)
	}
	if len(p.Buttons) != 1 || len(p.Buttons[0]) != 2 {
		t.Fatalf("Buttons = %+v, want one row of two", p.Buttons)
	}
	if got := p.Buttons[0][0].URL; !strings.Contains(got, "steampowered") {
		t.Fatalf("Get URL = %q, want org url", got)
	}
	if got := p.Buttons[0][1].InlineQuery; got != "game_id:7" {
		t.Fatalf("Share query = %q, want game_id:7", got)
	}
}

func TestParseShareQuery(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in     string
		want   int64
		wantOK bool
	}{
		{in: ShareQuery(sampleGame()), want: 7, wantOK: true},
		{in: " game_id: 12 ", want: 12, wantOK: true},
		{in: "game_id:", wantOK: false},
		{in: "game_id:-3", wantOK: false},
		{in: "portal", wantOK: false},
	}
	for _, tt := range tests {
		got, ok := ParseShareQuery(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Fatalf("ParseShareQuery(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestShareResult(t *testing.T) {
	t.Parallel()
	g := sampleGame()
	cfg := DefaultChatConfig(1)
	r, ok := ShareResult(g, cfg)
	if !ok {
		t.Fatal("ShareResult() not ok for a game with a thumbnail")
	}
	if r.ID != "7" || r.PhotoURL != g.Thumbnail || r.ThumbURL != g.Thumbnail || r.Title != g.Title {
		t.Fatalf("result = %+v", r)
	}
	if r.Caption != Caption(g, cfg) || r.ParseMode != ParseModeHTML {
		t.Fatalf("caption = %q (%s)", r.Caption, r.ParseMode)
	}
	if r.Description != "Free until 2026-10-18 • Steam" {
		t.Fatalf("description = %q", r.Description)
	}
	if len(r.Buttons) != 1 || r.Buttons[0][0].Text != "Get" || r.Buttons[0][0].URL != g.OrgURL {
		t.Fatalf("buttons = %+v, want a single Get button", r.Buttons)
	}

	g.Thumbnail = ""
	if _, ok := ShareResult(g, cfg); ok {
		t.Fatal("ShareResult() ok for a game without a thumbnail")
	}
}

func TestChatConfigAccepts(t *testing.T) {
	t.Parallel()
	trash := sampleGame()
	trash.Flags = FlagTrash | FlagThirdParty

	tests := []struct {
		name string
		cfg  ChatConfig
		game Game
		want bool
	}{
		{name: "default accepts", cfg: DefaultChatConfig(1), game: sampleGame(), want: true},
		{name: "trash filtered", cfg: DefaultChatConfig(1), game: trash, want: false},
		{name: "trash allowed", cfg: ChatConfig{Trash: true, Currency: CurrencyUSD}, game: trash, want: true},
		{name: "below min price usd", cfg: ChatConfig{Currency: CurrencyUSD, MinPrice: 20}, game: sampleGame(), want: false},
		{name: "min price uses chat currency", cfg: ChatConfig{Currency: CurrencyEUR, MinPrice: 17.5}, game: sampleGame(), want: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Accepts(tt.game); got != tt.want {
				t.Fatalf("Accepts() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStoreDisplayName(t *testing.T) {
	t.Parallel()
	if got := Store("EPIC").DisplayName(); got != "Epic Games Store" {
		t.Fatalf("DisplayName = %q", got)
	}
	if got := Store("").DisplayName(); got != "Other" {
		t.Fatalf("DisplayName(empty) = %q, want Other", got)
	}
	if got := Store("newshop").DisplayName(); got != "newshop" {
		t.Fatalf("DisplayName(unknown) = %q", got)
	}
}
