package announce

import (
	"strings"
	"testing"

	"freestuffbot/internal/freestuff"
)

func TestPayloadEnvelope(t *testing.T) {
	t.Parallel()
	game := freestuff.Game{ID: 9, Title: "Celeste", Store: "epic", Flags: freestuff.FlagThirdParty}
	tests := []struct {
		name string
		in   Payload
		kind Kind
	}{
		{"item", ItemPayload{Game: game}, KindItem},
		{"test", TestPayload{Text: "ping"}, KindTest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := EncodePayload(tc.in)
			if err != nil {
				t.Fatalf("EncodePayload() error: %v", err)
			}
			if !strings.Contains(string(raw), `"kind":"`+tc.kind.String()+`"`) {
				t.Fatalf("envelope %s lacks kind tag", raw)
			}
			out, err := DecodePayload(raw)
			if err != nil {
				t.Fatalf("DecodePayload() error: %v", err)
			}
			if out.Kind() != tc.kind {
				t.Fatalf("Kind() = %v, want %v", out.Kind(), tc.kind)
			}
		})
	}
}

func TestDecodePayloadRejectsBadInput(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{`{"kind":"NEWS"}`, `{"kind":"ITEM"}`, `not json`} {
		if _, err := DecodePayload([]byte(raw)); err == nil {
			t.Fatalf("DecodePayload(%s) = nil error", raw)
		}
	}
}

func TestRender(t *testing.T) {
	t.Parallel()
	game := freestuff.Game{ID: 3, Title: "Hades", OrgPrice: freestuff.Price{Dollar: 24.99, Euro: 22.5}, Thumbnail: "https://img/h.png", URL: "https://store/h"}
	enabled := freestuff.DefaultChatConfig(1)
	disabled := enabled
	disabled.Enabled = false
	picky := enabled
	picky.MinPrice = 30

	tests := []struct {
		name string
		p    Payload
		cfg  freestuff.ChatConfig
		owed bool
	}{
		{"item enabled", ItemPayload{Game: game}, enabled, true},
		{"item disabled", ItemPayload{Game: game}, disabled, false},
		{"item below min price", ItemPayload{Game: game}, picky, false},
		{"test enabled", TestPayload{Text: "hi"}, enabled, true},
		{"test ignores filters", TestPayload{Text: "hi"}, picky, true},
		{"test disabled", TestPayload{Text: "hi"}, disabled, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			post, owed := render(tc.p, tc.cfg)
			if owed != tc.owed {
				t.Fatalf("owed = %v, want %v", owed, tc.owed)
			}
			if !owed {
				return
			}
			switch tc.p.(type) {
			case ItemPayload:
				if post.PhotoURL != game.Thumbnail || !strings.Contains(post.Text, "Hades") || len(post.Buttons) != 1 {
					t.Fatalf("item post = %+v", post)
				}
			case TestPayload:
				if post.Text != "hi" || post.PhotoURL != "" {
					t.Fatalf("test post = %+v", post)
				}
			}
		})
	}
}

func TestReportFor(t *testing.T) {
	t.Parallel()
	r := reportFor("12", ItemPayload{Game: freestuff.Game{ID: 12}})
	if r.Kind != "ITEM" || r.GameID != 12 || r.BroadcastID != "12" {
		t.Fatalf("item report = %+v", r)
	}
	id := NewTestBroadcastID()
	r = reportFor(id, TestPayload{Text: "x"})
	if r.Kind != "TEST" || r.GameID != 0 || !strings.HasPrefix(r.BroadcastID, "test-") {
		t.Fatalf("test report = %+v", r)
	}
}
