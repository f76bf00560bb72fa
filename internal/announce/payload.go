package announce

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"freestuffbot/internal/freestuff"
	"freestuffbot/internal/transport"
)

// Kind tags the payload variant of a broadcast.
type Kind int

const (
	KindItem Kind = iota + 1
	KindTest
)

func (k Kind) String() string {
	switch k {
	case KindItem:
		return "ITEM"
	case KindTest:
		return "TEST"
	default:
		return "UNKNOWN"
	}
}

// Payload is what a broadcast delivers: ItemPayload or TestPayload.
type Payload interface {
	Kind() Kind
	isPayload()
}

// ItemPayload announces a game.
type ItemPayload struct {
	Game freestuff.Game
}

func (ItemPayload) Kind() Kind { return KindItem }
func (ItemPayload) isPayload() {}

// TestPayload sends plain text to every enabled chat.
type TestPayload struct {
	Text string
}

func (TestPayload) Kind() Kind { return KindTest }
func (TestPayload) isPayload() {}

// GameBroadcastID is the broadcast id of a game announcement.
func GameBroadcastID(g freestuff.Game) BroadcastID {
	return BroadcastID(strconv.FormatInt(g.ID, 10))
}

// NewTestBroadcastID returns a fresh id for a test broadcast.
func NewTestBroadcastID() BroadcastID {
	return BroadcastID("test-" + uuid.NewString())
}

// render formats p for one chat. owed is false when the chat must be skipped:
// announcements disabled, or the game is filtered out by the chat's preferences.
func render(p Payload, cfg freestuff.ChatConfig) (post transport.Post, owed bool) {
	if !cfg.Enabled {
		return transport.Post{}, false
	}
	switch v := p.(type) {
	case ItemPayload:
		if !cfg.Accepts(v.Game) {
			return transport.Post{}, false
		}
		return freestuff.AnnouncementPost(v.Game, cfg), true
	case TestPayload:
		return transport.Post{Text: v.Text, DisablePreview: true}, true
	default:
		return transport.Post{}, false
	}
}

// reportFor builds the finalization report skeleton for p.
func reportFor(id BroadcastID, p Payload) freestuff.BroadcastReport {
	r := freestuff.BroadcastReport{BroadcastID: string(id), Kind: p.Kind().String()}
	if item, ok := p.(ItemPayload); ok {
		r.GameID = item.Game.ID
	}
	return r
}

type payloadEnvelope struct {
	Kind string          `json:"kind"`
	Item *freestuff.Game `json:"item,omitempty"`
	Text string          `json:"text,omitempty"`
}

// EncodePayload serializes p for the queue store.
func EncodePayload(p Payload) ([]byte, error) {
	env := payloadEnvelope{}
	switch v := p.(type) {
	case ItemPayload:
		env.Kind = KindItem.String()
		g := v.Game
		env.Item = &g
	case TestPayload:
		env.Kind = KindTest.String()
		env.Text = v.Text
	default:
		return nil, fmt.Errorf("encode payload: unsupported %T", p)
	}
	return json.Marshal(env)
}

// DecodePayload is the inverse of EncodePayload.
func DecodePayload(b []byte) (Payload, error) {
	var env payloadEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	switch env.Kind {
	case KindItem.String():
		if env.Item == nil {
			return nil, fmt.Errorf("decode payload: item missing")
		}
		return ItemPayload{Game: *env.Item}, nil
	case KindTest.String():
		return TestPayload{Text: env.Text}, nil
	default:
		return nil, fmt.Errorf("decode payload: unknown kind %q", env.Kind)
	}
}
