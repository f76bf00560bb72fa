// Package freestuff holds the free-game deal domain: games, per-chat
// preferences, eligibility rules and announcement rendering.
package freestuff

import (
	"strings"
	"time"
)

// Price is a game price in both supported currencies.
type Price struct {
	Euro   float64 `json:"euro"`
	Dollar float64 `json:"dollar"`
}

// In returns the price in the given currency.
func (p Price) In(c Currency) float64 {
	if c == CurrencyEUR {
		return p.Euro
	}
	return p.Dollar
}

// Flags is a bitfield of game markers.
type Flags uint32

const (
	FlagTrash      Flags = 1 << 0 // low quality game
	FlagThirdParty Flags = 1 << 1 // requires a third-party client or account
)

func (f Flags) Has(flag Flags) bool { return f&flag != 0 }

// Kind is the announcement type of a deal.
type Kind string

const (
	KindFree     Kind = "free"
	KindWeekend  Kind = "weekend"
	KindDiscount Kind = "discount"
	KindAd       Kind = "ad"
	KindUnknown  Kind = "unknown"
)

// Store identifies where a game is offered.
type Store string

var storeNames = map[Store]string{
	"steam":   "Steam",
	"epic":    "Epic Games Store",
	"humble":  "Humble Bundle",
	"gog":     "GOG.com",
	"origin":  "Origin",
	"uplay":   "Uplay",
	"twitch":  "Twitch",
	"itch":    "itch.io",
	"discord": "Discord",
	"apple":   "Apple App Store",
	"google":  "Google Play",
	"switch":  "Nintendo Switch Store",
	"ps":      "Play Station",
	"xbox":    "Xbox",
	"other":   "Other",
}

// DisplayName returns the human readable store name.
func (s Store) DisplayName() string {
	if n, ok := storeNames[Store(strings.ToLower(string(s)))]; ok {
		return n
	}
	if s == "" {
		return storeNames["other"]
	}
	return string(s)
}

// Game is a published deal.
type Game struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	OrgPrice  Price     `json:"org_price"`
	Price     Price     `json:"price"`
	Thumbnail string    `json:"thumbnail,omitempty"`
	Until     time.Time `json:"until,omitzero"`
	URL       string    `json:"url,omitempty"`
	OrgURL    string    `json:"org_url,omitempty"`
	Store     Store     `json:"store"`
	Flags     Flags     `json:"flags,omitempty"`
	Kind      Kind      `json:"type,omitempty"`
}

// StoreURL is the link the "Get" button points to.
func (g Game) StoreURL() string {
	if g.OrgURL != "" {
		return g.OrgURL
	}
	return g.URL
}
