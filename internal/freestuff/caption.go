package freestuff

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"freestuffbot/internal/transport"
)

const (
	ParseModeHTML = "HTML"
	siteSignature = "via freestuffbot.xyz"
)

// FormatPrice renders a price in the chat's currency, e.g. "$19.99".
func FormatPrice(p Price, c Currency) string {
	return c.Symbol() + strconv.FormatFloat(p.In(c), 'f', 2, 64)
}

// FormatUntil renders the deal end in the chat's preferred format.
func FormatUntil(until time.Time, f UntilFormat) string {
	if until.IsZero() {
		return "unknown"
	}
	until = until.UTC()
	if f == UntilWeekday {
		return "next " + until.Weekday().String()
	}
	return until.Format("2006-01-02")
}

// Caption renders the HTML caption of a game announcement for one chat.
func Caption(g Game, cfg ChatConfig) string {
	return fmt.Sprintf("<b>Free Game!</b>\n<b>%s</b>\n<s>%s</s> <b>Free</b> until %s • %s\n%s",
		html.EscapeString(g.Title),
		FormatPrice(g.OrgPrice, cfg.Currency),
		FormatUntil(g.Until, cfg.UntilFormat),
		html.EscapeString(g.Store.DisplayName()),
		siteSignature,
	)
}

const shareQueryPrefix = "game_id:"

// ShareQuery is the inline query that re-shares a game.
func ShareQuery(g Game) string {
	return shareQueryPrefix + strconv.FormatInt(g.ID, 10)
}

// ParseShareQuery extracts the game id of a ShareQuery.
func ParseShareQuery(q string) (int64, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(q), shareQueryPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// ShareResult renders g as an inline query answer for a user with cfg.
// It returns false when the game has no image to show.
func ShareResult(g Game, cfg ChatConfig) (transport.InlineResult, bool) {
	if g.Thumbnail == "" {
		return transport.InlineResult{}, false
	}
	r := transport.InlineResult{
		ID:          strconv.FormatInt(g.ID, 10),
		PhotoURL:    g.Thumbnail,
		ThumbURL:    g.Thumbnail,
		Title:       g.Title,
		Description: "Free until " + FormatUntil(g.Until, UntilDate) + " • " + g.Store.DisplayName(),
		Caption:     Caption(g, cfg),
		ParseMode:   ParseModeHTML,
	}
	if u := g.StoreURL(); u != "" {
		r.Buttons = [][]transport.Button{{{Text: "Get", URL: u}}}
	}
	return r, true
}

// AnnouncementPost renders the full post (photo, caption, buttons) for one chat.
func AnnouncementPost(g Game, cfg ChatConfig) transport.Post {
	row := make([]transport.Button, 0, 2)
	if u := g.StoreURL(); u != "" {
		row = append(row, transport.Button{Text: "Get", URL: u})
	}
	row = append(row, transport.Button{Text: "Share", InlineQuery: ShareQuery(g)})

	return transport.Post{
		Text:      Caption(g, cfg),
		PhotoURL:  g.Thumbnail,
		ParseMode: ParseModeHTML,
		Buttons:   [][]transport.Button{row},
	}
}
