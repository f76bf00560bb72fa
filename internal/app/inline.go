package app

import (
	"context"
	"errors"
	"time"

	"freestuffbot/internal/freestuff"
	"freestuffbot/internal/storage"
	kit "freestuffbot/internal/transport"
	"freestuffbot/internal/transport/telegram/router"
)

const inlineResultLimit = 50

type GameSearcher interface {
	SearchGames(ctx context.Context, query string, now time.Time, limit int) ([]freestuff.Game, error)
}

type ChatConfigReader interface {
	ChatConfig(ctx context.Context, chatID int64) (freestuff.ChatConfig, bool, error)
}

type InlineAnswerer interface {
	AnswerInline(ctx context.Context, queryID string, results []kit.InlineResult) error
}

// inlineSearch answers inline queries (including Share buttons) with live
// games that pass the asking user's own filters. Users without a stored
// configuration get the defaults.
func inlineSearch(games GameSearcher, configs ChatConfigReader, ans InlineAnswerer, now func() time.Time) router.InlineFunc {
	return func(ctx context.Context, q *kit.InlineQuery) error {
		cfg, ok, err := configs.ChatConfig(ctx, q.FromID)
		if err != nil && !errors.Is(err, storage.ErrDisabled) {
			return err
		}
		if !ok {
			cfg = freestuff.DefaultChatConfig(q.FromID)
		}

		found, err := games.SearchGames(ctx, q.Query, now(), inlineResultLimit)
		if err != nil && !errors.Is(err, storage.ErrDisabled) {
			return err
		}
		results := make([]kit.InlineResult, 0, len(found))
		for _, g := range found {
			if !cfg.Accepts(g) {
				continue
			}
			if r, ok := freestuff.ShareResult(g, cfg); ok {
				results = append(results, r)
			}
		}
		return ans.AnswerInline(ctx, q.ID, results)
	}
}
