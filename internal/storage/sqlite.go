package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "freestuffbot/pkg/logx"

	"freestuffbot/internal/freestuff"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const defaultBusyTimeout = time.Second

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type SQLiteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (*SQLiteStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &SQLiteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) ready() error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	return nil
}

// ChatConfig returns the preferences of chatID; ok is false for unknown chats.
func (s *SQLiteStore) ChatConfig(ctx context.Context, chatID int64) (freestuff.ChatConfig, bool, error) {
	if err := s.ready(); err != nil {
		return freestuff.ChatConfig{}, false, err
	}
	var (
		cfg             freestuff.ChatConfig
		enabled, trash  bool
		currency, until string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_id, enabled, currency, until_format, trash, min_price FROM chats WHERE chat_id = ?`, chatID,
	).Scan(&cfg.ChatID, &enabled, &currency, &until, &trash, &cfg.MinPrice)
	if errors.Is(err, sql.ErrNoRows) {
		return freestuff.ChatConfig{}, false, nil
	}
	if err != nil {
		return freestuff.ChatConfig{}, false, fmt.Errorf("chat config %d: %w", chatID, err)
	}
	cfg.Enabled, cfg.Trash = enabled, trash
	cfg.Currency = freestuff.Currency(currency)
	cfg.UntilFormat = freestuff.UntilFormat(until)
	return cfg, true, nil
}

// EnabledChatIDs lists every chat with announcements enabled.
func (s *SQLiteStore) EnabledChatIDs(ctx context.Context) ([]int64, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id FROM chats WHERE enabled = 1 ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("enabled chats: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) PutChatConfig(ctx context.Context, cfg freestuff.ChatConfig) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats(chat_id, enabled, currency, until_format, trash, min_price, updated_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   enabled=excluded.enabled, currency=excluded.currency, until_format=excluded.until_format,
		   trash=excluded.trash, min_price=excluded.min_price, updated_at=excluded.updated_at`,
		cfg.ChatID, cfg.Enabled, string(cfg.Currency), string(cfg.UntilFormat), cfg.Trash, cfg.MinPrice,
		time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("put chat config %d: %w", cfg.ChatID, err)
	}
	return nil
}

// MigrateChat moves a chat's preferences to its new id. Existing preferences
// under newID win.
func (s *SQLiteStore) MigrateChat(ctx context.Context, oldID, newID int64) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.tx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM chats WHERE chat_id = ?`, newID).Scan(&exists)
		if err != nil {
			return err
		}
		if exists > 0 {
			_, err = tx.ExecContext(ctx, `DELETE FROM chats WHERE chat_id = ?`, oldID)
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE chats SET chat_id = ?, updated_at = ? WHERE chat_id = ?`,
			newID, time.Now().UTC().Format(timeLayout), oldID)
		return err
	})
}

// PutGame stores g. Publishing sets published_at and marks the game outgoing.
func (s *SQLiteStore) PutGame(ctx context.Context, g freestuff.Game, status GameStatus) error {
	if err := s.ready(); err != nil {
		return err
	}
	info, err := json.Marshal(g)
	if err != nil {
		return err
	}
	var publishedAt any
	outgoing := false
	if status == GameStatusPublished {
		publishedAt = time.Now().UTC().Format(timeLayout)
		outgoing = true
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO games(id, info, status, published_at, outgoing_telegram) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   info=excluded.info, status=excluded.status,
		   published_at=COALESCE(games.published_at, excluded.published_at),
		   outgoing_telegram=MAX(games.outgoing_telegram, excluded.outgoing_telegram)`,
		g.ID, string(info), string(status), publishedAt, outgoing,
	)
	if err != nil {
		return fmt.Errorf("put game %d: %w", g.ID, err)
	}
	return nil
}

// ReadyGames returns published games waiting to be announced, oldest first.
func (s *SQLiteStore) ReadyGames(ctx context.Context) ([]freestuff.Game, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT info FROM games WHERE outgoing_telegram = 1 AND status = ? ORDER BY published_at, id`,
		string(GameStatusPublished))
	if err != nil {
		return nil, fmt.Errorf("ready games: %w", err)
	}
	return s.scanGames(rows)
}

// searchScanLimit caps the rows read per search before expired games are dropped.
const searchScanLimit = 200

// SearchGames finds live games for inline queries, newest first. "game_id:N"
// selects one game; any other text matches titles case-insensitively. Games
// whose deal ended before now are skipped; an unknown end keeps a game.
func (s *SQLiteStore) SearchGames(ctx context.Context, query string, now time.Time, limit int) ([]freestuff.Game, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT info FROM games WHERE status IN (?, ?) AND `
	args := []any{string(GameStatusPublished), string(GameStatusAccepted)}
	if id, ok := freestuff.ParseShareQuery(query); ok {
		q += `id = ?`
		args = append(args, id)
	} else {
		q += `json_extract(info, '$.title') LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(strings.TrimSpace(query))+"%")
	}
	q += ` ORDER BY published_at DESC, id DESC LIMIT ?`
	args = append(args, searchScanLimit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search games: %w", err)
	}
	games, err := s.scanGames(rows)
	if err != nil {
		return nil, err
	}
	live := games[:0]
	for _, g := range games {
		if !g.Until.IsZero() && g.Until.Before(now) {
			continue
		}
		live = append(live, g)
		if len(live) == limit {
			break
		}
	}
	return live, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// scanGames decodes the info column of every row and closes rows.
func (s *SQLiteStore) scanGames(rows *sql.Rows) ([]freestuff.Game, error) {
	defer rows.Close()
	var games []freestuff.Game
	for rows.Next() {
		var info string
		if err := rows.Scan(&info); err != nil {
			return nil, err
		}
		var g freestuff.Game
		if err := json.Unmarshal([]byte(info), &g); err != nil {
			s.log.Warn("skipping unreadable game", logx.Err(err))
			continue
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

// MarkAllForAnnouncement queues every published game for the next discovery pass.
func (s *SQLiteStore) MarkAllForAnnouncement(ctx context.Context) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE games SET outgoing_telegram = 1 WHERE status = ? AND outgoing_telegram = 0`,
		string(GameStatusPublished))
	if err != nil {
		return 0, fmt.Errorf("mark games outgoing: %w", err)
	}
	return res.RowsAffected()
}

// MarkBroadcastComplete adds a finished run to the broadcast's report. For
// game broadcasts it also clears the outgoing flag and stores the total reach.
func (s *SQLiteStore) MarkBroadcastComplete(ctx context.Context, r freestuff.BroadcastReport) error {
	if err := s.ready(); err != nil {
		return err
	}
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now().UTC()
	}
	return s.tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO broadcast_reports(broadcast_id, kind, game_id,
			   reach_users, reach_groups, reach_supergroups, reach_channels, reach_groups_users, reach_channels_users,
			   unreached, runs, finished_at)
			 VALUES(?,?,?,?,?,?,?,?,?,?,1,?)
			 ON CONFLICT(broadcast_id) DO UPDATE SET
			   reach_users = reach_users + excluded.reach_users,
			   reach_groups = reach_groups + excluded.reach_groups,
			   reach_supergroups = reach_supergroups + excluded.reach_supergroups,
			   reach_channels = reach_channels + excluded.reach_channels,
			   reach_groups_users = reach_groups_users + excluded.reach_groups_users,
			   reach_channels_users = reach_channels_users + excluded.reach_channels_users,
			   unreached = excluded.unreached,
			   runs = runs + 1,
			   finished_at = excluded.finished_at`,
			r.BroadcastID, r.Kind, r.GameID,
			r.Reach.Users, r.Reach.Groups, r.Reach.Supergroups, r.Reach.Channels, r.Reach.GroupsUsers, r.Reach.ChannelsUsers,
			r.Unreached, r.FinishedAt.Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("record report %s: %w", r.BroadcastID, err)
		}
		if r.GameID == 0 {
			return nil
		}
		total, _, err := reportTx(ctx, tx, r.BroadcastID)
		if err != nil {
			return err
		}
		reach, err := json.Marshal(total.Reach)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE games SET outgoing_telegram = 0, reach = ? WHERE id = ?`, string(reach), r.GameID)
		return err
	})
}

// Report returns the accumulated report of a broadcast.
func (s *SQLiteStore) Report(ctx context.Context, broadcastID string) (freestuff.BroadcastReport, bool, error) {
	if err := s.ready(); err != nil {
		return freestuff.BroadcastReport{}, false, err
	}
	return reportTx(ctx, s.db, broadcastID)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func reportTx(ctx context.Context, q queryer, broadcastID string) (freestuff.BroadcastReport, bool, error) {
	var (
		r        freestuff.BroadcastReport
		finished string
	)
	err := q.QueryRowContext(ctx,
		`SELECT broadcast_id, kind, game_id,
		   reach_users, reach_groups, reach_supergroups, reach_channels, reach_groups_users, reach_channels_users,
		   unreached, finished_at
		 FROM broadcast_reports WHERE broadcast_id = ?`, broadcastID,
	).Scan(&r.BroadcastID, &r.Kind, &r.GameID,
		&r.Reach.Users, &r.Reach.Groups, &r.Reach.Supergroups, &r.Reach.Channels, &r.Reach.GroupsUsers, &r.Reach.ChannelsUsers,
		&r.Unreached, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return freestuff.BroadcastReport{}, false, nil
	}
	if err != nil {
		return freestuff.BroadcastReport{}, false, fmt.Errorf("report %s: %w", broadcastID, err)
	}
	r.FinishedAt, _ = time.Parse(timeLayout, finished)
	return r, true, nil
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if err := s.ready(); err != nil {
		return err
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_username, chat_id, command, target, ok, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.At.Format(timeLayout), e.ActorID, nullStr(e.ActorUsername), e.ChatID,
		e.Command, nullStr(e.Target), e.OK, nullStr(e.Error), e.TookMS,
	)
	return err
}

func (s *SQLiteStore) tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
