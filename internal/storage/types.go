package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// GameStatus is the moderation state of a game.
type GameStatus string

const (
	GameStatusPending   GameStatus = "pending"
	GameStatusAccepted  GameStatus = "accepted"
	GameStatusPublished GameStatus = "published"
	GameStatusDeclined  GameStatus = "declined"
)

// AuditEntry records an operator command.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At            time.Time
	ActorID       int64
	ActorUsername string
	ChatID        int64
	Command       string
	Target        string
	OK            bool
	Error         string
	TookMS        int64
}
