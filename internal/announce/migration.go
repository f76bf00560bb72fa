package announce

import (
	"context"
	"fmt"

	logx "freestuffbot/pkg/logx"
)

// ChatMigrator rewrites stored chat configuration when a chat changes id.
type ChatMigrator interface {
	MigrateChat(ctx context.Context, oldID, newID int64) error
}

// MigrationHandler reacts to chat id changes reported by the platform. It
// never pauses running broadcasts: the queue store moves the id atomically.
type MigrationHandler struct {
	store   QueueStore
	configs ChatMigrator
	log     logx.Logger
}

func NewMigrationHandler(store QueueStore, configs ChatMigrator, log logx.Logger) *MigrationHandler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &MigrationHandler{store: store, configs: configs, log: log}
}

// Relocate moves oldID to newID in every active broadcast.
//
// Order matters for workers holding oldID: the mapping is recorded before the
// chat's configuration moves, so a worker that no longer finds oldID's
// configuration forwards it; the queue entries move last, so a worker that
// pops newID finds its configuration.
func (h *MigrationHandler) Relocate(ctx context.Context, oldID, newID int64) error {
	if oldID == newID {
		return nil
	}
	if err := h.store.RecordMigration(ctx, oldID, newID); err != nil {
		return err
	}
	if h.configs != nil {
		if err := h.configs.MigrateChat(ctx, oldID, newID); err != nil {
			return fmt.Errorf("migrate chat config %d->%d: %w", oldID, newID, err)
		}
	}
	moved, err := h.store.Relocate(ctx, oldID, newID)
	if err != nil {
		return err
	}
	h.log.Info("chat id relocated",
		logx.Int64("from", oldID),
		logx.Int64("to", newID),
		logx.Int("queue_entries", moved),
	)
	return nil
}
