package announce

import "context"

// QueueStore persists broadcast state. Every method is atomic with respect to
// every other method, across processes for networked implementations.
//
// While a broadcast is active, a chat id is in at most one of pending/failed.
type QueueStore interface {
	// Active reports whether the broadcast's active marker is set.
	Active(ctx context.Context, id BroadcastID) (bool, error)

	// Init seeds pending with chatIDs, clears failed, sets attempts, zeroes the
	// counters, stores payload and sets the active marker. It does nothing and
	// returns false if the broadcast is already active.
	Init(ctx context.Context, id BroadcastID, payload []byte, chatIDs []int64, attempts int) (bool, error)

	// Payload returns the payload stored by Init.
	Payload(ctx context.Context, id BroadcastID) ([]byte, error)

	// Pop removes and returns one pending chat id; ok is false when pending is empty.
	Pop(ctx context.Context, id BroadcastID) (chatID int64, ok bool, err error)

	// PushPending and PushFailed put a popped chat id back. An id relocated
	// while it was popped is stored under its new id.
	PushPending(ctx context.Context, id BroadcastID, chatID int64) error
	PushFailed(ctx context.Context, id BroadcastID, chatID int64) error

	// Forward re-queues the new id of a chat relocated while it was popped,
	// into pending unless it is already queued. It reports whether chatID had moved.
	Forward(ctx context.Context, id BroadcastID, chatID int64) (bool, error)

	// Incr adds n to a reach counter.
	Incr(ctx context.Context, id BroadcastID, counter string, n int64) error

	// RetryCycle moves failed into pending and decrements attempts, if failed is
	// non-empty and attempts remain. It reports whether a cycle was started.
	RetryCycle(ctx context.Context, id BroadcastID) (bool, error)

	Snapshot(ctx context.Context, id BroadcastID) (Snapshot, error)

	// Finalize deletes the broadcast state. Chats still in failed are kept as
	// unreached for Requeue. It fails with ErrPendingNotEmpty if pending is not empty.
	Finalize(ctx context.Context, id BroadcastID) error

	// Requeue forces an extra retry: failed and unreached chats are merged into
	// pending of an active broadcast, or a finished broadcast is re-initialized
	// from its unreached chats with the given attempts.
	Requeue(ctx context.Context, id BroadcastID, attempts int) (RequeueResult, error)

	// RecordMigration remembers oldID -> newID for Forward and the push methods.
	RecordMigration(ctx context.Context, oldID, newID int64) error

	// Relocate renames oldID to newID in every active broadcast and remembers the
	// mapping for ids that are popped at the time. It returns how many sets changed.
	Relocate(ctx context.Context, oldID, newID int64) (int, error)

	// ActiveIDs lists every active broadcast.
	ActiveIDs(ctx context.Context) ([]BroadcastID, error)
}
