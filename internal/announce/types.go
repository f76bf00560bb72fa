package announce

import (
	"context"
	"errors"

	"freestuffbot/internal/freestuff"
	"freestuffbot/internal/transport"
)

var (
	ErrDisabled          = errors.New("announcements disabled")
	ErrNotStarted        = errors.New("announcement service not started")
	ErrUnknownBroadcast  = errors.New("unknown broadcast")
	ErrNothingToRequeue  = errors.New("nothing to requeue")
	ErrPendingNotEmpty   = errors.New("broadcast still has pending chats")
	ErrWorkerPanic       = errors.New("delivery worker panicked")
	ErrIncomplete        = errors.New("broadcast incomplete")
	errBroadcastInFlight = errors.New("broadcast already running")
)

// BroadcastID identifies one broadcast. Game broadcasts use the game id.
type BroadcastID string

// Reach counter names, as stored per broadcast.
const (
	CounterUsers         = "users"
	CounterGroups        = "groups"
	CounterSupergroups   = "supergroups"
	CounterChannels      = "channels"
	CounterGroupsUsers   = "groupsUsers"
	CounterChannelsUsers = "channelsUsers"
)

// Counters lists every reach counter in storage order.
var Counters = []string{
	CounterUsers, CounterGroups, CounterSupergroups,
	CounterChannels, CounterGroupsUsers, CounterChannelsUsers,
}

// deliveryCounter maps a chat kind to its delivery counter. Unknown chats are not counted.
func deliveryCounter(k transport.ChatKind) string {
	switch k {
	case transport.ChatPrivate:
		return CounterUsers
	case transport.ChatGroup:
		return CounterGroups
	case transport.ChatSuperGroup:
		return CounterSupergroups
	case transport.ChatChannel:
		return CounterChannels
	default:
		return ""
	}
}

// memberCounter maps a chat kind to the counter its member count is added to.
func memberCounter(k transport.ChatKind) string {
	switch k {
	case transport.ChatGroup, transport.ChatSuperGroup:
		return CounterGroupsUsers
	case transport.ChatChannel:
		return CounterChannelsUsers
	default:
		return ""
	}
}

// reachFromCounters builds a Reach from counter values keyed by counter name.
func reachFromCounters(v map[string]int64) freestuff.Reach {
	return freestuff.Reach{
		Users:         v[CounterUsers],
		Groups:        v[CounterGroups],
		Supergroups:   v[CounterSupergroups],
		Channels:      v[CounterChannels],
		GroupsUsers:   v[CounterGroupsUsers],
		ChannelsUsers: v[CounterChannelsUsers],
	}
}

// Snapshot is a point-in-time view of a broadcast's persisted state.
type Snapshot struct {
	ID        BroadcastID
	Active    bool
	Pending   int64
	Failed    int64
	Attempts  int64
	Reach     freestuff.Reach
	Unreached int64 // chats left over by a finished run, waiting for RequeueFailed
}

// RequeueResult tells what RequeueFailed did.
type RequeueResult int

const (
	RequeueNothing       RequeueResult = iota // no failed or unreached chats
	RequeueMerged                             // merged into the running broadcast
	RequeueReinitialized                      // finished broadcast re-seeded from unreached chats
)

// ConfigStore reads chat preferences. It is never written by this package.
type ConfigStore interface {
	// ChatConfig returns the chat's preferences; ok is false when the chat is unknown.
	ChatConfig(ctx context.Context, chatID int64) (cfg freestuff.ChatConfig, ok bool, err error)
	// EnabledChatIDs snapshots every chat with announcements enabled.
	EnabledChatIDs(ctx context.Context) ([]int64, error)
}

// Deliverer sends posts to chats.
type Deliverer interface {
	SendPost(ctx context.Context, to transport.ChatTarget, post transport.Post) (transport.Delivery, error)
	MemberCount(ctx context.Context, chatID int64) (int, error)
}

// Finalizer records finished broadcasts.
type Finalizer interface {
	MarkBroadcastComplete(ctx context.Context, r freestuff.BroadcastReport) error
}

// ItemSource lists games waiting to be announced, oldest first.
type ItemSource interface {
	ReadyGames(ctx context.Context) ([]freestuff.Game, error)
}
