package freestuff

import "time"

// Reach aggregates how many chats (and their members) an announcement reached.
type Reach struct {
	Users         int64 `json:"users"`
	Groups        int64 `json:"groups"`
	Supergroups   int64 `json:"supergroups"`
	Channels      int64 `json:"channels"`
	GroupsUsers   int64 `json:"groupsUsers"`
	ChannelsUsers int64 `json:"channelsUsers"`
}

// Deliveries is the number of chats a message was delivered to.
func (r Reach) Deliveries() int64 {
	return r.Users + r.Groups + r.Supergroups + r.Channels
}

func (r Reach) Add(o Reach) Reach {
	return Reach{
		Users:         r.Users + o.Users,
		Groups:        r.Groups + o.Groups,
		Supergroups:   r.Supergroups + o.Supergroups,
		Channels:      r.Channels + o.Channels,
		GroupsUsers:   r.GroupsUsers + o.GroupsUsers,
		ChannelsUsers: r.ChannelsUsers + o.ChannelsUsers,
	}
}

// BroadcastReport is the outcome of a finished broadcast run.
type BroadcastReport struct {
	BroadcastID string
	Kind        string // "ITEM" or "TEST"
	GameID      int64  // 0 for test broadcasts
	Reach       Reach
	Unreached   int64 // chats still failing after the last retry cycle
	FinishedAt  time.Time
}
