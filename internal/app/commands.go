package app

import (
	"context"
	"errors"
	"fmt"
	"html"
	"slices"
	"strings"
	"time"

	"freestuffbot/internal/announce"
	"freestuffbot/internal/storage"
	"freestuffbot/internal/transport/telegram/router"
	logx "freestuffbot/pkg/logx"
)

// Announcer is the part of announce.Service the admin commands drive.
type Announcer interface {
	ScheduleBroadcast(id announce.BroadcastID, p announce.Payload) error
	RequeueFailed(ctx context.Context, id announce.BroadcastID) (announce.RequeueResult, error)
	Status(ctx context.Context, id announce.BroadcastID) (announce.Snapshot, error)
	Active(ctx context.Context) (map[announce.BroadcastID]bool, error)
}

type GameMarker interface {
	MarkAllForAnnouncement(ctx context.Context) (int64, error)
}

type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

const commandTimeout = 15 * time.Second

func adminCommands(ann Announcer, games GameMarker) []router.Command {
	return []router.Command{
		{
			Name:        "ping",
			Description: "liveness check",
			Access:      router.AccessEveryone,
			Handle: func(ctx context.Context, req *router.Request) error {
				return req.Reply(ctx, "pong")
			},
		},
		{
			Name:        "status",
			Description: "broadcast state",
			Usage:       "[id]",
			Access:      router.AccessOwnerOnly,
			Timeout:     commandTimeout,
			Handle: func(ctx context.Context, req *router.Request) error {
				if len(req.Args) == 0 {
					return replyActive(ctx, req, ann)
				}
				snap, err := ann.Status(ctx, announce.BroadcastID(req.Args[0]))
				if err != nil {
					_ = req.Reply(ctx, "status failed: "+html.EscapeString(err.Error()))
					return err
				}
				return req.Reply(ctx, formatSnapshot(snap))
			},
		},
		{
			Name:        "requeue",
			Description: "retry failed and unreached chats",
			Usage:       "<id>",
			Access:      router.AccessOwnerOnly,
			Timeout:     commandTimeout,
			Handle: func(ctx context.Context, req *router.Request) error {
				if len(req.Args) != 1 {
					return req.Reply(ctx, "usage: /requeue &lt;id&gt;")
				}
				id := announce.BroadcastID(req.Args[0])
				res, err := ann.RequeueFailed(ctx, id)
				switch {
				case errors.Is(err, announce.ErrNothingToRequeue):
					return req.Reply(ctx, "nothing to requeue for <code>"+html.EscapeString(string(id))+"</code>")
				case err != nil:
					_ = req.Reply(ctx, "requeue failed: "+html.EscapeString(err.Error()))
					return err
				}
				verb := "merged into the running broadcast"
				if res == announce.RequeueReinitialized {
					verb = "restarted from unreached chats"
				}
				return req.Reply(ctx, "<code>"+html.EscapeString(string(id))+"</code> "+verb)
			},
		},
		{
			Name:        "announce_test",
			Description: "send a test message to every enabled chat",
			Usage:       "<text>",
			Access:      router.AccessOwnerOnly,
			Timeout:     commandTimeout,
			Handle: func(ctx context.Context, req *router.Request) error {
				text := strings.TrimSpace(strings.Join(req.Args, " "))
				if text == "" {
					return req.Reply(ctx, "usage: /announce_test &lt;text&gt;")
				}
				id := announce.NewTestBroadcastID()
				if err := ann.ScheduleBroadcast(id, announce.TestPayload{Text: text}); err != nil {
					_ = req.Reply(ctx, "schedule failed: "+html.EscapeString(err.Error()))
					return err
				}
				return req.Reply(ctx, "test broadcast <code>"+html.EscapeString(string(id))+"</code> scheduled")
			},
		},
		{
			Name:        "announce_all",
			Description: "announce every published game again",
			Access:      router.AccessOwnerOnly,
			Timeout:     commandTimeout,
			Handle: func(ctx context.Context, req *router.Request) error {
				n, err := games.MarkAllForAnnouncement(ctx)
				if err != nil {
					_ = req.Reply(ctx, "mark failed: "+html.EscapeString(err.Error()))
					return err
				}
				return req.Reply(ctx, fmt.Sprintf("%d games queued for the next discovery pass", n))
			},
		},
	}
}

func replyActive(ctx context.Context, req *router.Request, ann Announcer) error {
	active, err := ann.Active(ctx)
	if err != nil {
		_ = req.Reply(ctx, "status failed: "+html.EscapeString(err.Error()))
		return err
	}
	if len(active) == 0 {
		return req.Reply(ctx, "no active broadcasts")
	}
	ids := make([]announce.BroadcastID, 0, len(active))
	for id := range active {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var b strings.Builder
	b.WriteString("<b>Active broadcasts</b>")
	for _, id := range ids {
		state := "waiting"
		if active[id] {
			state = "running"
		}
		fmt.Fprintf(&b, "\n<code>%s</code> %s", html.EscapeString(string(id)), state)
	}
	return req.Reply(ctx, b.String())
}

func formatSnapshot(s announce.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Broadcast</b> <code>%s</code>\n", html.EscapeString(string(s.ID)))
	fmt.Fprintf(&b, "active: %t\npending: %d\nfailed: %d\nattempts: %d\n", s.Active, s.Pending, s.Failed, s.Attempts)
	fmt.Fprintf(&b, "reach: %d users, %d groups, %d supergroups, %d channels\n",
		s.Reach.Users, s.Reach.Groups, s.Reach.Supergroups, s.Reach.Channels)
	fmt.Fprintf(&b, "members: %d in groups, %d in channels\n", s.Reach.GroupsUsers, s.Reach.ChannelsUsers)
	fmt.Fprintf(&b, "unreached: %d", s.Unreached)
	return b.String()
}

// auditMiddleware records every command that reached its handler.
func auditMiddleware(aud Auditor, log logx.Logger) router.Middleware {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx context.Context, req *router.Request) error {
			start := time.Now()
			err := next(ctx, req)
			e := storage.AuditEntry{
				At:            start,
				ActorID:       req.FromID,
				ActorUsername: req.FromUsername,
				ChatID:        req.Chat.ChatID,
				Command:       "/" + req.Command,
				Target:        strings.Join(req.Args, " "),
				OK:            err == nil,
				TookMS:        time.Since(start).Milliseconds(),
			}
			if err != nil {
				e.Error = err.Error()
			}
			// The handler ctx may be spent; the audit row still gets written.
			actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if aerr := aud.AppendAudit(actx, e); aerr != nil && !errors.Is(aerr, storage.ErrDisabled) {
				log.Warn("audit append failed", logx.Err(aerr))
			}
			return err
		}
	}
}

// finishedSummary renders an announce.finished event for the log chat.
func finishedSummary(ev announce.FinishedEvent) string {
	s := ev.Snapshot
	return fmt.Sprintf("📣 <b>%s broadcast finished</b> <code>%s</code>\nreached %d chats (%d users, %d groups, %d supergroups, %d channels), %d unreached, took %s",
		ev.Kind, html.EscapeString(string(s.ID)), s.Reach.Deliveries(),
		s.Reach.Users, s.Reach.Groups, s.Reach.Supergroups, s.Reach.Channels,
		s.Unreached, ev.Took.Round(time.Second))
}
