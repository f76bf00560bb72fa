package router

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "freestuffbot/internal/runtime/supervisor"
	kit "freestuffbot/internal/transport"
	logx "freestuffbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string // without the leading slash
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	Command      string
	Args         []string
	ReqID        string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends text back to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
	return err
}

// MigrationFunc handles a chat id change reported by the platform.
type MigrationFunc func(ctx context.Context, fromID, toID int64) error

// InlineFunc answers an inline query.
type InlineFunc func(ctx context.Context, q *kit.InlineQuery) error

const (
	defaultWorkers  = 2
	jobQueueCap     = 64
	migrationBudget = 30 * time.Second
	inlineBudget    = 10 * time.Second
)

// CommandManager routes incoming updates: slash commands and inline queries
// go to a bounded worker pool, chat migrations go to the migration handler.
type CommandManager struct {
	mu     sync.RWMutex
	cmds   map[string]Command
	order  []string
	owners []int64

	onMigration MigrationFunc
	onInline    InlineFunc
	mws         []Middleware

	log     logx.Logger
	adapter kit.Adapter

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, owners []int64) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &CommandManager{
		cmds:    map[string]Command{},
		owners:  append([]int64(nil), owners...),
		log:     log,
		adapter: adapter,
		jobs:    make(chan func(), jobQueueCap),
	}
}

// SetOwners updates the owner list used for AccessOwnerOnly checks.
// Safe to call during hot-reload.
func (m *CommandManager) SetOwners(owners []int64) {
	ownCopy := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = ownCopy
	m.mu.Unlock()
}

func (m *CommandManager) isOwner(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Contains(m.owners, id)
}

// Use appends middleware run around every command, inside the panic and log wrappers.
func (m *CommandManager) Use(mw ...Middleware) {
	m.mu.Lock()
	m.mws = append(m.mws, mw...)
	m.mu.Unlock()
}

func (m *CommandManager) OnMigration(fn MigrationFunc) {
	m.mu.Lock()
	m.onMigration = fn
	m.mu.Unlock()
}

func (m *CommandManager) OnInlineQuery(fn InlineFunc) {
	m.mu.Lock()
	m.onInline = fn
	m.mu.Unlock()
}

// SetRegistry replaces the command set. A /help command is always added.
func (m *CommandManager) SetRegistry(cmds []Command) {
	reg := make(map[string]Command, len(cmds)+1)
	order := make([]string, 0, len(cmds)+1)
	add := func(c Command) {
		name := sanitizeTelegramCommand(c.Name)
		if name == "" || c.Handle == nil {
			return
		}
		c.Name = name
		if _, dup := reg[name]; !dup {
			order = append(order, name)
		}
		reg[name] = c
	}
	for _, c := range cmds {
		add(c)
	}
	add(Command{
		Name:        "help",
		Description: "list commands",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText())
		},
	})

	m.mu.Lock()
	m.cmds = reg
	m.order = order
	m.mu.Unlock()
}

// MenuCommands returns the command list for the platform's command menu.
func (m *CommandManager) MenuCommands() []kit.BotCommand {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]kit.BotCommand, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, kit.BotCommand{Command: name, Description: m.cmds[name].Description})
	}
	return out
}

func (m *CommandManager) tryEnqueue(fn func()) bool {
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	m.log.Info("command dispatcher started", logx.Int("workers", defaultWorkers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := range defaultWorkers {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-m.jobs:
					func() {
						defer func() {
							if r := recover(); r != nil {
								m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.route(ctx, up)
		}
	}
}

func (m *CommandManager) route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		m.routeMessage(ctx, up)
	case kit.UpdateMigration:
		m.routeMigration(ctx, up)
	case kit.UpdateInline:
		m.routeInline(ctx, up)
	}
}

// routeInline queues an inline query. A query dropped on a full queue is
// not retried: the client sends a fresh one as the user keeps typing.
func (m *CommandManager) routeInline(ctx context.Context, up kit.Update) {
	q := up.Inline
	m.mu.RLock()
	fn := m.onInline
	m.mu.RUnlock()
	if q == nil || fn == nil {
		return
	}
	ok := m.tryEnqueue(func() {
		c, cancel := context.WithTimeout(ctx, inlineBudget)
		defer cancel()
		if err := fn(c, q); err != nil {
			m.log.Warn("inline query failed", logx.Int64("from", q.FromID), logx.Err(err))
		}
	})
	if !ok {
		m.log.Debug("inline query dropped (queue full)", logx.Int64("from", q.FromID))
	}
}

func (m *CommandManager) routeMigration(ctx context.Context, up kit.Update) {
	mig := up.Migration
	m.mu.RLock()
	fn := m.onMigration
	m.mu.RUnlock()
	if mig == nil || fn == nil {
		return
	}
	// Migrations must not be lost to a busy command queue, so they run on
	// their own goroutine.
	go func() {
		c, cancel := context.WithTimeout(ctx, migrationBudget)
		defer cancel()
		if err := fn(c, mig.FromChatID, mig.ToChatID); err != nil {
			m.log.Error("chat migration failed", logx.Int64("from", mig.FromChatID), logx.Int64("to", mig.ToChatID), logx.Err(err))
			return
		}
		m.log.Info("chat migrated", logx.Int64("from", mig.FromChatID), logx.Int64("to", mig.ToChatID))
	}()
}

// parseCommand splits "/name@bot arg1 arg2" into name and args.
func parseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	parts := strings.Fields(text)
	name := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), parts[1:], true
}

func (m *CommandManager) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	name, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	m.mu.RLock()
	cmd, found := m.cmds[name]
	mws := slices.Clone(m.mws)
	m.mu.RUnlock()
	if !found {
		return
	}
	if cmd.Access == AccessOwnerOnly && !m.isOwner(msg.FromID) {
		_, _ = m.adapter.SendText(ctx, chat, "unauthorized", nil)
		return
	}

	rid := newReqID()
	req := &Request{
		Update:       up,
		Chat:         chat,
		FromID:       msg.FromID,
		FromUsername: msg.FromUsername,
		Command:      name,
		Args:         args,
		ReqID:        rid,
		Adapter:      m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", name),
		),
	}

	chain := append([]Middleware{withRecover(m.log), withCommandLog(m.log)}, mws...)
	chain = append(chain, withDeadline(cmd.Timeout))
	final := Chain(cmd.Handle, chain...)

	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = m.adapter.SendText(ctx, chat, "busy, try again", nil)
	}
}

func newReqID() string {
	var b [6]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
