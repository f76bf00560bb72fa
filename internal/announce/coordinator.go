package announce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	logx "freestuffbot/pkg/logx"

	"freestuffbot/internal/eventbus"
)

const (
	defaultWorkers        = 5
	defaultRatePerSec     = 20
	defaultRetryAttempts  = 3
	defaultDeliverTimeout = 15 * time.Second

	// NoRetries as Settings.RetryAttempts gives every chat a single attempt.
	NoRetries = -1
)

// Event types published on the bus.
const (
	EventStarted  = "announce.started"
	EventCycle    = "announce.cycle"
	EventFinished = "announce.finished"
)

// Settings are the knobs a coordinator reads at the start of every run.
// Zero values pick the defaults.
type Settings struct {
	Workers        int
	RatePerSec     int
	RetryAttempts  int // NoRetries disables retry cycles
	DeliverTimeout time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.Workers <= 0 {
		s.Workers = defaultWorkers
	}
	if s.RatePerSec <= 0 {
		s.RatePerSec = defaultRatePerSec
	}
	if s.RetryAttempts == 0 {
		s.RetryAttempts = defaultRetryAttempts
	}
	if s.DeliverTimeout <= 0 {
		s.DeliverTimeout = defaultDeliverTimeout
	}
	return s
}

// retries is the number of retry cycles a new broadcast starts with.
func (s Settings) retries() int { return max(s.RetryAttempts, 0) }

// FinishedEvent is the Data of an EventFinished event.
type FinishedEvent struct {
	Snapshot Snapshot
	Kind     Kind
	Took     time.Duration
}

// Coordinator drives broadcasts from initialization to finalization.
// One Coordinator runs any number of broadcasts; each id runs at most once at a time.
type Coordinator struct {
	store   QueueStore
	configs ConfigStore
	deliver Deliverer
	sink    Finalizer
	bus     eventbus.Bus
	log     logx.Logger

	settings atomic.Pointer[Settings]

	mu      sync.Mutex
	running map[BroadcastID]struct{}
}

func NewCoordinator(store QueueStore, configs ConfigStore, deliver Deliverer, sink Finalizer, bus eventbus.Bus, log logx.Logger, st Settings) *Coordinator {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Discard
	}
	c := &Coordinator{
		store:   store,
		configs: configs,
		deliver: deliver,
		sink:    sink,
		bus:     bus,
		log:     log,
		running: map[BroadcastID]struct{}{},
	}
	c.Apply(st)
	return c
}

// Apply replaces the settings used by the next worker pool.
func (c *Coordinator) Apply(st Settings) {
	st = st.withDefaults()
	c.settings.Store(&st)
}

func (c *Coordinator) Settings() Settings { return *c.settings.Load() }

// Running reports whether id is being driven by this coordinator.
func (c *Coordinator) Running(id BroadcastID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.running[id]
	return ok
}

func (c *Coordinator) acquire(id BroadcastID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.running[id]; ok {
		return false
	}
	c.running[id] = struct{}{}
	return true
}

func (c *Coordinator) release(id BroadcastID) {
	c.mu.Lock()
	delete(c.running, id)
	c.mu.Unlock()
}

// Run initializes (or attaches to) broadcast id and drives it until it is
// finalized, ctx is done, or the store fails. A nil payload attaches to an
// existing broadcast using its stored payload.
//
// Run fails with errBroadcastInFlight when id is already running in this
// process. It returns nil when ctx is canceled: the state stays in the store
// for the next run.
func (c *Coordinator) Run(ctx context.Context, id BroadcastID, p Payload) error {
	if !c.acquire(id) {
		return errBroadcastInFlight
	}
	defer c.release(id)

	p, err := c.prepare(ctx, id, p)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return nil
	}
	return c.drive(ctx, id, p)
}

// prepare runs the DISCOVERED -> INITIALIZED step.
func (c *Coordinator) prepare(ctx context.Context, id BroadcastID, p Payload) (Payload, error) {
	st := c.Settings()
	log := c.log.With(logx.String("broadcast", string(id)))

	if p == nil {
		raw, err := c.store.Payload(ctx, id)
		if err != nil {
			return nil, err
		}
		if p, err = DecodePayload(raw); err != nil {
			return nil, err
		}
		log.Info("broadcast attached", logx.String("kind", p.Kind().String()))
		return p, nil
	}

	active, err := c.store.Active(ctx, id)
	if err != nil {
		return nil, err
	}
	if active {
		log.Info("broadcast attached", logx.String("kind", p.Kind().String()))
		return p, nil
	}

	raw, err := EncodePayload(p)
	if err != nil {
		return nil, err
	}
	chats, err := c.configs.EnabledChatIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	created, err := c.store.Init(ctx, id, raw, chats, st.retries())
	if err != nil {
		return nil, err
	}
	if created {
		log.Info("broadcast initialized",
			logx.String("kind", p.Kind().String()),
			logx.Int("subscribers", len(chats)),
			logx.Int("attempts", st.retries()),
		)
	} else {
		log.Info("broadcast attached", logx.String("kind", p.Kind().String()))
	}
	return p, nil
}

func (c *Coordinator) drive(ctx context.Context, id BroadcastID, p Payload) error {
	log := c.log.With(logx.String("broadcast", string(id)))
	start := time.Now()
	c.bus.Publish(eventbus.Event{Type: EventStarted, Data: id})

	// One limiter for the whole broadcast: retry cycles stay inside the same windows.
	limiter := NewRateLimiter(c.Settings().RatePerSec)
	for cycle := 1; ; cycle++ {
		st := c.Settings()
		limiter.SetCapacity(st.RatePerSec)
		crashed, err := c.drain(ctx, id, p, st, limiter)
		if ctx.Err() != nil {
			log.Info("broadcast interrupted, state kept", logx.Int("cycle", cycle))
			return nil
		}
		if err != nil {
			log.Error("broadcast halted", logx.Int("cycle", cycle), logx.Err(err))
			return fmt.Errorf("broadcast %s: %w", id, err)
		}

		snap, err := c.store.Snapshot(ctx, id)
		if err != nil {
			return fmt.Errorf("broadcast %s: %w", id, err)
		}
		c.bus.Publish(eventbus.Event{Type: EventCycle, Data: snap})
		log.Info("broadcast cycle finished",
			logx.Int("cycle", cycle),
			logx.Int64("pending", snap.Pending),
			logx.Int64("failed", snap.Failed),
			logx.Int64("attempts", snap.Attempts),
			logx.Int64("delivered", snap.Reach.Deliveries()),
		)

		if snap.Pending > 0 {
			// Only a pool where every worker crashed can leave pending behind
			// without a cancel; the survivors drain otherwise.
			if crashed >= st.Workers {
				return fmt.Errorf("broadcast %s: %w: every worker crashed", id, ErrIncomplete)
			}
			continue
		}

		retried, err := c.store.RetryCycle(ctx, id)
		if err != nil {
			return fmt.Errorf("broadcast %s: %w", id, err)
		}
		if retried {
			log.Info("broadcast retry cycle", logx.Int64("failed", snap.Failed), logx.Int64("attempts_left", snap.Attempts-1))
			continue
		}

		done, err := c.finalize(ctx, id, p, snap)
		if err != nil {
			return fmt.Errorf("broadcast %s: %w", id, err)
		}
		if !done {
			continue
		}
		c.bus.Publish(eventbus.Event{Type: EventFinished, Data: FinishedEvent{Snapshot: snap, Kind: p.Kind(), Took: time.Since(start)}})
		fields := []logx.Field{
			logx.Int64("delivered", snap.Reach.Deliveries()),
			logx.Int64("unreached", snap.Failed),
			logx.Duration("took", time.Since(start)),
		}
		if snap.Failed > 0 {
			log.Warn("broadcast finalized with unreached chats", fields...)
		} else {
			log.Info("broadcast finalized", fields...)
		}
		return nil
	}
}

// drain runs one pool of workers until every one of them exits. It returns
// how many crashed and the first non-crash error.
func (c *Coordinator) drain(ctx context.Context, id BroadcastID, p Payload, st Settings, limiter *RateLimiter) (int, error) {
	var crashed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < st.Workers; i++ {
		w := &worker{
			idx:     i,
			id:      id,
			payload: p,
			store:   c.store,
			configs: c.configs,
			deliver: c.deliver,
			limiter: limiter,
			timeout: st.DeliverTimeout,
			log:     c.log.With(logx.String("broadcast", string(id)), logx.Int("worker", i)),
		}
		g.Go(func() error {
			err := w.run(gctx)
			if errors.Is(err, ErrWorkerPanic) {
				// A crash is contained: the remaining workers keep draining.
				crashed.Add(1)
				c.log.Error("worker crashed", logx.String("broadcast", string(id)), logx.Int("worker", w.idx), logx.Err(err))
				return nil
			}
			if errors.Is(err, context.Canceled) && ctx.Err() == nil {
				// gctx was canceled by a sibling's error; that error is reported.
				return nil
			}
			return err
		})
	}
	err := g.Wait()
	return int(crashed.Load()), err
}

// finalize records the broadcast and deletes its state. done is false when
// pending was refilled in the meantime, e.g. by RequeueFailed.
func (c *Coordinator) finalize(ctx context.Context, id BroadcastID, p Payload, snap Snapshot) (bool, error) {
	report := reportFor(id, p)
	report.Reach = snap.Reach
	report.Unreached = snap.Failed
	report.FinishedAt = time.Now().UTC()
	if c.sink != nil {
		if err := c.sink.MarkBroadcastComplete(ctx, report); err != nil {
			return false, fmt.Errorf("mark complete: %w", err)
		}
	}
	if err := c.store.Finalize(ctx, id); err != nil {
		if errors.Is(err, ErrPendingNotEmpty) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
