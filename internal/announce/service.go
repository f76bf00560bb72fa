package announce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "freestuffbot/pkg/logx"

	"freestuffbot/internal/eventbus"
	rtsup "freestuffbot/internal/runtime/supervisor"
)

const (
	defaultCheckSchedule = "@every 1m"
	releasePoll          = 100 * time.Millisecond
)

type Config struct {
	Enabled        bool
	Workers        int
	RatePerSec     int
	RetryAttempts  int
	DeliverTimeout time.Duration
	CheckSchedule  string
}

func (c Config) settings() Settings {
	return Settings{
		Workers:        c.Workers,
		RatePerSec:     c.RatePerSec,
		RetryAttempts:  c.RetryAttempts,
		DeliverTimeout: c.DeliverTimeout,
	}.withDefaults()
}

// Deps are the collaborators of the Service. Source and Migrator may be nil.
type Deps struct {
	Store     QueueStore
	Configs   ConfigStore
	Deliverer Deliverer
	Sink      Finalizer
	Source    ItemSource
	Migrator  ChatMigrator
	Bus       eventbus.Bus
}

// Service is the announcement engine's entry point: it discovers ready games
// on a cron schedule, resumes interrupted broadcasts and exposes the
// scheduling, migration and recovery operations.
//
// It is safe for concurrent use.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	deps      Deps
	coord     *Coordinator
	migration *MigrationHandler

	sup  *rtsup.Supervisor
	cron *cron.Cron
}

func New(cfg Config, deps Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.Discard
	}
	return &Service{
		cfg:       cfg,
		log:       log,
		deps:      deps,
		coord:     NewCoordinator(deps.Store, deps.Configs, deps.Deliverer, deps.Sink, deps.Bus, log, cfg.settings()),
		migration: NewMigrationHandler(deps.Store, deps.Migrator, log),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply updates worker pool settings; they take effect at the next retry
// cycle of every broadcast. Schedule and enable changes apply on restart.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	s.mu.Unlock()
	s.coord.Apply(cfg.settings())
	if old.CheckSchedule != cfg.CheckSchedule || old.Enabled != cfg.Enabled {
		s.log.Warn("announcement schedule change needs a restart",
			logx.String("check_schedule", cfg.CheckSchedule), logx.Bool("enabled", cfg.Enabled))
	}
}

// Start launches the discovery schedule and runs one discovery pass right
// away. It is a no-op when disabled or already started.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled {
		s.log.Info("announcements disabled")
		return nil
	}
	if s.sup != nil {
		return nil
	}
	if s.deps.Store == nil || s.deps.Configs == nil || s.deps.Deliverer == nil {
		return errors.New("announcements need a queue store, a chat config store and a deliverer")
	}

	spec := s.cfg.CheckSchedule
	if spec == "" {
		spec = defaultCheckSchedule
	}
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "announce.sup"))),
		rtsup.WithCancelOnError(false),
	)
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cronLogger{s.log}), cron.SkipIfStillRunning(cronLogger{s.log})),
	)
	if _, err := c.AddFunc(spec, func() { s.discover(sup.Context()) }); err != nil {
		sup.Cancel()
		return fmt.Errorf("announcements.check_schedule %q: %w", spec, err)
	}
	s.sup, s.cron = sup, c
	c.Start()
	sup.Go0("discover.initial", s.discover)

	st := s.coord.Settings()
	s.log.Info("service started",
		logx.String("check_schedule", spec),
		logx.Int("workers", st.Workers),
		logx.Int("rate_per_sec", st.RatePerSec),
		logx.Int("retry_attempts", st.retries()),
	)
	return nil
}

// Stop cancels running broadcasts, leaving their state for the next start,
// and waits for them to return their in-flight chats.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup, c := s.sup, s.cron
	s.sup, s.cron = nil, nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	cronDone := c.Stop()
	sup.Cancel()
	select {
	case <-cronDone.Done():
	case <-ctx.Done():
	}
	if err := sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	s.log.Info("service stopped")
	return nil
}

func (s *Service) supervisor() (*rtsup.Supervisor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled {
		return nil, ErrDisabled
	}
	if s.sup == nil {
		return nil, ErrNotStarted
	}
	return s.sup, nil
}

// discover resumes interrupted broadcasts, then announces ready games one
// after another. Cron skips a tick while the previous pass still runs.
func (s *Service) discover(ctx context.Context) {
	ids, err := s.deps.Store.ActiveIDs(ctx)
	if err != nil {
		s.log.Error("list active broadcasts failed", logx.Err(err))
		return
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if s.coord.Running(id) {
			continue
		}
		if err := s.coord.Run(ctx, id, nil); err != nil && !errors.Is(err, errBroadcastInFlight) {
			s.log.Error("resume broadcast failed", logx.String("broadcast", string(id)), logx.Err(err))
		}
	}

	if s.deps.Source == nil {
		return
	}
	games, err := s.deps.Source.ReadyGames(ctx)
	if err != nil {
		s.log.Error("list ready games failed", logx.Err(err))
		return
	}
	for _, g := range games {
		if ctx.Err() != nil {
			return
		}
		err := s.coord.Run(ctx, GameBroadcastID(g), ItemPayload{Game: g})
		if err != nil && !errors.Is(err, errBroadcastInFlight) {
			s.log.Error("announce game failed", logx.Int64("game", g.ID), logx.Err(err))
		}
	}
}

// ScheduleBroadcast starts broadcasting p under id in the background.
// Calling it again for an id that is active does not reset its state.
func (s *Service) ScheduleBroadcast(id BroadcastID, p Payload) error {
	if p == nil {
		return fmt.Errorf("schedule %s: nil payload", id)
	}
	sup, err := s.supervisor()
	if err != nil {
		return err
	}
	s.spawn(sup, id, p, false)
	return nil
}

// spawn runs id in the background. With awaitRelease set, a run of id that
// is still winding down is waited out instead of treated as covering the work.
func (s *Service) spawn(sup *rtsup.Supervisor, id BroadcastID, p Payload, awaitRelease bool) {
	sup.Go0("broadcast."+string(id), func(ctx context.Context) {
		for {
			err := s.coord.Run(ctx, id, p)
			if errors.Is(err, errBroadcastInFlight) && awaitRelease {
				select {
				case <-ctx.Done():
					return
				case <-time.After(releasePoll):
				}
				continue
			}
			switch {
			case err == nil, errors.Is(err, errBroadcastInFlight):
			case errors.Is(err, ErrUnknownBroadcast) && p == nil:
				// Finished by the run we waited for.
			default:
				s.log.Error("broadcast failed", logx.String("broadcast", string(id)), logx.Err(err))
			}
			return
		}
	})
}

// RelocateSubscriberID applies a chat id change to every active broadcast.
func (s *Service) RelocateSubscriberID(ctx context.Context, oldID, newID int64) error {
	return s.migration.Relocate(ctx, oldID, newID)
}

// RequeueFailed gives the failed and unreached chats of id one more cycle,
// regardless of the attempts left.
func (s *Service) RequeueFailed(ctx context.Context, id BroadcastID) (RequeueResult, error) {
	sup, err := s.supervisor()
	if err != nil {
		return RequeueNothing, err
	}
	res, err := s.deps.Store.Requeue(ctx, id, s.coord.Settings().retries())
	if err != nil {
		return RequeueNothing, err
	}
	switch res {
	case RequeueNothing:
		return res, ErrNothingToRequeue
	case RequeueMerged, RequeueReinitialized:
		s.spawn(sup, id, nil, true)
	}
	s.log.Info("broadcast requeued", logx.String("broadcast", string(id)), logx.Int("result", int(res)))
	return res, nil
}

// Status returns the stored state of id.
func (s *Service) Status(ctx context.Context, id BroadcastID) (Snapshot, error) {
	return s.deps.Store.Snapshot(ctx, id)
}

// Active lists broadcasts with stored state and whether each runs here.
func (s *Service) Active(ctx context.Context) (map[BroadcastID]bool, error) {
	ids, err := s.deps.Store.ActiveIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[BroadcastID]bool, len(ids))
	for _, id := range ids {
		out[id] = s.coord.Running(id)
	}
	return out, nil
}

// cronLogger routes cron's own messages into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	fields := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}
