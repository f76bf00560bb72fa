package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"freestuffbot/internal/announce"
	"freestuffbot/internal/config"
	"freestuffbot/internal/eventbus"
	"freestuffbot/internal/storage"
	kit "freestuffbot/internal/transport"
	telegram "freestuffbot/internal/transport/telegram/adapter"
	"freestuffbot/internal/transport/telegram/router"
	logx "freestuffbot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store *storage.SQLiteStore
	redis *redis.Client

	adapter *telegram.Adapter
	ann     *announce.Service
	cmdm    *router.CommandManager

	updates chan kit.Update
}

func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	pollTimeout, err := parseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	sendTimeout, err := parseDurationField("telegram.send_timeout", cfg.Telegram.SendTimeout)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		SendTimeout: sendTimeout,
	}, logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	// Bootstrap with Telegram logging off so Apply does not warn about a
	// missing target, then set the target and apply the final config.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	logSvc.SetTelegramTarget(logChatID(cfg), cfg.Logging.Telegram.ThreadID)
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		adapter: ad,
		updates: make(chan kit.Update, 256),
	}

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		a.store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	annCfg, queue, err := mapAnnounceConfig(cfg)
	if err != nil {
		a.closeBackends()
		return nil, err
	}
	qs, err := a.openQueue(ctx, cfg, annCfg.Enabled, queue)
	if err != nil {
		a.closeBackends()
		return nil, err
	}

	deps := announce.Deps{Store: qs, Deliverer: ad, Bus: a.bus}
	if a.store != nil {
		deps.Configs = a.store
		deps.Sink = a.store
		deps.Source = a.store
		deps.Migrator = a.store
	}
	a.ann = announce.New(annCfg, deps, log.With(logx.String("comp", "announce")))

	a.cmdm = router.NewCommandManager(log.With(logx.String("comp", "commands")), ad, cfg.Telegram.OwnerUserIDs)
	a.cmdm.SetRegistry(adminCommands(a.ann, a.store))
	a.cmdm.Use(auditMiddleware(a.store, log))
	a.cmdm.OnMigration(a.ann.RelocateSubscriberID)
	a.cmdm.OnInlineQuery(inlineSearch(a.store, a.store, ad, time.Now))

	return a, nil
}

// openQueue picks the broadcast queue backend. A disabled engine gets a
// memory store so status and migration calls stay harmless.
func (a *App) openQueue(ctx context.Context, cfg *Config, enabled bool, queue string) (announce.QueueStore, error) {
	if !enabled || queue == queueMemory {
		if enabled {
			a.log.Warn("announcement queue kept in memory; broadcasts do not survive restarts")
		}
		return announce.NewMemoryQueueStore(), nil
	}
	opts, ns, err := mapRedisOptions(cfg)
	if err != nil {
		return nil, err
	}
	client, err := announce.DialRedis(ctx, opts)
	if err != nil {
		return nil, err
	}
	a.redis = client
	a.log.Info("redis connected", logx.String("addr", opts.Addr), logx.String("namespace", ns))
	return announce.NewRedisQueueStore(client, ns), nil
}

func (a *App) closeBackends() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapRedisOptions(cfg); err != nil {
			return err
		}
		if _, _, err := mapAnnounceConfig(cfg); err != nil {
			return err
		}
		_, err := parseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
		return err
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sup.Go("telegram.menu.update", func(c context.Context) error {
		mctx, cancel := context.WithTimeout(c, 5*time.Second)
		defer cancel()
		if err := a.adapter.UpdateMenuCommands(mctx, a.cmdm.MenuCommands()); err != nil {
			a.log.Warn("menu update failed", logx.Err(err))
		}
		return nil
	})

	if err := a.ann.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.report", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				if e.Type == announce.EventFinished {
					if ev, ok := e.Data.(announce.FinishedEvent); ok {
						a.reportFinished(c, ev)
					}
				}
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) reportFinished(ctx context.Context, ev announce.FinishedEvent) {
	a.log.Info("broadcast finished",
		logx.String("broadcast", string(ev.Snapshot.ID)),
		logx.String("kind", ev.Kind.String()),
		logx.Int64("reached", ev.Snapshot.Reach.Deliveries()),
		logx.Int64("unreached", ev.Snapshot.Unreached),
		logx.Duration("took", ev.Took),
	)
	cfg := a.cfgm.Get()
	chatID := logChatID(cfg)
	if chatID == 0 {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	to := kit.ChatTarget{ChatID: chatID, ThreadID: cfg.Logging.Telegram.ThreadID}
	if _, err := a.adapter.SendText(sctx, to, finishedSummary(ev), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}); err != nil {
		a.log.Warn("broadcast report not delivered", logx.Err(err))
	}
}

// applyConfig fans a committed config out to the live components.
func (a *App) applyConfig(oldCfg, newCfg *Config) {
	sections, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if config.RestartRequired(sections) {
		a.log.Warn("storage or redis config changed; restart required for changes to take effect")
	}

	// update log target first so Apply() doesn't warn when Telegram logging is enabled
	a.logs.SetTelegramTarget(logChatID(newCfg), newCfg.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(newCfg))

	a.cmdm.SetOwners(newCfg.Telegram.OwnerUserIDs)

	if annCfg, _, err := mapAnnounceConfig(newCfg); err != nil {
		a.log.Warn("invalid announcements config; keeping previous", logx.Err(err))
	} else {
		a.ann.Apply(annCfg)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// step runs one shutdown stage with an upper bound so one component can't stall the whole stop.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Broadcasts first: workers hand their in-flight chats back to the queue.
	step("announce", 5*time.Second, a.ann.Stop)
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("backends", time.Second, func(context.Context) error {
		a.closeBackends()
		return nil
	})

	a.log.Info("stopped")
	return a.logs.Close()
}
