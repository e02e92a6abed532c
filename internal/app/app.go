// Package app wires the notification pipeline: config, logging, the Emby
// library adapter, intake, the pending poller, the HTTP API and storage.
package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"embycord/internal/config"
	"embycord/internal/destination"
	"embycord/internal/eventbus"
	"embycord/internal/httpapi"
	"embycord/internal/intake"
	"embycord/internal/library"
	"embycord/internal/pending"
	"embycord/internal/poller"
	"embycord/internal/runtime/supervisor"
	"embycord/internal/storage"
	"embycord/internal/webhook"
	logx "embycord/pkg/logx"
)

// Name identifies this notification service to the host.
const Name = intake.Name

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store     storage.Store
	retention *storage.Retention

	dests   *destinationSet
	queue   *pending.Queue
	names   *library.NameResolver
	disp    *webhook.Dispatcher
	poller  *poller.Poller
	intake  *intake.Intake
	watcher *library.Watcher
	api     *httpapi.Service

	// applied is only touched by the reload goroutine after Start.
	applied *config.Config
}

// destinationSet is the hot-swappable destination.Source.
type destinationSet struct {
	v atomic.Pointer[[]destination.Destination]
}

func (s *destinationSet) Destinations() []destination.Destination {
	p := s.v.Load()
	if p == nil {
		return nil
	}
	return append([]destination.Destination(nil), (*p)...)
}

func (s *destinationSet) Set(d []destination.Destination) { s.v.Store(&d) }

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(config.Validator)
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	dopts, err := mapDispatchOptions(cfg)
	if err != nil {
		return nil, err
	}
	disp := webhook.New(dopts)

	// the dispatcher doubles as the Discord log sink
	logSvc, root := logx.New(mapLogConfig(cfg), disp)
	log := root.With(logx.String("comp", "app"))
	log.Debug("webhook dispatcher ready", logx.Duration("timeout", disp.Timeout()))

	bus := eventbus.New()

	var (
		store     storage.Store
		retention *storage.Retention
	)
	if sc, rs, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		stLog := root.With(logx.String("comp", "storage"))
		store, err = storage.Open(sc, stLog)
		if err != nil {
			return nil, err
		}
		retention = storage.NewRetention(store, rs.keep, rs.schedule, stLog)
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	es, err := mapEmbySettings(cfg)
	if err != nil {
		return nil, err
	}
	var (
		lib  library.Library = library.Unconfigured{}
		emby *library.EmbyClient
	)
	if es.enabled {
		emby = library.NewEmbyClient(es.url, es.apiKey, es.userID, es.timeout)
		lib = library.NewBreakerClient(emby, es.breaker, root.With(logx.String("comp", "library")))
	} else {
		log.Warn("emby.url not set; running in API-only mode (library lookups will fail)")
	}
	names := library.NewNameResolver(lib, cfg.Server.Name, es.nameTTL)

	dests := &destinationSet{}
	dests.Set(mapDestinations(cfg))
	queue := pending.NewQueue()

	ps, err := mapPollerSettings(cfg)
	if err != nil {
		return nil, err
	}
	pl := poller.New(poller.Options{
		Queue:        queue,
		Library:      lib,
		Destinations: dests,
		Dispatcher:   disp,
		ServerName:   names,
		Bus:          bus,
		Log:          root.With(logx.String("comp", "poller")),
		Interval:     ps.interval,
		Policy:       ps.policy,
	})

	in := intake.New(intake.Options{
		Queue:        queue,
		Destinations: dests,
		Dispatcher:   disp,
		ServerName:   names,
		Bus:          bus,
		Log:          root.With(logx.String("comp", "intake")),
	})

	var watcher *library.Watcher
	if emby != nil && es.websocket {
		watcher = library.NewWatcher(emby.WebSocketURL, lib, func(it library.Item) {
			in.OnItemAddedFrom(intake.SourceWebSocket, it)
		}, root.With(logx.String("comp", "emby.ws")))
	}

	hc, err := mapHTTPConfig(cfg)
	if err != nil {
		return nil, err
	}
	a := &App{
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		retention: retention,
		dests:     dests,
		queue:     queue,
		names:     names,
		disp:      disp,
		poller:    pl,
		intake:    in,
		watcher:   watcher,
		applied:   cfg,
	}
	a.api = httpapi.New(hc, httpapi.Deps{
		Intake:  in,
		Pending: queue,
		Deliveries: func() httpapi.DeliveryLister {
			if store == nil {
				return nil
			}
			return store
		},
		Status: a.status,
	}, root.With(logx.String("comp", "httpapi")))
	return a, nil
}

// status backs GET /api/v1/status.
func (a *App) status() httpapi.Status {
	st := httpapi.Status{
		Pending:    a.queue.Len(),
		Supervisor: a.sup.Snapshot(),
		HTTP:       a.api.Supervisor().Snapshot(),
	}
	if a.retention != nil {
		if at, n := a.retention.LastRun(); !at.IsZero() {
			st.LastPrune = &httpapi.PruneStatus{At: at, Removed: n}
		}
	}
	return st
}

// Intake is the entry point for item-added events and direct notifications.
func (a *App) Intake() *intake.Intake { return a.intake }

// Done is closed when the app context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	a.sup.GoRestart("poller", a.poller.Run)

	if a.watcher != nil {
		a.sup.GoRestart("emby.watch", a.watcher.Run,
			supervisor.WithRestartBackoff(time.Second, time.Minute),
			supervisor.WithStopOnCleanExit(false),
		)
	}

	if a.store != nil {
		events, unsub := a.bus.Subscribe(256)
		a.sup.Go0("storage.recorder", func(c context.Context) {
			defer unsub()
			storage.RunRecorder(c, a.store, events, a.log.With(logx.String("comp", "storage")))
		})
		if err := a.retention.Start(); err != nil {
			return err
		}
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
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
			}
		}
	})

	a.api.Start(a.sup.Context())

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.String("service", Name),
		logx.Int("destinations", len(a.dests.Destinations())),
		logx.Bool("emby_ws", a.watcher != nil),
		logx.Duration("poll_interval", a.poller.Interval()),
	)
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)), logx.Int("pending", a.queue.Len()))
	a.sup.Cancel()

	a.step(ctx, "httpapi", 2*time.Second, func(c context.Context) error { a.api.Stop(c); return nil })
	a.step(ctx, "retention", time.Second, func(c context.Context) error {
		if a.retention != nil {
			a.retention.Stop(c)
		}
		return nil
	})
	a.step(ctx, "supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown stage bounded by max and the caller's deadline.
// A stage that overruns is logged and left behind.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, max)
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
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
	}
}
