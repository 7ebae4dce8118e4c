// Package app wires the services together. Everything is an explicit handle
// constructed once here; nothing hangs off package-level globals.
package app

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"wablast/internal/config"
	"wablast/internal/dispatch"
	"wablast/internal/eventbus"
	"wablast/internal/health"
	"wablast/internal/history"
	"wablast/internal/inbound"
	rtsup "wablast/internal/runtime/supervisor"
	"wablast/internal/server"
	"wablast/internal/transport/wsgate"
	logx "wablast/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	bus        eventbus.Bus
	adapter    *wsgate.Adapter
	hist       *history.Store
	jobs       *dispatch.Service
	health     *health.Service
	classifier *inbound.Classifier
	srv        *server.Server

	sup *rtsup.Supervisor
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}

	logSvc, log := logx.New(cfg.Logging)
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	gwCfg, err := cfg.Gateway.Wsgate()
	if err != nil {
		return nil, err
	}
	adapter, err := wsgate.New(gwCfg, log.With(logx.String("comp", "gateway")))
	if err != nil {
		return nil, err
	}

	histCfg, err := cfg.History.History()
	if err != nil {
		return nil, err
	}
	hist, err := history.Open(histCfg, log.With(logx.String("comp", "history")))
	if err != nil {
		return nil, errors.Wrap(err, "open history")
	}

	bus := eventbus.New()

	var rec dispatch.Recorder
	if hist != nil {
		rec = hist
	}
	jobs := dispatch.New(adapter, bus, rec, log.With(logx.String("comp", "dispatch")))

	a := &App{
		cfgMgr:     mgr,
		logSvc:     logSvc,
		log:        log,
		bus:        bus,
		adapter:    adapter,
		hist:       hist,
		jobs:       jobs,
		health:     health.New(adapter, bus, log.With(logx.String("comp", "health"))),
		classifier: inbound.New(adapter.Updates(), bus, log.With(logx.String("comp", "inbound"))),
		srv:        server.New(server.Config{Listen: cfg.Server.Listen}, adapter, jobs, hist, bus, log.With(logx.String("comp", "server"))),
	}
	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "supervisor"))))

	a.jobs.Start(a.sup.Context())
	a.hist.Start()

	a.sup.Go("config.watch", a.cfgMgr.Watch)
	a.sup.Go0("config.apply", a.applyConfigUpdates)
	a.sup.Go("health.loop", a.health.Run)
	a.sup.Go("inbound.loop", a.classifier.Run)
	a.sup.GoRestart("server", a.srv.Start,
		rtsup.WithRestartBackoff(time.Second, 30*time.Second))
	if a.hist != nil {
		a.sup.Go0("optout.record", a.recordOptOuts)
	}

	// First connect is best-effort; the health loop retries while disconnected.
	if err := a.adapter.Connect(a.sup.Context()); err != nil {
		a.log.Warn("initial connect failed", logx.Err(err))
	}

	a.log.Info("wablast started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")
	a.jobs.Stop(ctx)
	if a.sup != nil {
		wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		_ = a.sup.Stop(wctx)
	}
	_ = a.adapter.Disconnect(ctx)
	if err := a.hist.Close(); err != nil {
		a.log.Warn("history close failed", logx.Err(err))
	}
	_ = a.logSvc.Close()
	return nil
}

// applyConfigUpdates handles hot reloads. Only the logging section is applied
// live; session and server settings need a restart.
func (a *App) applyConfigUpdates(ctx context.Context) {
	sub := a.cfgMgr.Subscribe(4)
	defer a.cfgMgr.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok || cfg == nil {
				return
			}
			a.logSvc.Apply(cfg.Logging)
			a.log.Info("logging config applied")
		}
	}
}

// recordOptOuts persists unsubscribe-detected events into the opt-out
// registry so later campaigns can be screened against it.
func (a *App) recordOptOuts(ctx context.Context) {
	events, unsub := a.bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != eventbus.TypeUnsubscribe {
				continue
			}
			o, ok := ev.Data.(inbound.OptOut)
			if !ok {
				continue
			}
			if err := a.hist.RecordOptOut(ctx, o); err != nil {
				a.log.Warn("opt-out record failed", logx.Err(err))
			}
		}
	}
}
