package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/npratt/tether/internal/api"
	"github.com/npratt/tether/internal/backoff"
	"github.com/npratt/tether/internal/cache"
	"github.com/npratt/tether/internal/clock"
	"github.com/npratt/tether/internal/config"
	"github.com/npratt/tether/internal/events"
	"github.com/npratt/tether/internal/netstatus"
	"github.com/npratt/tether/internal/session"
	"github.com/npratt/tether/internal/stream"
	"github.com/npratt/tether/internal/swarm"
)

// runtime wires one follow command: the API client, event router and sinks,
// connectivity monitor and stream managers.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger
	clock  clock.Clock

	client    *api.HTTPClient
	router    *events.Router
	snapshots *cache.Snapshots
	monitor   *netstatus.Monitor

	logSink    *events.LogSink
	stateSink  *events.StateSink
	sinkCancel context.CancelFunc

	managers []*stream.Manager
	unsubs   []func()
}

func newRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{
		cfg:    cfg,
		logger: logger,
		clock:  clock.Real(),
		client: api.NewHTTPClient(cfg.Server.BaseURL, cfg.Server.RequestTimeout, logger),
		router: events.NewRouter(events.DefaultBufferSize),
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Paths.State), 0755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	sinkCtx, sinkCancel := context.WithCancel(ctx)
	rt.sinkCancel = sinkCancel

	rt.logSink = events.NewLogSink(cfg.Paths.Log, cfg.LogRotation)
	if err := rt.logSink.Start(sinkCtx, rt.router.Subscribe()); err != nil {
		sinkCancel()
		return nil, fmt.Errorf("start log sink: %w", err)
	}

	rt.stateSink = events.NewStateSink(cfg.Paths.State)
	if err := rt.stateSink.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("load state file", "path", cfg.Paths.State, "error", err)
	}
	if err := rt.stateSink.Start(sinkCtx, rt.router.Subscribe()); err != nil {
		sinkCancel()
		_ = rt.logSink.Stop()
		return nil, fmt.Errorf("start state sink: %w", err)
	}

	rt.snapshots = cache.NewSnapshots(rt.client, cfg.Cache.TTL, rt.clock, logger)
	rt.snapshots.StartCleanup()

	if cfg.Network.Enabled {
		rt.monitor = rt.newMonitor()
		if err := rt.monitor.Start(ctx); err != nil {
			logger.Warn("network monitor unavailable", "error", err)
			rt.monitor = nil
		}
	}

	return rt, nil
}

func (rt *runtime) newMonitor() *netstatus.Monitor {
	var prober netstatus.Prober
	if rt.cfg.Network.HealthPath != "" {
		p, err := netstatus.NewHTTPProber(&http.Client{}, rt.cfg.Server.BaseURL, rt.cfg.Network.HealthPath)
		if err != nil {
			rt.logger.Warn("health probe disabled", "error", err)
		} else {
			prober = p
		}
	}
	return netstatus.New(netstatus.Options{
		Platform:     netstatus.NewInterfacePlatform(rt.cfg.Network.ResolvConf, rt.logger),
		Prober:       prober,
		Clock:        rt.clock,
		PollInterval: rt.cfg.Network.PollInterval,
		ProbeTimeout: rt.cfg.Network.ProbeTimeout,
		Logger:       rt.logger,
	})
}

// newStream creates a stream manager for path and subscribes it to
// connectivity changes.
func (rt *runtime) newStream(path string) *stream.Manager {
	policy := backoff.Policy{
		Initial:      rt.cfg.Backoff.Initial,
		Max:          rt.cfg.Backoff.Max,
		JitterFactor: rt.cfg.Backoff.JitterFactor,
	}
	mgr := stream.New(stream.Options{
		Transport:   stream.NewHTTPTransport(&http.Client{}, rt.cfg.Server.BaseURL, path),
		Backoff:     backoff.New(policy),
		MaxAttempts: rt.cfg.Stream.MaxAttempts,
		Clock:       rt.clock,
		Router:      rt.router,
		Logger:      rt.logger,
	})
	if rt.monitor != nil {
		rt.unsubs = append(rt.unsubs, rt.monitor.Subscribe(mgr.OnOnline, mgr.OnOffline))
	}
	rt.managers = append(rt.managers, mgr)
	return mgr
}

func (rt *runtime) newSessionController() *session.Controller {
	return session.New(session.Options{
		API:       rt.client,
		Stream:    rt.newStream(rt.cfg.Stream.Path),
		Snapshots: rt.snapshots,
		Router:    rt.router,
		Clock:     rt.clock,
		Logger:    rt.logger,
	})
}

func (rt *runtime) newSwarmController() *swarm.Controller {
	return swarm.New(swarm.Options{
		API:         rt.client,
		Stream:      rt.newStream(rt.cfg.Stream.SwarmPath),
		Invalidator: rt.snapshots,
		Router:      rt.router,
		Logger:      rt.logger,
	})
}

// Close tears everything down in reverse order of construction.
func (rt *runtime) Close() {
	for _, unsub := range rt.unsubs {
		unsub()
	}
	for _, mgr := range rt.managers {
		_ = mgr.Close()
	}
	if rt.monitor != nil {
		rt.monitor.Stop()
	}
	rt.snapshots.Close()

	if n := rt.router.Dropped(); n > 0 {
		rt.logger.Debug("router deliveries dropped", "count", n)
	}
	rt.router.Close()
	rt.sinkCancel()
	if err := rt.logSink.Stop(); err != nil {
		rt.logger.Warn("stop log sink", "error", err)
	}
	if err := rt.stateSink.Stop(); err != nil {
		rt.logger.Warn("stop state sink", "error", err)
	}
}
