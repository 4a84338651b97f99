package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/urclgw/internal/api"
	"github.com/mattjoyce/urclgw/internal/config"
	"github.com/mattjoyce/urclgw/internal/content"
	"github.com/mattjoyce/urclgw/internal/dispatch"
	"github.com/mattjoyce/urclgw/internal/engine"
	"github.com/mattjoyce/urclgw/internal/events"
	"github.com/mattjoyce/urclgw/internal/history"
	"github.com/mattjoyce/urclgw/internal/job"
	"github.com/mattjoyce/urclgw/internal/lock"
	"github.com/mattjoyce/urclgw/internal/log"
	"github.com/mattjoyce/urclgw/internal/presence"
	"github.com/mattjoyce/urclgw/internal/protocol"
	"github.com/mattjoyce/urclgw/internal/queue"
	"github.com/mattjoyce/urclgw/internal/storage"
)

// gateway holds the wired components of a running instance.
type gateway struct {
	supervisor *engine.Supervisor
	queue      *queue.Queue
	dispatcher *dispatch.Dispatcher
	hub        *events.Hub
	history    *history.Store
	api        *api.Server
}

// newGateway wires every component from cfg. The caller owns the database.
func newGateway(cfg *config.Config, hist *history.Store) *gateway {
	hub := events.NewHub(256)

	sup := engine.New(cfg.Engine.Path, cfg.Engine.Port,
		engine.WithShutdownGrace(cfg.Engine.ShutdownGrace),
	)
	client := protocol.NewClient(sup, cfg.Engine.Port, cfg.Engine.Flags,
		protocol.WithStartupTimeout(cfg.Engine.StartupTimeout),
	)

	q := queue.New()
	disp := dispatch.New(q, client,
		dispatch.WithPresence(presence.NewBroadcaster(hub)),
		dispatch.WithRecorder(hist),
		dispatch.WithEvents(hub),
	)

	builder := job.NewBuilder(content.NewHTTPFetcher(cfg.Jobs.FetchTimeout, cfg.Jobs.MaxSourceBytes))
	builder.MaxSourceBytes = cfg.Jobs.MaxSourceBytes
	builder.DefaultLanguage = cfg.Jobs.DefaultLanguage
	builder.DefaultOutputType = cfg.Jobs.DefaultOutputType
	builder.DefaultTier = cfg.Jobs.DefaultTier

	g := &gateway{
		supervisor: sup,
		queue:      q,
		dispatcher: disp,
		hub:        hub,
		history:    hist,
	}
	if cfg.API.Enabled {
		g.api = api.New(api.Config{
			Listen:      cfg.API.Listen,
			SyncTimeout: cfg.API.SyncTimeout,
		}, api.Deps{
			Queue:   q,
			Builder: builder,
			History: hist,
			Worker:  disp,
			Engine:  sup,
			Events:  hub,
		}, log.WithComponent("api"))
	}
	return g
}

// run blocks until the dispatcher has drained after a signal on sigCh, or a
// component fails. A second signal abandons whatever is still queued and
// cuts the connection of the job in flight.
func (g *gateway) run(sigCh <-chan os.Signal) error {
	logger := log.WithComponent("main")

	runCtx, abort := context.WithCancel(context.Background())
	defer abort()

	eg, ctx := errgroup.WithContext(runCtx)
	apiCtx, stopAPI := context.WithCancel(ctx)
	defer stopAPI()

	eg.Go(func() error {
		if err := g.dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("dispatcher: %w", err)
		}
		return nil
	})

	if g.api != nil {
		eg.Go(func() error {
			if err := g.api.Start(apiCtx); err != nil {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
	}

	eg.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("shutdown signal received, draining queue", "signal", sig.String(), "queued", g.queue.Depth())
		case <-ctx.Done():
			return nil
		}

		stopAPI()
		g.dispatcher.Shutdown()

		select {
		case <-g.dispatcher.Done():
		case sig := <-sigCh:
			logger.Warn("second signal received, abandoning queued jobs", "signal", sig.String(), "queued", g.queue.Depth())
			abort()
		case <-ctx.Done():
		}
		return nil
	})

	err := eg.Wait()
	g.supervisor.Shutdown()
	return err
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	if *configPath == "" {
		discovered, err := config.Discover()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		*configPath = discovered
		fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", *configPath)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("urclgw starting", "version", version, "config", cfg.SourcePath)

	if cfg.State.Path != ":memory:" {
		lockPath := lock.PathFor(cfg.State.Path)
		pidLock, err := lock.Acquire(lockPath)
		if err != nil {
			logger.Error("failed to acquire PID lock (another instance may be running)", "path", lockPath, "error", err)
			return 1
		}
		defer pidLock.Release()
		logger.Info("acquired PID lock", "path", lockPath)
	}

	db, err := storage.OpenSQLite(context.Background(), cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	g := newGateway(cfg, history.New(db))
	logger.Info("gateway ready",
		"engine", cfg.Engine.Path,
		"port", cfg.Engine.Port,
		"api_enabled", cfg.API.Enabled,
	)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := g.run(sigCh); err != nil {
		logger.Error("gateway stopped with error", "error", err)
		return 1
	}
	logger.Info("urclgw stopped")
	return 0
}
