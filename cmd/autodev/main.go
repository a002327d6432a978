package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hanibalsk/autodev/internal/api"
	"github.com/hanibalsk/autodev/internal/config"
	"github.com/hanibalsk/autodev/internal/discovery"
	"github.com/hanibalsk/autodev/internal/domain"
	"github.com/hanibalsk/autodev/internal/engine"
	"github.com/hanibalsk/autodev/internal/events"
	"github.com/hanibalsk/autodev/internal/logger"
	"github.com/hanibalsk/autodev/internal/preflight"
	"github.com/hanibalsk/autodev/internal/storage"
	"github.com/hanibalsk/autodev/internal/util"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "autodev: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to config file (yaml)")
		epicsPath  = flag.String("epics", "", "path to epics file (overrides config)")
		dbPath     = flag.String("db", "", "path to sqlite database (overrides config)")
		apiEnabled = flag.Bool("api", false, "serve the HTTP API")
		apiPort    = flag.Int("port", 0, "HTTP API port (overrides config)")
		logLevel   = flag.String("log-level", "", "log level: debug, info, warn, error")
		logFormat  = flag.String("log-format", "", "log format: text or json")
		dryRun     = flag.Bool("dry-run", false, "run with simulated agent and forge")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *epicsPath != "" {
		cfg.EpicsPath = *epicsPath
	}
	if *dbPath != "" {
		cfg.DatabasePath = *dbPath
	}
	if *apiEnabled {
		cfg.APIEnabled = true
	}
	if *apiPort != 0 {
		cfg.APIPort = *apiPort
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(logger.Config{Level: *logLevel, Format: *logFormat})
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	checks := preflight.RunAll(cfg)
	for _, check := range checks.FailedChecks() {
		log.Warn("pre-flight check failed", "check", check.Name, "error", check.Error)
	}
	if !checks.AllPass {
		return fmt.Errorf("pre-flight checks failed (%d/%d passed)", checks.PassedCount(), len(checks.Checks))
	}

	store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stories, err := syncStories(ctx, cfg.EpicsPath, store, log)
	if err != nil {
		return err
	}
	if len(stories) == 0 {
		return fmt.Errorf("no stories found in %s", cfg.EpicsPath)
	}

	bus := events.NewBus()
	runner, forge := buildCollaborators(*dryRun, log)

	eng := engine.New(cfg, log, store, bus, runner, forge)

	if cfg.APIEnabled {
		server := api.NewServer(cfg, log, store, eng, bus)
		go func() {
			if err := server.Start(cfg.APIPort); err != nil {
				log.Error("api server stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Stop(shutdownCtx); err != nil {
				log.Warn("api server shutdown", "error", err)
			}
		}()
	}

	if cfg.WatchEnabled {
		watcher := discovery.NewWatcher(cfg.EpicsPath, cfg.WatchDebounce(), func() {
			if _, err := syncStories(context.Background(), cfg.EpicsPath, store, log); err != nil {
				log.Warn("epics reload failed", "error", err)
			}
		}, log)
		if err := watcher.Start(); err != nil {
			log.Warn("epics watcher not started", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	log.Info("starting run",
		"stories", len(stories),
		"workers", cfg.MaxWorkers,
		"epics", cfg.EpicsPath,
	)

	started := time.Now()
	if err := eng.Run(ctx, stories); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("run interrupted")
			return nil
		}
		return err
	}

	progress := eng.Progress()
	log.Info("run finished",
		"completed", progress.Completed,
		"failed", progress.Failed,
		"total", progress.Total,
		"duration", util.FormatDuration(time.Since(started)),
	)
	if progress.Failed > 0 {
		return fmt.Errorf("%d of %d stories failed", progress.Failed, progress.Total)
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.New(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, nil
}

// syncStories parses the epics file and persists the result, keeping the
// stored status of stories the orchestrator already finished.
func syncStories(ctx context.Context, path string, store storage.Storage, log logger.Logger) ([]domain.Story, error) {
	parsed, err := discovery.ParseEpicsFile(path)
	if err != nil {
		return nil, fmt.Errorf("parsing epics file: %w", err)
	}

	for i := range parsed {
		existing, err := store.GetStory(ctx, parsed[i].FullID())
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("loading story %s: %w", parsed[i].FullID(), err)
		}
		if existing != nil && existing.Status.IsTerminal() {
			parsed[i].Status = existing.Status
		}
		if err := store.UpsertStory(ctx, parsed[i]); err != nil {
			return nil, fmt.Errorf("saving story %s: %w", parsed[i].FullID(), err)
		}
	}

	log.Debug("stories synced", "count", len(parsed), "path", path)
	return parsed, nil
}

func buildCollaborators(dryRun bool, log logger.Logger) (engine.AgentRunner, engine.Forge) {
	if dryRun {
		return newDryRunAgent(log), newDryRunForge(log)
	}
	// Real agent and forge integrations plug in here. Until one is
	// configured the simulated pair keeps the orchestrator exercisable
	// end to end.
	log.Warn("no agent integration configured, using simulated agent and forge")
	return newDryRunAgent(log), newDryRunForge(log)
}
