package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/playrank/playrank/internal/activities"
	"github.com/playrank/playrank/internal/api"
	"github.com/playrank/playrank/internal/changelog"
	"github.com/playrank/playrank/internal/config"
	"github.com/playrank/playrank/internal/delta"
	"github.com/playrank/playrank/internal/elo"
	"github.com/playrank/playrank/internal/maintenance"
	"github.com/playrank/playrank/internal/security"
	"github.com/playrank/playrank/internal/skills"
	"github.com/playrank/playrank/internal/store"
)

var (
	version   = "0.1.0"
	buildTime = "dev"
)

// App holds all the runtime components.
type App struct {
	Config      *config.Config
	Logger      *slog.Logger
	Store       *store.Store
	APIServer   *api.Server
	Maintenance *maintenance.Runner
}

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("playrank", flag.ExitOnError)
	configPath := fs.String("config", "playrank.json", "Path to config file")
	showVersion := fs.Bool("version", false, "Show version")
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing arguments: %v\n", err)
		return 1
	}

	if *showVersion {
		fmt.Printf("playrank v%s (built %s)\n", version, buildTime)
		fmt.Println("Competitive amateur-sports platform backend")
		return 0
	}

	app, err := setup(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
		return 1
	}
	defer app.Store.Close()

	printBanner(app)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.APIServer.Start(gctx) })
	g.Go(func() error { return app.Maintenance.Start(gctx) })

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		app.Logger.Error("server error", "error", err)
		return 1
	}
	app.Logger.Info("shutdown complete")
	return 0
}

// setup initializes all application components.
func setup(configPath string) (*App, error) {
	app := &App{}

	app.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	app.Logger.Info("starting playrank",
		"version", version,
		"config", configPath,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app.Config = cfg

	// Recreate logger with config's log level.
	app.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))

	st, err := store.Open(cfg.Database.URL, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	app.Store = st

	settings, err := elo.LoadSettingsFile(cfg.ELO.SettingsFile)
	if err != nil {
		return nil, fmt.Errorf("load elo settings: %w", err)
	}

	if cfg.Skills.CatalogFile != "" {
		catalog, err := skills.LoadCatalog(cfg.Skills.CatalogFile)
		if err != nil {
			return nil, fmt.Errorf("load skill catalog: %w", err)
		}
		if err := catalog.Seed(context.Background(), st, app.Logger); err != nil {
			return nil, fmt.Errorf("seed skill catalog: %w", err)
		}
	}

	log := changelog.NewWriter(st, app.Logger)
	cursors := delta.NewCursorStore(st, app.Logger)
	reader := delta.NewReader(cursors, log, app.Logger)
	aggregator := skills.NewAggregator(st, app.Logger)
	ratings := skills.NewService(st, log, aggregator, app.Logger)
	locks := elo.NewLockManager(st, cfg.Server.ServerID, app.Logger)
	persister := elo.NewPersister(st, log, locks, app.Logger)
	orch := elo.NewOrchestrator(st, locks, persister, log, aggregator, app.Logger)
	acts := activities.NewService(st, log, app.Logger)
	worker := elo.NewWorker(orch, locks, app.Logger)

	app.APIServer = api.NewServer(cfg.Server.Port, api.Deps{
		Store:      st,
		Activities: acts,
		Orch:       orch,
		Locks:      locks,
		Reader:     reader,
		Cursors:    cursors,
		Ratings:    ratings,
		Aggregator: aggregator,
		Settings:   settings,
		JWTSecret:  security.GetJWTSecret(),
	}, app.Logger)

	app.Maintenance = maintenance.NewRunner(maintenance.Config{
		DrainSchedule:    cfg.Maintenance.DrainSchedule,
		SweepSchedule:    cfg.Maintenance.SweepSchedule,
		LogRetentionDays: cfg.Maintenance.LogRetentionDays,
	}, worker, log, app.Logger)

	return app, nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// printBanner displays the startup banner.
func printBanner(app *App) {
	fmt.Println()
	fmt.Printf("  playrank v%s\n", version)
	fmt.Printf("  API: http://localhost:%d\n", app.Config.Server.Port)
	fmt.Printf("  Database: %s\n", app.Config.Database.URL)
	fmt.Printf("  Server ID: %s\n", app.Config.Server.ServerID)
	fmt.Println()
}
