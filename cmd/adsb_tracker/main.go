// Command-line entry point for the ADSB sighting tracker.
//
// Commands
// --------
//   collect  - run collection cycles against the configured feed
//   serve    - run the management API
//   init-db  - create the database schema and exit
//
// All configuration is environment-driven (see internal/config); a .env
// file in the working directory is loaded first.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"adsb_tracker/internal/alert"
	"adsb_tracker/internal/api"
	"adsb_tracker/internal/config"
	"adsb_tracker/internal/feed"
	"adsb_tracker/internal/notify"
	"adsb_tracker/internal/pipeline"
	"adsb_tracker/internal/routecache"
	"adsb_tracker/internal/sighting"
	"adsb_tracker/internal/storage"
)

func usage(w io.Writer) {
	fmt.Fprintln(w, "adsb_tracker - commands:")
	fmt.Fprintln(w, "  collect  - run collection cycles against the configured feed")
	fmt.Fprintln(w, "  serve    - run the management API")
	fmt.Fprintln(w, "  init-db  - create the database schema and exit")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  adsb_tracker collect [-interval 30s] [-once]")
	fmt.Fprintln(w, "  adsb_tracker serve")
	fmt.Fprintln(w, "  adsb_tracker init-db")
	fmt.Fprintln(w, "")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	// Optional; a missing .env just means everything comes from the
	// environment.
	_ = godotenv.Load()

	cmd := strings.ToLower(os.Args[1])
	switch cmd {
	case "collect":
		runCollect(os.Args[2:])
	case "serve":
		runServe(os.Args[2:])
	case "init-db":
		runInitDB(os.Args[2:])
	case "-h", "--help", "help":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage(os.Stderr)
		os.Exit(2)
	}
}

func loadConfig() (*config.Config, *slog.Logger) {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return cfg, log
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) storage.Store {
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		log.Error("open store", "error", err)
		os.Exit(1)
	}
	return store
}

func buildSource(cfg *config.Config, log *slog.Logger) feed.Source {
	switch cfg.FeedMode {
	case config.FeedFile:
		return feed.NewFileSource(cfg.FeedPath)
	case config.FeedHTTP:
		return feed.NewHTTPSource(cfg.FeedURL)
	case config.FeedNATS:
		src, err := feed.NewNATSSource(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			log.Error("connect feed", "error", err)
			os.Exit(1)
		}
		return src
	}
	// Unreachable: config validation rejects unknown modes.
	log.Error("unknown feed mode", "mode", cfg.FeedMode)
	os.Exit(1)
	return nil
}

func runCollect(args []string) {
	fs := flag.NewFlagSet("collect", flag.ExitOnError)
	interval := fs.Duration("interval", 30*time.Second, "Delay between collection cycles")
	once := fs.Bool("once", false, "Run a single cycle and exit")
	_ = fs.Parse(args)

	cfg, log := loadConfig()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := openStore(ctx, cfg, log)
	defer store.Close()

	source := buildSource(cfg, log)
	if closer, ok := source.(interface{ Close() }); ok {
		defer closer.Close()
	}

	var archive *storage.PositionArchive
	if cfg.ClickHouseEnabled {
		var err error
		archive, err = storage.OpenPositionArchive(ctx, cfg.ClickHouse)
		if err != nil {
			log.Error("open position archive", "error", err)
			os.Exit(1)
		}
		defer archive.Close()
		if err := archive.CreateSchema(ctx); err != nil {
			log.Error("create archive schema", "error", err)
			os.Exit(1)
		}
	}

	p := pipeline.New(
		source,
		store,
		sighting.NewAggregator(store, cfg.ReceiverLat, cfg.ReceiverLon, cfg.Location),
		alert.NewEngine(store),
		notify.NewDispatcher(store, notify.NewPushoverClient(), log, cfg.Location),
		routecache.NewResolver(store, routecache.NewClient(), log),
		archive,
		log,
	)

	log.Info("collector starting",
		"feed", cfg.FeedMode,
		"backend", cfg.Storage.Backend,
		"interval", *interval,
		"once", *once,
	)

	for {
		if _, err := p.Run(ctx); err != nil {
			log.Warn("collection cycle failed", "error", err)
		}
		if *once {
			return
		}

		select {
		case <-ctx.Done():
			log.Info("collector stopping")
			return
		case <-time.After(*interval):
		}
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	_ = fs.Parse(args)

	cfg, log := loadConfig()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := openStore(ctx, cfg, log)
	defer store.Close()

	var keys []string
	if cfg.APIKey != "" {
		keys = []string{cfg.APIKey}
	}
	srv := api.NewServer(store, notify.NewPushoverClient(), log, cfg.Location, api.Config{
		Addr:    cfg.APIAddr,
		APIKeys: keys,
	})

	if err := srv.Run(); err != nil {
		log.Error("api server", "error", err)
		os.Exit(1)
	}
}

func runInitDB(args []string) {
	fs := flag.NewFlagSet("init-db", flag.ExitOnError)
	_ = fs.Parse(args)

	cfg, log := loadConfig()
	ctx := context.Background()

	// Open creates the schema.
	store := openStore(ctx, cfg, log)
	defer store.Close()

	if cfg.ClickHouseEnabled {
		archive, err := storage.OpenPositionArchive(ctx, cfg.ClickHouse)
		if err != nil {
			log.Error("open position archive", "error", err)
			os.Exit(1)
		}
		defer archive.Close()
		if err := archive.CreateSchema(ctx); err != nil {
			log.Error("create archive schema", "error", err)
			os.Exit(1)
		}
	}

	log.Info("database initialized", "backend", cfg.Storage.Backend)
}
