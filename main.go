package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"homeus/api"
	"homeus/config"
	"homeus/extract"
	"homeus/logging"
	"homeus/mirror"
	"homeus/scheduler"
	"homeus/scraper"
	"homeus/storage"
	"homeus/workers"
)

var (
	configPath = flag.String("config", config.DefaultPath(), "Path to the YAML config file")
	runOnce    = flag.Bool("once", false, "Run one scraping cycle and exit")
	showStats  = flag.Bool("stats", false, "Print database stats and recent listings, then exit")
	exportN    = flag.Int("export", 0, "Re-export the N most recent listings to the mirror and exit")
	resetSheet = flag.Bool("reset", false, "With -export, clear the mirror before exporting")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		return 1
	}
	defer logger.Close()
	slog.SetDefault(logger.Logger)

	logger.Info("starting homeus", "config", *configPath, "sites", len(cfg.Sites))
	for _, id := range cfg.SiteIDs() {
		site := cfg.Sites[id]
		logger.Info("site configured", "id", id, "name", site.Name, "search_urls", len(site.SearchURLs))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to open store", "driver", cfg.Database.Driver, "error", err)
		return 1
	}
	defer store.Close()
	if cfg.Database.Driver == "postgres" {
		logger.Info("connected to postgres", "url", maskConnectionString(cfg.Database.URL))
	} else {
		logger.Info("sqlite database", "path", cfg.Database.Path)
	}

	if *showStats {
		if err := printStats(ctx, store); err != nil {
			logger.Error("stats failed", "error", err)
			return 1
		}
		return 0
	}

	if n, err := store.AbandonRunningSessions(ctx); err != nil {
		logger.Warn("could not close stale sessions", "error", err)
	} else if n > 0 {
		logger.Info("marked interrupted sessions abandoned", "count", n)
	}

	sink, err := mirror.FromConfig(ctx, cfg.Mirror, logger.Logger)
	if err != nil {
		logger.Error("failed to set up mirror", "error", err)
		return 1
	}
	defer sink.Close()

	scrapers, err := scraper.BuildScrapers(cfg, logger.Logger)
	if err != nil {
		logger.Error("failed to build scrapers", "error", err)
		return 1
	}
	orchestrator := scraper.NewOrchestrator(cfg, store, scrapers, sink, logger.Logger)

	if *exportN > 0 {
		if sink.Len() == 0 {
			logger.Error("export needs at least one enabled mirror")
			return 1
		}
		n, err := orchestrator.ExportRecent(ctx, *exportN, *resetSheet)
		if err != nil {
			logger.Error("export failed", "error", err)
			return 1
		}
		logger.Info("export complete", "count", n)
		return 0
	}

	if *runOnce {
		result, err := orchestrator.RunCycle(ctx)
		if err != nil {
			logger.Error("cycle failed", "error", err)
			return 0
		}
		logger.Info("cycle complete", "found", result.Found, "new", result.New)
		return 0
	}

	// Daemon mode
	sched := scheduler.New(cfg.Scraping, orchestrator, logger.Logger)
	if err := sched.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		return 1
	}

	staleness := workers.NewStalenessWorker(store, cfg.Scraping.StaleAfter, logger.Logger)
	go staleness.Run(ctx, time.Hour)
	logger.Info("staleness worker started", "stale_after", cfg.Scraping.StaleAfter)

	var server *api.Server
	if cfg.HTTP.Addr != "" {
		handlers := api.NewHandlers(ctx, store, orchestrator, staleness, logger.Logger)
		server = api.NewServer(cfg.HTTP.Addr, handlers, logger.Logger)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error("http server stopped", "error", err)
			}
		}()
	}

	logger.Info("daemon running, press Ctrl+C to stop")
	<-ctx.Done()

	logger.Info("shutting down")
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := server.Stop(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("http server shutdown", "error", err)
		}
		cancel()
	}
	sched.Stop()
	logger.Info("goodbye")
	return 0
}

func printStats(ctx context.Context, store storage.Store) error {
	stats, err := store.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Println("Database statistics")
	fmt.Printf("  Total properties:   %d\n", stats.TotalProperties)
	fmt.Printf("  Scraped today:      %d\n", stats.TodayProperties)
	fmt.Printf("  Sessions today:     %d\n", stats.TodaySessions)

	recent, err := store.RecentListings(ctx, 5)
	if err != nil {
		return err
	}
	if len(recent) == 0 {
		return nil
	}
	fmt.Println()
	fmt.Println("Recent listings")
	for _, l := range recent {
		fmt.Printf("  %s  %s  %s  %s\n", l.ExternalID, l.Title, extract.FormatPrice(l.Price, l.Currency), l.Location)
	}
	return nil
}

// maskConnectionString masks password in connection string for logging
func maskConnectionString(connStr string) string {
	// Simple mask - find :// and mask until @
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	// Find : after user
	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
