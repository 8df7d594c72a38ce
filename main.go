package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arturpaehn/carlynx-sub002/api"
	"github.com/arturpaehn/carlynx-sub002/config"
	"github.com/arturpaehn/carlynx-sub002/httpclient"
	"github.com/arturpaehn/carlynx-sub002/models"
	"github.com/arturpaehn/carlynx-sub002/scraper"
	"github.com/arturpaehn/carlynx-sub002/scraper/autodealer"
	"github.com/arturpaehn/carlynx-sub002/scraper/motodealer"
	"github.com/arturpaehn/carlynx-sub002/services"
	"github.com/arturpaehn/carlynx-sub002/storage"
	"github.com/arturpaehn/carlynx-sub002/utils"
)

const usage = `usage: carlynx <command> [flags]

commands:
  scrape      scrape dealer sites and import listings
  serve       run the listings API
  set-active  activate or deactivate a listing by id
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	logger := utils.NewLogger()
	cfg := config.Load()
	logger.SetLevel(utils.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "scrape":
		err = runScrape(ctx, cfg, logger, os.Args[2:])
	case "serve":
		err = runServe(ctx, cfg, logger)
	case "set-active":
		err = runSetActive(ctx, cfg, logger, os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func openStore(cfg *config.Config, logger *utils.Logger) (*storage.SQLStore, error) {
	store, err := storage.OpenSQLStore(cfg.DBDriver, cfg.DSN())
	if err != nil {
		if cfg.DBDriver == storage.DriverPostgres {
			logger.Error("Make sure Docker is running: docker compose up -d")
		}
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.DBDriver, err)
	}
	return store, nil
}

func runScrape(ctx context.Context, cfg *config.Config, logger *utils.Logger, args []string) error {
	fs := flag.NewFlagSet("scrape", flag.ExitOnError)
	sourceName := fs.String("source", "all", "source to scrape: all, autodealer or motodealer")
	deactivateStale := fs.Bool("deactivate-stale", cfg.DeactivateStale, "deactivate listings missing from a clean run")
	_ = fs.Parse(args)

	logger.Info("=== carlynx scrape starting ===")
	logger.Info("Config: source=%s | pages: %d | concurrency: %d | rate: %dms | deactivate-stale: %v",
		*sourceName, cfg.PagesToScrape, cfg.MaxConcurrency, cfg.RateLimitMs, *deactivateStale)

	client, err := httpclient.New(httpclient.Options{
		MinInterval: time.Duration(cfg.RateLimitMs) * time.Millisecond,
		MaxRetries:  cfg.MaxRetries,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	registry := scraper.NewRegistry(
		autodealer.New(cfg, logger),
		motodealer.New(cfg, client, logger),
	)
	selected, err := registry.Select(*sourceName)
	if err != nil {
		return err
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	csvWriter, err := storage.NewCSVWriter(cfg.CSVOutputPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV writer: %w", err)
	}
	defer csvWriter.Close()

	cleaner := services.NewCleaner(logger)
	importer := services.NewImporter(store, logger)

	var failedSources int
	for _, s := range selected {
		if ctx.Err() != nil {
			break
		}

		if err := importSource(ctx, logger, s, csvWriter, cleaner, importer, *deactivateStale); err != nil {
			logger.Error("%s scrape failed: %v", s.Source(), err)
			failedSources++
		}
	}

	active, err := allActive(ctx, store)
	if err != nil {
		logger.Warn("Failed to fetch listings for insights: %v", err)
	} else {
		insightSvc := services.NewInsightService(logger)
		insightSvc.Print(os.Stdout, insightSvc.Generate(active))
	}

	fmt.Printf("  Done. Raw CSV → %s | Listings → %s\n\n", cfg.CSVOutputPath, cfg.DBDriver)

	if failedSources == len(selected) {
		return errors.New("every selected source failed")
	}
	return nil
}

type rawWriter interface {
	WriteRaw(listings []*models.RawListing) error
}

// importSource scrapes one source and imports what it returned. An
// incomplete scrape is still imported but never deactivates listings.
func importSource(ctx context.Context, logger *utils.Logger, s scraper.Scraper, csvWriter rawWriter,
	cleaner *services.Cleaner, importer *services.Importer, deactivateStale bool) error {
	raw, err := s.Scrape(ctx)
	if err != nil {
		if !errors.Is(err, scraper.ErrIncomplete) || len(raw) == 0 {
			return err
		}
		logger.Warn("%s scrape incomplete, importing %d listings without stale deactivation: %v",
			s.Source(), len(raw), err)
		deactivateStale = false
	}
	if len(raw) == 0 {
		logger.Warn("%s returned no listings", s.Source())
		return nil
	}

	if csvWriter != nil {
		if err := csvWriter.WriteRaw(raw); err != nil {
			logger.Error("CSV write failed: %v", err)
		}
	}

	clean, dropped := cleaner.Clean(raw)
	logger.Info("%s: %d raw, %d clean, %d dropped", s.Source(), len(raw), len(clean), dropped)

	logReport(logger, importer.Import(ctx, s.Source(), clean, deactivateStale))
	return nil
}

// allActive pages through every active listing for the insights report.
func allActive(ctx context.Context, store storage.ListingStore) ([]*models.Listing, error) {
	const page = 200
	var all []*models.Listing
	for offset := 0; ; offset += page {
		batch, err := store.List(ctx, storage.ListFilter{ActiveOnly: true, Limit: page, Offset: offset})
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < page {
			return all, nil
		}
	}
}

func logReport(logger *utils.Logger, r *models.ImportReport) {
	logger.Info("Import %s [%s]: %d inserted, %d updated, %d failed, %d deactivated in %v",
		r.RunID, r.Source, r.Inserted, r.Updated, r.Failed, r.Deactivated,
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
}

func runServe(ctx context.Context, cfg *config.Config, logger *utils.Logger) error {
	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	var cache api.Cache
	if cfg.RedisURL != "" {
		redisCache, err := storage.NewRedisCache(cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			logger.Warn("Redis unavailable, serving without cache: %v", err)
		} else {
			defer redisCache.Close()
			cache = redisCache
		}
	}

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(api.NewHandler(store, cache, logger), logger)

	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API listening on %s", cfg.APIAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down API...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runSetActive(ctx context.Context, cfg *config.Config, logger *utils.Logger, args []string) error {
	fs := flag.NewFlagSet("set-active", flag.ExitOnError)
	id := fs.Int64("id", 0, "listing id")
	active := fs.Bool("active", true, "new active state")
	_ = fs.Parse(args)

	if *id <= 0 {
		return errors.New("set-active: -id is required")
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SetActive(ctx, *id, *active); err != nil {
		return fmt.Errorf("set-active %d: %w", *id, err)
	}
	logger.Info("Listing %d is_active=%v", *id, *active)
	return nil
}
