package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"market_intel/api"
	"market_intel/config"
	"market_intel/httputil"
	"market_intel/logging"
	"market_intel/models"
	"market_intel/scheduler"
	"market_intel/scraper"
	"market_intel/services"
	"market_intel/storage"
)

var (
	syncNow  = flag.Bool("sync", false, "Run one sync and exit")
	syncSite = flag.String("site", "", "Limit -sync to one site id")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	logger, logFile, err := logging.Setup(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		return 1
	}
	defer func() {
		_ = logger.Sync()
		if logFile != nil {
			logFile.Close()
		}
	}()

	logger.Info("starting market_intel", zap.Int("sites", len(cfg.Sites)))
	for _, id := range cfg.SiteIDs() {
		site := cfg.Sites[id]
		logger.Info("site configured",
			zap.String("site", string(id)),
			zap.String("name", site.Name),
			zap.Int("categories", len(site.Categories)),
		)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", zap.Error(err))
		return 1
	}
	defer store.Close()

	metrics := scraper.NewMetrics()

	fetcher := scraper.NewFetcher(httputil.NewScrapingClient(cfg.Scraper), cfg.Scraper.UserAgent, logger.Named("fetcher"))
	fetcher.SetMetrics(metrics)
	if cfg.Archive.Enabled() {
		uploader, err := storage.NewS3Uploader(ctx, storage.S3Config{
			Bucket:          cfg.Archive.Bucket,
			Region:          cfg.Archive.Region,
			Endpoint:        cfg.Archive.Endpoint,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
		})
		if err != nil {
			logger.Error("failed to set up page archive", zap.Error(err))
			return 1
		}
		fetcher.SetArchiver(storage.NewPageArchiver(uploader))
		logger.Info("page archive enabled", zap.String("bucket", cfg.Archive.Bucket))
	}

	adapters, err := scraper.NewAdapters(cfg, fetcher)
	if err != nil {
		logger.Error("failed to build site adapters", zap.Error(err))
		return 1
	}
	crawler := scraper.NewCrawler(cfg, adapters, metrics, logger.Named("crawler"))

	syncService := services.NewSyncService(store, crawler, metrics, logger.Named("sync"))
	reportService := services.NewReportService(store)

	if *syncNow {
		return runSyncOnce(ctx, syncService, *syncSite, logger)
	}

	// Daemon mode
	sched := scheduler.New(cfg.Scheduler, syncService, logger.Named("scheduler"))
	if err := sched.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", zap.Error(err))
		return 1
	}

	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewServer(syncService, reportService, metrics.Registry, logger.Named("api")).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("admin api listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin api stopped", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin api shutdown", zap.Error(err))
	}
	sched.Stop()

	logger.Info("goodbye")
	return 0
}

func runSyncOnce(ctx context.Context, svc *services.SyncService, siteID string, logger *zap.Logger) int {
	var site *models.Site
	if siteID != "" {
		id := models.Site(siteID)
		if !id.Valid() {
			logger.Error("unknown site", zap.String("site", siteID))
			return 2
		}
		site = &id
	}

	result, err := svc.Run(ctx, site)
	if err != nil {
		logger.Error("sync could not start", zap.Error(err))
		return 1
	}
	if !result.Success {
		logger.Error("sync failed", zap.String("run_id", result.RunID.String()), zap.String("error", result.Error))
		return 1
	}
	logger.Info("sync complete", zap.String("run_id", result.RunID.String()), zap.Int("inserted", result.Inserted))
	return 0
}

// openStore uses Postgres when DATABASE_URL is set and SQLite otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	if cfg.Database.URL != "" {
		pg, err := storage.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		logger.Info("connected to postgres", zap.String("url", maskConnectionString(cfg.Database.URL)))
		return pg, nil
	}

	sqlite, err := storage.NewSQLiteStore(cfg.Database.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	logger.Info("using sqlite", zap.String("path", cfg.Database.DBPath))
	return sqlite, nil
}

// maskConnectionString hides the password in a URL-style connection string.
func maskConnectionString(connStr string) string {
	u, err := url.Parse(connStr)
	if err != nil || u.User == nil {
		return connStr
	}
	return u.Redacted()
}
