package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"market_intel/models"
	"market_intel/scoring"
	"market_intel/storage"
)

// StaleRunMessage is recorded on runs that the sweep finalizes.
const StaleRunMessage = "abandoned: run exceeded stale threshold"

// Crawler is the harvesting side of a sync run.
type Crawler interface {
	CrawlAll(ctx context.Context) ([]models.SiteListing, error)
	CrawlSite(ctx context.Context, site models.Site) ([]models.SiteListing, error)
}

// RunObserver is notified when a run reaches a terminal status.
type RunObserver interface {
	ObserveRun(status models.RunStatus, finishedAt time.Time)
}

// SyncService owns the SyncRun lifecycle: create running, crawl, score,
// persist, finalize.
type SyncService struct {
	store    storage.SyncStore
	crawler  Crawler
	observer RunObserver
	logger   *zap.Logger
	now      func() time.Time
}

func NewSyncService(store storage.SyncStore, crawler Crawler, observer RunObserver, logger *zap.Logger) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{
		store:    store,
		crawler:  crawler,
		observer: observer,
		logger:   logger,
		now:      time.Now,
	}
}

// Run performs one sync. A nil site crawls every configured site.
//
// The returned error is non-nil only when the run could not be recorded at
// all. Crawl, scoring and persistence failures finalize the run as error and
// come back in SyncResult.
func (s *SyncService) Run(ctx context.Context, site *models.Site) (*models.SyncResult, error) {
	run := &models.SyncRun{
		Status:    models.RunStatusRunning,
		Site:      site,
		StartedAt: s.timestamp(),
	}
	if err := s.store.CreateSyncRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create sync run: %w", err)
	}

	log := s.logger.With(zap.String("run_id", run.ID.String()))
	if site != nil {
		log = log.With(zap.String("site", string(*site)))
	}
	log.Info("sync run started")

	inserted, err := s.harvest(ctx, run)
	if err != nil {
		return s.fail(ctx, log, run, err), nil
	}

	finishedAt := s.finishedAt(run.StartedAt)
	if err := s.store.CompleteSyncRun(context.WithoutCancel(ctx), run.ID, finishedAt, inserted); err != nil {
		// Rows are committed at this point; the run row stays running until
		// the stale sweep picks it up.
		log.Error("finalize sync run", zap.Error(err))
		return &models.SyncResult{Success: false, Inserted: inserted, RunID: run.ID, Error: err.Error()}, nil
	}
	if s.observer != nil {
		s.observer.ObserveRun(models.RunStatusSuccess, finishedAt)
	}

	log.Info("sync run finished",
		zap.Int("inserted", inserted),
		zap.Duration("took", finishedAt.Sub(run.StartedAt)),
	)
	return &models.SyncResult{Success: true, Inserted: inserted, RunID: run.ID}, nil
}

// harvest crawls, scores and persists. Panics anywhere in the pipeline come
// back as errors.
func (s *SyncService) harvest(ctx context.Context, run *models.SyncRun) (inserted int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync panic: %v", r)
		}
	}()

	var listings []models.SiteListing
	if run.Site != nil {
		listings, err = s.crawler.CrawlSite(ctx, *run.Site)
	} else {
		listings, err = s.crawler.CrawlAll(ctx)
	}
	if err != nil {
		return 0, fmt.Errorf("crawl: %w", err)
	}

	scored := scoring.Score(listings)

	rows := make([]models.CompetitorListing, 0, len(scored))
	for _, l := range scored {
		rows = append(rows, models.NewCompetitorListing(run.ID, run.StartedAt, l))
	}

	if err := s.store.InsertListings(ctx, rows); err != nil {
		return 0, fmt.Errorf("persist listings: %w", err)
	}
	return len(rows), nil
}

func (s *SyncService) fail(ctx context.Context, log *zap.Logger, run *models.SyncRun, cause error) *models.SyncResult {
	log.Error("sync run failed", zap.Error(cause))

	finishedAt := s.finishedAt(run.StartedAt)
	if err := s.store.FailSyncRun(context.WithoutCancel(ctx), run.ID, finishedAt, cause.Error()); err != nil {
		log.Error("finalize failed sync run", zap.Error(err))
	} else if s.observer != nil {
		s.observer.ObserveRun(models.RunStatusError, finishedAt)
	}

	return &models.SyncResult{Success: false, RunID: run.ID, Error: cause.Error()}
}

// ExpireStale marks running rows started more than olderThan ago as error.
// A non-positive olderThan disables the sweep.
func (s *SyncService) ExpireStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	now := s.timestamp()
	n, err := s.store.ExpireStaleRuns(ctx, now.Add(-olderThan), now, StaleRunMessage)
	if err != nil {
		return 0, fmt.Errorf("expire stale runs: %w", err)
	}
	if n > 0 {
		s.logger.Warn("expired stale sync runs", zap.Int64("count", n), zap.Duration("older_than", olderThan))
	}
	return n, nil
}

// timestamp is UTC truncated to microseconds so both backends round-trip it.
func (s *SyncService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *SyncService) finishedAt(startedAt time.Time) time.Time {
	t := s.timestamp()
	if t.Before(startedAt) {
		return startedAt
	}
	return t
}
