package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"market_intel/config"
	"market_intel/models"
)

// Syncer runs one sync and sweeps orphaned runs.
type Syncer interface {
	Run(ctx context.Context, site *models.Site) (*models.SyncResult, error)
	ExpireStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

type Scheduler struct {
	cfg    config.SchedulerConfig
	syncer Syncer
	logger *zap.Logger
	cron   *cron.Cron
	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup

	// running guards against a tick landing while the previous run is
	// still crawling.
	running sync.Mutex
}

func New(cfg config.SchedulerConfig, syncer Syncer, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:    cfg,
		syncer: syncer,
		logger: logger,
		cron:   cron.New(),
		stopCh: make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.Cron != "" {
		s.logger.Info("starting scheduler", zap.String("cron", s.cfg.Cron))
		_, err := s.cron.AddFunc(s.cfg.Cron, func() { s.RunOnce(ctx) })
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else if s.cfg.Interval > 0 {
		s.logger.Info("starting scheduler", zap.Duration("interval", s.cfg.Interval))
		s.ticker = time.NewTicker(s.cfg.Interval)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.RunOnce(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		s.logger.Info("no schedule configured, syncs run only on demand")
	}

	return nil
}

// Stop halts scheduling and waits for an in-flight scheduled run to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
	s.wg.Wait()
}

// RunOnce sweeps stale runs when enabled, then performs a full sync. It is a
// no-op if a scheduled run is already in progress.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if !s.running.TryLock() {
		s.logger.Warn("previous scheduled sync still running, skipping tick")
		return
	}
	defer s.running.Unlock()

	if s.cfg.StaleRunAfter > 0 {
		if _, err := s.syncer.ExpireStale(ctx, s.cfg.StaleRunAfter); err != nil {
			s.logger.Error("stale run sweep failed", zap.Error(err))
		}
	}

	result, err := s.syncer.Run(ctx, nil)
	if err != nil {
		s.logger.Error("scheduled sync error", zap.Error(err))
		return
	}
	if !result.Success {
		s.logger.Warn("scheduled sync failed",
			zap.String("run_id", result.RunID.String()),
			zap.String("error", result.Error),
		)
	}
}
