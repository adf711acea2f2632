package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"market_intel/models"
)

// ErrRunNotRunning is returned when finalizing a run that is missing or
// already terminal.
var ErrRunNotRunning = errors.New("sync run is not running")

// SyncStore is what the sync pipeline writes through.
type SyncStore interface {
	CreateSyncRun(ctx context.Context, run *models.SyncRun) error
	CompleteSyncRun(ctx context.Context, id uuid.UUID, finishedAt time.Time, totalProducts int) error
	FailSyncRun(ctx context.Context, id uuid.UUID, finishedAt time.Time, message string) error
	// InsertListings writes the whole batch or nothing.
	InsertListings(ctx context.Context, listings []models.CompetitorListing) error
	// ExpireStaleRuns marks running rows started before cutoff as error.
	ExpireStaleRuns(ctx context.Context, cutoff, finishedAt time.Time, message string) (int64, error)
}

// ReportStore serves the read-only reporting queries.
type ReportStore interface {
	TrendingListings(ctx context.Context, filter models.ReportFilter, limit int) ([]models.CompetitorListing, error)
	HeatMap(ctx context.Context, filter models.ReportFilter) ([]models.HeatMapCell, error)
	RecentSyncRuns(ctx context.Context, limit int) ([]models.SyncRun, error)
	LastSuccessfulSync(ctx context.Context) (*time.Time, error)
}

type Store interface {
	SyncStore
	ReportStore
	GetSyncRun(ctx context.Context, id uuid.UUID) (*models.SyncRun, error)
	Close() error
}
