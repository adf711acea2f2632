package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"market_intel/config"
	"market_intel/models"
	"market_intel/storage"
)

const (
	DefaultRangeDays = 7
	MaxRangeDays     = 365
	TrendingLimit    = 50
	RecentRunsLimit  = 5
)

var ErrInvalidRange = errors.New("invalid range")

// ReportService assembles the read-only dashboard payload.
type ReportService struct {
	store storage.ReportStore
	now   func() time.Time
}

func NewReportService(store storage.ReportStore) *ReportService {
	return &ReportService{store: store, now: time.Now}
}

// Build returns the report for the last rangeDays days. rangeDays of zero
// means the default window; an empty category means all categories.
func (s *ReportService) Build(ctx context.Context, rangeDays int, category string) (*models.Report, error) {
	filter, err := s.filter(rangeDays, category)
	if err != nil {
		return nil, err
	}

	trending, err := s.store.TrendingListings(ctx, filter, TrendingLimit)
	if err != nil {
		return nil, fmt.Errorf("trending listings: %w", err)
	}

	heatMap, err := s.store.HeatMap(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("heat map: %w", err)
	}

	runs, err := s.store.RecentSyncRuns(ctx, RecentRunsLimit)
	if err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}

	lastSync, err := s.store.LastSuccessfulSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("last successful sync: %w", err)
	}

	return &models.Report{
		Trending:          trending,
		HeatMap:           heatMap,
		RecentRuns:        runs,
		LastSyncTimestamp: lastSync,
	}, nil
}

func (s *ReportService) filter(rangeDays int, category string) (models.ReportFilter, error) {
	if rangeDays == 0 {
		rangeDays = DefaultRangeDays
	}
	if rangeDays < 0 || rangeDays > MaxRangeDays {
		return models.ReportFilter{}, fmt.Errorf("%w: rangeDays must be between 1 and %d, got %d", ErrInvalidRange, MaxRangeDays, rangeDays)
	}

	filter := models.ReportFilter{
		Since: s.now().UTC().AddDate(0, 0, -rangeDays),
	}
	if category != "" {
		c := models.Category(category)
		if !c.Valid() {
			return models.ReportFilter{}, fmt.Errorf("%w: %q", config.ErrUnknownCategory, category)
		}
		filter.Category = &c
	}
	return filter, nil
}
