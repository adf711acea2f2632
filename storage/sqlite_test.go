package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market_intel/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

var base = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

func createRun(t *testing.T, store *SQLiteStore, startedAt time.Time) *models.SyncRun {
	t.Helper()
	run := &models.SyncRun{Status: models.RunStatusRunning, StartedAt: startedAt}
	require.NoError(t, store.CreateSyncRun(context.Background(), run))
	return run
}

func listingRow(runID uuid.UUID, site models.Site, category models.Category, score float64, at time.Time) models.CompetitorListing {
	pos := 1
	return models.CompetitorListing{
		ID:           uuid.New(),
		RunID:        runID,
		Site:         site,
		Category:     category,
		ProductName:  string(site) + " " + string(category),
		Price:        100,
		ReviewSource: models.ReviewSourceNone,
		Position:     &pos,
		TrendScore:   score,
		ScoreComponents: models.ScoreComponents{
			PriceScore: 0.5, PositionScore: 0.5, ReviewScore: 0.5,
			Weights:  models.ScoreWeights{Price: 0.70, Position: 0.22, Review: 0.08},
			MinPrice: 100, MaxPrice: 100,
		},
		CollectedAt: at,
	}
}

func TestSyncRunLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	site := models.SitePharmaPlus
	run := &models.SyncRun{Status: models.RunStatusRunning, Site: &site, StartedAt: base}
	require.NoError(t, store.CreateSyncRun(ctx, run))
	require.NotEqual(t, uuid.Nil, run.ID)

	got, err := store.GetSyncRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, got.Status)
	assert.Nil(t, got.FinishedAt)
	require.NotNil(t, got.Site)
	assert.Equal(t, site, *got.Site)
	assert.True(t, base.Equal(got.StartedAt))

	finished := base.Add(90 * time.Second)
	require.NoError(t, store.CompleteSyncRun(ctx, run.ID, finished, 42))

	got, err = store.GetSyncRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSuccess, got.Status)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, finished.Equal(*got.FinishedAt))
	require.NotNil(t, got.TotalProducts)
	assert.Equal(t, 42, *got.TotalProducts)
	assert.Nil(t, got.ErrorMessage)

	// Terminal runs cannot be finalized again.
	assert.ErrorIs(t, store.FailSyncRun(ctx, run.ID, finished, "late"), ErrRunNotRunning)
	assert.ErrorIs(t, store.CompleteSyncRun(ctx, uuid.New(), finished, 1), ErrRunNotRunning)

	missing, err := store.GetSyncRun(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFailSyncRun(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	run := createRun(t, store, base)

	require.NoError(t, store.FailSyncRun(ctx, run.ID, base.Add(time.Second), "db unavailable"))

	got, err := store.GetSyncRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusError, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "db unavailable", *got.ErrorMessage)
	assert.Nil(t, got.TotalProducts)
	assert.Nil(t, got.Site)
}

func TestInsertListings_RoundTripsComponents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	run := createRun(t, store, base)

	row := listingRow(run.ID, models.SiteBeautyHub, models.CategorySkincare, 0.77, base)
	row.ReviewCount = 92
	row.ReviewSource = models.ReviewSourceRatingProxy
	row.Position = nil
	row.ProductURL = "https://beautyhub.ph/products/serum"
	row.ScoreComponents.MinPrice = 250
	row.ScoreComponents.MaxPrice = 900
	require.NoError(t, store.InsertListings(ctx, []models.CompetitorListing{row}))

	got, err := store.TrendingListings(ctx, models.ReportFilter{Since: base.Add(-time.Hour)}, 50)
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, row.ID, got[0].ID)
	assert.Equal(t, run.ID, got[0].RunID)
	assert.Equal(t, models.ReviewSourceRatingProxy, got[0].ReviewSource)
	assert.Equal(t, 92, got[0].ReviewCount)
	assert.Nil(t, got[0].Position)
	assert.Equal(t, row.ScoreComponents, got[0].ScoreComponents)
	assert.Equal(t, "https://beautyhub.ph/products/serum", got[0].ProductURL)
	assert.Empty(t, got[0].ImageURL)
	assert.True(t, base.Equal(got[0].CollectedAt))
}

func TestInsertListings_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	run := createRun(t, store, base)

	good := listingRow(run.ID, models.SiteGrocerMart, models.CategoryRice, 0.9, base)
	bad := listingRow(run.ID, models.SiteGrocerMart, models.CategoryRice, 0.1, base)
	bad.Price = 0 // violates CHECK (price > 0)

	err := store.InsertListings(ctx, []models.CompetitorListing{good, bad})
	require.Error(t, err)

	got, err := store.TrendingListings(ctx, models.ReportFilter{Since: base.Add(-time.Hour)}, 50)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTrendingListings_OrderFilterAndLimit(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	run := createRun(t, store, base)

	rice := models.CategoryRice
	rows := []models.CompetitorListing{
		listingRow(run.ID, models.SiteGrocerMart, models.CategoryRice, 0.40, base),
		listingRow(run.ID, models.SiteGrocerMart, models.CategoryRice, 0.95, base),
		listingRow(run.ID, models.SitePharmaPlus, models.CategoryVitamins, 0.99, base),
		listingRow(run.ID, models.SitePharmaPlus, models.CategoryRice, 0.60, base),
		// Outside the window.
		listingRow(run.ID, models.SiteGrocerMart, models.CategoryRice, 1.00, base.AddDate(0, 0, -10)),
	}
	require.NoError(t, store.InsertListings(ctx, rows))

	since := base.AddDate(0, 0, -7)

	got, err := store.TrendingListings(ctx, models.ReportFilter{Since: since, Category: &rice}, 50)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 0.95, got[0].TrendScore)
	assert.Equal(t, 0.60, got[1].TrendScore)
	assert.Equal(t, 0.40, got[2].TrendScore)

	got, err = store.TrendingListings(ctx, models.ReportFilter{Since: since}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0.99, got[0].TrendScore)
}

// Two runs three days apart, seven day window, one category filter.
func TestHeatMap_WindowAndCategoryFilter(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first := createRun(t, store, base)
	second := createRun(t, store, base.AddDate(0, 0, 3))

	rows := []models.CompetitorListing{
		listingRow(first.ID, models.SiteGrocerMart, models.CategoryRice, 0.2, first.StartedAt),
		listingRow(first.ID, models.SiteGrocerMart, models.CategoryRice, 0.4, first.StartedAt),
		listingRow(first.ID, models.SiteGrocerMart, models.CategoryCookingOil, 0.5, first.StartedAt),
		listingRow(second.ID, models.SiteGrocerMart, models.CategoryRice, 0.9, second.StartedAt),
		listingRow(second.ID, models.SitePharmaPlus, models.CategoryRice, 0.7, second.StartedAt),
	}
	require.NoError(t, store.InsertListings(ctx, rows))

	now := base.AddDate(0, 0, 4)
	rice := models.CategoryRice
	cells, err := store.HeatMap(ctx, models.ReportFilter{Since: now.AddDate(0, 0, -7), Category: &rice})
	require.NoError(t, err)
	require.Len(t, cells, 2)

	assert.Equal(t, models.SiteGrocerMart, cells[0].Site)
	assert.Equal(t, 3, cells[0].Count)
	assert.InDelta(t, 0.5, cells[0].AvgTrendScore, 1e-9)

	assert.Equal(t, models.SitePharmaPlus, cells[1].Site)
	assert.Equal(t, 1, cells[1].Count)
	assert.InDelta(t, 0.7, cells[1].AvgTrendScore, 1e-9)

	for _, c := range cells {
		assert.Equal(t, models.CategoryRice, c.Category)
	}

	// A window that only covers the second run drops the first run's rows
	// and omits the pairs that have none.
	cells, err = store.HeatMap(ctx, models.ReportFilter{Since: now.AddDate(0, 0, -2)})
	require.NoError(t, err)
	require.Len(t, cells, 2)
	assert.Equal(t, 1, cells[0].Count)
	assert.InDelta(t, 0.9, cells[0].AvgTrendScore, 1e-9)
}

func TestRecentSyncRunsAndLastSuccess(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	last, err := store.LastSuccessfulSync(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	var runs []*models.SyncRun
	for i := 0; i < 7; i++ {
		runs = append(runs, createRun(t, store, base.Add(time.Duration(i)*time.Hour)))
	}
	require.NoError(t, store.CompleteSyncRun(ctx, runs[2].ID, runs[2].StartedAt.Add(time.Minute), 10))
	require.NoError(t, store.CompleteSyncRun(ctx, runs[4].ID, runs[4].StartedAt.Add(time.Minute), 12))
	require.NoError(t, store.FailSyncRun(ctx, runs[6].ID, runs[6].StartedAt.Add(time.Minute), "boom"))

	recent, err := store.RecentSyncRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, recent, 5)
	assert.Equal(t, runs[6].ID, recent[0].ID)
	assert.Equal(t, runs[2].ID, recent[4].ID)
	for i := 1; i < len(recent); i++ {
		assert.True(t, recent[i-1].StartedAt.After(recent[i].StartedAt))
	}

	last, err = store.LastSuccessfulSync(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, runs[4].StartedAt.Add(time.Minute).Equal(*last))
}

func TestExpireStaleRuns(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	old := createRun(t, store, base)
	fresh := createRun(t, store, base.Add(5*time.Hour))
	done := createRun(t, store, base.Add(-time.Hour))
	require.NoError(t, store.CompleteSyncRun(ctx, done.ID, base, 3))

	n, err := store.ExpireStaleRuns(ctx, base.Add(2*time.Hour), base.Add(6*time.Hour), "abandoned")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.GetSyncRun(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusError, got.Status)
	assert.Equal(t, "abandoned", *got.ErrorMessage)

	got, err = store.GetSyncRun(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, got.Status)

	got, err = store.GetSyncRun(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSuccess, got.Status)
}
