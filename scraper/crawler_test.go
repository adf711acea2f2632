package scraper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market_intel/config"
	"market_intel/models"
)

type fakeAdapter struct {
	site    models.Site
	results map[models.Category][]models.RawListing
	errs    map[models.Category]error
	panics  map[models.Category]bool
	calls   []models.Category
	onFetch func()
}

func (f *fakeAdapter) Site() models.Site { return f.site }

func (f *fakeAdapter) Fetch(_ context.Context, category models.Category) ([]models.RawListing, error) {
	f.calls = append(f.calls, category)
	if f.onFetch != nil {
		f.onFetch()
	}
	if f.panics[category] {
		panic("selector blew up")
	}
	if err := f.errs[category]; err != nil {
		return nil, err
	}
	return f.results[category], nil
}

func raw(name string, price float64) models.RawListing {
	return models.RawListing{ProductName: name, Price: price, ReviewSource: models.ReviewSourceNone}
}

type sleepRecorder struct {
	durations []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.durations = append(s.durations, d)
	return ctx.Err()
}

func crawlConfig() *config.Config {
	return &config.Config{
		Scraper: config.ScraperConfig{DelayMS: 1500, SiteDelayMS: 5000},
		Sites: map[models.Site]*config.SiteConfig{
			models.SiteGrocerMart: {
				ID:      models.SiteGrocerMart,
				BaseURL: "https://grocer.test",
				Categories: map[models.Category]string{
					models.CategoryRice:       "/c/rice",
					models.CategoryCookingOil: "/c/oil",
				},
			},
			models.SitePharmaPlus: {
				ID:          models.SitePharmaPlus,
				BaseURL:     "https://pharma.test",
				RateLimitMS: 700,
				Categories: map[models.Category]string{
					models.CategoryVitamins: "/c/vitamins",
				},
			},
		},
	}
}

func TestCrawlAll_UnionOfSuccessesWithPacing(t *testing.T) {
	grocer := &fakeAdapter{
		site: models.SiteGrocerMart,
		results: map[models.Category][]models.RawListing{
			models.CategoryRice:       {raw("rice a", 40), raw("rice b", 50)},
			models.CategoryCookingOil: {raw("oil", 120)},
		},
	}
	pharma := &fakeAdapter{
		site: models.SitePharmaPlus,
		results: map[models.Category][]models.RawListing{
			models.CategoryVitamins: {raw("vit c", 450)},
		},
	}

	metrics := NewMetrics()
	crawler := NewCrawler(crawlConfig(), map[models.Site]Adapter{
		models.SiteGrocerMart: grocer,
		models.SitePharmaPlus: pharma,
	}, metrics, nil)
	rec := &sleepRecorder{}
	crawler.sleep = rec.sleep

	listings, err := crawler.CrawlAll(context.Background())
	require.NoError(t, err)
	require.Len(t, listings, 4)

	assert.Equal(t, models.SiteGrocerMart, listings[0].Site)
	assert.Equal(t, models.CategoryRice, listings[0].Category)
	assert.Equal(t, models.CategoryCookingOil, listings[2].Category)
	assert.Equal(t, models.SitePharmaPlus, listings[3].Site)

	// Only configured categories are requested.
	assert.Equal(t, []models.Category{models.CategoryRice, models.CategoryCookingOil}, grocer.calls)
	assert.Equal(t, []models.Category{models.CategoryVitamins}, pharma.calls)

	assert.Equal(t, []time.Duration{
		1500 * time.Millisecond,
		1500 * time.Millisecond,
		5000 * time.Millisecond,
		700 * time.Millisecond,
	}, rec.durations)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.ListingsTotal.WithLabelValues("grocermart", "rice")))
}

func TestCrawlSite_IsolatesFailingPairs(t *testing.T) {
	grocer := &fakeAdapter{
		site: models.SiteGrocerMart,
		results: map[models.Category][]models.RawListing{
			models.CategoryCookingOil: {raw("oil", 120)},
		},
		errs: map[models.Category]error{
			models.CategoryRice: ErrForbidden{Err: ErrHTTPStatus{StatusCode: 403}},
		},
	}
	metrics := NewMetrics()
	crawler := NewCrawler(crawlConfig(), map[models.Site]Adapter{models.SiteGrocerMart: grocer}, metrics, nil)
	crawler.sleep = (&sleepRecorder{}).sleep

	listings, err := crawler.CrawlSite(context.Background(), models.SiteGrocerMart)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "oil", listings[0].ProductName)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ErrorsTotal.WithLabelValues("grocermart", "forbidden")))
}

func TestCrawlSite_RecoversAdapterPanic(t *testing.T) {
	grocer := &fakeAdapter{
		site:   models.SiteGrocerMart,
		panics: map[models.Category]bool{models.CategoryRice: true},
		results: map[models.Category][]models.RawListing{
			models.CategoryCookingOil: {raw("oil", 120)},
		},
	}
	metrics := NewMetrics()
	crawler := NewCrawler(crawlConfig(), map[models.Site]Adapter{models.SiteGrocerMart: grocer}, metrics, nil)
	crawler.sleep = (&sleepRecorder{}).sleep

	listings, err := crawler.CrawlSite(context.Background(), models.SiteGrocerMart)
	require.NoError(t, err)
	assert.Len(t, listings, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ErrorsTotal.WithLabelValues("grocermart", "panic")))
}

func TestCrawlAll_EmptyIsValid(t *testing.T) {
	grocer := &fakeAdapter{
		site: models.SiteGrocerMart,
		errs: map[models.Category]error{
			models.CategoryRice:       ErrTimeout{Err: context.DeadlineExceeded},
			models.CategoryCookingOil: ErrNotFound{Err: ErrHTTPStatus{StatusCode: 404}},
		},
	}
	crawler := NewCrawler(crawlConfig(), map[models.Site]Adapter{models.SiteGrocerMart: grocer}, nil, nil)
	crawler.sleep = (&sleepRecorder{}).sleep

	listings, err := crawler.CrawlAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, listings)
}

func TestCrawlAll_CancellationAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	grocer := &fakeAdapter{
		site: models.SiteGrocerMart,
		results: map[models.Category][]models.RawListing{
			models.CategoryRice:       {raw("rice", 40)},
			models.CategoryCookingOil: {raw("oil", 120)},
		},
		onFetch: cancel,
	}
	pharma := &fakeAdapter{site: models.SitePharmaPlus}

	crawler := NewCrawler(crawlConfig(), map[models.Site]Adapter{
		models.SiteGrocerMart: grocer,
		models.SitePharmaPlus: pharma,
	}, nil, nil)
	crawler.sleep = (&sleepRecorder{}).sleep

	listings, err := crawler.CrawlAll(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Len(t, listings, 1)
	assert.Empty(t, pharma.calls)
}

func TestCrawlSite_UnknownSite(t *testing.T) {
	crawler := NewCrawler(crawlConfig(), map[models.Site]Adapter{}, nil, nil)

	_, err := crawler.CrawlSite(context.Background(), models.SiteBeautyHub)
	assert.ErrorIs(t, err, config.ErrUnknownSite)

	_, err = crawler.CrawlOne(context.Background(), models.SiteGrocerMart, models.CategoryRice)
	assert.ErrorIs(t, err, config.ErrUnknownSite)
}

func TestSleepCtx(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepCtx(context.Background(), 0))
}
