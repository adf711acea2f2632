package scraper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"market_intel/config"
	"market_intel/models"
)

// Crawler walks sites x categories one pair at a time. A failing pair is
// logged and skipped; only context cancellation stops the walk.
type Crawler struct {
	cfg      *config.Config
	adapters map[models.Site]Adapter
	metrics  *Metrics
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewCrawler(cfg *config.Config, adapters map[models.Site]Adapter, metrics *Metrics, logger *zap.Logger) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{
		cfg:      cfg,
		adapters: adapters,
		metrics:  metrics,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Sites returns the sites that have both config and an adapter, in crawl order.
func (c *Crawler) Sites() []models.Site {
	var sites []models.Site
	for _, id := range c.cfg.SiteIDs() {
		if _, ok := c.adapters[id]; ok {
			sites = append(sites, id)
		}
	}
	return sites
}

func (c *Crawler) CrawlAll(ctx context.Context) ([]models.SiteListing, error) {
	var all []models.SiteListing

	sites := c.Sites()
	for i, site := range sites {
		listings, err := c.CrawlSite(ctx, site)
		all = append(all, listings...)
		if err != nil {
			return all, err
		}

		if i < len(sites)-1 {
			if err := c.sleep(ctx, time.Duration(c.cfg.Scraper.SiteDelayMS)*time.Millisecond); err != nil {
				return all, err
			}
		}
	}

	return all, nil
}

func (c *Crawler) CrawlSite(ctx context.Context, site models.Site) ([]models.SiteListing, error) {
	siteCfg, ok := c.cfg.Sites[site]
	if !ok {
		return nil, fmt.Errorf("%w: %s", config.ErrUnknownSite, site)
	}
	if _, ok := c.adapters[site]; !ok {
		return nil, fmt.Errorf("%w: no adapter for %s", config.ErrUnknownSite, site)
	}

	pairDelay := c.cfg.Scraper.DelayMS
	if siteCfg.RateLimitMS > 0 {
		pairDelay = siteCfg.RateLimitMS
	}

	log := c.logger.With(zap.String("site", string(site)))
	var out []models.SiteListing

	for _, category := range models.KnownCategories() {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if siteCfg.CategoryURL(category) == "" {
			continue
		}

		listings, err := c.CrawlOne(ctx, site, category)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return out, ctxErr
			}
			errType := errorTypeLabel(err)
			c.metrics.IncError(site, errType)
			log.Warn("crawl pair failed",
				zap.String("category", string(category)),
				zap.String("error_type", errType),
				zap.Error(err),
			)
		} else {
			c.metrics.AddListings(site, category, len(listings))
			log.Debug("crawl pair done",
				zap.String("category", string(category)),
				zap.Int("listings", len(listings)),
			)
			for _, l := range listings {
				out = append(out, models.SiteListing{Site: site, Category: category, RawListing: l})
			}
		}

		if err := c.sleep(ctx, time.Duration(pairDelay)*time.Millisecond); err != nil {
			return out, err
		}
	}

	log.Info("site crawled", zap.Int("listings", len(out)))
	return out, nil
}

// CrawlOne runs a single adapter call, converting a panic into ErrAdapterPanic.
func (c *Crawler) CrawlOne(ctx context.Context, site models.Site, category models.Category) (listings []models.RawListing, err error) {
	adapter, ok := c.adapters[site]
	if !ok {
		return nil, fmt.Errorf("%w: %s", config.ErrUnknownSite, site)
	}

	defer func() {
		if r := recover(); r != nil {
			listings = nil
			err = ErrAdapterPanic{Value: r}
		}
	}()

	return adapter.Fetch(ctx, category)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
