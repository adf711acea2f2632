package scraper

import (
	"context"
	"fmt"

	"market_intel/config"
	"market_intel/models"
)

// Adapter extracts listings for one competitor site. A category the site does
// not carry yields (nil, nil).
type Adapter interface {
	Site() models.Site
	Fetch(ctx context.Context, category models.Category) ([]models.RawListing, error)
}

func NewAdapter(siteCfg *config.SiteConfig, fetcher *Fetcher) (Adapter, error) {
	switch siteCfg.ID {
	case models.SiteGrocerMart:
		return NewGrocerMartAdapter(siteCfg, fetcher), nil
	case models.SitePharmaPlus:
		return NewPharmaPlusAdapter(siteCfg, fetcher), nil
	case models.SiteBeautyHub:
		return NewBeautyHubAdapter(siteCfg, fetcher), nil
	default:
		return nil, fmt.Errorf("%w: %s", config.ErrUnknownSite, siteCfg.ID)
	}
}

// NewAdapters builds the lookup table for every configured site.
func NewAdapters(cfg *config.Config, fetcher *Fetcher) (map[models.Site]Adapter, error) {
	adapters := make(map[models.Site]Adapter, len(cfg.Sites))
	for _, id := range cfg.SiteIDs() {
		adapter, err := NewAdapter(cfg.Sites[id], fetcher)
		if err != nil {
			return nil, err
		}
		adapters[id] = adapter
	}
	return adapters, nil
}
