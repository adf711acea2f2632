package scraper

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"market_intel/config"
	"market_intel/identity"
	"market_intel/models"
)

// GrocerMartAdapter finds product cards by their "View details" call to action.
type GrocerMartAdapter struct {
	cfg     *config.SiteConfig
	fetcher *Fetcher
	labels  map[string]bool
}

func NewGrocerMartAdapter(cfg *config.SiteConfig, fetcher *Fetcher) *GrocerMartAdapter {
	labels := make(map[string]bool)
	for _, l := range cfg.DetailsLabels {
		if l = strings.TrimSpace(l); l != "" {
			labels[l] = true
		}
	}
	if len(labels) == 0 {
		labels["View details"] = true
	}
	return &GrocerMartAdapter{cfg: cfg, fetcher: fetcher, labels: labels}
}

func (a *GrocerMartAdapter) Site() models.Site {
	return models.SiteGrocerMart
}

func (a *GrocerMartAdapter) Fetch(ctx context.Context, category models.Category) ([]models.RawListing, error) {
	pageURL := a.cfg.CategoryURL(category)
	if pageURL == "" {
		return nil, nil
	}

	doc, err := a.fetcher.Document(ctx, a.Site(), category, pageURL)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", a.Site(), category, err)
	}
	return a.parse(doc), nil
}

func (a *GrocerMartAdapter) parse(doc *goquery.Document) []models.RawListing {
	set := newListingSet(true)

	doc.Find("a, button").EachWithBreak(func(_ int, anchor *goquery.Selection) bool {
		if !a.isLabel(anchor) {
			return true
		}
		card := cardFor(anchor, a.singleCard)
		if card.Length() == 0 {
			return true
		}
		price, ok := priceIn(card)
		if !ok {
			return true
		}

		href := anchor.AttrOr("href", "")
		if goquery.NodeName(anchor) != "a" || href == "" {
			href = card.Find("a[href]").First().AttrOr("href", "")
		}

		listing := models.RawListing{
			ProductName:  productName(card),
			Price:        price,
			ReviewSource: models.ReviewSourceNone,
			ProductURL:   identity.ResolveURL(doc.Url, href),
			ImageURL:     identity.ResolveURL(doc.Url, imageSrc(card)),
		}
		if n, ok := ParseReviewCount(cleanText(card)); ok {
			listing.ReviewCount = n
			listing.ReviewSource = models.ReviewSourceReviews
		}

		set.add(listing)
		return !set.full()
	})

	return set.listings()
}

func (a *GrocerMartAdapter) isLabel(sel *goquery.Selection) bool {
	return a.labels[cleanText(sel)]
}

func (a *GrocerMartAdapter) singleCard(sel *goquery.Selection) bool {
	return sel.Find("a, button").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return a.isLabel(s)
	}).Length() <= 1
}
