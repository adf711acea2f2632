package scraper

import (
	"context"
	"fmt"
	"strconv"

	"github.com/PuerkitoBio/goquery"

	"market_intel/config"
	"market_intel/identity"
	"market_intel/models"
)

// BeautyHubAdapter reads skincare and personal-care cards. The site shows
// star ratings but no review counts, so ReviewCount carries RatingProxy and
// is marked as such.
type BeautyHubAdapter struct {
	cfg     *config.SiteConfig
	fetcher *Fetcher
}

func NewBeautyHubAdapter(cfg *config.SiteConfig, fetcher *Fetcher) *BeautyHubAdapter {
	return &BeautyHubAdapter{cfg: cfg, fetcher: fetcher}
}

func (a *BeautyHubAdapter) Site() models.Site {
	return models.SiteBeautyHub
}

func (a *BeautyHubAdapter) Fetch(ctx context.Context, category models.Category) ([]models.RawListing, error) {
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

func (a *BeautyHubAdapter) parse(doc *goquery.Document) []models.RawListing {
	set := newListingSet(false)

	doc.Find(".product-card, [data-product-id]").EachWithBreak(func(_ int, card *goquery.Selection) bool {
		price, ok := priceIn(card)
		if !ok {
			return true
		}

		listing := models.RawListing{
			ProductName:  productName(card),
			Price:        price,
			ReviewSource: models.ReviewSourceNone,
			Position:     position(card),
			ProductURL:   identity.ResolveURL(doc.Url, card.Find("a[href]").First().AttrOr("href", "")),
			ImageURL:     identity.ResolveURL(doc.Url, imageSrc(card)),
		}
		if rating, ok := rating(card); ok {
			listing.ReviewCount = RatingProxy(rating)
			listing.ReviewSource = models.ReviewSourceRatingProxy
		}

		set.add(listing)
		return !set.full()
	})

	return set.listings()
}

func rating(card *goquery.Selection) (float64, bool) {
	if v := attrInCard(card, "data-rating"); v != "" {
		if r, ok := parseRatingValue(v); ok {
			return r, true
		}
	}
	if label := attrInCard(card, "aria-label"); label != "" {
		if r, ok := ParseRating(label); ok {
			return r, true
		}
	}
	return ParseRating(cleanText(card))
}

// position reads data-position; absent or invalid means unknown.
func position(card *goquery.Selection) *int {
	v, ok := card.Attr("data-position")
	if !ok {
		return nil
	}
	p, err := strconv.Atoi(v)
	if err != nil || p < 1 {
		return nil
	}
	return &p
}
