package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"market_intel/config"
	"market_intel/identity"
	"market_intel/models"
)

// PharmaPlusAdapter finds product cards through links under the product path.
type PharmaPlusAdapter struct {
	cfg     *config.SiteConfig
	fetcher *Fetcher
	prefix  string
}

func NewPharmaPlusAdapter(cfg *config.SiteConfig, fetcher *Fetcher) *PharmaPlusAdapter {
	prefix := cfg.ProductPathPrefix
	if prefix == "" {
		prefix = "/product/"
	}
	return &PharmaPlusAdapter{cfg: cfg, fetcher: fetcher, prefix: prefix}
}

func (a *PharmaPlusAdapter) Site() models.Site {
	return models.SitePharmaPlus
}

func (a *PharmaPlusAdapter) Fetch(ctx context.Context, category models.Category) ([]models.RawListing, error) {
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

func (a *PharmaPlusAdapter) parse(doc *goquery.Document) []models.RawListing {
	set := newListingSet(true)

	doc.Find("a[href]").EachWithBreak(func(_ int, link *goquery.Selection) bool {
		productURL := identity.ResolveURL(doc.Url, link.AttrOr("href", ""))
		if !a.isProductURL(productURL) {
			return true
		}
		card := cardFor(link, func(sel *goquery.Selection) bool {
			return a.singleCard(doc, sel)
		})
		if card.Length() == 0 {
			return true
		}
		price, ok := priceIn(card)
		if !ok {
			return true
		}

		listing := models.RawListing{
			ProductName:  firstNonEmpty(productName(card), cleanText(link), link.AttrOr("title", "")),
			Price:        price,
			ReviewSource: models.ReviewSourceNone,
			ProductURL:   productURL,
			ImageURL:     identity.ResolveURL(doc.Url, imageSrc(card)),
		}
		if n, ok := a.reviewCount(card); ok {
			listing.ReviewCount = n
			listing.ReviewSource = models.ReviewSourceReviews
		}

		set.add(listing)
		return !set.full()
	})

	return set.listings()
}

func (a *PharmaPlusAdapter) isProductURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.HasPrefix(u.Path, a.prefix) && len(u.Path) > len(a.prefix)
}

func (a *PharmaPlusAdapter) reviewCount(card *goquery.Selection) (int, bool) {
	if v := attrInCard(card, "data-review-count"); v != "" {
		if n, ok := atoiCommas(v); ok {
			return n, true
		}
	}
	text := cleanText(card)
	if n, ok := ParseReviewCount(text); ok {
		return n, true
	}
	return ParseParenCount(text)
}

// singleCard reports whether sel links to at most one distinct product.
func (a *PharmaPlusAdapter) singleCard(doc *goquery.Document, sel *goquery.Selection) bool {
	seen := make(map[string]bool)
	sel.Find("a[href]").AddSelection(sel.Filter("a[href]")).Each(func(_ int, link *goquery.Selection) {
		if u := identity.ResolveURL(doc.Url, link.AttrOr("href", "")); a.isProductURL(u) {
			seen[identity.NormalizeURL(u)] = true
		}
	})
	return len(seen) <= 1
}
