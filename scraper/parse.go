package scraper

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"market_intel/identity"
	"market_intel/models"
)

// MaxListingsPerCategory bounds the work done per (site, category) page.
const MaxListingsPerCategory = 50

var (
	currencyPricePattern = regexp.MustCompile(`(?:₱|\bPHP|\bPhp|\bP)\s?(\d{1,3}(?:,\d{3})+(?:\.\d{1,2})?|\d+(?:\.\d{1,2})?)`)
	barePricePattern     = regexp.MustCompile(`\d{1,3}(?:,\d{3})+(?:\.\d{1,2})?|\d+\.\d{2}`)
	reviewsPattern       = regexp.MustCompile(`(?i)(\d[\d,]*)\s*(?:reviews?|ratings?)\b`)
	parenCountPattern    = regexp.MustCompile(`\((\d[\d,]*)\)`)
	ratingPattern        = regexp.MustCompile(`(?i)(\d(?:\.\d+)?)\s*(?:/\s*5|out of 5|stars?)`)
	whitespacePattern    = regexp.MustCompile(`\s+`)

	maxPlausiblePrice = decimal.NewFromInt(1_000_000)
)

// ParsePrice returns the first plausible price in text. Currency-marked
// tokens win over bare decimals.
func ParsePrice(text string) (float64, bool) {
	var token string
	if m := currencyPricePattern.FindStringSubmatch(text); m != nil {
		token = m[1]
	} else if m := barePricePattern.FindString(text); m != "" {
		token = m
	} else {
		return 0, false
	}

	d, err := decimal.NewFromString(strings.ReplaceAll(token, ",", ""))
	if err != nil || !d.IsPositive() || d.GreaterThanOrEqual(maxPlausiblePrice) {
		return 0, false
	}
	f, _ := d.Round(2).Float64()
	return f, true
}

// ParseReviewCount reads "N reviews" style text.
func ParseReviewCount(text string) (int, bool) {
	if m := reviewsPattern.FindStringSubmatch(text); m != nil {
		return atoiCommas(m[1])
	}
	return 0, false
}

// ParseParenCount reads a bare "(N)" counter as rendered next to star icons.
func ParseParenCount(text string) (int, bool) {
	if m := parenCountPattern.FindStringSubmatch(text); m != nil {
		return atoiCommas(m[1])
	}
	return 0, false
}

// ParseRating reads a 0-5 star rating such as "4.5 out of 5" or "4.2/5".
func ParseRating(text string) (float64, bool) {
	m := ratingPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	return parseRatingValue(m[1])
}

func parseRatingValue(s string) (float64, bool) {
	r, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || r < 0 || r > 5 {
		return 0, false
	}
	return r, true
}

// RatingProxy converts a star rating to the popularity number stored in
// review_count for sites without review counts.
func RatingProxy(rating float64) int {
	return int(math.Round(rating * 20))
}

func atoiCommas(s string) (int, bool) {
	n, err := strconv.Atoi(strings.ReplaceAll(s, ",", ""))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func cleanText(sel *goquery.Selection) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(sel.Text(), " "))
}

func textOrFallback(sel *goquery.Selection, fallback string) string {
	if sel == nil || sel.Length() == 0 {
		return fallback
	}
	if text := cleanText(sel.First()); text != "" {
		return text
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func imageSrc(sel *goquery.Selection) string {
	img := sel.Find("img").First()
	return firstNonEmpty(img.AttrOr("src", ""), img.AttrOr("data-src", ""))
}

// cardFor climbs from an anchor element to the nearest ancestor that carries
// a price. single rejects ancestors that span more than one product. Returns
// an empty selection when no suitable ancestor exists within a few levels.
func cardFor(anchor *goquery.Selection, single func(*goquery.Selection) bool) *goquery.Selection {
	card := anchor
	for depth := 0; depth < 6 && card.Length() > 0; depth++ {
		if !single(card) {
			break
		}
		if _, ok := ParsePrice(cleanText(card)); ok {
			return card
		}
		card = card.Parent()
		if goquery.NodeName(card) == "body" {
			break
		}
	}
	return anchor.Slice(0, 0)
}

func priceIn(card *goquery.Selection) (float64, bool) {
	if price, ok := ParsePrice(textOrFallback(card.Find(".price, .product-price, [itemprop=price]"), "")); ok {
		return price, true
	}
	return ParsePrice(cleanText(card))
}

// attrInCard reads name from the card itself or its first descendant carrying it.
func attrInCard(card *goquery.Selection, name string) string {
	if v, ok := card.Attr(name); ok {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(card.Find("[" + name + "]").First().AttrOr(name, ""))
}

// productName looks for a heading-like element inside a card, then image alt.
func productName(card *goquery.Selection) string {
	return firstNonEmpty(
		textOrFallback(card.Find("[itemprop=name], .product-name, .product-title, .name, .title"), ""),
		textOrFallback(card.Find("h1, h2, h3, h4, h5"), ""),
		card.Find("img").First().AttrOr("alt", ""),
	)
}

// listingSet dedupes by normalized product URL and stops at the cap.
type listingSet struct {
	seen        map[string]bool
	items       []models.RawListing
	rankByOrder bool
}

func newListingSet(rankByOrder bool) *listingSet {
	return &listingSet{seen: make(map[string]bool), rankByOrder: rankByOrder}
}

func (s *listingSet) full() bool {
	return len(s.items) >= MaxListingsPerCategory
}

func (s *listingSet) add(l models.RawListing) {
	if s.full() || l.ProductName == "" || l.Price <= 0 {
		return
	}

	key := "url:" + identity.NormalizeURL(l.ProductURL)
	if l.ProductURL == "" {
		key = "name:" + identity.NormalizeName(l.ProductName)
	}
	if s.seen[key] {
		return
	}
	s.seen[key] = true

	if s.rankByOrder {
		pos := len(s.items) + 1
		l.Position = &pos
	}
	s.items = append(s.items, l)
}

func (s *listingSet) listings() []models.RawListing {
	return s.items
}
