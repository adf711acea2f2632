// Package scoring computes batch-relative trend scores for competitor listings.
package scoring

import "market_intel/models"

const (
	PriceWeight    = 0.70
	PositionWeight = 0.22
	ReviewWeight   = 0.08

	// Neutral is assigned whenever a relative standing cannot be computed.
	Neutral = 0.5
)

// Weights returns the fixed weights recorded on every score.
func Weights() models.ScoreWeights {
	return models.ScoreWeights{
		Price:    PriceWeight,
		Position: PositionWeight,
		Review:   ReviewWeight,
	}
}

type bounds struct {
	min, max float64
	seen     bool
}

func (b *bounds) observe(v float64) {
	if !b.seen {
		b.min, b.max, b.seen = v, v, true
		return
	}
	if v < b.min {
		b.min = v
	}
	if v > b.max {
		b.max = v
	}
}

// standing maps v into [0,1] where min→0 and max→1.
func (b bounds) standing(v float64) float64 {
	if !b.seen || b.max == b.min {
		return Neutral
	}
	return (v - b.min) / (b.max - b.min)
}

type pairKey struct {
	site     models.Site
	category models.Category
}

// Score scores one run's full harvest. Prices and reviews are normalized per
// category, positions per (site, category). Output order matches input order.
func Score(batch []models.SiteListing) []models.ScoredListing {
	prices := make(map[models.Category]*bounds)
	reviews := make(map[models.Category]*bounds)
	positions := make(map[pairKey]*bounds)

	for _, l := range batch {
		boundsFor(prices, l.Category).observe(l.Price)
		boundsFor(reviews, l.Category).observe(float64(l.ReviewCount))
		if l.Position != nil {
			boundsFor(positions, pairKey{l.Site, l.Category}).observe(float64(*l.Position))
		}
	}

	out := make([]models.ScoredListing, 0, len(batch))
	for _, l := range batch {
		priceBounds := *prices[l.Category]

		// Cheaper relative to peers scores higher. standing is symmetric
		// around Neutral, so inverting keeps degenerate ranges neutral.
		priceScore := 1 - priceBounds.standing(l.Price)

		// Earlier position scores higher.
		positionScore := Neutral
		if l.Position != nil {
			positionScore = 1 - positions[pairKey{l.Site, l.Category}].standing(float64(*l.Position))
		}

		reviewScore := reviews[l.Category].standing(float64(l.ReviewCount))

		out = append(out, models.ScoredListing{
			SiteListing: l,
			TrendScore:  Combine(priceScore, positionScore, reviewScore),
			Components: models.ScoreComponents{
				PriceScore:    priceScore,
				PositionScore: positionScore,
				ReviewScore:   reviewScore,
				Weights:       Weights(),
				MinPrice:      priceBounds.min,
				MaxPrice:      priceBounds.max,
			},
		})
	}
	return out
}

// Combine applies the fixed weights to the three sub-scores.
func Combine(priceScore, positionScore, reviewScore float64) float64 {
	return priceScore*PriceWeight + positionScore*PositionWeight + reviewScore*ReviewWeight
}

func boundsFor[K comparable](m map[K]*bounds, k K) *bounds {
	b, ok := m[k]
	if !ok {
		b = &bounds{}
		m[k] = b
	}
	return b
}
