package models

import (
	"time"

	"github.com/google/uuid"
)

type Site string

const (
	SiteGrocerMart Site = "grocermart"
	SitePharmaPlus Site = "pharmaplus"
	SiteBeautyHub  Site = "beautyhub"
)

// KnownSites lists every competitor site in crawl order.
func KnownSites() []Site {
	return []Site{SiteGrocerMart, SitePharmaPlus, SiteBeautyHub}
}

func (s Site) Valid() bool {
	for _, known := range KnownSites() {
		if s == known {
			return true
		}
	}
	return false
}

// Category is one of the tracked competitor product categories. It is a fixed
// catalog and is unrelated to the storefront's own taxonomy.
type Category string

const (
	CategoryRice           Category = "rice"
	CategoryCookingOil     Category = "cooking_oil"
	CategoryInstantNoodles Category = "instant_noodles"
	CategoryVitamins       Category = "vitamins"
	CategoryPainRelief     Category = "pain_relief"
	CategoryBabyCare       Category = "baby_care"
	CategorySkincare       Category = "skincare"
)

func KnownCategories() []Category {
	return []Category{
		CategoryRice,
		CategoryCookingOil,
		CategoryInstantNoodles,
		CategoryVitamins,
		CategoryPainRelief,
		CategoryBabyCare,
		CategorySkincare,
	}
}

func (c Category) Valid() bool {
	for _, known := range KnownCategories() {
		if c == known {
			return true
		}
	}
	return false
}

// ReviewSource records where ReviewCount came from.
type ReviewSource string

const (
	ReviewSourceReviews ReviewSource = "reviews"
	// ReviewSourceRatingProxy marks a popularity number derived from a star
	// rating. It is not a true review count.
	ReviewSourceRatingProxy ReviewSource = "rating_proxy"
	ReviewSourceNone        ReviewSource = "none"
)

// RawListing is a single product as extracted from one listing page.
type RawListing struct {
	ProductName  string       `json:"product_name"`
	Price        float64      `json:"price"`
	ReviewCount  int          `json:"review_count"`
	ReviewSource ReviewSource `json:"review_source"`
	Position     *int         `json:"position,omitempty"`
	ProductURL   string       `json:"product_url,omitempty"`
	ImageURL     string       `json:"image_url,omitempty"`
}

// SiteListing is a RawListing tagged with the pair it was crawled from.
type SiteListing struct {
	Site     Site     `json:"site"`
	Category Category `json:"category"`
	RawListing
}

type ScoreWeights struct {
	Price    float64 `json:"price"`
	Position float64 `json:"position"`
	Review   float64 `json:"review"`
}

// ScoreComponents is the auditable breakdown behind a trend score.
type ScoreComponents struct {
	PriceScore    float64      `json:"price_score"`
	PositionScore float64      `json:"position_score"`
	ReviewScore   float64      `json:"review_score"`
	Weights       ScoreWeights `json:"weights"`
	MinPrice      float64      `json:"min_price"`
	MaxPrice      float64      `json:"max_price"`
}

type ScoredListing struct {
	SiteListing
	TrendScore float64         `json:"trend_score"`
	Components ScoreComponents `json:"score_components"`
}

// CompetitorListing is one persisted observation. Rows are append-only.
type CompetitorListing struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	RunID           uuid.UUID       `json:"run_id" db:"run_id"`
	Site            Site            `json:"site" db:"site"`
	Category        Category        `json:"category" db:"category"`
	ProductName     string          `json:"product_name" db:"product_name"`
	Price           float64         `json:"price" db:"price"`
	ReviewCount     int             `json:"review_count" db:"review_count"`
	ReviewSource    ReviewSource    `json:"review_source" db:"review_source"`
	Position        *int            `json:"position" db:"position"`
	TrendScore      float64         `json:"trend_score" db:"trend_score"`
	ScoreComponents ScoreComponents `json:"score_components" db:"score_components"`
	ProductURL      string          `json:"product_url,omitempty" db:"product_url"`
	ImageURL        string          `json:"image_url,omitempty" db:"image_url"`
	CollectedAt     time.Time       `json:"collected_at" db:"collected_at"`
}

// NewCompetitorListing stamps a scored listing with its run provenance.
func NewCompetitorListing(runID uuid.UUID, collectedAt time.Time, s ScoredListing) CompetitorListing {
	return CompetitorListing{
		ID:              uuid.New(),
		RunID:           runID,
		Site:            s.Site,
		Category:        s.Category,
		ProductName:     s.ProductName,
		Price:           s.Price,
		ReviewCount:     s.ReviewCount,
		ReviewSource:    s.ReviewSource,
		Position:        s.Position,
		TrendScore:      s.TrendScore,
		ScoreComponents: s.Components,
		ProductURL:      s.ProductURL,
		ImageURL:        s.ImageURL,
		CollectedAt:     collectedAt,
	}
}
