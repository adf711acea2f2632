package models

import "time"

// ReportFilter selects listings collected at or after Since.
type ReportFilter struct {
	Since    time.Time
	Category *Category
}

type HeatMapCell struct {
	Category      Category `json:"category" db:"category"`
	Site          Site     `json:"site" db:"site"`
	AvgTrendScore float64  `json:"avg_trend_score" db:"avg_trend_score"`
	Count         int      `json:"count" db:"count"`
}

type Report struct {
	Trending          []CompetitorListing `json:"trending"`
	HeatMap           []HeatMapCell       `json:"heatMap"`
	RecentRuns        []SyncRun           `json:"recentRuns"`
	LastSyncTimestamp *time.Time          `json:"lastSyncTimestamp"`
}
