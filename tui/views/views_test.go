package views

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market_intel/models"
)

type fakeSource struct {
	report    *models.Report
	err       error
	rangeDays int
	category  string
}

func (f *fakeSource) Build(_ context.Context, rangeDays int, category string) (*models.Report, error) {
	f.rangeDays = rangeDays
	f.category = category
	return f.report, f.err
}

func sampleReport() *models.Report {
	pos := 1
	finished := time.Now().Add(-2 * time.Hour)
	total := 2
	return &models.Report{
		Trending: []models.CompetitorListing{{
			ID:           uuid.New(),
			Site:         models.SiteGrocerMart,
			Category:     models.CategoryRice,
			ProductName:  "Jasmine Rice 5kg",
			Price:        1289.5,
			ReviewCount:  128,
			ReviewSource: models.ReviewSourceReviews,
			Position:     &pos,
			TrendScore:   0.912,
			ProductURL:   "https://grocermart.ph/p/jasmine-5kg",
			CollectedAt:  finished,
		}},
		HeatMap: []models.HeatMapCell{
			{Category: models.CategoryRice, Site: models.SiteGrocerMart, AvgTrendScore: 0.55, Count: 2},
		},
		RecentRuns: []models.SyncRun{{
			ID:            uuid.New(),
			Status:        models.RunStatusSuccess,
			StartedAt:     finished.Add(-time.Minute),
			FinishedAt:    &finished,
			TotalProducts: &total,
		}},
		LastSyncTimestamp: &finished,
	}
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestDashboard_RendersReport(t *testing.T) {
	src := &fakeSource{report: sampleReport()}
	d := NewDashboard(src, "").SetSize(140, 40)

	msg := d.Refresh()()
	next, _ := d.Update(msg)
	d = next.(Dashboard)

	out := d.View()
	assert.Contains(t, out, "Heat Map")
	assert.Contains(t, out, "0.55")
	assert.Contains(t, out, "2h ago")
	assert.Contains(t, out, "success")
	assert.Equal(t, 7, src.rangeDays)
}

func TestDashboard_RangeKeysRefetch(t *testing.T) {
	src := &fakeSource{report: sampleReport()}
	d := NewDashboard(src, "")

	next, cmd := d.Update(key("]"))
	d = next.(Dashboard)
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, 14, src.rangeDays)

	next, cmd = d.Update(key("["))
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, 7, src.rangeDays)
	assert.Equal(t, 7, next.(Dashboard).rangeDays)
}

func TestDashboard_Error(t *testing.T) {
	d := NewDashboard(&fakeSource{err: errors.New("no such table")}, "")
	next, _ := d.Update(d.Refresh()())
	assert.Contains(t, next.(Dashboard).View(), "no such table")
}

func TestTrending_CategoryCycle(t *testing.T) {
	src := &fakeSource{report: sampleReport()}
	tr := NewTrending(src).SetSize(160, 40)

	next, _ := tr.Update(tr.Refresh()())
	tr = next.(Trending)
	assert.Equal(t, "", src.category)

	out := tr.View()
	assert.Contains(t, out, "Jasmine Rice 5kg")
	assert.Contains(t, out, "₱1,289.50")
	assert.Equal(t, "https://grocermart.ph/p/jasmine-5kg", tr.SelectedURL())

	next, cmd := tr.Update(key("c"))
	tr = next.(Trending)
	cmd()
	assert.Equal(t, string(models.CategoryRice), src.category)
	assert.Equal(t, "rice", tr.Category())
}

func TestStyleLogLine(t *testing.T) {
	line := `{"level":"warn","ts":"2026-03-10T08:00:00.000Z","logger":"crawler","msg":"crawl pair failed","error":"timeout"}`
	out := styleLogLine(line, 200)
	assert.Contains(t, out, "WARN")
	assert.Contains(t, out, "crawler: crawl pair failed (timeout)")

	assert.Equal(t, "plain text", styleLogLine("plain text", 200))
}

func TestFormatPeso(t *testing.T) {
	assert.Equal(t, "₱95.00", formatPeso(95))
	assert.Equal(t, "₱1,049.50", formatPeso(1049.5))
	assert.Equal(t, "₱250,000.75", formatPeso(250000.75))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab…", truncate("abcdef", 3))
	assert.Equal(t, "", truncate("abc", 0))
}
