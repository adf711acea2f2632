package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market_intel/models"
)

func writeSite(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoadSiteConfigs(t *testing.T) {
	dir := t.TempDir()
	writeSite(t, dir, "grocermart.yaml", `
id: grocermart
name: GrocerMart
base_url: https://grocer.test
rate_limit_ms: 900
details_labels: ["View details"]
categories:
  rice: /c/rice
  cooking_oil: /c/oil
`)
	writeSite(t, dir, "notes.txt", "ignored")

	cfg := &Config{SitesDir: dir, Sites: make(map[models.Site]*SiteConfig)}
	require.NoError(t, cfg.loadSiteConfigs())

	site, ok := cfg.Sites[models.SiteGrocerMart]
	require.True(t, ok)
	assert.Equal(t, "GrocerMart", site.Name)
	assert.Equal(t, 900, site.RateLimitMS)
	assert.Equal(t, []string{"View details"}, site.DetailsLabels)
	assert.Equal(t, "https://grocer.test/c/rice", site.CategoryURL(models.CategoryRice))
	assert.Empty(t, site.CategoryURL(models.CategorySkincare))
	assert.Equal(t, []models.Site{models.SiteGrocerMart}, cfg.SiteIDs())
}

func TestLoadSiteConfigs_RejectsUnknownCategory(t *testing.T) {
	dir := t.TempDir()
	writeSite(t, dir, "pharmaplus.yaml", `
id: pharmaplus
base_url: https://pharma.test
categories:
  lawnmowers: /c/mowers
`)

	cfg := &Config{SitesDir: dir, Sites: make(map[models.Site]*SiteConfig)}
	err := cfg.loadSiteConfigs()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownCategory)
}

func TestLoadSiteConfigs_RejectsUnknownSite(t *testing.T) {
	dir := t.TempDir()
	writeSite(t, dir, "mystery.yaml", `
id: mysterymart
base_url: https://mystery.test
`)

	cfg := &Config{SitesDir: dir, Sites: make(map[models.Site]*SiteConfig)}
	assert.ErrorIs(t, cfg.loadSiteConfigs(), ErrUnknownSite)
}

func TestLoadSiteConfigs_MissingDirIsEmpty(t *testing.T) {
	cfg := &Config{SitesDir: filepath.Join(t.TempDir(), "nope"), Sites: make(map[models.Site]*SiteConfig)}
	require.NoError(t, cfg.loadSiteConfigs())
	assert.Empty(t, cfg.Sites)
}

func TestLoad_EnvDefaultsAndOverrides(t *testing.T) {
	t.Setenv("SITES_DIR", t.TempDir())
	t.Setenv("SCRAPE_DELAY_MS", "250")
	t.Setenv("SCRAPE_TIMEOUT", "5s")
	t.Setenv("STALE_RUN_AFTER", "6h")
	t.Setenv("SITE_DELAY_MS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.Scraper.DelayMS)
	assert.Equal(t, 5000, cfg.Scraper.SiteDelayMS)
	assert.Equal(t, 5*time.Second, cfg.Scraper.Timeout)
	assert.Equal(t, 6*time.Hour, cfg.Scheduler.StaleRunAfter)
	assert.Equal(t, DefaultUserAgent, cfg.Scraper.UserAgent)
	assert.False(t, cfg.Archive.Enabled())
}

func TestShippedSiteTablesAreValid(t *testing.T) {
	cfg := &Config{SitesDir: "sites", Sites: make(map[models.Site]*SiteConfig)}
	require.NoError(t, cfg.loadSiteConfigs())
	assert.Equal(t, models.KnownSites(), cfg.SiteIDs())
}
