package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"market_intel/models"
)

var (
	ErrUnknownSite     = errors.New("unknown site")
	ErrUnknownCategory = errors.New("unknown category")
)

type Config struct {
	Database  DatabaseConfig
	Scheduler SchedulerConfig
	Scraper   ScraperConfig
	Archive   ArchiveConfig
	HTTPAddr  string
	LogLevel  string
	LogFile   string
	SitesDir  string
	Sites     map[models.Site]*SiteConfig
}

type DatabaseConfig struct {
	URL    string // Postgres; empty selects SQLite
	DBPath string
}

type SchedulerConfig struct {
	Interval      time.Duration
	Cron          string
	// StaleRunAfter enables the orphaned-run sweep when positive.
	StaleRunAfter time.Duration
}

type ScraperConfig struct {
	DelayMS     int
	SiteDelayMS int
	Timeout     time.Duration
	UserAgent   string
	ProxyURL    string
}

// ArchiveConfig holds S3-compatible settings for raw page archiving.
type ArchiveConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

// SiteConfig is one competitor's listing table, loaded from config/sites/*.yaml.
type SiteConfig struct {
	ID                models.Site                `yaml:"id"`
	Name              string                     `yaml:"name"`
	BaseURL           string                     `yaml:"base_url"`
	RateLimitMS       int                        `yaml:"rate_limit_ms"`
	DetailsLabels     []string                   `yaml:"details_labels"`
	ProductPathPrefix string                     `yaml:"product_path_prefix"`
	Categories        map[models.Category]string `yaml:"categories"`
}

// CategoryURL returns the listing URL for category, or "" when the site does
// not carry it.
func (s *SiteConfig) CategoryURL(category models.Category) string {
	path, ok := s.Categories[category]
	if !ok || path == "" {
		return ""
	}
	return s.BaseURL + path
}

func (s *SiteConfig) Validate() error {
	if !s.ID.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownSite, s.ID)
	}
	if s.BaseURL == "" {
		return fmt.Errorf("site %s: base_url is required", s.ID)
	}
	for category := range s.Categories {
		if !category.Valid() {
			return fmt.Errorf("site %s: %w: %q", s.ID, ErrUnknownCategory, category)
		}
	}
	return nil
}

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			URL:    os.Getenv("DATABASE_URL"),
			DBPath: getEnv("DB_PATH", "market_intel.db"),
		},
		Scheduler: SchedulerConfig{
			Cron:          os.Getenv("SCRAPE_CRON"),
			Interval:      getEnvDuration("SCRAPE_INTERVAL", 0),
			StaleRunAfter: getEnvDuration("STALE_RUN_AFTER", 0),
		},
		Scraper: ScraperConfig{
			DelayMS:     getEnvInt("SCRAPE_DELAY_MS", 1500),
			SiteDelayMS: getEnvInt("SITE_DELAY_MS", 5000),
			Timeout:     getEnvDuration("SCRAPE_TIMEOUT", 15*time.Second),
			UserAgent:   getEnv("SCRAPE_USER_AGENT", DefaultUserAgent),
			ProxyURL:    os.Getenv("PROXY_URL"),
		},
		Archive: ArchiveConfig{
			Bucket:          os.Getenv("ARCHIVE_S3_BUCKET"),
			Region:          getEnv("ARCHIVE_S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("ARCHIVE_S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("ARCHIVE_S3_ACCESS_KEY"),
			SecretAccessKey: os.Getenv("ARCHIVE_S3_SECRET_KEY"),
		},
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", "market_intel.log"),
		SitesDir: getEnv("SITES_DIR", filepath.Join("config", "sites")),
		Sites:    make(map[models.Site]*SiteConfig),
	}

	if err := cfg.loadSiteConfigs(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadSiteConfigs() error {
	entries, err := os.ReadDir(c.SitesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(c.SitesDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var site SiteConfig
		if err := yaml.Unmarshal(data, &site); err != nil {
			return fmt.Errorf("%s: %w", entry.Name(), err)
		}
		if err := site.Validate(); err != nil {
			return fmt.Errorf("%s: %w", entry.Name(), err)
		}

		c.Sites[site.ID] = &site
	}

	return nil
}

// SiteIDs returns configured sites in the canonical crawl order.
func (c *Config) SiteIDs() []models.Site {
	var ids []models.Site
	for _, site := range models.KnownSites() {
		if _, ok := c.Sites[site]; ok {
			ids = append(ids, site)
		}
	}
	return ids
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
