package scraper

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"market_intel/httputil"
	"market_intel/models"
)

const maxPageBytes = 5 << 20

// PageArchiver stores raw listing HTML for later inspection.
type PageArchiver interface {
	Archive(ctx context.Context, site models.Site, category models.Category, body []byte) error
}

// Fetcher issues listing page requests on behalf of every adapter.
type Fetcher struct {
	client    *http.Client
	userAgent string
	archiver  PageArchiver
	metrics   *Metrics
	logger    *zap.Logger
}

func NewFetcher(client *http.Client, userAgent string, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		client:    client,
		userAgent: userAgent,
		logger:    logger,
	}
}

func (f *Fetcher) SetArchiver(a PageArchiver) {
	f.archiver = a
}

func (f *Fetcher) SetMetrics(m *Metrics) {
	f.metrics = m
}

// Document fetches pageURL and parses it. Failures come back classified.
func (f *Fetcher) Document(ctx context.Context, site models.Site, category models.Category, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	httputil.SetBrowserHeaders(req, f.userAgent)

	start := time.Now()
	resp, err := f.client.Do(req)
	f.metrics.ObserveDuration(site, time.Since(start))
	if err != nil {
		f.metrics.IncRequest(site, "error")
		return nil, classifyError(err, 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		f.metrics.IncRequest(site, "error")
		return nil, classifyError(nil, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		f.metrics.IncRequest(site, "error")
		return nil, classifyError(err, 0)
	}
	f.metrics.IncRequest(site, "ok")

	if f.archiver != nil {
		if err := f.archiver.Archive(ctx, site, category, body); err != nil {
			f.logger.Warn("archive page failed",
				zap.String("site", string(site)),
				zap.String("category", string(category)),
				zap.Error(err),
			)
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, ErrParse{Err: err}
	}
	doc.Url = req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		doc.Url = resp.Request.URL
	}
	return doc, nil
}
