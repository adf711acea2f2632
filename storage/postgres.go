package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"market_intel/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Migrate creates the tables if they do not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_runs (
		id UUID PRIMARY KEY,
		status TEXT NOT NULL CHECK (status IN ('running', 'success', 'error')),
		site TEXT,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		total_products INTEGER,
		error_message TEXT,
		CHECK (finished_at IS NULL OR finished_at >= started_at)
	);

	CREATE TABLE IF NOT EXISTS competitor_listings (
		id UUID PRIMARY KEY,
		run_id UUID NOT NULL REFERENCES sync_runs(id),
		site TEXT NOT NULL,
		category TEXT NOT NULL,
		product_name TEXT NOT NULL,
		price DOUBLE PRECISION NOT NULL CHECK (price > 0),
		review_count INTEGER NOT NULL DEFAULT 0 CHECK (review_count >= 0),
		review_source TEXT NOT NULL DEFAULT 'none',
		position INTEGER,
		trend_score DOUBLE PRECISION NOT NULL,
		score_components JSONB NOT NULL,
		product_url TEXT,
		image_url TEXT,
		collected_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_listings_collected ON competitor_listings(collected_at);
	CREATE INDEX IF NOT EXISTS idx_listings_category ON competitor_listings(category, collected_at);
	CREATE INDEX IF NOT EXISTS idx_listings_run ON competitor_listings(run_id);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON sync_runs(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON sync_runs(status, finished_at DESC);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// =============================================================================
// Sync runs
// =============================================================================

func (s *PostgresStore) CreateSyncRun(ctx context.Context, run *models.SyncRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_runs (id, status, site, started_at)
		VALUES ($1, $2, $3, $4)`,
		run.ID, string(run.Status), siteParam(run.Site), run.StartedAt,
	)
	return err
}

func (s *PostgresStore) CompleteSyncRun(ctx context.Context, id uuid.UUID, finishedAt time.Time, totalProducts int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_runs SET status = 'success', finished_at = $2, total_products = $3
		WHERE id = $1 AND status = 'running'`,
		id, finishedAt, totalProducts,
	)
	return expectOneTag(tag, err)
}

func (s *PostgresStore) FailSyncRun(ctx context.Context, id uuid.UUID, finishedAt time.Time, message string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_runs SET status = 'error', finished_at = $2, error_message = $3
		WHERE id = $1 AND status = 'running'`,
		id, finishedAt, message,
	)
	return expectOneTag(tag, err)
}

func (s *PostgresStore) ExpireStaleRuns(ctx context.Context, cutoff, finishedAt time.Time, message string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_runs SET status = 'error', finished_at = GREATEST($2, started_at), error_message = $3
		WHERE status = 'running' AND started_at < $1`,
		cutoff, finishedAt, message,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) GetSyncRun(ctx context.Context, id uuid.UUID) (*models.SyncRun, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, status, site, started_at, finished_at, total_products, error_message
		FROM sync_runs WHERE id = $1`, id)

	run, err := scanPostgresRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

func (s *PostgresStore) RecentSyncRuns(ctx context.Context, limit int) ([]models.SyncRun, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, status, site, started_at, finished_at, total_products, error_message
		FROM sync_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []models.SyncRun{}
	for rows.Next() {
		run, err := scanPostgresRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (s *PostgresStore) LastSuccessfulSync(ctx context.Context) (*time.Time, error) {
	var finished *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT finished_at FROM sync_runs
		WHERE status = 'success' AND finished_at IS NOT NULL
		ORDER BY finished_at DESC LIMIT 1`).Scan(&finished)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if finished != nil {
		t := finished.UTC()
		finished = &t
	}
	return finished, nil
}

func scanPostgresRun(row pgx.Row) (*models.SyncRun, error) {
	var run models.SyncRun
	var status string
	var site *string
	var total *int32

	if err := row.Scan(&run.ID, &status, &site, &run.StartedAt, &run.FinishedAt, &total, &run.ErrorMessage); err != nil {
		return nil, err
	}

	run.Status = models.RunStatus(status)
	run.StartedAt = run.StartedAt.UTC()
	if site != nil {
		s := models.Site(*site)
		run.Site = &s
	}
	if run.FinishedAt != nil {
		t := run.FinishedAt.UTC()
		run.FinishedAt = &t
	}
	if total != nil {
		n := int(*total)
		run.TotalProducts = &n
	}
	return &run, nil
}

// =============================================================================
// Listings
// =============================================================================

func (s *PostgresStore) InsertListings(ctx context.Context, listings []models.CompetitorListing) error {
	if len(listings) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	b := &pgx.Batch{}
	for _, l := range listings {
		components, err := json.Marshal(l.ScoreComponents)
		if err != nil {
			return err
		}
		b.Queue(`
			INSERT INTO competitor_listings (
				id, run_id, site, category, product_name, price, review_count, review_source,
				position, trend_score, score_components, product_url, image_url, collected_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
			l.ID, l.RunID, string(l.Site), string(l.Category), l.ProductName, l.Price,
			l.ReviewCount, string(l.ReviewSource), l.Position, l.TrendScore, components,
			textParam(l.ProductURL), textParam(l.ImageURL), l.CollectedAt,
		)
	}

	br := tx.SendBatch(ctx, b)
	for k := 0; k < b.Len(); k++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert listing %d: %w", k, err)
		}
	}
	if err := br.Close(); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) TrendingListings(ctx context.Context, filter models.ReportFilter, limit int) ([]models.CompetitorListing, error) {
	where, args := postgresFilter(filter)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, site, category, product_name, price, review_count, review_source,
			position, trend_score, score_components, product_url, image_url, collected_at
		FROM competitor_listings`+where+fmt.Sprintf(`
		ORDER BY trend_score DESC, collected_at DESC, id
		LIMIT $%d`, len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	listings := []models.CompetitorListing{}
	for rows.Next() {
		var l models.CompetitorListing
		var site, category, source string
		var position *int32
		var components []byte
		var productURL, imageURL *string

		if err := rows.Scan(
			&l.ID, &l.RunID, &site, &category, &l.ProductName, &l.Price, &l.ReviewCount, &source,
			&position, &l.TrendScore, &components, &productURL, &imageURL, &l.CollectedAt,
		); err != nil {
			return nil, err
		}

		l.Site = models.Site(site)
		l.Category = models.Category(category)
		l.ReviewSource = models.ReviewSource(source)
		if err := json.Unmarshal(components, &l.ScoreComponents); err != nil {
			return nil, fmt.Errorf("score components for %s: %w", l.ID, err)
		}
		if position != nil {
			p := int(*position)
			l.Position = &p
		}
		if productURL != nil {
			l.ProductURL = *productURL
		}
		if imageURL != nil {
			l.ImageURL = *imageURL
		}
		l.CollectedAt = l.CollectedAt.UTC()

		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func (s *PostgresStore) HeatMap(ctx context.Context, filter models.ReportFilter) ([]models.HeatMapCell, error) {
	where, args := postgresFilter(filter)

	rows, err := s.pool.Query(ctx, `
		SELECT category, site, AVG(trend_score), COUNT(*)
		FROM competitor_listings`+where+`
		GROUP BY category, site
		ORDER BY category, site`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cells := []models.HeatMapCell{}
	for rows.Next() {
		var c models.HeatMapCell
		var category, site string
		var count int64
		if err := rows.Scan(&category, &site, &c.AvgTrendScore, &count); err != nil {
			return nil, err
		}
		c.Category = models.Category(category)
		c.Site = models.Site(site)
		c.Count = int(count)
		cells = append(cells, c)
	}
	return cells, rows.Err()
}

func postgresFilter(filter models.ReportFilter) (string, []any) {
	conds := []string{"collected_at >= $1"}
	args := []any{filter.Since}

	if filter.Category != nil {
		args = append(args, string(*filter.Category))
		conds = append(conds, fmt.Sprintf("category = $%d", len(args)))
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func expectOneTag(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotRunning
	}
	return nil
}

func siteParam(site *models.Site) *string {
	if site == nil {
		return nil
	}
	s := string(*site)
	return &s
}

func textParam(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
