package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"market_intel/models"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL CHECK (status IN ('running', 'success', 'error')),
		site TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		total_products INTEGER,
		error_message TEXT
	);

	CREATE TABLE IF NOT EXISTS competitor_listings (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES sync_runs(id),
		site TEXT NOT NULL,
		category TEXT NOT NULL,
		product_name TEXT NOT NULL,
		price REAL NOT NULL CHECK (price > 0),
		review_count INTEGER NOT NULL DEFAULT 0 CHECK (review_count >= 0),
		review_source TEXT NOT NULL DEFAULT 'none',
		position INTEGER,
		trend_score REAL NOT NULL,
		score_components JSON NOT NULL,
		product_url TEXT,
		image_url TEXT,
		collected_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_listings_collected ON competitor_listings(collected_at);
	CREATE INDEX IF NOT EXISTS idx_listings_category ON competitor_listings(category, collected_at);
	CREATE INDEX IF NOT EXISTS idx_listings_run ON competitor_listings(run_id);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON sync_runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON sync_runs(status, finished_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// Sync runs
// =============================================================================

func (s *SQLiteStore) CreateSyncRun(ctx context.Context, run *models.SyncRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (id, status, site, started_at)
		VALUES (?, ?, ?, ?)`,
		run.ID.String(), run.Status, nullSite(run.Site), run.StartedAt.UTC(),
	)
	return err
}

func (s *SQLiteStore) CompleteSyncRun(ctx context.Context, id uuid.UUID, finishedAt time.Time, totalProducts int) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sync_runs SET status = ?, finished_at = ?, total_products = ?
		WHERE id = ? AND status = ?`,
		models.RunStatusSuccess, finishedAt.UTC(), totalProducts, id.String(), models.RunStatusRunning,
	)
	return expectOneRow(result, err)
}

func (s *SQLiteStore) FailSyncRun(ctx context.Context, id uuid.UUID, finishedAt time.Time, message string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sync_runs SET status = ?, finished_at = ?, error_message = ?
		WHERE id = ? AND status = ?`,
		models.RunStatusError, finishedAt.UTC(), message, id.String(), models.RunStatusRunning,
	)
	return expectOneRow(result, err)
}

func (s *SQLiteStore) ExpireStaleRuns(ctx context.Context, cutoff, finishedAt time.Time, message string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sync_runs SET status = ?, finished_at = ?, error_message = ?
		WHERE status = ? AND started_at < ?`,
		models.RunStatusError, finishedAt.UTC(), message, models.RunStatusRunning, cutoff.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *SQLiteStore) GetSyncRun(ctx context.Context, id uuid.UUID) (*models.SyncRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, site, started_at, finished_at, total_products, error_message
		FROM sync_runs WHERE id = ?`, id.String())

	run, err := scanSQLiteRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func (s *SQLiteStore) RecentSyncRuns(ctx context.Context, limit int) ([]models.SyncRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, site, started_at, finished_at, total_products, error_message
		FROM sync_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []models.SyncRun{}
	for rows.Next() {
		run, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) LastSuccessfulSync(ctx context.Context) (*time.Time, error) {
	var finished sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT finished_at FROM sync_runs
		WHERE status = ? AND finished_at IS NOT NULL
		ORDER BY finished_at DESC LIMIT 1`, models.RunStatusSuccess).Scan(&finished)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !finished.Valid {
		return nil, nil
	}
	t := finished.Time.UTC()
	return &t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(row rowScanner) (*models.SyncRun, error) {
	var run models.SyncRun
	var id string
	var site, errMsg sql.NullString
	var finished sql.NullTime
	var total sql.NullInt64

	if err := row.Scan(&id, &run.Status, &site, &run.StartedAt, &finished, &total, &errMsg); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("run id %q: %w", id, err)
	}
	run.ID = parsed
	run.StartedAt = run.StartedAt.UTC()
	if site.Valid {
		s := models.Site(site.String)
		run.Site = &s
	}
	if finished.Valid {
		t := finished.Time.UTC()
		run.FinishedAt = &t
	}
	if total.Valid {
		n := int(total.Int64)
		run.TotalProducts = &n
	}
	if errMsg.Valid {
		run.ErrorMessage = &errMsg.String
	}
	return &run, nil
}

// =============================================================================
// Listings
// =============================================================================

func (s *SQLiteStore) InsertListings(ctx context.Context, listings []models.CompetitorListing) error {
	if len(listings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO competitor_listings (
			id, run_id, site, category, product_name, price, review_count, review_source,
			position, trend_score, score_components, product_url, image_url, collected_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, l := range listings {
		components, err := json.Marshal(l.ScoreComponents)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			l.ID.String(), l.RunID.String(), l.Site, l.Category, l.ProductName, l.Price,
			l.ReviewCount, l.ReviewSource, nullInt(l.Position), l.TrendScore, string(components),
			nullString(l.ProductURL), nullString(l.ImageURL), l.CollectedAt.UTC(),
		); err != nil {
			return fmt.Errorf("insert listing %q: %w", l.ProductName, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) TrendingListings(ctx context.Context, filter models.ReportFilter, limit int) ([]models.CompetitorListing, error) {
	where, args := sqliteFilter(filter)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, site, category, product_name, price, review_count, review_source,
			position, trend_score, score_components, product_url, image_url, collected_at
		FROM competitor_listings`+where+`
		ORDER BY trend_score DESC, collected_at DESC, id
		LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	listings := []models.CompetitorListing{}
	for rows.Next() {
		var l models.CompetitorListing
		var id, runID, components string
		var position sql.NullInt64
		var productURL, imageURL sql.NullString

		if err := rows.Scan(
			&id, &runID, &l.Site, &l.Category, &l.ProductName, &l.Price, &l.ReviewCount, &l.ReviewSource,
			&position, &l.TrendScore, &components, &productURL, &imageURL, &l.CollectedAt,
		); err != nil {
			return nil, err
		}

		if l.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if l.RunID, err = uuid.Parse(runID); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(components), &l.ScoreComponents); err != nil {
			return nil, fmt.Errorf("score components for %s: %w", id, err)
		}
		if position.Valid {
			p := int(position.Int64)
			l.Position = &p
		}
		l.ProductURL = productURL.String
		l.ImageURL = imageURL.String
		l.CollectedAt = l.CollectedAt.UTC()

		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func (s *SQLiteStore) HeatMap(ctx context.Context, filter models.ReportFilter) ([]models.HeatMapCell, error) {
	where, args := sqliteFilter(filter)

	rows, err := s.db.QueryContext(ctx, `
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
		if err := rows.Scan(&c.Category, &c.Site, &c.AvgTrendScore, &c.Count); err != nil {
			return nil, err
		}
		cells = append(cells, c)
	}
	return cells, rows.Err()
}

func sqliteFilter(filter models.ReportFilter) (string, []any) {
	var conds []string
	var args []any

	conds = append(conds, "collected_at >= ?")
	args = append(args, filter.Since.UTC())

	if filter.Category != nil {
		conds = append(conds, "category = ?")
		args = append(args, *filter.Category)
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// =============================================================================
// Helpers
// =============================================================================

func expectOneRow(result sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRunNotRunning
	}
	return nil
}

func nullSite(site *models.Site) sql.NullString {
	if site == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*site), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}
