// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

const reportColumns = `
	id, fingerprint, source, rule_set_version, created_at, duration_ms,
	total_records, claim_count, flagged_count, flag_rate, max_score,
	rule_counts, histogram, thresholds, top_claims
`

// SaveReport stores a run report. Saving an existing id replaces it.
func (r *SQLRepository) SaveReport(ctx context.Context, report *domain.Report) error {
	if report == nil || report.ID == "" {
		return fmt.Errorf("%w: report id is required", ErrInvalidInput)
	}

	ruleCounts, err := json.Marshal(report.RuleCounts)
	if err != nil {
		return fmt.Errorf("failed to encode rule counts: %w", err)
	}
	histogram, err := json.Marshal(report.Histogram)
	if err != nil {
		return fmt.Errorf("failed to encode histogram: %w", err)
	}
	thresholds, err := json.Marshal(report.Thresholds)
	if err != nil {
		return fmt.Errorf("failed to encode thresholds: %w", err)
	}
	top, err := json.Marshal(report.Top)
	if err != nil {
		return fmt.Errorf("failed to encode top claims: %w", err)
	}

	var flagRate sql.NullFloat64
	if report.FlagRate != nil {
		flagRate = sql.NullFloat64{Float64: *report.FlagRate, Valid: true}
	}

	query := `
		INSERT INTO reports (` + reportColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			source = excluded.source,
			rule_set_version = excluded.rule_set_version,
			created_at = excluded.created_at,
			duration_ms = excluded.duration_ms,
			total_records = excluded.total_records,
			claim_count = excluded.claim_count,
			flagged_count = excluded.flagged_count,
			flag_rate = excluded.flag_rate,
			max_score = excluded.max_score,
			rule_counts = excluded.rule_counts,
			histogram = excluded.histogram,
			thresholds = excluded.thresholds,
			top_claims = excluded.top_claims
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		report.ID, report.Fingerprint, report.Source, report.RuleSetVersion,
		report.CreatedAt.UTC(), report.DurationMs,
		report.TotalRecords, report.ClaimCount, report.FlaggedCount,
		flagRate, report.MaxScore,
		string(ruleCounts), string(histogram), string(thresholds), string(top),
	)
	return err
}

// GetReport retrieves a report by run id.
func (r *SQLRepository) GetReport(ctx context.Context, id string) (*domain.Report, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: report id is required", ErrInvalidInput)
	}

	query := `SELECT ` + reportColumns + ` FROM reports WHERE id = ?`

	report, err := scanReport(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return report, nil
}

// ListReports returns up to limit reports, newest first. limit <= 0 means 50.
func (r *SQLRepository) ListReports(ctx context.Context, limit int) ([]*domain.Report, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + reportColumns + ` FROM reports ORDER BY created_at DESC, id LIMIT ?`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reports := make([]*domain.Report, 0)
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}

	return reports, rows.Err()
}

// DeleteReport removes a report.
func (r *SQLRepository) DeleteReport(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: report id is required", ErrInvalidInput)
	}

	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM reports WHERE id = ?`), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*domain.Report, error) {
	var (
		report                                     domain.Report
		flagRate                                   sql.NullFloat64
		ruleCounts, histogram, thresholds, topJSON string
	)

	if err := row.Scan(
		&report.ID, &report.Fingerprint, &report.Source, &report.RuleSetVersion,
		&report.CreatedAt, &report.DurationMs,
		&report.TotalRecords, &report.ClaimCount, &report.FlaggedCount,
		&flagRate, &report.MaxScore,
		&ruleCounts, &histogram, &thresholds, &topJSON,
	); err != nil {
		return nil, err
	}

	if flagRate.Valid {
		v := flagRate.Float64
		report.FlagRate = &v
	}

	if err := json.Unmarshal([]byte(ruleCounts), &report.RuleCounts); err != nil {
		return nil, fmt.Errorf("failed to parse rule counts for %s: %w", report.ID, err)
	}
	if err := json.Unmarshal([]byte(histogram), &report.Histogram); err != nil {
		return nil, fmt.Errorf("failed to parse histogram for %s: %w", report.ID, err)
	}
	if err := json.Unmarshal([]byte(thresholds), &report.Thresholds); err != nil {
		return nil, fmt.Errorf("failed to parse thresholds for %s: %w", report.ID, err)
	}
	if err := json.Unmarshal([]byte(topJSON), &report.Top); err != nil {
		return nil, fmt.Errorf("failed to parse top claims for %s: %w", report.ID, err)
	}

	report.CreatedAt = report.CreatedAt.UTC()
	return &report, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
