package tablestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/3leaps/siterun/pkg/batch"
	"github.com/3leaps/siterun/pkg/runconfig"
	"github.com/3leaps/siterun/pkg/series"
)

const (
	dateLayout = "2006-01-02"

	// timeLayout has fixed-width fractions so created_at sorts lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// BatchRow is a row of the batches table.
type BatchRow struct {
	BatchID        string
	Model          string
	Setup          string
	Ensemble       bool
	SitesRequested int
	SitesAvailable int
	CreatedAt      time.Time
}

// Site statuses recorded in batch_sites.
const (
	SiteAvailable   = "available"
	SiteUnavailable = "unavailable"
	SiteFailed      = "failed"
)

// SiteRow is a row of the batch_sites table.
type SiteRow struct {
	BatchID string
	Site    string
	Status  string
	Message string
}

// CreateBatch inserts a batch row.
func CreateBatch(ctx context.Context, db *sql.DB, row BatchRow) error {
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO batches
		 (batch_id, model, setup, ensemble, sites_requested, sites_available, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.BatchID, row.Model, row.Setup, boolToInt(row.Ensemble),
		row.SitesRequested, row.SitesAvailable, row.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	return nil
}

// SaveResult stores every table of result and marks the requested sites
// that are absent from it as unavailable, in one transaction.
func SaveResult(ctx context.Context, db *sql.DB, batchID string, requested []string, result batch.Result) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, site := range requested {
		sr, ok := result[site]
		if !ok {
			if err := upsertSite(ctx, tx, SiteRow{BatchID: batchID, Site: site, Status: SiteUnavailable}); err != nil {
				return err
			}
			continue
		}
		if err := upsertSite(ctx, tx, SiteRow{BatchID: batchID, Site: site, Status: SiteAvailable}); err != nil {
			return err
		}
		for _, tbl := range []*series.Table{sr.Daily, sr.Annual} {
			if tbl == nil {
				continue
			}
			if err := insertTable(ctx, tx, batchID, tbl); err != nil {
				return err
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE batches SET sites_available = ? WHERE batch_id = ?`,
		len(result), batchID); err != nil {
		return fmt.Errorf("update batch: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit result: %w", err)
	}
	return nil
}

// MarkSite records a site status, replacing any earlier one.
func MarkSite(ctx context.Context, db *sql.DB, row SiteRow) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := upsertSite(ctx, tx, row); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertSite(ctx context.Context, tx *sql.Tx, row SiteRow) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO batch_sites (batch_id, site, status, message)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(batch_id, site) DO UPDATE SET
		   status = excluded.status,
		   message = COALESCE(excluded.message, batch_sites.message)`,
		row.BatchID, row.Site, row.Status, nullString(row.Message))
	if err != nil {
		return fmt.Errorf("upsert site %s: %w", row.Site, err)
	}
	return nil
}

func insertTable(ctx context.Context, tx *sql.Tx, batchID string, tbl *series.Table) error {
	res := tbl.Resolution.String()
	colStmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO series_columns (batch_id, site, resolution, variable, ordinal)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare columns: %w", err)
	}
	defer func() { _ = colStmt.Close() }()

	valStmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO series_values (batch_id, site, resolution, date, variable, value)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare values: %w", err)
	}
	defer func() { _ = valStmt.Close() }()

	for ord, col := range tbl.Columns {
		if _, err := colStmt.ExecContext(ctx, batchID, tbl.Site, res, col.Name, ord); err != nil {
			return fmt.Errorf("insert column %s: %w", col.Name, err)
		}
		for i, d := range tbl.Dates {
			var v any
			if col.Present[i] {
				v = col.Values[i]
			}
			if _, err := valStmt.ExecContext(ctx, batchID, tbl.Site, res, d.Format(dateLayout), col.Name, v); err != nil {
				return fmt.Errorf("insert value %s %s: %w", col.Name, d.Format(dateLayout), err)
			}
		}
	}
	return nil
}

// GetBatch returns one batch.
func GetBatch(ctx context.Context, db *sql.DB, batchID string) (*BatchRow, error) {
	row := db.QueryRowContext(ctx,
		`SELECT batch_id, model, setup, ensemble, sites_requested, sites_available, created_at
		 FROM batches WHERE batch_id = ?`, batchID)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %s: %w", batchID, ErrNotFound)
	}
	return b, err
}

// ListBatches returns batches newest first. limit <= 0 means no limit.
func ListBatches(ctx context.Context, db *sql.DB, limit int) ([]BatchRow, error) {
	query := `SELECT batch_id, model, setup, ensemble, sites_requested, sites_available, created_at
		 FROM batches ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []BatchRow
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(s scanner) (*BatchRow, error) {
	var b BatchRow
	var ensemble int
	var created string
	if err := s.Scan(&b.BatchID, &b.Model, &b.Setup, &ensemble, &b.SitesRequested, &b.SitesAvailable, &created); err != nil {
		return nil, err
	}
	b.Ensemble = ensemble != 0
	t, err := time.Parse(timeLayout, created)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	b.CreatedAt = t
	return &b, nil
}

// ListSites returns the batch's site statuses ordered by site.
func ListSites(ctx context.Context, db *sql.DB, batchID string) ([]SiteRow, error) {
	if _, err := GetBatch(ctx, db, batchID); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT batch_id, site, status, COALESCE(message, '')
		 FROM batch_sites WHERE batch_id = ? ORDER BY site`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SiteRow
	for rows.Next() {
		var r SiteRow
		if err := rows.Scan(&r.BatchID, &r.Site, &r.Status, &r.Message); err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadTable rebuilds a stored site table.
func LoadTable(ctx context.Context, db *sql.DB, batchID, site string, res runconfig.Resolution) (*series.Table, error) {
	colRows, err := db.QueryContext(ctx,
		`SELECT variable FROM series_columns
		 WHERE batch_id = ? AND site = ? AND resolution = ?
		 ORDER BY ordinal`, batchID, site, res.String())
	if err != nil {
		return nil, fmt.Errorf("load columns: %w", err)
	}
	var columns []string
	for colRows.Next() {
		var v string
		if err := colRows.Scan(&v); err != nil {
			_ = colRows.Close()
			return nil, fmt.Errorf("scan column: %w", err)
		}
		columns = append(columns, v)
	}
	_ = colRows.Close()
	if err := colRows.Err(); err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s/%s/%s: %w", batchID, site, res, ErrNotFound)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT date, variable, value FROM series_values
		 WHERE batch_id = ? AND site = ? AND resolution = ?`, batchID, site, res.String())
	if err != nil {
		return nil, fmt.Errorf("load values: %w", err)
	}
	defer func() { _ = rows.Close() }()

	type cells struct {
		dates   []time.Time
		values  []float64
		missing []bool
	}
	byVar := make(map[string]*cells, len(columns))
	for _, c := range columns {
		byVar[c] = &cells{}
	}
	for rows.Next() {
		var date, variable string
		var value sql.NullFloat64
		if err := rows.Scan(&date, &variable, &value); err != nil {
			return nil, fmt.Errorf("scan value: %w", err)
		}
		d, err := time.Parse(dateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("parse date %q: %w", date, err)
		}
		c, ok := byVar[variable]
		if !ok {
			continue
		}
		c.dates = append(c.dates, d)
		c.values = append(c.values, value.Float64)
		c.missing = append(c.missing, !value.Valid)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	b := series.NewBuilder(site, res, nil)
	for _, name := range columns {
		c := byVar[name]
		if err := b.Join(name, c.dates, c.values, c.missing); err != nil {
			return nil, err
		}
	}
	return b.Table(), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
