package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"acs-pipeline/models"
	"acs-pipeline/utils"
)

// PostgresWriter exports result tables to PostgreSQL in long form, one
// row per non-empty cell. Every row written by one writer carries the
// same run id. The table is write-only from the pipeline's point of view.
type PostgresWriter struct {
	db     *sql.DB
	runID  uuid.UUID
	logger *utils.Logger
}

// NewPostgresWriter opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresWriter.
func NewPostgresWriter(ctx context.Context, dsn string, logger *utils.Logger) (*PostgresWriter, error) {
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	retry := utils.RetryConfig{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond, Logger: logger}
	if _, err := retry.Do(ctx, "postgres ping", db.PingContext); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	pw := &PostgresWriter{db: db, runID: uuid.New(), logger: logger}
	if err := pw.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return pw, nil
}

func (pw *PostgresWriter) migrate(ctx context.Context) error {
	_, err := pw.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS acs_results (
			id            BIGSERIAL   PRIMARY KEY,
			run_id        UUID        NOT NULL,
			year          INTEGER     NOT NULL,
			location_key  TEXT        NOT NULL,
			column_name   TEXT        NOT NULL,
			value_text    TEXT        NOT NULL,
			value_numeric DOUBLE PRECISION,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_acs_results_run      ON acs_results(run_id);
		CREATE INDEX IF NOT EXISTS idx_acs_results_location ON acs_results(location_key, year);
	`)
	return err
}

// RunID identifies the rows written by this writer.
func (pw *PostgresWriter) RunID() uuid.UUID {
	return pw.runID
}

// cellRow is one exported cell.
type cellRow struct {
	year        int
	locationKey string
	column      string
	text        string
	numeric     *float64
}

// cellRows flattens table into one cellRow per non-empty cell, in row
// then column order.
func cellRows(table *models.ResultTable) []cellRow {
	var out []cellRow
	for _, r := range table.Rows {
		key := r.Location.Key()
		for _, col := range table.Columns {
			v, ok := r.Cells[col]
			if !ok || v == nil {
				continue
			}
			cr := cellRow{year: r.Year, locationKey: key, column: col, text: models.FormatValue(v)}
			switch n := v.(type) {
			case int64:
				f := float64(n)
				cr.numeric = &f
			case float64:
				cr.numeric = &n
			}
			out = append(out, cr)
		}
	}
	return out
}

// Write batch-inserts every cell of table inside one transaction.
func (pw *PostgresWriter) Write(ctx context.Context, table *models.ResultTable) error {
	if table.Len() == 0 {
		return nil
	}
	rows := cellRows(table)

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}

	const batchSize = 500
	for i := 0; i < len(rows); i += batchSize {
		end := i + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := pw.insertBatch(ctx, tx, rows[i:end]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("postgres: insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	pw.logger.Info("[postgres] stored %d cells under run %s", len(rows), pw.runID)
	return nil
}

const columnsPerCell = 6

func insertQuery(n int) string {
	valueStrings := make([]string, 0, n)
	for idx := 0; idx < n; idx++ {
		base := idx * columnsPerCell
		valueStrings = append(valueStrings,
			fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d)",
				base+1, base+2, base+3, base+4, base+5, base+6))
	}
	return fmt.Sprintf(`
		INSERT INTO acs_results (run_id, year, location_key, column_name, value_text, value_numeric)
		VALUES %s
	`, strings.Join(valueStrings, ","))
}

func (pw *PostgresWriter) insertBatch(ctx context.Context, tx *sql.Tx, batch []cellRow) error {
	valueArgs := make([]any, 0, len(batch)*columnsPerCell)
	for _, c := range batch {
		var numeric any
		if c.numeric != nil {
			numeric = *c.numeric
		}
		valueArgs = append(valueArgs,
			pw.runID.String(), c.year, c.locationKey, c.column, c.text, numeric)
	}

	_, err := tx.ExecContext(ctx, insertQuery(len(batch)), valueArgs...)
	return err
}

func (pw *PostgresWriter) Close() error {
	return pw.db.Close()
}
