package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// InsertIgnoreConfig defines the parameters for a bulk insert-or-ignore
// operation.
type InsertIgnoreConfig struct {
	Table        string   // target table (e.g., "raw.telegram_messages")
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the unique constraint
	Returning    []string // columns returned for rows actually inserted; nil = none
}

// BulkInsertIgnore performs a bulk INSERT ... ON CONFLICT DO NOTHING via a
// temp table:
//  1. Creates a temp table with the same columns
//  2. COPY rows into the temp table
//  3. INSERT INTO target SELECT ... FROM temp ON CONFLICT (keys) DO NOTHING
//  4. Drops the temp table
//
// Rows whose conflict key already exists are left untouched, so re-inserting
// a batch is a no-op for previously seen keys. When cfg.Returning is set,
// the values of those columns are collected for each row actually inserted.
func BulkInsertIgnore(ctx context.Context, pool Pool, cfg InsertIgnoreConfig, rows [][]any) (int64, [][]any, error) {
	if len(rows) == 0 {
		return 0, nil, nil
	}

	if len(cfg.Columns) == 0 {
		return 0, nil, eris.New("db: insert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return 0, nil, eris.New("db: insert: no conflict keys specified")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, nil, eris.Wrap(err, "db: insert: begin tx")
	}
	defer tx.Rollback(ctx)

	tempTable := fmt.Sprintf("_tmp_insert_%s", strings.ReplaceAll(cfg.Table, ".", "_"))

	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{tempTable}.Sanitize(),
		sanitizeTable(cfg.Table),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, nil, eris.Wrapf(err, "db: insert: create temp table for %s", cfg.Table)
	}

	copySource := pgx.CopyFromRows(rows)
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tempTable}, cfg.Columns, copySource); err != nil {
		return 0, nil, eris.Wrapf(err, "db: insert: COPY into temp table for %s", cfg.Table)
	}

	colList := quoteAndJoin(cfg.Columns)
	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO NOTHING",
		sanitizeTable(cfg.Table),
		colList,
		colList,
		pgx.Identifier{tempTable}.Sanitize(),
		quoteAndJoin(cfg.ConflictKeys),
	)

	if len(cfg.Returning) == 0 {
		tag, err := tx.Exec(ctx, insertSQL)
		if err != nil {
			return 0, nil, eris.Wrapf(err, "db: insert: INSERT ON CONFLICT for %s", cfg.Table)
		}
		if err := tx.Commit(ctx); err != nil {
			return 0, nil, eris.Wrap(err, "db: insert: commit tx")
		}
		return tag.RowsAffected(), nil, nil
	}

	insertSQL += " RETURNING " + quoteAndJoin(cfg.Returning)
	qrows, err := tx.Query(ctx, insertSQL)
	if err != nil {
		return 0, nil, eris.Wrapf(err, "db: insert: INSERT ON CONFLICT for %s", cfg.Table)
	}

	var returned [][]any
	for qrows.Next() {
		vals, err := qrows.Values()
		if err != nil {
			qrows.Close()
			return 0, nil, eris.Wrapf(err, "db: insert: read returned row for %s", cfg.Table)
		}
		returned = append(returned, vals)
	}
	qrows.Close()
	if err := qrows.Err(); err != nil {
		return 0, nil, eris.Wrapf(err, "db: insert: iterate returned rows for %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, nil, eris.Wrap(err, "db: insert: commit tx")
	}

	return int64(len(returned)), returned, nil
}

// sanitizeTable handles schema-qualified table names like "raw.telegram_messages".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
