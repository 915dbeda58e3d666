package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// ReplaceRange atomically replaces all rows matching deleteSQL with the
// given rows: one transaction, DELETE then COPY. Rebuilding the same
// range twice leaves the table in the same state, which is what makes
// pipeline reruns idempotent at the storage layer. Empty rows still run
// the delete; a rebuild of a range with no surviving orders must clear
// the old ones.
func ReplaceRange(ctx context.Context, pool Pool, table string, columns []string, rows [][]any, deleteSQL string, deleteArgs ...any) (deleted, inserted int64, err error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "db: replace %s: begin tx", table)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, deleteSQL, deleteArgs...)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "db: replace %s: delete range", table)
	}
	deleted = tag.RowsAffected()

	if len(rows) > 0 {
		inserted, err = tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
		if err != nil {
			return 0, 0, eris.Wrapf(err, "db: replace %s: COPY", table)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, eris.Wrapf(err, "db: replace %s: commit tx", table)
	}

	return deleted, inserted, nil
}
