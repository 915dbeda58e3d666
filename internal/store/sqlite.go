package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/sales-cli/internal/model"
	"github.com/sells-group/sales-cli/internal/refdata"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the
// default backend for local runs; the schema mirrors the Postgres one.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqlDB}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS order_facts (
	order_key       TEXT PRIMARY KEY,
	source          TEXT NOT NULL,
	source_order_id TEXT NOT NULL,
	created_at      DATETIME NOT NULL,
	channel         TEXT NOT NULL,
	channel_rule    TEXT NOT NULL DEFAULT '',
	promo_codes     TEXT NOT NULL DEFAULT '',
	gross           INTEGER NOT NULL,
	discounts       INTEGER NOT NULL,
	refunds         INTEGER NOT NULL,
	shipping        INTEGER NOT NULL,
	taxes           INTEGER NOT NULL,
	net             INTEGER NOT NULL,
	line_count      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS line_item_facts (
	order_key      TEXT NOT NULL,
	line_no        INTEGER NOT NULL,
	source         TEXT NOT NULL,
	created_at     DATETIME NOT NULL,
	channel        TEXT NOT NULL,
	raw_sku        TEXT NOT NULL,
	sku            TEXT NOT NULL,
	promo_keys     TEXT NOT NULL DEFAULT '',
	influencer     TEXT NOT NULL DEFAULT '',
	quantity       INTEGER NOT NULL,
	extended       INTEGER NOT NULL,
	line_discount  INTEGER NOT NULL,
	alloc_discount INTEGER NOT NULL,
	alloc_refund   INTEGER NOT NULL,
	alloc_shipping INTEGER NOT NULL,
	alloc_tax      INTEGER NOT NULL,
	net_line       INTEGER NOT NULL,
	PRIMARY KEY (order_key, line_no)
);

CREATE TABLE IF NOT EXISTS aggregate_rows (
	granularity      TEXT NOT NULL,
	period_start     DATETIME NOT NULL,
	slice_type       TEXT NOT NULL,
	slice_key        TEXT NOT NULL DEFAULT '',
	gross            INTEGER NOT NULL,
	discounts        INTEGER NOT NULL,
	refunds          INTEGER NOT NULL,
	shipping         INTEGER NOT NULL,
	taxes            INTEGER NOT NULL,
	net              INTEGER NOT NULL,
	units            INTEGER NOT NULL,
	order_count      INTEGER NOT NULL,
	unique_sku_count INTEGER NOT NULL,
	aov              INTEGER NOT NULL,
	promo_cost       INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (granularity, period_start, slice_type, slice_key)
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	request    TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	error      TEXT,
	quality    TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS channel_map (
	source               TEXT NOT NULL,
	app_id_pattern       TEXT NOT NULL DEFAULT '',
	source_name_pattern  TEXT NOT NULL DEFAULT '',
	landing_site_pattern TEXT NOT NULL DEFAULT '',
	canonical_channel    TEXT NOT NULL,
	PRIMARY KEY (source, app_id_pattern, source_name_pattern, landing_site_pattern)
);

CREATE TABLE IF NOT EXISTS sku_map (
	raw_sku       TEXT PRIMARY KEY,
	canonical_sku TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS promo_budget (
	promo_code   TEXT PRIMARY KEY,
	pct_of_sales REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS influencer_map (
	code                 TEXT PRIMARY KEY,
	canonical_influencer TEXT NOT NULL,
	fee_model            TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_order_facts_created_at ON order_facts(created_at);
CREATE INDEX IF NOT EXISTS idx_order_facts_source ON order_facts(source);
CREATE INDEX IF NOT EXISTS idx_line_item_facts_created_at ON line_item_facts(created_at);
CREATE INDEX IF NOT EXISTS idx_aggregate_rows_period ON aggregate_rows(period_start);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteWindowClause builds the range predicate with ?-placeholders.
func sqliteWindowClause(w Window) (string, []any) {
	clause := "created_at >= ? AND created_at < ?"
	args := []any{w.From.UTC(), w.To.UTC()}
	if len(w.Sources) > 0 {
		clause += " AND source IN (?" + strings.Repeat(",?", len(w.Sources)-1) + ")"
		for _, src := range w.Sources {
			args = append(args, src)
		}
	}
	return clause, args
}

func (s *SQLiteStore) ReplaceFacts(ctx context.Context, w Window, orders []model.OrderFact, lines []model.LineItemFact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: replace facts: begin tx")
	}
	defer tx.Rollback()

	clause, args := sqliteWindowClause(w)
	if _, err := tx.ExecContext(ctx, "DELETE FROM line_item_facts WHERE "+clause, args...); err != nil {
		return eris.Wrap(err, "sqlite: replace facts: delete lines")
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM order_facts WHERE "+clause, args...); err != nil {
		return eris.Wrap(err, "sqlite: replace facts: delete orders")
	}

	orderSQL := `INSERT INTO order_facts (` + strings.Join(orderFactColumns, ", ") + `)
		VALUES (` + placeholders(len(orderFactColumns)) + `)`
	orderStmt, err := tx.PrepareContext(ctx, orderSQL)
	if err != nil {
		return eris.Wrap(err, "sqlite: replace facts: prepare orders")
	}
	defer orderStmt.Close()
	for i := range orders {
		if _, err := orderStmt.ExecContext(ctx, orderFactRow(&orders[i])...); err != nil {
			return eris.Wrapf(err, "sqlite: replace facts: insert order %s", orders[i].OrderKey)
		}
	}

	lineSQL := `INSERT INTO line_item_facts (` + strings.Join(lineItemColumns, ", ") + `)
		VALUES (` + placeholders(len(lineItemColumns)) + `)`
	lineStmt, err := tx.PrepareContext(ctx, lineSQL)
	if err != nil {
		return eris.Wrap(err, "sqlite: replace facts: prepare lines")
	}
	defer lineStmt.Close()
	for i := range lines {
		if _, err := lineStmt.ExecContext(ctx, lineItemRow(&lines[i])...); err != nil {
			return eris.Wrapf(err, "sqlite: replace facts: insert line %s/%d", lines[i].OrderKey, lines[i].LineNo)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: replace facts: commit")
}

func (s *SQLiteStore) ReplaceAggregates(ctx context.Context, w Window, g model.Granularity, rows []model.AggregateRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: replace aggregates: begin tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM aggregate_rows WHERE granularity = ? AND period_start >= ? AND period_start < ?`,
		string(g), w.From.UTC(), w.To.UTC(),
	); err != nil {
		return eris.Wrap(err, "sqlite: replace aggregates: delete range")
	}

	insertSQL := `INSERT INTO aggregate_rows (` + strings.Join(aggregateColumns, ", ") + `)
		VALUES (` + placeholders(len(aggregateColumns)) + `)`
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return eris.Wrap(err, "sqlite: replace aggregates: prepare")
	}
	defer stmt.Close()
	for i := range rows {
		if _, err := stmt.ExecContext(ctx, aggregateRowValues(&rows[i])...); err != nil {
			return eris.Wrap(err, "sqlite: replace aggregates: insert row")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: replace aggregates: commit")
}

func (s *SQLiteStore) QueryAggregates(ctx context.Context, filter AggregateFilter) ([]model.AggregateRow, error) {
	query := `SELECT granularity, period_start, slice_type, slice_key, gross, discounts, refunds,
		shipping, taxes, net, units, order_count, unique_sku_count, aov, promo_cost
		FROM aggregate_rows WHERE 1=1`
	var args []any
	if filter.Granularity != "" {
		query += " AND granularity = ?"
		args = append(args, string(filter.Granularity))
	}
	if filter.SliceType != "" {
		query += " AND slice_type = ?"
		args = append(args, string(filter.SliceType))
	}
	if filter.SliceKey != "" {
		query += " AND slice_key = ?"
		args = append(args, filter.SliceKey)
	}
	if !filter.From.IsZero() {
		query += " AND period_start >= ?"
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		query += " AND period_start < ?"
		args = append(args, filter.To.UTC())
	}
	query += " ORDER BY period_start, slice_type, slice_key"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query aggregates")
	}
	defer rows.Close()

	var out []model.AggregateRow
	for rows.Next() {
		var r model.AggregateRow
		var g, st string
		var gross, discounts, refunds, shipping, taxes, net, aov, promoCost int64
		if err := rows.Scan(&g, &r.Bucket.PeriodStart, &st, &r.Slice.Key,
			&gross, &discounts, &refunds, &shipping, &taxes, &net,
			&r.Units, &r.OrderCount, &r.UniqueSKUCount, &aov, &promoCost); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan aggregate row")
		}
		r.Bucket.Granularity = model.Granularity(g)
		r.Slice.Type = model.SliceType(st)
		r.Metrics = model.MetricSet{
			Gross: model.Cents(gross), Discounts: model.Cents(discounts),
			Refunds: model.Cents(refunds), Shipping: model.Cents(shipping),
			Taxes: model.Cents(taxes), Net: model.Cents(net),
		}
		r.AOV = model.Cents(aov)
		r.PromoCost = model.Cents(promoCost)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate aggregates")
}

func (s *SQLiteStore) CreateRun(ctx context.Context, req model.RunRequest) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal run request")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, request, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(reqJSON), string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Request:   req,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, quality *model.QualityReport) error {
	qualityJSON, err := json.Marshal(quality)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal quality report")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, quality = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusComplete), string(qualityJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), msg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, request, status, error, quality, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	run, err := scanRun(row.Scan)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, request, status, error, quality, created_at, updated_at FROM runs`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

func (s *SQLiteStore) SyncReference(ctx context.Context, tables *refdata.Tables) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: sync reference: begin tx")
	}
	defer tx.Rollback()

	for _, c := range tables.Channels {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO channel_map (source, app_id_pattern, source_name_pattern, landing_site_pattern, canonical_channel)
			 VALUES (?, ?, ?, ?, ?)`,
			c.Source, c.AppIDPattern, c.SourceNamePattern, c.LandingSitePattern, c.CanonicalChannel,
		); err != nil {
			return eris.Wrap(err, "sqlite: sync channel_map")
		}
	}
	for _, r := range tables.SKUs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO sku_map (raw_sku, canonical_sku) VALUES (?, ?)`,
			r.RawSKU, r.CanonicalSKU,
		); err != nil {
			return eris.Wrap(err, "sqlite: sync sku_map")
		}
	}
	for _, r := range tables.Promos {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO promo_budget (promo_code, pct_of_sales) VALUES (?, ?)`,
			r.PromoCode, r.PctOfSales,
		); err != nil {
			return eris.Wrap(err, "sqlite: sync promo_budget")
		}
	}
	for _, r := range tables.Influencers {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO influencer_map (code, canonical_influencer, fee_model) VALUES (?, ?, ?)`,
			r.Code, r.CanonicalInfluencer, r.FeeModel,
		); err != nil {
			return eris.Wrap(err, "sqlite: sync influencer_map")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: sync reference: commit")
}

func scanRun(scan func(dest ...any) error) (*model.Run, error) {
	var run model.Run
	var status, reqJSON string
	var errMsg, qualityJSON sql.NullString
	if err := scan(&run.ID, &reqJSON, &status, &errMsg, &qualityJSON, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return nil, err
	}
	run.Status = model.RunStatus(status)
	if errMsg.Valid {
		run.Error = errMsg.String
	}
	if err := json.Unmarshal([]byte(reqJSON), &run.Request); err != nil {
		return nil, eris.Wrap(err, "unmarshal run request")
	}
	if qualityJSON.Valid && qualityJSON.String != "" {
		run.Quality = &model.QualityReport{}
		if err := json.Unmarshal([]byte(qualityJSON.String), run.Quality); err != nil {
			return nil, eris.Wrap(err, "unmarshal quality report")
		}
	}
	return &run, nil
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %s", kind, id)
	}
	if n == 0 {
		return eris.Errorf("sqlite: %s not found: %s", kind, id)
	}
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return "?" + strings.Repeat(", ?", n-1)
}
