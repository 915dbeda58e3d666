package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/sales-cli/internal/db"
	"github.com/sells-group/sales-cli/internal/model"
	"github.com/sells-group/sales-cli/internal/refdata"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hot run log operations.
var preparedStatements = map[string]string{
	"insert_run":        `INSERT INTO runs (id, request, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
	"update_run_status": `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"complete_run":      `UPDATE runs SET status = $1, quality = $2, updated_at = $3 WHERE id = $4`,
	"fail_run":          `UPDATE runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
	"get_run":           `SELECT id, request, status, error, quality, created_at, updated_at FROM runs WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS order_facts (
	order_key       TEXT PRIMARY KEY,
	source          TEXT NOT NULL,
	source_order_id TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	channel         TEXT NOT NULL,
	channel_rule    TEXT NOT NULL DEFAULT '',
	promo_codes     TEXT NOT NULL DEFAULT '',
	gross           BIGINT NOT NULL,
	discounts       BIGINT NOT NULL,
	refunds         BIGINT NOT NULL,
	shipping        BIGINT NOT NULL,
	taxes           BIGINT NOT NULL,
	net             BIGINT NOT NULL,
	line_count      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS line_item_facts (
	order_key      TEXT NOT NULL,
	line_no        INTEGER NOT NULL,
	source         TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	channel        TEXT NOT NULL,
	raw_sku        TEXT NOT NULL,
	sku            TEXT NOT NULL,
	promo_keys     TEXT NOT NULL DEFAULT '',
	influencer     TEXT NOT NULL DEFAULT '',
	quantity       BIGINT NOT NULL,
	extended       BIGINT NOT NULL,
	line_discount  BIGINT NOT NULL,
	alloc_discount BIGINT NOT NULL,
	alloc_refund   BIGINT NOT NULL,
	alloc_shipping BIGINT NOT NULL,
	alloc_tax      BIGINT NOT NULL,
	net_line       BIGINT NOT NULL,
	PRIMARY KEY (order_key, line_no)
);

CREATE TABLE IF NOT EXISTS aggregate_rows (
	granularity      TEXT NOT NULL,
	period_start     TIMESTAMPTZ NOT NULL,
	slice_type       TEXT NOT NULL,
	slice_key        TEXT NOT NULL DEFAULT '',
	gross            BIGINT NOT NULL,
	discounts        BIGINT NOT NULL,
	refunds          BIGINT NOT NULL,
	shipping         BIGINT NOT NULL,
	taxes            BIGINT NOT NULL,
	net              BIGINT NOT NULL,
	units            BIGINT NOT NULL,
	order_count      BIGINT NOT NULL,
	unique_sku_count BIGINT NOT NULL,
	aov              BIGINT NOT NULL,
	promo_cost       BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (granularity, period_start, slice_type, slice_key)
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	request    JSONB NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	error      TEXT,
	quality    JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
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
	pct_of_sales DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS influencer_map (
	code                 TEXT PRIMARY KEY,
	canonical_influencer TEXT NOT NULL,
	fee_model            TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_order_facts_created_at ON order_facts(created_at);
CREATE INDEX IF NOT EXISTS idx_order_facts_source ON order_facts(source);
CREATE INDEX IF NOT EXISTS idx_order_facts_channel ON order_facts(channel);
CREATE INDEX IF NOT EXISTS idx_line_item_facts_created_at ON line_item_facts(created_at);
CREATE INDEX IF NOT EXISTS idx_line_item_facts_sku ON line_item_facts(sku);
CREATE INDEX IF NOT EXISTS idx_aggregate_rows_period ON aggregate_rows(period_start);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

var orderFactColumns = []string{
	"order_key", "source", "source_order_id", "created_at", "channel",
	"channel_rule", "promo_codes", "gross", "discounts", "refunds",
	"shipping", "taxes", "net", "line_count",
}

var lineItemColumns = []string{
	"order_key", "line_no", "source", "created_at", "channel", "raw_sku",
	"sku", "promo_keys", "influencer", "quantity", "extended",
	"line_discount", "alloc_discount", "alloc_refund", "alloc_shipping",
	"alloc_tax", "net_line",
}

var aggregateColumns = []string{
	"granularity", "period_start", "slice_type", "slice_key", "gross",
	"discounts", "refunds", "shipping", "taxes", "net", "units",
	"order_count", "unique_sku_count", "aov", "promo_cost",
}

func orderFactRow(of *model.OrderFact) []any {
	return []any{
		of.OrderKey, of.Source, of.SourceOrderID, of.CreatedAt.UTC(), of.ChannelKey,
		of.ChannelRule, strings.Join(of.PromoCodes, ";"),
		int64(of.Metrics.Gross), int64(of.Metrics.Discounts), int64(of.Metrics.Refunds),
		int64(of.Metrics.Shipping), int64(of.Metrics.Taxes), int64(of.Metrics.Net),
		of.LineCount,
	}
}

func lineItemRow(li *model.LineItemFact) []any {
	source, _, _ := strings.Cut(li.OrderKey, ":")
	return []any{
		li.OrderKey, li.LineNo, source, li.CreatedAt.UTC(), li.ChannelKey, li.RawSKU,
		li.SKUKey, strings.Join(li.PromoKeys, ";"), li.InfluencerKey,
		li.Quantity, int64(li.Extended), int64(li.LineDiscount),
		int64(li.AllocDiscount), int64(li.AllocRefund), int64(li.AllocShipping),
		int64(li.AllocTax), int64(li.NetLine),
	}
}

func aggregateRowValues(r *model.AggregateRow) []any {
	return []any{
		string(r.Bucket.Granularity), r.Bucket.PeriodStart.UTC(), string(r.Slice.Type), r.Slice.Key,
		int64(r.Metrics.Gross), int64(r.Metrics.Discounts), int64(r.Metrics.Refunds),
		int64(r.Metrics.Shipping), int64(r.Metrics.Taxes), int64(r.Metrics.Net),
		r.Units, r.OrderCount, r.UniqueSKUCount, int64(r.AOV), int64(r.PromoCost),
	}
}

// windowClause builds "created_at >= $n AND created_at < $n+1 [AND source = ANY($n+2)]".
func windowClause(w Window, argOffset int) (string, []any) {
	clause := fmt.Sprintf("created_at >= $%d AND created_at < $%d", argOffset, argOffset+1)
	args := []any{w.From.UTC(), w.To.UTC()}
	if len(w.Sources) > 0 {
		clause += fmt.Sprintf(" AND source = ANY($%d)", argOffset+2)
		args = append(args, w.Sources)
	}
	return clause, args
}

func (s *PostgresStore) ReplaceFacts(ctx context.Context, w Window, orders []model.OrderFact, lines []model.LineItemFact) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: replace facts: begin tx")
	}
	defer tx.Rollback(ctx)

	clause, args := windowClause(w, 1)
	if _, err := tx.Exec(ctx, "DELETE FROM line_item_facts WHERE "+clause, args...); err != nil {
		return eris.Wrap(err, "postgres: replace facts: delete lines")
	}
	if _, err := tx.Exec(ctx, "DELETE FROM order_facts WHERE "+clause, args...); err != nil {
		return eris.Wrap(err, "postgres: replace facts: delete orders")
	}

	orderRows := make([][]any, len(orders))
	for i := range orders {
		orderRows[i] = orderFactRow(&orders[i])
	}
	if _, err := db.CopyFrom(ctx, tx, "order_facts", orderFactColumns, orderRows); err != nil {
		return eris.Wrap(err, "postgres: replace facts: orders")
	}

	lineRows := make([][]any, len(lines))
	for i := range lines {
		lineRows[i] = lineItemRow(&lines[i])
	}
	if _, err := db.CopyFrom(ctx, tx, "line_item_facts", lineItemColumns, lineRows); err != nil {
		return eris.Wrap(err, "postgres: replace facts: lines")
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: replace facts: commit")
}

func (s *PostgresStore) ReplaceAggregates(ctx context.Context, w Window, g model.Granularity, rows []model.AggregateRow) error {
	values := make([][]any, len(rows))
	for i := range rows {
		values[i] = aggregateRowValues(&rows[i])
	}

	deleteSQL := "DELETE FROM aggregate_rows WHERE granularity = $1 AND period_start >= $2 AND period_start < $3"
	_, _, err := db.ReplaceRange(ctx, s.pool, "aggregate_rows", aggregateColumns, values,
		deleteSQL, string(g), w.From, w.To)
	return eris.Wrap(err, "postgres: replace aggregates")
}

func (s *PostgresStore) QueryAggregates(ctx context.Context, filter AggregateFilter) ([]model.AggregateRow, error) {
	query := `SELECT granularity, period_start, slice_type, slice_key, gross, discounts, refunds,
		shipping, taxes, net, units, order_count, unique_sku_count, aov, promo_cost
		FROM aggregate_rows WHERE 1=1`
	var args []any
	n := 0
	add := func(clause string, v any) {
		n++
		query += fmt.Sprintf(" AND %s = $%d", clause, n)
		args = append(args, v)
	}
	if filter.Granularity != "" {
		add("granularity", string(filter.Granularity))
	}
	if filter.SliceType != "" {
		add("slice_type", string(filter.SliceType))
	}
	if filter.SliceKey != "" {
		add("slice_key", filter.SliceKey)
	}
	if !filter.From.IsZero() {
		n++
		query += fmt.Sprintf(" AND period_start >= $%d", n)
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		n++
		query += fmt.Sprintf(" AND period_start < $%d", n)
		args = append(args, filter.To)
	}
	query += " ORDER BY period_start, slice_type, slice_key"
	if filter.Limit > 0 {
		n++
		query += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, filter.Limit)
	}

	pgRows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query aggregates")
	}
	defer pgRows.Close()

	var out []model.AggregateRow
	for pgRows.Next() {
		var r model.AggregateRow
		var g, st string
		if err := pgRows.Scan(&g, &r.Bucket.PeriodStart, &st, &r.Slice.Key,
			&r.Metrics.Gross, &r.Metrics.Discounts, &r.Metrics.Refunds,
			&r.Metrics.Shipping, &r.Metrics.Taxes, &r.Metrics.Net,
			&r.Units, &r.OrderCount, &r.UniqueSKUCount, &r.AOV, &r.PromoCost); err != nil {
			return nil, eris.Wrap(err, "postgres: scan aggregate row")
		}
		r.Bucket.Granularity = model.Granularity(g)
		r.Slice.Type = model.SliceType(st)
		out = append(out, r)
	}
	return out, eris.Wrap(pgRows.Err(), "postgres: iterate aggregates")
}

func (s *PostgresStore) CreateRun(ctx context.Context, req model.RunRequest) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal run request")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, request, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, reqJSON, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Request:   req,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, quality *model.QualityReport) error {
	qualityJSON, err := json.Marshal(quality)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal quality report")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, quality = $2, updated_at = $3 WHERE id = $4`,
		string(model.RunStatusComplete), qualityJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(model.RunStatusFailed), msg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, request, status, error, quality, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	)

	var run model.Run
	var status string
	var reqJSON []byte
	var errMsg *string
	var qualityJSON []byte
	if err := row.Scan(&run.ID, &reqJSON, &status, &errMsg, &qualityJSON, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	run.Status = model.RunStatus(status)
	if errMsg != nil {
		run.Error = *errMsg
	}
	if err := json.Unmarshal(reqJSON, &run.Request); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal run request")
	}
	if len(qualityJSON) > 0 {
		run.Quality = &model.QualityReport{}
		if err := json.Unmarshal(qualityJSON, run.Quality); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal quality report")
		}
	}
	return &run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, request, status, error, quality, created_at, updated_at FROM runs`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var run model.Run
		var status string
		var reqJSON []byte
		var errMsg *string
		var qualityJSON []byte
		if err := rows.Scan(&run.ID, &reqJSON, &status, &errMsg, &qualityJSON, &run.CreatedAt, &run.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		run.Status = model.RunStatus(status)
		if errMsg != nil {
			run.Error = *errMsg
		}
		if err := json.Unmarshal(reqJSON, &run.Request); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run request")
		}
		if len(qualityJSON) > 0 {
			run.Quality = &model.QualityReport{}
			if err := json.Unmarshal(qualityJSON, run.Quality); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal quality report")
			}
		}
		runs = append(runs, run)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

// SyncReference mirrors the reference mapping tables into the warehouse
// so downstream queries can join facts against dimensions.
func (s *PostgresStore) SyncReference(ctx context.Context, tables *refdata.Tables) error {
	channelRows := make([][]any, len(tables.Channels))
	for i, c := range tables.Channels {
		channelRows[i] = []any{c.Source, c.AppIDPattern, c.SourceNamePattern, c.LandingSitePattern, c.CanonicalChannel}
	}
	if _, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "channel_map",
		Columns:      []string{"source", "app_id_pattern", "source_name_pattern", "landing_site_pattern", "canonical_channel"},
		ConflictKeys: []string{"source", "app_id_pattern", "source_name_pattern", "landing_site_pattern"},
	}, channelRows); err != nil {
		return eris.Wrap(err, "postgres: sync channel_map")
	}

	skuRows := make([][]any, len(tables.SKUs))
	for i, r := range tables.SKUs {
		skuRows[i] = []any{r.RawSKU, r.CanonicalSKU}
	}
	if _, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "sku_map",
		Columns:      []string{"raw_sku", "canonical_sku"},
		ConflictKeys: []string{"raw_sku"},
	}, skuRows); err != nil {
		return eris.Wrap(err, "postgres: sync sku_map")
	}

	promoRows := make([][]any, len(tables.Promos))
	for i, r := range tables.Promos {
		promoRows[i] = []any{r.PromoCode, r.PctOfSales}
	}
	if _, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "promo_budget",
		Columns:      []string{"promo_code", "pct_of_sales"},
		ConflictKeys: []string{"promo_code"},
	}, promoRows); err != nil {
		return eris.Wrap(err, "postgres: sync promo_budget")
	}

	infRows := make([][]any, len(tables.Influencers))
	for i, r := range tables.Influencers {
		infRows[i] = []any{r.Code, r.CanonicalInfluencer, r.FeeModel}
	}
	if _, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "influencer_map",
		Columns:      []string{"code", "canonical_influencer", "fee_model"},
		ConflictKeys: []string{"code"},
	}, infRows); err != nil {
		return eris.Wrap(err, "postgres: sync influencer_map")
	}

	return nil
}
