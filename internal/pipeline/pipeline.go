// Package pipeline orchestrates one batch rebuild: load snapshots, apply
// schema normalization per source, attribute, compute metrics, aggregate,
// and replace the owned range in the fact store.
package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/sales-cli/internal/attribution"
	"github.com/sells-group/sales-cli/internal/bucket"
	"github.com/sells-group/sales-cli/internal/config"
	"github.com/sells-group/sales-cli/internal/metrics"
	"github.com/sells-group/sales-cli/internal/model"
	"github.com/sells-group/sales-cli/internal/refdata"
	"github.com/sells-group/sales-cli/internal/source"
	"github.com/sells-group/sales-cli/internal/store"
)

// Pipeline wires the source registry, reference resolver and fact store
// into one batch transform.
type Pipeline struct {
	cfg      *config.Config
	registry *source.Registry
	resolver *refdata.Resolver
	store    store.Store

	// DryRun runs the transform and reports quality without touching the
	// store or the run log.
	DryRun bool
}

// New creates a Pipeline with all dependencies.
func New(cfg *config.Config, st store.Store, registry *source.Registry, resolver *refdata.Resolver) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		registry: registry,
		resolver: resolver,
		store:    st,
	}
}

// sourceResult carries one source's finished contribution to the run.
type sourceResult struct {
	source    string
	orders    []model.OrderFact
	lines     []model.LineItemFact
	agg       *bucket.Aggregator
	count     model.SourceCount
	anomalies []model.Anomaly
}

// Run executes one batch rebuild for the requested window. Per-source
// failures are recorded in the quality report and do not stop the other
// sources; store failures fail the whole run.
func (p *Pipeline) Run(ctx context.Context, req model.RunRequest) (*model.RunResult, error) {
	log := zap.L().With(
		zap.Time("from", req.From),
		zap.Time("to", req.To),
		zap.String("granularity", string(req.Granularity)),
	)
	log.Info("pipeline: starting rebuild")

	loc, err := p.cfg.Run.Location()
	if err != nil {
		return nil, err
	}
	weekStart, err := p.cfg.Run.WeekStartDay()
	if err != nil {
		return nil, err
	}

	var runID string
	if !p.DryRun {
		run, err := p.store.CreateRun(ctx, req)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: create run")
		}
		runID = run.ID
		log = log.With(zap.String("run_id", runID))
		if err := p.store.UpdateRunStatus(ctx, runID, model.RunStatusRunning); err != nil {
			return nil, eris.Wrap(err, "pipeline: mark run running")
		}
	}

	result, err := p.transform(ctx, req, loc, weekStart, log)
	if err != nil {
		if runID != "" {
			if failErr := p.store.FailRun(ctx, runID, err); failErr != nil {
				log.Error("pipeline: record failure", zap.Error(failErr))
			}
		}
		return nil, err
	}

	if runID != "" {
		if err := p.store.CompleteRun(ctx, runID, &result.Quality); err != nil {
			return nil, eris.Wrap(err, "pipeline: complete run")
		}
	}

	log.Info("pipeline: rebuild complete",
		zap.Int("orders", result.Orders),
		zap.Int("lines", result.Lines),
		zap.Int("aggregates", result.Aggregates),
		zap.Int64("unresolved", result.Quality.TotalUnresolved()),
		zap.Int("anomalies", len(result.Quality.Anomalies)),
	)
	return result, nil
}

func (p *Pipeline) transform(ctx context.Context, req model.RunRequest, loc *time.Location, weekStart time.Weekday, log *zap.Logger) (*model.RunResult, error) {
	dirs, rejected, err := p.resolveSources(req.Sources)
	if err != nil {
		return nil, err
	}

	// The engine carries this run's unresolved tally; concurrent runs on
	// the same Pipeline each get their own.
	engine := attribution.New(p.resolver)
	calc := metrics.NewCalculator(req.Flags)
	cutoff := req.From.AddDate(0, 0, -p.cfg.Run.SnapshotWindow)

	var (
		mu      sync.Mutex
		results []sourceResult
	)

	g, gctx := errgroup.WithContext(ctx)
	concurrency := p.cfg.Run.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	g.SetLimit(concurrency)

	for _, d := range dirs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, rej := p.runSource(d, req, engine, calc, loc, weekStart, cutoff, log)
			mu.Lock()
			defer mu.Unlock()
			if rej != nil {
				rejected = append(rejected, *rej)
				return nil
			}
			results = append(results, *res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "pipeline: source workers")
	}

	// Deterministic assembly regardless of worker completion order.
	sort.Slice(results, func(i, j int) bool { return results[i].source < results[j].source })

	agg := bucket.New(req.Granularity, loc, weekStart, bucket.WithPromoPct(p.resolver.PromoPct))
	quality := model.QualityReport{
		SourceCounts:    map[string]model.SourceCount{},
		RejectedBatches: rejected,
	}
	var orders []model.OrderFact
	var lines []model.LineItemFact
	for _, res := range results {
		orders = append(orders, res.orders...)
		lines = append(lines, res.lines...)
		agg.Merge(res.agg)
		quality.SourceCounts[res.source] = res.count
		quality.Anomalies = append(quality.Anomalies, res.anomalies...)
	}
	quality.Unresolved = engine.Unresolved()
	rows := agg.Rows()

	if !p.DryRun {
		w := store.Window{From: req.From, To: req.To, Sources: req.Sources}
		if err := p.store.ReplaceFacts(ctx, w, orders, lines); err != nil {
			return nil, eris.Wrap(err, "pipeline: replace facts")
		}
		// Aggregate rows snap to bucket starts, which can precede the
		// window start; widen the delete range to the truncated bound.
		aw := store.Window{From: bucket.Truncate(req.From, req.Granularity, loc, weekStart), To: req.To}
		if err := p.store.ReplaceAggregates(ctx, aw, req.Granularity, rows); err != nil {
			return nil, eris.Wrap(err, "pipeline: replace aggregates")
		}
	}

	return &model.RunResult{
		Orders:     len(orders),
		Lines:      len(lines),
		Aggregates: len(rows),
		Quality:    quality,
	}, nil
}

// sourceDir pairs a raw snapshot directory with its resolved schema.
type sourceDir struct {
	dir    string
	schema source.Schema
}

// resolveSources maps the requested (or discovered) sources to snapshot
// directories and schemas. An unrecognized schema rejects that source;
// the rest of the run proceeds.
func (p *Pipeline) resolveSources(requested []string) ([]sourceDir, []model.RejectedBatch, error) {
	names := requested
	if len(names) == 0 {
		entries, err := os.ReadDir(p.cfg.Run.RawDir)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "pipeline: read raw dir %s", p.cfg.Run.RawDir)
		}
		for _, e := range entries {
			if e.IsDir() {
				names = append(names, e.Name())
			}
		}
	}

	var dirs []sourceDir
	var rejected []model.RejectedBatch
	for _, name := range names {
		dir := filepath.Join(p.cfg.Run.RawDir, name)
		schema, err := p.schemaFor(dir, name)
		if err != nil {
			var unknown *source.UnknownSchemaError
			if errors.As(err, &unknown) {
				rejected = append(rejected, model.RejectedBatch{
					Source:  unknown.Source,
					Version: unknown.Version,
					Reason:  unknown.Error(),
				})
				continue
			}
			return nil, nil, err
		}
		dirs = append(dirs, sourceDir{dir: dir, schema: schema})
	}
	return dirs, rejected, nil
}

// schemaFor resolves the schema for one snapshot directory. A manifest
// with an inline mapping defines an ad-hoc CSV feed; otherwise the
// declared (or defaulted) source and version must be registered.
func (p *Pipeline) schemaFor(dir, name string) (source.Schema, error) {
	manifest, err := source.ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	if manifest == nil {
		return p.registry.Resolve(name, "")
	}
	if manifest.Mapping != nil {
		if err := manifest.Mapping.Validate(); err != nil {
			return nil, err
		}
		return source.NewCSVFeed(manifest.Source, manifest.Version, *manifest.Mapping), nil
	}
	return p.registry.Resolve(manifest.Source, manifest.Version)
}

// runSource loads, normalizes, attributes and aggregates one source's
// snapshots. A load or schema failure rejects the batch instead of
// failing the run.
func (p *Pipeline) runSource(d sourceDir, req model.RunRequest, engine *attribution.Engine, calc *metrics.Calculator, loc *time.Location, weekStart time.Weekday, cutoff time.Time, log *zap.Logger) (*sourceResult, *model.RejectedBatch) {
	name := d.schema.Source()
	slog := log.With(zap.String("source", name), zap.String("schema", d.schema.Name()))

	snapshots, err := source.ListSnapshots(d.dir, cutoff)
	if err != nil {
		return nil, &model.RejectedBatch{Source: name, Version: d.schema.Version(), Reason: err.Error()}
	}

	var raw []model.RawOrder
	var dropped int64
	for _, snap := range snapshots {
		orders, n, err := d.schema.Normalize(snap.Payload)
		if err != nil {
			slog.Error("pipeline: normalize snapshot failed", zap.String("path", snap.Path), zap.Error(err))
			return nil, &model.RejectedBatch{Source: name, Version: d.schema.Version(), Reason: err.Error()}
		}
		raw = append(raw, orders...)
		dropped += n
	}
	raw = source.DedupeOrders(raw)

	res := &sourceResult{
		source: name,
		agg:    bucket.New(req.Granularity, loc, weekStart, bucket.WithPromoPct(p.resolver.PromoPct)),
		count:  model.SourceCount{Dropped: dropped},
	}

	for _, ro := range raw {
		created := ro.CreatedAt.In(loc)
		if created.Before(req.From) || !created.Before(req.To) {
			continue
		}

		attributed := engine.Attribute(ro, loc)
		attributed.Order.Metrics = calc.OrderSet(&ro)
		attributed.Lines = calc.Allocate(&attributed.Order, attributed.Lines)

		checkReconciliation(res, &attributed.Order, attributed.Lines, slog)

		res.agg.AddOrder(&attributed.Order, attributed.Lines)
		res.orders = append(res.orders, attributed.Order)
		res.lines = append(res.lines, attributed.Lines...)
		res.count.Orders++
		res.count.Lines += int64(len(attributed.Lines))
	}

	slog.Info("pipeline: source done",
		zap.Int64("orders", res.count.Orders),
		zap.Int64("lines", res.count.Lines),
		zap.Int64("dropped", res.count.Dropped),
	)
	return res, nil
}

// checkReconciliation records an anomaly when an order's line nets do not sum
// to its net within tolerance. The order is kept either way.
func checkReconciliation(res *sourceResult, order *model.OrderFact, lines []model.LineItemFact, slog *zap.Logger) {
	if len(lines) == 0 {
		return
	}
	delta, ok := metrics.Reconcile(order, lines)
	if ok {
		return
	}
	var lineSum model.Cents
	for _, li := range lines {
		lineSum += li.NetLine
	}
	res.anomalies = append(res.anomalies, model.Anomaly{
		OrderKey: order.OrderKey,
		OrderNet: order.Metrics.Net,
		LineSum:  lineSum,
		Delta:    delta,
	})
	slog.Warn("pipeline: reconciliation anomaly",
		zap.String("order_key", order.OrderKey),
		zap.Int64("delta", int64(delta)),
	)
}
