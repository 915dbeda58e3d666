package bucket

import (
	"sort"
	"time"

	"github.com/sells-group/sales-cli/internal/metrics"
	"github.com/sells-group/sales-cli/internal/model"
)

// sliceRank fixes the output ordering of slice types within a bucket.
var sliceRank = map[model.SliceType]int{
	model.SliceAll:        0,
	model.SliceChannel:    1,
	model.SliceSKU:        2,
	model.SlicePromo:      3,
	model.SliceInfluencer: 4,
}

// cellKey identifies one (bucket, slice) pair. The period is keyed by
// unix seconds so cells from separately built aggregators collide
// correctly regardless of time.Time internals.
type cellKey struct {
	period    int64
	sliceType model.SliceType
	sliceKey  string
}

// cell accumulates one (bucket, slice) pair. Orders and SKUs are tracked
// as sets, not counters, so folding the same slice from two sub-batches
// and then merging gives the same result as folding the whole batch.
type cell struct {
	metrics model.MetricSet
	units   int64
	orders  map[string]struct{}
	skus    map[string]struct{}
}

func newCell() *cell {
	return &cell{orders: map[string]struct{}{}, skus: map[string]struct{}{}}
}

// Aggregator folds attributed orders into calendar-bucketed aggregate
// rows. The fold is pure: feeding the same order twice double-counts, so
// callers dedupe upstream; feeding batches in any order, or in separately
// merged sub-aggregators, yields identical rows.
type Aggregator struct {
	granularity model.Granularity
	loc         *time.Location
	weekStart   time.Weekday
	promoPct    func(key string) float64
	cells       map[cellKey]*cell
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithPromoPct supplies the pct-of-sales lookup used to price promo
// slices. Without it promo cost stays zero.
func WithPromoPct(fn func(key string) float64) Option {
	return func(a *Aggregator) { a.promoPct = fn }
}

// New creates an empty Aggregator bucketing at g in loc, weeks starting
// on weekStart.
func New(g model.Granularity, loc *time.Location, weekStart time.Weekday, opts ...Option) *Aggregator {
	a := &Aggregator{
		granularity: g,
		loc:         loc,
		weekStart:   weekStart,
		cells:       map[cellKey]*cell{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AddOrder folds one attributed order and its lines into the aggregator.
// Order-grain metrics feed the all, channel, promo and influencer slices;
// line-grain metrics feed the sku slices. Zero-line orders still count in
// the all and channel slices.
func (a *Aggregator) AddOrder(order *model.OrderFact, lines []model.LineItemFact) {
	period := Truncate(order.CreatedAt, a.granularity, a.loc, a.weekStart)

	var units int64
	for _, li := range lines {
		units += li.Quantity
	}

	slices := []model.Slice{
		{Type: model.SliceAll},
		{Type: model.SliceChannel, Key: order.ChannelKey},
	}
	if len(lines) > 0 {
		// Promo and influencer attribution lives on the lines; the engine
		// stamps every line of an order with the same order-level keys.
		for _, pk := range lines[0].PromoKeys {
			slices = append(slices, model.Slice{Type: model.SlicePromo, Key: pk})
		}
		if inf := lines[0].InfluencerKey; inf != "" {
			slices = append(slices, model.Slice{Type: model.SliceInfluencer, Key: inf})
		}
	}

	for _, s := range slices {
		c := a.cell(period, s)
		c.metrics.Add(order.Metrics)
		c.units += units
		c.orders[order.OrderKey] = struct{}{}
		for _, li := range lines {
			c.skus[li.SKUKey] = struct{}{}
		}
	}

	for _, li := range lines {
		c := a.cell(period, model.Slice{Type: model.SliceSKU, Key: li.SKUKey})
		c.metrics.Add(model.MetricSet{
			Gross:     li.Extended,
			Discounts: li.LineDiscount + li.AllocDiscount,
			Refunds:   li.AllocRefund,
			Shipping:  li.AllocShipping,
			Taxes:     li.AllocTax,
			Net:       li.NetLine,
		})
		c.units += li.Quantity
		c.orders[order.OrderKey] = struct{}{}
		c.skus[li.SKUKey] = struct{}{}
	}
}

// Merge folds another aggregator's cells into this one. Both must share
// the same granularity and timezone; merging is how per-source workers
// combine their partial results.
func (a *Aggregator) Merge(other *Aggregator) {
	for k, oc := range other.cells {
		c, ok := a.cells[k]
		if !ok {
			c = newCell()
			a.cells[k] = c
		}
		c.metrics.Add(oc.metrics)
		c.units += oc.units
		for id := range oc.orders {
			c.orders[id] = struct{}{}
		}
		for sku := range oc.skus {
			c.skus[sku] = struct{}{}
		}
	}
}

// Rows materializes the aggregate rows in deterministic order: by period
// start, then slice type, then slice key.
func (a *Aggregator) Rows() []model.AggregateRow {
	rows := make([]model.AggregateRow, 0, len(a.cells))
	for k, c := range a.cells {
		row := model.AggregateRow{
			Bucket: model.BucketKey{
				Granularity: a.granularity,
				PeriodStart: time.Unix(k.period, 0).In(a.loc),
			},
			Slice:          model.Slice{Type: k.sliceType, Key: k.sliceKey},
			Metrics:        c.metrics,
			Units:          c.units,
			OrderCount:     int64(len(c.orders)),
			UniqueSKUCount: int64(len(c.skus)),
		}
		row.AOV = metrics.AOV(row.Metrics.Net, row.OrderCount)
		if k.sliceType == model.SlicePromo && a.promoPct != nil {
			row.PromoCost = metrics.PromoCost(row.Metrics.Net, a.promoPct(k.sliceKey))
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Bucket.PeriodStart.Equal(rows[j].Bucket.PeriodStart) {
			return rows[i].Bucket.PeriodStart.Before(rows[j].Bucket.PeriodStart)
		}
		ri, rj := sliceRank[rows[i].Slice.Type], sliceRank[rows[j].Slice.Type]
		if ri != rj {
			return ri < rj
		}
		return rows[i].Slice.Key < rows[j].Slice.Key
	})
	return rows
}

func (a *Aggregator) cell(period time.Time, s model.Slice) *cell {
	k := cellKey{period: period.Unix(), sliceType: s.Type, sliceKey: s.Key}
	c, ok := a.cells[k]
	if !ok {
		c = newCell()
		a.cells[k] = c
	}
	return c
}
