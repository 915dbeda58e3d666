package bucket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sales-cli/internal/model"
)

var nyc = mustLoadLocation("America/New_York")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func TestTruncate(t *testing.T) {
	// Wednesday 2025-03-12 14:30 local.
	ts := time.Date(2025, 3, 12, 14, 30, 0, 0, nyc)

	tests := []struct {
		g    model.Granularity
		want time.Time
	}{
		{model.Day, time.Date(2025, 3, 12, 0, 0, 0, 0, nyc)},
		{model.Week, time.Date(2025, 3, 10, 0, 0, 0, 0, nyc)},
		{model.Month, time.Date(2025, 3, 1, 0, 0, 0, 0, nyc)},
		{model.Quarter, time.Date(2025, 1, 1, 0, 0, 0, 0, nyc)},
		{model.Year, time.Date(2025, 1, 1, 0, 0, 0, 0, nyc)},
	}
	for _, tt := range tests {
		t.Run(string(tt.g), func(t *testing.T) {
			got := Truncate(ts, tt.g, nyc, time.Monday)
			assert.True(t, tt.want.Equal(got), "want %s got %s", tt.want, got)
		})
	}
}

func TestTruncateWeekStart(t *testing.T) {
	// Sunday 2025-03-16: with Monday weeks it belongs to the week of the
	// 10th; with Sunday weeks it starts its own week.
	sun := time.Date(2025, 3, 16, 9, 0, 0, 0, nyc)
	assert.Equal(t, 10, Truncate(sun, model.Week, nyc, time.Monday).Day())
	assert.Equal(t, 16, Truncate(sun, model.Week, nyc, time.Sunday).Day())

	// A Monday truncates to itself under Monday weeks.
	mon := time.Date(2025, 3, 10, 0, 0, 0, 0, nyc)
	assert.True(t, mon.Equal(Truncate(mon, model.Week, nyc, time.Monday)))
}

func TestTruncateCrossesMonthBoundary(t *testing.T) {
	// Saturday 2025-03-01 under Monday weeks falls back into February.
	sat := time.Date(2025, 3, 1, 12, 0, 0, 0, nyc)
	got := Truncate(sat, model.Week, nyc, time.Monday)
	assert.Equal(t, time.February, got.Month())
	assert.Equal(t, 24, got.Day())
}

func TestTruncateConvertsTimezone(t *testing.T) {
	// 02:30 UTC on the 15th is still the 14th in New York.
	utc := time.Date(2025, 6, 15, 2, 30, 0, 0, time.UTC)
	got := Truncate(utc, model.Day, nyc, time.Monday)
	assert.Equal(t, 14, got.Day())
}

func order(id, channel string, day int, net model.Cents) (*model.OrderFact, []model.LineItemFact) {
	key := model.OrderKey("shopify", id)
	of := &model.OrderFact{
		OrderKey:   key,
		Source:     "shopify",
		CreatedAt:  time.Date(2025, 3, day, 10, 0, 0, 0, nyc),
		ChannelKey: channel,
		Metrics:    model.MetricSet{Gross: net, Net: net},
		LineCount:  1,
	}
	lines := []model.LineItemFact{{
		OrderKey:  key,
		LineNo:    1,
		CreatedAt: of.CreatedAt,
		SKUKey:    "widget",
		PromoKeys: []string{"SPRING10"},
		Quantity:  2,
		Extended:  net,
		NetLine:   net,
	}}
	return of, lines
}

func TestAggregatorSlices(t *testing.T) {
	a := New(model.Day, nyc, time.Monday)
	of, lines := order("1", "web", 12, 5000)
	a.AddOrder(of, lines)

	rows := a.Rows()
	require.Len(t, rows, 4) // all, channel, sku, promo

	all := rows[0]
	assert.Equal(t, model.SliceAll, all.Slice.Type)
	assert.Equal(t, model.Cents(5000), all.Metrics.Net)
	assert.Equal(t, int64(1), all.OrderCount)
	assert.Equal(t, int64(2), all.Units)
	assert.Equal(t, int64(1), all.UniqueSKUCount)
	assert.Equal(t, model.Cents(5000), all.AOV)

	assert.Equal(t, model.SliceChannel, rows[1].Slice.Type)
	assert.Equal(t, "web", rows[1].Slice.Key)
	assert.Equal(t, model.SliceSKU, rows[2].Slice.Type)
	assert.Equal(t, "widget", rows[2].Slice.Key)
	assert.Equal(t, model.SlicePromo, rows[3].Slice.Type)
	assert.Equal(t, "SPRING10", rows[3].Slice.Key)
}

func TestAggregatorWeekBucketScenario(t *testing.T) {
	// Orders on Wed the 12th and Fri the 14th land in the same Monday
	// week; Sunday the 16th does too, Monday the 17th starts the next.
	a := New(model.Week, nyc, time.Monday)
	for _, d := range []struct {
		id  string
		day int
	}{{"1", 12}, {"2", 14}, {"3", 16}, {"4", 17}} {
		of, lines := order(d.id, "web", d.day, 1000)
		a.AddOrder(of, lines)
	}

	rows := a.Rows()
	var weeks []model.AggregateRow
	for _, r := range rows {
		if r.Slice.Type == model.SliceAll {
			weeks = append(weeks, r)
		}
	}
	require.Len(t, weeks, 2)
	assert.Equal(t, 10, weeks[0].Bucket.PeriodStart.Day())
	assert.Equal(t, int64(3), weeks[0].OrderCount)
	assert.Equal(t, 17, weeks[1].Bucket.PeriodStart.Day())
	assert.Equal(t, int64(1), weeks[1].OrderCount)
}

func TestAggregatorCommutative(t *testing.T) {
	build := func(ids []string) *Aggregator {
		a := New(model.Month, nyc, time.Monday)
		for i, id := range ids {
			of, lines := order(id, "web", 10+i%5, 1000)
			a.AddOrder(of, lines)
		}
		return a
	}

	whole := build([]string{"1", "2", "3", "4"})
	reversed := build([]string{"4", "3", "2", "1"})
	assert.Equal(t, whole.Rows(), reversed.Rows())

	// Splitting into sub-batches and merging gives the same rows.
	left := build([]string{"1", "2"})
	right := build([]string{"3", "4"})
	left.Merge(right)
	assert.Equal(t, whole.Rows(), left.Rows())
}

func TestAggregatorDistinctOrderCount(t *testing.T) {
	// The same order folded via two cells still counts once per slice.
	a := New(model.Day, nyc, time.Monday)
	of1, l1 := order("1", "web", 12, 1000)
	of2, l2 := order("2", "web", 12, 2000)
	a.AddOrder(of1, l1)
	a.AddOrder(of2, l2)

	for _, r := range a.Rows() {
		if r.Slice.Type == model.SliceChannel {
			assert.Equal(t, int64(2), r.OrderCount)
			assert.Equal(t, model.Cents(1500), r.AOV)
		}
	}
}

func TestAggregatorPromoCost(t *testing.T) {
	a := New(model.Day, nyc, time.Monday, WithPromoPct(func(key string) float64 {
		if key == "SPRING10" {
			return 0.10
		}
		return 0
	}))
	of, lines := order("1", "web", 12, 5000)
	a.AddOrder(of, lines)

	for _, r := range a.Rows() {
		if r.Slice.Type == model.SlicePromo {
			assert.Equal(t, model.Cents(500), r.PromoCost)
		} else {
			assert.Zero(t, r.PromoCost)
		}
	}
}

func TestAggregatorZeroLineOrder(t *testing.T) {
	a := New(model.Day, nyc, time.Monday)
	of := &model.OrderFact{
		OrderKey:   model.OrderKey("shopify", "empty"),
		CreatedAt:  time.Date(2025, 3, 12, 10, 0, 0, 0, nyc),
		ChannelKey: "web",
		Metrics:    model.MetricSet{Gross: 100, Net: 100},
	}
	a.AddOrder(of, nil)

	rows := a.Rows()
	require.Len(t, rows, 2) // all + channel, no sku/promo slices
	assert.Equal(t, int64(1), rows[0].OrderCount)
	assert.Zero(t, rows[0].Units)
	assert.Zero(t, rows[0].UniqueSKUCount)
}
