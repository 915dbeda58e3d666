package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "shopify:12345", OrderKey("shopify", "12345"))
	assert.Equal(t, "csvfeed:A-1", OrderKey("csvfeed", "A-1"))
}

func TestMetricSetAdd(t *testing.T) {
	t.Parallel()

	m := MetricSet{Gross: 100, Discounts: 10, Net: 90}
	m.Add(MetricSet{Gross: 50, Refunds: 5, Net: 45})

	assert.Equal(t, Cents(150), m.Gross)
	assert.Equal(t, Cents(10), m.Discounts)
	assert.Equal(t, Cents(5), m.Refunds)
	assert.Equal(t, Cents(135), m.Net)
}

func TestParseGranularity(t *testing.T) {
	t.Parallel()

	for _, valid := range []string{"day", "week", "month", "quarter", "year"} {
		g, err := ParseGranularity(valid)
		require.NoError(t, err)
		assert.Equal(t, Granularity(valid), g)
	}

	_, err := ParseGranularity("fortnight")
	require.Error(t, err)
}

func TestRawOrderTotals(t *testing.T) {
	t.Parallel()

	o := RawOrder{
		Source:        "shopify",
		SourceOrderID: "1",
		CreatedAt:     time.Now(),
		OrderDiscount: 200,
		Lines: []RawLineItem{
			{RawSKU: "A", Quantity: 2, UnitPrice: 3000, Extended: 6000, LineDiscount: 100},
			{RawSKU: "", Quantity: 1, UnitPrice: 4000, Extended: 4000},
		},
	}

	assert.Equal(t, Cents(10000), o.GrossRevenue())
	assert.Equal(t, Cents(300), o.TotalDiscounts())
}

func TestRawOrderTotalsNoLines(t *testing.T) {
	t.Parallel()

	o := RawOrder{OrderDiscount: 500, Refunds: 250}
	assert.Equal(t, Cents(0), o.GrossRevenue())
	assert.Equal(t, Cents(500), o.TotalDiscounts())
}
