// Package metrics computes derived monetary metrics for canonical rows.
// All arithmetic is integer minor units; nothing here touches floats
// except the promo pct-of-sales cost at the very end.
package metrics

import (
	"math"

	"github.com/sells-group/sales-cli/internal/model"
)

// ReconcileTolerance is the allowed gap, in minor units, between an
// order's net revenue and the sum of its line nets.
const ReconcileTolerance = 1

// Calculator computes metric sets under one run's flag configuration.
type Calculator struct {
	flags model.Flags
}

// NewCalculator creates a Calculator for the given net revenue flags.
func NewCalculator(flags model.Flags) *Calculator {
	return &Calculator{flags: flags}
}

// OrderSet computes the order-grain metric set from raw components:
// net = gross - discounts - refunds + shipping (if included) - taxes (if
// included), exact in minor units.
func (c *Calculator) OrderSet(raw *model.RawOrder) model.MetricSet {
	m := model.MetricSet{
		Gross:     raw.GrossRevenue(),
		Discounts: raw.TotalDiscounts(),
		Refunds:   raw.Refunds,
		Shipping:  raw.Shipping,
		Taxes:     raw.Taxes,
	}
	m.Net = m.Gross - m.Discounts - m.Refunds
	if c.flags.IncludeShipping {
		m.Net += m.Shipping
	}
	if c.flags.IncludeTaxes {
		m.Net -= m.Taxes
	}
	return m
}

// Allocate spreads the order-level components across the order's lines
// proportionally to extended price using largest-remainder rounding, then
// fills each line's net revenue. The shares sum to the order amounts
// exactly, so line nets reconcile with the order net by construction
// whenever the source amounts themselves are consistent.
func (c *Calculator) Allocate(order *model.OrderFact, lines []model.LineItemFact) []model.LineItemFact {
	if len(lines) == 0 {
		return lines
	}

	weights := make([]model.Cents, len(lines))
	for i, li := range lines {
		weights[i] = li.Extended
	}

	discounts := apportion(orderLevelDiscount(order, lines), weights)
	refunds := apportion(order.Metrics.Refunds, weights)

	var shipping, taxes []model.Cents
	if c.flags.IncludeShipping {
		shipping = apportion(order.Metrics.Shipping, weights)
	}
	if c.flags.IncludeTaxes {
		taxes = apportion(order.Metrics.Taxes, weights)
	}

	for i := range lines {
		li := &lines[i]
		li.AllocDiscount = discounts[i]
		li.AllocRefund = refunds[i]
		if shipping != nil {
			li.AllocShipping = shipping[i]
		}
		if taxes != nil {
			li.AllocTax = taxes[i]
		}
		li.NetLine = li.Extended - li.LineDiscount - li.AllocDiscount - li.AllocRefund + li.AllocShipping - li.AllocTax
	}

	return lines
}

// orderLevelDiscount is the portion of the order's discounts not already
// carried on individual lines.
func orderLevelDiscount(order *model.OrderFact, lines []model.LineItemFact) model.Cents {
	total := order.Metrics.Discounts
	for _, li := range lines {
		total -= li.LineDiscount
	}
	if total < 0 {
		return 0
	}
	return total
}

// Reconcile checks that line nets sum to the order net within tolerance.
// It returns the delta and whether the order reconciles. Zero-line orders
// always reconcile; there is nothing to compare.
func Reconcile(order *model.OrderFact, lines []model.LineItemFact) (model.Cents, bool) {
	if len(lines) == 0 {
		return 0, true
	}
	var sum model.Cents
	for _, li := range lines {
		sum += li.NetLine
	}
	delta := order.Metrics.Net - sum
	if delta < 0 {
		return delta, -delta <= ReconcileTolerance
	}
	return delta, delta <= ReconcileTolerance
}

// AOV is average order value at aggregate grain. Defined as zero for an
// empty slice, not a division fault.
func AOV(net model.Cents, orderCount int64) model.Cents {
	if orderCount == 0 {
		return 0
	}
	return net / model.Cents(orderCount)
}

// PromoCost estimates a promo slice's cost as its budgeted share of net
// revenue, rounded to the nearest cent.
func PromoCost(net model.Cents, pctOfSales float64) model.Cents {
	if pctOfSales == 0 {
		return 0
	}
	return model.Cents(math.Round(float64(net) * pctOfSales))
}

// apportion splits total across weights proportionally with largest-
// remainder rounding, so the shares always sum to total exactly. Equal
// weights are used when all weights are zero. Order of equal remainders is
// broken by index, keeping the split deterministic across reruns.
func apportion(total model.Cents, weights []model.Cents) []model.Cents {
	n := len(weights)
	shares := make([]model.Cents, n)
	if n == 0 || total == 0 {
		return shares
	}

	var sum model.Cents
	for _, w := range weights {
		sum += w
	}
	if sum == 0 {
		// Degenerate batch of zero-priced lines: split evenly.
		even := total / model.Cents(n)
		var given model.Cents
		for i := range shares {
			shares[i] = even
			given += even
		}
		for i := 0; given < total; i++ {
			shares[i]++
			given++
		}
		return shares
	}

	type rem struct {
		idx int
		r   model.Cents
	}
	rems := make([]rem, n)
	var given model.Cents
	for i, w := range weights {
		exact := total * w
		shares[i] = exact / sum
		rems[i] = rem{idx: i, r: exact % sum}
		given += shares[i]
	}

	// Hand the leftover cents to the largest remainders.
	for given < total {
		best := -1
		for i := range rems {
			if rems[i].r < 0 {
				continue
			}
			if best == -1 || rems[i].r > rems[best].r {
				best = i
			}
		}
		if best == -1 {
			break
		}
		shares[rems[best].idx]++
		rems[best].r = -1
		given++
	}

	return shares
}
