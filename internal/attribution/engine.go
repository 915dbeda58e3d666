// Package attribution enriches canonical rows with resolved channel, SKU,
// promo, and influencer dimension keys.
package attribution

import (
	"time"

	"github.com/sells-group/sales-cli/internal/model"
	"github.com/sells-group/sales-cli/internal/refdata"
)

// maxPromoKeys bounds the promo key sequence on a line. Promos stack, but
// not without limit; anything past the cap is operator error upstream.
const maxPromoKeys = 8

// Engine resolves dimension keys for normalized rows and tallies misses.
// The resolver is shared and immutable; the unresolved tally belongs to
// this engine, so concurrent runs each build their own engine while one
// run's source workers safely share it.
type Engine struct {
	resolver   *refdata.Resolver
	unresolved *refdata.UnresolvedCounts
}

// New creates an attribution engine over a loaded resolver with a fresh
// unresolved tally.
func New(resolver *refdata.Resolver) *Engine {
	return &Engine{
		resolver:   resolver,
		unresolved: &refdata.UnresolvedCounts{},
	}
}

// Unresolved returns this engine's per-table miss counts.
func (e *Engine) Unresolved() map[string]int64 {
	return e.unresolved.Snapshot()
}

// Attributed is one raw order after attribution, ready for metric
// computation. Metric fields are still zero.
type Attributed struct {
	Order model.OrderFact
	Lines []model.LineItemFact
}

// Attribute resolves all dimension keys for a raw order and converts its
// creation timestamp into the reporting timezone. It never fails: misses
// land in fallback keys and the engine's unresolved tally.
func (e *Engine) Attribute(raw model.RawOrder, loc *time.Location) Attributed {
	channel, rule := e.resolver.ResolveChannel(raw.Source, raw.Hints)
	if rule == refdata.RuleFallback {
		e.unresolved.CountChannel()
	}

	orderKey := model.OrderKey(raw.Source, raw.SourceOrderID)
	createdAt := raw.CreatedAt.In(loc)

	promoKeys := e.resolvePromos(raw.PromoCodes)
	influencer := e.resolveInfluencer(raw.PromoCodes)

	out := Attributed{
		Order: model.OrderFact{
			OrderKey:      orderKey,
			Source:        raw.Source,
			SourceOrderID: raw.SourceOrderID,
			CreatedAt:     createdAt,
			ChannelKey:    channel,
			ChannelRule:   rule,
			PromoCodes:    raw.PromoCodes,
			LineCount:     len(raw.Lines),
		},
	}

	for i, li := range raw.Lines {
		out.Lines = append(out.Lines, model.LineItemFact{
			OrderKey:      orderKey,
			LineNo:        i + 1,
			CreatedAt:     createdAt,
			ChannelKey:    channel,
			RawSKU:        li.RawSKU,
			SKUKey:        e.resolveSKU(li.RawSKU),
			PromoKeys:     promoKeys,
			InfluencerKey: influencer,
			Quantity:      li.Quantity,
			Extended:      li.Extended,
			LineDiscount:  li.LineDiscount,
		})
	}

	return out
}

func (e *Engine) resolveSKU(raw string) string {
	key := e.resolver.ResolveSKU(raw)
	if key == refdata.UnresolvedSKU {
		e.unresolved.CountSKU()
	}
	return key
}

// resolvePromos maps the order's promo codes to canonical promo keys,
// keeping the sequence order and the configured cap.
func (e *Engine) resolvePromos(codes []string) []string {
	if len(codes) == 0 {
		return nil
	}
	if len(codes) > maxPromoKeys {
		codes = codes[:maxPromoKeys]
	}
	keys := make([]string, 0, len(codes))
	for _, c := range codes {
		key := e.resolver.ResolvePromo(c)
		if key == refdata.UnresolvedPromo {
			e.unresolved.CountPromo()
		}
		keys = append(keys, key)
	}
	return keys
}

// resolveInfluencer returns the influencer for the first code with an
// influencer_map entry. When codes exist but none resolve, that is one
// influencer attribution miss for the order.
func (e *Engine) resolveInfluencer(codes []string) string {
	if len(codes) == 0 {
		return ""
	}
	for _, c := range codes {
		if row, ok := e.resolver.LookupInfluencer(c); ok {
			return row.CanonicalInfluencer
		}
	}
	e.unresolved.CountInfluencer()
	return ""
}
