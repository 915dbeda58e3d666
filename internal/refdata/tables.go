// Package refdata loads the reference mapping tables and resolves raw keys
// to canonical dimension values. Tables are read-only inputs to a run; the
// resolver never mutates them.
package refdata

import "regexp"

// Mapping table names, used as keys in unresolved counters and error text.
const (
	TableChannelMap    = "channel_map"
	TableSKUMap        = "sku_map"
	TablePromoBudget   = "promo_budget"
	TableInfluencerMap = "influencer_map"
)

// Fallback keys returned when a raw key has no mapping entry. Rows are
// produced with the fallback rather than dropped so revenue is never
// silently understated.
const (
	UnclassifiedChannel = "unclassified"
	UnresolvedSKU       = "unresolved-sku"
	UnresolvedPromo     = "unresolved-promo"
)

// ChannelRule is one channel_map row. A rule matches on exactly the fields
// that are non-empty; precedence between the three match kinds is fixed by
// the resolver, not by the table.
type ChannelRule struct {
	Source             string `json:"source"`
	AppIDPattern       string `json:"app_id_pattern"`
	SourceNamePattern  string `json:"source_name_pattern"`
	LandingSitePattern string `json:"landing_site_pattern"`
	CanonicalChannel   string `json:"canonical_channel"`

	sourceNameRe  *regexp.Regexp
	landingSiteRe *regexp.Regexp
}

// SKURow maps a source-native SKU to its canonical key.
type SKURow struct {
	RawSKU       string `json:"raw_sku"`
	CanonicalSKU string `json:"canonical_sku"`
}

// PromoRow maps a promo code to its budgeted cost share.
type PromoRow struct {
	PromoCode  string  `json:"promo_code"`
	PctOfSales float64 `json:"pct_of_sales"`
}

// InfluencerRow maps a discount code to an influencer.
type InfluencerRow struct {
	Code                string `json:"code"`
	CanonicalInfluencer string `json:"canonical_influencer"`
	FeeModel            string `json:"fee_model"`
}

// Tables holds the four mapping tables in load order.
type Tables struct {
	Channels    []ChannelRule
	SKUs        []SKURow
	Promos      []PromoRow
	Influencers []InfluencerRow
}
