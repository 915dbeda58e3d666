package model

import (
	"fmt"
	"time"
)

// Flags selects which order-level components participate in net revenue.
// The set is fixed for a whole run; mixing policies within one date range
// would make stored aggregates unreconcilable.
type Flags struct {
	IncludeShipping bool `json:"include_shipping"`
	IncludeTaxes    bool `json:"include_taxes"`
}

// MetricSet is the additive metric shape shared by order facts and
// aggregate rows. All fields are minor units and sum elementwise.
type MetricSet struct {
	Gross     Cents `json:"gross_revenue"`
	Discounts Cents `json:"discounts"`
	Refunds   Cents `json:"refunds"`
	Shipping  Cents `json:"shipping_charged"`
	Taxes     Cents `json:"taxes"`
	Net       Cents `json:"net_revenue"`
}

// Add folds another MetricSet into this one elementwise.
func (m *MetricSet) Add(o MetricSet) {
	m.Gross += o.Gross
	m.Discounts += o.Discounts
	m.Refunds += o.Refunds
	m.Shipping += o.Shipping
	m.Taxes += o.Taxes
	m.Net += o.Net
}

// OrderKey builds the globally unique canonical order identifier.
func OrderKey(source, sourceOrderID string) string {
	return fmt.Sprintf("%s:%s", source, sourceOrderID)
}

// OrderFact is the order-grain canonical row. CreatedAt is already in the
// reporting timezone. Order count is implicitly 1 per fact.
type OrderFact struct {
	OrderKey      string    `json:"order_key"`
	Source        string    `json:"source"`
	SourceOrderID string    `json:"source_order_id"`
	CreatedAt     time.Time `json:"created_at"`
	ChannelKey    string    `json:"channel"`
	ChannelRule   string    `json:"channel_rule,omitempty"`
	PromoCodes    []string  `json:"promo_codes,omitempty"`
	Metrics       MetricSet `json:"metrics"`
	LineCount     int       `json:"line_count"`
}

// LineItemFact is the line-item-grain canonical row. Lines are owned by
// their parent order and carry allocated shares of the order-level amounts
// so that line sums reconcile with the order net exactly.
type LineItemFact struct {
	OrderKey      string    `json:"order_key"`
	LineNo        int       `json:"line_no"`
	CreatedAt     time.Time `json:"created_at"`
	ChannelKey    string    `json:"channel"`
	RawSKU        string    `json:"raw_sku"`
	SKUKey        string    `json:"sku"`
	PromoKeys     []string  `json:"promo_keys,omitempty"`
	InfluencerKey string    `json:"influencer,omitempty"`
	Quantity      int64     `json:"quantity"`
	Extended      Cents     `json:"extended"`
	LineDiscount  Cents     `json:"line_discount"`
	AllocDiscount Cents     `json:"alloc_discount"`
	AllocRefund   Cents     `json:"alloc_refund"`
	AllocShipping Cents     `json:"alloc_shipping"`
	AllocTax      Cents     `json:"alloc_tax"`
	NetLine       Cents     `json:"net_line_revenue"`
}
