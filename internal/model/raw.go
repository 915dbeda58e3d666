package model

import "time"

// AttributionHints carries the source-specific channel signals a raw order
// arrived with. Which hint wins is decided by the attribution engine, not
// by the source schema that produced the record.
type AttributionHints struct {
	AppID       string `json:"app_id,omitempty"`
	SourceName  string `json:"source_name,omitempty"`
	LandingSite string `json:"landing_site,omitempty"`
}

// RawLineItem is a single line of a raw order after source-schema field
// mapping. A missing SKU is retained as an empty RawSKU; dropping the line
// would silently understate revenue.
type RawLineItem struct {
	LineID       string `json:"line_id,omitempty"`
	RawSKU       string `json:"raw_sku"`
	Title        string `json:"title,omitempty"`
	Quantity     int64  `json:"quantity"`
	UnitPrice    Cents  `json:"unit_price"`
	Extended     Cents  `json:"extended"`
	LineDiscount Cents  `json:"line_discount"`
}

// RawOrder is the canonical intermediate shape every source schema
// normalizes into. Monetary fields are already in minor units; the
// created-at timestamp still carries the source's UTC offset.
type RawOrder struct {
	Source        string           `json:"source"`
	SourceOrderID string           `json:"source_order_id"`
	CreatedAt     time.Time        `json:"created_at"`
	Lines         []RawLineItem    `json:"lines"`
	OrderDiscount Cents            `json:"order_discount"`
	Refunds       Cents            `json:"refunds"`
	Shipping      Cents            `json:"shipping"`
	Taxes         Cents            `json:"taxes"`
	PromoCodes    []string         `json:"promo_codes,omitempty"`
	Hints         AttributionHints `json:"hints"`
}

// GrossRevenue sums the extended price of all lines.
func (o *RawOrder) GrossRevenue() Cents {
	var total Cents
	for _, li := range o.Lines {
		total += li.Extended
	}
	return total
}

// TotalDiscounts sums the order-level discount and all line discounts.
func (o *RawOrder) TotalDiscounts() Cents {
	total := o.OrderDiscount
	for _, li := range o.Lines {
		total += li.LineDiscount
	}
	return total
}
