package model

import "time"

// SliceType identifies which dimension an aggregate row is broken down by.
type SliceType string

const (
	SliceAll        SliceType = "all"
	SliceChannel    SliceType = "channel"
	SliceSKU        SliceType = "sku"
	SlicePromo      SliceType = "promo"
	SliceInfluencer SliceType = "influencer"
)

// BucketKey is a time bucket in the reporting timezone.
type BucketKey struct {
	Granularity Granularity `json:"granularity"`
	PeriodStart time.Time   `json:"period_start"`
}

// Slice is one dimension breakdown within a bucket. Key is empty for the
// "all" slice.
type Slice struct {
	Type SliceType `json:"type"`
	Key  string    `json:"key,omitempty"`
}

// AggregateRow is one output row of the time bucket aggregator.
// Identity = (Bucket, Slice); reruns replace the row wholly, aggregates are
// never incremented in place.
type AggregateRow struct {
	Bucket         BucketKey `json:"bucket"`
	Slice          Slice     `json:"slice"`
	Metrics        MetricSet `json:"metrics"`
	Units          int64     `json:"units"`
	OrderCount     int64     `json:"order_count"`
	UniqueSKUCount int64     `json:"unique_sku_count"`
	AOV            Cents     `json:"aov"`
	PromoCost      Cents     `json:"promo_cost,omitempty"`
}
