package model

// Anomaly records an order whose line-item net revenue sum disagrees with
// the order-level net beyond the reconciliation tolerance. The order is
// still produced; anomalies exist for manual review, not for filtering.
type Anomaly struct {
	OrderKey string `json:"order_key"`
	OrderNet Cents  `json:"order_net"`
	LineSum  Cents  `json:"line_sum"`
	Delta    Cents  `json:"delta"`
}

// SourceCount tallies what one source contributed to a run.
type SourceCount struct {
	Orders  int64 `json:"orders"`
	Lines   int64 `json:"lines"`
	Dropped int64 `json:"dropped"` // records with unusable timestamps
}

// RejectedBatch records a whole source batch refused because its schema
// version is not registered. Other sources in the run are unaffected.
type RejectedBatch struct {
	Source  string `json:"source"`
	Version string `json:"version"`
	Reason  string `json:"reason"`
}

// QualityReport is the run-level data-quality summary surfaced to analysts.
// Nothing in it blocks output; it exists so gaps are visible instead of
// silently dropped.
type QualityReport struct {
	Unresolved      map[string]int64       `json:"unresolved,omitempty"`
	Anomalies       []Anomaly              `json:"anomalies,omitempty"`
	SourceCounts    map[string]SourceCount `json:"source_counts,omitempty"`
	RejectedBatches []RejectedBatch        `json:"rejected_batches,omitempty"`
}

// TotalUnresolved sums unresolved counts across all mapping tables.
func (q *QualityReport) TotalUnresolved() int64 {
	var total int64
	for _, n := range q.Unresolved {
		total += n
	}
	return total
}
