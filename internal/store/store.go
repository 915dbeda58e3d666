package store

import (
	"context"
	"time"

	"github.com/sells-group/sales-cli/internal/model"
	"github.com/sells-group/sales-cli/internal/refdata"
)

// Window is the half-open [From, To) slice of fact history a rebuild
// owns. Sources narrows the replacement to those sources; empty means
// all of them.
type Window struct {
	From    time.Time `json:"from"`
	To      time.Time `json:"to"`
	Sources []string  `json:"sources,omitempty"`
}

// RunFilter specifies criteria for listing run log entries.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// AggregateFilter selects aggregate rows for reads.
type AggregateFilter struct {
	Granularity model.Granularity `json:"granularity,omitempty"`
	From        time.Time         `json:"from,omitempty"`
	To          time.Time         `json:"to,omitempty"`
	SliceType   model.SliceType   `json:"slice_type,omitempty"`
	SliceKey    string            `json:"slice_key,omitempty"`
	Limit       int               `json:"limit,omitempty"`
}

// Store defines the persistence boundary for the normalization pipeline.
// Fact and aggregate writes are replace-by-range: everything the window
// owns is deleted and rewritten in one transaction, so rerunning a batch
// converges instead of compounding.
type Store interface {
	// Facts
	ReplaceFacts(ctx context.Context, w Window, orders []model.OrderFact, lines []model.LineItemFact) error
	ReplaceAggregates(ctx context.Context, w Window, g model.Granularity, rows []model.AggregateRow) error
	QueryAggregates(ctx context.Context, filter AggregateFilter) ([]model.AggregateRow, error)

	// Run log
	CreateRun(ctx context.Context, req model.RunRequest) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, runID string, quality *model.QualityReport) error
	FailRun(ctx context.Context, runID string, runErr error) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Reference dimensions, mirrored for warehouse joins
	SyncReference(ctx context.Context, tables *refdata.Tables) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
