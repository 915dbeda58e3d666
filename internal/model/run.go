package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Granularity is the time bucket width for aggregation.
type Granularity string

const (
	Day     Granularity = "day"
	Week    Granularity = "week"
	Month   Granularity = "month"
	Quarter Granularity = "quarter"
	Year    Granularity = "year"
)

// ParseGranularity converts a string like "day" or "week" into a Granularity.
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(s) {
	case Day, Week, Month, Quarter, Year:
		return Granularity(s), nil
	default:
		return "", eris.Errorf("unknown granularity: %q (valid: day, week, month, quarter, year)", s)
	}
}

// RunRequest describes one batch rebuild: the half-open date range
// [From, To) in the reporting timezone, the sources to include (empty =
// all registered), the aggregation granularity, and the net revenue flags.
type RunRequest struct {
	From        time.Time   `json:"from"`
	To          time.Time   `json:"to"`
	Sources     []string    `json:"sources,omitempty"`
	Granularity Granularity `json:"granularity"`
	Flags       Flags       `json:"flags"`
}

// RunStatus represents the current state of a pipeline run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one entry in the run log.
type Run struct {
	ID        string         `json:"id"`
	Request   RunRequest     `json:"request"`
	Status    RunStatus      `json:"status"`
	Error     string         `json:"error,omitempty"`
	Quality   *QualityReport `json:"quality,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// RunResult summarizes a completed run.
type RunResult struct {
	Orders     int           `json:"orders"`
	Lines      int           `json:"lines"`
	Aggregates int           `json:"aggregates"`
	Quality    QualityReport `json:"quality"`
}
