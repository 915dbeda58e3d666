package source

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sales-cli/internal/model"
)

// snapshotStampLayout is the timestamp embedded in snapshot file names,
// e.g. orders_20250817T031500Z.json.
const snapshotStampLayout = "20060102T150405Z"

// Snapshot is one raw snapshot file ready for schema normalization.
type Snapshot struct {
	Path    string
	Payload []byte
}

// ListSnapshots returns the orders_* snapshot files in dir written at or
// after cutoff, in name order. A file whose name does not carry a parseable
// timestamp is kept rather than skipped; the upstream job occasionally
// writes manual backfill files with free-form names.
func ListSnapshots(dir string, cutoff time.Time) ([]Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read snapshot dir %s", dir)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "orders_") {
			continue
		}
		ext := filepath.Ext(name)
		if ext != ".json" && ext != ".csv" {
			continue
		}

		stamp := strings.TrimSuffix(strings.TrimPrefix(name, "orders_"), ext)
		if ts, err := time.Parse(snapshotStampLayout, stamp); err == nil && ts.Before(cutoff) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	snapshots := make([]Snapshot, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		payload, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "source: read snapshot %s", path)
		}
		snapshots = append(snapshots, Snapshot{Path: path, Payload: payload})
	}

	zap.L().Debug("source: selected snapshots",
		zap.String("dir", dir),
		zap.Int("files", len(snapshots)),
	)
	return snapshots, nil
}

// DedupeOrders drops repeat occurrences of a source order id, keeping the
// first. Overlapping snapshot windows re-export the same orders; first
// wins so the earliest complete export is authoritative.
func DedupeOrders(orders []model.RawOrder) []model.RawOrder {
	seen := make(map[string]bool, len(orders))
	out := orders[:0:len(orders)]
	for _, o := range orders {
		if seen[o.SourceOrderID] {
			continue
		}
		seen[o.SourceOrderID] = true
		out = append(out, o)
	}
	return out
}
