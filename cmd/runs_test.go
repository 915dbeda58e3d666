package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sales-cli/internal/model"
)

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "12345678", truncateID("12345678-abcd-efgh"))
	assert.Equal(t, "short", truncateID("short"))
}

func TestFormatRunsList(t *testing.T) {
	nyc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	created := time.Date(2024, 3, 15, 9, 30, 0, 0, nyc)
	runs := []model.Run{
		{
			ID: "a1b2c3d4-0000-0000-0000-000000000000",
			Request: model.RunRequest{
				From:        time.Date(2024, 3, 1, 0, 0, 0, 0, nyc),
				To:          time.Date(2024, 4, 1, 0, 0, 0, 0, nyc),
				Granularity: model.Week,
			},
			Status: model.RunStatusComplete,
			Quality: &model.QualityReport{
				RejectedBatches: []model.RejectedBatch{{Source: "mystery"}},
			},
			CreatedAt: created,
			UpdatedAt: created.Add(42 * time.Second),
		},
		{
			ID: "e5f6a7b8-0000-0000-0000-000000000000",
			Request: model.RunRequest{
				From:        time.Date(2024, 4, 1, 0, 0, 0, 0, nyc),
				To:          time.Date(2024, 5, 1, 0, 0, 0, 0, nyc),
				Granularity: model.Month,
			},
			Status:    model.RunStatusFailed,
			CreatedAt: created,
			UpdatedAt: created,
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)
	out := buf.String()

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4) // header, separator, two rows

	assert.Contains(t, lines[0], "ID")
	assert.Contains(t, lines[0], "WINDOW")
	assert.Contains(t, out, "a1b2c3d4")
	assert.NotContains(t, out, "a1b2c3d4-0000")
	assert.Contains(t, out, "2024-03-01..2024-04-01")
	assert.Contains(t, out, "complete")
	assert.Contains(t, out, "42s")
	assert.Contains(t, out, "failed")
}
