package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "sales.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "America/New_York", cfg.Run.ReportingTimezone)
	assert.Equal(t, "monday", cfg.Run.WeekStart)
	assert.Equal(t, "day", cfg.Run.Granularity)
	assert.True(t, cfg.Run.IncludeShipping)
	assert.False(t, cfg.Run.IncludeTaxes)
	assert.Equal(t, "data/raw", cfg.Run.RawDir)
	assert.Equal(t, 35, cfg.Run.SnapshotWindow)
	assert.Equal(t, 4, cfg.Run.Concurrency)
	assert.Equal(t, "data/reference", cfg.Reference.Dir)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/sales
log:
  level: debug
  format: console
run:
  reporting_timezone: America/Chicago
  week_start: sunday
  include_taxes: true
reference:
  workbook: maps.xlsx
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/sales", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "America/Chicago", cfg.Run.ReportingTimezone)
	assert.Equal(t, "sunday", cfg.Run.WeekStart)
	assert.True(t, cfg.Run.IncludeTaxes)
	assert.Equal(t, "maps.xlsx", cfg.Reference.Workbook)

	// Unset keys keep defaults.
	assert.Equal(t, "day", cfg.Run.Granularity)
	assert.True(t, cfg.Run.IncludeShipping)
}

func TestRunConfigLocation(t *testing.T) {
	t.Parallel()

	loc, err := RunConfig{ReportingTimezone: "America/New_York"}.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())

	_, err = RunConfig{ReportingTimezone: "Mars/Olympus"}.Location()
	require.Error(t, err)
}

func TestRunConfigWeekStartDay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    time.Weekday
		wantErr bool
	}{
		{in: "monday", want: time.Monday},
		{in: "Sunday", want: time.Sunday},
		{in: "SATURDAY", want: time.Saturday},
		{in: "someday", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := RunConfig{WeekStart: tt.in}.WeekStartDay()
		if tt.wantErr {
			require.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NotNil(t, zap.L())

	require.Error(t, InitLogger(LogConfig{Level: "verbose", Format: "json"}))
}
