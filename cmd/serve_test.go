package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/sales-cli/internal/model"
	"github.com/sells-group/sales-cli/internal/refdata"
	"github.com/sells-group/sales-cli/internal/store"
)

// fakeStore is a canned-response store for router tests.
type fakeStore struct {
	runs       map[string]*model.Run
	aggregates []model.AggregateRow

	gotAggregateFilter store.AggregateFilter
	gotRunFilter       store.RunFilter
}

func newFakeStore() *fakeStore {
	return &fakeStore{runs: make(map[string]*model.Run)}
}

func (f *fakeStore) ReplaceFacts(context.Context, store.Window, []model.OrderFact, []model.LineItemFact) error {
	return nil
}

func (f *fakeStore) ReplaceAggregates(context.Context, store.Window, model.Granularity, []model.AggregateRow) error {
	return nil
}

func (f *fakeStore) QueryAggregates(_ context.Context, filter store.AggregateFilter) ([]model.AggregateRow, error) {
	f.gotAggregateFilter = filter
	return f.aggregates, nil
}

func (f *fakeStore) CreateRun(_ context.Context, req model.RunRequest) (*model.Run, error) {
	run := &model.Run{ID: "fake-run", Request: req, Status: model.RunStatusQueued}
	f.runs[run.ID] = run
	return run, nil
}

func (f *fakeStore) UpdateRunStatus(context.Context, string, model.RunStatus) error { return nil }
func (f *fakeStore) CompleteRun(context.Context, string, *model.QualityReport) error {
	return nil
}
func (f *fakeStore) FailRun(context.Context, string, error) error { return nil }

func (f *fakeStore) GetRun(_ context.Context, runID string) (*model.Run, error) {
	run, ok := f.runs[runID]
	if !ok {
		return nil, assert.AnError
	}
	return run, nil
}

func (f *fakeStore) ListRuns(_ context.Context, filter store.RunFilter) ([]model.Run, error) {
	f.gotRunFilter = filter
	out := make([]model.Run, 0, len(f.runs))
	for _, r := range f.runs {
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeStore) SyncReference(context.Context, *refdata.Tables) error { return nil }
func (f *fakeStore) Migrate(context.Context) error                       { return nil }
func (f *fakeStore) Close() error                                        { return nil }

func noopRun(context.Context, model.RunRequest) (*model.RunResult, error) {
	return &model.RunResult{}, nil
}

func TestRouterHealth(t *testing.T) {
	testConfig(t)
	router := newRouter(newFakeStore(), noopRun, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestRouterStartRun(t *testing.T) {
	testConfig(t)

	started := make(chan model.RunRequest, 1)
	run := func(_ context.Context, req model.RunRequest) (*model.RunResult, error) {
		started <- req
		return &model.RunResult{}, nil
	}
	router := newRouter(newFakeStore(), run, nil)

	payload := map[string]any{
		"from":        "2024-03-01",
		"to":          "2024-04-01",
		"sources":     []string{"shopify"},
		"granularity": "month",
		"flags":       map[string]bool{"include_shipping": true},
	}
	body, _ := json.Marshal(payload)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(body)))

	assert.Equal(t, http.StatusAccepted, rr.Code)

	select {
	case req := <-started:
		assert.Equal(t, model.Month, req.Granularity)
		assert.Equal(t, []string{"shopify"}, req.Sources)
		assert.True(t, req.Flags.IncludeShipping)
		nyc, _ := time.LoadLocation("America/New_York")
		assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, nyc), req.From)
	case <-time.After(time.Second):
		t.Fatal("run was not started")
	}
}

func TestRouterStartRunValidation(t *testing.T) {
	testConfig(t)
	router := newRouter(newFakeStore(), noopRun, nil)

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{not json`},
		{"bad from", `{"from":"yesterday","to":"2024-04-01"}`},
		{"bad to", `{"from":"2024-03-01","to":""}`},
		{"inverted window", `{"from":"2024-04-01","to":"2024-03-01"}`},
		{"bad granularity", `{"from":"2024-03-01","to":"2024-04-01","granularity":"fortnight"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader([]byte(tc.body))))
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestRouterGetRun(t *testing.T) {
	testConfig(t)
	st := newFakeStore()
	st.runs["run-1"] = &model.Run{ID: "run-1", Status: model.RunStatusComplete}
	router := newRouter(st, noopRun, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/runs/run-1", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	var run model.Run
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &run))
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, model.RunStatusComplete, run.Status)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/runs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouterListRuns(t *testing.T) {
	testConfig(t)
	st := newFakeStore()
	st.runs["run-1"] = &model.Run{ID: "run-1", Status: model.RunStatusFailed}
	router := newRouter(st, noopRun, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/runs?status=failed&limit=10", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, model.RunStatusFailed, st.gotRunFilter.Status)
	assert.Equal(t, 10, st.gotRunFilter.Limit)
}

func TestRouterAggregates(t *testing.T) {
	testConfig(t)
	nyc, _ := time.LoadLocation("America/New_York")
	st := newFakeStore()
	st.aggregates = []model.AggregateRow{
		{
			Bucket:  model.BucketKey{Granularity: model.Week, PeriodStart: time.Date(2024, 3, 11, 0, 0, 0, 0, nyc)},
			Slice:   model.Slice{Type: model.SliceChannel, Key: "web"},
			Metrics: model.MetricSet{Net: 9500},
		},
	}
	router := newRouter(st, noopRun, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet,
		"/aggregates?granularity=week&slice_type=channel&slice_key=web&from=2024-03-01&to=2024-04-01", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, model.Week, st.gotAggregateFilter.Granularity)
	assert.Equal(t, model.SliceChannel, st.gotAggregateFilter.SliceType)
	assert.Equal(t, "web", st.gotAggregateFilter.SliceKey)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, nyc), st.gotAggregateFilter.From)

	var body struct {
		Count int                  `json:"count"`
		Rows  []model.AggregateRow `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	require.Len(t, body.Rows, 1)
	assert.Equal(t, model.Cents(9500), body.Rows[0].Metrics.Net)
}

func TestRouterAggregatesBadGranularity(t *testing.T) {
	testConfig(t)
	router := newRouter(newFakeStore(), noopRun, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/aggregates?granularity=fortnight", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouterRateLimit(t *testing.T) {
	testConfig(t)
	// One request allowed, then the bucket is empty.
	router := newRouter(newFakeStore(), noopRun, rate.NewLimiter(rate.Every(time.Hour), 1))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}
