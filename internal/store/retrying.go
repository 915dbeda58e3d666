package store

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/sells-group/sales-cli/internal/model"
	"github.com/sells-group/sales-cli/internal/refdata"
)

// RetryPolicy controls write retry behavior with exponential backoff and
// jitter. MaxAttempts counts the first try; 1 means no retries.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	JitterFraction float64
}

// DefaultRetryPolicy suits batch writes: a rebuild is idempotent, so a few
// patient retries beat failing the whole run on a dropped connection.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

// RetryingStore decorates a Store with transient-error retries on writes.
// Reads pass through; replace-by-range writes are safe to repeat because
// each attempt rewrites the same window.
type RetryingStore struct {
	Store
	policy RetryPolicy
}

// WithRetry wraps st so write operations retry transient failures.
func WithRetry(st Store, policy RetryPolicy) *RetryingStore {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = 500 * time.Millisecond
	}
	if policy.MaxBackoff <= 0 {
		policy.MaxBackoff = 10 * time.Second
	}
	if policy.Multiplier <= 0 {
		policy.Multiplier = 2.0
	}
	if policy.JitterFraction < 0 {
		policy.JitterFraction = 0
	}
	return &RetryingStore{Store: st, policy: policy}
}

func (r *RetryingStore) ReplaceFacts(ctx context.Context, w Window, orders []model.OrderFact, lines []model.LineItemFact) error {
	return r.do(ctx, "replace facts", func(ctx context.Context) error {
		return r.Store.ReplaceFacts(ctx, w, orders, lines)
	})
}

func (r *RetryingStore) ReplaceAggregates(ctx context.Context, w Window, g model.Granularity, rows []model.AggregateRow) error {
	return r.do(ctx, "replace aggregates", func(ctx context.Context) error {
		return r.Store.ReplaceAggregates(ctx, w, g, rows)
	})
}

func (r *RetryingStore) SyncReference(ctx context.Context, tables *refdata.Tables) error {
	return r.do(ctx, "sync reference", func(ctx context.Context) error {
		return r.Store.SyncReference(ctx, tables)
	})
}

func (r *RetryingStore) CreateRun(ctx context.Context, req model.RunRequest) (*model.Run, error) {
	var run *model.Run
	err := r.do(ctx, "create run", func(ctx context.Context) error {
		var err error
		run, err = r.Store.CreateRun(ctx, req)
		return err
	})
	return run, err
}

func (r *RetryingStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	return r.do(ctx, "update run status", func(ctx context.Context) error {
		return r.Store.UpdateRunStatus(ctx, runID, status)
	})
}

func (r *RetryingStore) CompleteRun(ctx context.Context, runID string, quality *model.QualityReport) error {
	return r.do(ctx, "complete run", func(ctx context.Context) error {
		return r.Store.CompleteRun(ctx, runID, quality)
	})
}

func (r *RetryingStore) FailRun(ctx context.Context, runID string, runErr error) error {
	return r.do(ctx, "fail run", func(ctx context.Context) error {
		return r.Store.FailRun(ctx, runID, runErr)
	})
}

func (r *RetryingStore) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		if attempt >= r.policy.MaxAttempts-1 {
			break
		}

		delay := r.backoff(attempt)
		zap.L().Warn("retrying store write",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(lastErr),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
	return lastErr
}

func (r *RetryingStore) backoff(attempt int) time.Duration {
	delay := float64(r.policy.InitialBackoff) * math.Pow(r.policy.Multiplier, float64(attempt))
	if delay > float64(r.policy.MaxBackoff) {
		delay = float64(r.policy.MaxBackoff)
	}
	if r.policy.JitterFraction > 0 {
		jitterRange := delay * r.policy.JitterFraction
		delay += (rand.Float64()*2 - 1) * jitterRange
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Postgres error classes and codes that clear on their own: connection
// exceptions, serialization failures, deadlocks, admin shutdown states,
// too-many-connections.
func isRetryablePgCode(code string) bool {
	if strings.HasPrefix(code, "08") {
		return true
	}
	switch code {
	case "40001", "40P01", "53300", "57P03":
		return true
	}
	return false
}

// isRetryable reports whether an error is worth retrying: Postgres
// connection/serialization failures, network timeouts, or a busy SQLite
// database.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return isRetryablePgCode(pgErr.Code)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"database is locked",
		"database table is locked",
		"connection reset by peer",
		"broken pipe",
		"i/o timeout",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
