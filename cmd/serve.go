package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/sales-cli/internal/model"
	"github.com/sells-group/sales-cli/internal/store"
)

var servePort int

// runFunc starts a pipeline run. Factored out so the router can be tested
// without a real pipeline behind it.
type runFunc func(ctx context.Context, req model.RunRequest) (*model.RunResult, error)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read API and run trigger server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		limiter := rate.NewLimiter(rate.Limit(cfg.Server.RateLimit), cfg.Server.RateBurst)
		router := newRouter(e.Store, e.Pipeline.Run, limiter)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func newRouter(st store.Store, run runFunc, limiter *rate.Limiter) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
	}))
	if limiter != nil {
		r.Use(rateLimitMiddleware(limiter))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/runs", handleStartRun(run))
	r.Get("/runs", handleListRuns(st))
	r.Get("/runs/{id}", handleGetRun(st))
	r.Get("/aggregates", handleAggregates(st))

	return r
}

func rateLimitMiddleware(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// handleStartRun accepts a run request and kicks off the pipeline in the
// background. The response only acknowledges the request; progress is
// tracked through the run log endpoints.
func handleStartRun(run runFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			From        string   `json:"from"`
			To          string   `json:"to"`
			Sources     []string `json:"sources"`
			Granularity string   `json:"granularity"`
			Flags       struct {
				IncludeShipping bool `json:"include_shipping"`
				IncludeTaxes    bool `json:"include_taxes"`
			} `json:"flags"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		loc, err := cfg.Run.Location()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		from, err := parseDate(body.From, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from date (YYYY-MM-DD)")
			return
		}
		to, err := parseDate(body.To, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to date (YYYY-MM-DD)")
			return
		}
		if !to.After(from) {
			writeError(w, http.StatusBadRequest, "to must be after from")
			return
		}
		granStr := body.Granularity
		if granStr == "" {
			granStr = cfg.Run.Granularity
		}
		gran, err := model.ParseGranularity(granStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		req := model.RunRequest{
			From:        from,
			To:          to,
			Sources:     body.Sources,
			Granularity: gran,
			Flags: model.Flags{
				IncludeShipping: body.Flags.IncludeShipping,
				IncludeTaxes:    body.Flags.IncludeTaxes,
			},
		}

		// Detached from the request context so a client disconnect does
		// not abort the run.
		go func() {
			result, err := run(context.Background(), req)
			if err != nil {
				zap.L().Error("triggered run failed", zap.Error(err))
				return
			}
			zap.L().Info("triggered run complete",
				zap.Int("orders", result.Orders),
				zap.Int("aggregates", result.Aggregates),
			)
		}()

		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":  "accepted",
			"request": req,
		})
	}
}

func handleListRuns(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := store.RunFilter{
			Status: model.RunStatus(r.URL.Query().Get("status")),
			Limit:  50,
		}
		if v := r.URL.Query().Get("limit"); v != "" {
			if _, err := fmt.Sscanf(v, "%d", &filter.Limit); err != nil {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
		}

		runs, err := st.ListRuns(r.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
	}
}

func handleGetRun(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := st.GetRun(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

func handleAggregates(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := store.AggregateFilter{
			SliceType: model.SliceType(q.Get("slice_type")),
			SliceKey:  q.Get("slice_key"),
			Limit:     1000,
		}

		if v := q.Get("granularity"); v != "" {
			gran, err := model.ParseGranularity(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			filter.Granularity = gran
		}

		loc, err := cfg.Run.Location()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if v := q.Get("from"); v != "" {
			filter.From, err = parseDate(v, loc)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid from date (YYYY-MM-DD)")
				return
			}
		}
		if v := q.Get("to"); v != "" {
			filter.To, err = parseDate(v, loc)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid to date (YYYY-MM-DD)")
				return
			}
		}

		rows, err := st.QueryAggregates(r.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"count": len(rows),
			"rows":  rows,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
