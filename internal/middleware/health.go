package middleware

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const checkTimeout = 2 * time.Second

// HealthChecker pings one backing store.
type HealthChecker interface {
	Check(ctx context.Context) error
}

// CheckerFunc adapts a ping function, e.g. a redis client's.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) Check(ctx context.Context) error { return f(ctx) }

// DatabaseHealthChecker pings a SQL pool.
type DatabaseHealthChecker struct {
	DB *sql.DB
}

func (d *DatabaseHealthChecker) Check(ctx context.Context) error {
	return d.DB.PingContext(ctx)
}

// HealthStatus is the /health body. Check errors are logged, not returned:
// the endpoint is public and driver errors carry hosts and users.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckStatus `json:"checks"`
}

type CheckStatus struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

// runChecks pings every store in parallel, each under its own timeout.
func runChecks(ctx context.Context, checkers map[string]HealthChecker) (map[string]CheckStatus, bool) {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		healthy = true
		out     = make(map[string]CheckStatus, len(checkers))
	)
	for name, c := range checkers {
		wg.Add(1)
		go func(name string, c HealthChecker) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			start := time.Now()
			err := c.Check(cctx)
			st := CheckStatus{Status: "healthy", LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				st.Status = "unhealthy"
				slog.Default().WarnContext(ctx, "health check failed", "check", name, "error", err)
			}
			mu.Lock()
			out[name] = st
			if err != nil {
				healthy = false
			}
			mu.Unlock()
		}(name, c)
	}
	wg.Wait()
	return out, healthy
}

func writeStatus(w http.ResponseWriter, ok bool, v any) {
	code := http.StatusOK
	if !ok {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// HealthHandler reports every backing store.
func HealthHandler(checkers map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks, ok := runChecks(r.Context(), checkers)
		health := HealthStatus{Status: "healthy", Timestamp: time.Now().UTC(), Checks: checks}
		if !ok {
			health.Status = "unhealthy"
		}
		writeStatus(w, ok, health)
	}
}

// Readiness is not ready while draining for shutdown or while a store in
// Checks is unreachable, so turns are never routed to an instance that
// cannot load verification state.
type Readiness struct {
	Checks   map[string]HealthChecker
	draining atomic.Bool
}

func (rd *Readiness) Drain() { rd.draining.Store(true) }

func (rd *Readiness) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if rd.draining.Load() {
		writeStatus(w, false, map[string]string{"status": "draining"})
		return
	}
	if _, ok := runChecks(r.Context(), rd.Checks); !ok {
		writeStatus(w, false, map[string]string{"status": "store_unavailable"})
		return
	}
	writeStatus(w, true, map[string]string{"status": "ready"})
}

// LivenessHandler only proves the process serves HTTP.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
