// README: Smoke cases for reports, call lifecycle, positions, capacity, matching and the sync queue, plus load checks.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	StatusPass    = "PASS"
	StatusFail    = "FAIL"
	StatusPending = "PENDING"
	StatusSkip    = "SKIP"
)

var tables = []string{"emergency_calls", "call_transitions", "hospital_capacity", "ambulance_position_snapshots"}

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	// callID is the call opened by the lifecycle cases.
	callID string
	// runID keeps report ids unique across runs against the same database.
	runID string
}

type Result struct {
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
		runID: uuid.NewString()[:8],
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
			defer db.Close()
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
		defer r.redis.Close()
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		results = append(results, res)
		fmt.Printf("%-7s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}
	return results
}

func (r *Runner) reportID(name string) string {
	return "bench-" + r.runID + "-" + name
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return Result{Status: StatusFail, Note: "db not configured"}
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.db.Ping(ctx); err != nil {
				return Result{Status: StatusFail, Note: err.Error()}
			}
			return Result{Status: StatusPass}
		}},
		{Name: "Env: Redis connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.redis == nil {
				return Result{Status: StatusFail, Note: "redis not configured"}
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.redis.Ping(ctx).Err(); err != nil {
				return Result{Status: StatusFail, Note: err.Error()}
			}
			return Result{Status: StatusPass}
		}},
		{Name: "Schema: tables exist", Run: checkTables},
		{Name: "API: health", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodGet, "/health", nil, nil, http.StatusOK)
		}},
		{Name: "API: connectivity online", Run: func(ctx context.Context, r *Runner) Result {
			var st struct {
				Online bool `json:"online"`
			}
			res := r.expect(ctx, http.MethodGet, "/api/connectivity", nil, &st, http.StatusOK)
			if res.Status == StatusPass && !st.Online {
				return Result{Status: StatusPending, Note: "server reports offline; writes will queue"}
			}
			return res
		}},

		// Reports and lifecycle
		{Name: "Report: create critical call", Run: func(ctx context.Context, r *Runner) Result {
			var out struct {
				Call struct {
					ID string `json:"id"`
				} `json:"call"`
			}
			res := r.expect(ctx, http.MethodPost, "/api/reports", r.report("lifecycle"), &out, http.StatusCreated, http.StatusAccepted)
			r.callID = out.Call.ID
			return res
		}},
		{Name: "Report: duplicate report is idempotent", Run: func(ctx context.Context, r *Runner) Result {
			var out struct {
				Call struct {
					ID string `json:"id"`
				} `json:"call"`
			}
			res := r.expect(ctx, http.MethodPost, "/api/reports", r.report("lifecycle"), &out, http.StatusCreated, http.StatusAccepted)
			if res.Status == StatusPass && out.Call.ID != r.callID {
				return Result{Status: StatusFail, Note: "duplicate report opened a second call"}
			}
			return res
		}},
		{Name: "Report: invalid coordinates -> 422", Run: func(ctx context.Context, r *Runner) Result {
			body := r.report("invalid")
			body["lat"] = 123.0
			return r.expect(ctx, http.MethodPost, "/api/reports", body, nil, http.StatusUnprocessableEntity)
		}},
		{Name: "Call: skip to arrived -> 409", Run: func(ctx context.Context, r *Runner) Result {
			return r.callStep(ctx, map[string]any{"status": "arrived"}, http.StatusConflict)
		}},
		{Name: "Call: dispatch", Run: func(ctx context.Context, r *Runner) Result {
			return r.callStep(ctx, map[string]any{"status": "dispatched", "ambulance_id": "bench-amb-1"}, http.StatusOK)
		}},
		{Name: "Call: en route", Run: func(ctx context.Context, r *Runner) Result {
			return r.callStep(ctx, map[string]any{"status": "en_route"}, http.StatusOK)
		}},
		{Name: "Call: arrived at target", Run: func(ctx context.Context, r *Runner) Result {
			return r.callStep(ctx, map[string]any{"status": "arrived", "lat": -6.2, "lng": 106.8}, http.StatusOK)
		}},
		{Name: "Call: completed", Run: func(ctx context.Context, r *Runner) Result {
			return r.callStep(ctx, map[string]any{"status": "completed"}, http.StatusOK)
		}},
		{Name: "Call: completed cannot be cancelled", Run: func(ctx context.Context, r *Runner) Result {
			if r.callID == "" {
				return Result{Status: StatusSkip, Note: "no call"}
			}
			return r.expect(ctx, http.MethodPost, "/api/calls/"+r.callID+"/cancel", map[string]any{"reason": "bench"}, nil, http.StatusConflict)
		}},
		{Name: "Consistency: status_version matches transitions", Run: checkVersion},

		// Positions, capacity, matching
		{Name: "Location: update ambulance", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodPut, "/api/ambulances/bench-amb-2/location",
				map[string]any{"lat": -6.218, "lng": 106.8, "accuracy_meters": 5}, nil, http.StatusOK, http.StatusAccepted)
		}},
		{Name: "Location: invalid coords -> 422", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodPut, "/api/ambulances/bench-amb-2/location",
				map[string]any{"lat": 123.0, "lng": 456.0}, nil, http.StatusUnprocessableEntity)
		}},
		{Name: "Capacity: upsert hospital", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodPut, "/api/hospitals/bench-rs-1/capacity", map[string]any{
				"name": "Bench Hospital", "lat": -6.21, "lng": 106.81,
				"emergency_beds_total": 10, "emergency_beds_available": 5,
				"icu_beds_total": 4, "icu_beds_available": 2,
				"capabilities": map[string]bool{"trauma": true},
			}, nil, http.StatusOK)
		}},
		{Name: "Capacity: available > total -> 422", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodPut, "/api/hospitals/bench-rs-1/capacity", map[string]any{
				"lat": -6.21, "lng": 106.81, "emergency_beds_total": 1, "emergency_beds_available": 5,
			}, nil, http.StatusUnprocessableEntity)
		}},
		{Name: "Match: nearest ambulance", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodPost, "/api/match/ambulance", map[string]any{"lat": -6.2, "lng": 106.8, "radius_km": 10}, nil, http.StatusOK)
		}},
		{Name: "Match: best trauma hospital", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodPost, "/api/match/hospital", map[string]any{"lat": -6.2, "lng": 106.8, "emergency_type": "trauma"}, nil, http.StatusOK)
		}},
		{Name: "Sync: stats", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodGet, "/api/sync/stats", nil, nil, http.StatusOK)
		}},
		{Name: "Sync: failed items", Run: func(ctx context.Context, r *Runner) Result {
			var out struct {
				Items []json.RawMessage `json:"items"`
			}
			res := r.expect(ctx, http.MethodGet, "/api/sync/items?status=failed", nil, &out, http.StatusOK)
			if res.Status == StatusPass && len(out.Items) > 0 {
				return Result{Status: StatusPending, Note: fmt.Sprintf("%d failed item(s) need an operator", len(out.Items))}
			}
			return res
		}},

		// Concurrency and load
		{Name: "Concurrency: dispatch vs cancel on one call", Run: raceDispatchCancel},
		{Name: "Perf: location update throughput", Run: func(ctx context.Context, r *Runner) Result {
			var n atomic.Int64
			return r.load(ctx, func() (string, string, any) {
				i := n.Add(1) % 50
				return http.MethodPut, fmt.Sprintf("/api/ambulances/bench-load-%d/location", i),
					map[string]any{"lat": -6.2, "lng": 106.8, "accuracy_meters": 5}
			})
		}},
		{Name: "Perf: report intake throughput", Run: func(ctx context.Context, r *Runner) Result {
			var n atomic.Int64
			return r.load(ctx, func() (string, string, any) {
				return http.MethodPost, "/api/reports", r.report(fmt.Sprintf("load-%d", n.Add(1)))
			})
		}},
	}
}

func (r *Runner) report(name string) map[string]any {
	return map[string]any{
		"report_id":      r.reportID(name),
		"severity":       "berat",
		"emergency_type": "trauma",
		"lat":            -6.2,
		"lng":            106.8,
		"reporter_id":    "bench",
	}
}

func (r *Runner) callStep(ctx context.Context, body map[string]any, want int) Result {
	if r.callID == "" {
		return Result{Status: StatusSkip, Note: "no call"}
	}
	return r.expect(ctx, http.MethodPost, "/api/calls/"+r.callID+"/advance", body, nil, want)
}

// do sends one JSON request and decodes the body into out when non-nil.
func (r *Runner) do(ctx context.Context, method, path string, body, out any) (int, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, 0, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	latency := time.Since(start)
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, latency, err
		}
		return resp.StatusCode, latency, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, latency, nil
}

func (r *Runner) expect(ctx context.Context, method, path string, body, out any, ok ...int) Result {
	code, latency, err := r.do(ctx, method, path, body, out)
	if err != nil {
		return Result{Status: StatusFail, Latency: latency, Note: err.Error()}
	}
	note := fmt.Sprintf("status=%d", code)
	for _, want := range ok {
		if code == want {
			return Result{Status: StatusPass, Latency: latency, Note: note}
		}
	}
	if code == http.StatusNotImplemented {
		return Result{Status: StatusPending, Latency: latency, Note: note}
	}
	return Result{Status: StatusFail, Latency: latency, Note: note}
}

func checkTables(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusFail, Note: "db not configured"}
	}
	for _, t := range tables {
		var exists bool
		err := r.db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)", t,
		).Scan(&exists)
		if err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
		if !exists {
			return Result{Status: StatusFail, Note: "missing table: " + t}
		}
	}
	return Result{Status: StatusPass}
}

func checkVersion(ctx context.Context, r *Runner) Result {
	if r.db == nil || r.callID == "" {
		return Result{Status: StatusSkip, Note: "needs db and a call"}
	}
	var version, transitions int
	err := r.db.QueryRow(ctx, `
		SELECT c.status_version, (SELECT count(*) FROM call_transitions t WHERE t.call_id = c.id)
		FROM emergency_calls c WHERE c.id = $1`, r.callID).Scan(&version, &transitions)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	// The opening transition is recorded at version 0.
	if transitions != version+1 {
		return Result{Status: StatusFail, Note: fmt.Sprintf("version=%d transitions=%d", version, transitions)}
	}
	return Result{Status: StatusPass, Note: fmt.Sprintf("version=%d", version)}
}

// raceDispatchCancel fires dispatch and cancel at one fresh call; exactly one
// of them may win.
func raceDispatchCancel(ctx context.Context, r *Runner) Result {
	var out struct {
		Call struct {
			ID string `json:"id"`
		} `json:"call"`
	}
	code, _, err := r.do(ctx, http.MethodPost, "/api/reports", r.report("race"), &out)
	if err != nil || code >= 300 {
		return Result{Status: StatusFail, Note: fmt.Sprintf("create: status=%d err=%v", code, err)}
	}
	path := "/api/calls/" + out.Call.ID

	var wins atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Concurrency; i++ {
		g.Go(func() error {
			var code int
			var err error
			if i%2 == 0 {
				code, _, err = r.do(gctx, http.MethodPost, path+"/advance",
					map[string]any{"status": "dispatched", "ambulance_id": fmt.Sprintf("bench-race-%d", i)}, nil)
			} else {
				code, _, err = r.do(gctx, http.MethodPost, path+"/cancel", map[string]any{"reason": "bench race"}, nil)
			}
			if err == nil && code < 300 {
				wins.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	// A dispatch followed by a cancel is a legal pair; more than that is not.
	if w := wins.Load(); w == 0 || w > 2 {
		return Result{Status: StatusFail, Note: fmt.Sprintf("successes=%d", w)}
	}
	return Result{Status: StatusPass, Note: fmt.Sprintf("successes=%d", wins.Load())}
}

func (r *Runner) load(ctx context.Context, next func() (method, path string, body any)) Result {
	end := time.Now().Add(r.cfg.Duration)
	var (
		mu      sync.Mutex
		count   int
		errs    int
		limited int
	)
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				method, path, body := next()
				code, _, err := r.do(ctx, method, path, body, nil)
				mu.Lock()
				switch {
				case err != nil || code >= 500:
					errs++
				case code == http.StatusTooManyRequests:
					limited++
				default:
					count++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: StatusFail, Note: "no requests completed"}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: StatusPass, Note: fmt.Sprintf("rps=%.1f errors=%d rate_limited=%d", rps, errs, limited)}
}
