package health

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"

	"lv-tradecore/internal/httputil"
)

// Pinger is anything the service depends on that can be pinged.
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type Handler struct {
	startedAt time.Time
	timeout   time.Duration
	checks    map[string]Pinger
	now       func() time.Time
}

func NewHandler(startedAt time.Time) *Handler {
	start := startedAt.UTC()
	if start.IsZero() {
		start = time.Now().UTC()
	}
	return &Handler{
		startedAt: start,
		timeout:   time.Second,
		checks:    make(map[string]Pinger),
		now:       time.Now,
	}
}

// Register adds a dependency to the readiness check. Not safe to call once
// the handler is serving.
func (h *Handler) Register(name string, p Pinger) {
	h.checks[name] = p
}

type liveResponse struct {
	Status     string `json:"status"`
	Timestamp  string `json:"timestamp"`
	UptimeSec  int64  `json:"uptime_sec"`
	Uptime     string `json:"uptime"`
	GoVersion  string `json:"go_version"`
	Goroutines int    `json:"goroutines"`
}

type dependencyStat struct {
	Name      string `json:"name"`
	Reachable bool   `json:"reachable"`
	PingMs    int64  `json:"ping_ms"`
	Error     string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status       string           `json:"status"`
	Timestamp    string           `json:"timestamp"`
	UptimeSec    int64            `json:"uptime_sec"`
	Dependencies []dependencyStat `json:"dependencies"`
}

func (h *Handler) uptime(now time.Time) time.Duration {
	uptime := now.Sub(h.startedAt)
	if uptime < 0 {
		return 0
	}
	return uptime
}

func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	now := h.now().UTC()
	up := h.uptime(now)
	httputil.WriteJSON(w, http.StatusOK, liveResponse{
		Status:     "ok",
		Timestamp:  now.Format(time.RFC3339),
		UptimeSec:  int64(up.Seconds()),
		Uptime:     up.Truncate(time.Second).String(),
		GoVersion:  runtime.Version(),
		Goroutines: runtime.NumGoroutine(),
	})
}

// Ready answers 503 when any registered dependency fails its ping.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := readinessResponse{Status: "ok", Dependencies: make([]dependencyStat, 0, len(names))}
	for _, name := range names {
		start := time.Now()
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		err := h.checks[name].Ping(ctx)
		cancel()
		stat := dependencyStat{Name: name, Reachable: err == nil, PingMs: time.Since(start).Milliseconds()}
		if err != nil {
			stat.Error = err.Error()
			resp.Status = "degraded"
		}
		resp.Dependencies = append(resp.Dependencies, stat)
	}

	now := h.now().UTC()
	resp.Timestamp = now.Format(time.RFC3339)
	resp.UptimeSec = int64(h.uptime(now).Seconds())
	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, resp)
}
