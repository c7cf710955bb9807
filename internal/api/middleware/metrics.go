package middleware

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// RolloutStats feeds the rollout gauges on the metrics endpoint. The zero
// value renders as an idle engine.
type RolloutStats struct {
	ActiveCampaigns int
	BusyWorkers     int
	WorkerCapacity  int
}

type requestKey struct {
	method string
	status int
}

type routeKey struct {
	method string
	path   string
}

type durationTotals struct {
	sum   float64
	count int64
}

// Metrics collects HTTP request metrics and rollout engine gauges, serving
// both in Prometheus text exposition format.
type Metrics struct {
	mu             sync.Mutex
	requests       map[requestKey]int64
	durations      map[routeKey]*durationTotals
	activeRequests int

	rolloutStats func() RolloutStats
}

func NewMetrics() *Metrics {
	return &Metrics{
		requests:  make(map[requestKey]int64),
		durations: make(map[routeKey]*durationTotals),
	}
}

// SetRolloutSource registers the callback polled for engine gauges on every
// scrape.
func (m *Metrics) SetRolloutSource(fn func() RolloutStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloutStats = fn
}

func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.mu.Lock()
			m.activeRequests++
			m.mu.Unlock()

			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			elapsed := time.Since(start).Seconds()
			route := routeKey{method: r.Method, path: normalizeMetricsPath(r.URL.Path)}

			m.mu.Lock()
			m.activeRequests--
			m.requests[requestKey{method: r.Method, status: rw.status}]++
			d, ok := m.durations[route]
			if !ok {
				d = &durationTotals{}
				m.durations[route] = d
			}
			d.sum += elapsed
			d.count++
			m.mu.Unlock()
		})
	}
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		active := m.activeRequests
		requests := make(map[requestKey]int64, len(m.requests))
		for k, v := range m.requests {
			requests[k] = v
		}
		durations := make(map[routeKey]durationTotals, len(m.durations))
		for k, v := range m.durations {
			durations[k] = *v
		}
		rolloutFn := m.rolloutStats
		m.mu.Unlock()

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		fmt.Fprintf(w, "# HELP armada_http_active_requests Number of active HTTP requests.\n")
		fmt.Fprintf(w, "# TYPE armada_http_active_requests gauge\n")
		fmt.Fprintf(w, "armada_http_active_requests %d\n\n", active)

		fmt.Fprintf(w, "# HELP armada_http_requests_total Total number of HTTP requests.\n")
		fmt.Fprintf(w, "# TYPE armada_http_requests_total counter\n")
		reqKeys := make([]requestKey, 0, len(requests))
		for k := range requests {
			reqKeys = append(reqKeys, k)
		}
		sort.Slice(reqKeys, func(i, j int) bool {
			if reqKeys[i].method != reqKeys[j].method {
				return reqKeys[i].method < reqKeys[j].method
			}
			return reqKeys[i].status < reqKeys[j].status
		})
		for _, k := range reqKeys {
			fmt.Fprintf(w, "armada_http_requests_total{method=%q,status=\"%d\"} %d\n",
				k.method, k.status, requests[k])
		}

		fmt.Fprintf(w, "\n# HELP armada_http_request_duration_seconds HTTP request duration in seconds.\n")
		fmt.Fprintf(w, "# TYPE armada_http_request_duration_seconds summary\n")
		routeKeys := make([]routeKey, 0, len(durations))
		for k := range durations {
			routeKeys = append(routeKeys, k)
		}
		sort.Slice(routeKeys, func(i, j int) bool {
			if routeKeys[i].method != routeKeys[j].method {
				return routeKeys[i].method < routeKeys[j].method
			}
			return routeKeys[i].path < routeKeys[j].path
		})
		for _, k := range routeKeys {
			d := durations[k]
			fmt.Fprintf(w, "armada_http_request_duration_seconds_sum{method=%q,path=%q} %.6f\n", k.method, k.path, d.sum)
			fmt.Fprintf(w, "armada_http_request_duration_seconds_count{method=%q,path=%q} %d\n", k.method, k.path, d.count)
		}

		if rolloutFn == nil {
			return
		}
		stats := rolloutFn()
		fmt.Fprintf(w, "\n# HELP armada_campaigns_active Campaigns currently being executed.\n")
		fmt.Fprintf(w, "# TYPE armada_campaigns_active gauge\n")
		fmt.Fprintf(w, "armada_campaigns_active %d\n", stats.ActiveCampaigns)
		fmt.Fprintf(w, "\n# HELP armada_updates_in_flight Device updates holding a worker slot.\n")
		fmt.Fprintf(w, "# TYPE armada_updates_in_flight gauge\n")
		fmt.Fprintf(w, "armada_updates_in_flight %d\n", stats.BusyWorkers)
		fmt.Fprintf(w, "\n# HELP armada_update_worker_capacity Global worker slot capacity.\n")
		fmt.Fprintf(w, "# TYPE armada_update_worker_capacity gauge\n")
		fmt.Fprintf(w, "armada_update_worker_capacity %d\n", stats.WorkerCapacity)
	}
}

// normalizeMetricsPath collapses ID path segments so each route yields one
// series.
func normalizeMetricsPath(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		if isIDSegment(s) {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}

func isIDSegment(s string) bool {
	if len(s) == 0 {
		return false
	}
	if len(s) == 36 && s[8] == '-' && s[13] == '-' && s[18] == '-' && s[23] == '-' {
		return true
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
