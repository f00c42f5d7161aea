package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operator_transfer_events_applied_total",
			Help: "Total number of transfer events applied to the ledger",
		},
		[]string{"source"},
	)

	DuplicateEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_operator_duplicate_events_total",
			Help: "Total number of transfer events skipped because the cursor already covered them",
		},
	)

	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operator_commands_total",
			Help: "Total number of channel commands by kind and outcome",
		},
		[]string{"kind", "status"},
	)

	MutationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operator_mutation_failures_total",
			Help: "Total number of serialized ledger jobs that returned an error",
		},
		[]string{"job"},
	)

	HeldRevenueTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_operator_held_revenue_events_total",
			Help: "Total number of transfers held because the ledger had no members",
		},
	)

	CheckpointsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operator_checkpoints_total",
			Help: "Total number of checkpoints by type and status",
		},
		[]string{"type", "status"},
	)

	CheckpointDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_operator_checkpoint_duration_seconds",
			Help:    "Duration of checkpoint writes",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 0.001s to ~4.1s
		},
		[]string{"type"},
	)

	PlaybackDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ledger_operator_playback_duration_seconds",
			Help:    "Duration of playback passes",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 0.01s to ~82s
		},
	)

	RootChainBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_operator_root_chain_block",
			Help: "Last block fully reflected in the ledger",
		},
	)

	Members = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_operator_members",
			Help: "Current number of ledger members",
		},
	)

	Phase = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_operator_phase",
			Help: "Current operator phase (0 idle, 1 loading, 2 playing back, 3 checkpointing, 4 listening, 5 mutating, 6 stopped)",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operator_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_operator_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Middleware records request counts and latencies by route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
