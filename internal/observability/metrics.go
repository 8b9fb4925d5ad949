package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bibtask",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bibtask",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	TasksSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bibtask",
			Name:      "tasks_submitted_total",
			Help:      "Tasks inserted into the queue.",
		},
		[]string{"kind"},
	)

	TasksStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bibtask",
			Name:      "tasks_started_total",
			Help:      "Dispatches that reached RUNNING.",
		},
		[]string{"kind"},
	)

	TasksFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bibtask",
			Name:      "tasks_finished_total",
			Help:      "Dispatches by terminal status.",
		},
		[]string{"kind", "status"},
	)

	TasksPostponedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bibtask",
			Name:      "tasks_postponed_total",
			Help:      "Dispatches postponed by their runtime limit.",
		},
		[]string{"kind"},
	)

	CheckpointsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bibtask",
			Name:      "checkpoints_total",
			Help:      "Checkpoints reached by task bodies.",
		},
	)

	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bibtask",
			Name:      "task_duration_seconds",
			Help:      "Task body duration in seconds.",
			Buckets:   []float64{1, 10, 60, 300, 900, 3600, 4 * 3600, 12 * 3600},
		},
		[]string{"kind"},
	)
)

var registerOnce sync.Once

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			TasksSubmittedTotal,
			TasksStartedTotal,
			TasksFinishedTotal,
			TasksPostponedTotal,
			CheckpointsTotal,
			TaskDuration,
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware records basic HTTP request metrics.
func HTTPMetricsMiddleware(routeName func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: 200}
			next.ServeHTTP(rec, r)

			route := routeName(r)
			method := r.Method
			status := strconv.Itoa(rec.status)

			HTTPRequestsTotal.WithLabelValues(route, method, status).Inc()
			HTTPRequestDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
		})
	}
}
