package obs

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	appInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fg",
			Subsystem: "app",
			Name:      "info",
			Help:      "Static app info for deployment verification.",
		},
		[]string{"service", "version"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fg",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"method", "route", "code"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fg",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	workerJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fg",
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Total worker jobs processed.",
		},
		[]string{"worker", "result"},
	)
	workerJobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fg",
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Worker job duration in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		},
		[]string{"worker"},
	)

	convergeAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fg",
			Subsystem: "convert",
			Name:      "attempts",
			Help:      "Correction rounds used per conversion.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8, 12},
		},
	)
	diffDirectives = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fg",
			Subsystem: "convert",
			Name:      "diff_directives",
			Help:      "Directive count produced by one visual comparison.",
			Buckets:   []float64{0, 1, 2, 4, 6, 10, 15, 25},
		},
		[]string{"round"},
	)
)

func init() {
	prometheus.MustRegister(
		appInfo, httpRequestsTotal, httpRequestDuration,
		workerJobsTotal, workerJobDuration,
		convergeAttempts, diffDirectives,
	)
}

func SetAppInfo(service string) {
	svc := strings.TrimSpace(service)
	if svc == "" {
		svc = "footergen"
	}
	ver := strings.TrimSpace(os.Getenv("APP_VERSION"))
	if ver == "" {
		ver = "dev"
	}
	appInfo.WithLabelValues(svc, ver).Set(1)
}

// MetricsMiddleware records request count/latency.
// NOTE: route label is best-effort (path without query); acceptable for
// internal use.
func MetricsMiddleware(next http.Handler) http.Handler {
	if next == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: 200}
		next.ServeHTTP(rec, r)
		route := normalizeRouteLabel(r.URL.Path)
		code := strconv.Itoa(rec.code)
		httpRequestsTotal.WithLabelValues(r.Method, route, code).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.code = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func RecordWorkerJob(worker string, start time.Time, err error) {
	res := "ok"
	if err != nil {
		res = "error"
	}
	workerJobsTotal.WithLabelValues(worker, res).Inc()
	workerJobDuration.WithLabelValues(worker).Observe(time.Since(start).Seconds())
}

// RecordComparison tracks directive counts per correction round ("1","2",...).
func RecordComparison(round int, directiveCount int) {
	diffDirectives.WithLabelValues(strconv.Itoa(round)).Observe(float64(directiveCount))
}

// RecordConvergence tracks total correction rounds used by one conversion.
func RecordConvergence(attempts int) {
	convergeAttempts.Observe(float64(attempts))
}

func normalizeRouteLabel(path string) string {
	p := strings.TrimSpace(path)
	if p == "" {
		return "/"
	}
	// Reduce cardinality for jobId routes.
	// /footer/jobs/{jobId}
	// /footer/jobs/{jobId}/events
	// /footer/jobs/{jobId}/complete
	if strings.HasPrefix(p, "/footer/jobs/") {
		rest := strings.TrimPrefix(p, "/footer/jobs/")
		parts := strings.Split(rest, "/")
		if len(parts) == 1 {
			return "/footer/jobs/:jobId"
		}
		if len(parts) >= 2 {
			switch parts[1] {
			case "events":
				return "/footer/jobs/:jobId/events"
			case "complete":
				return "/footer/jobs/:jobId/complete"
			default:
				return "/footer/jobs/:jobId/" + parts[1]
			}
		}
	}
	return p
}
