package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var defaultLatencyBuckets = []float64{50, 300, 1000, 5000, 15000}

const (
	RequestsCollectorName = "chi_requests_total"
	LatencyCollectorName  = "chi_request_duration_milliseconds"
)

// Middleware counts requests and observes latency partitioned by status code,
// method and route pattern.
type Middleware struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewMiddleware returns a prometheus middleware for the service. Buckets are
// in milliseconds; ingestion callbacks are slow so the defaults reach 15s.
func NewMiddleware(name string, buckets ...float64) *Middleware {
	if len(buckets) == 0 {
		buckets = defaultLatencyBuckets
	}

	var m Middleware
	m.requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        RequestsCollectorName,
			Help:        "Number of HTTP requests partitioned by status code, method and HTTP path.",
			ConstLabels: prometheus.Labels{"service": name},
		}, []string{"code", "method", "path"})

	m.latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        LatencyCollectorName,
		Help:        "Time spent on the request partitioned by status code, method and HTTP path.",
		ConstLabels: prometheus.Labels{"service": name},
		Buckets:     buckets,
	}, []string{"code", "method", "path"})

	return &m
}

func (m Middleware) Handler(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		rctx := chi.RouteContext(r.Context())
		if rctx == nil {
			return
		}
		// route patterns keep {kind} and {id} as placeholders so cardinality stays bounded
		rp := rctx.RoutePattern()
		code := strconv.Itoa(ww.Status())
		m.requests.WithLabelValues(code, r.Method, rp).Inc()
		m.latency.WithLabelValues(code, r.Method, rp).Observe(float64(time.Since(start).Milliseconds()))
	}
	return http.HandlerFunc(fn)
}

func (m Middleware) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.requests, m.latency}
}

// MustRegisterDefault registers collectors to DefaultRegisterer.
func (m Middleware) MustRegisterDefault() {
	if m.requests == nil || m.latency == nil {
		panic("collectors must be set")
	}
	prometheus.MustRegister(m.requests)
	prometheus.MustRegister(m.latency)
}
