package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Counter: how many chat requests were served from the reply cache.
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_cache_hits_total",
			Help: "Total number of chat responses served from the reply cache.",
		},
	)

	// Histogram: gateway HTTP latency in seconds. Buckets stretch far
	// because generation time scales with max_tokens.
	GatewayLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_latency_seconds",
			Help:    "HTTP request latency for the gateway in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"path", "method", "status_code"},
	)

	// Histogram: time spent inside model generation per completion.
	GenerationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "generation_seconds",
			Help:    "Wall time of one model generation call in seconds.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// Counters: token throughput, split by direction.
	PromptTokensTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "prompt_tokens_total",
			Help: "Total prompt tokens consumed by completions.",
		},
	)
	CompletionTokensTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "completion_tokens_total",
			Help: "Total tokens generated by completions.",
		},
	)
)

// Register is called once at process startup to register metrics.
func Register() {
	prometheus.MustRegister(
		CacheHitsTotal,
		GatewayLatencySeconds,
		GenerationSeconds,
		PromptTokensTotal,
		CompletionTokensTotal,
	)
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware measures gateway latency for each HTTP request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		duration := time.Since(start).Seconds()

		GatewayLatencySeconds.
			WithLabelValues(r.URL.Path, r.Method, strconv.Itoa(rec.statusCode)).
			Observe(duration)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
