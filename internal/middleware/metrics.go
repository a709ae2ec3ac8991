package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Learning metrics
	messagesLearned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "markov_bot_messages_learned_total",
		Help: "Total number of messages stored for learning",
	})

	// Trigger metrics
	triggerEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "markov_bot_trigger_evaluations_total",
		Help: "Total number of trigger decisions",
	}, []string{"outcome"})

	// Generation metrics
	repliesGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "markov_bot_replies_generated_total",
		Help: "Total number of generation runs",
	}, []string{"status"})

	generationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "markov_bot_generation_duration_seconds",
		Help:    "Duration of reply generation",
		Buckets: prometheus.DefBuckets,
	})

	// Model cache metrics
	modelCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "markov_bot_model_cache_hits_total",
		Help: "Total number of model cache hits",
	})

	modelCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "markov_bot_model_cache_misses_total",
		Help: "Total number of model cache misses",
	})

	modelBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "markov_bot_model_builds_total",
		Help: "Total number of chain model builds",
	}, []string{"status"})

	modelBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "markov_bot_model_build_duration_seconds",
		Help:    "Duration of chain model builds",
		Buckets: prometheus.DefBuckets,
	})

	// Rate limit metrics
	rateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "markov_bot_rate_limit_exceeded_total",
		Help: "Total number of suppressed replies per chat",
	}, []string{"chat_id"})

	// Command metrics
	commandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "markov_bot_commands_executed_total",
		Help: "Total number of commands executed",
	}, []string{"command"})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordMessageLearned records a stored message
func (m *Metrics) RecordMessageLearned() {
	messagesLearned.Inc()
}

// RecordTriggerEvaluation records a trigger decision outcome
func (m *Metrics) RecordTriggerEvaluation(outcome string) {
	triggerEvaluations.WithLabelValues(outcome).Inc()
}

// RecordGeneration records a generation run
func (m *Metrics) RecordGeneration(status string, duration time.Duration) {
	repliesGenerated.WithLabelValues(status).Inc()
	generationDuration.Observe(duration.Seconds())
}

// RecordModelCacheHit records a model cache hit
func (m *Metrics) RecordModelCacheHit() {
	modelCacheHits.Inc()
}

// RecordModelCacheMiss records a model cache miss
func (m *Metrics) RecordModelCacheMiss() {
	modelCacheMisses.Inc()
}

// RecordModelBuild records a chain model build
func (m *Metrics) RecordModelBuild(status string, duration time.Duration) {
	modelBuilds.WithLabelValues(status).Inc()
	modelBuildDuration.Observe(duration.Seconds())
}

// RecordRateLimitExceeded records a suppressed reply
func (m *Metrics) RecordRateLimitExceeded(chatID string) {
	rateLimitExceeded.WithLabelValues(chatID).Inc()
}

// RecordCommandExecuted records an executed command
func (m *Metrics) RecordCommandExecuted(command string) {
	commandsExecuted.WithLabelValues(command).Inc()
}

// StartMetricsServer starts the metrics HTTP server
func StartMetricsServer(port int, path string) error {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
