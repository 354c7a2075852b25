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
	// Message metrics
	messagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wechat_bot_messages_received_total",
		Help: "Total number of webhook messages received",
	}, []string{"msg_type"})

	chatTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wechat_bot_chat_turns_total",
		Help: "Total number of metered chat turns",
	}, []string{"status"})

	// Credit metrics
	creditsDebited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wechat_bot_credits_debited_total",
		Help: "Total credits debited for chat turns",
	})

	creditsGranted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wechat_bot_credits_granted_total",
		Help: "Total credits granted by settled payments",
	})

	insufficientCredits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wechat_bot_insufficient_credits_total",
		Help: "Total chat turns rejected for lack of credits",
	})

	// Order metrics
	ordersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wechat_bot_orders_created_total",
		Help: "Total recharge orders created",
	}, []string{"package"})

	reconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wechat_bot_reconciliations_total",
		Help: "Total payment notifications processed",
	}, []string{"result"})

	// AI metrics
	aiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wechat_bot_ai_request_duration_seconds",
		Help:    "Duration of AI requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})

	// Rate limit metrics
	rateLimitExceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wechat_bot_rate_limit_exceeded_total",
		Help: "Total number of rate limit exceeded events",
	})

	// Push metrics
	pushTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wechat_bot_push_tasks_total",
		Help: "Total customer-service push tasks",
	}, []string{"status"})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordMessageReceived records a received webhook message
func (m *Metrics) RecordMessageReceived(msgType string) {
	messagesReceived.WithLabelValues(msgType).Inc()
}

// RecordChatTurn records a metered chat turn
func (m *Metrics) RecordChatTurn(status string) {
	chatTurns.WithLabelValues(status).Inc()
}

// RecordDebit records credits debited
func (m *Metrics) RecordDebit(amount int) {
	creditsDebited.Add(float64(amount))
}

// RecordGrant records credits granted by settlement
func (m *Metrics) RecordGrant(amount int) {
	creditsGranted.Add(float64(amount))
}

// RecordInsufficientCredits records a rejected chat turn
func (m *Metrics) RecordInsufficientCredits() {
	insufficientCredits.Inc()
}

// RecordOrderCreated records a created recharge order
func (m *Metrics) RecordOrderCreated(packageID string) {
	ordersCreated.WithLabelValues(packageID).Inc()
}

// RecordReconciliation records a processed payment notification
func (m *Metrics) RecordReconciliation(result string) {
	reconciliations.WithLabelValues(result).Inc()
}

// RecordAIRequest records an AI request
func (m *Metrics) RecordAIRequest(status string, duration time.Duration) {
	aiRequestDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordRateLimitExceeded records a rate limit exceeded event
func (m *Metrics) RecordRateLimitExceeded() {
	rateLimitExceeded.Inc()
}

// RecordPushTask records a push task outcome
func (m *Metrics) RecordPushTask(status string) {
	pushTasks.WithLabelValues(status).Inc()
}

// StartMetricsServer starts the metrics HTTP server
func StartMetricsServer(port int, path string) error {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

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
