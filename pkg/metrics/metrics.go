// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// MessagesSent tracks persisted direct messages.
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_sent_total",
			Help: "Total direct messages sent",
		},
		[]string{"with_attachments"},
	)

	// ConversationsCreated tracks private conversations created.
	ConversationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversations_created_total",
			Help: "Total private conversations created",
		},
	)

	// ConversationCreateConflicts tracks creations that lost the race to a concurrent request.
	ConversationCreateConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversation_create_conflicts_total",
			Help: "Conversation creations resolved by re-query after a unique violation",
		},
	)

	// BroadcastPublishes tracks event publishes by result.
	BroadcastPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_publishes_total",
			Help: "Broadcast event publishes",
		},
		[]string{"event", "result"},
	)

	// PushEnqueues tracks push notification enqueues by result.
	PushEnqueues = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_enqueues_total",
			Help: "Push notification enqueue attempts",
		},
		[]string{"result"},
	)

	// PushDeliveries tracks push sends performed by the worker.
	PushDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_deliveries_total",
			Help: "Push notification deliveries",
		},
		[]string{"result"},
	)

	// ChannelAuthorizations tracks channel authorization decisions.
	ChannelAuthorizations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channel_authorizations_total",
			Help: "Channel authorization decisions",
		},
		[]string{"kind", "result"},
	)

	// UnreadComputeDuration tracks unread summary computation.
	UnreadComputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "unread_compute_duration_seconds",
			Help:    "Unread summary computation duration",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// WebsocketConnectionsActive tracks open gateway connections.
	WebsocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of active websocket connections",
		},
	)

	// NATSStreamMessages tracks messages in NATS stream.
	NATSStreamMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nats_stream_messages",
			Help: "Number of messages in NATS stream",
		},
		[]string{"stream"},
	)

	// NATSStreamBytes tracks bytes in NATS stream.
	NATSStreamBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nats_stream_bytes",
			Help: "Bytes in NATS stream",
		},
		[]string{"stream"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordMessageSent counts a persisted message.
func RecordMessageSent(attachments int) {
	MessagesSent.WithLabelValues(strconv.FormatBool(attachments > 0)).Inc()
}

// RecordBroadcast counts an event publish.
func RecordBroadcast(event string, err error) {
	BroadcastPublishes.WithLabelValues(event, result(err)).Inc()
}

// RecordPushEnqueue counts a push enqueue attempt.
func RecordPushEnqueue(err error) {
	PushEnqueues.WithLabelValues(result(err)).Inc()
}

// RecordPushDelivery counts a push delivery outcome.
func RecordPushDelivery(outcome string) {
	PushDeliveries.WithLabelValues(outcome).Inc()
}

// RecordAuthorization counts a channel authorization decision.
func RecordAuthorization(kind string, allowed bool) {
	r := "denied"
	if allowed {
		r = "allowed"
	}
	ChannelAuthorizations.WithLabelValues(kind, r).Inc()
}

// RecordStream records JetStream stream state.
func RecordStream(stream string, msgs, bytes uint64) {
	NATSStreamMessages.WithLabelValues(stream).Set(float64(msgs))
	NATSStreamBytes.WithLabelValues(stream).Set(float64(bytes))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
