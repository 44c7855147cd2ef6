package sandwich

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "sandwich"

var (
	shardLabels   = []string{"identifier", "shard_id"}
	managerLabels = []string{"identifier"}
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "events_total",
		Help:      "Dispatches handed to the event sink, by event type.",
	}, []string{"identifier", "event_type"})

	deferredEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "deferred_events_total",
		Help:      "Dispatches held back until the manager was ready.",
	}, managerLabels)

	managerStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "manager_status",
		Help:      "Current manager status.",
	}, managerLabels)

	gatewayLatency = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "gateway_latency_seconds",
		Help:      "Time between the last heartbeat and its ack.",
	}, shardLabels)

	shardStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "shard_status",
		Help:      "Current shard status.",
	}, shardLabels)

	shardReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "shard_reconnects_total",
		Help:      "Times a shard was queued for reconnection.",
	}, shardLabels)

	shardSendLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "shard_send_ratelimited_total",
		Help:      "Send windows a shard exhausted.",
	}, shardLabels)
)

func shardLabelValues(identifier string, shardID int32) []string {
	return []string{identifier, strconv.FormatInt(int64(shardID), 10)}
}

func RecordEvent(identifier, eventType string) {
	eventsTotal.WithLabelValues(identifier, eventType).Inc()
}

func RecordDeferredEvent(identifier string) {
	deferredEvents.WithLabelValues(identifier).Inc()
}

func UpdateManagerStatus(identifier string, status Status) {
	managerStatus.WithLabelValues(identifier).Set(float64(status))
}

func UpdateGatewayLatency(identifier string, shardID int32, latency time.Duration) {
	gatewayLatency.WithLabelValues(shardLabelValues(identifier, shardID)...).Set(latency.Seconds())
}

func UpdateShardStatus(identifier string, shardID int32, status Status) {
	shardStatus.WithLabelValues(shardLabelValues(identifier, shardID)...).Set(float64(status))
}

func RecordReconnect(identifier string, shardID int32) {
	shardReconnects.WithLabelValues(shardLabelValues(identifier, shardID)...).Inc()
}

func RecordRateLimitedSend(identifier string, shardID int32) {
	shardSendLimited.WithLabelValues(shardLabelValues(identifier, shardID)...).Inc()
}
