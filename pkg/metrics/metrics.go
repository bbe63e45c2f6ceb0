package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	DocumentsSet = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "herosync", Name: "documents_set_total", Help: "Number of accepted set operations."},
	)
	FeedBatches = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "herosync", Name: "feed_batches_total", Help: "Number of feed batches served."},
	)
	ChangeEventsPublished = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "herosync", Name: "change_events_published_total", Help: "Change events fanned out to subscribers."},
	)
	ChangeEventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "herosync", Name: "change_events_dropped_total", Help: "Change events dropped because a subscriber queue was full."},
	)
	ChannelSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "herosync", Name: "change_channel_subscribers", Help: "Currently connected change-channel subscribers."},
	)
	ReplicationCycles = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "herosync", Name: "replication_cycles_total", Help: "Completed push+pull replication cycles."},
	)
	DocumentsPushed = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "herosync", Name: "documents_pushed_total", Help: "Locally pending documents acknowledged by the server."},
	)
	DocumentsPulled = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "herosync", Name: "documents_pulled_total", Help: "Documents applied to the local store from feed batches."},
	)
	ChannelReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "herosync", Name: "change_channel_reconnects_total", Help: "Reconnect attempts of the change-channel subscriber."},
	)
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "herosync", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "herosync", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(
		DocumentsSet,
		FeedBatches,
		ChangeEventsPublished,
		ChangeEventsDropped,
		ChannelSubscribers,
		ReplicationCycles,
		DocumentsPushed,
		DocumentsPulled,
		ChannelReconnects,
		RateLimitAllowed,
		RateLimitRejected,
	)
}
