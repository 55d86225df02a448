package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var namespace = "peersync"

var (
	// StartupTime stores how long the startup took (in seconds)
	StartupTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "startup_seconds",
			Help:      "Seconds taken by the startup",
		},
	)

	// ListenerNotificationsTotal counts notifications received on the change channel
	ListenerNotificationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "listener",
		Name:      "notifications_total",
		Help:      "Number of change notifications received from the database",
	})

	// ListenerDroppedTotal counts notifications that couldn't be turned into change events
	ListenerDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "listener",
		Name:      "dropped_total",
		Help:      "Number of change notifications dropped partitioned by reason",
	}, []string{"reason"})

	// ListenerReconnectsTotal counts reconnects of the notification connection
	ListenerReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "listener",
		Name:      "reconnects_total",
		Help:      "Number of times the notification listener reconnected",
	})

	// ListenerConnected is 1 while the notification listener is connected
	ListenerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "listener",
		Name:      "connected",
		Help:      "1 if the notification listener is connected, 0 otherwise",
	})

	// BusPublishedTotal counts change events published on the in-process bus
	BusPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bus",
		Name:      "published_total",
		Help:      "Number of change events published on the event bus",
	})

	// BusHandlerPanicsTotal counts recovered subscriber panics
	BusHandlerPanicsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bus",
		Name:      "handler_panics_total",
		Help:      "Number of recovered panics partitioned by subscriber",
	}, []string{"subscriber"})

	BroadcastSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "broadcast",
		Name:      "sent_total",
		Help:      "Number of change messages queued to a peer",
	})

	BroadcastDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "broadcast",
		Name:      "dropped_total",
		Help:      "Number of change messages not delivered to a peer partitioned by reason",
	}, []string{"reason"})

	// BroadcastSkippedTotal counts events not broadcast because another instance originated them
	BroadcastSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "broadcast",
		Name:      "skipped_total",
		Help:      "Number of change events skipped because their origin is another instance",
	})

	ReceiverReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "receiver",
		Name:      "received_total",
		Help:      "Number of change messages received from peers",
	})

	// ReceiverLoopbackTotal counts inbound events discarded because their origin is this instance
	ReceiverLoopbackTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "receiver",
		Name:      "loopback_total",
		Help:      "Number of inbound change messages originated by this instance",
	})

	ReceiverRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "receiver",
		Name:      "rejected_total",
		Help:      "Number of inbound change messages rejected partitioned by reason",
	}, []string{"reason"})

	// ResolverOutcomesTotal counts remote change applications partitioned by operation and outcome
	ResolverOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "resolver",
		Name:      "outcomes_total",
		Help:      "Number of remote changes processed partitioned by operation and outcome",
	}, []string{"operation", "outcome"})

	ResolverErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "resolver",
		Name:      "errors_total",
		Help:      "Number of remote changes that failed to apply partitioned by operation",
	}, []string{"operation"})

	// PeersConnected stores the number of outbound peer connections currently up
	PeersConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "peer",
		Name:      "connected",
		Help:      "Number of connected outbound peer connections",
	})

	PeerReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "peer",
		Name:      "reconnects_total",
		Help:      "Number of outbound peer connection attempts after a disconnect",
	})

	// UnsyncedRecords stores the number of records with needs_sync set
	UnsyncedRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "unsynced_records",
		Help:      "Number of records whose current version is not acknowledged as synced",
	})
)
