package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "relay_messages_received_total", Help: "broker deliveries appended to a mailbox"},
		[]string{"kind"},
	)

	DeliveriesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "relay_deliveries_dropped_total", Help: "malformed broker deliveries dropped"},
		[]string{"kind"},
	)

	MessagesForwarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "relay_messages_forwarded_total", Help: "messages accepted by the sink"},
		[]string{"kind"},
	)

	ForwardFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "relay_forward_failures_total", Help: "messages the sink did not accept"},
		[]string{"kind"},
	)

	MessagesPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "relay_messages_published_total", Help: "messages published to the broker"},
		[]string{"kind"},
	)

	BrokerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "relay_broker_failures_total", Help: "broker failures by step"},
		[]string{"step"},
	)

	ActiveWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "relay_active_workers", Help: "polling workers currently running"},
	)
)

func init() {
	prometheus.MustRegister(
		MessagesReceived,
		DeliveriesDropped,
		MessagesForwarded,
		ForwardFailures,
		MessagesPublished,
		BrokerFailures,
		ActiveWorkers,
	)
}

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }
