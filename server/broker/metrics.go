package broker

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "cosmo"

var (
	messagesAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "messages_appended_total",
		Help:      "Number of messages appended to subject logs.",
	})
	pinOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "pins_total",
		Help:      "Number of pins created and removed.",
	}, []string{"op"})
	deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "deliveries_total",
		Help:      "Fan-out deliveries by mode (push, poll) and outcome.",
	}, []string{"mode", "outcome"})
	instancesSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "instances_swept_total",
		Help:      "Number of polling instances removed for inactivity.",
	})
)

// RegisterMetrics makes the broker's counters available to the registry.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{messagesAppended, pinOps, deliveries, instancesSwept} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
