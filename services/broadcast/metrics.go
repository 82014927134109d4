package broadcast

import "github.com/prometheus/client_golang/prometheus"

var deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "cloudbot_broadcast_deliveries_total",
	Help: "Broadcast delivery attempts by outcome.",
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(deliveries)
}
