package broadcast

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var broadcastDropped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "broadcast_messages_dropped_total",
	Help: "Messages dropped because a subscriber channel was full",
})
