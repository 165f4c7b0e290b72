package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sseClients = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "sse_clients_connected",
	Help: "Currently connected SSE stream clients",
})
