package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EndpointRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "doisync", Name: "endpoint_requests_total", Help: "Number of endpoint requests by op, transport and status code."},
		[]string{"op", "transport", "code"},
	)
	RecordsSaved = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "doisync", Name: "records_saved_total", Help: "Number of records stored by transport."},
		[]string{"transport"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(EndpointRequests)
	reg.MustRegister(RecordsSaved)
}
