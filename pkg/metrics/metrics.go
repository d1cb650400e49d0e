package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Registry holds every ax metric. It is separate from the default registry so
// textfile dumps do not carry Go runtime collectors.
var Registry = prometheus.NewRegistry()

var (
	DeviceAuthorizations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ax_device_authorizations_total",
		Help: "Total number of device code requests grouped by result",
	}, []string{"result"})
	TokenPollAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ax_token_poll_attempts_total",
		Help: "Total number of token endpoint polls grouped by classified response",
	}, []string{"response"})
	DeviceFlowOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ax_device_flow_outcomes_total",
		Help: "Total number of finished device flows grouped by terminal outcome",
	}, []string{"outcome"})
	DeviceFlowDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ax_device_flow_duration_seconds",
		Help:    "Time from the start of polling until a terminal outcome",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 900, 1800},
	})
	ResourceRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ax_resource_requests_total",
		Help: "Total number of protected resource requests grouped by resource, method and status code",
	}, []string{"resource", "method", "code"})
	ResourceRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ax_resource_request_duration_seconds",
		Help:    "Latency of protected resource requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"resource", "method"})
)

func init() {
	Registry.MustRegister(DeviceAuthorizations)
	Registry.MustRegister(TokenPollAttempts)
	Registry.MustRegister(DeviceFlowOutcomes)
	Registry.MustRegister(DeviceFlowDuration)
	Registry.MustRegister(ResourceRequests)
	Registry.MustRegister(ResourceRequestDuration)
}

// WriteTextfile writes the current metric values in the text exposition
// format, suitable for the node exporter textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}
