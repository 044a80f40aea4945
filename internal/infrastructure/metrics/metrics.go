// Package metrics exposes Prometheus collectors for the Tasmota bridge.
//
// Collectors are registered once by Init. Until then every recording
// function is a no-op, so packages can record unconditionally and tests
// need no registry.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "graylogic_tasmota_"

	resultSuccess   = "success"
	resultError     = "error"
	resultRejected  = "rejected"
	resultMalformed = "malformed"
	resultWarning   = "warning"

	commandResultAccepted = "accepted"
	commandResultFailed   = "failed"
	commandResultInvalid  = "invalid"
)

// collectors holds every registered collector. It is published as a whole
// once registration succeeds.
type collectors struct {
	deviceRequests       *prometheus.CounterVec
	deviceRequestLatency *prometheus.HistogramVec
	pollCycleLatency     prometheus.Histogram
	propertyWrites       *prometheus.CounterVec
	commandResults       *prometheus.CounterVec
	devicesManaged       prometheus.Gauge
}

var (
	registerOnce sync.Once
	active       atomic.Pointer[collectors]
)

// Init registers the collectors with reg (prometheus.DefaultRegisterer when nil).
// Later calls are ignored. Init is safe to call while other goroutines record.
func Init(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		c := newCollectors()
		reg.MustRegister(
			c.deviceRequests,
			c.deviceRequestLatency,
			c.pollCycleLatency,
			c.propertyWrites,
			c.commandResults,
			c.devicesManaged,
		)
		active.Store(c)
	})
}

func newCollectors() *collectors {
	return &collectors{
		deviceRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "device_requests_total",
				Help: "Total HTTP requests sent to devices by command and result",
			},
			[]string{"command", "result"},
		),
		deviceRequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "device_request_latency_seconds",
				Help:    "Device request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		),
		pollCycleLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "poll_cycle_latency_seconds",
				Help:    "Duration of a full device poll cycle in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		propertyWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "property_writes_total",
				Help: "Total property writes by delivery result",
			},
			[]string{"result"},
		),
		commandResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_results_total",
				Help: "Total MQTT commands by acknowledgment status",
			},
			[]string{"status"},
		),
		devicesManaged: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "devices_managed",
				Help: "Number of devices managed by the bridge",
			},
		),
	}
}

// ObserveDeviceRequest records one device request.
func ObserveDeviceRequest(command, result string, duration time.Duration) {
	c := active.Load()
	if c == nil {
		return
	}
	if result == "" {
		result = resultSuccess
	}
	c.deviceRequests.WithLabelValues(command, result).Inc()
	c.deviceRequestLatency.WithLabelValues(result).Observe(duration.Seconds())
}

// ObservePollCycle records the duration of one device poll cycle.
func ObservePollCycle(duration time.Duration) {
	if c := active.Load(); c != nil {
		c.pollCycleLatency.Observe(duration.Seconds())
	}
}

// IncPropertyWrite counts a property write by delivery result.
func IncPropertyWrite(result string) {
	c := active.Load()
	if c == nil {
		return
	}
	if result == "" {
		result = "unknown"
	}
	c.propertyWrites.WithLabelValues(result).Inc()
}

// IncCommandResult counts an MQTT command outcome.
func IncCommandResult(status string) {
	c := active.Load()
	if c == nil {
		return
	}
	if status == "" {
		status = "unknown"
	}
	c.commandResults.WithLabelValues(status).Inc()
}

// SetDevicesManaged sets the managed device gauge.
func SetDevicesManaged(n int) {
	if c := active.Load(); c != nil {
		c.devicesManaged.Set(float64(n))
	}
}

// Exported constants for callers.
const (
	ResultSuccess   = resultSuccess
	ResultError     = resultError
	ResultRejected  = resultRejected
	ResultMalformed = resultMalformed
	ResultWarning   = resultWarning

	CommandResultAccepted = commandResultAccepted
	CommandResultFailed   = commandResultFailed
	CommandResultInvalid  = commandResultInvalid
)
