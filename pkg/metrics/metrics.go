package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/open-teleop/dashboard/domain/robot"
)

const namespace = "dashboard"

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds the dashboard's prometheus collectors. A nil *Metrics is
// valid and records nothing, so components can be built without one.
type Metrics struct {
	registry *prometheus.Registry

	GatewayRequests  *prometheus.CounterVec
	GatewayLatency   *prometheus.HistogramVec
	Polls            *prometheus.CounterVec
	Commands         *prometheus.CounterVec
	SinkPublishes    *prometheus.CounterVec
	TelemetryClients prometheus.Gauge
	RobotOnline      prometheus.Gauge
	BatteryVoltage   prometheus.Gauge
	CPUTemp          prometheus.Gauge
}

// New creates the collectors on a private registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		GatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Device requests by operation and result.",
		}, []string{"op", "result"}),
		GatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Device request round trip by operation.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2, 5},
		}, []string{"op"}),
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "polls_total",
			Help:      "Telemetry polls by result.",
		}, []string{"result"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "teleop",
			Name:      "commands_total",
			Help:      "Commands handed to the gateway by kind.",
		}, []string{"kind"}),
		SinkPublishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "sink_publishes_total",
			Help:      "Status publications per sink and result.",
		}, []string{"sink", "result"}),
		TelemetryClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "websocket_clients",
			Help:      "Connected telemetry websocket clients.",
		}),
		RobotOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "robot",
			Name:      "online",
			Help:      "1 when the last merged status reported the rover online.",
		}),
		BatteryVoltage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "robot",
			Name:      "battery_volts",
			Help:      "Last reported battery voltage.",
		}),
		CPUTemp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "robot",
			Name:      "cpu_temp_celsius",
			Help:      "Last reported onboard CPU temperature.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.GatewayRequests,
		m.GatewayLatency,
		m.Polls,
		m.Commands,
		m.SinkPublishes,
		m.TelemetryClients,
		m.RobotOnline,
		m.BatteryVoltage,
		m.CPUTemp,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

// ObserveGatewayCall records one device round trip.
func (m *Metrics) ObserveGatewayCall(op string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.GatewayRequests.WithLabelValues(op, result(err)).Inc()
	m.GatewayLatency.WithLabelValues(op).Observe(seconds)
}

// ObservePoll records a telemetry poll outcome.
func (m *Metrics) ObservePoll(err error) {
	if m == nil {
		return
	}
	m.Polls.WithLabelValues(result(err)).Inc()
}

// ObserveCommand counts a dispatched intent.
func (m *Metrics) ObserveCommand(kind string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(kind).Inc()
}

// ObserveSinkPublish records one sink publication.
func (m *Metrics) ObserveSinkPublish(sink string, err error) {
	if m == nil {
		return
	}
	m.SinkPublishes.WithLabelValues(sink, result(err)).Inc()
}

// AddTelemetryClients adjusts the websocket client gauge.
func (m *Metrics) AddTelemetryClients(delta float64) {
	if m == nil {
		return
	}
	m.TelemetryClients.Add(delta)
}

// SetStatus mirrors the merged status into gauges.
func (m *Metrics) SetStatus(s robot.Status) {
	if m == nil {
		return
	}
	online := 0.0
	if s.Online {
		online = 1
	}
	m.RobotOnline.Set(online)
	m.BatteryVoltage.Set(s.BatteryVoltage)
	m.CPUTemp.Set(s.CPUTemp)
}
