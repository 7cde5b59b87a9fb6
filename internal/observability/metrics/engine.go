package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics contains Prometheus metrics for capture and render engines
type EngineMetrics struct {
	registry *prometheus.Registry

	completions      *prometheus.CounterVec
	bytesTransferred *prometheus.CounterVec
	callbacks        *prometheus.CounterVec
	callbackDuration *prometheus.HistogramVec
	resubmits        *prometheus.CounterVec
	releases         *prometheus.CounterVec
	degradedSlots    *prometheus.CounterVec
	underruns        prometheus.Counter
	inFlight         *prometheus.GaugeVec
	state            *prometheus.GaugeVec

	collectors []prometheus.Collector
}

// NewEngineMetrics creates and registers engine metrics
func NewEngineMetrics(registry *prometheus.Registry) (*EngineMetrics, error) {
	m := &EngineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *EngineMetrics) initMetrics() {
	m.completions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcmio_descriptor_completions_total",
			Help: "Descriptors returned by the device and processed by the worker",
		},
		[]string{"direction"},
	)

	m.bytesTransferred = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcmio_bytes_transferred_total",
			Help: "Bytes recorded into or played from completed descriptors",
		},
		[]string{"direction"},
	)

	m.callbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcmio_callbacks_total",
			Help: "Receive and supply callback invocations by outcome",
		},
		[]string{"direction", "status"},
	)

	m.callbackDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pcmio_callback_duration_seconds",
			Help:    "Time spent inside receive and supply callbacks",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 100us to ~1.6s
		},
		[]string{"direction"},
	)

	m.resubmits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcmio_descriptor_submits_total",
			Help: "Descriptors submitted to the device by outcome",
		},
		[]string{"direction", "status"},
	)

	m.releases = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcmio_descriptor_releases_total",
			Help: "Descriptors retired from the arena",
		},
		[]string{"direction"},
	)

	m.degradedSlots = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcmio_degraded_slots_total",
			Help: "Buffer slots lost because a recycle was rejected by the device",
		},
		[]string{"direction"},
	)

	m.underruns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pcmio_render_underruns_total",
			Help: "Supply callbacks that returned no data",
		},
	)

	m.inFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pcmio_descriptors_in_flight",
			Help: "Descriptors currently owned by the device",
		},
		[]string{"direction"},
	)

	m.state = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pcmio_engine_state",
			Help: "1 for the current engine state, 0 otherwise",
		},
		[]string{"direction", "state"},
	)

	m.collectors = []prometheus.Collector{
		m.completions,
		m.bytesTransferred,
		m.callbacks,
		m.callbackDuration,
		m.resubmits,
		m.releases,
		m.degradedSlots,
		m.underruns,
		m.inFlight,
		m.state,
	}
}

// Describe implements the Collector interface
func (m *EngineMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *EngineMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

func (m *EngineMetrics) RecordCompletion(direction string, bytes int) {
	m.completions.WithLabelValues(direction).Inc()
	if bytes > 0 {
		m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
	}
}

func (m *EngineMetrics) RecordCallback(direction, status string, seconds float64) {
	m.callbacks.WithLabelValues(direction, status).Inc()
	m.callbackDuration.WithLabelValues(direction).Observe(seconds)
}

func (m *EngineMetrics) RecordResubmit(direction, status string) {
	m.resubmits.WithLabelValues(direction, status).Inc()
}

func (m *EngineMetrics) RecordRelease(direction string) {
	m.releases.WithLabelValues(direction).Inc()
}

func (m *EngineMetrics) RecordDegraded(direction string) {
	m.degradedSlots.WithLabelValues(direction).Inc()
}

func (m *EngineMetrics) RecordUnderrun() {
	m.underruns.Inc()
}

func (m *EngineMetrics) SetInFlight(direction string, n int) {
	m.inFlight.WithLabelValues(direction).Set(float64(n))
}

// SetState sets the gauge for state to 1 and every other state to 0
func (m *EngineMetrics) SetState(direction, state string) {
	for _, s := range engineStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.state.WithLabelValues(direction, s).Set(v)
	}
}
