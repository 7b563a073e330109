package fct

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceFCT/pkg/psu"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts checks and cycles and tracks the latest supply reading. A nil
// *Metrics ignores every observation.
type Metrics struct {
	Registry *prometheus.Registry

	checks  *prometheus.CounterVec
	cycles  *prometheus.CounterVec
	samples prometheus.Counter
	current prometheus.Gauge
	voltage prometheus.Gauge
}

// NewMetrics registers the FCT collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fct_checks_total",
			Help: "Pin checks performed, by pass and result.",
		}, []string{"pass", "result"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fct_cycles_total",
			Help: "Test cycles completed, by outcome.",
		}, []string{"outcome"}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fct_psu_samples_total",
			Help: "Fixture supply samples taken.",
		}),
		current: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fct_psu_current_amperes",
			Help: "Last fixture supply current reading.",
		}),
		voltage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fct_psu_voltage_volts",
			Help: "Last fixture supply voltage reading.",
		}),
	}
	m.Registry.MustRegister(m.checks, m.cycles, m.samples, m.current, m.voltage)
	return m
}

func checkResult(err error) string {
	switch {
	case err == nil:
		return "pass"
	case isCheckError(err):
		return "fail"
	}
	return "error"
}

// ObserveCheck counts one pin check with its result.
func (m *Metrics) ObserveCheck(pass Pass, err error) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(string(pass), checkResult(err)).Inc()
}

// ObserveCycle counts one finished cycle.
func (m *Metrics) ObserveCycle(outcome Outcome) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(string(outcome)).Inc()
}

// ObserveSample records a supply reading.
func (m *Metrics) ObserveSample(s psu.Sample) {
	if m == nil {
		return
	}
	m.samples.Inc()
	m.current.Set(s.Current)
	m.voltage.Set(s.Voltage)
}

// WriteTextfile writes the metrics in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("fct: write metrics: %w", err)
	}
	return nil
}
