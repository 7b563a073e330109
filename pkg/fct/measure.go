package fct

import "github.com/OpenTraceLab/OpenTraceFCT/pkg/psu"

// Measurement is a dimensioned series checked against limits. Each value is
// an (elapsed ms, reading) pair.
type Measurement struct {
	Name      string       `json:"name"`
	Units     string       `json:"units"`
	Dimension string       `json:"dimension"`
	Limits    Limits       `json:"limits"`
	Values    [][2]float64 `json:"values"`
	Outcome   Outcome      `json:"outcome"`
}

// Passed reports whether every value is within the limits.
func (m *Measurement) Passed() bool {
	return m.Outcome == OutcomePass
}

// Measurement names in the record.
const (
	MeasurementCurrent = "current"
	MeasurementVoltage = "voltage"
)

func newMeasurement(name, units string, limits Limits, samples []psu.Sample, value func(psu.Sample) float64) Measurement {
	m := Measurement{
		Name:      name,
		Units:     units,
		Dimension: "ms",
		Limits:    limits,
		Values:    make([][2]float64, 0, len(samples)),
		Outcome:   OutcomePass,
	}
	for _, s := range samples {
		v := value(s)
		m.Values = append(m.Values, [2]float64{float64(s.ElapsedMs), v})
		if !limits.Contains(v) {
			m.Outcome = OutcomeFail
		}
	}
	return m
}

// ValidateSamples builds the current and voltage measurements for samples.
// An empty series passes.
func ValidateSamples(samples []psu.Sample, current, voltage Limits) []Measurement {
	return []Measurement{
		newMeasurement(MeasurementCurrent, "A", current, samples, func(s psu.Sample) float64 { return s.Current }),
		newMeasurement(MeasurementVoltage, "V", voltage, samples, func(s psu.Sample) float64 { return s.Voltage }),
	}
}
