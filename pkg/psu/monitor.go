package psu

import (
	"context"
	"time"

	"github.com/OpenTraceLab/OpenTraceFCT/pkg/bus"
	"github.com/jmhodges/clock"
)

// DefaultInterval matches the sampling rate used for fixture supplies.
const DefaultInterval = 500 * time.Millisecond

// Sample is one reading stamped with the time since monitoring started.
type Sample struct {
	ElapsedMs int64   `json:"elapsed_ms"`
	Current   float64 `json:"current"`
	Voltage   float64 `json:"voltage"`
}

// Monitor polls a supply at a fixed interval.
type Monitor struct {
	Supply   Supply
	Interval time.Duration
	Clock    clock.Clock
	// OnSample, when set, is called after each sample is taken.
	OnSample func(Sample)
}

// Run samples until ctx is done and returns everything collected. A failed
// measurement stops the monitor and is returned with the samples so far.
func (m *Monitor) Run(ctx context.Context) ([]Sample, error) {
	clk := m.Clock
	if clk == nil {
		clk = clock.New()
	}
	interval := m.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	var samples []Sample
	start := clk.Now()
	for {
		if ctx.Err() != nil {
			return samples, nil
		}

		r, err := m.Supply.Measure()
		if err != nil {
			return samples, bus.NewIOError("psu measure", err)
		}
		s := Sample{
			ElapsedMs: clk.Now().Sub(start).Milliseconds(),
			Current:   r.Current,
			Voltage:   r.Voltage,
		}
		samples = append(samples, s)
		if m.OnSample != nil {
			m.OnSample(s)
		}

		select {
		case <-ctx.Done():
			return samples, nil
		case <-clk.After(interval):
		}
	}
}
