package fct

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/OpenTraceLab/OpenTraceFCT/pkg/psu"
	"github.com/jmhodges/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Runner executes the FCT sequence on one DUT.
type Runner struct {
	Config  *Config
	DUT     DUT
	Fixture Fixture
	// Supply is sampled during the main phase; nil skips monitoring and
	// leaves the measurements empty.
	Supply psu.Supply
	Clock  clock.Clock
	Log    *zap.Logger

	Metrics  *Metrics
	Progress chan<- Progress
}

// Run executes the setup, main and validate phases and returns the record.
// Detected faults and out-of-limit samples make the record FAIL without an
// error. Bus failures and cancellation end the run with an ERROR record and
// the error.
func (r *Runner) Run(ctx context.Context, dutID string) (*Record, error) {
	cfg := r.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dutID == "" {
		return nil, fmt.Errorf("fct: empty DUT id")
	}
	clk := r.Clock
	if clk == nil {
		clk = clock.New()
	}
	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}

	rec := &Record{
		TestName:     cfg.TestName,
		Description:  cfg.Description,
		Version:      cfg.Version,
		DUTID:        dutID,
		Start:        clk.Now(),
		Cycles:       []CycleRecord{},
		Measurements: []Measurement{},
	}
	log.Info("starting test", zap.String("test", cfg.TestName), zap.String("dut_id", dutID))

	finish := func(outcome Outcome, err error) (*Record, error) {
		rec.End = clk.Now()
		rec.Outcome = outcome
		log.Info("test finished", zap.String("outcome", string(outcome)), zap.Error(err))
		return rec, err
	}

	// setup
	phase := PhaseRecord{Name: PhaseSetup, Start: clk.Now()}
	err := r.setup()
	rec.Phases = append(rec.Phases, endPhase(phase, clk, outcomeOf(err, false), err))
	if err != nil {
		return finish(OutcomeError, err)
	}

	// main
	phase = PhaseRecord{Name: PhaseMain, Start: clk.Now()}
	samples, err := r.main(ctx, cfg, clk, log, rec)
	failed := len(rec.Failures()) > 0
	rec.Phases = append(rec.Phases, endPhase(phase, clk, outcomeOf(err, failed), err))
	if err != nil {
		return finish(OutcomeError, err)
	}

	// validate
	phase = PhaseRecord{Name: PhaseValidate, Start: clk.Now()}
	rec.Measurements = ValidateSamples(samples, cfg.CurrentLimits, cfg.VoltageLimits)
	limitsFailed := false
	for _, m := range rec.Measurements {
		if !m.Passed() {
			limitsFailed = true
			log.Warn("measurement out of limits",
				zap.String("measurement", m.Name),
				zap.Float64("min", m.Limits.Min),
				zap.Float64("max", m.Limits.Max))
		}
	}
	rec.Phases = append(rec.Phases, endPhase(phase, clk, outcomeOf(nil, limitsFailed), nil))

	if failed || limitsFailed {
		return finish(OutcomeFail, nil)
	}
	return finish(OutcomePass, nil)
}

func (r *Runner) setup() error {
	if err := r.Fixture.IsolatePins(); err != nil {
		return fmt.Errorf("fct: setup: %w", err)
	}
	if err := r.DUT.ClearInterrupt(); err != nil {
		return fmt.Errorf("fct: setup: %w", err)
	}
	return nil
}

// main runs the cycles while the supply monitor samples alongside. The
// monitor is stopped once the cycles are done and it has taken at least one
// sample.
func (r *Runner) main(ctx context.Context, cfg *Config, clk clock.Clock, log *zap.Logger, rec *Record) ([]psu.Sample, error) {
	mctx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(mctx)

	var samples []psu.Sample
	sampled := make(chan struct{})
	if r.Supply != nil {
		var once sync.Once
		mon := &psu.Monitor{
			Supply:   r.Supply,
			Interval: cfg.MonitorInterval,
			Clock:    clk,
			OnSample: func(s psu.Sample) {
				r.Metrics.ObserveSample(s)
				once.Do(func() { close(sampled) })
			},
		}
		g.Go(func() error {
			var err error
			samples, err = mon.Run(gctx)
			return err
		})
	} else {
		close(sampled)
	}

	g.Go(func() error {
		defer stop()
		if err := r.cycles(gctx, cfg, log, rec); err != nil {
			return err
		}
		select {
		case <-sampled:
		case <-gctx.Done():
		}
		return nil
	})

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return samples, err
}

func (r *Runner) cycles(ctx context.Context, cfg *Config, log *zap.Logger, rec *Record) error {
	checker := &Checker{
		DUT:              r.DUT,
		Fixture:          r.Fixture,
		InterruptTimeout: cfg.InterruptTimeout,
		Progress:         r.Progress,
		Log:              log,
		Metrics:          r.Metrics,
	}

	for cycle := 1; cycle <= cfg.Cycles; cycle++ {
		log.Info("test cycle", zap.Int("cycle", cycle), zap.Int("of", cfg.Cycles))
		err := checker.Verify(ctx, cycle)

		cr := CycleRecord{Cycle: cycle, Outcome: OutcomePass}
		var ce *CheckError
		switch {
		case err == nil:
		case errors.As(err, &ce):
			cr.Outcome = OutcomeFail
			cr.Failure = ce
		default:
			cr.Outcome = OutcomeError
			cr.Error = err.Error()
		}
		rec.Cycles = append(rec.Cycles, cr)
		r.Metrics.ObserveCycle(cr.Outcome)

		if cr.Outcome == OutcomeError {
			return err
		}
		if cr.Outcome == OutcomeFail && cfg.StopOnFailure {
			break
		}
	}

	if err := r.Fixture.IsolatePins(); err != nil {
		return fmt.Errorf("fct: isolate after cycles: %w", err)
	}
	return nil
}

func outcomeOf(err error, failed bool) Outcome {
	switch {
	case err != nil:
		return OutcomeError
	case failed:
		return OutcomeFail
	}
	return OutcomePass
}

func endPhase(p PhaseRecord, clk clock.Clock, outcome Outcome, err error) PhaseRecord {
	p.End = clk.Now()
	p.Outcome = outcome
	if err != nil {
		p.Error = err.Error()
	}
	return p
}
