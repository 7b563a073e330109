package fct

import (
	"strings"
	"testing"
	"time"

	"github.com/OpenTraceLab/OpenTraceFCT/pkg/psu"
	"github.com/go-test/deep"
	"github.com/spf13/afero"
)

func TestValidateSamples(t *testing.T) {
	samples := []psu.Sample{
		{ElapsedMs: 0, Current: 0.020, Voltage: 5.0},
		{ElapsedMs: 500, Current: 0.150, Voltage: 5.1},
		{ElapsedMs: 1000, Current: 0.030, Voltage: 4.9},
	}
	got := ValidateSamples(samples, Limits{Min: 0, Max: 0.10}, Limits{Min: 4.5, Max: 5.5})

	want := []Measurement{
		{
			Name:      MeasurementCurrent,
			Units:     "A",
			Dimension: "ms",
			Limits:    Limits{Min: 0, Max: 0.10},
			Values:    [][2]float64{{0, 0.020}, {500, 0.150}, {1000, 0.030}},
			Outcome:   OutcomeFail,
		},
		{
			Name:      MeasurementVoltage,
			Units:     "V",
			Dimension: "ms",
			Limits:    Limits{Min: 4.5, Max: 5.5},
			Values:    [][2]float64{{0, 5.0}, {500, 5.1}, {1000, 4.9}},
			Outcome:   OutcomePass,
		},
	}
	if diff := deep.Equal(got, want); diff != nil {
		t.Error(diff)
	}
}

func TestLimitsAreInclusive(t *testing.T) {
	l := Limits{Min: 4.5, Max: 5.5}
	for v, want := range map[float64]bool{4.5: true, 5.5: true, 5.0: true, 4.49: false, 5.51: false} {
		if got := l.Contains(v); got != want {
			t.Errorf("Contains(%v) = %v, want %v", v, got, want)
		}
	}
}

func TestWriteRecord(t *testing.T) {
	fs := afero.NewMemMapFs()
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := &Record{
		TestName:    "fct_test",
		Description: "PiDP-11 I/O Expander FCT",
		Version:     "1.0.0",
		DUTID:       "SN42",
		Start:       start,
		End:         start.Add(3 * time.Second),
		Outcome:     OutcomeFail,
		Phases: []PhaseRecord{
			{Name: PhaseSetup, Start: start, End: start, Outcome: OutcomePass},
			{Name: PhaseMain, Start: start, End: start.Add(2 * time.Second), Outcome: OutcomeFail},
		},
		Cycles: []CycleRecord{{
			Cycle:   1,
			Outcome: OutcomeFail,
			Failure: &CheckError{Pass: PassOpenCircuit, Cycle: 1, Primary: 1, Secondary: 0, Pin: 2, Check: CheckSecondary, Want: 0x04, Got: 0x00},
		}},
		Measurements: ValidateSamples([]psu.Sample{{ElapsedMs: 0, Current: 0.025, Voltage: 5}}, Limits{Max: 0.1}, Limits{Min: 4.5, Max: 5.5}),
	}

	path, err := WriteRecord(fs, "/records", rec)
	if err != nil {
		t.Fatalf("WriteRecord failed: %v", err)
	}
	if path != "/records/SN42.fct_test.json" {
		t.Errorf("path = %q", path)
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	for _, s := range []string{`"dut_id": "SN42"`, `"outcome": "FAIL"`, `"check": "secondary data"`, `"dimension": "ms"`} {
		if !strings.Contains(string(data), s) {
			t.Errorf("record JSON missing %s", s)
		}
	}

	got, err := ReadRecord(fs, path)
	if err != nil {
		t.Fatalf("ReadRecord failed: %v", err)
	}
	if diff := deep.Equal(got.Cycles, rec.Cycles); diff != nil {
		t.Errorf("cycles: %v", diff)
	}
	if diff := deep.Equal(got.Measurements, rec.Measurements); diff != nil {
		t.Errorf("measurements: %v", diff)
	}
	if !got.Start.Equal(rec.Start) || !got.End.Equal(rec.End) {
		t.Errorf("times = %v..%v, want %v..%v", got.Start, got.End, rec.Start, rec.End)
	}
}

func TestWriteRecordErrors(t *testing.T) {
	if _, err := WriteRecord(afero.NewMemMapFs(), "out", &Record{TestName: "fct_test"}); err == nil {
		t.Errorf("WriteRecord accepted a record without DUT id")
	}
	ro := afero.NewReadOnlyFs(afero.NewMemMapFs())
	if _, err := WriteRecord(ro, "out", &Record{TestName: "fct_test", DUTID: "SN1"}); err == nil {
		t.Errorf("WriteRecord on a read-only filesystem succeeded")
	}
	if _, err := ReadRecord(afero.NewMemMapFs(), "missing.json"); err == nil {
		t.Errorf("ReadRecord of a missing file succeeded")
	}
}
