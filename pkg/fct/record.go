package fct

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// Outcome is the result of a run, phase or cycle.
type Outcome string

const (
	OutcomePass  Outcome = "PASS"
	OutcomeFail  Outcome = "FAIL"
	OutcomeError Outcome = "ERROR"
)

// Phase names of a run.
const (
	PhaseSetup    = "setup"
	PhaseMain     = "main"
	PhaseValidate = "validate"
)

// PhaseRecord is the result of one phase.
type PhaseRecord struct {
	Name    string    `json:"name"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Outcome Outcome   `json:"outcome"`
	Error   string    `json:"error,omitempty"`
}

// CycleRecord is the result of one test cycle. Failure is set for a detected
// fault, Error for anything that kept the cycle from completing.
type CycleRecord struct {
	Cycle   int         `json:"cycle"`
	Outcome Outcome     `json:"outcome"`
	Failure *CheckError `json:"failure,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Record is the JSON test record of one run.
type Record struct {
	TestName     string        `json:"test_name"`
	Description  string        `json:"description"`
	Version      string        `json:"version"`
	DUTID        string        `json:"dut_id"`
	Start        time.Time     `json:"start"`
	End          time.Time     `json:"end"`
	Outcome      Outcome       `json:"outcome"`
	Phases       []PhaseRecord `json:"phases"`
	Cycles       []CycleRecord `json:"cycles"`
	Measurements []Measurement `json:"measurements"`
}

// Failures returns the cycles that did not pass.
func (r *Record) Failures() []CycleRecord {
	var out []CycleRecord
	for _, c := range r.Cycles {
		if c.Outcome != OutcomePass {
			out = append(out, c)
		}
	}
	return out
}

// RecordName returns the file name of a record: {dut_id}.{test_name}.json.
func RecordName(dutID, testName string) string {
	return fmt.Sprintf("%s.%s.json", dutID, testName)
}

// WriteRecord writes rec as indented JSON into dir and returns the path.
func WriteRecord(fs afero.Fs, dir string, rec *Record) (string, error) {
	if rec.DUTID == "" {
		return "", fmt.Errorf("fct: record has no DUT id")
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("fct: encode record: %w", err)
	}
	if dir == "" {
		dir = "."
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("fct: create %s: %w", dir, err)
	}
	path := filepath.Join(dir, RecordName(rec.DUTID, rec.TestName))
	if err := afero.WriteFile(fs, path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("fct: write record: %w", err)
	}
	return path, nil
}

// ReadRecord loads a record written by WriteRecord.
func ReadRecord(fs afero.Fs, path string) (*Record, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("fct: read record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("fct: decode record: %w", err)
	}
	return &rec, nil
}
