package metrics

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/smileynet/jpfdoop/internal/process"
)

type scriptedRunner struct {
	results []process.Result
	n       int
}

func (s *scriptedRunner) Run(context.Context, process.Invocation) process.Result {
	res := s.results[s.n]
	s.n++
	return res
}

func TestInstrumentRunner_CountsOutcomes(t *testing.T) {
	// Given a runner producing one of each outcome
	m := New()
	r := m.InstrumentRunner(&scriptedRunner{results: []process.Result{
		{Duration: time.Second},
		{ExitCode: 1},
		{ExitCode: -1, TimedOut: true},
		{ExitCode: -1, TimedOut: true},
		{ExitCode: -1, Err: context.Canceled},
	}})

	// When invocations run
	for range 5 {
		r.Run(context.Background(), process.Invocation{Stage: "symbolic-execution", Program: "jpf"})
	}

	// Then each outcome is counted under the stage label
	tests := []struct {
		outcome string
		want    float64
	}{
		{OutcomeSuccess, 1},
		{OutcomeFailure, 1},
		{OutcomeTimeout, 2},
		{OutcomeCancelled, 1},
	}
	for _, tt := range tests {
		got := testutil.ToFloat64(m.invocations.WithLabelValues("symbolic-execution", tt.outcome))
		if got != tt.want {
			t.Errorf("invocations{outcome=%q} = %v, want %v", tt.outcome, got, tt.want)
		}
	}
	if n := testutil.CollectAndCount(m.invocationDuration); n != 1 {
		t.Errorf("duration series = %d, want 1", n)
	}
}

func TestObserveStage(t *testing.T) {
	m := New()

	m.ObserveStage("coverage", "passed", 2*time.Second)
	m.ObserveStage("symbolize", "failed", time.Second)

	if n := testutil.CollectAndCount(m.stageDuration); n != 2 {
		t.Errorf("stage duration series = %d, want 2", n)
	}
}

func TestWriteTextfile(t *testing.T) {
	// Given metrics for a successful run
	m := New()
	m.ObserveStage("locate-classes", "passed", 10*time.Millisecond)
	m.SetRunResult(true)
	path := filepath.Join(t.TempDir(), "jpfdoop.prom")

	// When the textfile is written
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}

	// Then it contains the exposition-format series
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`jpfdoop_stage_duration_seconds_count{stage="locate-classes",status="passed"} 1`,
		"jpfdoop_last_run_success 1",
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("textfile missing %q:\n%s", want, data)
		}
	}
}

func TestSetRunResult(t *testing.T) {
	m := New()
	m.SetRunResult(false)
	if got := testutil.ToFloat64(m.lastRunSuccess); got != 0 {
		t.Errorf("last_run_success = %v, want 0", got)
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		name string
		res  process.Result
		want string
	}{
		{"success", process.Result{}, OutcomeSuccess},
		{"exit", process.Result{ExitCode: 2}, OutcomeFailure},
		{"start failure", process.Result{ExitCode: -1, Err: errors.New("not found")}, OutcomeFailure},
		{"timeout", process.Result{ExitCode: -1, TimedOut: true}, OutcomeTimeout},
		{"cancelled", process.Result{ExitCode: -1, Err: context.Canceled}, OutcomeCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Outcome(tt.res); got != tt.want {
				t.Errorf("Outcome() = %q, want %q", got, tt.want)
			}
		})
	}
}
