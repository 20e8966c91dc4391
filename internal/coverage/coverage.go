// Package coverage drives JaCoCo through Ant to measure cumulative coverage
// across test rounds and produce the final report.
package coverage

import (
	"context"
	"errors"
	"log/slog"

	"github.com/smileynet/jpfdoop/internal/process"
)

// BuildFile is the Ant build file defining the test and report targets.
const BuildFile = "jacoco.xml"

// Ant targets.
const (
	TargetTest   = "test"
	TargetReport = "report"
)

// ErrNoRounds indicates a report was requested for an empty round list.
var ErrNoRounds = errors.New("coverage: no test rounds")

// Report describes one coverage run over an ordered list of test rounds.
type Report struct {
	JacocoPath  string   // JaCoCo Ant tasks jar.
	Rounds      []string // Round names (JUnit class stems), in execution order.
	Classpath   string
	PackagePath string // Package as a path, e.g. org/example.
	SourceDir   string
	BuildDir    string
	Stage       string // Label for invocations; defaults to "coverage".
}

// Invocations returns the Ant calls for r: the test target for every round
// but the last, then the report target for the last round.
func (r Report) Invocations() ([]process.Invocation, error) {
	if len(r.Rounds) == 0 {
		return nil, ErrNoRounds
	}
	stage := r.Stage
	if stage == "" {
		stage = "coverage"
	}

	invs := make([]process.Invocation, 0, len(r.Rounds))
	last := len(r.Rounds) - 1
	for i, round := range r.Rounds {
		target := TargetTest
		if i == last {
			target = TargetReport
		}
		invs = append(invs, process.Invocation{
			Stage:   stage,
			Program: "ant",
			Args: []string{
				"-f", BuildFile,
				"-Darg0=" + r.JacocoPath,
				"-Darg1=" + round,
				"-Darg2=" + r.Classpath,
				"-Darg3=" + r.PackagePath,
				"-Darg4=" + r.SourceDir,
				"-Darg5=" + r.BuildDir,
				target,
			},
		})
	}
	return invs, nil
}

// Run executes the Ant calls in order, stopping at the first one policy
// treats as fatal.
func (r Report) Run(ctx context.Context, runner process.Runner, policy process.Policy, logger *slog.Logger) error {
	invs, err := r.Invocations()
	if err != nil {
		return err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	for _, inv := range invs {
		res := runner.Run(ctx, inv)
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := policy.Apply(logger, inv, res); err != nil {
			return err
		}
	}
	return nil
}
