package stage

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/smileynet/jpfdoop/internal/process"
)

// GenerateParams controls one run of the concrete test generator.
type GenerateParams struct {
	ClassListFile string // File listing the classes to test, one per line.
	TimeLimit     int    // Generator time budget in seconds.
	OutputLimit   int    // Upper bound on generated tests.
	Literals      bool   // Seed generation from LiteralsFile.
}

// GenerateTests recreates the round's directory and runs Randoop into it.
// Removing the directory first guarantees the round never mixes output from
// two generations.
func (s *Stages) GenerateTests(ctx context.Context, stageName string, round Round, p GenerateParams) error {
	if err := os.RemoveAll(round.Dir); err != nil {
		return fmt.Errorf("stage: clearing %s: %w", round.Dir, err)
	}
	if err := os.MkdirAll(round.Dir, 0o755); err != nil {
		return fmt.Errorf("stage: creating %s: %w", round.Dir, err)
	}

	args := []string{
		"-ea",
		"-cp", classpath(s.paths.Randoop, s.paths.JUnit, s.paths.SUTClasses),
		"randoop.main.Main", "gentests",
		"--classlist=" + p.ClassListFile,
		"--junit-output-dir=" + round.Dir,
		"--junit-classname=" + round.Name,
		"--timelimit=" + strconv.Itoa(p.TimeLimit),
		"--outputlimitrandom=" + strconv.Itoa(p.OutputLimit),
		"--forbid-null=false",
		"--small-tests=true",
	}
	if p.Literals {
		args = append(args, "--literals-file="+LiteralsFile, "--literals-level=ALL")
	}

	_, err := s.exec(ctx, process.Invocation{Stage: stageName, Program: "java", Args: args}, process.Fatal)
	return err
}

// SubstituteConcreteValues writes className into the placeholder slot of the
// literals file through the put-class-name helper. Only one class is ever
// substituted; the pipeline passes the first discovered class.
func (s *Stages) SubstituteConcreteValues(ctx context.Context, className string) error {
	fields := strings.Fields(s.tools.PutClassName)
	if len(fields) == 0 {
		return fmt.Errorf("stage: %s: no put-class-name helper configured", NameSubstitute)
	}
	inv := process.Invocation{
		Stage:   NameSubstitute,
		Program: fields[0],
		Args:    append(fields[1:len(fields):len(fields)], "--classname", className),
	}
	_, err := s.exec(ctx, inv, process.Warn)
	return err
}
