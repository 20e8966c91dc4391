package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/smileynet/jpfdoop/internal/process"
)

// Compile compiles every .java file in round's directory into the shared tests
// compilation directory. Classes from earlier calls are left in place.
func (s *Stages) Compile(ctx context.Context, stageName string, round Round) error {
	return s.javac(ctx, stageName, round.Dir,
		classpath(s.paths.SUTClasses, s.paths.JUnit))
}

// CompileSymbolic compiles the symbolized tests against the SUT, the already
// compiled tests and JDart's build and annotation classes.
func (s *Stages) CompileSymbolic(ctx context.Context, set SymbolicUnitTestSet) error {
	return s.javac(ctx, NameCompileSym, set.Dir(),
		classpath(
			filepath.Join(s.paths.JPFJDart, "build"),
			filepath.Join(s.paths.JPFJDart, "build", "annotations")+string(filepath.Separator),
			s.paths.SUTClasses,
			s.paths.TestsDir,
			s.paths.JUnit,
		))
}

func (s *Stages) javac(ctx context.Context, stageName, srcDir, cp string) error {
	if err := os.MkdirAll(s.paths.TestsDir, 0o755); err != nil {
		return fmt.Errorf("stage: creating %s: %w", s.paths.TestsDir, err)
	}

	// Expanded here since no shell sits between us and javac.
	sources, err := filepath.Glob(filepath.Join(srcDir, "*java"))
	if err != nil {
		return fmt.Errorf("stage: listing sources in %s: %w", srcDir, err)
	}
	if len(sources) == 0 {
		if s.lenient {
			s.logger.Warn("nothing to compile", "stage", stageName, "dir", srcDir)
			return nil
		}
		return fmt.Errorf("%w in %s", ErrNoSources, srcDir)
	}

	args := append([]string{"-g", "-d", s.paths.TestsDir, "-cp", cp}, sources...)
	_, err = s.exec(ctx, process.Invocation{Stage: stageName, Program: "javac", Args: args}, process.Fatal)
	return err
}
