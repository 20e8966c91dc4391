package stage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/smileynet/jpfdoop/internal/jpfconf"
	"github.com/smileynet/jpfdoop/internal/process"
)

// SymbolicUnitTestSet ties a symbolized package to its root directory, its
// classes-to-analyze manifest and the concrete source it was produced from.
type SymbolicUnitTestSet struct {
	Package  string
	RootDir  string
	Manifest string // Manifest file name, relative to Dir().
	Source   string // Concrete test source that was symbolized.
}

// Dir returns the directory holding the symbolized sources.
func (t SymbolicUnitTestSet) Dir() string {
	return filepath.Join(t.RootDir, t.Package)
}

// ManifestPath returns the path of the classes-to-analyze manifest.
func (t SymbolicUnitTestSet) ManifestPath() string {
	return filepath.Join(t.Dir(), t.Manifest)
}

// ConfigPath returns the analysis config path for class.
func (t SymbolicUnitTestSet) ConfigPath(class string) string {
	return filepath.Join(t.Dir(), jpfconf.FileName(class))
}

// Classes reads the manifest line by line. Line terminators are stripped and
// blank lines skipped; order is preserved.
func (t SymbolicUnitTestSet) Classes() ([]string, error) {
	f, err := os.Open(t.ManifestPath())
	if err != nil {
		return nil, fmt.Errorf("stage: reading manifest: %w", err)
	}
	defer func() { _ = f.Close() }()

	var classes []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		classes = append(classes, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("stage: reading manifest %s: %w", t.ManifestPath(), err)
	}
	return classes, nil
}

// Symbolize runs the symbolizer over round's primary source, writing symbolic
// tests and the manifest under rootDir/SymbolicPackage.
func (s *Stages) Symbolize(ctx context.Context, round Round, rootDir string) (SymbolicUnitTestSet, error) {
	set := SymbolicUnitTestSet{
		Package:  SymbolicPackage,
		RootDir:  rootDir,
		Manifest: ManifestName,
		Source:   round.PrimarySource(),
	}

	fields := strings.Fields(s.tools.Symbolizer)
	if len(fields) == 0 {
		return set, fmt.Errorf("stage: %s: no symbolizer configured", NameSymbolize)
	}
	inv := process.Invocation{
		Stage:   NameSymbolize,
		Program: fields[0],
		Args: append(fields[1:len(fields):len(fields)],
			"--package", set.Package,
			"--root", set.RootDir,
			"--manifest", set.Manifest,
			"--input", set.Source,
		),
	}
	if _, err := s.exec(ctx, inv, process.Fatal); err != nil {
		return set, err
	}

	if _, err := os.Stat(set.ManifestPath()); err != nil {
		if errors.Is(err, fs.ErrNotExist) && s.lenient {
			s.logger.Warn("symbolizer wrote no manifest", "path", set.ManifestPath())
			return set, nil
		}
		return set, fmt.Errorf("%w: %s", ErrMissingManifest, set.ManifestPath())
	}
	return set, nil
}

// GenerateAnalysisConfigs writes one .jpf file per manifest class next to the
// symbolized sources. It returns the written paths in manifest order.
func (s *Stages) GenerateAnalysisConfigs(set SymbolicUnitTestSet) ([]string, error) {
	classes, err := s.manifestClasses(set)
	if err != nil {
		return nil, err
	}

	cp := strings.Join([]string{s.paths.TestsDir, s.paths.JUnit}, ",")
	written := make([]string, 0, len(classes))
	for _, class := range classes {
		simple := jpfconf.SimpleName(class)
		content, err := s.renderer.Render(jpfconf.DefaultTemplate, jpfconf.Context{
			Package:   set.Package,
			Class:     simple,
			Target:    set.Package + "." + simple,
			Classpath: cp,
			SourceDir: set.Dir(),
		})
		if err != nil {
			return written, err
		}
		path := set.ConfigPath(class)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return written, fmt.Errorf("stage: writing %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}

// ClassOutcome records how symbolic execution ended for one class.
type ClassOutcome struct {
	Class    string `yaml:"class"`
	ExitCode int    `yaml:"exit_code"`
	TimedOut bool   `yaml:"timed_out"`
}

// RunSymbolicExecution runs JDart once per manifest class, in manifest order,
// each bounded by the configured deadline. A timeout or failure on one class
// never stops the remaining classes.
func (s *Stages) RunSymbolicExecution(ctx context.Context, set SymbolicUnitTestSet) ([]ClassOutcome, error) {
	classes, err := s.manifestClasses(set)
	if err != nil {
		return nil, err
	}

	jpf := filepath.Join(s.paths.JPFCore, "bin", "jpf")
	outcomes := make([]ClassOutcome, 0, len(classes))
	for _, class := range classes {
		inv := process.Invocation{
			Stage:   NameSymbolicExec,
			Program: jpf,
			Args:    []string{set.ConfigPath(class)},
			Timeout: s.tools.JDartTimeout,
		}
		res := s.runner.Run(ctx, inv)
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		// Timeouts are expected for hard classes; other failures are worth a warning.
		policy := process.Warn
		if res.TimedOut {
			policy = process.Ignore
		}
		if err := policy.Apply(s.logger, inv, res); err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, ClassOutcome{Class: class, ExitCode: res.ExitCode, TimedOut: res.TimedOut})
	}
	return outcomes, nil
}

// manifestClasses reads set's manifest. Under lenient mode a missing manifest
// yields no classes instead of an error.
func (s *Stages) manifestClasses(set SymbolicUnitTestSet) ([]string, error) {
	classes, err := set.Classes()
	if err != nil && s.lenient && errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("no manifest; skipping", "path", set.ManifestPath())
		return nil, nil
	}
	return classes, err
}
