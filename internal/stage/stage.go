// Package stage implements the individual steps of the test-generation pipeline.
// Each stage assembles a well-formed external tool invocation, runs it through a
// process.Runner and applies an explicit failure policy to the result.
package stage

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/smileynet/jpfdoop"
	"github.com/smileynet/jpfdoop/internal/config"
	"github.com/smileynet/jpfdoop/internal/jpfconf"
	"github.com/smileynet/jpfdoop/internal/process"
)

// Stage names, in pipeline order. They label invocations, logs, errors and metrics.
const (
	NameLocate       = "locate-classes"
	NameGenerate1    = "generate-round-1"
	NameSymbolize    = "symbolize"
	NameConfigs      = "analysis-configs"
	NameCompileSym   = "compile-symbolic"
	NameSymbolicExec = "symbolic-execution"
	NameSubstitute   = "substitute-values"
	NameGenerate2    = "generate-round-2"
	NameCompile1     = "compile-round-1"
	NameCompile2     = "compile-round-2"
	NameCoverage     = "coverage"
)

// Fixed artifact names shared between stages and the external tools.
const (
	SymbolicPackage = "randooped"
	ManifestName    = "classes-to-analyze"
	LiteralsFile    = "concrete-values.txt"
)

// Round2OutputLimit is the output ceiling for the literal-seeded round. The
// time limit is what actually bounds that run.
const Round2OutputLimit = 100000000

var (
	// ErrNoSources indicates a compilation stage found no .java files to compile.
	ErrNoSources = errors.New("stage: no java sources")
	// ErrMissingManifest indicates the symbolizer did not write its manifest.
	ErrMissingManifest = errors.New("stage: symbolization manifest missing")
)

// Round identifies one generation+compilation cycle of unit tests.
type Round struct {
	Name string // JUnit class-name stem passed to the generator.
	Dir  string // Directory generated sources land in.
}

// The two rounds of every pipeline run.
var (
	Round1 = Round{Name: "Randoop1Test", Dir: "tests-1st-round"}
	Round2 = Round{Name: "Randoop2Test", Dir: "tests-2nd-round"}
)

// PrimarySource returns the first generated test file of the round, the one
// the symbolizer rewrites.
func (r Round) PrimarySource() string {
	return filepath.Join(r.Dir, r.Name+"0.java")
}

// Stages runs pipeline steps against one resolved configuration.
type Stages struct {
	runner   process.Runner
	paths    config.Paths
	tools    config.Tools
	logger   *slog.Logger
	lenient  bool
	renderer *jpfconf.Renderer
}

// Option configures Stages.
type Option func(*Stages)

// WithLogger sets the logger used for policy warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Stages) { s.logger = l }
}

// WithLenient downgrades every Fatal policy to Warn, so tool failures are
// logged and the run continues.
func WithLenient(lenient bool) Option {
	return func(s *Stages) { s.lenient = lenient }
}

// WithTemplates sets the filesystem analysis-config templates are read from.
func WithTemplates(fsys fs.FS) Option {
	return func(s *Stages) { s.renderer = jpfconf.NewRenderer(fsys) }
}

// New creates Stages that run tools through runner using cfg's paths and tools.
func New(runner process.Runner, cfg *config.Config, opts ...Option) *Stages {
	s := &Stages{
		runner:   runner,
		paths:    cfg.Paths,
		tools:    cfg.Tools,
		logger:   slog.New(slog.DiscardHandler),
		renderer: jpfconf.NewRenderer(jpfdoop.Templates),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// exec runs inv and evaluates the result under p. Cancellation of ctx always
// aborts, whatever the policy.
func (s *Stages) exec(ctx context.Context, inv process.Invocation, p process.Policy) (process.Result, error) {
	if s.lenient {
		p = p.Lenient()
	}
	res := s.runner.Run(ctx, inv)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, p.Apply(s.logger, inv, res)
}

// classpath joins entries with the platform's list separator.
func classpath(entries ...string) string {
	return strings.Join(entries, string(filepath.ListSeparator))
}
