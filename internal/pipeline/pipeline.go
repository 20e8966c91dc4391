// Package pipeline sequences the test-generation stages of one JPF-Doop run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smileynet/jpfdoop/internal/classlist"
	"github.com/smileynet/jpfdoop/internal/config"
	"github.com/smileynet/jpfdoop/internal/coverage"
	"github.com/smileynet/jpfdoop/internal/process"
	"github.com/smileynet/jpfdoop/internal/stage"
)

// ErrNoClasses indicates the source tree held no Java classes to test.
var ErrNoClasses = errors.New("pipeline: no classes found")

// Runner executes external tool invocations.
type Runner interface {
	Run(ctx context.Context, inv process.Invocation) process.Result
}

// Input provides the per-run parameters.
type Input struct {
	PackageName   string // Java package under test, e.g. org.example.
	SourceRoot    string // Root of the SUT source tree.
	SourcePath    string // Path of the package within SourceRoot.
	ClassListFile string // Where the discovered class list is written.
	TimeLimit     int    // Generator time budget per round, in seconds.
	OutputLimit   int    // Round-1 generated test ceiling.
}

// Output summarizes a run. It is returned, partially filled, on failure too.
type Output struct {
	RunID            string
	Classes          []string
	Stages           []StageResult
	SymbolicOutcomes []stage.ClassOutcome
}

// PipelineError indicates a pipeline failure with stage context.
type PipelineError struct {
	Stage string // Stage that failed.
	Err   error  // Underlying error.
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline: stage %q: %s", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Controller runs the stages of the pipeline strictly in order.
type Controller struct {
	cfg            *config.Config
	runner         Runner
	statusCallback StatusCallback
	records        RecordStore
	logger         *slog.Logger
	lenient        bool
	templates      fs.FS
	newID          func() string
	now            func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithRunner sets the runner for external tools. Defaults to a process.ExecRunner.
func WithRunner(r Runner) Option {
	return func(c *Controller) { c.runner = r }
}

// WithStatusCallback sets the callback for progress updates.
func WithStatusCallback(cb StatusCallback) Option {
	return func(c *Controller) { c.statusCallback = cb }
}

// WithRecordStore sets where the run record is saved after the run.
func WithRecordStore(s RecordStore) Option {
	return func(c *Controller) { c.records = s }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithLenient treats tool failures as warnings instead of aborting.
func WithLenient(lenient bool) Option {
	return func(c *Controller) { c.lenient = lenient }
}

// WithTemplates sets the filesystem analysis-config templates come from.
func WithTemplates(fsys fs.FS) Option {
	return func(c *Controller) { c.templates = fsys }
}

// New creates a Controller for the given configuration.
func New(cfg *config.Config, opts ...Option) *Controller {
	c := &Controller{
		cfg:            cfg,
		statusCallback: func(StatusUpdate) {},
		logger:         slog.New(slog.DiscardHandler),
		newID:          uuid.NewString,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.runner == nil {
		c.runner = process.NewExecRunner(process.WithLogger(c.logger))
	}
	return c
}

// step is one named unit of the pipeline. run returns a short detail string
// for progress displays.
type step struct {
	name string
	run  func(ctx context.Context) (string, error)
}

// Run executes every stage for in. On failure it returns the partial Output
// and a *PipelineError naming the stage.
func (c *Controller) Run(ctx context.Context, in Input) (*Output, error) {
	out := &Output{RunID: c.newID()}
	logger := c.logger.With("run_id", out.RunID)
	rec := Record{
		RunID:      out.RunID,
		Package:    in.PackageName,
		SourceRoot: in.SourceRoot,
		SourcePath: in.SourcePath,
		ConfigFile: c.cfg.File,
		StartedAt:  c.now(),
	}

	err := c.runSteps(ctx, c.steps(in, out, logger), out, logger)

	rec.FinishedAt = c.now()
	rec.Classes = out.Classes
	rec.Stages = out.Stages
	rec.SymbolicOutcomes = out.SymbolicOutcomes
	rec.Status = StagePassed
	if err != nil {
		rec.Status = StageFailed
		rec.Error = err.Error()
	}
	c.saveRecord(rec, logger)

	return out, err
}

func (c *Controller) runSteps(ctx context.Context, steps []step, out *Output, logger *slog.Logger) error {
	for i, s := range steps {
		progress := fmt.Sprintf("%d/%d", i+1, len(steps))

		if err := ctx.Err(); err != nil {
			return c.fail(out, s.name, progress, 0, err)
		}

		c.notify(StatusUpdate{RunID: out.RunID, Stage: s.name, Status: StageRunning, Progress: progress})
		logger.Info("stage started", "stage", s.name, "progress", progress)

		start := c.now()
		detail, err := s.run(ctx)
		dur := c.now().Sub(start)
		if err != nil {
			logger.Error("stage failed", "stage", s.name, "duration", dur, "error", err)
			return c.fail(out, s.name, progress, dur, err)
		}

		out.Stages = append(out.Stages, StageResult{Name: s.name, Status: StagePassed, Duration: dur, Detail: detail})
		c.notify(StatusUpdate{
			RunID: out.RunID, Stage: s.name, Status: StagePassed,
			Progress: progress, Duration: dur, Detail: detail,
		})
		logger.Info("stage passed", "stage", s.name, "duration", dur, "detail", detail)
	}
	return nil
}

func (c *Controller) fail(out *Output, name, progress string, dur time.Duration, err error) error {
	out.Stages = append(out.Stages, StageResult{Name: name, Status: StageFailed, Duration: dur, Error: err.Error()})
	c.notify(StatusUpdate{
		RunID: out.RunID, Stage: name, Status: StageFailed,
		Progress: progress, Duration: dur, Err: err,
	})
	return &PipelineError{Stage: name, Err: err}
}

// steps binds the stage sequence to in. Later steps read values earlier ones
// produce (the symbolic test set), so the order here is load-bearing.
func (c *Controller) steps(in Input, out *Output, logger *slog.Logger) []step {
	opts := []stage.Option{stage.WithLogger(logger), stage.WithLenient(c.lenient)}
	if c.templates != nil {
		opts = append(opts, stage.WithTemplates(c.templates))
	}
	st := stage.New(c.runner, c.cfg, opts...)
	cl := classlist.New(in.ClassListFile)
	paths := c.cfg.Paths

	var set stage.SymbolicUnitTestSet

	return []step{
		{stage.NameLocate, func(context.Context) (string, error) {
			classes, err := cl.Write(in.SourceRoot, in.SourcePath)
			if err != nil {
				return "", err
			}
			out.Classes = classes
			if len(classes) == 0 {
				return "", fmt.Errorf("%w under %s", ErrNoClasses, filepath.Join(in.SourceRoot, in.SourcePath))
			}
			return plural(len(classes), "class", "classes"), nil
		}},
		{stage.NameGenerate1, func(ctx context.Context) (string, error) {
			return stage.Round1.Dir, st.GenerateTests(ctx, stage.NameGenerate1, stage.Round1, stage.GenerateParams{
				ClassListFile: cl.Filename(),
				TimeLimit:     in.TimeLimit,
				OutputLimit:   in.OutputLimit,
			})
		}},
		{stage.NameSymbolize, func(ctx context.Context) (string, error) {
			var err error
			set, err = st.Symbolize(ctx, stage.Round1, in.SourceRoot)
			return set.ManifestPath(), err
		}},
		{stage.NameConfigs, func(context.Context) (string, error) {
			written, err := st.GenerateAnalysisConfigs(set)
			return plural(len(written), "config", "configs"), err
		}},
		{stage.NameCompileSym, func(ctx context.Context) (string, error) {
			return set.Dir(), st.CompileSymbolic(ctx, set)
		}},
		{stage.NameSymbolicExec, func(ctx context.Context) (string, error) {
			outcomes, err := st.RunSymbolicExecution(ctx, set)
			out.SymbolicOutcomes = outcomes
			return summarizeOutcomes(outcomes), err
		}},
		{stage.NameSubstitute, func(ctx context.Context) (string, error) {
			first, err := cl.First(in.SourceRoot, in.SourcePath)
			if err != nil {
				return "", err
			}
			return first, st.SubstituteConcreteValues(ctx, first)
		}},
		{stage.NameGenerate2, func(ctx context.Context) (string, error) {
			return stage.Round2.Dir, st.GenerateTests(ctx, stage.NameGenerate2, stage.Round2, stage.GenerateParams{
				ClassListFile: cl.Filename(),
				TimeLimit:     in.TimeLimit,
				OutputLimit:   stage.Round2OutputLimit,
				Literals:      true,
			})
		}},
		{stage.NameCompile1, func(ctx context.Context) (string, error) {
			return stage.Round1.Dir, st.Compile(ctx, stage.NameCompile1, stage.Round1)
		}},
		{stage.NameCompile2, func(ctx context.Context) (string, error) {
			return stage.Round2.Dir, st.Compile(ctx, stage.NameCompile2, stage.Round2)
		}},
		{stage.NameCoverage, func(ctx context.Context) (string, error) {
			report := coverage.Report{
				JacocoPath:  paths.JaCoCo,
				Rounds:      []string{stage.Round1.Name, stage.Round2.Name},
				Classpath:   strings.Join([]string{paths.JUnit, paths.SUTClasses, paths.TestsDir}, string(filepath.ListSeparator)),
				PackagePath: filepath.Clean(in.SourcePath),
				SourceDir:   in.SourceRoot,
				BuildDir:    paths.SUTClasses,
				Stage:       stage.NameCoverage,
			}
			policy := process.Fatal
			if c.lenient {
				policy = policy.Lenient()
			}
			return strings.Join(report.Rounds, ", "), report.Run(ctx, c.runner, policy, logger)
		}},
	}
}

func (c *Controller) notify(su StatusUpdate) {
	c.statusCallback(su)
}

// saveRecord persists rec. A failed save is logged; it never fails the run.
func (c *Controller) saveRecord(rec Record, logger *slog.Logger) {
	if c.records == nil {
		return
	}
	if err := c.records.SaveRecord(rec); err != nil {
		logger.Warn("saving run record", "error", err)
	}
}

func summarizeOutcomes(outcomes []stage.ClassOutcome) string {
	timedOut := 0
	for _, o := range outcomes {
		if o.TimedOut {
			timedOut++
		}
	}
	s := plural(len(outcomes), "class", "classes")
	if timedOut > 0 {
		s += fmt.Sprintf(", %d timed out", timedOut)
	}
	return s
}

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}
