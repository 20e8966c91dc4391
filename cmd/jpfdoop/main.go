package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"

	"github.com/smileynet/jpfdoop"
	"github.com/smileynet/jpfdoop/internal/config"
	"github.com/smileynet/jpfdoop/internal/metrics"
	"github.com/smileynet/jpfdoop/internal/pipeline"
	"github.com/smileynet/jpfdoop/internal/process"
	"github.com/smileynet/jpfdoop/internal/state"
	"github.com/smileynet/jpfdoop/internal/tui"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// CLI is the command line of jpfdoop.
type CLI struct {
	Version kong.VersionFlag `help:"Show version." short:"V"`

	PackageName string `name:"packagename" required:"" help:"Java package with classes to analyze."`
	Path        string `name:"path" required:"" help:"Path within the root directory to the source files."`
	Root        string `name:"root" default:"src/examples/" help:"Source files root directory."`
	ClassList   string `name:"classlist" default:"classlist.txt" help:"File the list of classes is written to."`
	RTimeLimit  int    `name:"rtimelimit" default:"30" help:"Time limit in seconds for a single Randoop run."`
	RUnitTests  int    `name:"runittests" default:"20" help:"Upper limit of unit tests Randoop generates in the first round."`
	ConfFile    string `name:"conffile" default:"jpfdoop.ini" help:"Configuration file with tool and library paths."`

	NoTUI       bool   `name:"no-tui" help:"Force plain text output even if stdout is a TTY."`
	Lenient     bool   `help:"Log failing tools as warnings and keep going."`
	MetricsFile string `name:"metrics-file" help:"Write Prometheus metrics to this textfile after the run." type:"path"`
	RecordDir   string `name:"record-dir" default:".jpfdoop/runs" help:"Directory run records are written to. Empty disables records."`
	LogLevel    string `name:"log-level" default:"warn" enum:"debug,info,warn,error" help:"Level of diagnostics logged to stderr."`
}

// Run loads the configuration and executes the pipeline.
func (c *CLI) Run() error {
	logger := newLogger(os.Stderr, c.LogLevel)

	cfg, err := loadConfig(c.ConfFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	// The cancel func is passed to the TUI so q / Ctrl+C aborts the run.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bridge := tui.NewBridge()
	display := tui.NewDisplay(tui.DisplayOptions{
		Writer:     os.Stdout,
		ForcePlain: c.NoTUI,
		Stages:     pipeline.StageNames(),
		Title:      "jpfdoop " + c.PackageName,
		CancelFunc: cancel,
	})

	return c.run(ctx, os.Stdout, cfg, logger, process.NewExecRunner(process.WithLogger(logger)), display, bridge)
}

// run wires the controller to the display, records and metrics.
func (c *CLI) run(ctx context.Context, w io.Writer, cfg *config.Config, logger *slog.Logger,
	runner process.Runner, display tui.Display, bridge *tui.Bridge) error {

	m := metrics.New()
	opts := []pipeline.Option{
		pipeline.WithRunner(m.InstrumentRunner(runner)),
		pipeline.WithLogger(logger),
		pipeline.WithLenient(c.Lenient),
		pipeline.WithTemplates(jpfdoop.OverlayFS(cfg.Tools.Templates, jpfdoop.Templates)),
		pipeline.WithStatusCallback(statusCallback(bridge, m)),
	}
	if c.RecordDir != "" {
		opts = append(opts, pipeline.WithRecordStore(state.NewRecordFileStore(c.RecordDir)))
	}
	ctrl := pipeline.New(cfg, opts...)

	displayDone := make(chan error, 1)
	go func() {
		displayDone <- display.Run(context.Background(), bridge.Events())
	}()

	out, err := ctrl.Run(ctx, c.input())

	if err != nil {
		bridge.Error(err)
	} else {
		bridge.Done()
	}
	// Wait for the display so it releases the terminal.
	<-displayDone

	m.SetRunResult(err == nil)
	if c.MetricsFile != "" {
		if werr := m.WriteTextfile(c.MetricsFile); werr != nil {
			logger.Warn("writing metrics textfile", "path", c.MetricsFile, "error", werr)
		}
	}
	if err != nil {
		return err
	}

	timedOut := 0
	for _, o := range out.SymbolicOutcomes {
		if o.TimedOut {
			timedOut++
		}
	}
	_, _ = fmt.Fprintf(w, "Run %s complete: %d classes, %d analyzed symbolically (%d timed out)\n",
		out.RunID, len(out.Classes), len(out.SymbolicOutcomes), timedOut)
	if c.RecordDir != "" {
		_, _ = fmt.Fprintf(w, "Record: %s\n", c.recordPath(out.RunID))
	}
	return nil
}

func (c *CLI) input() pipeline.Input {
	return pipeline.Input{
		PackageName:   c.PackageName,
		SourceRoot:    c.Root,
		SourcePath:    c.Path,
		ClassListFile: c.ClassList,
		TimeLimit:     c.RTimeLimit,
		OutputLimit:   c.RUnitTests,
	}
}

func (c *CLI) recordPath(runID string) string {
	p, err := state.NewRecordFileStore(c.RecordDir).Path(runID)
	if err != nil {
		return c.RecordDir
	}
	return p
}

// loadConfig loads the INI configuration with environment overrides.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger returns a text logger at the named level. Unknown names mean warn.
func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// statusCallback converts pipeline updates to display messages and records
// finished stages in m.
func statusCallback(bridge *tui.Bridge, m *metrics.Metrics) pipeline.StatusCallback {
	return func(su pipeline.StatusUpdate) {
		if su.Status != pipeline.StageRunning {
			m.ObserveStage(su.Stage, string(su.Status), su.Duration)
		}
		bridge.Send(tui.StatusUpdateMsg{
			Stage:    su.Stage,
			Status:   tui.StageStatus(su.Status),
			Progress: su.Progress,
			Duration: su.Duration,
			Detail:   su.Detail,
			Err:      su.Err,
		})
	}
}

const (
	exitSuccess  = 0
	exitPipeline = 1
	exitSetup    = 2
)

// exitCode maps an error to the appropriate exit code.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var pe *pipeline.PipelineError
	if errors.As(err, &pe) {
		return exitPipeline
	}
	return exitSetup
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("jpfdoop"),
		kong.Description("Generates unit tests with Randoop and JDart and measures their coverage."),
		kong.Vars{"version": version + " " + commit + " " + date},
	)
	if err := cli.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(exitCode(err))
	}
}
