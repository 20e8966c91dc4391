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

	"github.com/smileynet/jpfdoop/internal/coverage"
	"github.com/smileynet/jpfdoop/internal/process"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// CLI is the command line of jpfdoop-report.
type CLI struct {
	Version kong.VersionFlag `help:"Show version." short:"V"`

	JacocoPath  string   `name:"jacocopath" required:"" help:"Path to the JaCoCo Ant tasks jar."`
	UnitTests   []string `name:"unittests" required:"" help:"Test rounds in execution order; the last one produces the report."`
	Classpath   string   `name:"classpath" default:"." help:"Classpath the tests run with."`
	PackagePath string   `name:"packagepath" required:"" help:"Package under test as a path, e.g. org/example."`
	SourcePath  string   `name:"sourcepath" required:"" help:"Source root of the classes under test."`
	BuildPath   string   `name:"buildpath" required:"" help:"Compiled classes of the classes under test."`

	Lenient  bool   `help:"Log failing Ant calls as warnings and keep going."`
	LogLevel string `name:"log-level" default:"warn" enum:"debug,info,warn,error" help:"Level of diagnostics logged to stderr."`
}

// Run executes the coverage rounds and the final report.
func (c *CLI) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := newLogger(os.Stderr, c.LogLevel)
	return c.run(ctx, process.NewExecRunner(process.WithLogger(logger)), logger)
}

func (c *CLI) run(ctx context.Context, runner process.Runner, logger *slog.Logger) error {
	policy := process.Fatal
	if c.Lenient {
		policy = policy.Lenient()
	}
	return c.report().Run(ctx, runner, policy, logger)
}

func (c *CLI) report() coverage.Report {
	return coverage.Report{
		JacocoPath:  c.JacocoPath,
		Rounds:      c.UnitTests,
		Classpath:   c.Classpath,
		PackagePath: c.PackagePath,
		SourceDir:   c.SourcePath,
		BuildDir:    c.BuildPath,
	}
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

const (
	exitSuccess = 0
	exitTool    = 1
	exitSetup   = 2
)

// exitCode maps an error to the appropriate exit code.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var te *process.ToolError
	if errors.As(err, &te) {
		return exitTool
	}
	return exitSetup
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("jpfdoop-report"),
		kong.Description("Runs JaCoCo over test rounds and writes the cumulative coverage report."),
		kong.Vars{"version": version + " " + commit + " " + date},
	)
	if err := cli.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(exitCode(err))
	}
}
