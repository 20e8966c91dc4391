// Package process runs the pipeline's external tools and reports how each run ended.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// defaultWaitDelay bounds how long Run waits for output pipes after the child is killed.
const defaultWaitDelay = time.Second

// Invocation describes one external command issued by a pipeline stage.
type Invocation struct {
	Stage   string        // Stage issuing the call, for logs and errors.
	Program string        // Executable name or path.
	Args    []string      // Arguments, passed verbatim (no shell expansion).
	Timeout time.Duration // Wall-clock deadline; zero means unbounded.
}

// String renders the invocation as a command line.
func (inv Invocation) String() string {
	if len(inv.Args) == 0 {
		return inv.Program
	}
	return inv.Program + " " + strings.Join(inv.Args, " ")
}

// Result is the structured outcome of an Invocation.
type Result struct {
	ExitCode int           // Process exit status; -1 if it never exited on its own.
	TimedOut bool          // The deadline elapsed and the process was killed.
	Duration time.Duration // Wall-clock time spent in Run.
	Output   string        // Combined stdout and stderr.
	Err      error         // Start failure or cancellation. Nil for non-zero exits and timeouts.
}

// Succeeded reports whether the process ran to completion with exit status 0.
func (r Result) Succeeded() bool {
	return r.Err == nil && !r.TimedOut && r.ExitCode == 0
}

// Runner executes invocations. Implementations never panic on tool failure;
// every outcome is reported through Result.
type Runner interface {
	Run(ctx context.Context, inv Invocation) Result
}

// Verify ExecRunner satisfies Runner at compile time.
var _ Runner = (*ExecRunner)(nil)

// ExecRunner runs invocations as child processes.
type ExecRunner struct {
	logger     *slog.Logger
	waitDelay  time.Duration
	cmdBuilder func(ctx context.Context, inv Invocation) *exec.Cmd
}

// Option configures an ExecRunner.
type Option func(*ExecRunner)

// WithLogger sets the logger used for per-invocation diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(r *ExecRunner) { r.logger = l }
}

// WithWaitDelay overrides how long Run waits for I/O after killing a child.
func WithWaitDelay(d time.Duration) Option {
	return func(r *ExecRunner) { r.waitDelay = d }
}

// NewExecRunner creates an ExecRunner with the given options.
func NewExecRunner(opts ...Option) *ExecRunner {
	r := &ExecRunner{
		logger:    slog.New(slog.DiscardHandler),
		waitDelay: defaultWaitDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cmdBuilder == nil {
		r.cmdBuilder = r.defaultCmdBuilder
	}
	return r
}

// Run executes inv synchronously. With a positive Timeout the child (and its
// process group, where supported) is killed once the deadline passes and the
// result is marked TimedOut; this is an ordinary outcome, not an error.
func (r *ExecRunner) Run(ctx context.Context, inv Invocation) Result {
	start := time.Now()

	runCtx := ctx
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	cmd := r.cmdBuilder(runCtx, inv)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	res := Result{Duration: time.Since(start), Output: out.String()}

	switch {
	case err == nil:
	case ctx.Err() != nil:
		// Caller cancelled: not the tool's fault, not a timeout.
		res.ExitCode = -1
		res.Err = ctx.Err()
	case inv.Timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.ExitCode = -1
		res.TimedOut = true
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
			res.Err = err
		}
	}

	r.logger.Debug("external tool finished",
		"stage", inv.Stage,
		"command", inv.String(),
		"exit_code", res.ExitCode,
		"timed_out", res.TimedOut,
		"duration", res.Duration,
	)
	return res
}

// defaultCmdBuilder builds the child command, placing it in its own process
// group so a timeout also reaps grandchildren (e.g. the JVM behind bin/jpf).
func (r *ExecRunner) defaultCmdBuilder(ctx context.Context, inv Invocation) *exec.Cmd {
	cmd := exec.CommandContext(ctx, inv.Program, inv.Args...)
	cmd.WaitDelay = r.waitDelay
	configureProcessGroup(cmd)
	return cmd
}

// ToolError reports an external tool run that a stage treats as fatal.
type ToolError struct {
	Stage    string
	Command  string
	ExitCode int
	TimedOut bool
	Timeout  time.Duration
	Output   string // Tail of the tool's combined output.
	Err      error
}

func (e *ToolError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("process: %s: %s: %s", e.Stage, e.Command, e.Err)
	case e.TimedOut:
		return fmt.Sprintf("process: %s: %s: timed out after %s", e.Stage, e.Command, e.Timeout)
	default:
		msg := fmt.Sprintf("process: %s: %s: exit status %d", e.Stage, e.Command, e.ExitCode)
		if e.Output != "" {
			msg += "\n" + e.Output
		}
		return msg
	}
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// outputTailLines is how much tool output a ToolError keeps.
const outputTailLines = 20

// tail returns the last n lines of s.
func tail(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
