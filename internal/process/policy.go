package process

import (
	"fmt"
	"log/slog"
)

// Policy says how a call site treats an invocation that did not succeed.
type Policy int

const (
	Fatal  Policy = iota // Abort the pipeline with a ToolError.
	Warn                 // Log a warning and continue.
	Ignore               // Log at debug level and continue.
)

func (p Policy) String() string {
	switch p {
	case Fatal:
		return "fatal"
	case Warn:
		return "warn"
	case Ignore:
		return "ignore"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Lenient downgrades Fatal to Warn and leaves the other policies alone.
func (p Policy) Lenient() Policy {
	if p == Fatal {
		return Warn
	}
	return p
}

// Apply evaluates res under p. It returns a *ToolError only when the run
// failed and p is Fatal. A start failure (res.Err) is reported the same way
// as a non-zero exit.
func (p Policy) Apply(logger *slog.Logger, inv Invocation, res Result) error {
	if res.Succeeded() {
		return nil
	}

	switch p {
	case Fatal:
		return &ToolError{
			Stage:    inv.Stage,
			Command:  inv.String(),
			ExitCode: res.ExitCode,
			TimedOut: res.TimedOut,
			Timeout:  inv.Timeout,
			Output:   tail(res.Output, outputTailLines),
			Err:      res.Err,
		}
	case Warn:
		logger.Warn("external tool failed; continuing",
			"stage", inv.Stage,
			"command", inv.String(),
			"exit_code", res.ExitCode,
			"timed_out", res.TimedOut,
			"error", res.Err,
		)
	default:
		logger.Debug("external tool did not succeed",
			"stage", inv.Stage,
			"command", inv.String(),
			"exit_code", res.ExitCode,
			"timed_out", res.TimedOut,
		)
	}
	return nil
}
