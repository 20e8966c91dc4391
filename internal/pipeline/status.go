package pipeline

import (
	"time"

	"github.com/smileynet/jpfdoop/internal/stage"
)

// StageStatus represents the current state of a stage execution.
type StageStatus string

const (
	StagePending StageStatus = "pending"
	StageRunning StageStatus = "running"
	StagePassed  StageStatus = "passed"
	StageFailed  StageStatus = "failed"
)

// StatusUpdate carries progress information for a single stage.
type StatusUpdate struct {
	RunID    string
	Stage    string
	Status   StageStatus
	Progress string        // Human-readable progress (e.g. "3/11").
	Duration time.Duration // Set once the stage has finished.
	Detail   string        // Short summary, e.g. "4 classes".
	Err      error         // Set when Status is StageFailed.
}

// StatusCallback receives stage progress updates.
type StatusCallback func(StatusUpdate)

// StageResult is the recorded outcome of one stage.
type StageResult struct {
	Name     string        `yaml:"name"`
	Status   StageStatus   `yaml:"status"`
	Duration time.Duration `yaml:"duration"`
	Detail   string        `yaml:"detail,omitempty"`
	Error    string        `yaml:"error,omitempty"`
}

// StageNames returns the pipeline's stage names in execution order.
func StageNames() []string {
	return []string{
		stage.NameLocate,
		stage.NameGenerate1,
		stage.NameSymbolize,
		stage.NameConfigs,
		stage.NameCompileSym,
		stage.NameSymbolicExec,
		stage.NameSubstitute,
		stage.NameGenerate2,
		stage.NameCompile1,
		stage.NameCompile2,
		stage.NameCoverage,
	}
}

// Record is the persisted summary of one pipeline run.
type Record struct {
	RunID            string               `yaml:"run_id"`
	Package          string               `yaml:"package"`
	SourceRoot       string               `yaml:"source_root"`
	SourcePath       string               `yaml:"source_path"`
	ConfigFile       string               `yaml:"config_file"`
	StartedAt        time.Time            `yaml:"started_at"`
	FinishedAt       time.Time            `yaml:"finished_at"`
	Status           StageStatus          `yaml:"status"`
	Error            string               `yaml:"error,omitempty"`
	Classes          []string             `yaml:"classes"`
	Stages           []StageResult        `yaml:"stages"`
	SymbolicOutcomes []stage.ClassOutcome `yaml:"symbolic_outcomes,omitempty"`
}

// RecordStore persists run records.
type RecordStore interface {
	SaveRecord(rec Record) error
}
