// Package tui renders pipeline stage progress as a Bubble Tea terminal UI or
// as plain timestamped lines.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// StageStatus represents the current state of a stage in the TUI.
// Values mirror pipeline.StageStatus so the bridge is a plain conversion.
type StageStatus string

const (
	StatusPending StageStatus = "pending"
	StatusRunning StageStatus = "running"
	StatusPassed  StageStatus = "passed"
	StatusFailed  StageStatus = "failed"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "2", Dark: "10"})
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "1", Dark: "9"})
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "240", Dark: "245"})
	headerStyle = lipgloss.NewStyle().Bold(true)
)

// StageState tracks the display state of a single pipeline stage.
type StageState struct {
	Name     string
	Status   StageStatus
	Duration time.Duration
	Detail   string
}

// Model is the Bubble Tea model for pipeline stage status display.
type Model struct {
	title      string
	stages     []StageState
	spinner    spinner.Model
	done       bool
	err        error
	cancelFunc context.CancelFunc
}

// StatusUpdateMsg bridges pipeline status updates to the TUI.
type StatusUpdateMsg struct {
	Stage    string
	Status   StageStatus
	Progress string
	Duration time.Duration
	Detail   string
	Err      error
}

// PipelineDoneMsg signals that the pipeline completed successfully.
type PipelineDoneMsg struct{}

// PipelineErrorMsg signals that the pipeline failed with an error.
type PipelineErrorMsg struct {
	Err error
}

func (StatusUpdateMsg) isDisplayEvent()  {}
func (PipelineDoneMsg) isDisplayEvent()  {}
func (PipelineErrorMsg) isDisplayEvent() {}

// ModelOption configures a Model.
type ModelOption func(*Model)

// WithCancelFunc sets the function called when the user aborts with q or ctrl+c.
func WithCancelFunc(cancel context.CancelFunc) ModelOption {
	return func(m *Model) { m.cancelFunc = cancel }
}

// WithTitle sets the header line shown above the stage list.
func WithTitle(title string) ModelOption {
	return func(m *Model) { m.title = title }
}

// NewModel creates a Model initialized with the given stage names.
func NewModel(stageNames []string, opts ...ModelOption) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot

	stages := make([]StageState, len(stageNames))
	for i, name := range stageNames {
		stages[i] = StageState{Name: name, Status: StatusPending}
	}

	m := Model{stages: stages, spinner: s}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Init starts the spinner tick.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case StatusUpdateMsg:
		for i := range m.stages {
			if m.stages[i].Name != msg.Stage {
				continue
			}
			m.stages[i].Status = msg.Status
			if msg.Duration > 0 {
				m.stages[i].Duration = msg.Duration
			}
			if msg.Detail != "" {
				m.stages[i].Detail = msg.Detail
			}
			break
		}
		return m, nil

	case PipelineDoneMsg:
		m.done = true
		return m, tea.Quit

	case PipelineErrorMsg:
		m.done = true
		m.err = msg.Err
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.cancelFunc != nil {
				m.cancelFunc()
			}
			m.done = true
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the stage list with status indicators.
func (m Model) View() string {
	var b strings.Builder

	if m.title != "" {
		b.WriteString(headerStyle.Render(m.title) + "\n\n")
	}

	for _, st := range m.stages {
		line := fmt.Sprintf("  %s %s", statusIndicator(st.Status, m.spinner.View()), st.Name)
		if st.Duration > 0 {
			line += dimStyle.Render(fmt.Sprintf(" %.1fs", st.Duration.Seconds()))
		}
		if st.Detail != "" && st.Status != StatusPending {
			line += dimStyle.Render(" · " + st.Detail)
		}
		b.WriteString(line + "\n")
	}

	if m.done && m.err != nil {
		b.WriteString("\n  " + failStyle.Render("Error: "+m.err.Error()) + "\n")
	}

	return b.String()
}

// statusIndicator returns the indicator for a stage status.
func statusIndicator(status StageStatus, spinnerView string) string {
	switch status {
	case StatusPending:
		return dimStyle.Render("○")
	case StatusRunning:
		return spinnerView
	case StatusPassed:
		return passStyle.Render("✓")
	case StatusFailed:
		return failStyle.Render("✗")
	default:
		return "?"
	}
}
