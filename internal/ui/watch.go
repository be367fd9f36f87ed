// Package ui is the live terminal view of a relay.
package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nick-dorsch/relay/internal/coordinator"
	"github.com/nick-dorsch/relay/internal/scheduler"
	"github.com/nick-dorsch/relay/internal/ui/components"
	"github.com/nick-dorsch/relay/pkg/models"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			Padding(0, 1)

	statsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true).
			Padding(0, 1)

	nextStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Padding(0, 1)
)

const (
	defaultInterval = 2 * time.Second
	completedLimit  = 8
	minSidebarWidth = 24
	headerLines     = 3
	footerLines     = 2
)

// StateReader is satisfied by *coordinator.Coordinator.
type StateReader interface {
	ReadState(ctx context.Context) (*coordinator.State, error)
}

type stateMsg struct {
	state *coordinator.State
	err   error
	at    time.Time
}

type tickMsg time.Time

// WatchModel polls the relay state and renders it until the user quits.
type WatchModel struct {
	ctx      context.Context
	reader   StateReader
	interval time.Duration

	state       *coordinator.State
	err         error
	lastRefresh time.Time

	board    *components.TaskBoard
	progress *components.ProgressView

	width, height int
	sidebarWidth  int
	quitting      bool
}

func NewWatchModel(ctx context.Context, reader StateReader, interval time.Duration) *WatchModel {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &WatchModel{
		ctx:      ctx,
		reader:   reader,
		interval: interval,
		board:    components.NewTaskBoard(minSidebarWidth),
		progress: components.NewProgressView(80, 10),
	}
}

func (m *WatchModel) Init() tea.Cmd {
	return m.fetch()
}

func (m *WatchModel) fetch() tea.Cmd {
	return func() tea.Msg {
		st, err := m.reader.ReadState(m.ctx)
		return stateMsg{state: st, err: err, at: time.Now()}
	}
}

func (m *WatchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.fetch()
		}
		return m, m.progress.Update(msg)

	case tea.MouseMsg:
		return m, m.progress.Update(msg)

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		return m, nil

	case stateMsg:
		m.lastRefresh = msg.at
		m.err = msg.err
		if msg.err == nil {
			m.state = msg.state
			m.board.SetTasks(msg.state.Project.Tasks, completedLimit)
			m.progress.SetEntries(msg.state.Recent)
		}
		return m, m.tick()

	case tickMsg:
		return m, m.fetch()
	}
	return m, nil
}

func (m *WatchModel) layout() {
	m.sidebarWidth = max(m.width/3, minSidebarWidth)
	m.board.Width = m.sidebarWidth
	bodyHeight := max(m.height-headerLines-footerLines, 1)
	m.progress.SetSize(max(m.width-m.sidebarWidth-1, 10), bodyHeight)
}

func (m *WatchModel) View() string {
	if m.quitting {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(m.headerView())
	sb.WriteString("\n")

	if m.state != nil {
		sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, m.board.View(), " ", m.progress.View()))
		sb.WriteString("\n")
	}

	if m.err != nil {
		sb.WriteString(errorStyle.Render(errorText(m.err)))
		sb.WriteString("\n")
	}

	refreshed := "never"
	if !m.lastRefresh.IsZero() {
		refreshed = m.lastRefresh.Format("15:04:05")
	}
	sb.WriteString(helpStyle.Render(fmt.Sprintf("refreshed %s · r refresh · ↑/↓ scroll · q quit", refreshed)))
	return sb.String()
}

func (m *WatchModel) headerView() string {
	if m.state == nil {
		return titleStyle.Render("relay")
	}
	st := m.state
	title := titleStyle.Render(fmt.Sprintf("relay · %s", st.Project.Goal))

	stats := statsStyle.Render(fmt.Sprintf("%s · %d pending · %d executing · %d blocked · %d completed · rev %d",
		st.Status,
		st.Counts[models.TaskStatusPending],
		st.Counts[models.TaskStatusExecuting],
		st.Counts[models.TaskStatusBlocked],
		st.Counts[models.TaskStatusCompleted],
		st.Project.Revision,
	))
	return title + "\n" + stats + "\n" + nextStyle.Render(nextText(st.Next))
}

func nextText(res scheduler.Result) string {
	switch res.Reason {
	case scheduler.ReasonSelected:
		return fmt.Sprintf("next: %s %s (priority %d)", res.Task.ID, res.Task.Name, res.Task.Priority)
	case scheduler.ReasonAllDone:
		return "all tasks completed"
	case scheduler.ReasonInFlight:
		return "waiting on " + strings.Join(res.Executing, ", ")
	case scheduler.ReasonStalled:
		return "stalled: blocked " + strings.Join(res.Blocked, ", ")
	}
	return string(res.Reason)
}

func errorText(err error) string {
	if errors.Is(err, models.ErrUninitialized) {
		return "waiting for the project to be initialized"
	}
	return "error: " + err.Error()
}

// RunWatch runs the live view until the user quits or ctx is done.
func RunWatch(ctx context.Context, reader StateReader, interval time.Duration) error {
	p := tea.NewProgram(NewWatchModel(ctx, reader, interval),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
