package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nick-dorsch/relay/pkg/models"
)

var (
	timestampStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	completionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")).
			Italic(true)

	entryStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	scrollbarTrackStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("236"))

	scrollbarHandleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("241"))
)

// ProgressView renders progress log entries in a scrollable viewport. New
// content keeps the view pinned to the bottom unless the user scrolled up.
type ProgressView struct {
	viewport viewport.Model
	entries  []models.LogEntry
	ready    bool
}

func NewProgressView(width, height int) *ProgressView {
	p := &ProgressView{}
	p.SetSize(width, height)
	return p
}

// SetSize resizes the view. One column is kept for the scrollbar.
func (p *ProgressView) SetSize(width, height int) {
	vpWidth := width
	if width > 0 {
		vpWidth = width - 1
	}
	if !p.ready {
		p.viewport = viewport.New(vpWidth, height)
		p.ready = true
	} else {
		p.viewport.Width = vpWidth
		p.viewport.Height = height
	}
	p.render(true)
}

func (p *ProgressView) SetEntries(entries []models.LogEntry) {
	follow := p.viewport.AtBottom() || len(p.entries) == 0
	p.entries = entries
	p.render(follow)
}

func (p *ProgressView) render(follow bool) {
	var sb strings.Builder
	for i, e := range p.entries {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(formatEntry(e))
	}

	content := sb.String()
	if len(p.entries) == 0 {
		content = placeholderStyle.Render("No progress yet")
	}
	if w := p.viewport.Width; w > 0 {
		content = lipgloss.NewStyle().Width(w).Render(content)
	}
	p.viewport.SetContent(content)
	if follow {
		p.viewport.GotoBottom()
	}
}

func formatEntry(e models.LogEntry) string {
	head := timestampStyle.Render(e.Timestamp.Format("15:04:05")) + " "
	if e.Kind == models.EntryKindCompleted {
		head += completionStyle.Render(fmt.Sprintf("completed %s", e.TaskID))
	} else if e.TaskID != "" {
		head += entryStyle.Render(fmt.Sprintf("%s %s", e.Kind, e.TaskID))
	} else {
		head += entryStyle.Render(string(e.Kind))
	}

	var sb strings.Builder
	sb.WriteString(head)
	if e.Summary != "" {
		sb.WriteString("\n  " + entryStyle.Render(e.Summary))
	}
	if e.NextStepHint != "" {
		sb.WriteString("\n  " + hintStyle.Render("→ "+e.NextStepHint))
	}
	return sb.String()
}

func (p *ProgressView) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	p.viewport, cmd = p.viewport.Update(msg)
	return cmd
}

func (p *ProgressView) View() string {
	if !p.ready {
		return ""
	}
	if p.viewport.TotalLineCount() <= p.viewport.Height {
		return p.viewport.View()
	}

	h := p.viewport.Height
	handlePos := int(float64(h-1) * p.viewport.ScrollPercent())

	var sb strings.Builder
	for i := 0; i < h; i++ {
		if i == handlePos {
			sb.WriteString(scrollbarHandleStyle.Render("┃"))
		} else {
			sb.WriteString(scrollbarTrackStyle.Render("│"))
		}
		if i < h-1 {
			sb.WriteString("\n")
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, p.viewport.View(), sb.String())
}
