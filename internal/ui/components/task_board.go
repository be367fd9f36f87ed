package components

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nick-dorsch/relay/pkg/models"
)

var (
	executingTaskStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("214")).
				Border(lipgloss.NormalBorder()).
				BorderForeground(lipgloss.Color("214")).
				Padding(0, 1)

	blockedTaskStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("196")).
				Border(lipgloss.NormalBorder()).
				BorderForeground(lipgloss.Color("196")).
				Padding(0, 1)

	completedTaskStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("42")).
				Border(lipgloss.NormalBorder()).
				BorderForeground(lipgloss.Color("42")).
				Padding(0, 1)

	boardHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("252")).
				Padding(0, 1)

	subTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	placeholderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240")).
				Italic(true).
				Padding(0, 1)
)

// TaskBoard groups the tasks that need attention into boxes: executing,
// blocked and the most recently completed.
type TaskBoard struct {
	Width int
	Title string

	executing []*models.Task
	blocked   []*models.Task
	completed []*models.Task
}

func NewTaskBoard(width int) *TaskBoard {
	return &TaskBoard{
		Width: width,
		Title: "Tasks",
	}
}

// SetTasks replaces the board's content. Completed tasks are shown oldest
// first, keeping only the last limit of them when limit > 0.
func (b *TaskBoard) SetTasks(tasks []*models.Task, limit int) {
	b.executing, b.blocked, b.completed = nil, nil, nil
	for _, t := range tasks {
		switch t.Status {
		case models.TaskStatusExecuting:
			b.executing = append(b.executing, t)
		case models.TaskStatusBlocked:
			b.blocked = append(b.blocked, t)
		case models.TaskStatusCompleted:
			b.completed = append(b.completed, t)
		}
	}
	slices.SortStableFunc(b.completed, func(x, y *models.Task) int {
		switch {
		case x.CompletedAt == nil || y.CompletedAt == nil:
			return 0
		default:
			return x.CompletedAt.Compare(*y.CompletedAt)
		}
	})
	if limit > 0 && len(b.completed) > limit {
		b.completed = b.completed[len(b.completed)-limit:]
	}
}

func (b *TaskBoard) View() string {
	var boxes []string
	if len(b.executing) > 0 {
		boxes = append(boxes, b.renderBox("Executing", b.executing, executingTaskStyle, "▶"))
	}
	if len(b.blocked) > 0 {
		boxes = append(boxes, b.renderBox("Blocked", b.blocked, blockedTaskStyle, "✗"))
	}
	if len(b.completed) > 0 {
		boxes = append(boxes, b.renderBox("Completed", b.completed, completedTaskStyle, "✓"))
	}

	var content string
	if len(boxes) == 0 {
		content = placeholderStyle.Render("Nothing started yet")
	} else {
		content = strings.Join(boxes, "\n")
	}

	if b.Title != "" {
		return boardHeaderStyle.Render(b.Title) + "\n" + content
	}
	return content
}

func (b *TaskBoard) renderBox(title string, tasks []*models.Task, style lipgloss.Style, icon string) string {
	subTitle := subTitleStyle.Foreground(style.GetForeground()).Render(title)

	// Border and padding take two columns on each side.
	nameWidth := max(b.Width-6, 0)

	var lines []string
	for _, t := range tasks {
		label := t.ID
		if t.Name != "" && t.Name != t.ID {
			label = fmt.Sprintf("%s %s", t.ID, t.Name)
		}
		wrapped := lipgloss.NewStyle().Width(nameWidth).Render(label)
		for i, line := range strings.Split(wrapped, "\n") {
			if i == 0 {
				lines = append(lines, fmt.Sprintf("%s %s", icon, line))
			} else {
				lines = append(lines, "  "+line)
			}
		}
	}

	return style.Width(b.Width).Render(subTitle + "\n" + strings.Join(lines, "\n"))
}
