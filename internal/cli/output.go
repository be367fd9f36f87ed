package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nick-dorsch/relay/internal/coordinator"
	"github.com/nick-dorsch/relay/internal/scheduler"
	"github.com/nick-dorsch/relay/pkg/models"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	statusStyles = map[models.TaskStatus]lipgloss.Style{
		models.TaskStatusPending:   lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		models.TaskStatusExecuting: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.TaskStatusBlocked:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		models.TaskStatusCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	}
)

// statusOrder fixes the order of the counts line.
var statusOrder = []models.TaskStatus{
	models.TaskStatusPending,
	models.TaskStatusExecuting,
	models.TaskStatusBlocked,
	models.TaskStatusCompleted,
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderStatus(s models.TaskStatus) string {
	style, ok := statusStyles[s]
	if !ok {
		return string(s)
	}
	// Pad before styling so escape codes don't break the column width.
	return style.Render(fmt.Sprintf("%-10s", s))
}

func printTask(w io.Writer, t *models.Task) {
	fmt.Fprintf(w, "%s %s\n", headerStyle.Render(t.ID), t.Name)
	fmt.Fprintf(w, "  status:     %s\n", renderStatus(t.Status))
	fmt.Fprintf(w, "  priority:   %d\n", t.Priority)
	if len(t.Dependencies) > 0 {
		fmt.Fprintf(w, "  depends on: %s\n", strings.Join(t.Dependencies, ", "))
	}
	if t.Description != "" {
		fmt.Fprintf(w, "  %s\n", t.Description)
	}
}

func printTaskTable(w io.Writer, tasks []*models.Task) {
	fmt.Fprintf(w, "%-20s %-10s %-8s %s\n", "ID", "STATUS", "PRIORITY", "NAME")
	for _, t := range tasks {
		fmt.Fprintf(w, "%-20s %s %-8d %s\n", t.ID, renderStatus(t.Status), t.Priority, t.Name)
	}
}

func printResult(w io.Writer, res scheduler.Result) {
	switch res.Reason {
	case scheduler.ReasonSelected:
		printTask(w, res.Task)
	case scheduler.ReasonAllDone:
		fmt.Fprintln(w, "All tasks completed.")
	case scheduler.ReasonInFlight:
		fmt.Fprintf(w, "No eligible task; waiting on executing: %s\n", strings.Join(res.Executing, ", "))
	case scheduler.ReasonStalled:
		fmt.Fprintf(w, "Stalled: no task can run. Blocked: %s\n", strings.Join(res.Blocked, ", "))
	default:
		fmt.Fprintf(w, "No task (%s)\n", res.Reason)
	}
}

func printState(w io.Writer, st *coordinator.State) {
	p := st.Project
	fmt.Fprintln(w, headerStyle.Render("Project Status"))
	fmt.Fprintf(w, "Goal:     %s\n", p.Goal)
	fmt.Fprintf(w, "Status:   %s\n", st.Status)
	fmt.Fprintf(w, "Revision: %d\n", p.Revision)

	counts := make([]string, 0, len(statusOrder))
	for _, s := range statusOrder {
		counts = append(counts, fmt.Sprintf("%s=%d", s, st.Counts[s]))
	}
	fmt.Fprintf(w, "Tasks:    %s\n\n", strings.Join(counts, " "))

	printTaskTable(w, p.Tasks)

	if len(st.Executing) > 0 {
		fmt.Fprintf(w, "\nExecuting: %s\n", strings.Join(st.Executing, ", "))
	}

	fmt.Fprintf(w, "\n%s\n", headerStyle.Render("Next"))
	printResult(w, st.Next)

	if len(st.Recent) > 0 {
		fmt.Fprintf(w, "\n%s\n", headerStyle.Render("Recent progress"))
		for _, e := range st.Recent {
			printEntry(w, e)
		}
	}

	if len(st.Dangling) > 0 {
		fmt.Fprintf(w, "\n%s\n", headerStyle.Render("Dangling completions"))
		for _, e := range st.Dangling {
			printEntry(w, e)
		}
	}
}

func printEntry(w io.Writer, e models.LogEntry) {
	ts := dimStyle.Render(e.Timestamp.Format("2006-01-02 15:04:05"))
	line := fmt.Sprintf("%s %-14s", ts, e.Kind)
	if e.TaskID != "" {
		line += " " + e.TaskID
	}
	if e.Summary != "" {
		line += ": " + e.Summary
	}
	fmt.Fprintln(w, line)
	if e.NextStepHint != "" {
		fmt.Fprintf(w, "    next: %s\n", e.NextStepHint)
	}
}
