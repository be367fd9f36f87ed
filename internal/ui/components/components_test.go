package components

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/nick-dorsch/relay/pkg/models"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func task(id string, status models.TaskStatus, completedAfter time.Duration) *models.Task {
	t := &models.Task{ID: id, Name: "task " + id, Status: status}
	if status == models.TaskStatusCompleted {
		at := t0.Add(completedAfter)
		t.CompletedAt = &at
	}
	return t
}

func TestTaskBoard(t *testing.T) {
	b := NewTaskBoard(80)
	b.Title = "Board"
	b.SetTasks([]*models.Task{
		task("A", models.TaskStatusCompleted, time.Minute),
		task("B", models.TaskStatusExecuting, 0),
		task("C", models.TaskStatusBlocked, 0),
		task("D", models.TaskStatusPending, 0),
	}, 5)

	view := b.View()

	for _, want := range []string{"Board", "Executing", "Blocked", "Completed", "▶ B task B", "✗ C task C", "✓ A task A"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected view to contain %q", want)
		}
	}
	if strings.Contains(view, "task D") {
		t.Errorf("expected pending tasks to be left off the board")
	}
}

func TestTaskBoardCompletionOrder(t *testing.T) {
	b := NewTaskBoard(40)
	// Snapshot order differs from completion order.
	b.SetTasks([]*models.Task{
		task("newest", models.TaskStatusCompleted, 3*time.Minute),
		task("oldest", models.TaskStatusCompleted, time.Minute),
		task("middle", models.TaskStatusCompleted, 2*time.Minute),
	}, 10)

	view := b.View()
	oldestIdx := strings.Index(view, "oldest")
	middleIdx := strings.Index(view, "middle")
	newestIdx := strings.Index(view, "newest")

	if oldestIdx == -1 || middleIdx == -1 || newestIdx == -1 {
		t.Fatalf("expected all tasks to be present")
	}
	if !(oldestIdx < middleIdx && middleIdx < newestIdx) {
		t.Errorf("expected completion order (oldest first), got indices: %d, %d, %d", oldestIdx, middleIdx, newestIdx)
	}
}

func TestTaskBoardLimit(t *testing.T) {
	b := NewTaskBoard(40)
	var tasks []*models.Task
	for i := range 5 {
		tasks = append(tasks, task(fmt.Sprintf("T%d", i), models.TaskStatusCompleted, time.Duration(i)*time.Minute))
	}
	b.SetTasks(tasks, 2)

	view := b.View()
	if strings.Contains(view, "T0") || !strings.Contains(view, "T3") || !strings.Contains(view, "T4") {
		t.Errorf("expected only the last two completions, got:\n%s", view)
	}
}

func TestTaskBoardEmptyState(t *testing.T) {
	b := NewTaskBoard(80)
	b.SetTasks([]*models.Task{task("A", models.TaskStatusPending, 0)}, 5)
	if !strings.Contains(b.View(), "Nothing started yet") {
		t.Errorf("expected placeholder when nothing is in flight")
	}
}

func TestTaskBoardWidth(t *testing.T) {
	width := 20
	b := NewTaskBoard(width)
	b.SetTasks([]*models.Task{
		{ID: "wrap", Name: "a task name long enough to wrap inside the box", Status: models.TaskStatusExecuting},
	}, 5)

	for _, line := range strings.Split(b.View(), "\n") {
		if w := lipgloss.Width(line); w > width {
			t.Errorf("line too wide: %d > %d. Line: %q", w, width, line)
		}
	}
}

func entries(n int) []models.LogEntry {
	out := make([]models.LogEntry, 0, n)
	for i := range n {
		out = append(out, models.LogEntry{
			ID:           fmt.Sprintf("e%d", i),
			Kind:         models.EntryKindCompleted,
			TaskID:       fmt.Sprintf("T%d", i),
			Summary:      "did the thing",
			NextStepHint: "check the other thing",
			Timestamp:    t0.Add(time.Duration(i) * time.Minute),
		})
	}
	return out
}

func TestProgressView(t *testing.T) {
	p := NewProgressView(80, 20)
	p.SetEntries(entries(1))

	view := p.View()
	for _, want := range []string{"09:00:00", "completed T0", "did the thing", "→ check the other thing"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected view to contain %q", want)
		}
	}
}

func TestProgressViewEmpty(t *testing.T) {
	p := NewProgressView(80, 20)
	p.SetEntries(nil)
	if !strings.Contains(p.View(), "No progress yet") {
		t.Errorf("expected placeholder when the log is empty")
	}
}

func TestProgressViewScrollbar(t *testing.T) {
	p := NewProgressView(40, 5)
	p.SetEntries(entries(10))

	view := p.View()
	if !strings.Contains(view, "┃") {
		t.Errorf("expected view to contain scrollbar handle '┃'")
	}
	if !strings.Contains(view, "│") {
		t.Errorf("expected view to contain scrollbar track '│'")
	}
	// Pinned to the bottom: the newest entry is visible.
	if !strings.Contains(view, "completed T9") {
		t.Errorf("expected newest entry in view:\n%s", view)
	}
}

func TestProgressViewNoScrollbar(t *testing.T) {
	p := NewProgressView(40, 10)
	p.SetEntries(entries(1))

	view := p.View()
	if strings.Contains(view, "┃") || strings.Contains(view, "│") {
		t.Errorf("expected view to NOT contain scrollbar when content fits")
	}
}

func TestProgressViewWrapping(t *testing.T) {
	width := 20
	p := NewProgressView(width, 10)
	p.SetEntries([]models.LogEntry{{
		ID:        "e",
		Kind:      models.EntryKindCompleted,
		TaskID:    "A",
		Summary:   "this is a very long summary that should definitely wrap because it exceeds twenty characters",
		Timestamp: t0,
	}})

	lines := strings.Split(strings.TrimSpace(p.View()), "\n")
	if len(lines) <= 2 {
		t.Errorf("expected summary to wrap, got %d lines", len(lines))
	}
	for i, line := range lines {
		if w := lipgloss.Width(line); w > width {
			t.Errorf("line %d is too wide: %d > %d. Content: %q", i, w, width, line)
		}
	}
}
