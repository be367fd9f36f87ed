// Package worker runs the relay: it activates one agent process per task,
// strictly one after another, until nothing is left to claim.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/nick-dorsch/relay/embed/prompts"
	"github.com/nick-dorsch/relay/internal/logging"
	"github.com/nick-dorsch/relay/internal/scheduler"
	"github.com/nick-dorsch/relay/pkg/models"
)

// Environment variables set for every agent process.
const (
	EnvTaskID = "RELAY_TASK_ID"
	EnvDir    = "RELAY_DIR"
)

// ReasonMaxIterations ends a run that hit its iteration limit.
const ReasonMaxIterations scheduler.Reason = "max_iterations"

// maxClaimRetries bounds how often a lost claim race is retried in a row.
const maxClaimRetries = 5

// Coordinator is the part of the coordinator the runner drives.
type Coordinator interface {
	ClaimNext(ctx context.Context) (scheduler.Result, error)
	GetTask(ctx context.Context, id string) (*models.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status models.TaskStatus) (*models.Task, error)
}

// Summary describes a finished run.
type Summary struct {
	Iterations int              `json:"iterations"`
	Completed  []string         `json:"completed"`
	Blocked    []string         `json:"blocked"`
	Reason     scheduler.Reason `json:"reason"`
}

// Worker hands tasks to agent processes. The agent is expected to finish its
// task with complete_task; a task still executing when the agent exits is
// marked blocked.
type Worker struct {
	coord         Coordinator
	agent         []string
	maxIterations int
	dir           string
	out           io.Writer
	logger        *slog.Logger
	cmdFactory    func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

type Option func(*Worker)

// WithMaxIterations stops the run after n agent activations. Zero means no
// limit.
func WithMaxIterations(n int) Option {
	return func(w *Worker) { w.maxIterations = n }
}

// WithOutput sends agent stdout and stderr to out.
func WithOutput(out io.Writer) Option {
	return func(w *Worker) { w.out = out }
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// WithDir is exported to agents as RELAY_DIR.
func WithDir(dir string) Option {
	return func(w *Worker) { w.dir = dir }
}

// NewWorker creates a Worker that runs agent (a command and its arguments)
// once per task.
func NewWorker(coord Coordinator, agent []string, opts ...Option) *Worker {
	w := &Worker{
		coord:      coord,
		agent:      agent,
		out:        os.Stdout,
		logger:     logging.Discard(),
		cmdFactory: exec.CommandContext,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run activates agents until the scheduler has nothing to hand out, the
// iteration limit is reached or ctx is done.
func (w *Worker) Run(ctx context.Context) (*Summary, error) {
	if len(w.agent) == 0 {
		return nil, errors.New("no agent command configured")
	}

	sum := &Summary{Completed: []string{}, Blocked: []string{}}
	retries := 0
	for {
		if w.maxIterations > 0 && sum.Iterations >= w.maxIterations {
			sum.Reason = ReasonMaxIterations
			return sum, nil
		}
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		res, err := w.coord.ClaimNext(ctx)
		if err != nil {
			if models.IsRetryable(err) && retries < maxClaimRetries {
				retries++
				w.logger.Warn("claim lost to another writer, retrying", "attempt", retries)
				continue
			}
			return sum, err
		}
		retries = 0

		if !res.Found() {
			sum.Reason = res.Reason
			w.logger.Info("relay finished", "reason", res.Reason, "iterations", sum.Iterations)
			return sum, nil
		}

		sum.Iterations++
		task := res.Task
		fmt.Fprintf(w.out, "--- Iteration %d: %s %s ---\n", sum.Iterations, task.ID, task.Name)

		runErr := w.runAgent(ctx, task)
		completed, err := w.settle(task, runErr)
		if err != nil {
			return sum, err
		}
		if completed {
			sum.Completed = append(sum.Completed, task.ID)
		} else {
			sum.Blocked = append(sum.Blocked, task.ID)
		}

		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
	}
}

func (w *Worker) runAgent(ctx context.Context, task *models.Task) error {
	cmd := w.cmdFactory(ctx, w.agent[0], w.agent[1:]...)
	cmd.Stdin = strings.NewReader(constructPrompt(task))
	cmd.Stdout = w.out
	cmd.Stderr = w.out
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, EnvTaskID+"="+task.ID)
	if w.dir != "" {
		cmd.Env = append(cmd.Env, EnvDir+"="+w.dir)
	}

	start := time.Now()
	err := cmd.Run()
	w.logger.Debug("agent exited", "task", task.ID, "duration", time.Since(start), "err", err)
	if err != nil {
		return fmt.Errorf("agent failed for task %s: %w", task.ID, err)
	}
	return nil
}

// settle checks the task after its agent exited. A task the agent left
// executing is blocked so the next claim moves on.
func (w *Worker) settle(task *models.Task, runErr error) (bool, error) {
	// Use a fresh context because the run context might be canceled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	current, err := w.coord.GetTask(ctx, task.ID)
	if err != nil {
		return false, err
	}
	switch current.Status {
	case models.TaskStatusCompleted:
		if runErr != nil {
			w.logger.Warn("agent failed after completing its task", "task", task.ID, "err", runErr)
		}
		return true, nil
	case models.TaskStatusExecuting:
		reason := "agent exited without completing the task"
		if runErr != nil {
			reason = runErr.Error()
		}
		w.logger.Warn("blocking task", "task", task.ID, "reason", reason)
		fmt.Fprintf(w.out, "--- Blocking %s: %s ---\n", task.ID, reason)
		if _, err := w.coord.UpdateTaskStatus(ctx, task.ID, models.TaskStatusBlocked); err != nil {
			return false, fmt.Errorf("failed to block task %s: %w", task.ID, err)
		}
		return false, nil
	default:
		// Someone else moved it, for example to blocked by hand.
		w.logger.Warn("task left in unexpected status", "task", task.ID, "status", current.Status)
		return false, nil
	}
}

func constructPrompt(task *models.Task) string {
	var sb strings.Builder
	sb.WriteString(prompts.Worker)
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "# Task: %s\n\n", task.ID)
	fmt.Fprintf(&sb, "## Name\n%s\n\n", task.Name)
	if task.Description != "" {
		fmt.Fprintf(&sb, "## Description\n%s\n\n", task.Description)
	}
	sb.WriteString("This task is already claimed for you. Do not claim another one.\n")
	return sb.String()
}
