package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nick-dorsch/relay/embed/prompts"
	"github.com/nick-dorsch/relay/internal/coordinator"
	"github.com/nick-dorsch/relay/pkg/models"
)

// ServerName is reported to clients during initialize.
const ServerName = "Relay"

// NewServer creates an MCP server exposing the relay operations of c.
func NewServer(c *coordinator.Coordinator, version string) *server.MCPServer {
	s := server.NewMCPServer(ServerName, version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(prompts.Instructions),
	)

	// Project lifecycle
	addTool(s, mcp.NewTool("init_project",
		mcp.WithDescription("Create the project with its goal and initial tasks. Fails if a project already exists."),
		mcp.WithString("goal", mcp.Description("What the project is meant to achieve"), mcp.Required()),
		mcp.WithArray("initial_tasks",
			mcp.Description("Initial tasks, possibly empty: objects with id, name, description, priority and dependencies. Dependencies may reference tasks later in the list."),
			mcp.Items(map[string]any{"type": "object"}),
			mcp.Required(),
		),
	), initProjectHandler(c))

	addTool(s, mcp.NewTool("read_state",
		mcp.WithDescription("Read the project snapshot, task counts, executing tasks and the most recent progress entries. Call this first."),
	), readStateHandler(c))

	// Scheduling
	addTool(s, mcp.NewTool("get_next_task",
		mcp.WithDescription("Show the task that should be worked on next without claiming it."),
	), getNextTaskHandler(c))

	addTool(s, mcp.NewTool("claim_next_task",
		mcp.WithDescription("Select the next eligible task and mark it executing in one step."),
	), claimNextTaskHandler(c))

	addTool(s, mcp.NewTool("claim_task",
		mcp.WithDescription("Mark a specific eligible pending task as executing."),
		mcp.WithString("task_id", mcp.Description("Task id"), mcp.Required()),
	), claimTaskHandler(c))

	addTool(s, mcp.NewTool("complete_task",
		mcp.WithDescription("Complete a task and leave a summary and a hint for the next worker."),
		mcp.WithString("task_id", mcp.Description("Task id"), mcp.Required()),
		mcp.WithString("summary", mcp.Description("What was done"), mcp.Required()),
		mcp.WithString("next_step_hint", mcp.Description("Advice for the next worker")),
	), completeTaskHandler(c))

	// Task management
	addTool(s, mcp.NewTool("add_task",
		mcp.WithDescription("Add a pending task. An empty id is replaced with a generated one."),
		mcp.WithString("id", mcp.Description("Unique task id")),
		mcp.WithString("name", mcp.Description("Short task name"), mcp.Required()),
		mcp.WithString("description", mcp.Description("What the task involves")),
		mcp.WithNumber("priority", mcp.Description("Higher runs first")),
		mcp.WithArray("dependencies", mcp.Description("Ids of tasks that must be completed first"), mcp.WithStringItems()),
	), addTaskHandler(c))

	addTool(s, mcp.NewTool("update_task_status",
		mcp.WithDescription("Change a task's status manually (pending, executing, blocked). Use complete_task to complete."),
		mcp.WithString("task_id", mcp.Description("Task id"), mcp.Required()),
		mcp.WithString("status", mcp.Description("New status"), mcp.Required(),
			mcp.Enum(string(models.TaskStatusPending), string(models.TaskStatusExecuting), string(models.TaskStatusBlocked))),
	), updateTaskStatusHandler(c))

	addTool(s, mcp.NewTool("get_task",
		mcp.WithDescription("Get a single task by id."),
		mcp.WithString("task_id", mcp.Description("Task id"), mcp.Required()),
	), getTaskHandler(c))

	addTool(s, mcp.NewTool("get_task_dependencies",
		mcp.WithDescription("Get all tasks that a task depends on."),
		mcp.WithString("task_id", mcp.Description("Task id"), mcp.Required()),
	), getTaskDependenciesHandler(c))

	addTool(s, mcp.NewTool("get_task_dependents",
		mcp.WithDescription("Get all tasks that list a task as a dependency."),
		mcp.WithString("task_id", mcp.Description("Task id"), mcp.Required()),
	), getTaskDependentsHandler(c))

	return s
}

// addTool registers tool with a handler that rejects unknown and missing
// arguments before h runs.
func addTool(s *server.MCPServer, tool mcp.Tool, h server.ToolHandlerFunc) {
	s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := checkArguments(tool, request.GetArguments()); err != nil {
			return errorResult(err), nil
		}
		return h(ctx, request)
	})
}

func checkArguments(tool mcp.Tool, args map[string]any) error {
	var unknown []string
	for k := range args {
		if _, ok := tool.InputSchema.Properties[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		slices.Sort(unknown)
		return models.Errorf(models.KindInvalidArgument, "", "%s: unknown arguments: %s", tool.Name, strings.Join(unknown, ", "))
	}
	for _, k := range tool.InputSchema.Required {
		if _, ok := args[k]; !ok {
			return models.Errorf(models.KindInvalidArgument, "", "%s: missing required argument %q", tool.Name, k)
		}
	}
	return nil
}

// Serve starts the MCP server on stdio.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func initProjectHandler(c *coordinator.Coordinator) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		goal := mcp.ParseString(request, "goal", "")

		specs := []models.TaskSpec{}
		if raw := request.GetArguments()["initial_tasks"]; raw != nil {
			data, err := json.Marshal(raw)
			if err != nil {
				return errorResult(err), nil
			}
			dec := json.NewDecoder(bytes.NewReader(data))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&specs); err != nil {
				return errorResult(models.Errorf(models.KindInvalidArgument, "", "invalid initial_tasks: %v", err)), nil
			}
		}

		p, err := c.InitProject(ctx, goal, specs)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(p)
	}
}

func readStateHandler(c *coordinator.Coordinator) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st, err := c.ReadState(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(st)
	}
}

func getNextTaskHandler(c *coordinator.Coordinator) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := c.GetNextTask(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(res)
	}
}

func claimNextTaskHandler(c *coordinator.Coordinator) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := c.ClaimNext(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(res)
	}
}

func claimTaskHandler(c *coordinator.Coordinator) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		t, err := c.ClaimTask(ctx, mcp.ParseString(request, "task_id", ""))
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(t)
	}
}

func completeTaskHandler(c *coordinator.Coordinator) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "task_id", "")
		summary := mcp.ParseString(request, "summary", "")
		hint := mcp.ParseString(request, "next_step_hint", "")

		t, err := c.CompleteTask(ctx, id, summary, hint)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(t)
	}
}

func addTaskHandler(c *coordinator.Coordinator) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		spec := models.TaskSpec{
			ID:          mcp.ParseString(request, "id", ""),
			Name:        mcp.ParseString(request, "name", ""),
			Description: mcp.ParseString(request, "description", ""),
			Priority:    mcp.ParseInt(request, "priority", 0),
		}

		if raw, ok := request.GetArguments()["dependencies"].([]any); ok {
			for _, d := range raw {
				id, ok := d.(string)
				if !ok {
					return errorResult(models.Errorf(models.KindInvalidArgument, "", "dependency %v is not a string", d)), nil
				}
				spec.Dependencies = append(spec.Dependencies, id)
			}
		}

		t, err := c.AddTask(ctx, spec)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(t)
	}
}

func updateTaskStatusHandler(c *coordinator.Coordinator) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "task_id", "")
		status := models.TaskStatus(mcp.ParseString(request, "status", ""))

		t, err := c.UpdateTaskStatus(ctx, id, status)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(t)
	}
}

func getTaskHandler(c *coordinator.Coordinator) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		t, err := c.GetTask(ctx, mcp.ParseString(request, "task_id", ""))
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(t)
	}
}

func getTaskDependenciesHandler(c *coordinator.Coordinator) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		deps, err := c.Dependencies(ctx, mcp.ParseString(request, "task_id", ""))
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(map[string]any{"dependencies": deps})
	}
}

func getTaskDependentsHandler(c *coordinator.Coordinator) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		deps, err := c.Dependents(ctx, mcp.ParseString(request, "task_id", ""))
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(map[string]any{"dependents": deps})
	}
}

// errorResult reports err as a models.ErrorPayload so callers can branch on
// the kind and retry on Conflict.
func errorResult(err error) *mcp.CallToolResult {
	data, mErr := json.Marshal(models.NewErrorPayload(err))
	if mErr != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError(string(data))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
