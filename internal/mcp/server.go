package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"crontabd/internal/core"
)

// MCPServer represents the MCP server that handles protocol communication.
type MCPServer struct {
	crontab *core.Crontab
	logger  *slog.Logger
}

// NewMCPServer creates a new MCP server instance.
func NewMCPServer(crontab *core.Crontab, logger *slog.Logger) *MCPServer {
	return &MCPServer{crontab: crontab, logger: logger}
}

// Run starts the MCP server using stdio transport.
func (s *MCPServer) Run() error {
	mcpServer := server.NewMCPServer(
		"crontabd",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)

	s.logger.Info("MCP server starting on stdio")
	return server.ServeStdio(mcpServer)
}

// registerTools registers all available MCP tools.
func (s *MCPServer) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("crontab_create_task",
		mcp.WithDescription("Register a scheduled webhook task for a tenant. The spec is a JSON document with a url, an optional payload and timezone, and exactly one of an 'at' or an 'every' schedule expression"),
		mcp.WithString("tenant",
			mcp.Required(),
			mcp.Description("Tenant owning the task"),
		),
		mcp.WithString("spec",
			mcp.Required(),
			mcp.Description(`Task spec JSON, e.g. {"url":"https://example.com/hook","every":{"starting_at":"2026-01-01T00:00:00","minutes":5}}`),
		),
	), s.handleCreateTask)

	mcpServer.AddTool(mcp.NewTool("crontab_list_tasks",
		mcp.WithDescription("List a tenant's scheduled tasks"),
		mcp.WithString("tenant",
			mcp.Required(),
			mcp.Description("Tenant owning the tasks"),
		),
	), s.handleListTasks)

	mcpServer.AddTool(mcp.NewTool("crontab_get_task",
		mcp.WithDescription("Get one scheduled task with its trigger bookkeeping"),
		mcp.WithString("tenant",
			mcp.Required(),
			mcp.Description("Tenant owning the task"),
		),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleGetTask)

	mcpServer.AddTool(mcp.NewTool("crontab_update_task",
		mcp.WithDescription("Replace a task's schedule spec, keeping its trigger bookkeeping"),
		mcp.WithString("tenant",
			mcp.Required(),
			mcp.Description("Tenant owning the task"),
		),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
		mcp.WithString("spec",
			mcp.Required(),
			mcp.Description("New task spec JSON"),
		),
	), s.handleUpdateTask)

	mcpServer.AddTool(mcp.NewTool("crontab_delete_task",
		mcp.WithDescription("Unregister a scheduled task"),
		mcp.WithString("tenant",
			mcp.Required(),
			mcp.Description("Tenant owning the task"),
		),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleDeleteTask)

	s.logger.Info("MCP tools registered", "count", 5)
}

// handleCreateTask handles the crontab_create_task tool call.
func (s *MCPServer) handleCreateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenant := mcp.ParseString(request, "tenant", "")
	specJSON := mcp.ParseString(request, "spec", "")

	var spec core.TaskSpec
	if err := json.Unmarshal([]byte(specJSON), &spec); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid spec JSON: %v", err)), nil
	}
	if validation := core.ValidateSpec(&spec); !validation.Valid {
		return mcp.NewToolResultError(fmt.Sprintf("invalid spec: %s", validation.Message)), nil
	}

	store, err := s.crontab.ForTenant(tenant)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entity, err := store.Create(ctx, core.Task{Spec: spec})
	if err != nil {
		s.logger.Error("create task", "tenant", tenant, "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to create task: %v", err)), nil
	}

	s.logger.Info("task created", "tenant", tenant, "task_id", entity.ID, "url", spec.URL)
	return mcp.NewToolResultText(fmt.Sprintf("Task created\nID: %s\nURL: %s", entity.ID, spec.URL)), nil
}

// handleListTasks handles the crontab_list_tasks tool call.
func (s *MCPServer) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenant := mcp.ParseString(request, "tenant", "")

	store, err := s.crontab.ForTenant(tenant)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entities, total, err := store.Page(ctx, 0, 999)
	if err != nil {
		s.logger.Error("list tasks", "tenant", tenant, "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to list tasks: %v", err)), nil
	}

	if len(entities) == 0 {
		return mcp.NewToolResultText("No tasks found"), nil
	}

	result := fmt.Sprintf("Found %d of %d task(s):\n\n", len(entities), total)
	for _, entity := range entities {
		result += formatTask(entity)
		result += "\n"
	}
	return mcp.NewToolResultText(result), nil
}

// handleGetTask handles the crontab_get_task tool call.
func (s *MCPServer) handleGetTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenant := mcp.ParseString(request, "tenant", "")
	taskID := mcp.ParseString(request, "task_id", "")

	store, err := s.crontab.ForTenant(tenant)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entity, err := store.Retrieve(ctx, taskID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to load task: %v", err)), nil
	}
	return mcp.NewToolResultText(formatTask(entity)), nil
}

// handleUpdateTask handles the crontab_update_task tool call.
func (s *MCPServer) handleUpdateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenant := mcp.ParseString(request, "tenant", "")
	taskID := mcp.ParseString(request, "task_id", "")
	specJSON := mcp.ParseString(request, "spec", "")

	var spec core.TaskSpec
	if err := json.Unmarshal([]byte(specJSON), &spec); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid spec JSON: %v", err)), nil
	}
	if validation := core.ValidateSpec(&spec); !validation.Valid {
		return mcp.NewToolResultError(fmt.Sprintf("invalid spec: %s", validation.Message)), nil
	}

	store, err := s.crontab.ForTenant(tenant)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entity, err := store.Retrieve(ctx, taskID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to load task: %v", err)), nil
	}

	task := entity.Task
	task.Spec = spec
	updated, err := store.Update(ctx, entity, task)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to update task: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task updated: %s (version %d)", updated.ID, updated.Version)), nil
}

// handleDeleteTask handles the crontab_delete_task tool call.
func (s *MCPServer) handleDeleteTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenant := mcp.ParseString(request, "tenant", "")
	taskID := mcp.ParseString(request, "task_id", "")

	store, err := s.crontab.ForTenant(tenant)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entity, err := store.Retrieve(ctx, taskID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to load task: %v", err)), nil
	}
	if err := store.Delete(ctx, entity); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to delete task: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task deleted: %s", taskID)), nil
}

func formatTask(entity core.TaskEntity) string {
	spec, _ := json.Marshal(entity.Task.Spec)
	result := fmt.Sprintf("Task ID: %s\n", entity.ID)
	result += fmt.Sprintf("Version: %d\n", entity.Version)
	result += fmt.Sprintf("Spec: %s\n", spec)
	if entity.Task.LastTrig != nil {
		result += fmt.Sprintf("Last triggered: %s\n", entity.Task.LastTrig.UTC().Format(time.RFC3339))
	}
	if entity.Task.Success != nil {
		result += fmt.Sprintf("Last outcome: success=%t\n", *entity.Task.Success)
	}
	result += fmt.Sprintf("Consecutive errors: %d\n", entity.Task.ErrorCount)
	return result
}
