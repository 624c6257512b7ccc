package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskwatch/internal/interfaces"
	"github.com/ternarybob/taskwatch/internal/models"
	"github.com/ternarybob/taskwatch/internal/progress"
)

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

// handleGetTaskProgress implements the get_task_progress tool
func handleGetTaskProgress(builder *progress.Builder, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := request.RequireString("task_id")
		if err != nil || taskID == "" {
			return textResult("Error: task_id parameter is required"), nil
		}

		snapshot, err := builder.Snapshot(ctx, taskID)
		if err != nil {
			logger.Error().Err(err).Str("task_id", taskID).Msg("Snapshot failed")
			return textResult(fmt.Sprintf("Failed to read task %s: %v", taskID, err)), nil
		}

		return textResult(formatSnapshot(snapshot)), nil
	}
}

// handleListTasks implements the list_tasks tool
func handleListTasks(store interfaces.TaskStore, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := request.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}

		var states []models.TaskState
		if state := strings.ToUpper(strings.TrimSpace(request.GetString("state", ""))); state != "" {
			states = append(states, models.TaskState(state))
		}

		records, err := store.ListTasks(ctx, states, limit)
		if err != nil {
			logger.Error().Err(err).Msg("ListTasks failed")
			return textResult(fmt.Sprintf("Failed to list tasks: %v", err)), nil
		}

		return textResult(formatTaskList(records, states)), nil
	}
}
