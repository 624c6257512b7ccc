package main

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// createGetTaskProgressTool returns the get_task_progress tool definition
func createGetTaskProgressTool() mcp.Tool {
	return mcp.NewTool("get_task_progress",
		mcp.WithDescription("Get the current progress snapshot of a task: percent complete, completion and success flags, result or error"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID as reported by the producer"),
		),
	)
}

// createListTasksTool returns the list_tasks tool definition
func createListTasksTool() mcp.Tool {
	return mcp.NewTool("list_tasks",
		mcp.WithDescription("List recently updated tasks, newest first, optionally filtered by state"),
		mcp.WithString("state",
			mcp.Description("Filter: PENDING, STARTED, PROGRESS, SUCCESS, FAILURE, RETRY, REVOKED"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max results (default: 20, max: 100)"),
		),
	)
}
