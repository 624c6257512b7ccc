package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/taskwatch/internal/models"
)

// formatSnapshot formats a progress snapshot as markdown
func formatSnapshot(snapshot models.TaskProgress) string {
	var sb strings.Builder

	if snapshot.Raw != nil {
		sb.WriteString(fmt.Sprintf("# Task %s\n\n", snapshot.TaskID))
		sb.WriteString("State is not interpreted; raw payload:\n\n```json\n")
		sb.Write(snapshot.Raw)
		sb.WriteString("\n```\n")
		return sb.String()
	}

	sb.WriteString(fmt.Sprintf("# Task %s\n\n", snapshot.TaskID))

	status := "running"
	switch {
	case snapshot.Complete && snapshot.Success != nil && *snapshot.Success:
		status = "succeeded"
	case snapshot.Complete:
		status = "failed"
	}
	sb.WriteString(fmt.Sprintf("**Status:** %s\n", status))

	if info, err := snapshot.ProgressInfo(); err == nil {
		sb.WriteString(fmt.Sprintf("**Progress:** %d of %d (%.2f%%)\n", info.Current, info.Total, info.Percent))
		if info.Description != "" {
			sb.WriteString(fmt.Sprintf("**Description:** %s\n", info.Description))
		}
	} else {
		sb.WriteString(fmt.Sprintf("**Progress:** %s\n", string(snapshot.Progress)))
	}

	if snapshot.Error != nil {
		sb.WriteString(fmt.Sprintf("**Error:** %s", snapshot.Error.Message))
		if snapshot.Error.Kind != "" {
			sb.WriteString(fmt.Sprintf(" (%s)", snapshot.Error.Kind))
		}
		sb.WriteString("\n")
	} else if len(snapshot.Result) > 0 {
		sb.WriteString("\n#### Result:\n```json\n")
		sb.Write(snapshot.Result)
		sb.WriteString("\n```\n")
	}

	return sb.String()
}

// formatTaskList formats task records as a markdown table
func formatTaskList(records []models.TaskRecord, states []models.TaskState) string {
	var sb strings.Builder

	filter := "all states"
	if len(states) > 0 {
		filter = string(states[0])
	}
	sb.WriteString(fmt.Sprintf("## Tasks (%s, %d results)\n\n", filter, len(records)))

	if len(records) == 0 {
		sb.WriteString("No tasks found.\n")
		return sb.String()
	}

	sb.WriteString("| Task | State | Updated |\n")
	sb.WriteString("|------|-------|---------|\n")
	for _, record := range records {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s |\n", record.ID, record.State, record.UpdatedAt.Format(time.RFC3339)))
	}

	return sb.String()
}
