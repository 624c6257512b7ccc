package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	arbor_models "github.com/ternarybob/arbor/models"
	"github.com/ternarybob/taskwatch/internal/common"
	"github.com/ternarybob/taskwatch/internal/progress"
	"github.com/ternarybob/taskwatch/internal/storage"
)

func main() {
	// Load configuration
	configPath := os.Getenv("TASKWATCH_CONFIG")
	if configPath == "" {
		configPath = "taskwatch.toml"
	}
	if _, err := os.Stat(configPath); err != nil {
		configPath = ""
	}

	config, err := common.LoadFromFile(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// The server process may hold the store; never write from here
	config.Storage.Badger.ReadOnly = true
	config.Storage.Badger.ResetOnStartup = false

	// Initialize minimal logger for MCP server (console only, no file output)
	logger := arbor.NewLogger().WithConsoleWriter(arbor_models.WriterConfiguration{
		Type:             arbor_models.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		DisableTimestamp: false,
	}).WithLevelFromString("warn") // Minimal logging to avoid cluttering MCP stdio

	storageManager, err := storage.NewStorageManager(logger, config)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	defer storageManager.Close()

	builder := progress.NewBuilder(storageManager.TaskStore(), logger)

	mcpServer := server.NewMCPServer(
		"taskwatch",
		common.GetVersion(),
		server.WithToolCapabilities(true),
	)

	mcpServer.AddTool(createGetTaskProgressTool(), handleGetTaskProgress(builder, logger))
	mcpServer.AddTool(createListTasksTool(), handleListTasks(storageManager.TaskStore(), logger))

	// Start server (blocks on stdio)
	if err := server.ServeStdio(mcpServer); err != nil {
		logger.Fatal().Err(err).Msg("MCP server failed")
	}
}
