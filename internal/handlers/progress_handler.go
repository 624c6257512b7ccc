package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskwatch/internal/interfaces"
	"github.com/ternarybob/taskwatch/internal/progress"
)

// Route prefixes served by ProgressHandler
const (
	ProgressPrefix = "/api/progress/"
	TasksPrefix    = "/api/tasks/"
)

// ProgressHandler serves snapshot polling and the producer endpoints used by
// task runners that report progress over HTTP
type ProgressHandler struct {
	builder *progress.Builder
	store   interfaces.TaskStore
	events  interfaces.EventService
	logger  arbor.ILogger
}

// NewProgressHandler creates a new ProgressHandler
func NewProgressHandler(builder *progress.Builder, store interfaces.TaskStore, events interfaces.EventService, logger arbor.ILogger) *ProgressHandler {
	return &ProgressHandler{
		builder: builder,
		store:   store,
		events:  events,
		logger:  logger,
	}
}

// ProgressRequestBody is the body of POST /api/tasks/{task_id}/progress
type ProgressRequestBody struct {
	Current     int64  `json:"current" validate:"min=0"`
	Total       int64  `json:"total" validate:"min=0"`
	Description string `json:"description"`
	ProgressID  string `json:"progress_id"`
}

// ResultRequestBody is the body of POST /api/tasks/{task_id}/result
type ResultRequestBody struct {
	Result json.RawMessage `json:"result"`
}

// StopRequestBody is the body of POST /api/tasks/{task_id}/stop
type StopRequestBody struct {
	Current   int64  `json:"current" validate:"min=0"`
	Total     int64  `json:"total" validate:"min=0"`
	Error     string `json:"error" validate:"required"`
	ErrorType string `json:"error_type"`
}

// GetProgressHandler handles GET /api/progress/{task_id}
func (h *ProgressHandler) GetProgressHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	taskID := strings.TrimPrefix(r.URL.Path, ProgressPrefix)
	if taskID == "" || strings.Contains(taskID, "/") {
		WriteError(w, http.StatusBadRequest, "task_id is required")
		return
	}

	snapshot, err := h.builder.Snapshot(r.Context(), taskID)
	if err != nil {
		h.logger.Error().Err(err).Str("task_id", taskID).Msg("Failed to build snapshot")
		WriteError(w, http.StatusInternalServerError, "Failed to build snapshot")
		return
	}

	WriteJSON(w, http.StatusOK, snapshot)
}

// TaskActionHandler handles POST /api/tasks/{task_id}/{start|progress|result|stop}
func (h *ProgressHandler) TaskActionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, TasksPrefix), "/")
	if len(parts) != 2 || parts[0] == "" {
		WriteError(w, http.StatusNotFound, "Expected /api/tasks/{task_id}/{action}")
		return
	}
	taskID, action := parts[0], parts[1]

	ctx := r.Context()
	recorder := progress.NewTaskRecorder(taskID, h.store, h.events, h.logger)
	var err error

	switch action {
	case "start":
		err = recorder.Start(ctx)

	case "progress":
		var body ProgressRequestBody
		if decodeErr := DecodeJSON(r, &body); decodeErr != nil {
			WriteError(w, http.StatusBadRequest, decodeErr.Error())
			return
		}
		err = recorder.SetProgress(ctx, progress.Update{
			Current:     body.Current,
			Total:       body.Total,
			Description: body.Description,
			ProgressID:  body.ProgressID,
		})

	case "result":
		var body ResultRequestBody
		if decodeErr := DecodeJSON(r, &body); decodeErr != nil {
			WriteError(w, http.StatusBadRequest, decodeErr.Error())
			return
		}
		err = recorder.Succeed(ctx, body.Result)

	case "stop":
		var body StopRequestBody
		if decodeErr := DecodeJSON(r, &body); decodeErr != nil {
			WriteError(w, http.StatusBadRequest, decodeErr.Error())
			return
		}
		err = recorder.Fail(ctx, body.Current, body.Total, body.Error, body.ErrorType)

	default:
		WriteError(w, http.StatusNotFound, "Unknown task action: "+action)
		return
	}

	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, interfaces.ErrTaskNotFound) {
			status = http.StatusNotFound
		}
		h.logger.Error().Err(err).Str("task_id", taskID).Str("action", action).Msg("Failed to record task update")
		WriteError(w, status, "Failed to record task update")
		return
	}

	snapshot, err := h.builder.Snapshot(ctx, taskID)
	if err != nil {
		h.logger.Error().Err(err).Str("task_id", taskID).Msg("Failed to build snapshot")
		WriteError(w, http.StatusInternalServerError, "Failed to build snapshot")
		return
	}
	WriteJSON(w, http.StatusOK, snapshot)
}
