package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskwatch/internal/interfaces"
)

// SchedulerHandler exposes maintenance job status and manual runs
type SchedulerHandler struct {
	scheduler interfaces.SchedulerService
	logger    arbor.ILogger
}

// NewSchedulerHandler creates a new SchedulerHandler
func NewSchedulerHandler(scheduler interfaces.SchedulerService, logger arbor.ILogger) *SchedulerHandler {
	return &SchedulerHandler{
		scheduler: scheduler,
		logger:    logger,
	}
}

// ListJobsHandler handles GET /api/scheduler/jobs
func (h *SchedulerHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"running": h.scheduler.IsRunning(),
		"jobs":    h.scheduler.GetAllJobStatuses(),
	})
}

// TriggerJobHandler handles POST /api/scheduler/jobs/{name}
func (h *SchedulerHandler) TriggerJobHandler(w http.ResponseWriter, r *http.Request, name string) {
	if _, err := h.scheduler.GetJobStatus(name); err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	if err := h.scheduler.TriggerJob(name); err != nil {
		WriteError(w, http.StatusConflict, err.Error())
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status":  "started",
		"message": "Job " + name + " triggered",
	})
}

// GetJobHandler handles GET /api/scheduler/jobs/{name}
func (h *SchedulerHandler) GetJobHandler(w http.ResponseWriter, r *http.Request, name string) {
	status, err := h.scheduler.GetJobStatus(name)
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, status)
}
