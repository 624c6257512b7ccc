package server

import (
	"net/http"

	"github.com/ternarybob/taskwatch/internal/handlers"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket routes
	mux.HandleFunc("/ws/progress", s.app.WSHandler.HandleProgress)                  // multi-task follow/unfollow
	mux.HandleFunc(handlers.TaskProgressPrefix, s.app.WSHandler.HandleTaskProgress) // /ws/progress/{task_id}

	// API routes - Progress
	mux.HandleFunc(handlers.ProgressPrefix, s.app.ProgressHandler.GetProgressHandler) // GET /api/progress/{task_id}
	mux.HandleFunc(handlers.TasksPrefix, s.app.ProgressHandler.TaskActionHandler)     // POST /api/tasks/{task_id}/{action}

	// API routes - Scheduler
	mux.HandleFunc("/api/scheduler/jobs", s.handleSchedulerJobsRoute)
	mux.HandleFunc("/api/scheduler/jobs/", s.handleSchedulerJobRoutes)

	// API routes - System
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/stats", s.app.APIHandler.StatsHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleSchedulerJobsRoute handles GET /api/scheduler/jobs
func (s *Server) handleSchedulerJobsRoute(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{
		"GET": s.app.SchedulerHandler.ListJobsHandler,
	})
}

// handleSchedulerJobRoutes handles GET and POST /api/scheduler/jobs/{name}
func (s *Server) handleSchedulerJobRoutes(w http.ResponseWriter, r *http.Request) {
	name := pathID(r, "/api/scheduler/jobs/")
	if name == "" {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}

	RouteByMethod(w, r, MethodRouter{
		"GET": func(w http.ResponseWriter, r *http.Request) {
			s.app.SchedulerHandler.GetJobHandler(w, r, name)
		},
		"POST": func(w http.ResponseWriter, r *http.Request) {
			s.app.SchedulerHandler.TriggerJobHandler(w, r, name)
		},
	})
}
