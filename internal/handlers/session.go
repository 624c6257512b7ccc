package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskwatch/internal/broadcast"
	"github.com/ternarybob/taskwatch/internal/common"
	"github.com/ternarybob/taskwatch/internal/progress"
	"github.com/ternarybob/taskwatch/internal/registry"
)

// Request types accepted on progress WebSockets
const (
	RequestCheckTaskCompletion = "check_task_completion"
	RequestFollowTask          = "follow_task"
	RequestFollowTasks         = "follow_tasks"
	RequestUnfollowTask        = "unfollow_task"
	RequestUnfollowTasks       = "unfollow_tasks"
)

// ProgressRequest is one inbound message
type ProgressRequest struct {
	Type    string   `json:"type"`
	TaskID  string   `json:"task_id,omitempty"`
	TaskIDs []string `json:"task_ids,omitempty"`
}

// ErrorReply is sent to the requesting connection only
type ErrorReply struct {
	Error string `json:"error"`
}

// Session is the per-connection state of a progress WebSocket. Requests are
// handled one at a time by the connection's read loop, so the follow set is
// owned by that goroutine and needs no locking.
type Session struct {
	conn       registry.Conn
	registry   *registry.Registry
	builder    *progress.Builder
	dispatcher *broadcast.Dispatcher
	logger     arbor.ILogger

	// fixedTaskID is set for single-task connections, which only accept
	// check_task_completion for this id
	fixedTaskID string
	tasks       map[string]struct{}
}

// NewSession attaches conn to reg and returns its session
func NewSession(conn registry.Conn, reg *registry.Registry, builder *progress.Builder, dispatcher *broadcast.Dispatcher, logger arbor.ILogger) *Session {
	reg.Attach(conn)
	return &Session{
		conn:       conn,
		registry:   reg,
		builder:    builder,
		dispatcher: dispatcher,
		logger:     logger,
		tasks:      make(map[string]struct{}),
	}
}

// NewTaskSession returns a single-task session already following taskID
func NewTaskSession(taskID string, conn registry.Conn, reg *registry.Registry, builder *progress.Builder, dispatcher *broadcast.Dispatcher, logger arbor.ILogger) (*Session, error) {
	s := NewSession(conn, reg, builder, dispatcher, logger)
	s.fixedTaskID = taskID
	if err := s.followTask(taskID); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Tasks returns the ids this session follows
func (s *Session) Tasks() []string {
	tasks := make([]string, 0, len(s.tasks))
	for taskID := range s.tasks {
		tasks = append(tasks, taskID)
	}
	return tasks
}

// Handle processes one raw inbound message. Request errors and internal
// faults are reported to this connection; neither ends the session.
func (s *Session) Handle(ctx context.Context, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", common.StackTrace()).
				Msg("Recovered from panic while handling progress request")
			s.reply(ErrorReply{Error: fmt.Sprintf("FATAL ERROR: %v", r)})
		}
	}()

	err := s.handle(ctx, data)
	if err == nil {
		return
	}

	var requestErr *RequestError
	if errors.As(err, &requestErr) {
		s.logger.Warn().Str("error", requestErr.Error()).Msg("Rejected progress request")
		s.reply(ErrorReply{Error: requestErr.Error()})
		return
	}

	s.logger.Error().Err(err).Msg("Failed to handle progress request")
	s.reply(ErrorReply{Error: fmt.Sprintf("FATAL ERROR: %v", err)})
}

func (s *Session) handle(ctx context.Context, data []byte) error {
	var request ProgressRequest
	if err := json.Unmarshal(data, &request); err != nil {
		return fmt.Errorf("malformed request: %w", err)
	}

	s.logger.Debug().
		Str("type", request.Type).
		Str("task_id", request.TaskID).
		Strs("task_ids", request.TaskIDs).
		Msg("Got progress request")

	if request.Type == "" {
		return newRequestError(RequestRequired)
	}

	if s.fixedTaskID != "" {
		if request.Type != RequestCheckTaskCompletion {
			return newRequestError(UnknownRequest)
		}
		return s.checkTaskCompletion(ctx, s.fixedTaskID)
	}

	switch request.Type {
	case RequestCheckTaskCompletion:
		return s.checkTaskCompletion(ctx, request.TaskID)
	case RequestFollowTask:
		return s.followTask(request.TaskID)
	case RequestFollowTasks:
		return s.followTasks(request.TaskIDs)
	case RequestUnfollowTask:
		return s.unfollowTask(request.TaskID)
	case RequestUnfollowTasks:
		return s.unfollowTasks(request.TaskIDs)
	default:
		return newRequestError(UnknownRequest)
	}
}

// checkTaskCompletion pushes a fresh snapshot to every follower of taskID.
// A connection that does not follow taskID receives nothing.
func (s *Session) checkTaskCompletion(ctx context.Context, taskID string) error {
	if taskID == "" {
		return newRequestError(TaskIDRequired)
	}
	snapshot, err := s.builder.Snapshot(ctx, taskID)
	if err != nil {
		return err
	}
	return s.dispatcher.Dispatch(ctx, taskID, snapshot)
}

func (s *Session) followTask(taskID string) error {
	if taskID == "" {
		return newRequestError(TaskIDRequired)
	}
	if err := s.registry.Follow(taskID, s.conn); err != nil {
		return fmt.Errorf("failed to follow task %s: %w", taskID, err)
	}
	s.tasks[taskID] = struct{}{}
	return nil
}

func (s *Session) followTasks(taskIDs []string) error {
	if len(taskIDs) == 0 {
		return newRequestError(TaskIDsRequired)
	}
	seen := make(map[string]struct{}, len(taskIDs))
	for _, taskID := range taskIDs {
		if _, dup := seen[taskID]; dup {
			continue
		}
		seen[taskID] = struct{}{}
		if err := s.followTask(taskID); err != nil {
			return err
		}
	}
	s.logger.Debug().Strs("task_ids", taskIDs).Msg("Following tasks")
	return nil
}

func (s *Session) unfollowTask(taskID string) error {
	if taskID == "" {
		return newRequestError(TaskIDRequired)
	}
	if _, ok := s.tasks[taskID]; !ok {
		return &RequestError{Kind: TaskIDInvalid, TaskID: taskID}
	}
	if err := s.registry.Unfollow(taskID, s.conn); err != nil {
		return fmt.Errorf("failed to unfollow task %s: %w", taskID, err)
	}
	delete(s.tasks, taskID)
	return nil
}

// unfollowTasks stops at the first id this session does not follow; ids
// before it stay unfollowed. Repeated ids are handled once.
func (s *Session) unfollowTasks(taskIDs []string) error {
	if len(taskIDs) == 0 {
		return newRequestError(TaskIDsRequired)
	}
	seen := make(map[string]struct{}, len(taskIDs))
	for _, taskID := range taskIDs {
		if _, dup := seen[taskID]; dup {
			continue
		}
		seen[taskID] = struct{}{}
		if err := s.unfollowTask(taskID); err != nil {
			return err
		}
	}
	s.logger.Debug().Strs("task_ids", taskIDs).Msg("Unfollowed tasks")
	return nil
}

// Close drops the connection from every follower set
func (s *Session) Close() {
	dropped := s.registry.DropConnection(s.conn)
	s.tasks = map[string]struct{}{}
	s.logger.Debug().Strs("task_ids", dropped).Msg("Session closed")
}

func (s *Session) reply(payload interface{}) {
	if err := s.conn.Send(payload); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to send reply")
	}
}
