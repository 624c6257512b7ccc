package handlers

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskwatch/internal/broadcast"
	"github.com/ternarybob/taskwatch/internal/common"
	"github.com/ternarybob/taskwatch/internal/progress"
	"github.com/ternarybob/taskwatch/internal/registry"
)

// writeWait bounds a single write so one stalled follower cannot hold up a dispatch
const writeWait = 10 * time.Second

// TaskProgressPrefix is the route prefix of single-task WebSockets
const TaskProgressPrefix = "/ws/progress/"

// wsConn is a registry follower backed by a WebSocket. Writes are serialized
// because gorilla connections support one concurrent writer.
type wsConn struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) ID() string {
	return c.id
}

func (c *wsConn) Send(payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(payload)
}

// WebSocketHandler serves the progress WebSocket endpoints
type WebSocketHandler struct {
	logger     arbor.ILogger
	registry   *registry.Registry
	builder    *progress.Builder
	dispatcher *broadcast.Dispatcher
	upgrader   websocket.Upgrader
}

func NewWebSocketHandler(reg *registry.Registry, builder *progress.Builder, dispatcher *broadcast.Dispatcher, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:     logger,
		registry:   reg,
		builder:    builder,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
	}
	if config != nil {
		if config.ReadBufferSize > 0 {
			h.upgrader.ReadBufferSize = config.ReadBufferSize
		}
		if config.WriteBufferSize > 0 {
			h.upgrader.WriteBufferSize = config.WriteBufferSize
		}
	}
	return h
}

// HandleProgress serves the multi-task WebSocket. Clients follow and unfollow
// tasks with requests and receive snapshots of every task they follow.
func (h *WebSocketHandler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := &wsConn{id: common.NewConnectionID(), conn: conn}
	logger := h.logger.WithCorrelationId(client.id)
	session := NewSession(client, h.registry, h.builder, h.dispatcher, logger)

	logger.Info().Str("remote", r.RemoteAddr).Msg("Progress client connected")
	h.serve(r, client, session, logger)
}

// HandleTaskProgress serves /ws/progress/{task_id}. The connection follows
// that task for its lifetime and only accepts check_task_completion.
func (h *WebSocketHandler) HandleTaskProgress(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimPrefix(r.URL.Path, TaskProgressPrefix)
	if taskID == "" || strings.Contains(taskID, "/") {
		http.Error(w, "task_id is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Str("task_id", taskID).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := &wsConn{id: common.NewConnectionID(), conn: conn}
	logger := h.logger.WithCorrelationId(client.id)
	session, err := NewTaskSession(taskID, client, h.registry, h.builder, h.dispatcher, logger)
	if err != nil {
		logger.Error().Err(err).Str("task_id", taskID).Msg("Failed to open task session")
		conn.Close()
		return
	}

	logger.Info().Str("task_id", taskID).Str("remote", r.RemoteAddr).Msg("Task progress client connected")
	h.serve(r, client, session, logger)
}

// serve reads requests until the client goes away, then tears the session down
func (h *WebSocketHandler) serve(r *http.Request, client *wsConn, session *Session, logger arbor.ILogger) {
	defer func() {
		session.Close()
		client.conn.Close()
		logger.Info().Msg("Progress client disconnected")
	}()

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
		session.Handle(r.Context(), data)
	}
}
