package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskwatch/internal/app"
	"github.com/ternarybob/taskwatch/internal/common"
)

func newTestServer(t *testing.T) (*app.App, *httptest.Server) {
	t.Helper()
	config := common.NewDefaultConfig()
	config.Storage.Badger.InMemory = true
	config.WebSocket.ProgressThrottle = "0"
	require.NoError(t, config.Validate())

	application, err := app.New(config, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { application.Close() })

	httpServer := httptest.NewServer(New(application).Handler())
	t.Cleanup(httpServer.Close)
	return application, httpServer
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServer_ProducerPushesToFollower(t *testing.T) {
	_, httpServer := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws/progress"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "follow_task", "task_id": "report-1"}))
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "check_task_completion", "task_id": "report-1"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var pending map[string]interface{}
	require.NoError(t, conn.ReadJSON(&pending))
	assert.Equal(t, false, pending["complete"])

	resp := postJSON(t, httpServer.URL+"/api/tasks/report-1/progress", `{"current":1,"total":4,"description":"pages"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var pushed map[string]interface{}
	require.NoError(t, conn.ReadJSON(&pushed))
	assert.Equal(t, "report-1", pushed["task_id"])
	assert.Equal(t, 25.0, pushed["progress"].(map[string]interface{})["percent"])

	resp = postJSON(t, httpServer.URL+"/api/tasks/report-1/result", `{"result":"ok"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var finished map[string]interface{}
	require.NoError(t, conn.ReadJSON(&finished))
	assert.Equal(t, true, finished["complete"])
	assert.Equal(t, true, finished["success"])
	assert.Equal(t, "ok", finished["result"])
}

func TestServer_StatusEndpoints(t *testing.T) {
	_, httpServer := newTestServer(t)

	resp, err := http.Get(httpServer.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(httpServer.URL + "/api/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Contains(t, stats, "registry")
	assert.Contains(t, stats, "dispatcher")

	resp, err = http.Get(httpServer.URL + "/api/scheduler/jobs/result_expiry")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(httpServer.URL + "/api/nothing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = postJSON(t, httpServer.URL+"/api/scheduler/jobs", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_CORSPreflight(t *testing.T) {
	_, httpServer := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, httpServer.URL+"/api/tasks/t1/progress", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
