package handlers

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"flow-runner/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runResponse struct {
	Run    models.RunRecord `json:"run"`
	Events []map[string]any `json:"events"`
}

func eventTypes(events []map[string]any) []string {
	types := make([]string, 0, len(events))
	for _, event := range events {
		types = append(types, event["type"].(string))
	}
	return types
}

func (suite *HandlersTestSuite) loginFlow() models.Flow {
	return suite.createFlow("Login then profile",
		models.Block{
			ID: "login", Name: "Login", Method: "POST", URL: "{{base_url}}/login", Order: 0,
			Extract: []models.ExtractionRule{{Enabled: true, JSONPath: "token", VariableName: "token"}},
		},
		models.Block{
			ID: "profile", Name: "Profile", Method: "GET", URL: "{{base_url}}/me?t={{token}}", Order: 1,
		},
	)
}

func (suite *HandlersTestSuite) TestRunFlow() {
	flow := suite.loginFlow()
	env := &models.Environment{Name: "staging", Variables: map[string]string{
		"base_url": "https://staging.example",
		"region":   "eu",
	}}
	require.NoError(suite.T(), suite.envs.Create(suite.T().Context(), env))

	w := suite.do(http.MethodPost, "/api/v1/flows/"+flow.ID+"/run", map[string]any{
		"environment_id": env.ID,
		"variables":      map[string]string{"base_url": "https://override.example"},
	})
	require.Equal(suite.T(), http.StatusOK, w.Code, w.Body.String())

	var resp runResponse
	suite.decode(w, &resp)
	assert.Equal(suite.T(), []string{"FLOW_START", "BLOCK_START", "BLOCK_END", "BLOCK_START", "BLOCK_END", "FLOW_END"},
		eventTypes(resp.Events))
	assert.Equal(suite.T(), models.RunStatusCompleted, resp.Run.Status)
	assert.True(suite.T(), resp.Run.Summary.Success)
	assert.Equal(suite.T(), models.ModeAuthenticated, resp.Run.Mode)
	assert.Equal(suite.T(), []string{
		"https://override.example/login",
		"https://override.example/me?t=t-1",
	}, suite.service.urls())

	w = suite.do(http.MethodGet, "/api/v1/runs/"+resp.Run.ID, nil)
	require.Equal(suite.T(), http.StatusOK, w.Code)
	var stored models.RunRecord
	suite.decode(w, &stored)
	assert.Equal(suite.T(), flow.ID, stored.FlowID)
	assert.Len(suite.T(), stored.Results, 2)
}

func (suite *HandlersTestSuite) TestRunFlowWithoutBody() {
	flow := suite.createFlow("Fallback",
		models.Block{ID: "a", Name: "A", Method: "GET"},
	)

	w := suite.do(http.MethodPost, "/api/v1/flows/"+flow.ID+"/run", nil)
	require.Equal(suite.T(), http.StatusOK, w.Code, w.Body.String())
	assert.Equal(suite.T(), []string{"https://fallback.example/posts/1"}, suite.service.urls())
}

func (suite *HandlersTestSuite) TestRunFlowStopsOnFailure() {
	flow := suite.createFlow("Broken",
		models.Block{ID: "a", Name: "Checkout", Method: "POST", URL: "https://api.example/fail", Order: 0},
		models.Block{ID: "b", Name: "Receipt", Method: "GET", URL: "https://api.example/receipt", Order: 1},
	)

	w := suite.do(http.MethodPost, "/api/v1/flows/"+flow.ID+"/run", map[string]any{"mode": "demo"})
	require.Equal(suite.T(), http.StatusOK, w.Code)

	var resp runResponse
	suite.decode(w, &resp)
	assert.Equal(suite.T(), []string{"FLOW_START", "BLOCK_START", "BLOCK_END", "FLOW_STOPPED", "FLOW_END"},
		eventTypes(resp.Events))
	assert.Equal(suite.T(), "Block Checkout failed with status 500", resp.Events[3]["reason"])
	assert.Equal(suite.T(), models.RunStatusFailed, resp.Run.Status)
	assert.Equal(suite.T(), models.ModeDemo, resp.Run.Mode)
	assert.Len(suite.T(), suite.service.urls(), 1)
}

func (suite *HandlersTestSuite) TestRunFlowRejected() {
	flow := suite.loginFlow()

	tests := []struct {
		name string
		path string
		body any
		code int
	}{
		{"Unknown flow", "/api/v1/flows/missing/run", nil, http.StatusNotFound},
		{"Unknown mode", "/api/v1/flows/" + flow.ID + "/run", map[string]any{"mode": "root"}, http.StatusBadRequest},
		{"Unknown environment", "/api/v1/flows/" + flow.ID + "/run", map[string]any{"environment_id": 99},
			http.StatusBadRequest},
		{"Malformed body", "/api/v1/flows/" + flow.ID + "/run", `{"mode":`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			w := suite.do(http.MethodPost, tt.path, tt.body)
			assert.Equal(suite.T(), tt.code, w.Code, w.Body.String())
		})
	}
	assert.Empty(suite.T(), suite.service.urls())
}

func (suite *HandlersTestSuite) TestRunFlowStream() {
	flow := suite.loginFlow()

	w := suite.do(http.MethodPost, "/api/v1/flows/"+flow.ID+"/run?stream=true",
		map[string]any{"variables": map[string]string{"base_url": "https://api.example"}})
	require.Equal(suite.T(), http.StatusOK, w.Code)
	assert.Contains(suite.T(), w.Header().Get("Content-Type"), "text/event-stream")
	runID := w.Header().Get("X-Run-ID")
	require.NotEmpty(suite.T(), runID)

	var names []string
	scanner := bufio.NewScanner(strings.NewReader(w.Body.String()))
	for scanner.Scan() {
		if name, ok := strings.CutPrefix(scanner.Text(), "event:"); ok {
			names = append(names, name)
		}
	}
	assert.Equal(suite.T(), []string{
		"RUN_STARTED", "FLOW_START", "BLOCK_START", "BLOCK_END", "BLOCK_START", "BLOCK_END", "FLOW_END", "RUN_FINISHED",
	}, names)

	_, err := suite.runs.Get(suite.T().Context(), runID)
	assert.NoError(suite.T(), err)
}

// stopOnAnnounce requests a stop through the API the moment the run id is
// first flushed to the client.
type stopOnAnnounce struct {
	*httptest.ResponseRecorder
	suite  *HandlersTestSuite
	status int
}

func (w *stopOnAnnounce) Flush() {
	w.ResponseRecorder.Flush()
	if w.status == 0 {
		w.status = w.suite.do(http.MethodPost, "/api/v1/runs/"+w.Header().Get("X-Run-ID")+"/stop", nil).Code
	}
}

func (suite *HandlersTestSuite) TestRunFlowStreamStoppedOnStart() {
	flow := suite.loginFlow()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/flows/"+flow.ID+"/run?stream=true", nil)
	w := &stopOnAnnounce{ResponseRecorder: httptest.NewRecorder(), suite: suite}
	suite.router.ServeHTTP(w, req)

	require.Equal(suite.T(), http.StatusOK, w.Code)
	assert.Equal(suite.T(), http.StatusAccepted, w.status)

	var names []string
	scanner := bufio.NewScanner(strings.NewReader(w.Body.String()))
	for scanner.Scan() {
		if name, ok := strings.CutPrefix(scanner.Text(), "event:"); ok {
			names = append(names, name)
		}
	}
	assert.Equal(suite.T(), []string{"RUN_STARTED", "FLOW_START", "FLOW_STOPPED", "FLOW_END", "RUN_FINISHED"}, names)
	assert.Contains(suite.T(), w.Body.String(), `"reason":"User requested stop"`)
	assert.Contains(suite.T(), w.Body.String(), `"status":"stopped"`)
	assert.Empty(suite.T(), suite.service.urls())
}

func (suite *HandlersTestSuite) TestListRuns() {
	flow := suite.createFlow("Ping", models.Block{ID: "a", Name: "A", Method: "GET", URL: "https://api.example"})
	for range 3 {
		w := suite.do(http.MethodPost, "/api/v1/flows/"+flow.ID+"/run", nil)
		require.Equal(suite.T(), http.StatusOK, w.Code)
	}

	w := suite.do(http.MethodGet, "/api/v1/flows/"+flow.ID+"/runs", nil)
	require.Equal(suite.T(), http.StatusOK, w.Code)
	var runs []models.RunRecord
	suite.decode(w, &runs)
	assert.Len(suite.T(), runs, 2)

	w = suite.do(http.MethodGet, "/api/v1/flows/"+flow.ID+"/runs?limit=1", nil)
	require.Equal(suite.T(), http.StatusOK, w.Code)
	suite.decode(w, &runs)
	assert.Len(suite.T(), runs, 1)

	w = suite.do(http.MethodGet, "/api/v1/flows/"+flow.ID+"/runs?limit=zero", nil)
	assert.Equal(suite.T(), http.StatusBadRequest, w.Code)

	w = suite.do(http.MethodGet, "/api/v1/runs/unknown", nil)
	assert.Equal(suite.T(), http.StatusNotFound, w.Code)
}

func (suite *HandlersTestSuite) TestStopUnknownRun() {
	w := suite.do(http.MethodPost, "/api/v1/runs/unknown/stop", nil)
	assert.Equal(suite.T(), http.StatusNotFound, w.Code)

	w = suite.do(http.MethodGet, "/api/v1/runs/active", nil)
	require.Equal(suite.T(), http.StatusOK, w.Code)
	assert.JSONEq(suite.T(), `{"runs":[]}`, w.Body.String())
}

func (suite *HandlersTestSuite) dialRun(server *httptest.Server, flowID string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/flows/" + flowID + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(suite.T(), err)
	resp.Body.Close()
	suite.T().Cleanup(func() { conn.Close() })
	return conn
}

func (suite *HandlersTestSuite) readMessage(conn *websocket.Conn) map[string]any {
	require.NoError(suite.T(), conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg map[string]any
	require.NoError(suite.T(), conn.ReadJSON(&msg))
	return msg
}

func (suite *HandlersTestSuite) readUntilFinished(conn *websocket.Conn) []map[string]any {
	var messages []map[string]any
	for {
		msg := suite.readMessage(conn)
		messages = append(messages, msg)
		if msg["type"] == streamRunFinished || msg["type"] == streamRunRejected {
			return messages
		}
	}
}

func (suite *HandlersTestSuite) TestRunFlowWebSocket() {
	flow := suite.loginFlow()
	server := httptest.NewServer(suite.router)
	defer server.Close()

	conn := suite.dialRun(server, flow.ID)
	require.NoError(suite.T(), conn.WriteJSON(map[string]any{
		"action":    "start",
		"variables": map[string]string{"base_url": "https://api.example"},
	}))

	messages := suite.readUntilFinished(conn)
	assert.Equal(suite.T(), []string{
		"RUN_STARTED", "FLOW_START", "BLOCK_START", "BLOCK_END", "BLOCK_START", "BLOCK_END", "FLOW_END", "RUN_FINISHED",
	}, eventTypes(messages))

	run := messages[len(messages)-1]["run"].(map[string]any)
	assert.Equal(suite.T(), models.RunStatusCompleted, run["status"])
	assert.Equal(suite.T(), messages[0]["run_id"], run["id"])
}

func (suite *HandlersTestSuite) TestRunFlowWebSocketStoppedFromAPI() {
	flow := suite.loginFlow()
	gate := make(chan struct{})
	suite.service.gate = gate
	server := httptest.NewServer(suite.router)
	defer server.Close()

	conn := suite.dialRun(server, flow.ID)
	require.NoError(suite.T(), conn.WriteJSON(map[string]any{"action": "start"}))

	started := suite.readMessage(conn)
	require.Equal(suite.T(), streamRunStarted, started["type"])
	runID := started["run_id"].(string)
	assert.Equal(suite.T(), "FLOW_START", suite.readMessage(conn)["type"])
	assert.Equal(suite.T(), "BLOCK_START", suite.readMessage(conn)["type"])

	w := suite.do(http.MethodGet, "/api/v1/runs/active", nil)
	assert.JSONEq(suite.T(), `{"runs":["`+runID+`"]}`, w.Body.String())

	w = suite.do(http.MethodPost, "/api/v1/runs/"+runID+"/stop", nil)
	require.Equal(suite.T(), http.StatusAccepted, w.Code)
	close(gate)

	messages := suite.readUntilFinished(conn)
	assert.Equal(suite.T(), []string{"BLOCK_END", "FLOW_STOPPED", "FLOW_END", "RUN_FINISHED"}, eventTypes(messages))
	assert.Equal(suite.T(), "User requested stop", messages[1]["reason"])

	run := messages[3]["run"].(map[string]any)
	assert.Equal(suite.T(), models.RunStatusStopped, run["status"])
	assert.Len(suite.T(), suite.service.urls(), 1)
}

func (suite *HandlersTestSuite) TestRunFlowWebSocketRejectsBadStart() {
	flow := suite.loginFlow()
	server := httptest.NewServer(suite.router)
	defer server.Close()

	conn := suite.dialRun(server, flow.ID)
	require.NoError(suite.T(), conn.WriteJSON(map[string]any{"action": "stop"}))
	msg := suite.readMessage(conn)
	assert.Equal(suite.T(), streamRunRejected, msg["type"])

	conn = suite.dialRun(server, flow.ID)
	require.NoError(suite.T(), conn.WriteJSON(map[string]any{"action": "start", "mode": "nope"}))
	msg = suite.readMessage(conn)
	assert.Equal(suite.T(), streamRunRejected, msg["type"])
	assert.Empty(suite.T(), suite.service.urls())
}

func (suite *HandlersTestSuite) TestRunFlowWebSocketOrigin() {
	flow := suite.loginFlow()
	server := httptest.NewServer(suite.router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/flows/" + flow.ID + "/ws"
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(suite.T(), err)
	require.NotNil(suite.T(), resp)
	resp.Body.Close()
	assert.Equal(suite.T(), http.StatusForbidden, resp.StatusCode)
}
