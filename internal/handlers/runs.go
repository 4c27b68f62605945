package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"flow-runner/internal/config"
	"flow-runner/internal/db"
	"flow-runner/internal/flow"
	"flow-runner/internal/log"
	"flow-runner/internal/models"
	"flow-runner/internal/runner"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait      = 10 * time.Second
	wsStartWait      = 30 * time.Second
	wsMaxMessageSize = 64 * 1024
	wsBufferSize     = 1024
)

const (
	streamRunStarted  = "RUN_STARTED"
	streamRunFinished = "RUN_FINISHED"
	streamRunRejected = "RUN_REJECTED"
)

type RunHandler struct {
	flows    FlowStore
	envs     EnvironmentStore
	runs     RunStore
	manager  *runner.Manager
	cfg      *config.Config
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewRunHandler(flows FlowStore, envs EnvironmentStore, runs RunStore, manager *runner.Manager,
	cfg *config.Config) *RunHandler {
	h := &RunHandler{
		flows:   flows,
		envs:    envs,
		runs:    runs,
		manager: manager,
		cfg:     cfg,
		logger:  log.Component("RunHandler"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  wsBufferSize,
		WriteBufferSize: wsBufferSize,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// RunFlowRequest is the optional body of a run call. Request variables
// override those of the environment.
type RunFlowRequest struct {
	Mode          models.ExecutionMode `json:"mode,omitempty"`
	EnvironmentID *int                 `json:"environment_id,omitempty"`
	Variables     map[string]string    `json:"variables,omitempty"`
}

type RunFlowResponse struct {
	Run    *models.RunRecord `json:"run"`
	Events []flow.Event      `json:"events"`
}

// wsClientMessage is sent by websocket clients: "start" (with run options) once, then "stop" at any time.
type wsClientMessage struct {
	Action string `json:"action"`
	RunFlowRequest
}

type requestError struct {
	status  int
	code    string
	message string
}

func (e *requestError) respond(c *gin.Context) {
	c.JSON(e.status, models.ErrorResponse{Error: e.code, Message: e.message})
}

// RunFlow handles POST /flows/:id/run. The run executes within the request;
// with ?stream=true every event is sent as a server-sent event as it happens.
func (h *RunHandler) RunFlow(c *gin.Context) {
	var req RunFlowRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "invalid_request",
				Message: fmt.Sprintf("Invalid request body: %v", err),
			})
			return
		}
	}

	f, err := h.flows.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondStoreError(c, err, "Flow not found", "Failed to fetch flow")
		return
	}

	opts, reqErr := h.runOptions(c.Request.Context(), req)
	if reqErr != nil {
		reqErr.respond(c)
		return
	}

	if c.Query("stream") == "true" {
		h.streamRun(c, f, opts)
		return
	}

	events := []flow.Event{}
	record := h.manager.Run(c.Request.Context(), *f, opts, func(event flow.Event) {
		events = append(events, event)
	})
	c.JSON(http.StatusOK, RunFlowResponse{Run: record, Events: events})
}

func (h *RunHandler) streamRun(c *gin.Context, f *models.Flow, opts runner.RunOptions) {
	opts.RunID = uuid.NewString()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Run-ID", opts.RunID)

	opts.OnStart = func(runID string) {
		c.SSEvent(streamRunStarted, gin.H{"run_id": runID})
		c.Writer.Flush()
	}

	record := h.manager.Run(c.Request.Context(), *f, opts, func(event flow.Event) {
		c.SSEvent(string(event.Type()), event)
		c.Writer.Flush()
	})

	c.SSEvent(streamRunFinished, record)
	c.Writer.Flush()
}

// RunFlowWebSocket handles GET /flows/:id/ws. The client sends a start
// message with the run options, receives every event as a JSON message and
// may send {"action":"stop"} while the run is in progress.
func (h *RunHandler) RunFlowWebSocket(c *gin.Context) {
	f, err := h.flows.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondStoreError(c, err, "Flow not found", "Failed to fetch flow")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxMessageSize)

	var start wsClientMessage
	_ = conn.SetReadDeadline(time.Now().Add(wsStartWait))
	if err := conn.ReadJSON(&start); err != nil || (start.Action != "" && start.Action != "start") {
		h.writeMessage(conn, gin.H{"type": streamRunRejected, "error": "expected a start message"})
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts, reqErr := h.runOptions(ctx, start.RunFlowRequest)
	if reqErr != nil {
		h.writeMessage(conn, gin.H{"type": streamRunRejected, "error": reqErr.message})
		return
	}
	opts.RunID = uuid.NewString()
	opts.OnStart = func(runID string) {
		h.writeMessage(conn, gin.H{"type": streamRunStarted, "run_id": runID})
		go h.readControlMessages(conn, runID, cancel)
	}

	record := h.manager.Run(ctx, *f, opts, func(event flow.Event) {
		if err := h.writeMessage(conn, event); err != nil {
			cancel()
		}
	})
	h.writeMessage(conn, gin.H{"type": streamRunFinished, "run": record})

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
		time.Now().Add(wsWriteWait))
}

// readControlMessages handles stop requests until the connection closes; a
// closed connection cancels the run.
func (h *RunHandler) readControlMessages(conn *websocket.Conn, runID string, cancel context.CancelFunc) {
	defer cancel()
	for {
		var msg wsClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Action == "stop" {
			h.manager.Stop(runID)
		}
	}
}

func (h *RunHandler) writeMessage(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(v)
}

func (h *RunHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(h.cfg.CORSAllowOrigins, origin)
}

// StopRun handles POST /runs/:id/stop
func (h *RunHandler) StopRun(c *gin.Context) {
	if !h.manager.Stop(c.Param("id")) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "not_found",
			Message: "Run is not active",
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"message": "Stop requested",
	})
}

// ActiveRuns handles GET /runs/active
func (h *RunHandler) ActiveRuns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"runs": h.manager.Active()})
}

// GetRun handles GET /runs/:id
func (h *RunHandler) GetRun(c *gin.Context) {
	run, err := h.runs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondStoreError(c, err, "Run not found", "Failed to fetch run")
		return
	}
	c.JSON(http.StatusOK, run)
}

// ListRuns handles GET /flows/:id/runs?limit=n, newest first
func (h *RunHandler) ListRuns(c *gin.Context) {
	limit := h.cfg.RunHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "validation_error",
				Message: "limit must be a positive integer",
			})
			return
		}
		limit = min(n, h.cfg.RunHistoryLimit)
	}

	runs, err := h.runs.ListByFlow(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		respondStoreError(c, err, "Flow not found", "Failed to fetch runs")
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (h *RunHandler) runOptions(ctx context.Context, req RunFlowRequest) (runner.RunOptions, *requestError) {
	opts := runner.RunOptions{Variables: map[string]string{}}

	switch req.Mode {
	case "":
		opts.Mode = models.ModeAuthenticated
	case models.ModeAuthenticated, models.ModeDemo:
		opts.Mode = req.Mode
	default:
		return opts, &requestError{http.StatusBadRequest, "validation_error",
			fmt.Sprintf("unknown mode %q (allowed: authenticated, demo)", req.Mode)}
	}

	if req.EnvironmentID != nil {
		env, err := h.envs.Get(ctx, *req.EnvironmentID)
		if errors.Is(err, db.ErrNotFound) {
			return opts, &requestError{http.StatusBadRequest, "validation_error", "Environment not found"}
		}
		if err != nil {
			return opts, &requestError{http.StatusInternalServerError, "database_error", "Failed to fetch environment"}
		}
		for k, v := range env.Variables {
			opts.Variables[k] = v
		}
	}
	for k, v := range req.Variables {
		opts.Variables[k] = v
	}
	return opts, nil
}
