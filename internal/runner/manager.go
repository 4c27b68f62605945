// Package runner tracks flow runs in progress so they can be stopped from
// another request, and records each finished run.
package runner

import (
	"context"
	"slices"
	"sync"
	"time"

	"flow-runner/internal/flow"
	"flow-runner/internal/log"
	"flow-runner/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const persistTimeout = 5 * time.Second

// RunStore persists finished runs.
type RunStore interface {
	Save(ctx context.Context, run *models.RunRecord) error
}

// RunOptions configures one run.
type RunOptions struct {
	// RunID is generated when empty.
	RunID     string
	Mode      models.ExecutionMode
	Variables map[string]string
	// OnStart is called once the run can be stopped by id, before the first event.
	OnStart func(runID string)
}

type activeRun struct {
	executor *flow.Executor
	stopped  bool
}

type Manager struct {
	service     flow.RequestService
	store       RunStore
	fallbackURL string
	logger      *zap.Logger

	mu     sync.Mutex
	active map[string]*activeRun
}

// NewManager creates a manager. store may be nil, in which case runs are not persisted.
func NewManager(service flow.RequestService, store RunStore, fallbackURL string) *Manager {
	return &Manager{
		service:     service,
		store:       store,
		fallbackURL: fallbackURL,
		logger:      log.Component("RunManager"),
		active:      make(map[string]*activeRun),
	}
}

// Run executes the flow and blocks until it finishes. Every event is passed
// to observer (if not nil) in emission order.
func (m *Manager) Run(ctx context.Context, f models.Flow, opts RunOptions,
	observer func(flow.Event)) *models.RunRecord {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	mode := opts.Mode
	if mode == "" {
		mode = models.ModeAuthenticated
	}
	logger := m.logger.With(zap.String("runID", runID), zap.String("flowID", f.ID))

	results := flow.NewResults()
	run := &activeRun{}
	run.executor = flow.NewExecutor(m.service,
		flow.WithFallbackURL(m.fallbackURL),
		flow.WithLogger(logger),
		flow.WithObserver(func(event flow.Event) {
			// a stop that arrived before the executor started is applied here
			if _, ok := event.(flow.FlowStart); ok && m.stopRequested(run) {
				run.executor.Stop()
			}
			results.Apply(event)
			if observer != nil {
				observer(event)
			}
		}),
	)

	m.register(runID, run)
	defer m.unregister(runID)
	if opts.OnStart != nil {
		opts.OnStart(runID)
	}

	logger.Info("Starting flow run", zap.String("mode", string(mode)), zap.Int("blocks", len(f.Blocks)))
	startedAt := time.Now().UTC()
	summary := run.executor.ExecuteWithVariables(ctx, f, mode, opts.Variables)

	record := &models.RunRecord{
		ID:         runID,
		FlowID:     f.ID,
		FlowName:   f.Name,
		Mode:       mode,
		Status:     m.status(ctx, runID, summary),
		StopReason: results.StopReason(),
		Summary:    summary,
		Results:    results.Snapshot(f.Blocks),
		StartedAt:  startedAt,
		FinishedAt: time.Now().UTC(),
	}
	logger.Info("Flow run finished", zap.String("status", record.Status),
		zap.Int("executed", summary.ExecutedBlocks), zap.Int64("durationMs", summary.TotalDurationMs))

	m.persist(ctx, record, logger)
	return record
}

// Stop asks an active run to stop before its next block. It returns false
// when no run with that id is active.
func (m *Manager) Stop(runID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.active[runID]
	if !ok {
		return false
	}
	run.stopped = true
	run.executor.Stop()
	return true
}

// Active returns the ids of runs in progress, sorted.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (m *Manager) register(runID string, run *activeRun) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[runID] = run
}

func (m *Manager) stopRequested(run *activeRun) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return run.stopped
}

func (m *Manager) unregister(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, runID)
}

func (m *Manager) status(ctx context.Context, runID string, summary models.ExecutionSummary) string {
	if summary.Success {
		return models.RunStatusCompleted
	}

	// a failing block ends the run even when a stop arrived while it was in flight
	if summary.FailedBlocks > 0 && ctx.Err() == nil {
		return models.RunStatusFailed
	}

	m.mu.Lock()
	stopped := m.active[runID] != nil && m.active[runID].stopped
	m.mu.Unlock()

	if stopped || ctx.Err() != nil {
		return models.RunStatusStopped
	}
	return models.RunStatusFailed
}

func (m *Manager) persist(ctx context.Context, record *models.RunRecord, logger *zap.Logger) {
	if m.store == nil {
		return
	}
	// the run is recorded even when the caller has gone away
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := m.store.Save(saveCtx, record); err != nil {
		logger.Error("Failed to save run", zap.Error(err))
	}
}
