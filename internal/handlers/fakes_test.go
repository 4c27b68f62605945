package handlers

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"flow-runner/internal/db"
	"flow-runner/internal/models"
)

type memFlowStore struct {
	mu    sync.Mutex
	seq   int
	flows map[string]models.Flow
}

func newMemFlowStore() *memFlowStore {
	return &memFlowStore{flows: map[string]models.Flow{}}
}

func (s *memFlowStore) Create(_ context.Context, flow *models.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if flow.ID == "" {
		s.seq++
		flow.ID = fmt.Sprintf("flow-%d", s.seq)
	}
	s.flows[flow.ID] = cloneFlow(*flow)
	return nil
}

func (s *memFlowStore) List(_ context.Context) ([]models.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flows := []models.Flow{}
	for _, f := range s.flows {
		flows = append(flows, cloneFlow(f))
	}
	slices.SortFunc(flows, func(a, b models.Flow) int { return strings.Compare(a.ID, b.ID) })
	return flows, nil
}

func (s *memFlowStore) Get(_ context.Context, id string) (*models.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	out := cloneFlow(f)
	return &out, nil
}

func (s *memFlowStore) Update(_ context.Context, flow *models.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flows[flow.ID]; !ok {
		return db.ErrNotFound
	}
	s.flows[flow.ID] = cloneFlow(*flow)
	return nil
}

func (s *memFlowStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flows[id]; !ok {
		return db.ErrNotFound
	}
	delete(s.flows, id)
	return nil
}

func cloneFlow(f models.Flow) models.Flow {
	f.Blocks = slices.Clone(f.Blocks)
	return f
}

type memEnvironmentStore struct {
	mu   sync.Mutex
	seq  int
	envs map[int]models.Environment
	err  error
}

func newMemEnvironmentStore() *memEnvironmentStore {
	return &memEnvironmentStore{envs: map[int]models.Environment{}}
}

func (s *memEnvironmentStore) Create(_ context.Context, env *models.Environment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.seq++
	env.ID = s.seq
	if env.Variables == nil {
		env.Variables = map[string]string{}
	}
	s.envs[env.ID] = *env
	return nil
}

func (s *memEnvironmentStore) List(_ context.Context) ([]models.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	envs := []models.Environment{}
	for _, env := range s.envs {
		envs = append(envs, env)
	}
	slices.SortFunc(envs, func(a, b models.Environment) int { return strings.Compare(a.Name, b.Name) })
	return envs, nil
}

func (s *memEnvironmentStore) Get(_ context.Context, id int) (*models.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, ok := s.envs[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &env, nil
}

func (s *memEnvironmentStore) Update(_ context.Context, id int, update db.EnvironmentUpdate) (*models.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, ok := s.envs[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	if update.Name != nil {
		env.Name = *update.Name
	}
	if update.Description != nil {
		env.Description = *update.Description
	}
	if update.CreatedBy != nil {
		env.CreatedBy = *update.CreatedBy
	}
	if update.Variables != nil {
		env.Variables = *update.Variables
	}
	s.envs[id] = env
	return &env, nil
}

func (s *memEnvironmentStore) MergeVariables(ctx context.Context, id int,
	variables map[string]string) (*models.Environment, error) {
	env, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	merged := map[string]string{}
	for k, v := range env.Variables {
		merged[k] = v
	}
	for k, v := range variables {
		merged[k] = v
	}
	return s.Update(ctx, id, db.EnvironmentUpdate{Variables: &merged})
}

func (s *memEnvironmentStore) Delete(_ context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.envs[id]; !ok {
		return db.ErrNotFound
	}
	delete(s.envs, id)
	return nil
}

type memRunStore struct {
	mu   sync.Mutex
	runs []models.RunRecord
}

func (s *memRunStore) Save(_ context.Context, run *models.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, *run)
	return nil
}

func (s *memRunStore) Get(_ context.Context, id string) (*models.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, run := range s.runs {
		if run.ID == id {
			return &run, nil
		}
	}
	return nil, db.ErrNotFound
}

func (s *memRunStore) ListByFlow(_ context.Context, flowID string, limit int) ([]models.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	runs := []models.RunRecord{}
	for i := len(s.runs) - 1; i >= 0 && len(runs) < limit; i-- {
		if s.runs[i].FlowID == flowID {
			runs = append(runs, s.runs[i])
		}
	}
	return runs, nil
}

// stubService answers 500 for URLs containing "fail", a Go error for URLs
// containing "unreachable" and 200 with a small JSON body otherwise. When
// gate is set every call waits for a value on it.
type stubService struct {
	mu       sync.Mutex
	requests []models.ExecutionRequest
	modes    []models.ExecutionMode
	gate     chan struct{}
}

func (s *stubService) Execute(ctx context.Context, req models.ExecutionRequest,
	mode models.ExecutionMode) (*models.ExecutionResponse, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.modes = append(s.modes, mode)
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	switch {
	case strings.Contains(req.URL, "unreachable"):
		return nil, errors.New("demo usage store offline")
	case strings.Contains(req.URL, "fail"):
		return &models.ExecutionResponse{Status: 500, Headers: map[string]string{}, Body: `{"error":"boom"}`}, nil
	}
	return &models.ExecutionResponse{
		Status:     200,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       `{"token":"t-1","id":42}`,
		DurationMs: 3,
	}, nil
}

func (s *stubService) urls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var urls []string
	for _, req := range s.requests {
		urls = append(urls, req.URL)
	}
	return urls
}
