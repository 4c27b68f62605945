// Package flow runs the blocks of a flow one after another, stopping on the
// first failure and reporting every lifecycle transition to an observer.
package flow

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"flow-runner/internal/config"
	"flow-runner/internal/log"
	"flow-runner/internal/models"

	"go.uber.org/zap"
)

const (
	ReasonUserStop   = "User requested stop"
	unknownErrorText = "Unknown error"
)

// RequestService performs the network call for a resolved request. A
// returned error means the call itself failed; a response carrying Error
// is a structured transport failure.
type RequestService interface {
	Execute(ctx context.Context, req models.ExecutionRequest, mode models.ExecutionMode) (*models.ExecutionResponse, error)
}

type Option func(*Executor)

// WithObserver registers the callback that receives every event, synchronously and in order.
func WithObserver(fn func(Event)) Option {
	return func(e *Executor) {
		e.onEvent = fn
	}
}

// WithFallbackURL sets the endpoint used for blocks without a URL.
func WithFallbackURL(u string) Option {
	return func(e *Executor) {
		if u != "" {
			e.fallbackURL = u
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Executor runs flows sequentially. One Execute call at a time per instance.
type Executor struct {
	service     RequestService
	onEvent     func(Event)
	fallbackURL string
	logger      *zap.Logger
	running     atomic.Bool
}

func NewExecutor(service RequestService, opts ...Option) *Executor {
	e := &Executor{
		service:     service,
		fallbackURL: config.DefaultFallbackURL,
		logger:      log.Component("FlowExecutor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the flow without run variables.
func (e *Executor) Execute(ctx context.Context, f models.Flow, mode models.ExecutionMode) models.ExecutionSummary {
	return e.ExecuteWithVariables(ctx, f, mode, nil)
}

// ExecuteWithVariables runs the flow's blocks in ascending order. Variables
// seed {{name}} substitution and are extended by each block's extraction
// rules. It always returns a summary; failures are reported as events.
func (e *Executor) ExecuteWithVariables(ctx context.Context, f models.Flow, mode models.ExecutionMode,
	variables map[string]string) models.ExecutionSummary {
	logger := e.logger.With(zap.String("flowID", f.ID), zap.String("mode", string(mode)))

	startTime := time.Now()
	e.running.Store(true)
	e.emit(FlowStart{})

	summary := models.ExecutionSummary{
		TotalBlocks: len(f.Blocks),
		Success:     true,
	}

	blocks := sortedBlocks(f.Blocks)
	vars := mergeVariables(nil, variables)

	for _, block := range blocks {
		if !e.running.Load() {
			logger.Debug("Run stopped by user before block", zap.String("blockID", block.ID))
			e.emit(FlowStopped{Reason: ReasonUserStop})
			summary.Success = false
			break
		}
		if err := ctx.Err(); err != nil {
			logger.Debug("Run context done before block", zap.String("blockID", block.ID), zap.Error(err))
			e.emit(FlowStopped{Reason: fmt.Sprintf("Run cancelled: %v", err)})
			summary.Success = false
			break
		}

		e.emit(BlockStart{BlockID: block.ID})
		summary.ExecutedBlocks++

		resp, err := e.executeBlock(ctx, block, mode, vars)
		if err != nil {
			message := err.Error()
			if message == "" {
				message = unknownErrorText
			}
			logger.Warn("Block execution failed", zap.String("blockID", block.ID), zap.String("error", message))
			summary.FailedBlocks++
			summary.Success = false
			e.emit(BlockError{BlockID: block.ID, Error: message})
			break
		}

		e.emit(BlockEnd{BlockID: block.ID, Response: resp, DurationMs: resp.DurationMs})

		if resp.Failed() {
			logger.Info("Block returned a failing response", zap.String("blockID", block.ID),
				zap.Int("status", resp.Status))
			summary.FailedBlocks++
			summary.Success = false
			e.emit(FlowStopped{Reason: fmt.Sprintf("Block %s failed with status %d", block.Name, resp.Status)})
			break
		}

		if extracted := Extract(resp.Body, block.Extract); len(extracted) > 0 {
			vars = mergeVariables(vars, extracted)
		}
	}

	e.running.Store(false)
	summary.TotalDurationMs = time.Since(startTime).Milliseconds()
	logger.Debug("Flow run finished", zap.Int("executed", summary.ExecutedBlocks),
		zap.Int("failed", summary.FailedBlocks), zap.Bool("success", summary.Success))
	e.emit(FlowEnd{Summary: summary})
	return summary
}

// Stop prevents the next block from starting. An in-flight call is not interrupted.
func (e *Executor) Stop() {
	e.running.Store(false)
}

func (e *Executor) executeBlock(ctx context.Context, block models.Block, mode models.ExecutionMode,
	vars map[string]string) (*models.ExecutionResponse, error) {
	req := BuildRequest(Substitute(block, vars), e.fallbackURL)
	resp, err := e.service.Execute(ctx, req, mode)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("request service returned no response")
	}
	return resp, nil
}

// sortedBlocks returns a copy of blocks in ascending order, keeping the
// definition order for equal values.
func sortedBlocks(blocks []models.Block) []models.Block {
	ordered := slices.Clone(blocks)
	slices.SortStableFunc(ordered, func(a, b models.Block) int {
		return cmp.Compare(a.Order, b.Order)
	})
	return ordered
}

func (e *Executor) emit(event Event) {
	if e.onEvent != nil {
		e.onEvent(event)
	}
}
