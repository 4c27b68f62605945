package flow

import (
	"sync"

	"flow-runner/internal/models"
)

// Results folds a run's event stream into per-block outcomes, keeping block
// definitions untouched.
type Results struct {
	mu         sync.Mutex
	blocks     map[string]*models.BlockResult
	stopReason string
}

func NewResults() *Results {
	return &Results{blocks: make(map[string]*models.BlockResult)}
}

// Apply records the effect of one event. It can be used directly as an observer.
func (r *Results) Apply(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev := event.(type) {
	case BlockStart:
		r.blocks[ev.BlockID] = &models.BlockResult{BlockID: ev.BlockID, IsExecuting: true}
	case BlockEnd:
		result := r.result(ev.BlockID)
		result.IsExecuting = false
		duration := ev.DurationMs
		result.DurationMs = &duration
		if ev.Response != nil {
			status := ev.Response.Status
			body := ev.Response.Body
			result.Status = &status
			result.ResponseData = &body
			if ev.Response.Error != nil {
				message := ev.Response.Error.Message
				result.Error = &message
			}
		}
	case BlockError:
		result := r.result(ev.BlockID)
		result.IsExecuting = false
		message := ev.Error
		result.Error = &message
	case FlowStopped:
		r.stopReason = ev.Reason
	case FlowEnd:
		for _, result := range r.blocks {
			result.IsExecuting = false
		}
	}
}

// Get returns a copy of the result for a block, if the block has started.
func (r *Results) Get(blockID string) (models.BlockResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result, ok := r.blocks[blockID]
	if !ok {
		return models.BlockResult{}, false
	}
	return *result, true
}

// Snapshot returns the results of started blocks in the flow's execution order.
func (r *Results) Snapshot(blocks []models.Block) []models.BlockResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	ordered := sortedBlocks(blocks)

	out := make([]models.BlockResult, 0, len(r.blocks))
	for _, block := range ordered {
		if result, ok := r.blocks[block.ID]; ok {
			out = append(out, *result)
		}
	}
	return out
}

// StopReason returns the reason of the FLOW_STOPPED event, if one was seen.
func (r *Results) StopReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopReason
}

func (r *Results) result(blockID string) *models.BlockResult {
	result, ok := r.blocks[blockID]
	if !ok {
		result = &models.BlockResult{BlockID: blockID}
		r.blocks[blockID] = result
	}
	return result
}
