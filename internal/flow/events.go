package flow

import (
	"encoding/json"

	"flow-runner/internal/models"
)

type EventType string

const (
	EventFlowStart   EventType = "FLOW_START"
	EventBlockStart  EventType = "BLOCK_START"
	EventBlockEnd    EventType = "BLOCK_END"
	EventBlockError  EventType = "BLOCK_ERROR"
	EventFlowStopped EventType = "FLOW_STOPPED"
	EventFlowEnd     EventType = "FLOW_END"
)

// Event is a lifecycle notification emitted during a run. The concrete
// types in this file are the only implementations.
type Event interface {
	Type() EventType
	isEvent()
}

type FlowStart struct{}

type BlockStart struct {
	BlockID string `json:"block_id"`
}

// BlockEnd is emitted when the request service returned a response, failing or not.
type BlockEnd struct {
	BlockID    string                    `json:"block_id"`
	Response   *models.ExecutionResponse `json:"response"`
	DurationMs int64                     `json:"duration_ms"`
}

// BlockError is emitted when the request service call itself failed.
type BlockError struct {
	BlockID string `json:"block_id"`
	Error   string `json:"error"`
}

type FlowStopped struct {
	Reason string `json:"reason"`
}

type FlowEnd struct {
	Summary models.ExecutionSummary `json:"summary"`
}

func (FlowStart) Type() EventType   { return EventFlowStart }
func (BlockStart) Type() EventType  { return EventBlockStart }
func (BlockEnd) Type() EventType    { return EventBlockEnd }
func (BlockError) Type() EventType  { return EventBlockError }
func (FlowStopped) Type() EventType { return EventFlowStopped }
func (FlowEnd) Type() EventType     { return EventFlowEnd }

func (FlowStart) isEvent()   {}
func (BlockStart) isEvent()  {}
func (BlockEnd) isEvent()    {}
func (BlockError) isEvent()  {}
func (FlowStopped) isEvent() {}
func (FlowEnd) isEvent()     {}

func (e FlowStart) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type EventType `json:"type"`
	}{e.Type()})
}

func (e BlockStart) MarshalJSON() ([]byte, error) {
	type payload BlockStart
	return json.Marshal(struct {
		Type EventType `json:"type"`
		payload
	}{e.Type(), payload(e)})
}

func (e BlockEnd) MarshalJSON() ([]byte, error) {
	type payload BlockEnd
	return json.Marshal(struct {
		Type EventType `json:"type"`
		payload
	}{e.Type(), payload(e)})
}

func (e BlockError) MarshalJSON() ([]byte, error) {
	type payload BlockError
	return json.Marshal(struct {
		Type EventType `json:"type"`
		payload
	}{e.Type(), payload(e)})
}

func (e FlowStopped) MarshalJSON() ([]byte, error) {
	type payload FlowStopped
	return json.Marshal(struct {
		Type EventType `json:"type"`
		payload
	}{e.Type(), payload(e)})
}

func (e FlowEnd) MarshalJSON() ([]byte, error) {
	type payload FlowEnd
	return json.Marshal(struct {
		Type EventType `json:"type"`
		payload
	}{e.Type(), payload(e)})
}
