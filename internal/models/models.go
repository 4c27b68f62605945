package models

import (
	"strings"
	"time"
)

// KeyValue is one query parameter or header row of a block.
type KeyValue struct {
	Key     string `json:"key" yaml:"key"`
	Value   string `json:"value" yaml:"value"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

// Active reports whether the row should be applied to a request.
func (kv KeyValue) Active() bool {
	return kv.Enabled && strings.TrimSpace(kv.Key) != ""
}

type Flow struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Blocks    []Block   `json:"blocks" yaml:"blocks"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Block is a single HTTP call within a flow. Run outcomes are kept in
// BlockResult, never on the block itself.
type Block struct {
	ID      string           `json:"id" yaml:"id"`
	Name    string           `json:"name" yaml:"name"`
	Method  string           `json:"method" yaml:"method"`
	URL     string           `json:"url" yaml:"url"`
	Params  []KeyValue       `json:"params" yaml:"params"`
	Headers []KeyValue       `json:"headers" yaml:"headers"`
	Body    string           `json:"body" yaml:"body"`
	Order   int              `json:"order" yaml:"order"`
	Extract []ExtractionRule `json:"extract,omitempty" yaml:"extract,omitempty"`
}

// ExtractionRule represents a rule for extracting values from API responses
type ExtractionRule struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	JSONPath     string `json:"json_path" yaml:"json_path"`
	VariableName string `json:"variable_name" yaml:"variable_name"`
}

// BlockResult is the transient outcome of a block within one run.
type BlockResult struct {
	BlockID      string  `json:"block_id"`
	IsExecuting  bool    `json:"is_executing"`
	Status       *int    `json:"status,omitempty"`
	Error        *string `json:"error,omitempty"`
	ResponseData *string `json:"response_data,omitempty"`
	DurationMs   *int64  `json:"duration_ms,omitempty"`
}

type ExecutionMode string

const (
	ModeAuthenticated ExecutionMode = "authenticated"
	ModeDemo          ExecutionMode = "demo"
)

// ExecutionRequest is a fully resolved request handed to the request execution service.
type ExecutionRequest struct {
	Method  string            `json:"method" binding:"required"`
	URL     string            `json:"url" binding:"required"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    *string           `json:"body,omitempty"`
}

type ErrorType string

const (
	ErrorTypeNetwork          ErrorType = "NetworkError"
	ErrorTypeTimeout          ErrorType = "TimeoutError"
	ErrorTypeDNS              ErrorType = "DnsError"
	ErrorTypeSSL              ErrorType = "SslError"
	ErrorTypeInvalidURL       ErrorType = "InvalidUrl"
	ErrorTypeUnknown          ErrorType = "UnknownError"
	ErrorTypeDemoLimitReached ErrorType = "DemoLimitReached"
)

// ExecutionError is a transport or protocol level failure carried inside a response.
type ExecutionError struct {
	ErrorType ErrorType `json:"error_type"`
	Message   string    `json:"message"`
}

type ExecutionResponse struct {
	Status     int               `json:"status"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	DurationMs int64             `json:"duration_ms"`
	Error      *ExecutionError   `json:"error,omitempty"`
}

// Failed reports whether the response counts as a failing block outcome.
func (r *ExecutionResponse) Failed() bool {
	return r.Status >= 400 || r.Error != nil
}

// ExecutionSummary is the terminal record of one flow run.
type ExecutionSummary struct {
	TotalBlocks     int   `json:"total_blocks"`
	ExecutedBlocks  int   `json:"executed_blocks"`
	FailedBlocks    int   `json:"failed_blocks"`
	TotalDurationMs int64 `json:"total_duration_ms"`
	Success         bool  `json:"success"`
}

const (
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusStopped   = "stopped"
)

// RunRecord is the stored history entry of a flow run.
type RunRecord struct {
	ID         string           `json:"id"`
	FlowID     string           `json:"flow_id"`
	FlowName   string           `json:"flow_name"`
	Mode       ExecutionMode    `json:"mode"`
	Status     string           `json:"status"`
	StopReason string           `json:"stop_reason,omitempty"`
	Summary    ExecutionSummary `json:"summary"`
	Results    []BlockResult    `json:"results"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// Postman Collection Schema (simplified)
type PostmanCollection struct {
	Info PostmanInfo   `json:"info"`
	Item []PostmanItem `json:"item"`
}

type PostmanInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Schema      string `json:"schema"`
}

type PostmanItem struct {
	Name    string          `json:"name"`
	Item    []PostmanItem   `json:"item,omitempty"`    // For folders
	Request *PostmanRequest `json:"request,omitempty"` // For requests
}

type PostmanRequest struct {
	Method string          `json:"method"`
	Header []PostmanHeader `json:"header,omitempty"`
	Body   *PostmanBody    `json:"body,omitempty"`
	URL    interface{}     `json:"url"` // Can be string or object
}

type PostmanHeader struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	Disabled bool   `json:"disabled,omitempty"`
}

type PostmanBody struct {
	Mode string `json:"mode"`
	Raw  string `json:"raw,omitempty"`
}

// Response structures
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Environment represents a set of variables for flow runs
type Environment struct {
	ID          int               `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	CreatedBy   string            `json:"created_by,omitempty"`
	Variables   map[string]string `json:"variables"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}
