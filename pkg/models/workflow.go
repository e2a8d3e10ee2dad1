package models

import (
	"encoding/json"
	"time"
)

// Workflow is a workflow definition as stored by the engine.
type Workflow struct {
	ID          string                     `json:"id"`
	Name        string                     `json:"name"`
	Active      bool                       `json:"active"`
	Nodes       []Node                     `json:"nodes"`
	Connections map[string]json.RawMessage `json:"connections"`
	Settings    map[string]any             `json:"settings,omitempty"`
	PinData     map[string]any             `json:"pinData,omitempty"`
	Meta        map[string]any             `json:"meta,omitempty"`
	Description string                     `json:"description,omitempty"`
	VersionID   string                     `json:"versionId,omitempty"`
	Tags        []json.RawMessage          `json:"tags,omitempty"`
	UpdatedAt   time.Time                  `json:"updatedAt"`
}

// Revision identifies the definition version. Engines that do not expose a
// version id fall back to the last update time.
func (w *Workflow) Revision() string {
	if w.VersionID != "" {
		return w.VersionID
	}
	return w.UpdatedAt.UTC().Format(time.RFC3339Nano)
}

// Node is a single step of a workflow.
type Node struct {
	ID          string                     `json:"id"`
	Name        string                     `json:"name"`
	Type        string                     `json:"type"`
	TypeVersion float64                    `json:"typeVersion"`
	Position    []float64                  `json:"position,omitempty"`
	Parameters  map[string]any             `json:"parameters,omitempty"`
	Credentials map[string]json.RawMessage `json:"credentials,omitempty"`
	Disabled    bool                       `json:"disabled,omitempty"`
	Notes       string                     `json:"notes,omitempty"`
	ExecuteOnce bool                       `json:"executeOnce,omitempty"`
}

// Execution is the engine's view of a workflow run.
type Execution struct {
	ID         string          `json:"id"`
	Finished   bool            `json:"finished"`
	Status     string          `json:"status"`
	WorkflowID string          `json:"workflowId"`
	StartedAt  *time.Time      `json:"startedAt,omitempty"`
	StoppedAt  *time.Time      `json:"stoppedAt,omitempty"`
	Data       *ExecutionData  `json:"data,omitempty"`
	Raw        json.RawMessage `json:"-"`
}

// Execution states reported by the engine.
const (
	ExecutionNew      = "new"
	ExecutionRunning  = "running"
	ExecutionWaiting  = "waiting"
	ExecutionSuccess  = "success"
	ExecutionFailed   = "error"
	ExecutionCrashed  = "crashed"
	ExecutionCanceled = "canceled"
)

// Done reports whether the execution reached a terminal state.
func (e *Execution) Done() bool {
	switch e.Status {
	case ExecutionSuccess, ExecutionFailed, ExecutionCrashed, ExecutionCanceled:
		return true
	case "":
		return e.Finished || e.StoppedAt != nil
	}
	return false
}

// Failed reports whether a terminal execution did not succeed.
func (e *Execution) Failed() bool {
	switch e.Status {
	case ExecutionFailed, ExecutionCrashed, ExecutionCanceled:
		return true
	case "":
		return !e.Finished
	}
	return false
}

// ExecutionData carries the run output of an execution.
type ExecutionData struct {
	ResultData struct {
		RunData          map[string][]NodeRun `json:"runData"`
		LastNodeExecuted string               `json:"lastNodeExecuted"`
		Error            *ExecutionError      `json:"error,omitempty"`
	} `json:"resultData"`
}

// NodeRun is one run of one node.
type NodeRun struct {
	Data  map[string][][]Item `json:"data"`
	Error *ExecutionError     `json:"error,omitempty"`
}

// Item is an output item of a node.
type Item struct {
	JSON json.RawMessage `json:"json"`
}

// ExecutionError is the error reported by the engine for a failed run.
type ExecutionError struct {
	Message     string `json:"message"`
	Description string `json:"description,omitempty"`
	Node        *struct {
		Name string `json:"name"`
	} `json:"node,omitempty"`
}
