package models

import (
	"encoding/json"
	"time"
)

// Parameter types of a tool schema.
const (
	ParamString  = "string"
	ParamNumber  = "number"
	ParamBoolean = "boolean"
	ParamArray   = "array"
	ParamObject  = "object"
	ParamAny     = "any"
)

// ToolSchema describes a workflow as a callable tool.
type ToolSchema struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	WorkflowID  string      `json:"workflowId"`
	Revision    string      `json:"revision"`
	// TriggerNode is the node that receives the call arguments.
	TriggerNode string `json:"triggerNode,omitempty"`
}

// Parameter is one declared input of a tool.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// Required returns the names of required parameters in declaration order.
func (s *ToolSchema) Required() []string {
	var names []string
	for _, p := range s.Parameters {
		if p.Required {
			names = append(names, p.Name)
		}
	}
	return names
}

// CredentialRequirement is a credential a workflow needs to run.
type CredentialRequirement struct {
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	Name   string          `json:"name,omitempty"`
	Nodes  []string        `json:"nodes,omitempty"`
	Schema json.RawMessage `json:"schema,omitempty"`
}

// InvocationOK is the status of a completed invocation. Failed invocations
// are reported as errors of an errs.Kind.
const InvocationOK = "ok"

// InvocationResult is the normalized outcome of a tool call.
type InvocationResult struct {
	Status      string          `json:"status"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	ExecutionID string          `json:"executionId,omitempty"`
	CompletedAt time.Time       `json:"completedAt"`
}
