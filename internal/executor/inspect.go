package executor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/engine"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/errs"
	"github.com/ai-Ev1lC0rP/N8N2MCP/pkg/models"
)

// ExecutionLog returns the engine's record of an execution of the registered workflow.
func (e *Executor) ExecutionLog(ctx context.Context, reg *models.Registration, executionID string) (json.RawMessage, error) {
	if executionID == "" {
		return nil, errs.InvalidArgumentsf("execution_id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	var exec *models.Execution
	err := e.retry(ctx, func() error {
		var err error
		exec, err = e.engine.GetExecution(ctx, executionID)
		return err
	})
	if engine.IsNotFound(err) {
		return nil, errs.InvalidArgumentsf("execution %s not found", executionID)
	}
	if err != nil {
		return nil, e.classify(ctx, err)
	}
	// Executions of other workflows are not visible through this registration.
	if exec.WorkflowID != reg.WorkflowID {
		return nil, errs.InvalidArgumentsf("execution %s does not belong to workflow %s", executionID, reg.WorkflowID)
	}
	return exec.Raw, nil
}

// WorkflowSummary is the description of a registered workflow returned to tool callers.
type WorkflowSummary struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Active      bool               `json:"active"`
	Revision    string             `json:"revision"`
	UpdatedAt   time.Time          `json:"updatedAt"`
	Tool        *models.ToolSchema `json:"tool"`
	Nodes       []NodeSummary      `json:"nodes"`
	Description string             `json:"description,omitempty"`
}

// NodeSummary omits parameters and credential references.
type NodeSummary struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Disabled bool   `json:"disabled,omitempty"`
}

// WorkflowDetails describes the current definition of the registered workflow.
func (e *Executor) WorkflowDetails(ctx context.Context, reg *models.Registration) (*WorkflowSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	desc, err := e.resolver.Describe(ctx, reg.WorkflowID)
	if err != nil {
		return nil, e.classify(ctx, err)
	}
	wf := desc.Workflow
	summary := &WorkflowSummary{
		ID:          wf.ID,
		Name:        wf.Name,
		Active:      wf.Active,
		Revision:    wf.Revision(),
		UpdatedAt:   wf.UpdatedAt,
		Tool:        desc.Schema,
		Nodes:       make([]NodeSummary, 0, len(wf.Nodes)),
		Description: wf.Description,
	}
	for _, n := range wf.Nodes {
		summary.Nodes = append(summary.Nodes, NodeSummary{Name: n.Name, Type: n.Type, Disabled: n.Disabled})
	}
	return summary, nil
}
