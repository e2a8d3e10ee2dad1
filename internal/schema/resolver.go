// Package schema turns workflow definitions into tool schemas.
package schema

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/errs"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/logging"
	"github.com/ai-Ev1lC0rP/N8N2MCP/pkg/models"
)

// WorkflowSource fetches workflow definitions.
type WorkflowSource interface {
	GetWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error)
}

// CredentialAnalyzer lists the credentials a workflow needs.
type CredentialAnalyzer interface {
	Analyze(ctx context.Context, wf *models.Workflow) ([]models.CredentialRequirement, error)
}

// Descriptor is a resolved workflow: the definition it was built from and its tool schema.
type Descriptor struct {
	Workflow *models.Workflow
	Schema   *models.ToolSchema
}

// Resolver builds tool schemas and caches them per workflow revision.
type Resolver struct {
	source   WorkflowSource
	analyzer CredentialAnalyzer
	logger   *logging.Logger

	mu    sync.RWMutex
	cache map[string]*Descriptor
}

// NewResolver creates a new Resolver.
func NewResolver(source WorkflowSource, analyzer CredentialAnalyzer, logger *logging.Logger) *Resolver {
	return &Resolver{
		source:   source,
		analyzer: analyzer,
		logger:   logger.With("component", "schema"),
		cache:    map[string]*Descriptor{},
	}
}

// Resolve returns the tool schema of the workflow's current revision.
func (r *Resolver) Resolve(ctx context.Context, workflowID string) (*models.ToolSchema, error) {
	d, err := r.Describe(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return d.Schema, nil
}

// Describe fetches the current definition and returns it with its schema. The
// schema is rebuilt only when the revision differs from the cached one.
func (r *Resolver) Describe(ctx context.Context, workflowID string) (*Descriptor, error) {
	wf, err := r.source.GetWorkflow(ctx, workflowID)
	if err != nil {
		if errs.KindOf(err) == errs.Internal {
			return nil, errs.Wrap(errs.UpstreamError, err, "failed to fetch workflow %q", workflowID)
		}
		return nil, err
	}

	revision := wf.Revision()
	r.mu.RLock()
	cached := r.cache[workflowID]
	r.mu.RUnlock()
	if cached != nil && cached.Schema.Revision == revision {
		return &Descriptor{Workflow: wf, Schema: cached.Schema}, nil
	}

	creds, err := r.analyzer.Analyze(ctx, wf)
	if err != nil {
		return nil, errs.Wrap(errs.UpstreamError, err, "failed to analyze credentials of workflow %q", workflowID)
	}

	d := &Descriptor{Workflow: wf, Schema: Build(wf, creds)}
	r.mu.Lock()
	r.cache[workflowID] = d
	r.mu.Unlock()

	r.logger.Debug("Tool schema built",
		"workflowId", workflowID,
		"revision", revision,
		"tool", d.Schema.Name,
		"parameters", len(d.Schema.Parameters),
	)
	return d, nil
}

// Cached returns the last schema built for the workflow, or nil.
func (r *Resolver) Cached(workflowID string) *models.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d := r.cache[workflowID]; d != nil {
		return d.Schema
	}
	return nil
}

// Build derives a tool schema from a workflow definition. The result depends
// only on wf and creds.
func Build(wf *models.Workflow, creds []models.CredentialRequirement) *models.ToolSchema {
	s := &models.ToolSchema{
		Name:        ToolName(wf.Name),
		Description: describe(wf, creds),
		Parameters:  []models.Parameter{},
		WorkflowID:  wf.ID,
		Revision:    wf.Revision(),
	}
	if trigger := findTrigger(wf); trigger != nil {
		s.TriggerNode = trigger.Name
		s.Parameters = triggerParameters(trigger)
	}
	return s
}

const (
	minToolNameLen   = 2
	maxToolNameLen   = 64
	fallbackToolName = "execute_workflow"
)

// ToolName converts a workflow name into a tool name of lowercase letters,
// digits and underscores. Names with fewer than two usable characters get a
// generic name.
func ToolName(name string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		default:
			pendingSep = true
		}
	}
	out := b.String()
	if len(out) > maxToolNameLen {
		out = strings.TrimRight(out[:maxToolNameLen], "_")
	}
	if len(out) < minToolNameLen {
		return fallbackToolName
	}
	return out
}

func describe(wf *models.Workflow, creds []models.CredentialRequirement) string {
	desc := strings.TrimSpace(wf.Description)
	if desc == "" {
		if d, ok := wf.Meta["description"].(string); ok {
			desc = strings.TrimSpace(d)
		}
	}
	if desc == "" {
		desc = fmt.Sprintf("Runs the %q workflow.", wf.Name)
	}

	var types []string
	seen := map[string]bool{}
	for _, c := range creds {
		if !seen[c.Type] {
			seen[c.Type] = true
			types = append(types, c.Type)
		}
	}
	if len(types) > 0 {
		desc += " Requires credentials: " + strings.Join(types, ", ") + "."
	}
	return desc
}
