package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ai-Ev1lC0rP/N8N2MCP/pkg/models"
)

// Analyzer reports the credentials a workflow needs, together with the schema
// of each credential type as published by the engine.
type Analyzer struct {
	engine Engine
}

// NewAnalyzer creates a new Analyzer.
func NewAnalyzer(engine Engine) *Analyzer {
	return &Analyzer{engine: engine}
}

// RequiredCredentials fetches the workflow and analyzes it.
func (a *Analyzer) RequiredCredentials(ctx context.Context, workflowID string) ([]models.CredentialRequirement, error) {
	wf, err := a.engine.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return a.Analyze(ctx, wf)
}

// Analyze lists the distinct credentials referenced by enabled nodes, in node
// order. Credentials are distinct by (type, id, name).
func (a *Analyzer) Analyze(ctx context.Context, wf *models.Workflow) ([]models.CredentialRequirement, error) {
	type credKey struct{ typ, id, name string }

	var required []models.CredentialRequirement
	index := map[credKey]int{}
	schemas := map[string]json.RawMessage{}

	for _, node := range wf.Nodes {
		if node.Disabled {
			continue
		}
		for _, credType := range sortedKeys(node.Credentials) {
			var ref struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			}
			_ = json.Unmarshal(node.Credentials[credType], &ref)

			key := credKey{credType, ref.ID, ref.Name}
			if i, ok := index[key]; ok {
				required[i].Nodes = append(required[i].Nodes, node.Name)
				continue
			}

			schema, ok := schemas[credType]
			if !ok {
				var err error
				schema, err = a.engine.CredentialSchema(ctx, credType)
				if err != nil && !IsNotFound(err) {
					return nil, fmt.Errorf("failed to get schema for credential type %s: %w", credType, err)
				}
				schemas[credType] = schema
			}

			index[key] = len(required)
			required = append(required, models.CredentialRequirement{
				Type:   credType,
				ID:     ref.ID,
				Name:   ref.Name,
				Nodes:  []string{node.Name},
				Schema: schema,
			})
		}
	}
	return required, nil
}
