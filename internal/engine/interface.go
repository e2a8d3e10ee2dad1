package engine

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ai-Ev1lC0rP/N8N2MCP/pkg/models"
)

// Engine is the subset of the workflow engine API used by the bridge.
type Engine interface {
	InstanceURL() string
	GetWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error)
	RunWorkflow(ctx context.Context, auth AuthMaterial, wf *models.Workflow, triggerNode string, input map[string]any) (string, error)
	GetExecution(ctx context.Context, executionID string) (*models.Execution, error)
	CredentialSchema(ctx context.Context, credentialType string) (json.RawMessage, error)
	CurrentUser(ctx context.Context, auth AuthMaterial) error
}

// AuthMaterial is the credential material of an engine session. It must never
// be written to a response or a log line.
type AuthMaterial struct {
	AuthCookie string
	BrowserID  string
}

// Empty reports whether no material is present.
func (a AuthMaterial) Empty() bool {
	return a.AuthCookie == ""
}

func (a AuthMaterial) headers() http.Header {
	h := http.Header{}
	h.Set("Cookie", AuthCookieName+"="+a.AuthCookie)
	if a.BrowserID != "" {
		h.Set(browserIDHeader, a.BrowserID)
	}
	return h
}

var _ Engine = (*Client)(nil)
