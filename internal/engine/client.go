package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/errs"
	"github.com/ai-Ev1lC0rP/N8N2MCP/pkg/models"
)

const (
	apiKeyHeader    = "X-N8N-API-KEY"
	browserIDHeader = "browser-id"
	// AuthCookieName is the session cookie issued by the engine on login.
	AuthCookieName = "n8n-auth"
)

// StatusError is returned when the engine answers with a non-2xx status.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status code %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// IsUnauthorized reports whether the engine rejected the request's credentials.
func IsUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && (se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden)
}

// IsNotFound reports whether the engine answered 404.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// IsTransient reports whether a retry may succeed: 5xx, 429 and transport failures.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return true
}

// Client is an HTTP client for an n8n instance. The public API is authenticated
// with the instance API key, the internal REST API with a session.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a new Client. timeout bounds each individual request.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// InstanceURL returns the base URL of the engine instance.
func (c *Client) InstanceURL() string {
	return c.baseURL
}

// GetWorkflow returns the workflow definition.
func (c *Client) GetWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	var wf models.Workflow
	err := c.do(ctx, http.MethodGet, "/api/v1/workflows/"+url.PathEscape(workflowID), c.apiHeaders(), nil, &wf)
	if IsNotFound(err) {
		return nil, errs.NotFoundWorkflow(workflowID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return &wf, nil
}

// runRequest is the body of a manual run on the internal REST API.
type runRequest struct {
	WorkflowData map[string]any `json:"workflowData"`
	StartNodes   []any          `json:"startNodes"`
}

// RunWorkflow starts a manual execution of wf and returns the execution id.
// When triggerNode is set, input is pinned as that node's single output item.
func (c *Client) RunWorkflow(ctx context.Context, auth AuthMaterial, wf *models.Workflow, triggerNode string, input map[string]any) (string, error) {
	pinData := make(map[string]any, len(wf.PinData)+1)
	for k, v := range wf.PinData {
		pinData[k] = v
	}
	if triggerNode != "" {
		if input == nil {
			input = map[string]any{}
		}
		pinData[triggerNode] = []map[string]any{{"json": input}}
	}

	body := runRequest{
		WorkflowData: map[string]any{
			"id":          wf.ID,
			"name":        wf.Name,
			"nodes":       wf.Nodes,
			"connections": wf.Connections,
			"active":      wf.Active,
			"settings":    wf.Settings,
			"pinData":     pinData,
			"versionId":   wf.VersionID,
			"meta":        wf.Meta,
		},
		StartNodes: []any{},
	}

	var resp struct {
		Data struct {
			ExecutionID       any  `json:"executionId"`
			WaitingForWebhook bool `json:"waitingForWebhook"`
		} `json:"data"`
	}
	path := "/rest/workflows/" + url.PathEscape(wf.ID) + "/run?partialExecutionVersion=2"
	if err := c.do(ctx, http.MethodPost, path, auth.headers(), body, &resp); err != nil {
		return "", err
	}
	if resp.Data.WaitingForWebhook {
		return "", errs.New(errs.UpstreamError, "workflow %q is waiting for a webhook call and cannot be run directly", wf.ID)
	}
	if resp.Data.ExecutionID == nil {
		return "", errs.New(errs.UpstreamError, "engine did not return an execution id")
	}
	return stringID(resp.Data.ExecutionID), nil
}

// GetExecution returns an execution including its run data.
func (c *Client) GetExecution(ctx context.Context, executionID string) (*models.Execution, error) {
	var raw struct {
		models.Execution
		ID         any `json:"id"`
		WorkflowID any `json:"workflowId"`
	}
	path := "/api/v1/executions/" + url.PathEscape(executionID) + "?includeData=true"
	body, err := c.doRaw(ctx, http.MethodGet, path, c.apiHeaders(), nil)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode execution: %w", err)
	}
	exec := raw.Execution
	exec.ID = stringID(raw.ID)
	exec.WorkflowID = stringID(raw.WorkflowID)
	exec.Raw = body
	return &exec, nil
}

// CredentialSchema returns the JSON schema of a credential type.
func (c *Client) CredentialSchema(ctx context.Context, credentialType string) (json.RawMessage, error) {
	return c.doRaw(ctx, http.MethodGet, "/api/v1/credentials/schema/"+url.PathEscape(credentialType), c.apiHeaders(), nil)
}

// CurrentUser checks that auth is still accepted by the engine.
func (c *Client) CurrentUser(ctx context.Context, auth AuthMaterial) error {
	return c.do(ctx, http.MethodGet, "/rest/login", auth.headers(), nil, nil)
}

func (c *Client) apiHeaders() http.Header {
	h := http.Header{}
	h.Set(apiKeyHeader, c.apiKey)
	return h
}

func (c *Client) do(ctx context.Context, method, path string, headers http.Header, in, out any) error {
	body, err := c.doRaw(ctx, method, path, headers, in)
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, method, path string, headers http.Header, in any) ([]byte, error) {
	var reader io.Reader
	if in != nil {
		requestBody, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(requestBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Method: method, Path: strings.SplitN(path, "?", 2)[0], Code: resp.StatusCode, Body: truncate(string(body), 512)}
	}
	return body, nil
}

func stringID(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	default:
		return fmt.Sprint(id)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
