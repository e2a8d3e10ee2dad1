package mcp_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/engine"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/engine/enginetest"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/executor"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/logging"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/mcp"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/registry"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/repository"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/schema"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	engine   *enginetest.Server
	registry *registry.Registry
	server   *mcp.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := enginetest.NewServer()
	t.Cleanup(srv.Close)
	wf := enginetest.SimpleWorkflow("wf1", "city")
	wf.Name = "Weather Lookup"
	srv.AddWorkflow(wf)

	logger := logging.Nop()
	client := engine.NewClient(srv.URL, enginetest.APIKey, time.Second)
	sessions := session.NewManager(session.NewRESTProvider(time.Second), []session.Instance{{
		URL:         srv.URL,
		Credentials: session.Credentials{Username: enginetest.Username, Password: enginetest.Password},
	}}, session.Options{}, logger)
	resolver := schema.NewResolver(client, engine.NewAnalyzer(client), logger)
	exec, err := executor.New(client, sessions, resolver, executor.Options{
		Timeout:     2 * time.Second,
		PollInitial: 5 * time.Millisecond,
		PollMax:     20 * time.Millisecond,
	}, logger)
	require.NoError(t, err)

	reg := registry.New(repository.NewMemoryStore(), resolver, logger)
	server := mcp.NewServer(reg, resolver, exec, "test", logger)
	reg.OnRemove(server.Forget)
	return &fixture{engine: srv, registry: reg, server: server}
}

// call sends one JSON-RPC request to the registration's MCP server and returns the decoded response.
func (f *fixture) call(t *testing.T, workflowID, tenantKey, method string, params any) map[string]any {
	t.Helper()
	s, err := f.server.MCPServer(context.Background(), workflowID, tenantKey)
	require.NoError(t, err)

	req, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 1, "method": method, "params": params})
	require.NoError(t, err)
	resp := s.HandleMessage(context.Background(), req)

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func resultText(t *testing.T, resp map[string]any) (string, bool) {
	t.Helper()
	result, ok := resp["result"].(map[string]any)
	require.True(t, ok, "expected a result, got %v", resp)
	content := result["content"].([]any)
	require.NotEmpty(t, content)
	isError, _ := result["isError"].(bool)
	return content[0].(map[string]any)["text"].(string), isError
}

func TestToolsList(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.registry.Register(context.Background(), "wf1", "tenant-a")
	require.NoError(t, err)

	resp := f.call(t, "wf1", "tenant-a", "tools/list", map[string]any{})
	tools := resp["result"].(map[string]any)["tools"].([]any)

	var names []string
	for _, tool := range tools {
		names = append(names, tool.(map[string]any)["name"].(string))
	}
	assert.ElementsMatch(t, []string{"weather_lookup", "get_execution_log", "get_workflow_details"}, names)

	for _, tool := range tools {
		tm := tool.(map[string]any)
		if tm["name"] != "weather_lookup" {
			continue
		}
		input := tm["inputSchema"].(map[string]any)
		assert.Equal(t, []any{"city"}, input["required"])
		assert.Contains(t, input["properties"], "city")
	}

	discovered, err := f.server.Discover(context.Background(), "wf1", "tenant-a")
	require.NoError(t, err)
	assert.Len(t, discovered, 3)
}

func TestToolsCall(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.registry.Register(context.Background(), "wf1", "tenant-a")
	require.NoError(t, err)

	text, isError := resultText(t, f.call(t, "wf1", "tenant-a", "tools/call", map[string]any{
		"name":      "weather_lookup",
		"arguments": map[string]any{"city": "Oslo"},
	}))
	assert.False(t, isError)
	assert.JSONEq(t, `{"result":42}`, text)

	text, isError = resultText(t, f.call(t, "wf1", "tenant-a", "tools/call", map[string]any{
		"name":      "weather_lookup",
		"arguments": map[string]any{},
	}))
	assert.True(t, isError)
	assert.True(t, strings.HasPrefix(text, "InvalidArguments: "), text)
	assert.Equal(t, int32(1), f.engine.Runs.Load())
}

func TestToolsCall_EngineFailure(t *testing.T) {
	f := newFixture(t)
	f.engine.FailRun = "node exploded"
	_, _, err := f.registry.Register(context.Background(), "wf1", "tenant-a")
	require.NoError(t, err)

	text, isError := resultText(t, f.call(t, "wf1", "tenant-a", "tools/call", map[string]any{
		"name":      "weather_lookup",
		"arguments": map[string]any{"city": "Oslo"},
	}))
	assert.True(t, isError)
	assert.True(t, strings.HasPrefix(text, "UpstreamError: "), text)
	assert.Contains(t, text, "node exploded")
}

func TestWorkflowDetailsAndExecutionLog(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.registry.Register(context.Background(), "wf1", "tenant-a")
	require.NoError(t, err)

	text, isError := resultText(t, f.call(t, "wf1", "tenant-a", "tools/call", map[string]any{"name": "get_workflow_details"}))
	require.False(t, isError, text)
	var details map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &details))
	assert.Equal(t, "Weather Lookup", details["name"])

	resp := f.call(t, "wf1", "tenant-a", "tools/call", map[string]any{
		"name":      "weather_lookup",
		"arguments": map[string]any{"city": "Oslo"},
	})
	_, isError = resultText(t, resp)
	require.False(t, isError)

	result := resp["result"].(map[string]any)
	content := result["content"].([]any)
	require.Len(t, content, 2)
	structured := result["structuredContent"].(map[string]any)
	executionID, _ := structured["executionId"].(string)
	require.NotEmpty(t, executionID)
	assert.Equal(t, map[string]any{"result": 42.0}, structured["result"])
	assert.Equal(t, "executionId: "+executionID, content[1].(map[string]any)["text"])

	text, isError = resultText(t, f.call(t, "wf1", "tenant-a", "tools/call", map[string]any{
		"name":      "get_execution_log",
		"arguments": map[string]any{"execution_id": executionID},
	}))
	require.False(t, isError, text)
	assert.Contains(t, text, `"success"`)
}

func TestWorkflowNamedLikeAuxiliaryTool(t *testing.T) {
	f := newFixture(t)
	wf := enginetest.SimpleWorkflow("wf2", "city")
	wf.Name = "Get Execution Log"
	f.engine.AddWorkflow(wf)
	_, _, err := f.registry.Register(context.Background(), "wf2", "tenant-a")
	require.NoError(t, err)

	discovered, err := f.server.Discover(context.Background(), "wf2", "tenant-a")
	require.NoError(t, err)
	var names []string
	for _, tool := range discovered {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"get_execution_log_workflow", "get_execution_log", "get_workflow_details"}, names)

	text, isError := resultText(t, f.call(t, "wf2", "tenant-a", "tools/call", map[string]any{
		"name":      "get_execution_log_workflow",
		"arguments": map[string]any{"city": "Oslo"},
	}))
	require.False(t, isError, text)
	assert.JSONEq(t, `{"result":42}`, text)
}

func TestUnknownRegistration(t *testing.T) {
	f := newFixture(t)

	resp := f.call(t, "wf1", "nobody", "tools/call", map[string]any{
		"name":      "weather_lookup",
		"arguments": map[string]any{"city": "Oslo"},
	})
	assert.Nil(t, resp["result"])
	assert.NotNil(t, resp["error"])
	assert.Equal(t, int32(0), f.engine.Runs.Load())

	_, err := f.server.Discover(context.Background(), "wf1", "nobody")
	assert.Error(t, err)
}

func TestRemovedRegistrationLosesTools(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.registry.Register(ctx, "wf1", "tenant-a")
	require.NoError(t, err)
	f.call(t, "wf1", "tenant-a", "tools/list", map[string]any{})

	require.NoError(t, f.registry.Remove(ctx, "wf1", "tenant-a"))

	resp := f.call(t, "wf1", "tenant-a", "tools/list", map[string]any{})
	tools, _ := resp["result"].(map[string]any)["tools"].([]any)
	assert.Empty(t, tools)
}

func TestHandlerOverHTTP(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.registry.Register(context.Background(), "wf1", "tenant-a")
	require.NoError(t, err)

	h, err := f.server.Handler(context.Background(), "wf1", "tenant-a")
	require.NoError(t, err)

	body := `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"weather_lookup","arguments":{"city":"Oslo"}}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp/wf1/tenant-a", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":7`)
	assert.Contains(t, rec.Body.String(), `result`)
}
