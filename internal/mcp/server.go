// Package mcp serves each registration as its own tool protocol endpoint.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/errs"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/executor"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/logging"
	"github.com/ai-Ev1lC0rP/N8N2MCP/pkg/models"
)

const (
	serverName = "n8n-workflow-bridge"

	executionLogTool    = "get_execution_log"
	workflowDetailsTool = "get_workflow_details"
)

// Registry looks up active registrations.
type Registry interface {
	Lookup(ctx context.Context, workflowID, tenantKey string) (*models.Registration, error)
}

// Schemas provides tool schemas.
type Schemas interface {
	Cached(workflowID string) *models.ToolSchema
	Resolve(ctx context.Context, workflowID string) (*models.ToolSchema, error)
}

// Invoker runs workflows and inspects their executions.
type Invoker interface {
	Invoke(ctx context.Context, reg *models.Registration, args map[string]any) (*models.InvocationResult, error)
	ExecutionLog(ctx context.Context, reg *models.Registration, executionID string) (json.RawMessage, error)
	WorkflowDetails(ctx context.Context, reg *models.Registration) (*executor.WorkflowSummary, error)
}

// Server is the Protocol Server. It keeps one MCP server per registration,
// rebuilt when the workflow revision changes.
type Server struct {
	registry Registry
	schemas  Schemas
	invoker  Invoker
	version  string
	logger   *logging.Logger

	mu        sync.Mutex
	endpoints map[models.RegistrationKey]*endpoint
	empty     *endpoint
}

type endpoint struct {
	revision  string
	tools     []mcp.Tool
	mcpServer *server.MCPServer
	handler   http.Handler
}

// NewServer creates a new Server.
func NewServer(registry Registry, schemas Schemas, invoker Invoker, version string, logger *logging.Logger) *Server {
	s := &Server{
		registry:  registry,
		schemas:   schemas,
		invoker:   invoker,
		version:   version,
		logger:    logger.With("component", "mcp"),
		endpoints: map[models.RegistrationKey]*endpoint{},
	}
	s.empty = s.newEndpoint("", nil)
	return s
}

// Handler returns the protocol handler for a registration. Unknown or removed
// registrations get an endpoint without tools, so calls fail inside the
// protocol instead of at the transport.
func (s *Server) Handler(ctx context.Context, workflowID, tenantKey string) (http.Handler, error) {
	ep, err := s.endpoint(ctx, workflowID, tenantKey)
	if err != nil {
		return nil, err
	}
	return ep.handler, nil
}

// MCPServer returns the MCP server backing a registration's endpoint.
func (s *Server) MCPServer(ctx context.Context, workflowID, tenantKey string) (*server.MCPServer, error) {
	ep, err := s.endpoint(ctx, workflowID, tenantKey)
	if err != nil {
		return nil, err
	}
	return ep.mcpServer, nil
}

// Discover lists the tools offered to a registration.
func (s *Server) Discover(ctx context.Context, workflowID, tenantKey string) ([]mcp.Tool, error) {
	if _, err := s.registry.Lookup(ctx, workflowID, tenantKey); err != nil {
		return nil, err
	}
	ep, err := s.endpoint(ctx, workflowID, tenantKey)
	if err != nil {
		return nil, err
	}
	return ep.tools, nil
}

// Forget drops the cached endpoint of a registration.
func (s *Server) Forget(key models.RegistrationKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.endpoints, key)
}

func (s *Server) endpoint(ctx context.Context, workflowID, tenantKey string) (*endpoint, error) {
	key := models.RegistrationKey{WorkflowID: workflowID, TenantKey: tenantKey}
	reg, err := s.registry.Lookup(ctx, workflowID, tenantKey)
	if errs.HasKind(err, errs.RegistrationNotFound) {
		s.Forget(key)
		return s.empty, nil
	}
	if err != nil {
		return nil, err
	}

	schema := s.schemas.Cached(workflowID)
	if schema == nil {
		if schema, err = s.schemas.Resolve(ctx, workflowID); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ep, ok := s.endpoints[key]; ok && ep.revision == schema.Revision {
		return ep, nil
	}
	ep := s.newEndpoint(schema.Revision, s.registrationTools(reg.Key(), schema))
	s.endpoints[key] = ep
	s.logger.Debug("Tool endpoint built",
		"workflowId", workflowID,
		"tenantKey", errs.Mask(tenantKey),
		"revision", schema.Revision,
	)
	return ep, nil
}

func (s *Server) newEndpoint(revision string, tools []server.ServerTool) *endpoint {
	mcpServer := server.NewMCPServer(serverName, s.version, server.WithToolCapabilities(true))
	ep := &endpoint{revision: revision, mcpServer: mcpServer}
	for _, t := range tools {
		mcpServer.AddTool(t.Tool, t.Handler)
		ep.tools = append(ep.tools, t.Tool)
	}
	ep.handler = server.NewStreamableHTTPServer(mcpServer, server.WithStateLess(true))
	return ep
}

func (s *Server) registrationTools(key models.RegistrationKey, schema *models.ToolSchema) []server.ServerTool {
	return []server.ServerTool{
		{
			Tool:    workflowTool(schema),
			Handler: s.handleInvoke(key),
		},
		{
			Tool: mcp.NewTool(
				executionLogTool,
				mcp.WithDescription("Get the execution log of a previous run of this workflow"),
				mcp.WithString("execution_id", mcp.Required(), mcp.Description("The execution id returned by the workflow tool")),
			),
			Handler: s.handleExecutionLog(key),
		},
		{
			Tool: mcp.NewTool(
				workflowDetailsTool,
				mcp.WithDescription("Get the current definition of this workflow"),
			),
			Handler: s.handleWorkflowDetails(key),
		},
	}
}

// workflowToolName keeps the workflow tool from shadowing an auxiliary tool.
func workflowToolName(name string) string {
	switch name {
	case executionLogTool, workflowDetailsTool:
		return name + "_workflow"
	}
	return name
}

// workflowTool renders a tool schema as a protocol tool definition.
func workflowTool(schema *models.ToolSchema) mcp.Tool {
	properties := map[string]any{}
	required := []string{}
	for _, p := range schema.Parameters {
		prop := map[string]any{}
		if p.Type != models.ParamAny {
			prop["type"] = p.Type
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	raw, _ := json.Marshal(map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	})
	return mcp.NewToolWithRawSchema(workflowToolName(schema.Name), schema.Description, raw)
}

func (s *Server) handleInvoke(key models.RegistrationKey) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reg, err := s.registry.Lookup(ctx, key.WorkflowID, key.TenantKey)
		if err != nil {
			return toolError(err), nil
		}

		result, err := s.invoker.Invoke(ctx, reg, request.GetArguments())
		if err != nil {
			return toolError(err), nil
		}
		return invocationResult(result), nil
	}
}

// invocationResult returns the workflow output as the first content item and
// the execution id as the second, so it can be passed to get_execution_log.
func invocationResult(result *models.InvocationResult) *mcp.CallToolResult {
	payload := result.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(string(payload)),
			mcp.NewTextContent("executionId: " + result.ExecutionID),
		},
		StructuredContent: map[string]any{
			"executionId": result.ExecutionID,
			"result":      payload,
		},
	}
}

func (s *Server) handleExecutionLog(key models.RegistrationKey) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reg, err := s.registry.Lookup(ctx, key.WorkflowID, key.TenantKey)
		if err != nil {
			return toolError(err), nil
		}

		// Clients may pass the id as a JSON number.
		var executionID string
		switch v := request.GetArguments()["execution_id"].(type) {
		case string:
			executionID = v
		case float64:
			executionID = fmt.Sprintf("%.0f", v)
		}
		log, err := s.invoker.ExecutionLog(ctx, reg, executionID)
		if err != nil {
			return toolError(err), nil
		}
		return mcp.NewToolResultText(string(log)), nil
	}
}

func (s *Server) handleWorkflowDetails(key models.RegistrationKey) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reg, err := s.registry.Lookup(ctx, key.WorkflowID, key.TenantKey)
		if err != nil {
			return toolError(err), nil
		}

		details, err := s.invoker.WorkflowDetails(ctx, reg)
		if err != nil {
			return toolError(err), nil
		}
		jsonBytes, _ := json.Marshal(details)
		return mcp.NewToolResultText(string(jsonBytes)), nil
	}
}

// toolError reports a failure as a tool result rather than a protocol error.
func toolError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %s", errs.KindOf(err), errs.Detail(err)))
}
