// Package enginetest provides an in-process fake of the workflow engine HTTP API.
package enginetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ai-Ev1lC0rP/N8N2MCP/pkg/models"
)

const (
	APIKey    = "test-api-key"
	Username  = "owner@example.com"
	Password  = "secret"
	BrowserID = "browser-1"
)

// Server is a fake engine. Workflows, credential schemas and the run outcome are
// configured through its fields before or during a test.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	workflows   map[string]*models.Workflow
	schemas     map[string]json.RawMessage
	executions  map[string]*execution
	validTokens map[string]bool
	nextID      int

	// Output is the JSON item produced by the last node of every run.
	Output json.RawMessage
	// PendingPolls is the number of polls that report the execution as running.
	PendingPolls int
	// FailRun makes every run end in the error state with this message.
	FailRun string
	// RejectRuns makes the next N run requests answer 401 regardless of the cookie.
	RejectRuns atomic.Int32
	// RunStatus, when non-zero, is returned for every run request.
	RunStatus int

	Runs         atomic.Int32
	Logins       atomic.Int32
	Polls        atomic.Int32
	WorkflowGets atomic.Int32

	lastInput map[string]any
}

type execution struct {
	id         string
	workflowID string
	polls      int
	lastNode   string
}

// NewServer starts a fake engine.
func NewServer() *Server {
	s := &Server{
		workflows:   map[string]*models.Workflow{},
		schemas:     map[string]json.RawMessage{},
		executions:  map[string]*execution{},
		validTokens: map[string]bool{},
		Output:      json.RawMessage(`{"result":42}`),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.route))
	return s
}

// AddWorkflow makes wf retrievable by id.
func (s *Server) AddWorkflow(wf *models.Workflow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[wf.ID] = wf
}

// AddCredentialSchema registers the schema of a credential type.
func (s *Server) AddCredentialSchema(credType string, schema string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemas[credType] = json.RawMessage(schema)
}

// IssueToken returns an auth cookie value the server accepts.
func (s *Server) IssueToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	token := fmt.Sprintf("token-%d", s.nextID)
	s.validTokens[token] = true
	return token
}

// RevokeAll expires every issued token, as if the engine restarted.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validTokens = map[string]bool{}
}

// LastInput returns the input pinned on the trigger node by the last run.
func (s *Server) LastInput() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastInput
}

// SimpleWorkflow returns a workflow with an execute-workflow trigger declaring
// the given string inputs, followed by one code node.
func SimpleWorkflow(id string, inputs ...string) *models.Workflow {
	var values []any
	for _, in := range inputs {
		values = append(values, map[string]any{"name": in, "type": "string"})
	}
	return &models.Workflow{
		ID:        id,
		Name:      "Workflow " + id,
		VersionID: "v1",
		Nodes: []models.Node{
			{
				ID:   "n1",
				Name: "Start",
				Type: "n8n-nodes-base.executeWorkflowTrigger",
				Parameters: map[string]any{
					"inputSource":    "workflowInputs",
					"workflowInputs": map[string]any{"values": values},
				},
			},
			{ID: "n2", Name: "Compute", Type: "n8n-nodes-base.code"},
		},
	}
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/api/v1/workflows/"):
		s.getWorkflow(w, r, strings.TrimPrefix(path, "/api/v1/workflows/"))
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/api/v1/executions/"):
		s.getExecution(w, r, strings.TrimPrefix(path, "/api/v1/executions/"))
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/api/v1/credentials/schema/"):
		s.getSchema(w, r, strings.TrimPrefix(path, "/api/v1/credentials/schema/"))
	case r.Method == http.MethodPost && strings.HasPrefix(path, "/rest/workflows/") && strings.HasSuffix(path, "/run"):
		s.run(w, r, strings.TrimSuffix(strings.TrimPrefix(path, "/rest/workflows/"), "/run"))
	case r.Method == http.MethodPost && path == "/rest/login":
		s.login(w, r)
	case r.Method == http.MethodGet && path == "/rest/login":
		if !s.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Unauthorized"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"email": Username}})
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) apiKeyOK(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("X-N8N-API-KEY") != APIKey {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "X-N8N-API-KEY header required"})
		return false
	}
	return true
}

func (s *Server) authorized(r *http.Request) bool {
	cookie, err := r.Cookie("n8n-auth")
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validTokens[cookie.Value]
}

func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request, id string) {
	if !s.apiKeyOK(w, r) {
		return
	}
	s.WorkflowGets.Add(1)
	s.mu.Lock()
	wf, ok := s.workflows[id]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) getSchema(w http.ResponseWriter, r *http.Request, credType string) {
	if !s.apiKeyOK(w, r) {
		return
	}
	s.mu.Lock()
	schema, ok := s.schemas[credType]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(schema)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"emailOrLdapLoginId"`
		Password string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.Logins.Add(1)
	if body.Email != Username || body.Password != Password {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Wrong username or password."})
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "n8n-auth", Value: s.IssueToken(), Path: "/", HttpOnly: true})
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"email": Username}})
}

func (s *Server) run(w http.ResponseWriter, r *http.Request, workflowID string) {
	s.Runs.Add(1)
	if s.RunStatus != 0 {
		writeJSON(w, s.RunStatus, map[string]any{"message": "run failed"})
		return
	}
	if s.RejectRuns.Load() > 0 {
		s.RejectRuns.Add(-1)
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Unauthorized"})
		return
	}
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Unauthorized"})
		return
	}

	var body struct {
		WorkflowData struct {
			Nodes   []models.Node            `json:"nodes"`
			PinData map[string][]models.Item `json:"pinData"`
		} `json:"workflowData"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastInput = nil
	for _, items := range body.WorkflowData.PinData {
		if len(items) > 0 {
			_ = json.Unmarshal(items[0].JSON, &s.lastInput)
		}
	}
	lastNode := ""
	if n := len(body.WorkflowData.Nodes); n > 0 {
		lastNode = body.WorkflowData.Nodes[n-1].Name
	}
	s.nextID++
	id := fmt.Sprintf("%d", 1000+s.nextID)
	s.executions[id] = &execution{id: id, workflowID: workflowID, lastNode: lastNode}
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"executionId": id}})
}

func (s *Server) getExecution(w http.ResponseWriter, r *http.Request, id string) {
	if !s.apiKeyOK(w, r) {
		return
	}
	s.Polls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
		return
	}
	exec.polls++

	resp := map[string]any{"id": json.Number(exec.id), "workflowId": exec.workflowID}
	switch {
	case exec.polls <= s.PendingPolls:
		resp["finished"] = false
		resp["status"] = models.ExecutionRunning
	case s.FailRun != "":
		resp["finished"] = false
		resp["status"] = models.ExecutionFailed
		resp["data"] = map[string]any{"resultData": map[string]any{
			"error":            map[string]any{"message": s.FailRun},
			"lastNodeExecuted": exec.lastNode,
		}}
	default:
		resp["finished"] = true
		resp["status"] = models.ExecutionSuccess
		resp["data"] = map[string]any{"resultData": map[string]any{
			"lastNodeExecuted": exec.lastNode,
			"runData": map[string]any{
				exec.lastNode: []any{map[string]any{
					"data": map[string]any{"main": []any{[]any{map[string]any{"json": s.Output}}}},
				}},
			},
		}}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
