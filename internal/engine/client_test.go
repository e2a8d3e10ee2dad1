package engine_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/engine"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/engine/enginetest"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/errs"
	"github.com/ai-Ev1lC0rP/N8N2MCP/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_GetWorkflow(t *testing.T) {
	srv := enginetest.NewServer()
	defer srv.Close()
	srv.AddWorkflow(enginetest.SimpleWorkflow("wf1", "city"))

	client := engine.NewClient(srv.URL+"/", enginetest.APIKey, time.Second)
	ctx := context.Background()

	wf, err := client.GetWorkflow(ctx, "wf1")
	require.NoError(t, err)
	assert.Equal(t, "wf1", wf.ID)
	assert.Equal(t, "v1", wf.Revision())
	assert.Len(t, wf.Nodes, 2)

	_, err = client.GetWorkflow(ctx, "missing")
	assert.True(t, errs.HasKind(err, errs.WorkflowNotFound))
}

func TestClient_RunAndPoll(t *testing.T) {
	srv := enginetest.NewServer()
	defer srv.Close()
	wf := enginetest.SimpleWorkflow("wf1", "city")
	srv.AddWorkflow(wf)

	client := engine.NewClient(srv.URL, enginetest.APIKey, time.Second)
	auth := engine.AuthMaterial{AuthCookie: srv.IssueToken(), BrowserID: enginetest.BrowserID}
	ctx := context.Background()

	id, err := client.RunWorkflow(ctx, auth, wf, "Start", map[string]any{"city": "Oslo"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, map[string]any{"city": "Oslo"}, srv.LastInput())

	exec, err := client.GetExecution(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, exec.ID)
	assert.True(t, exec.Done())
	assert.False(t, exec.Failed())
	assert.Equal(t, "Compute", exec.Data.ResultData.LastNodeExecuted)
}

func TestClient_RunRejected(t *testing.T) {
	srv := enginetest.NewServer()
	defer srv.Close()
	wf := enginetest.SimpleWorkflow("wf1")

	client := engine.NewClient(srv.URL, enginetest.APIKey, time.Second)
	_, err := client.RunWorkflow(context.Background(), engine.AuthMaterial{AuthCookie: "stale"}, wf, "Start", nil)

	assert.True(t, engine.IsUnauthorized(err))
	assert.False(t, engine.IsTransient(err))
}

func TestClient_CurrentUser(t *testing.T) {
	srv := enginetest.NewServer()
	defer srv.Close()
	client := engine.NewClient(srv.URL, enginetest.APIKey, time.Second)
	ctx := context.Background()

	assert.NoError(t, client.CurrentUser(ctx, engine.AuthMaterial{AuthCookie: srv.IssueToken()}))
	assert.True(t, engine.IsUnauthorized(client.CurrentUser(ctx, engine.AuthMaterial{AuthCookie: "nope"})))
}

func TestIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := engine.NewClient(srv.URL, "k", time.Second)
	_, err := client.GetExecution(context.Background(), "1")

	assert.True(t, engine.IsTransient(err))
	assert.False(t, engine.IsTransient(context.DeadlineExceeded))
}

func TestExecutionStates(t *testing.T) {
	running := &models.Execution{Status: models.ExecutionRunning}
	crashed := &models.Execution{Status: models.ExecutionCrashed}
	failed := &models.Execution{Status: models.ExecutionFailed}
	legacy := &models.Execution{Finished: true}

	assert.False(t, running.Done())
	assert.True(t, crashed.Done())
	assert.True(t, crashed.Failed())
	assert.True(t, failed.Done())
	assert.True(t, failed.Failed())
	assert.True(t, legacy.Done())
	assert.False(t, legacy.Failed())
}
