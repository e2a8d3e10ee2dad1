package executor_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/engine"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/engine/enginetest"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/errs"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/executor"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/logging"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/registry"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/repository"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/schema"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/session"
	"github.com/ai-Ev1lC0rP/N8N2MCP/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	srv      *enginetest.Server
	resolver *schema.Resolver
	exec     *executor.Executor
}

func newFixture(t *testing.T, opts executor.Options) *fixture {
	t.Helper()
	srv := enginetest.NewServer()
	t.Cleanup(srv.Close)
	srv.AddWorkflow(enginetest.SimpleWorkflow("wf1", "city"))

	logger := logging.Nop()
	client := engine.NewClient(srv.URL, enginetest.APIKey, time.Second)
	sessions := session.NewManager(session.NewRESTProvider(time.Second), []session.Instance{{
		URL:         srv.URL,
		Credentials: session.Credentials{Username: enginetest.Username, Password: enginetest.Password},
	}}, session.Options{}, logger)
	resolver := schema.NewResolver(client, engine.NewAnalyzer(client), logger)

	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.PollInitial == 0 {
		opts.PollInitial = 5 * time.Millisecond
		opts.PollMax = 20 * time.Millisecond
	}
	exec, err := executor.New(client, sessions, resolver, opts, logger)
	require.NoError(t, err)
	return &fixture{srv: srv, resolver: resolver, exec: exec}
}

func registration(tenant string) *models.Registration {
	return &models.Registration{WorkflowID: "wf1", TenantKey: tenant, Code: "c", Status: models.RegistrationActive}
}

func TestInvoke_Success(t *testing.T) {
	f := newFixture(t, executor.Options{MaxRetries: 2})
	f.srv.PendingPolls = 2

	res, err := f.exec.Invoke(context.Background(), registration("tenant-a"), map[string]any{"city": "Oslo", "extra": true})
	require.NoError(t, err)

	assert.Equal(t, models.InvocationOK, res.Status)
	assert.JSONEq(t, `{"result":42}`, string(res.Payload))
	assert.NotEmpty(t, res.ExecutionID)
	assert.Equal(t, map[string]any{"city": "Oslo"}, f.srv.LastInput())
	assert.Equal(t, int32(3), f.srv.Polls.Load())
	assert.Equal(t, int32(1), f.srv.Logins.Load())
}

func TestInvoke_MissingArgumentNeverReachesEngine(t *testing.T) {
	f := newFixture(t, executor.Options{})
	_, err := f.resolver.Resolve(context.Background(), "wf1")
	require.NoError(t, err)

	_, err = f.exec.Invoke(context.Background(), registration("tenant-a"), map[string]any{})
	require.Error(t, err)
	assert.Equal(t, errs.InvalidArguments, errs.KindOf(err))
	assert.Contains(t, err.Error(), "city")
	assert.Equal(t, int32(0), f.srv.Runs.Load())
	assert.Equal(t, int32(0), f.srv.Logins.Load())
}

func TestInvoke_MissingArgumentAfterRestart(t *testing.T) {
	f := newFixture(t, executor.Options{})
	ctx := context.Background()
	store := repository.NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, registration("tenant-a")))

	reg := registry.New(store, f.resolver, logging.Nop())
	require.NoError(t, reg.Load(ctx))
	gets := f.srv.WorkflowGets.Load()

	_, err := f.exec.Invoke(ctx, registration("tenant-a"), map[string]any{})
	assert.True(t, errs.HasKind(err, errs.InvalidArguments), "got %v", err)
	assert.Equal(t, gets, f.srv.WorkflowGets.Load())
	assert.Equal(t, int32(0), f.srv.Runs.Load())
}

func TestInvoke_WrongType(t *testing.T) {
	f := newFixture(t, executor.Options{})

	_, err := f.exec.Invoke(context.Background(), registration("tenant-a"), map[string]any{"city": 12.0})
	assert.True(t, errs.HasKind(err, errs.InvalidArguments))
	assert.Equal(t, int32(0), f.srv.Runs.Load())
}

func TestInvoke_Timeout(t *testing.T) {
	f := newFixture(t, executor.Options{Timeout: 300 * time.Millisecond})
	f.srv.PendingPolls = 1 << 20

	started := time.Now()
	_, err := f.exec.Invoke(context.Background(), registration("tenant-a"), map[string]any{"city": "Oslo"})
	elapsed := time.Since(started)

	assert.True(t, errs.HasKind(err, errs.ExecutionTimeout), "got %v", err)
	assert.GreaterOrEqual(t, elapsed, 250*time.Millisecond)
	assert.Less(t, elapsed, 1500*time.Millisecond)
}

func TestInvoke_RefreshesRejectedSessionOnce(t *testing.T) {
	f := newFixture(t, executor.Options{})
	f.srv.RejectRuns.Store(1)

	res, err := f.exec.Invoke(context.Background(), registration("tenant-a"), map[string]any{"city": "Oslo"})
	require.NoError(t, err)
	assert.Equal(t, models.InvocationOK, res.Status)
	assert.Equal(t, int32(2), f.srv.Logins.Load())
	assert.Equal(t, int32(2), f.srv.Runs.Load())
}

func TestInvoke_SecondRejectionIsAuthenticationFailure(t *testing.T) {
	f := newFixture(t, executor.Options{})
	f.srv.RejectRuns.Store(2)

	_, err := f.exec.Invoke(context.Background(), registration("tenant-a"), map[string]any{"city": "Oslo"})
	assert.True(t, errs.HasKind(err, errs.AuthenticationFailure), "got %v", err)
	assert.Equal(t, int32(2), f.srv.Runs.Load())
}

func TestInvoke_EngineFailure(t *testing.T) {
	f := newFixture(t, executor.Options{})
	f.srv.FailRun = "Cannot read properties of undefined"

	_, err := f.exec.Invoke(context.Background(), registration("tenant-a"), map[string]any{"city": "Oslo"})
	require.Error(t, err)
	assert.Equal(t, errs.UpstreamError, errs.KindOf(err))
	assert.Contains(t, err.Error(), "Cannot read properties of undefined")
}

func TestInvoke_RetriesServerErrors(t *testing.T) {
	f := newFixture(t, executor.Options{MaxRetries: 2})
	f.srv.RunStatus = 503

	_, err := f.exec.Invoke(context.Background(), registration("tenant-a"), map[string]any{"city": "Oslo"})
	assert.True(t, errs.HasKind(err, errs.UpstreamError), "got %v", err)
	assert.Equal(t, int32(3), f.srv.Runs.Load())
}

func TestInvoke_UnknownWorkflow(t *testing.T) {
	f := newFixture(t, executor.Options{})
	reg := registration("tenant-a")
	reg.WorkflowID = "gone"

	_, err := f.exec.Invoke(context.Background(), reg, nil)
	assert.True(t, errs.HasKind(err, errs.WorkflowNotFound))
}

func TestInvoke_TenantsShareOneLogin(t *testing.T) {
	f := newFixture(t, executor.Options{})

	var wg sync.WaitGroup
	for _, tenant := range []string{"tenant-a", "tenant-b", "tenant-c", "tenant-d"} {
		wg.Add(1)
		go func(tenant string) {
			defer wg.Done()
			res, err := f.exec.Invoke(context.Background(), registration(tenant), map[string]any{"city": tenant})
			if assert.NoError(t, err) {
				assert.JSONEq(t, `{"result":42}`, string(res.Payload))
			}
		}(tenant)
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.srv.Logins.Load())
	assert.Equal(t, int32(4), f.srv.Runs.Load())
}

func TestExecutionLogAndDetails(t *testing.T) {
	f := newFixture(t, executor.Options{})
	ctx := context.Background()
	reg := registration("tenant-a")

	res, err := f.exec.Invoke(ctx, reg, map[string]any{"city": "Oslo"})
	require.NoError(t, err)

	raw, err := f.exec.ExecutionLog(ctx, reg, res.ExecutionID)
	require.NoError(t, err)
	var log map[string]any
	require.NoError(t, json.Unmarshal(raw, &log))
	assert.Equal(t, "success", log["status"])

	other := registration("tenant-a")
	other.WorkflowID = "wf2"
	_, err = f.exec.ExecutionLog(ctx, other, res.ExecutionID)
	assert.True(t, errs.HasKind(err, errs.InvalidArguments))

	_, err = f.exec.ExecutionLog(ctx, reg, "999999")
	assert.True(t, errs.HasKind(err, errs.InvalidArguments))

	details, err := f.exec.WorkflowDetails(ctx, reg)
	require.NoError(t, err)
	assert.Equal(t, "wf1", details.ID)
	assert.Equal(t, "v1", details.Revision)
	assert.Len(t, details.Nodes, 2)
	assert.Equal(t, "workflow_wf1", details.Tool.Name)
}
