package registry_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/errs"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/logging"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/registry"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/repository"
	"github.com/ai-Ev1lC0rP/N8N2MCP/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	known map[string]bool
	calls atomic.Int32
}

func (f *fakeResolver) Resolve(ctx context.Context, workflowID string) (*models.ToolSchema, error) {
	f.calls.Add(1)
	if !f.known[workflowID] {
		return nil, errs.NotFoundWorkflow(workflowID)
	}
	return &models.ToolSchema{Name: "tool", WorkflowID: workflowID}, nil
}

type failingStore struct {
	*repository.MemoryStore
	fail atomic.Bool
}

func (s *failingStore) Upsert(ctx context.Context, reg *models.Registration) error {
	if s.fail.Load() {
		return errors.New("disk full")
	}
	return s.MemoryStore.Upsert(ctx, reg)
}

func newRegistry(workflows ...string) (*registry.Registry, *failingStore, *fakeResolver) {
	known := map[string]bool{}
	for _, wf := range workflows {
		known[wf] = true
	}
	store := &failingStore{MemoryStore: repository.NewMemoryStore()}
	resolver := &fakeResolver{known: known}
	return registry.New(store, resolver, logging.Nop()), store, resolver
}

func TestRegister_Idempotent(t *testing.T) {
	reg, _, _ := newRegistry("wf1")
	ctx := context.Background()

	first, created, err := reg.Register(ctx, "wf1", "tenant-a")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, first.Code)

	second, created, err := reg.Register(ctx, "wf1", "tenant-a")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.Code, second.Code)

	list, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRegister_ConcurrentDuplicates(t *testing.T) {
	reg, store, _ := newRegistry("wf1")
	ctx := context.Background()

	var wg sync.WaitGroup
	var createdCount atomic.Int32
	codes := make([]string, 20)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, created, err := reg.Register(ctx, "wf1", "tenant-a")
			assert.NoError(t, err)
			if created {
				createdCount.Add(1)
			}
			codes[i] = r.Code
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), createdCount.Load())
	for _, c := range codes {
		assert.Equal(t, codes[0], c)
	}
	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRegister_UnknownWorkflow(t *testing.T) {
	reg, store, _ := newRegistry()
	ctx := context.Background()

	_, _, err := reg.Register(ctx, "nope", "tenant-a")
	assert.True(t, errs.HasKind(err, errs.WorkflowNotFound))

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRegister_InvalidIdentifiers(t *testing.T) {
	reg, _, resolver := newRegistry("wf1")
	ctx := context.Background()

	_, _, err := reg.Register(ctx, "wf/1", "tenant-a")
	assert.True(t, errs.HasKind(err, errs.InvalidArguments))
	_, _, err = reg.Register(ctx, "wf1", "")
	assert.True(t, errs.HasKind(err, errs.InvalidArguments))
	assert.Equal(t, int32(0), resolver.calls.Load())
}

func TestRemove_AndReactivate(t *testing.T) {
	reg, _, _ := newRegistry("wf1")
	ctx := context.Background()

	var removed []models.RegistrationKey
	reg.OnRemove(func(k models.RegistrationKey) { removed = append(removed, k) })

	original, _, err := reg.Register(ctx, "wf1", "tenant-a")
	require.NoError(t, err)

	require.NoError(t, reg.Remove(ctx, "wf1", "tenant-a"))
	assert.Equal(t, []models.RegistrationKey{{WorkflowID: "wf1", TenantKey: "tenant-a"}}, removed)

	_, err = reg.Lookup(ctx, "wf1", "tenant-a")
	assert.True(t, errs.HasKind(err, errs.RegistrationNotFound))
	assert.True(t, errs.HasKind(reg.Remove(ctx, "wf1", "tenant-a"), errs.RegistrationNotFound))
	assert.True(t, errs.HasKind(reg.Remove(ctx, "wf1", "never"), errs.RegistrationNotFound))

	list, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	again, created, err := reg.Register(ctx, "wf1", "tenant-a")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, original.Code, again.Code)
	assert.True(t, again.Active())
}

func TestRegister_StoreFailureLeavesIndex(t *testing.T) {
	reg, store, _ := newRegistry("wf1")
	ctx := context.Background()

	store.fail.Store(true)
	_, _, err := reg.Register(ctx, "wf1", "tenant-a")
	assert.True(t, errs.HasKind(err, errs.Internal))

	_, err = reg.Lookup(ctx, "wf1", "tenant-a")
	assert.True(t, errs.HasKind(err, errs.RegistrationNotFound))
}

func TestList_Order(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, r := range []models.Registration{
		{WorkflowID: "wf2", TenantKey: "b", CreatedAt: base, Status: models.RegistrationActive},
		{WorkflowID: "wf1", TenantKey: "z", CreatedAt: base, Status: models.RegistrationActive},
		{WorkflowID: "wf1", TenantKey: "a", CreatedAt: base, Status: models.RegistrationActive},
		{WorkflowID: "wf0", TenantKey: "a", CreatedAt: base.Add(-time.Hour), Status: models.RegistrationActive},
		{WorkflowID: "wf9", TenantKey: "a", CreatedAt: base, Status: models.RegistrationRemoved},
	} {
		r := r
		require.NoError(t, store.Upsert(ctx, &r))
	}

	reg := registry.New(store, &fakeResolver{}, logging.Nop())
	list, err := reg.List(ctx)
	require.NoError(t, err)

	var keys []string
	for _, r := range list {
		keys = append(keys, r.Key().String())
	}
	assert.Equal(t, []string{"wf0/a", "wf1/a", "wf1/z", "wf2/b"}, keys)
}

func TestLoadAndLookupFromStore(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, &models.Registration{
		WorkflowID: "wf1", TenantKey: "tenant-a", Code: "c1", Status: models.RegistrationActive,
	}))

	require.NoError(t, store.Upsert(ctx, &models.Registration{
		WorkflowID: "wf1", TenantKey: "tenant-c", Code: "c3", Status: models.RegistrationActive,
	}))
	require.NoError(t, store.Upsert(ctx, &models.Registration{
		WorkflowID: "wf-old", TenantKey: "tenant-a", Code: "c4", Status: models.RegistrationRemoved,
	}))

	resolver := &fakeResolver{known: map[string]bool{"wf1": true}}
	reg := registry.New(store, resolver, logging.Nop())
	require.NoError(t, reg.Load(ctx))
	// One resolve per active workflow, none for removed pairs.
	assert.Equal(t, int32(1), resolver.calls.Load())

	got, err := reg.Lookup(ctx, "wf1", "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.Code)

	// Written by another process after Load.
	require.NoError(t, store.Upsert(ctx, &models.Registration{
		WorkflowID: "wf2", TenantKey: "tenant-b", Code: "c2", Status: models.RegistrationActive,
	}))
	got, err = reg.Lookup(ctx, "wf2", "tenant-b")
	require.NoError(t, err)
	assert.Equal(t, "c2", got.Code)
}
