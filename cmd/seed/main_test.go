package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/errs"
	"github.com/ai-Ev1lC0rP/N8N2MCP/internal/logging"
	"github.com/ai-Ev1lC0rP/N8N2MCP/pkg/models"
)

type MockRegistrar struct {
	mock.Mock
}

func (m *MockRegistrar) Register(ctx context.Context, workflowID, tenantKey string) (*models.Registration, bool, error) {
	args := m.Called(ctx, workflowID, tenantKey)
	reg, _ := args.Get(0).(*models.Registration)
	return reg, args.Bool(1), args.Error(2)
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`registrations:
  - workflowId: wf1
    tenantKey: team-a
  - workflowId: wf2
    tenantKey: team-b
`), 0o600))

	file, err := loadSeedFile(path)
	require.NoError(t, err)
	assert.Equal(t, []SeedEntry{{"wf1", "team-a"}, {"wf2", "team-b"}}, file.Registrations)

	_, err = loadSeedFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	reg := new(MockRegistrar)
	reg.On("Register", ctx, "wf1", "team-a").
		Return(&models.Registration{WorkflowID: "wf1", TenantKey: "team-a", Code: "c1"}, true, nil)
	reg.On("Register", ctx, "wf2", "team-b").
		Return(&models.Registration{WorkflowID: "wf2", TenantKey: "team-b", Code: "c2"}, false, nil)
	reg.On("Register", ctx, "missing", "team-c").
		Return(nil, false, errs.NotFoundWorkflow("missing"))

	created, failed := seed(ctx, reg, &SeedFile{Registrations: []SeedEntry{
		{"wf1", "team-a"},
		{"wf2", "team-b"},
		{"missing", "team-c"},
	}}, logging.Nop())

	assert.Equal(t, 1, created)
	assert.Equal(t, 1, failed)
	reg.AssertExpectations(t)
}
