package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestOpen(t *testing.T) {
	store, closeStore, err := Open(context.Background(), DriverMemory, "", "")
	require.NoError(t, err)
	defer closeStore()
	assert.IsType(t, &MemoryStore{}, store)

	_, _, err = Open(context.Background(), "sqlite", "", "")
	assert.Error(t, err)

	_, _, err = Open(context.Background(), DriverPostgres, "::not a dsn::", "")
	assert.Error(t, err)
}

func TestMongoStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, container.Terminate(ctx))
	}()

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017/tcp")
	require.NoError(t, err)

	store, err := NewMongoStore(ctx, fmt.Sprintf("mongodb://%s:%s", host, port.Port()), "bridge_test")
	require.NoError(t, err)
	defer store.Close(ctx)
	require.NoError(t, store.Migrate(ctx))

	testStore(t, store)
}
