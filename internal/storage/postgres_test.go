package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPostgresStoreScenario(t *testing.T) {
	if testing.Short() {
		t.Skip("postgres integration test skipped in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       "itdb",
				"POSTGRES_USER":     "ituser",
				"POSTGRES_PASSWORD": "itpass",
			},
			WaitingFor: wait.ForListeningPort("5432/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://ituser:itpass@%s:%s/itdb?sslmode=disable", host, port.Port())
	ps, err := NewPostgresStore(dsn)
	require.NoError(t, err)
	require.NoError(t, ps.Initialize(ctx))
	t.Cleanup(func() { _ = ps.Close() })

	// Initialize runs the embedded migrations; a second call must be a
	// no-op rather than an error.
	require.NoError(t, ps.Initialize(ctx))

	storeScenario(t, ctx, ps)
}
