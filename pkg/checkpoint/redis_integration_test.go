//go:build integration

package checkpoint

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer creates a Redis container for integration testing.
func setupRedisContainer(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestIntegration_RedisStoreSharedAcrossInstances(t *testing.T) {
	rdb, cleanup := setupRedisContainer(t)
	defer cleanup()

	ctx := context.Background()
	key := StreamKey("/v1/contratacoes/proposta", nil)

	writer := NewRedisStore(rdb, key, 0)
	reader := NewRedisStore(rdb, key, 0)

	for _, page := range []int{5, 10, 15} {
		if err := writer.Save(ctx, page); err != nil {
			t.Fatalf("Save(%d) error = %v", page, err)
		}
		if got := reader.Load(ctx).LastPage; got != page {
			t.Errorf("reader Load() = %d, want %d", got, page)
		}
	}
}
