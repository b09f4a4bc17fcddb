//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/db"
	"github.com/Ramsey-B/clover/internal/server"
	"github.com/Ramsey-B/clover/internal/testutil"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/keylock"
)

// newPostgres starts a disposable PostgreSQL server and returns a migrated connection to it
func newPostgres(t *testing.T) database.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("clover"),
		tcpostgres.WithUsername("clover"),
		tcpostgres.WithPassword("clover"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	conn, err := database.Open(database.Config{
		Driver:          database.DriverPostgres,
		DSN:             dsn,
		MaxOpenConns:    20,
		ConnMaxLifetime: time.Minute,
	}, testutil.Logger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, database.NewMigrationService(testutil.Logger(), db.Migrations, db.MigrationsDir, nil).Migrate(conn))
	return conn
}

// newRedis starts a disposable Redis server
func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := keylock.Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func testConfig() config.Config {
	return config.Config{
		AppName:           "clover-integration",
		MDMResourceTypes:  []string{"Patient", "Practitioner"},
		MDMMatchFields:    []string{"family", "given"},
		MDMClearIsolation: "serializable",
		MDMClearTimeout:   time.Minute,
	}
}

// newNode builds the services one clover instance would run against shared storage
func newNode(t *testing.T, conn database.DB, client *redis.Client, recorder *testutil.Recorder) *server.Services {
	t.Helper()

	var locker keylock.Locker = keylock.NewLocal()
	if client != nil {
		locker = keylock.NewRedis(client, testutil.Logger(), keylock.RedisConfig{
			TTL:  10 * time.Second,
			Wait: 10 * time.Second,
		})
	}

	services, err := server.NewServices(server.Dependencies{
		Config:    testConfig(),
		DB:        conn,
		Logger:    testutil.Logger(),
		Locker:    locker,
		Publisher: recorder,
	})
	require.NoError(t, err)
	return services
}
