//go:build integration

package integration

// Test environment setup and server lifecycle management.
//
// By default the server logs are not included in the test output, you can enable them with:
//
//	ENABLE_SERVER_LOGS=true go test -tags=integration -v ./test/integration
//

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/theamanone/encstream/internal/config"
	"github.com/theamanone/encstream/internal/logger"
	"github.com/theamanone/encstream/internal/replay"
	"github.com/theamanone/encstream/internal/server"
)

const testSecret = "integration-secret-of-32-chars!!"

// testEnv provides access to a running server
type testEnv struct {
	baseURL  string
	cfg      *config.ServerEnvironment
	shutdown func()
}

// startInProcessServer starts encstream-server in-process. extraEnv is applied on top of the
// test defaults; pool is the replay store database (nil for the memory store).
func startInProcessServer(t *testing.T, pool *pgxpool.Pool, extraEnv map[string]string) *testEnv {
	t.Helper()

	port := findFreePort(t)
	replayStore := "memory"
	if pool != nil {
		replayStore = "postgres"
	}

	testEnvVars := map[string]string{
		"HOST":                    "localhost",
		"PORT":                    fmt.Sprintf("%d", port),
		"ENVIRONMENT":             "test",
		"LOG_LEVEL":               "error",
		"RATE_LIMIT_RPS":          "0",
		"ENCSTREAM_SECRET":        testSecret,
		"SECRET_KEY_PATH":         "",
		"REPLAY_STORE":            replayStore,
		"REPLAY_FILTER_SIZE_LOG2": "16",
		"ALLOWED_TARGET_PREFIXES": "",
		"UPSTREAM_URL":            "",
	}
	if pool != nil {
		testEnvVars["DATABASE_URL"] = pool.Config().ConnString()
	}
	for k, v := range extraEnv {
		testEnvVars[k] = v
	}

	for key, value := range testEnvVars {
		t.Setenv(key, value)
		if value == "" {
			os.Unsetenv(key)
		}
	}

	cfg, err := config.NewServerConfig()
	if err != nil {
		t.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel := logger.ParseLogLevel("none")
	if os.Getenv("ENABLE_SERVER_LOGS") == "true" {
		logLevel = logger.ParseLogLevel("debug")
	}
	appLogger := logger.InitLogger(logLevel, "test")

	serverInstance, err := server.NewServer(pool, cfg, appLogger)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	serverCtx, serverCancel := context.WithCancel(context.Background())

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := serverInstance.Start(serverCtx); err != nil {
			serverDone <- err
		}
	}()

	env := &testEnv{
		baseURL: fmt.Sprintf("http://localhost:%d", port),
		cfg:     cfg,
	}
	env.shutdown = func() {
		serverCancel()

		select {
		case err := <-serverDone:
			if err != nil {
				t.Logf("server shutdown with error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Log("server shutdown timeout")
		}

		// the pool belongs to the test
		if pool == nil {
			serverInstance.Shutdown()
		}
	}
	t.Cleanup(env.shutdown)

	if !waitForServer(t, env.baseURL+"/health/live", 30*time.Second) {
		t.Fatal("Server failed to start within timeout")
	}
	return env
}

func findFreePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("Failed to find free port: %v", err)
	}
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port
}

func waitForServer(t *testing.T, url string, timeout time.Duration) bool {
	t.Helper()

	client := &http.Client{Timeout: 1 * time.Second}
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return true
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}

// setupTestDatabase creates an empty database, applies the replay store migrations and returns a pool.
// It returns nil when TEST_DATABASE_URL is not set.
func setupTestDatabase(t *testing.T) *pgxpool.Pool {
	t.Helper()

	adminURL := os.Getenv("TEST_DATABASE_URL")
	if adminURL == "" {
		return nil
	}
	ctx := context.Background()

	adminPool, err := pgxpool.New(ctx, adminURL)
	if err != nil {
		t.Fatalf("Unable to create postgres connection pool: %v", err)
	}
	t.Cleanup(adminPool.Close)

	if err := adminPool.Ping(ctx); err != nil {
		t.Fatalf("Can't ping PostgreSQL server: %v", err)
	}

	dbname := "encstream_it_" + uuid.NewString()[:8]
	if _, err := adminPool.Exec(ctx, "CREATE DATABASE "+dbname); err != nil {
		t.Fatalf("CREATE DATABASE failed: %v", err)
	}
	t.Cleanup(func() {
		if _, err := adminPool.Exec(ctx, "DROP DATABASE "+dbname+" WITH (FORCE)"); err != nil {
			t.Errorf("Failed to drop test database: %v", err)
		}
	})

	poolConfig, err := pgxpool.ParseConfig(adminURL)
	if err != nil {
		t.Fatalf("Failed to parse database URL: %v", err)
	}
	poolConfig.ConnConfig.Database = dbname

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		t.Fatalf("Unable to create connection pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := replay.Migrate(ctx, pool); err != nil {
		t.Fatalf("Failed to apply database migrations: %v", err)
	}
	t.Logf("Database ready: %s", dbname)
	return pool
}
