package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/theamanone/encstream/internal/config"
	"github.com/theamanone/encstream/internal/logger"
	"github.com/theamanone/encstream/internal/replay"
	"github.com/theamanone/encstream/internal/server"
	"github.com/theamanone/encstream/internal/version"
)

//	@title			encstream-server
//	@description	encstream-server opens encrypted envelopes (AES-256-CBC + HMAC-SHA256) and forwards the
//	@description	decrypted requests to their targets.
//	@description
//	@description	## Common Error Responses
//	@description	All endpoints may return:
//	@description	- `413` Request body exceeds size limit
//	@description	- `429` Rate limit exceeded
//	@description	- `500` Internal server error
//	@description
//	@description	Envelopes that fail authentication, decryption or the freshness check are rejected with `400`.
//	@description	Replayed envelopes are rejected with `409`.
//	@description
//	@description	## Request Limits
//	@description	All envelope endpoints are protected by:
//	@description	- **Rate limiting**: Configurable requests per second (see env vars) - default 100 rps (set to 0 to disable)
//	@description	- **Request size limits**: Configurable (see env vars) - default 16MB
//	@description
//	@description	## Authentication
//	@description	There are no credentials. Only callers holding the shared secret can produce envelopes that open.
//	@license.name	MIT

//	@servers.url			http://localhost:8080
//	@servers.description	Development server

//	@accept		json
//	@produce	json

//	@tag.name			Proxy
//	@tag.description	Relay and sealed proxy endpoints

//	@tag.name			Common
//	@tag.description	Server API endpoints (health, readiness, version, metrics)

func main() {
	cmd := &cobra.Command{
		Use:   "encstream-server",
		Short: "Encrypted envelope proxy server",
		Long:  `encstream-server opens encrypted envelopes and forwards the requests they carry`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}

	v := version.Get()
	cmd.Version = fmt.Sprintf("%s (built %s, commit %s)", v.Version, v.BuildDate, v.GitCommit)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.NewServerConfig()
	if err != nil {
		log.Printf("failed to load configuration: %v", err.Error())
		os.Exit(1)
	}

	appLogger := logger.InitLogger(logger.ParseLogLevel(cfg.LogLevel), cfg.Environment)

	appLogger.Info("Configuration loaded",
		slog.String("ENVIRONMENT", cfg.Environment),
		slog.String("HOST", cfg.Host),
		slog.Int("PORT", cfg.Port),
		slog.String("LOG_LEVEL", cfg.LogLevel),
		slog.Duration("MAX_AGE", cfg.MaxAge),
		slog.Bool("ENCSTREAM_SECRET_SET", cfg.Secret != ""),
		slog.String("SECRET_KEY_PATH", cfg.SecretKeyPath),
		slog.String("ALLOWED_TARGET_PREFIXES", strings.Join(cfg.AllowedTargetPrefixes, "|")),
		slog.String("UPSTREAM_URL", redactURL(cfg.UpstreamURL)),
		slog.Bool("SEAL_RESPONSES", cfg.SealResponses),
		slog.String("REPLAY_STORE", cfg.ReplayStore),
		slog.Int64("MAX_REQUEST_BODY_BYTES", cfg.MaxRequestBodyBytes),
	)

	var pool *pgxpool.Pool
	if cfg.ReplayStore == "postgres" {
		pool, err = connectDatabase(cfg, appLogger)
		if err != nil {
			appLogger.Error("Database setup failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	appLogger.Info("Starting server", slog.String("version", version.Get().Version))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := server.NewServer(pool, cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to create server", slog.String("error", err.Error()))
		if pool != nil {
			pool.Close()
		}
		os.Exit(1)
	}

	defer server.Shutdown()

	if err := server.Start(ctx); err != nil {
		appLogger.Error("Server error", slog.String("error", err.Error()))
		return err
	}

	appLogger.Info("server shutdown complete")
	return nil
}

// connectDatabase creates the pool used by the postgres replay guard and applies its migrations.
func connectDatabase(cfg *config.ServerEnvironment, appLogger *slog.Logger) (*pgxpool.Pool, error) {
	dbCtx, dbCancel := context.WithTimeout(context.Background(), cfg.DatabasePingTimeout)
	defer dbCancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = cfg.DBMaxConnections
	poolConfig.MinConns = cfg.DBMinConnections
	poolConfig.MaxConnLifetime = cfg.DBMaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.DBMaxConnIdleTime
	poolConfig.ConnConfig.ConnectTimeout = cfg.DBConnectTimeout

	pool, err := pgxpool.NewWithConfig(dbCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err = pool.Ping(dbCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error pinging database via pool: %w", err)
	}

	if err := replay.Migrate(dbCtx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply replay store migrations: %w", err)
	}

	host := ""
	if u, err := url.Parse(cfg.DatabaseURL); err == nil {
		host = u.Host
	}
	appLogger.Info("connected to PostgreSQL", slog.String("host", host))
	return pool, nil
}

// redactURL masks any password in rawURL for logging.
func redactURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "(unparseable)"
	}
	return u.Redacted()
}
