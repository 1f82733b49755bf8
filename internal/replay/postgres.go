package replay

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/theamanone/encstream/internal/crypto"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the replay store schema migrations to the database behind pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	// goose expects a database/sql handle
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// PostgresGuard records fingerprints in a PostgreSQL table so that replays are detected across
// server instances sharing the database.
//
// Rows expire one window after the envelope's timestamp; expired rows are ignored on insert and
// removed by Purge.
type PostgresGuard struct {
	pool   *pgxpool.Pool
	window time.Duration
	now    func() time.Time
}

// NewPostgresGuard creates a guard using pool. The schema must already exist (see Migrate).
func NewPostgresGuard(pool *pgxpool.Pool, window time.Duration) (*PostgresGuard, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool is required")
	}
	if window <= 0 {
		return nil, fmt.Errorf("replay window must be positive, got %s", window)
	}
	return &PostgresGuard{
		pool:   pool,
		window: window,
		now:    time.Now,
	}, nil
}

// an existing row only blocks the insert while it is unexpired
const insertFingerprint = `
INSERT INTO seen_envelopes (fingerprint, sealed_at, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (fingerprint) DO UPDATE
    SET sealed_at = EXCLUDED.sealed_at, expires_at = EXCLUDED.expires_at, created_at = now()
    WHERE seen_envelopes.expires_at < $4`

// Seen inserts the fingerprint of env and reports whether an unexpired row already existed.
func (g *PostgresGuard) Seen(ctx context.Context, env *crypto.Envelope) (bool, error) {
	tag := crypto.Fingerprint(env)
	sealedAt := env.SealedAt()

	// never expire before the window has passed from now, whatever the envelope claims
	expiresAt := sealedAt.Add(g.window)
	if floor := g.now().Add(g.window); expiresAt.Before(floor) {
		expiresAt = floor
	}

	result, err := g.pool.Exec(ctx, insertFingerprint, tag[:], sealedAt, expiresAt, g.now())
	if err != nil {
		return false, fmt.Errorf("failed to record envelope fingerprint: %w", err)
	}
	return result.RowsAffected() == 0, nil
}

// Purge deletes expired fingerprints and returns the number removed.
func (g *PostgresGuard) Purge(ctx context.Context) (int64, error) {
	result, err := g.pool.Exec(ctx, `DELETE FROM seen_envelopes WHERE expires_at < $1`, g.now())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired fingerprints: %w", err)
	}
	return result.RowsAffected(), nil
}

// RunPurger calls Purge every interval until ctx is cancelled.
func (g *PostgresGuard) RunPurger(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := g.Purge(ctx)
			if err != nil {
				logger.Warn("replay purge failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				logger.Debug("purged expired fingerprints", slog.Int64("count", n))
			}
		}
	}
}

func (g *PostgresGuard) Ping(ctx context.Context) error {
	return g.pool.Ping(ctx)
}

// Close is a no-op: the pool is owned by the caller.
func (g *PostgresGuard) Close() error {
	return nil
}
