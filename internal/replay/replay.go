// Package replay detects envelopes that are presented more than once inside the freshness window.
//
// Envelopes carry no identifier, so a guard keys on the envelope fingerprint (iv and timestamp).
// Guards must only be consulted after Codec.Open has authenticated the envelope, otherwise an
// attacker could poison the guard with forged fingerprints.
//
// A guard needs to remember a fingerprint for at least the validator's max age: after that the
// envelope is rejected as stale anyway.
package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/theamanone/encstream/internal/crypto"
)

// Store names accepted by New.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreNone     = "none"
)

// ErrSaturated is returned by MemoryGuard when every filter generation inside the window is full.
var ErrSaturated = errors.New("replay filter saturated")

// Guard records authenticated envelopes.
type Guard interface {
	// Seen records env and reports whether it had already been recorded.
	Seen(ctx context.Context, env *crypto.Envelope) (bool, error)

	// Ping reports whether the guard's backing store is available.
	Ping(ctx context.Context) error

	Close() error
}

// Check records env with g and returns a crypto replayed error if it had been seen before.
func Check(ctx context.Context, g Guard, env *crypto.Envelope) error {
	seen, err := g.Seen(ctx, env)
	if err != nil {
		return fmt.Errorf("replay check failed: %w", err)
	}
	if seen {
		return crypto.NewReplayedError("envelope has already been used")
	}
	return nil
}

// NopGuard never reports a replay.
type NopGuard struct{}

func (NopGuard) Seen(context.Context, *crypto.Envelope) (bool, error) { return false, nil }
func (NopGuard) Ping(context.Context) error                           { return nil }
func (NopGuard) Close() error                                         { return nil }

// Options selects and configures a guard.
type Options struct {
	// Store is one of StoreMemory, StorePostgres or StoreNone.
	Store string

	// Window is how long fingerprints are remembered; use the validator's max age.
	Window time.Duration

	// FilterSizeLog2 sizes the memory guard (0 for the default).
	FilterSizeLog2 int

	// Pool is required for StorePostgres.
	Pool *pgxpool.Pool
}

// New creates the guard named by opts.Store.
func New(opts Options) (Guard, error) {
	switch opts.Store {
	case StoreMemory, "":
		return NewMemoryGuard(opts.Window, opts.FilterSizeLog2)
	case StorePostgres:
		return NewPostgresGuard(opts.Pool, opts.Window)
	case StoreNone:
		return NopGuard{}, nil
	default:
		return nil, fmt.Errorf("unknown replay store %q", opts.Store)
	}
}
