package replay

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/yawning/bloom"

	"github.com/theamanone/encstream/internal/crypto"
)

// DefaultFilterSizeLog2 gives 2^27 bits (16 MiB) per generation, roughly 9.3 million entries at
// the default false positive rate.
const DefaultFilterSizeLog2 = 27

// falsePositiveRate is the target rate per generation. A false positive rejects a fresh
// envelope as replayed; the sender can simply seal again.
const falsePositiveRate = 0.001

// maxRetiredGenerations bounds the filters kept besides the current one. Early rotation of a
// saturated generation is refused once this many retired generations are still live.
const maxRetiredGenerations = 3

// MemoryGuard is an in-process guard backed by generations of bloom filters.
//
// Fingerprints are added to the current generation. The current generation is retired when it is
// older than the window, or early when it is full. A retired generation is consulted until one
// window after it stopped taking fingerprints, so every fingerprint is remembered for at least
// one window.
type MemoryGuard struct {
	sync.Mutex

	window   time.Duration
	sizeLog2 int
	now      func() time.Time
	random   io.Reader

	current   *bloom.Filter
	startedAt time.Time
	retired   []generation
}

type generation struct {
	filter  *bloom.Filter
	endedAt time.Time
}

// MemoryOption configures a MemoryGuard.
type MemoryOption func(*MemoryGuard)

// WithMemoryClock overrides the clock used to rotate generations.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(g *MemoryGuard) {
		g.now = now
	}
}

// NewMemoryGuard creates a MemoryGuard that remembers fingerprints for at least window.
// sizeLog2 is the size of each filter generation as a power of two bits (0 selects the default).
func NewMemoryGuard(window time.Duration, sizeLog2 int, opts ...MemoryOption) (*MemoryGuard, error) {
	if window <= 0 {
		return nil, fmt.Errorf("replay window must be positive, got %s", window)
	}
	if sizeLog2 == 0 {
		sizeLog2 = DefaultFilterSizeLog2
	}
	if sizeLog2 < 10 {
		return nil, fmt.Errorf("replay filter size 2^%d bits is too small", sizeLog2)
	}

	g := &MemoryGuard{
		window:   window,
		sizeLog2: sizeLog2,
		now:      time.Now,
		random:   rand.Reader,
	}
	for _, opt := range opts {
		opt(g)
	}

	f, err := g.newFilter()
	if err != nil {
		return nil, err
	}
	g.current = f
	g.startedAt = g.now()

	return g, nil
}

func (g *MemoryGuard) newFilter() (*bloom.Filter, error) {
	f, err := bloom.New(g.random, g.sizeLog2, falsePositiveRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create replay filter: %w", err)
	}
	return f, nil
}

// expire drops retired generations whose newest fingerprint is older than the window.
// Must be called with the lock held.
func (g *MemoryGuard) expire(now time.Time) {
	live := g.retired[:0]
	for _, gen := range g.retired {
		if now.Sub(gen.endedAt) < g.window {
			live = append(live, gen)
		}
	}
	clear(g.retired[len(live):])
	g.retired = live
}

// retire starts a new current generation. Must be called with the lock held.
func (g *MemoryGuard) retire(now time.Time) error {
	f, err := g.newFilter()
	if err != nil {
		return err
	}
	g.retired = append(g.retired, generation{filter: g.current, endedAt: now})
	g.current = f
	g.startedAt = now
	return nil
}

// Seen marks env as seen and reports whether it had been seen previously (test and set).
func (g *MemoryGuard) Seen(_ context.Context, env *crypto.Envelope) (bool, error) {
	tag := crypto.Fingerprint(env)

	g.Lock()
	defer g.Unlock()

	now := g.now()
	g.expire(now)
	if now.Sub(g.startedAt) >= g.window {
		if err := g.retire(now); err != nil {
			return false, err
		}
	}

	for _, gen := range g.retired {
		if gen.filter.Test(tag[:]) {
			return true, nil
		}
	}

	if g.current.Test(tag[:]) {
		return true, nil
	}

	// a saturated filter would report replays of fresh envelopes far more often than configured
	if g.current.Entries() >= g.current.MaxEntries() {
		if len(g.retired) >= maxRetiredGenerations {
			return false, ErrSaturated
		}
		if err := g.retire(now); err != nil {
			return false, err
		}
	}
	return g.current.TestAndSet(tag[:]), nil
}

// Len returns the number of fingerprints in the current generation.
func (g *MemoryGuard) Len() int {
	g.Lock()
	defer g.Unlock()
	return g.current.Entries()
}

// Capacity returns the maximum number of fingerprints a generation can hold.
func (g *MemoryGuard) Capacity() int {
	g.Lock()
	defer g.Unlock()
	return g.current.MaxEntries()
}

func (g *MemoryGuard) Ping(context.Context) error { return nil }

func (g *MemoryGuard) Close() error { return nil }
