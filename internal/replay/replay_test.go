package replay

import (
	"context"
	"testing"
	"time"

	"github.com/theamanone/encstream/internal/crypto"
)

func TestCheck(t *testing.T) {
	g, err := NewMemoryGuard(time.Minute, 16)
	if err != nil {
		t.Fatalf("NewMemoryGuard() error: %v", err)
	}
	ctx := context.Background()

	if err := Check(ctx, g, testEnvelope(7)); err != nil {
		t.Fatalf("Check() first use error: %v", err)
	}

	err = Check(ctx, g, testEnvelope(7))
	code, ok := crypto.ErrorCodeOf(err)
	if !ok || code != crypto.ErrCodeReplayed {
		t.Errorf("Check() replay error = %v, want code %q", err, crypto.ErrCodeReplayed)
	}
}

func TestNopGuard(t *testing.T) {
	var g Guard = NopGuard{}
	for i := 0; i < 2; i++ {
		if err := Check(context.Background(), g, testEnvelope(1)); err != nil {
			t.Errorf("NopGuard Check() error: %v", err)
		}
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"memory", Options{Store: StoreMemory, Window: time.Minute, FilterSizeLog2: 12}, false},
		{"default is memory", Options{Window: time.Minute, FilterSizeLog2: 12}, false},
		{"none", Options{Store: StoreNone}, false},
		{"postgres without pool", Options{Store: StorePostgres, Window: time.Minute}, true},
		{"unknown", Options{Store: "redis"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := New(tt.opts)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error: %v", err)
			}
			if err := g.Ping(context.Background()); err != nil {
				t.Errorf("Ping() error: %v", err)
			}
		})
	}
}
