package client

import (
	"log/slog"
	"sync"
	"time"

	"github.com/theamanone/encstream/internal/crypto"
)

// DebugInfo records one seal operation made by the client.
//
// OriginalData holds the plaintext: only enable the debugger in development.
type DebugInfo struct {
	OriginalData  any              `json:"originalData"`
	EncryptedData *crypto.Envelope `json:"encryptedData"`
	Timestamp     time.Time        `json:"timestamp"`
	Duration      time.Duration    `json:"duration"`
}

// Debugger keeps an in-memory history of DebugInfo records. A disabled debugger records nothing.
type Debugger struct {
	mu      sync.Mutex
	enabled bool
	logs    []DebugInfo
	logger  *slog.Logger
}

// NewDebugger creates a debugger. Records are also logged at debug level on logger when it is not nil.
func NewDebugger(enabled bool, logger *slog.Logger) *Debugger {
	return &Debugger{
		enabled: enabled,
		logger:  logger,
	}
}

// Enabled reports whether the debugger records anything.
func (d *Debugger) Enabled() bool {
	return d != nil && d.enabled
}

// Log records info.
func (d *Debugger) Log(info DebugInfo) {
	if !d.Enabled() {
		return
	}

	d.mu.Lock()
	d.logs = append(d.logs, info)
	d.mu.Unlock()

	if d.logger != nil {
		d.logger.Debug("encstream debug",
			slog.Any("original_data", info.OriginalData),
			slog.Any("encrypted_data", info.EncryptedData),
			slog.Time("timestamp", info.Timestamp),
			slog.Duration("duration", info.Duration),
		)
	}
}

// Logs returns a copy of the recorded entries, oldest first.
func (d *Debugger) Logs() []DebugInfo {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	logs := make([]DebugInfo, len(d.logs))
	copy(logs, d.logs)
	return logs
}

// Clear removes all recorded entries.
func (d *Debugger) Clear() {
	if d == nil {
		return
	}
	d.mu.Lock()
	d.logs = nil
	d.mu.Unlock()
}
