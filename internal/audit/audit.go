// Package audit writes the append-only security log: one JSON record per
// security-relevant decision, one record per line.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"sqlgate/internal/domain"
)

// Logger appends SecurityAuditEvents as JSON lines. A failed write is
// reported to the diagnostic logger and otherwise swallowed; it never aborts
// the gated operation. Safe for concurrent use.
type Logger struct {
	mu   sync.Mutex
	out  io.Writer
	file *os.File
	diag *slog.Logger
}

// Open creates or appends to the audit log file at path.
func Open(path string, diag *slog.Logger) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log %s: %w", path, err)
	}
	return &Logger{out: f, file: f, diag: diag}, nil
}

// NewWriter creates a Logger over an arbitrary writer; the caller owns the
// writer's lifecycle.
func NewWriter(w io.Writer, diag *slog.Logger) *Logger {
	return &Logger{out: w, diag: diag}
}

// Record appends one event, best-effort.
func (l *Logger) Record(event domain.SecurityAuditEvent) {
	line, err := json.Marshal(event)
	if err != nil {
		l.report(err)
		return
	}
	line = append(line, '\n')

	l.mu.Lock()
	_, err = l.out.Write(line)
	l.mu.Unlock()
	if err != nil {
		l.report(err)
	}
}

// Close closes the underlying file when the Logger owns one.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func (l *Logger) report(err error) {
	if l.diag == nil {
		return
	}
	l.diag.Warn("security audit write failed", "error", &domain.AuditWriteFailedError{Err: err})
}

var _ domain.AuditSink = (*Logger)(nil)
