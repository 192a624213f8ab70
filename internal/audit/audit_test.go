package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlgate/internal/domain"
)

func sampleEvent(result domain.AuditResult) domain.SecurityAuditEvent {
	return domain.SecurityAuditEvent{
		Timestamp:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Keyword:        "DELETE",
		Statement:      "DELETE FROM orders WHERE id = 1",
		RiskLevel:      domain.RiskHigh,
		Confirmed:      true,
		EstimatedRows:  3,
		AffectedTables: []string{"orders"},
		Result:         result,
	}
}

func TestRecord_OneJSONLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, slog.New(slog.DiscardHandler))

	logger.Record(sampleEvent(domain.AuditSuccess))
	logger.Record(sampleEvent(domain.AuditCancelled))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)

	var got domain.SecurityAuditEvent
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	assert.Equal(t, "DELETE", got.Keyword)
	assert.Equal(t, domain.RiskHigh, got.RiskLevel)
	assert.Equal(t, domain.AuditSuccess, got.Result)
	assert.Equal(t, []string{"orders"}, got.AffectedTables)
	assert.True(t, got.Confirmed)

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &got))
	assert.Equal(t, domain.AuditCancelled, got.Result)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, fmt.Errorf("disk full")
}

func TestRecord_WriteFailureIsSwallowed(t *testing.T) {
	var diagBuf bytes.Buffer
	diag := slog.New(slog.NewTextHandler(&diagBuf, nil))
	logger := NewWriter(failingWriter{}, diag)

	logger.Record(sampleEvent(domain.AuditFailed))

	assert.Contains(t, diagBuf.String(), "security audit write failed")
	assert.Contains(t, diagBuf.String(), "disk full")
}

func TestRecord_NilDiagDoesNotPanic(t *testing.T) {
	logger := NewWriter(failingWriter{}, nil)
	logger.Record(sampleEvent(domain.AuditFailed))
}

func TestOpen_AppendsAcrossReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	logger, err := Open(path, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	logger.Record(sampleEvent(domain.AuditSuccess))
	require.NoError(t, logger.Close())

	logger, err = Open(path, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	logger.Record(sampleEvent(domain.AuditFailed))
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	assert.Len(t, lines, 2)
}
