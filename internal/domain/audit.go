package domain

import "time"

// AuditResult is the recorded outcome of a security event.
type AuditResult string

const (
	AuditSuccess   AuditResult = "SUCCESS"
	AuditFailed    AuditResult = "FAILED"
	AuditCancelled AuditResult = "CANCELLED"
)

// MaxAuditStatementLen caps statement text stored in audit and history
// records.
const MaxAuditStatementLen = 500

// SecurityAuditEvent is one security-relevant decision: a blocked, executed,
// or pending operation. Every attempted mutation produces exactly one event.
type SecurityAuditEvent struct {
	Timestamp      time.Time   `json:"timestamp"`
	Keyword        string      `json:"keyword"`
	Statement      string      `json:"statement"`
	RiskLevel      RiskLevel   `json:"risk_level"`
	Confirmed      bool        `json:"confirmed"`
	EstimatedRows  int64       `json:"estimated_rows"`
	AffectedTables []string    `json:"affected_tables,omitempty"`
	Result         AuditResult `json:"result"`
	Error          string      `json:"error,omitempty"`
}

// TruncateStatement shortens statement text to MaxAuditStatementLen
// characters, counting runes so multi-byte text is never split.
func TruncateStatement(s string) string {
	r := []rune(s)
	if len(r) <= MaxAuditStatementLen {
		return s
	}
	return string(r[:MaxAuditStatementLen])
}
