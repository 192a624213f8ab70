package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// OperationKind distinguishes raw SQL text from a stored-procedure call.
type OperationKind string

const (
	OperationQuery     OperationKind = "query"
	OperationProcedure OperationKind = "procedure"
)

// OperationRequest is one inbound database operation as submitted by the
// tool layer: either raw SQL text or a qualified stored-procedure name with
// a parameter map.
type OperationRequest struct {
	Kind        OperationKind
	SQL         string
	Procedure   string
	Params      map[string]any
	SubmittedAt time.Time
}

// Statement returns the text form of the request used for classification,
// auditing, and history. For procedure calls this is the rendered call with
// parameter names only; values are never included.
func (r OperationRequest) Statement() string {
	if r.Kind == OperationProcedure {
		return RenderProcedureCall(r.Procedure, r.Params)
	}
	return r.SQL
}

// RenderProcedureCall renders a procedure call as statement text for display
// and logging. Parameter names are listed in sorted order; values are
// deliberately omitted so they never reach a log.
func RenderProcedureCall(name string, params map[string]any) string {
	if len(params) == 0 {
		return "EXEC " + name
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		keys[i] = "@" + strings.TrimPrefix(k, "@")
	}
	return fmt.Sprintf("EXEC %s %s", name, strings.Join(keys, ", "))
}

// RiskLevel is the coarse severity bucket assigned to a classified operation.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// OperationCategory is the base category that selects the governing feature
// flag. Confirmation never substitutes for a disabled flag.
type OperationCategory string

const (
	CategoryRead    OperationCategory = "read"
	CategoryWrite   OperationCategory = "write"
	CategoryExecute OperationCategory = "execute"
)

// RiskClassification is the classifier's verdict on one operation.
type RiskClassification struct {
	Keyword              string            `json:"keyword"`
	Category             OperationCategory `json:"category"`
	Level                RiskLevel         `json:"risk_level"`
	RequiresConfirmation bool              `json:"requires_confirmation"`
	Reason               string            `json:"reason"`
}

// ImpactEstimate approximates the row/table footprint of a pending mutation.
// It is always derived without executing the mutating statement itself.
type ImpactEstimate struct {
	EstimatedRows  int64    `json:"estimated_rows"`
	AffectedTables []string `json:"affected_tables,omitempty"`
	Warning        string   `json:"warning,omitempty"`
}

// PendingOperation is a proposed mutation parked in the pending store until
// it is confirmed, cancelled, or expires.
type PendingOperation struct {
	Token          string
	Request        OperationRequest
	Classification RiskClassification
	Estimate       ImpactEstimate
	CreatedAt      time.Time
}
