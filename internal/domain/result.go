package domain

// QueryResult is the shaped outcome of one database call: a recordset for
// reads, rows affected for writes, both possible for procedures.
type QueryResult struct {
	Columns      []string `json:"columns,omitempty"`
	Rows         [][]any  `json:"rows,omitempty"`
	RowCount     int      `json:"row_count"`
	RowsAffected int64    `json:"rows_affected,omitempty"`
	DurationMs   int64    `json:"duration_ms"`
}

// ProposalStatus is the terminal state of a propose call.
type ProposalStatus string

const (
	ProposalExecuted ProposalStatus = "EXECUTED"
	ProposalBlocked  ProposalStatus = "BLOCKED"
	ProposalAwaiting ProposalStatus = "AWAITING_CONFIRMATION"
)

// ProposalResult is returned by ProposeQuery and ProposeProcedure.
// Exactly one of the three statuses applies: EXECUTED carries Result,
// BLOCKED carries Message, AWAITING_CONFIRMATION carries Token, Message,
// and the estimate that motivated the confirmation request.
type ProposalResult struct {
	Status         ProposalStatus     `json:"status"`
	Message        string             `json:"message,omitempty"`
	Token          string             `json:"confirmation_token,omitempty"`
	Classification RiskClassification `json:"classification"`
	Estimate       *ImpactEstimate    `json:"estimate,omitempty"`
	Result         *QueryResult       `json:"result,omitempty"`
}

// ConfirmStatus is the terminal state of a confirm call.
type ConfirmStatus string

const (
	ConfirmExecuted ConfirmStatus = "EXECUTED"
	ConfirmExpired  ConfirmStatus = "EXPIRED"
)

// ConfirmResult is returned by ConfirmAndExecute.
type ConfirmResult struct {
	Status  ConfirmStatus `json:"status"`
	Message string        `json:"message,omitempty"`
	Result  *QueryResult  `json:"result,omitempty"`
}

// SecurityLevel summarizes the posture implied by the feature-flag pair.
type SecurityLevel string

const (
	SecurityMaximum SecurityLevel = "MAXIMUM"
	SecurityMedium  SecurityLevel = "MEDIUM"
	SecurityLow     SecurityLevel = "LOW"
)

// SecurityStatus reports the current flags, the derived security level, and
// recommendation text for the operator.
type SecurityStatus struct {
	ModificationsEnabled    bool          `json:"modifications_enabled"`
	StoredProceduresEnabled bool          `json:"stored_procedures_enabled"`
	SecurityLevel           SecurityLevel `json:"security_level"`
	Recommendations         []string      `json:"recommendations"`
}
