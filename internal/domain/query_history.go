package domain

import "time"

// QueryHistoryEntry records one executed statement: direct executions and
// confirmed mutations, successful or failed. Blocked and still-pending
// proposals are not history; those live in the security audit log.
type QueryHistoryEntry struct {
	ID           int64
	ExecutedAt   time.Time
	Keyword      string
	Statement    string
	RiskLevel    RiskLevel
	Confirmed    bool
	Status       string
	ErrorMessage *string
	DurationMs   int64
	RowCount     int64
}

// QueryHistoryFilter holds filter parameters for listing history.
type QueryHistoryFilter struct {
	Status *string
	Limit  int
}
