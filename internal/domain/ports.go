package domain

import "context"

// Executor runs statements against the live database.
// Implemented by engine.SQLExecutor.
type Executor interface {
	// Query runs a statement expected to return a recordset.
	Query(ctx context.Context, sqlText string) (*QueryResult, error)
	// Exec runs a statement expected to mutate rows and reports rows affected.
	Exec(ctx context.Context, sqlText string) (*QueryResult, error)
	// ExecProcedure invokes a stored procedure with named parameters and
	// returns any recordset it produces.
	ExecProcedure(ctx context.Context, name string, params map[string]any) (*QueryResult, error)
	// QueryValue runs a statement expected to return a single integer scalar.
	QueryValue(ctx context.Context, sqlText string) (int64, error)
}

// AuditSink records security audit events. Implementations must be safe for
// concurrent use and must never let a write failure reach the caller.
type AuditSink interface {
	Record(event SecurityAuditEvent)
}

// HistoryRecorder persists executed-statement history.
// Implemented by repository.QueryHistoryRepo.
type HistoryRecorder interface {
	Insert(ctx context.Context, entry *QueryHistoryEntry) error
}
