// Package engine wraps database/sql for SQL Server: text queries, mutating
// statements, stored-procedure invocation, and scalar queries, all under one
// shared timeout budget.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"sqlgate/internal/domain"
)

// DefaultQueryTimeout bounds every database call when no timeout is
// configured.
const DefaultQueryTimeout = 30 * time.Second

// SQLExecutor implements domain.Executor over a *sql.DB connected with the
// go-mssqldb driver.
type SQLExecutor struct {
	db      *sql.DB
	timeout time.Duration
	logger  *slog.Logger
}

var _ domain.Executor = (*SQLExecutor)(nil)

// New creates a SQLExecutor. A zero or negative timeout falls back to
// DefaultQueryTimeout.
func New(db *sql.DB, timeout time.Duration, logger *slog.Logger) *SQLExecutor {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLExecutor{db: db, timeout: timeout, logger: logger}
}

// Query runs a statement expected to return a recordset.
func (e *SQLExecutor) Query(ctx context.Context, sqlText string) (*domain.QueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	rows, err := e.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	result, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("scan results: %w", err)
	}
	result.DurationMs = time.Since(start).Milliseconds()
	return result, nil
}

// Exec runs a statement expected to mutate rows.
func (e *SQLExecutor) Exec(ctx context.Context, sqlText string) (*domain.QueryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	res, err := e.db.ExecContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("exec: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		// Some statements (DDL) report no row count; that is not a failure.
		e.logger.Debug("rows affected unavailable", "error", err)
		affected = 0
	}
	return &domain.QueryResult{
		RowsAffected: affected,
		DurationMs:   time.Since(start).Milliseconds(),
	}, nil
}

// ExecProcedure invokes a stored procedure with named parameters and returns
// any recordset it produces.
func (e *SQLExecutor) ExecProcedure(ctx context.Context, name string, params map[string]any) (*domain.QueryResult, error) {
	callText, args, err := BuildProcedureCall(name, params)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	rows, err := e.db.QueryContext(ctx, callText, args...)
	if err != nil {
		return nil, fmt.Errorf("exec procedure %s: %w", name, err)
	}
	defer rows.Close() //nolint:errcheck

	result, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("scan procedure results: %w", err)
	}
	result.DurationMs = time.Since(start).Milliseconds()
	return result, nil
}

// QueryValue runs a statement expected to return a single integer scalar,
// the estimator's COUNT path.
func (e *SQLExecutor) QueryValue(ctx context.Context, sqlText string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var value int64
	if err := e.db.QueryRowContext(ctx, sqlText).Scan(&value); err != nil {
		return 0, fmt.Errorf("query value: %w", err)
	}
	return value, nil
}

// BuildProcedureCall renders "EXEC [schema].[name] @p = @p, ..." with
// sql.Named arguments. Parameter names are emitted in sorted order so the
// call text is deterministic.
func BuildProcedureCall(name string, params map[string]any) (string, []any, error) {
	quoted, err := QuoteQualifiedName(name)
	if err != nil {
		return "", nil, err
	}

	if len(params) == 0 {
		return "EXEC " + quoted, nil, nil
	}

	names := make([]string, 0, len(params))
	seen := make(map[string]struct{}, len(params))
	for p := range params {
		trimmed := strings.TrimPrefix(p, "@")
		// "Foo" and "@Foo" name the same parameter; passing both is a
		// caller mistake, not a choice to resolve silently.
		if _, dup := seen[trimmed]; dup {
			return "", nil, domain.ErrValidation("duplicate parameter name %q", trimmed)
		}
		seen[trimmed] = struct{}{}
		names = append(names, trimmed)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	args := make([]any, 0, len(names))
	for _, p := range names {
		if !validParamName(p) {
			return "", nil, domain.ErrValidation("invalid parameter name %q", p)
		}
		parts = append(parts, fmt.Sprintf("@%s = @%s", p, p))
		value, ok := params[p]
		if !ok {
			value = params["@"+p]
		}
		args = append(args, sql.Named(p, value))
	}
	return fmt.Sprintf("EXEC %s %s", quoted, strings.Join(parts, ", ")), args, nil
}

// QuoteQualifiedName bracket-quotes a possibly schema-qualified object name:
// "dbo.Orders" -> "[dbo].[Orders]". At most two parts are accepted.
func QuoteQualifiedName(name string) (string, error) {
	parts := strings.Split(strings.TrimSpace(name), ".")
	if len(parts) == 0 || len(parts) > 2 {
		return "", domain.ErrValidation("invalid object name %q", name)
	}
	quoted := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimPrefix(p, "[")
		p = strings.TrimSuffix(p, "]")
		if p == "" {
			return "", domain.ErrValidation("invalid object name %q", name)
		}
		quoted = append(quoted, QuoteIdentifier(p))
	}
	return strings.Join(quoted, "."), nil
}

// QuoteIdentifier bracket-quotes one identifier, doubling any closing
// bracket inside it.
func QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// validParamName accepts identifiers safe to splice into the EXEC text:
// letters, digits, and underscores, not starting with a digit.
func validParamName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// scanRows shapes a recordset into a QueryResult, converting byte slices to
// strings for JSON serialization.
func scanRows(rows *sql.Rows) (*domain.QueryResult, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var resultRows [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make([]any, len(vals))
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				row[i] = string(b)
			} else {
				row[i] = v
			}
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &domain.QueryResult{
		Columns:  cols,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}
