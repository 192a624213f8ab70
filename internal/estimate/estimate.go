// Package estimate approximates the rows and tables a pending mutation would
// touch. The mutating statement itself is never executed: DELETE and UPDATE
// statements are rewritten into an equivalent SELECT COUNT(*) preserving
// FROM/WHERE, and table names are recovered by lightweight text matching.
// Both steps are best-effort, not a parser; subqueries and CTEs can over- or
// under-match.
package estimate

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"sqlgate/internal/domain"
)

// LargeImpactThreshold is the advisory row count above which a warning is
// attached to the estimate. The warning never blocks execution by itself.
const LargeImpactThreshold = 1000

// procedureSentinel stands in for the unknowable table list of a stored
// procedure.
const procedureSentinel = "(stored procedure)"

var (
	fromRe  = regexp.MustCompile(`(?i)\bfrom\b`)
	whereRe = regexp.MustCompile(`(?i)\bwhere\b`)
)

// tableMarkers are the keywords whose following token is taken as a
// candidate table name.
var tableMarkers = map[string]bool{
	"FROM":   true,
	"UPDATE": true,
	"INTO":   true,
	"JOIN":   true,
}

// Estimator computes impact estimates through a live database handle.
type Estimator struct {
	exec   domain.Executor
	logger *slog.Logger
}

// New creates an Estimator backed by the given executor.
func New(exec domain.Executor, logger *slog.Logger) *Estimator {
	return &Estimator{exec: exec, logger: logger}
}

// Statement estimates the impact of a pending statement. A failed count
// query degrades to a warning; it never raises and never executes the
// original text. Row counts are only computed for DELETE and UPDATE.
func (e *Estimator) Statement(ctx context.Context, keyword, sqlText string) domain.ImpactEstimate {
	est := domain.ImpactEstimate{AffectedTables: ExtractTables(sqlText)}

	countSQL, ok := buildCountQuery(keyword, sqlText)
	if !ok {
		return est
	}

	rows, err := e.exec.QueryValue(ctx, countSQL)
	if err != nil {
		e.logger.Warn("impact estimate unavailable", "keyword", keyword, "error", err)
		est.Warning = "row count estimate unavailable"
		return est
	}
	if rows < 0 {
		rows = 0
	}
	est.EstimatedRows = rows
	if rows > LargeImpactThreshold {
		est.Warning = fmt.Sprintf("large impact: approximately %d rows would be affected", rows)
	}
	return est
}

// Procedure returns the fixed estimate for stored-procedure calls, whose
// impact is not computable without execution.
func (e *Estimator) Procedure(name string) domain.ImpactEstimate {
	return domain.ImpactEstimate{
		AffectedTables: []string{procedureSentinel},
		Warning:        "stored procedure impact cannot be estimated without execution",
	}
}

// buildCountQuery rewrites a DELETE or UPDATE into a read-only COUNT query
// preserving FROM/WHERE. Returns false when the statement is not one of the
// two or when no usable clause is found.
func buildCountQuery(keyword, sqlText string) (string, bool) {
	switch keyword {
	case "DELETE":
		loc := fromRe.FindStringIndex(sqlText)
		if loc == nil {
			return "", false
		}
		return "SELECT COUNT(*) " + firstStatement(sqlText[loc[0]:]), true

	case "UPDATE":
		fields := strings.Fields(sqlText)
		if len(fields) < 2 {
			return "", false
		}
		table := strings.TrimRight(fields[1], ",;")
		q := "SELECT COUNT(*) FROM " + table
		if loc := whereRe.FindStringIndex(sqlText); loc != nil {
			q += " " + firstStatement(sqlText[loc[0]:])
		}
		return q, true
	}
	return "", false
}

// firstStatement cuts the text at the first semicolon so the count query can
// never run a trailing statement from a batch.
func firstStatement(s string) string {
	if i := strings.Index(s, ";"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// ExtractTables returns the deduplicated, order-preserving list of candidate
// table names found after FROM/UPDATE/INTO/JOIN markers.
func ExtractTables(sqlText string) []string {
	fields := strings.Fields(sqlText)
	var tables []string
	seen := make(map[string]bool)

	for i := 0; i+1 < len(fields); i++ {
		if !tableMarkers[strings.ToUpper(fields[i])] {
			continue
		}
		name := cleanTableToken(fields[i+1])
		if name == "" {
			continue
		}
		key := strings.ToUpper(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		tables = append(tables, name)
	}
	return tables
}

// cleanTableToken strips quoting and trailing punctuation from a candidate
// token. Subqueries and stray keywords yield empty.
func cleanTableToken(tok string) string {
	tok = strings.TrimRight(tok, ",;)")
	if tok == "" || strings.HasPrefix(tok, "(") {
		return ""
	}
	tok = strings.ReplaceAll(tok, "[", "")
	tok = strings.ReplaceAll(tok, "]", "")
	tok = strings.Trim(tok, `"`)
	tok = strings.TrimRight(tok, ",;")

	switch strings.ToUpper(tok) {
	case "", "SELECT", "WHERE", "SET":
		return ""
	}
	return tok
}
