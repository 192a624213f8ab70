// Package repository persists query history in SQLite.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sqlgate/internal/domain"
)

const timeLayout = "2006-01-02 15:04:05"

// defaultListLimit bounds history listings when the caller gives no limit.
const defaultListLimit = 50

// maxListLimit is the hard ceiling on one history listing.
const maxListLimit = 500

// QueryHistoryRepo implements domain history persistence over SQLite.
type QueryHistoryRepo struct {
	db *sql.DB
}

var _ domain.HistoryRecorder = (*QueryHistoryRepo)(nil)

// NewQueryHistoryRepo creates a QueryHistoryRepo.
func NewQueryHistoryRepo(db *sql.DB) *QueryHistoryRepo {
	return &QueryHistoryRepo{db: db}
}

// Insert records one executed statement.
func (r *QueryHistoryRepo) Insert(ctx context.Context, entry *domain.QueryHistoryEntry) error {
	executedAt := entry.ExecutedAt
	if executedAt.IsZero() {
		executedAt = time.Now()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO query_history
			(executed_at, keyword, statement, risk_level, confirmed, status, error_message, duration_ms, row_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		executedAt.UTC().Format(timeLayout),
		entry.Keyword,
		entry.Statement,
		string(entry.RiskLevel),
		boolToInt(entry.Confirmed),
		entry.Status,
		entry.ErrorMessage,
		entry.DurationMs,
		entry.RowCount,
	)
	if err != nil {
		return fmt.Errorf("insert query history: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// List returns history entries newest first, optionally filtered by status.
func (r *QueryHistoryRepo) List(ctx context.Context, filter domain.QueryHistoryFilter) ([]domain.QueryHistoryEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := `
		SELECT id, executed_at, keyword, statement, risk_level, confirmed, status, error_message, duration_ms, row_count
		FROM query_history`
	var args []any
	if filter.Status != nil {
		query += ` WHERE status = ?`
		args = append(args, *filter.Status)
	}
	query += ` ORDER BY executed_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list query history: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var entries []domain.QueryHistoryEntry
	for rows.Next() {
		var (
			e          domain.QueryHistoryEntry
			executedAt string
			confirmed  int64
			riskLevel  string
		)
		if err := rows.Scan(&e.ID, &executedAt, &e.Keyword, &e.Statement, &riskLevel,
			&confirmed, &e.Status, &e.ErrorMessage, &e.DurationMs, &e.RowCount); err != nil {
			return nil, fmt.Errorf("scan query history: %w", err)
		}
		if ts, err := time.ParseInLocation(timeLayout, executedAt, time.UTC); err == nil {
			e.ExecutedAt = ts
		}
		e.RiskLevel = domain.RiskLevel(riskLevel)
		e.Confirmed = confirmed != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
