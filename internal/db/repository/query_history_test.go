package repository

import (
	"context"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "sqlgate/internal/db"
	"sqlgate/internal/domain"
)

func setupQueryHistoryRepo(t *testing.T) *QueryHistoryRepo {
	t.Helper()
	return NewQueryHistoryRepo(internaldb.OpenTestSQLite(t))
}

func ptrStr(s string) *string { return &s }

func TestQueryHistoryRepo_InsertAndList(t *testing.T) {
	repo := setupQueryHistoryRepo(t)
	ctx := context.Background()

	first := &domain.QueryHistoryEntry{
		ExecutedAt: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		Keyword:    "SELECT",
		Statement:  "SELECT TOP 5 * FROM dbo.Orders",
		RiskLevel:  domain.RiskLow,
		Status:     "SUCCESS",
		DurationMs: 12,
		RowCount:   5,
	}
	require.NoError(t, repo.Insert(ctx, first))
	assert.NotZero(t, first.ID)

	require.NoError(t, repo.Insert(ctx, &domain.QueryHistoryEntry{
		ExecutedAt:   time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC),
		Keyword:      "DELETE",
		Statement:    "DELETE FROM dbo.Orders WHERE Id = 1",
		RiskLevel:    domain.RiskHigh,
		Confirmed:    true,
		Status:       "FAILED",
		ErrorMessage: ptrStr("deadlock victim"),
		DurationMs:   40,
	}))

	entries, err := repo.List(ctx, domain.QueryHistoryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first.
	assert.Equal(t, "DELETE", entries[0].Keyword)
	assert.True(t, entries[0].Confirmed)
	require.NotNil(t, entries[0].ErrorMessage)
	assert.Equal(t, "deadlock victim", *entries[0].ErrorMessage)

	assert.Equal(t, "SELECT", entries[1].Keyword)
	assert.Equal(t, domain.RiskLow, entries[1].RiskLevel)
	assert.Equal(t, int64(5), entries[1].RowCount)
	assert.Equal(t, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), entries[1].ExecutedAt)
}

func TestQueryHistoryRepo_FilterByStatus(t *testing.T) {
	repo := setupQueryHistoryRepo(t)
	ctx := context.Background()

	for _, status := range []string{"SUCCESS", "FAILED", "SUCCESS"} {
		require.NoError(t, repo.Insert(ctx, &domain.QueryHistoryEntry{
			Keyword:   "UPDATE",
			Statement: "UPDATE dbo.T SET X = 1",
			RiskLevel: domain.RiskMedium,
			Status:    status,
		}))
	}

	entries, err := repo.List(ctx, domain.QueryHistoryFilter{Status: ptrStr("FAILED")})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "FAILED", entries[0].Status)
}

func TestQueryHistoryRepo_LimitApplied(t *testing.T) {
	repo := setupQueryHistoryRepo(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Insert(ctx, &domain.QueryHistoryEntry{
			Keyword:   "SELECT",
			Statement: "SELECT 1",
			RiskLevel: domain.RiskLow,
			Status:    "SUCCESS",
		}))
	}

	entries, err := repo.List(ctx, domain.QueryHistoryFilter{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}
