package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"sqlgate/internal/domain"
)

var errTest = errors.New("boom")

// fakeExecutor counts invocations and routes each call through an optional
// function field; calls without one configured panic.
type fakeExecutor struct {
	mu              sync.Mutex
	queryCalls      int
	execCalls       int
	procCalls       int
	queryValueCalls int

	queryFn      func(ctx context.Context, sqlText string) (*domain.QueryResult, error)
	execFn       func(ctx context.Context, sqlText string) (*domain.QueryResult, error)
	procFn       func(ctx context.Context, name string, params map[string]any) (*domain.QueryResult, error)
	queryValueFn func(ctx context.Context, sqlText string) (int64, error)
}

var _ domain.Executor = (*fakeExecutor)(nil)

func (f *fakeExecutor) Query(ctx context.Context, sqlText string) (*domain.QueryResult, error) {
	f.mu.Lock()
	f.queryCalls++
	f.mu.Unlock()
	if f.queryFn == nil {
		panic("unexpected call to Query")
	}
	return f.queryFn(ctx, sqlText)
}

func (f *fakeExecutor) Exec(ctx context.Context, sqlText string) (*domain.QueryResult, error) {
	f.mu.Lock()
	f.execCalls++
	f.mu.Unlock()
	if f.execFn == nil {
		panic("unexpected call to Exec")
	}
	return f.execFn(ctx, sqlText)
}

func (f *fakeExecutor) ExecProcedure(ctx context.Context, name string, params map[string]any) (*domain.QueryResult, error) {
	f.mu.Lock()
	f.procCalls++
	f.mu.Unlock()
	if f.procFn == nil {
		panic("unexpected call to ExecProcedure")
	}
	return f.procFn(ctx, name, params)
}

func (f *fakeExecutor) QueryValue(ctx context.Context, sqlText string) (int64, error) {
	f.mu.Lock()
	f.queryValueCalls++
	f.mu.Unlock()
	if f.queryValueFn == nil {
		panic("unexpected call to QueryValue")
	}
	return f.queryValueFn(ctx, sqlText)
}

func (f *fakeExecutor) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queryCalls + f.execCalls + f.procCalls + f.queryValueCalls
}

// fakeEstimator returns a canned estimate without touching a database.
type fakeEstimator struct {
	estimate domain.ImpactEstimate
	calls    int
}

var _ ImpactEstimator = (*fakeEstimator)(nil)

func (f *fakeEstimator) Statement(_ context.Context, _, _ string) domain.ImpactEstimate {
	f.calls++
	return f.estimate
}

func (f *fakeEstimator) Procedure(_ string) domain.ImpactEstimate {
	f.calls++
	return domain.ImpactEstimate{AffectedTables: []string{"(stored procedure)"}}
}

// fakeAudit collects events in memory.
type fakeAudit struct {
	mu     sync.Mutex
	events []domain.SecurityAuditEvent
}

var _ domain.AuditSink = (*fakeAudit)(nil)

func (f *fakeAudit) Record(event domain.SecurityAuditEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeAudit) last() domain.SecurityAuditEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		panic("no audit events recorded")
	}
	return f.events[len(f.events)-1]
}

func (f *fakeAudit) countResult(result domain.AuditResult) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.Result == result {
			n++
		}
	}
	return n
}

// testClock is a settable clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type gateHarness struct {
	gate  *Gate
	exec  *fakeExecutor
	audit *fakeAudit
	clock *testClock
}

func newHarness(t *testing.T, flags Flags) *gateHarness {
	t.Helper()
	exec := &fakeExecutor{}
	aud := &fakeAudit{}
	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	tokenSeq := 0
	g := New(Config{
		Flags:     flags,
		Executor:  exec,
		Estimator: &fakeEstimator{estimate: domain.ImpactEstimate{EstimatedRows: 3, AffectedTables: []string{"dbo.T"}}},
		Audit:     aud,
		Clock:     clock.Now,
		NewToken: func(time.Time) string {
			tokenSeq++
			return fmt.Sprintf("CONFIRM-TEST-%04d", tokenSeq)
		},
	})
	return &gateHarness{gate: g, exec: exec, audit: aud, clock: clock}
}

func TestProposeQuery_ReadExecutesDirectly(t *testing.T) {
	h := newHarness(t, Flags{}) // both flags disabled
	h.exec.queryFn = func(_ context.Context, _ string) (*domain.QueryResult, error) {
		return &domain.QueryResult{Columns: []string{"Id"}, Rows: [][]any{{int64(1)}}, RowCount: 1}, nil
	}

	res, err := h.gate.ProposeQuery(context.Background(), "SELECT TOP 5 * FROM [dbo].[T]")
	if err != nil {
		t.Fatalf("ProposeQuery: %v", err)
	}
	if res.Status != domain.ProposalExecuted {
		t.Fatalf("status = %s, want EXECUTED", res.Status)
	}
	if res.Result == nil || res.Result.RowCount != 1 {
		t.Fatalf("result = %+v, want one row", res.Result)
	}
	if got := h.audit.countResult(domain.AuditCancelled); got != 0 {
		t.Errorf("CANCELLED audit events = %d, want 0", got)
	}
	if got := h.audit.countResult(domain.AuditSuccess); got != 1 {
		t.Errorf("SUCCESS audit events = %d, want 1", got)
	}
}

func TestProposeQuery_WriteBlockedWhenModificationsDisabled(t *testing.T) {
	h := newHarness(t, Flags{})

	res, err := h.gate.ProposeQuery(context.Background(), "DELETE FROM [dbo].[T]")
	if err != nil {
		t.Fatalf("ProposeQuery: %v", err)
	}
	if res.Status != domain.ProposalBlocked {
		t.Fatalf("status = %s, want BLOCKED", res.Status)
	}
	if h.exec.totalCalls() != 0 {
		t.Errorf("executor invoked %d times, want 0", h.exec.totalCalls())
	}
	if got := h.audit.countResult(domain.AuditCancelled); got != 1 {
		t.Errorf("CANCELLED audit events = %d, want 1", got)
	}
}

func TestProposeProcedure_BlockedWhenProceduresDisabled(t *testing.T) {
	h := newHarness(t, Flags{ModificationsAllowed: true})

	res, err := h.gate.ProposeProcedure(context.Background(), "dbo.UpdateInventory", map[string]any{"Qty": 5})
	if err != nil {
		t.Fatalf("ProposeProcedure: %v", err)
	}
	if res.Status != domain.ProposalBlocked {
		t.Fatalf("status = %s, want BLOCKED", res.Status)
	}
	if h.exec.totalCalls() != 0 {
		t.Errorf("executor invoked %d times, want 0", h.exec.totalCalls())
	}
}

func TestProposeProcedure_ReadIntentExecutesDirectly(t *testing.T) {
	h := newHarness(t, Flags{StoredProceduresAllowed: true})
	h.exec.procFn = func(_ context.Context, name string, _ map[string]any) (*domain.QueryResult, error) {
		if name != "dbo.GetOrders" {
			t.Errorf("procedure = %q, want dbo.GetOrders", name)
		}
		return &domain.QueryResult{RowCount: 2}, nil
	}

	res, err := h.gate.ProposeProcedure(context.Background(), "dbo.GetOrders", nil)
	if err != nil {
		t.Fatalf("ProposeProcedure: %v", err)
	}
	if res.Status != domain.ProposalExecuted {
		t.Fatalf("status = %s, want EXECUTED", res.Status)
	}
}

func TestProposeQuery_DeleteAwaitsConfirmationAndConfirms(t *testing.T) {
	h := newHarness(t, Flags{ModificationsAllowed: true})
	h.exec.execFn = func(_ context.Context, _ string) (*domain.QueryResult, error) {
		return &domain.QueryResult{RowsAffected: 1}, nil
	}

	res, err := h.gate.ProposeQuery(context.Background(), "DELETE FROM [dbo].[T] WHERE Id=1")
	if err != nil {
		t.Fatalf("ProposeQuery: %v", err)
	}
	if res.Status != domain.ProposalAwaiting {
		t.Fatalf("status = %s, want AWAITING_CONFIRMATION", res.Status)
	}
	if res.Classification.Level != domain.RiskHigh {
		t.Errorf("risk = %s, want HIGH", res.Classification.Level)
	}
	if res.Token == "" {
		t.Fatal("token is empty")
	}
	if h.exec.execCalls != 0 {
		t.Errorf("Exec called %d times before confirm, want 0", h.exec.execCalls)
	}
	// Pending proposals are audited CANCELLED: nothing has executed.
	if got := h.audit.countResult(domain.AuditCancelled); got != 1 {
		t.Errorf("CANCELLED audit events = %d, want 1", got)
	}

	conf, err := h.gate.ConfirmAndExecute(context.Background(), res.Token)
	if err != nil {
		t.Fatalf("ConfirmAndExecute: %v", err)
	}
	if conf.Status != domain.ConfirmExecuted {
		t.Fatalf("confirm status = %s, want EXECUTED", conf.Status)
	}
	if conf.Result.RowsAffected != 1 {
		t.Errorf("rows affected = %d, want 1", conf.Result.RowsAffected)
	}
	if h.exec.execCalls != 1 {
		t.Errorf("Exec called %d times, want 1", h.exec.execCalls)
	}
}

func TestConfirmAndExecute_TokenIsSingleUse(t *testing.T) {
	h := newHarness(t, Flags{ModificationsAllowed: true})
	h.exec.execFn = func(_ context.Context, _ string) (*domain.QueryResult, error) {
		return &domain.QueryResult{RowsAffected: 2}, nil
	}

	res, err := h.gate.ProposeQuery(context.Background(), "UPDATE dbo.T SET X = 1")
	if err != nil {
		t.Fatalf("ProposeQuery: %v", err)
	}

	first, err := h.gate.ConfirmAndExecute(context.Background(), res.Token)
	if err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	if first.Status != domain.ConfirmExecuted {
		t.Fatalf("first confirm status = %s, want EXECUTED", first.Status)
	}

	second, err := h.gate.ConfirmAndExecute(context.Background(), res.Token)
	if err != nil {
		t.Fatalf("second confirm: %v", err)
	}
	if second.Status != domain.ConfirmExpired {
		t.Fatalf("second confirm status = %s, want EXPIRED", second.Status)
	}
	if h.exec.execCalls != 1 {
		t.Errorf("Exec called %d times, want exactly 1", h.exec.execCalls)
	}
}

func TestConfirmAndExecute_ConcurrentConfirmsExecuteOnce(t *testing.T) {
	h := newHarness(t, Flags{ModificationsAllowed: true})
	h.exec.execFn = func(_ context.Context, _ string) (*domain.QueryResult, error) {
		return &domain.QueryResult{RowsAffected: 1}, nil
	}

	res, err := h.gate.ProposeQuery(context.Background(), "DELETE FROM dbo.T WHERE Id = 9")
	if err != nil {
		t.Fatalf("ProposeQuery: %v", err)
	}

	const confirms = 16
	var wg sync.WaitGroup
	executed := make(chan domain.ConfirmStatus, confirms)
	for i := 0; i < confirms; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conf, err := h.gate.ConfirmAndExecute(context.Background(), res.Token)
			if err != nil {
				t.Errorf("confirm: %v", err)
				return
			}
			executed <- conf.Status
		}()
	}
	wg.Wait()
	close(executed)

	var wins int
	for status := range executed {
		if status == domain.ConfirmExecuted {
			wins++
		}
	}
	if wins != 1 {
		t.Errorf("EXECUTED confirms = %d, want exactly 1", wins)
	}
	if h.exec.execCalls != 1 {
		t.Errorf("Exec called %d times, want exactly 1", h.exec.execCalls)
	}
}

func TestConfirmAndExecute_ExpiredTokenNeverExecutes(t *testing.T) {
	h := newHarness(t, Flags{ModificationsAllowed: true})

	res, err := h.gate.ProposeQuery(context.Background(), "DELETE FROM dbo.T WHERE Id = 1")
	if err != nil {
		t.Fatalf("ProposeQuery: %v", err)
	}

	h.clock.Advance(5*time.Minute + time.Second)

	conf, err := h.gate.ConfirmAndExecute(context.Background(), res.Token)
	if err != nil {
		t.Fatalf("ConfirmAndExecute: %v", err)
	}
	if conf.Status != domain.ConfirmExpired {
		t.Fatalf("status = %s, want EXPIRED", conf.Status)
	}
	if h.exec.totalCalls() != 0 {
		t.Errorf("executor invoked %d times, want 0", h.exec.totalCalls())
	}
}

func TestConfirmAndExecute_ExecutionFailureAuditedFailed(t *testing.T) {
	h := newHarness(t, Flags{ModificationsAllowed: true})
	h.exec.execFn = func(_ context.Context, _ string) (*domain.QueryResult, error) {
		return nil, errTest
	}

	res, err := h.gate.ProposeQuery(context.Background(), "DELETE FROM dbo.T WHERE Id = 1")
	if err != nil {
		t.Fatalf("ProposeQuery: %v", err)
	}

	_, err = h.gate.ConfirmAndExecute(context.Background(), res.Token)
	var execErr *domain.ExecutionFailedError
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %v, want ExecutionFailedError", err)
	}
	if !errors.Is(err, errTest) {
		t.Errorf("driver error not preserved: %v", err)
	}
	if got := h.audit.countResult(domain.AuditFailed); got != 1 {
		t.Errorf("FAILED audit events = %d, want 1", got)
	}
}

func TestProposeQuery_AuditStatementTruncated(t *testing.T) {
	h := newHarness(t, Flags{})
	h.exec.queryFn = func(_ context.Context, _ string) (*domain.QueryResult, error) {
		return &domain.QueryResult{RowCount: 0}, nil
	}

	long := "SELECT * FROM t WHERE note = '" + strings.Repeat("日", 600) + "'"
	if _, err := h.gate.ProposeQuery(context.Background(), long); err != nil {
		t.Fatalf("ProposeQuery: %v", err)
	}

	got := h.audit.last().Statement
	if n := utf8.RuneCountInString(got); n != domain.MaxAuditStatementLen {
		t.Fatalf("audited statement rune count = %d, want %d", n, domain.MaxAuditStatementLen)
	}
	if !utf8.ValidString(got) {
		t.Fatal("audited statement is not valid UTF-8")
	}
	if !strings.HasPrefix(long, got) {
		t.Fatal("audited statement is not a prefix of the submitted statement")
	}
}

func TestProposeQuery_UnrecognizedKeywordFailsClosed(t *testing.T) {
	h := newHarness(t, Flags{ModificationsAllowed: true})

	res, err := h.gate.ProposeQuery(context.Background(), "GRANT SELECT ON dbo.T TO analyst")
	if err != nil {
		t.Fatalf("ProposeQuery: %v", err)
	}
	if res.Status != domain.ProposalAwaiting {
		t.Fatalf("status = %s, want AWAITING_CONFIRMATION", res.Status)
	}
	if res.Classification.Level != domain.RiskHigh {
		t.Errorf("risk = %s, want HIGH", res.Classification.Level)
	}
}

func TestProposeQuery_EmptyTextRejected(t *testing.T) {
	h := newHarness(t, Flags{})

	_, err := h.gate.ProposeQuery(context.Background(), "   ")
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
}

func TestSecurityStatus_Levels(t *testing.T) {
	tests := []struct {
		name  string
		flags Flags
		want  domain.SecurityLevel
	}{
		{"both disabled", Flags{}, domain.SecurityMaximum},
		{"modifications only", Flags{ModificationsAllowed: true}, domain.SecurityMedium},
		{"procedures only", Flags{StoredProceduresAllowed: true}, domain.SecurityMedium},
		{"both enabled", Flags{ModificationsAllowed: true, StoredProceduresAllowed: true}, domain.SecurityLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.flags)
			status := h.gate.SecurityStatus()
			if status.SecurityLevel != tt.want {
				t.Errorf("security level = %s, want %s", status.SecurityLevel, tt.want)
			}
			if len(status.Recommendations) != 2 {
				t.Errorf("recommendations = %d, want 2", len(status.Recommendations))
			}
		})
	}
}

func TestSecurityStatus_BothEnabledHasTwoCautions(t *testing.T) {
	h := newHarness(t, Flags{ModificationsAllowed: true, StoredProceduresAllowed: true})
	status := h.gate.SecurityStatus()
	for _, rec := range status.Recommendations {
		if !strings.Contains(rec, "ENABLED") {
			t.Errorf("recommendation %q is not cautionary", rec)
		}
	}
}
