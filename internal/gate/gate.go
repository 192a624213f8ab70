// Package gate implements the query-safety gate: every write-capable
// database operation is classified, feature-flag checked, and either blocked,
// executed directly, or parked behind a single-use confirmation token.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"sqlgate/internal/classify"
	"sqlgate/internal/domain"
	"sqlgate/internal/pending"
)

// Flags is the feature-flag pair that gates whole operation categories.
// Both default to false; confirmation never substitutes for a disabled flag.
type Flags struct {
	ModificationsAllowed    bool
	StoredProceduresAllowed bool
}

// ImpactEstimator approximates the footprint of a pending mutation without
// executing it. Implemented by estimate.Estimator.
type ImpactEstimator interface {
	Statement(ctx context.Context, keyword, sqlText string) domain.ImpactEstimate
	Procedure(name string) domain.ImpactEstimate
}

// Config carries the gate's collaborators. Executor, Estimator, and Audit
// are required. Clock and NewToken are injectable for tests and fall back to
// the real clock and token generator. History is optional.
type Config struct {
	Flags             Flags
	Executor          domain.Executor
	Estimator         ImpactEstimator
	Audit             domain.AuditSink
	History           domain.HistoryRecorder
	Logger            *slog.Logger
	TTL               time.Duration
	Clock             pending.NowFunc
	NewToken          pending.TokenFunc
	ExtraReadPrefixes []string
}

// Gate is the execution gateway. One instance per process; it owns the
// pending store, clock, and token generator.
type Gate struct {
	flags        Flags
	exec         domain.Executor
	estimator    ImpactEstimator
	audit        domain.AuditSink
	history      domain.HistoryRecorder
	store        *pending.Store
	now          pending.NowFunc
	newToken     pending.TokenFunc
	readPrefixes []string
	logger       *slog.Logger
}

// New constructs a Gate from cfg.
func New(cfg Config) *Gate {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	newToken := cfg.NewToken
	if newToken == nil {
		newToken = pending.NewToken
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		flags:        cfg.Flags,
		exec:         cfg.Executor,
		estimator:    cfg.Estimator,
		audit:        cfg.Audit,
		history:      cfg.History,
		store:        pending.NewStore(cfg.TTL, now),
		now:          now,
		newToken:     newToken,
		readPrefixes: cfg.ExtraReadPrefixes,
		logger:       logger,
	}
}

// ProposeQuery submits raw SQL text to the gate. Reads execute immediately;
// writes are blocked when modifications are disabled, otherwise parked
// behind a confirmation token.
func (g *Gate) ProposeQuery(ctx context.Context, sqlText string) (*domain.ProposalResult, error) {
	if strings.TrimSpace(sqlText) == "" {
		return nil, domain.ErrValidation("sql text is required")
	}
	req := domain.OperationRequest{
		Kind:        domain.OperationQuery,
		SQL:         sqlText,
		SubmittedAt: g.now(),
	}
	return g.dispatch(ctx, req, classify.Statement(sqlText))
}

// ProposeProcedure submits a stored-procedure call to the gate. Procedures
// whose names declare read intent execute immediately; every other procedure
// requires confirmation.
func (g *Gate) ProposeProcedure(ctx context.Context, name string, params map[string]any) (*domain.ProposalResult, error) {
	if strings.TrimSpace(name) == "" {
		return nil, domain.ErrValidation("procedure name is required")
	}
	req := domain.OperationRequest{
		Kind:        domain.OperationProcedure,
		Procedure:   name,
		Params:      params,
		SubmittedAt: g.now(),
	}
	return g.dispatch(ctx, req, classify.Procedure(name, g.readPrefixes))
}

// dispatch walks one request through the state machine:
// CLASSIFIED -> BLOCKED | DIRECT_EXECUTE | AWAITING_CONFIRMATION.
func (g *Gate) dispatch(ctx context.Context, req domain.OperationRequest, cls domain.RiskClassification) (*domain.ProposalResult, error) {
	// Flag check precedes everything: no estimate, no token, no database call.
	if blockErr := g.flagCheck(cls.Category); blockErr != nil {
		g.recordAudit(req, cls, nil, false, domain.AuditCancelled, blockErr.Error())
		return &domain.ProposalResult{
			Status:         domain.ProposalBlocked,
			Message:        blockErr.Error(),
			Classification: cls,
		}, nil
	}

	if !cls.RequiresConfirmation {
		result, err := g.execute(ctx, req, cls)
		if err != nil {
			g.recordAudit(req, cls, nil, false, domain.AuditFailed, err.Error())
			g.recordHistory(ctx, req, cls, false, "FAILED", err.Error(), nil)
			return nil, err
		}
		g.recordAudit(req, cls, nil, false, domain.AuditSuccess, "")
		g.recordHistory(ctx, req, cls, false, "SUCCESS", "", result)
		return &domain.ProposalResult{
			Status:         domain.ProposalExecuted,
			Classification: cls,
			Result:         result,
		}, nil
	}

	// AWAITING_CONFIRMATION: estimate impact, mint a token, park the
	// operation. Nothing has executed yet, so the audit result is CANCELLED.
	est := g.estimateImpact(ctx, req, cls)
	token := g.newToken(g.now())
	g.store.Put(domain.PendingOperation{
		Token:          token,
		Request:        req,
		Classification: cls,
		Estimate:       est,
		CreatedAt:      g.now(),
	})
	g.recordAudit(req, cls, &est, false, domain.AuditCancelled, "Pending user confirmation")

	return &domain.ProposalResult{
		Status:         domain.ProposalAwaiting,
		Message:        confirmationMessage(cls, est, token),
		Token:          token,
		Classification: cls,
		Estimate:       &est,
	}, nil
}

// ConfirmAndExecute redeems a confirmation token. The fetch-and-invalidate
// is a single atomic step: two concurrent confirms of one token cannot both
// execute the underlying operation.
func (g *Gate) ConfirmAndExecute(ctx context.Context, token string) (*domain.ConfirmResult, error) {
	op, ok := g.store.Take(strings.TrimSpace(token))
	if !ok {
		return &domain.ConfirmResult{
			Status:  domain.ConfirmExpired,
			Message: domain.ErrTokenNotFound("invalid or expired confirmation token").Error(),
		}, nil
	}

	result, err := g.execute(ctx, op.Request, op.Classification)
	if err != nil {
		g.recordAudit(op.Request, op.Classification, &op.Estimate, true, domain.AuditFailed, err.Error())
		g.recordHistory(ctx, op.Request, op.Classification, true, "FAILED", err.Error(), nil)
		return nil, err
	}
	g.recordAudit(op.Request, op.Classification, &op.Estimate, true, domain.AuditSuccess, "")
	g.recordHistory(ctx, op.Request, op.Classification, true, "SUCCESS", "", result)

	return &domain.ConfirmResult{
		Status: domain.ConfirmExecuted,
		Result: result,
	}, nil
}

// SecurityStatus derives the posture implied by the feature-flag pair.
func (g *Gate) SecurityStatus() domain.SecurityStatus {
	status := domain.SecurityStatus{
		ModificationsEnabled:    g.flags.ModificationsAllowed,
		StoredProceduresEnabled: g.flags.StoredProceduresAllowed,
	}

	switch {
	case !g.flags.ModificationsAllowed && !g.flags.StoredProceduresAllowed:
		status.SecurityLevel = domain.SecurityMaximum
	case g.flags.ModificationsAllowed && g.flags.StoredProceduresAllowed:
		status.SecurityLevel = domain.SecurityLow
	default:
		status.SecurityLevel = domain.SecurityMedium
	}

	if g.flags.ModificationsAllowed {
		status.Recommendations = append(status.Recommendations,
			"Data modifications are ENABLED. Keep ALLOW_MODIFICATIONS on only as long as write access is needed.")
	} else {
		status.Recommendations = append(status.Recommendations,
			"Data modifications are disabled; the database is protected against writes.")
	}
	if g.flags.StoredProceduresAllowed {
		status.Recommendations = append(status.Recommendations,
			"Stored procedure execution is ENABLED. Keep ALLOW_STORED_PROCEDURES on only as long as procedure access is needed.")
	} else {
		status.Recommendations = append(status.Recommendations,
			"Stored procedure execution is disabled; procedure side effects cannot occur.")
	}
	return status
}

// PendingCount reports how many operations are physically parked, expired
// or not. Exposed for diagnostics.
func (g *Gate) PendingCount() int { return g.store.Len() }

// flagCheck returns the blocking error when the governing flag for the
// category is disabled, nil otherwise. Reads are never gated.
func (g *Gate) flagCheck(category domain.OperationCategory) error {
	switch category {
	case domain.CategoryWrite:
		if !g.flags.ModificationsAllowed {
			return domain.ErrConfigurationBlocked("ALLOW_MODIFICATIONS",
				"data modifications are disabled; set ALLOW_MODIFICATIONS=true to enable write operations")
		}
	case domain.CategoryExecute:
		if !g.flags.StoredProceduresAllowed {
			return domain.ErrConfigurationBlocked("ALLOW_STORED_PROCEDURES",
				"stored procedure execution is disabled; set ALLOW_STORED_PROCEDURES=true to enable it")
		}
	}
	return nil
}

// execute runs the operation against the live database. This is the only
// place the gate touches the executor with caller-supplied statements.
func (g *Gate) execute(ctx context.Context, req domain.OperationRequest, cls domain.RiskClassification) (*domain.QueryResult, error) {
	var (
		result *domain.QueryResult
		err    error
	)
	switch {
	case req.Kind == domain.OperationProcedure:
		result, err = g.exec.ExecProcedure(ctx, req.Procedure, req.Params)
	case cls.Category == domain.CategoryRead:
		result, err = g.exec.Query(ctx, req.SQL)
	default:
		result, err = g.exec.Exec(ctx, req.SQL)
	}
	if err != nil {
		return nil, domain.ErrExecutionFailed(err)
	}
	return result, nil
}

// estimateImpact runs the estimator for the request. Estimation failures are
// absorbed inside the estimate itself and never block the proposal.
func (g *Gate) estimateImpact(ctx context.Context, req domain.OperationRequest, cls domain.RiskClassification) domain.ImpactEstimate {
	if req.Kind == domain.OperationProcedure {
		return g.estimator.Procedure(req.Procedure)
	}
	return g.estimator.Statement(ctx, cls.Keyword, req.SQL)
}

func (g *Gate) recordAudit(req domain.OperationRequest, cls domain.RiskClassification, est *domain.ImpactEstimate, confirmed bool, result domain.AuditResult, errText string) {
	event := domain.SecurityAuditEvent{
		Timestamp: g.now(),
		Keyword:   cls.Keyword,
		Statement: domain.TruncateStatement(req.Statement()),
		RiskLevel: cls.Level,
		Confirmed: confirmed,
		Result:    result,
		Error:     errText,
	}
	if est != nil {
		event.EstimatedRows = est.EstimatedRows
		event.AffectedTables = est.AffectedTables
	}
	g.audit.Record(event)
}

// recordHistory persists an executed statement, best-effort. History
// failures are logged and never reach the caller.
func (g *Gate) recordHistory(ctx context.Context, req domain.OperationRequest, cls domain.RiskClassification, confirmed bool, status, errText string, result *domain.QueryResult) {
	if g.history == nil {
		return
	}
	entry := &domain.QueryHistoryEntry{
		ExecutedAt: g.now(),
		Keyword:    cls.Keyword,
		Statement:  domain.TruncateStatement(req.Statement()),
		RiskLevel:  cls.Level,
		Confirmed:  confirmed,
		Status:     status,
	}
	if errText != "" {
		entry.ErrorMessage = &errText
	}
	if result != nil {
		entry.DurationMs = result.DurationMs
		entry.RowCount = int64(result.RowCount)
		if result.RowsAffected > 0 {
			entry.RowCount = result.RowsAffected
		}
	}
	if err := g.history.Insert(ctx, entry); err != nil {
		g.logger.Warn("query history write failed", "error", err)
	}
}

// confirmationMessage renders the AWAITING_CONFIRMATION response text. It
// always states explicitly that nothing has executed.
func confirmationMessage(cls domain.RiskClassification, est domain.ImpactEstimate, token string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CONFIRMATION REQUIRED (%s risk): %s.\n", cls.Level, cls.Reason)
	fmt.Fprintf(&b, "Estimated impact: %d row(s)", est.EstimatedRows)
	if len(est.AffectedTables) > 0 {
		fmt.Fprintf(&b, " across %s", strings.Join(est.AffectedTables, ", "))
	}
	b.WriteString(".\n")
	if est.Warning != "" {
		fmt.Fprintf(&b, "Warning: %s.\n", est.Warning)
	}
	fmt.Fprintf(&b, "The operation has NOT been executed. To proceed, call confirm_execution with token %s within 5 minutes.", token)
	return b.String()
}
