// Package budget is the Budget & Usage Meter. It is deliberately not a
// standalone service: per spec it is "folded into the Lifecycle Manager
// for agent-scoped counters and into the Tenant Manager for org-scoped
// ones" — this package holds the shared accounting and threshold logic
// both callers invoke, so the rule lives in one place.
//
// Grounded on the teacher's internal/escrow economic-barrier threshold
// checks (internal/escrow/tri_factor_gate.go's percentage-of-limit
// comparisons) generalized from trust-score gating to token/cost budget
// thresholds, and on internal/events/bus.go for alert emission.
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ocx/workforce/internal/events"
	"github.com/ocx/workforce/internal/metrics"
	"github.com/ocx/workforce/internal/model"
	"github.com/ocx/workforce/internal/store"
)

const warningThresholdPct = 0.8

// ToolCallReport is what the runtime reports per tool call.
type ToolCallReport struct {
	TokensUsed       int64
	CostUsd          float64
	IsExternalAction bool
	Error            string
}

// StopRequester is implemented by the Lifecycle Manager: when a hard budget
// stop fires, the meter enqueues an automatic stop through this interface
// to avoid an import cycle.
type StopRequester interface {
	Stop(ctx context.Context, agentID, triggeredBy, reason string) error
}

// Meter applies ToolCallReport deltas to an AgentUsage/OrgUsage pair,
// raises threshold alerts, and persists a ToolCallRecord + activity
// projection for every call.
type Meter struct {
	st                  *store.Store
	emitter             events.EventEmitter
	metrics             *metrics.Metrics
	warningThresholdPct float64
}

// New builds a Budget Meter over st, an event emitter, and metrics, using
// the built-in 80% warning threshold.
func New(st *store.Store, emitter events.EventEmitter, m *metrics.Metrics) *Meter {
	return NewWithWarningThreshold(st, emitter, m, warningThresholdPct)
}

// NewWithWarningThreshold builds a Budget Meter whose warning alert fires
// at warnPct of budget instead of the 80% default (see
// config.BudgetConfig.WarningThresholdPct).
func NewWithWarningThreshold(st *store.Store, emitter events.EventEmitter, m *metrics.Metrics, warnPct float64) *Meter {
	if warnPct <= 0 || warnPct >= 1.0 {
		warnPct = warningThresholdPct
	}
	return &Meter{st: st, emitter: emitter, metrics: m, warningThresholdPct: warnPct}
}

// RecordToolCall applies report to usage (mutated in place by the caller —
// the Lifecycle Manager/Tenant Manager own the counters), persists the
// audit records, and returns whether a hard stop should fire for each of
// tokens/cost.
func (m *Meter) RecordToolCall(ctx context.Context, orgID, agentID, toolID string, usage *model.AgentUsage, allowed, requiresApproval bool, report ToolCallReport) (tokenExceeded, costExceeded bool, err error) {
	usage.TokensToday += report.TokensUsed
	usage.TokensThisMonth += report.TokensUsed
	usage.ToolCallsToday++
	usage.ToolCallsThisMonth++
	usage.CostToday += report.CostUsd
	usage.CostThisMonth += report.CostUsd
	if report.IsExternalAction {
		usage.ExternalActionsToday++
		usage.ExternalActionsMonth++
	}
	if report.Error != "" {
		usage.ErrorsToday++
	}

	record := &model.ToolCallRecord{
		ID: uuid.NewString(), OrgID: orgID, AgentID: agentID, ToolID: toolID,
		Allowed: allowed, RequiresApproval: requiresApproval,
		TokensUsed: report.TokensUsed, CostUsd: report.CostUsd,
		IsExternalAction: report.IsExternalAction, Error: report.Error,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.st.InsertToolCall(ctx, record); err != nil {
		return false, false, err
	}

	if m.metrics != nil {
		m.metrics.RecordToolCall(orgID, allowed)
		m.metrics.RecordUsage(orgID, agentID, report.TokensUsed, report.CostUsd)
	}
	m.emitter.Emit("tool_call", "budget-meter", agentID, map[string]interface{}{
		"orgId": orgID, "toolId": toolID, "allowed": allowed,
		"tokensUsed": report.TokensUsed, "costUsd": report.CostUsd,
	})

	period := currentPeriod()
	tokenExceeded, err = m.checkThreshold(ctx, orgID, agentID, model.CounterTokens, usage.TokensThisMonth, usage.TokenBudgetMonthly, period)
	if err != nil {
		return false, false, err
	}
	costExceeded, err = m.checkThreshold(ctx, orgID, agentID, model.CounterCost, int64(usage.CostThisMonth), int64(usage.CostBudgetMonthly), period)
	if err != nil {
		return false, false, err
	}
	return tokenExceeded, costExceeded, nil
}

// checkThreshold raises budget_warning at 80% and budget_exceeded at 100%,
// idempotent per (agentId, kind, counter, period) via FindBudgetAlert.
func (m *Meter) checkThreshold(ctx context.Context, orgID, agentID string, counter model.BudgetCounter, current, budget int64, period string) (exceeded bool, err error) {
	if budget <= 0 {
		return false, nil
	}

	pct := float64(current) / float64(budget)
	if pct >= 1.0 {
		existing, lookupErr := m.st.FindBudgetAlert(ctx, orgID, agentID, model.AlertBudgetExceeded, counter, period)
		if lookupErr != nil && lookupErr != store.ErrNotFound {
			return false, lookupErr
		}
		if existing == nil {
			if err := m.raiseAlert(ctx, orgID, agentID, model.AlertBudgetExceeded, counter, period, pct); err != nil {
				return false, err
			}
		}
		return true, nil
	}

	if pct >= m.warningThresholdPct {
		if err := m.raiseAlert(ctx, orgID, agentID, model.AlertBudgetWarning, counter, period, pct); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (m *Meter) raiseAlert(ctx context.Context, orgID, agentID string, kind model.BudgetAlertKind, counter model.BudgetCounter, period string, pct float64) error {
	alert := &model.BudgetAlert{
		ID: uuid.NewString(), OrgID: orgID, AgentID: agentID,
		Kind: kind, Counter: counter, Period: period, ThresholdPct: pct,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.st.InsertBudgetAlert(ctx, alert); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.RecordBudgetAlert(string(kind), string(counter))
	}
	m.emitter.Emit(string(kind), "budget-meter", agentID, map[string]interface{}{
		"orgId": orgID, "counter": string(counter), "thresholdPct": pct,
	})
	return nil
}

func currentPeriod() string {
	return time.Now().UTC().Format("2006-01")
}

// EnforceHardStop invokes stopper.Stop when tokenExceeded or costExceeded,
// following the spec's "enqueues an automatic stop(agentId, 'system', …)"
// rule. Errors from the stop itself are wrapped for the caller to log.
func EnforceHardStop(ctx context.Context, stopper StopRequester, agentID string, tokenExceeded, costExceeded bool) error {
	if !tokenExceeded && !costExceeded {
		return nil
	}
	reason := "Monthly token budget exceeded"
	if costExceeded && !tokenExceeded {
		reason = "Monthly cost budget exceeded"
	}
	if err := stopper.Stop(ctx, agentID, "system", reason); err != nil {
		return fmt.Errorf("budget: enforce hard stop: %w", err)
	}
	return nil
}
