// Package workforce is the Workforce Scheduler: the single background tick
// loop that sweeps expired approvals, resets period-scoped usage counters,
// and evaluates every agent's WorkSchedule for clock-in/clock-out/off-hours
// actions — plus the clock operations and task queue those evaluations
// drive.
//
// Grounded on the teacher's internal/federation heartbeat-tick loop
// (single ticker, a dispatch table of per-tick jobs each guarded by its
// own dedup key) generalized from cluster-membership gossip to schedule
// evaluation, counter resets, and approval expiry.
package workforce

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ocx/workforce/internal/approval"
	"github.com/ocx/workforce/internal/events"
	"github.com/ocx/workforce/internal/guardrail"
	"github.com/ocx/workforce/internal/lifecycle"
	"github.com/ocx/workforce/internal/model"
	"github.com/ocx/workforce/internal/store"
	"github.com/ocx/workforce/internal/tenant"
)

// defaultTickInterval is the scheduler's cadence (§4.9 default), used when
// New is called without an explicit config.SchedulerConfig override.
const defaultTickInterval = 60 * time.Second

// taskPreviewCap bounds the "tasks_pending" event payload (§4.9).
const taskPreviewCap = 5

// Scheduler is the Workforce Scheduler.
type Scheduler struct {
	st        *store.Store
	tenants   *tenant.Manager
	lifecycle *lifecycle.Manager
	approvals *approval.Workflow
	emitter   events.EventEmitter
	guard     *guardrail.Guardrail

	mu          sync.Mutex
	lastDaily   string
	lastWeekly  string
	lastMonthly string
	lastAnnual  string

	cancel context.CancelFunc

	tickInterval time.Duration
}

// New builds a Workforce Scheduler over its collaborators, ticking on the
// §4.9 default 60s cadence, with its own Guardrail for clock-driven
// pause/resume.
func New(st *store.Store, tenants *tenant.Manager, lc *lifecycle.Manager, approvals *approval.Workflow, emitter events.EventEmitter) *Scheduler {
	return NewWithTickInterval(st, tenants, lc, approvals, emitter, defaultTickInterval)
}

// NewWithTickInterval builds a Workforce Scheduler ticking on a
// config.SchedulerConfig-supplied cadence instead of the §4.9 default.
func NewWithTickInterval(st *store.Store, tenants *tenant.Manager, lc *lifecycle.Manager, approvals *approval.Workflow, emitter events.EventEmitter, tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = defaultTickInterval
	}
	return &Scheduler{st: st, tenants: tenants, lifecycle: lc, approvals: approvals, emitter: emitter, guard: guardrail.New(), tickInterval: tick}
}

// Guardrail returns the scheduler's pause/resume collaborator, so API
// handlers and other components can check IsPaused without duplicating it.
func (s *Scheduler) Guardrail() *guardrail.Guardrail {
	return s.guard
}

// Start launches the background tick loop. Call Stop to cancel it.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go func() {
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop cancels the tick loop.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// tick runs one full scheduler pass: counter resets (deduped by period
// key), approval expiry sweep, then per-schedule working-hours evaluation.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()
	s.maybeResetCounters(ctx, now)

	swept, err := s.approvals.SweepExpired(ctx)
	if err != nil {
		slog.Error("workforce: approval sweep failed", "error", err)
	} else if swept > 0 {
		slog.Info("workforce: swept expired approvals", "count", swept)
	}

	orgs := s.tenants.ListOrgs()
	orgIDs := make([]string, len(orgs))
	for i, o := range orgs {
		orgIDs[i] = o.ID
		if err := s.evaluateOrgSchedules(ctx, o.ID, now); err != nil {
			slog.Error("workforce: schedule evaluation failed", "orgId", o.ID, "error", err)
		}
	}
	s.lifecycle.RefreshAgentGauges(ctx, orgIDs)
}

// maybeResetCounters fires daily/weekly/monthly/annual resets at most once
// per period, deduped by a period key computed from now.
func (s *Scheduler) maybeResetCounters(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dayKey := now.Format("2006-01-02")
	if dayKey != s.lastDaily {
		if err := s.tenants.ResetDailyCounters(ctx); err != nil {
			slog.Error("workforce: daily counter reset failed", "error", err)
		} else {
			s.lastDaily = dayKey
		}
	}

	if now.Weekday() == time.Monday {
		weekKey := dayKey
		if weekKey != s.lastWeekly {
			if err := s.tenants.ResetWeeklyCounters(ctx); err != nil {
				slog.Error("workforce: weekly counter reset failed", "error", err)
			} else {
				s.lastWeekly = weekKey
			}
		}
	}

	if now.Day() == 1 {
		monthKey := now.Format("2006-01")
		if monthKey != s.lastMonthly {
			if err := s.tenants.ResetMonthlyCounters(ctx); err != nil {
				slog.Error("workforce: monthly counter reset failed", "error", err)
			} else {
				s.lastMonthly = monthKey
			}
		}
	}

	if now.Month() == time.January && now.Day() == 1 {
		yearKey := now.Format("2006")
		if yearKey != s.lastAnnual {
			if err := s.tenants.ResetAnnualCounters(ctx); err != nil {
				slog.Error("workforce: annual counter reset failed", "error", err)
			} else {
				s.lastAnnual = yearKey
			}
		}
	}
}

// evaluateOrgSchedules evaluates every WorkSchedule in orgID against now,
// auto-clocking-in/out agents whose window just opened or closed.
func (s *Scheduler) evaluateOrgSchedules(ctx context.Context, orgID string, now time.Time) error {
	schedules, err := s.st.ListSchedulesByOrg(ctx, orgID)
	if err != nil {
		return err
	}
	for _, sched := range schedules {
		if !sched.Enabled {
			continue
		}
		if err := s.evaluateSchedule(ctx, sched, now); err != nil {
			slog.Error("workforce: schedule evaluation failed", "agentId", sched.AgentID, "error", err)
		}
	}
	return nil
}

func (s *Scheduler) evaluateSchedule(ctx context.Context, sched *model.WorkSchedule, now time.Time) error {
	loc, err := time.LoadLocation(sched.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)

	onDuty, graceExpired := withinSchedule(sched, local)
	status, err := s.st.CurrentClockStatus(ctx, sched.AgentID)
	if err != nil {
		return err
	}

	switch {
	case onDuty && status != model.ClockStatusIn && sched.EnforceClockIn:
		return s.clockIn(ctx, sched, "scheduler")
	case !onDuty && graceExpired && status == model.ClockStatusIn && sched.EnforceClockOut:
		return s.applyOffHours(ctx, sched)
	}
	return nil
}

// withinSchedule reports whether local falls inside sched's working-hours
// window (handling overnight shifts and calendar-date overrides), and
// whether any configured grace period has elapsed since the window closed.
func withinSchedule(sched *model.WorkSchedule, local time.Time) (onDuty, graceExpired bool) {
	dateStr := local.Format("2006-01-02")
	for _, override := range sched.Config.CustomDates {
		if override.Date != dateStr {
			continue
		}
		if override.Off {
			return false, true
		}
		return dayWindowContains(override.Start, override.End, local), pastGrace(override.End, local, sched.GracePeriodMin)
	}

	weekday := int(local.Weekday())
	for _, d := range sched.Config.Days {
		if d.DayOfWeek != weekday {
			continue
		}
		if d.Off {
			return false, true
		}
		return dayWindowContains(d.Start, d.End, local), pastGrace(d.End, local, sched.GracePeriodMin)
	}
	// No rule for today — treat as off, grace already elapsed.
	return false, true
}

func dayWindowContains(start, end string, local time.Time) bool {
	s, errS := time.ParseInLocation("15:04", start, local.Location())
	e, errE := time.ParseInLocation("15:04", end, local.Location())
	if errS != nil || errE != nil {
		return false
	}
	nowMin := local.Hour()*60 + local.Minute()
	startMin := s.Hour()*60 + s.Minute()
	endMin := e.Hour()*60 + e.Minute()
	if startMin <= endMin {
		return nowMin >= startMin && nowMin < endMin
	}
	return nowMin >= startMin || nowMin < endMin
}

func pastGrace(end string, local time.Time, graceMinutes int) bool {
	e, err := time.ParseInLocation("15:04", end, local.Location())
	if err != nil {
		return true
	}
	endMin := e.Hour()*60 + e.Minute()
	nowMin := local.Hour()*60 + local.Minute()
	delta := nowMin - endMin
	if delta < 0 {
		delta += 24 * 60 // overnight shift wraparound
	}
	return delta >= graceMinutes
}

// clockIn records a ClockIn event, resumes the agent through the
// Guardrail if an off-hours pause left it suspended, and emits the
// scheduler's event.
func (s *Scheduler) clockIn(ctx context.Context, sched *model.WorkSchedule, by string) error {
	rec := &model.ClockRecord{
		ID: uuid.NewString(), AgentID: sched.AgentID, OrgID: sched.OrgID,
		Type: model.ClockIn, TriggeredBy: by, ActualAt: time.Now().UTC(),
	}
	if err := s.st.UpsertClockRecord(ctx, rec); err != nil {
		return err
	}
	s.guard.Resume(sched.AgentID)
	s.emitter.Emit("workforce.clocked_in", "workforce-scheduler", sched.AgentID, map[string]interface{}{"orgId": sched.OrgID})
	return nil
}

// clockOut records a ClockOut event.
func (s *Scheduler) clockOut(ctx context.Context, sched *model.WorkSchedule, by, reason string) error {
	rec := &model.ClockRecord{
		ID: uuid.NewString(), AgentID: sched.AgentID, OrgID: sched.OrgID,
		Type: model.ClockOut, TriggeredBy: by, Reason: reason, ActualAt: time.Now().UTC(),
	}
	return s.st.UpsertClockRecord(ctx, rec)
}

// applyOffHours runs sched's OffHoursAction when a clocked-in agent's
// window closes: pause records an auto_pause event, stop additionally
// stops the agent, queue defers by leaving tasks in the queue untouched.
func (s *Scheduler) applyOffHours(ctx context.Context, sched *model.WorkSchedule) error {
	if err := s.clockOut(ctx, sched, "scheduler", string(sched.OffHoursAction)); err != nil {
		return err
	}

	switch sched.OffHoursAction {
	case model.OffHoursStop:
		if err := s.lifecycle.Stop(ctx, sched.AgentID, "scheduler", "off-hours stop"); err != nil {
			return err
		}
		s.emitter.Emit("workforce.off_hours_stop", "workforce-scheduler", sched.AgentID, map[string]interface{}{"orgId": sched.OrgID})
	case model.OffHoursPause:
		rec := &model.ClockRecord{
			ID: uuid.NewString(), AgentID: sched.AgentID, OrgID: sched.OrgID,
			Type: model.ClockAutoPause, TriggeredBy: "scheduler", ActualAt: time.Now().UTC(),
		}
		if err := s.st.UpsertClockRecord(ctx, rec); err != nil {
			return err
		}
		s.guard.Pause(sched.AgentID)
		s.emitter.Emit("workforce.off_hours_pause", "workforce-scheduler", sched.AgentID, map[string]interface{}{"orgId": sched.OrgID})
	case model.OffHoursQueue:
		return s.emitPendingTasksPreview(ctx, sched)
	}
	return nil
}

// emitPendingTasksPreview announces the agent's queued work (capped at
// taskPreviewCap) when off-hours tasks are deferred rather than dropped.
func (s *Scheduler) emitPendingTasksPreview(ctx context.Context, sched *model.WorkSchedule) error {
	tasks, err := s.st.ListQueuedTasksByAgent(ctx, sched.AgentID)
	if err != nil {
		return err
	}
	preview := tasks
	if len(preview) > taskPreviewCap {
		preview = preview[:taskPreviewCap]
	}
	titles := make([]string, len(preview))
	for i, t := range preview {
		titles[i] = t.Title
	}
	s.emitter.Emit("workforce.tasks_pending", "workforce-scheduler", sched.AgentID, map[string]interface{}{
		"orgId": sched.OrgID, "total": len(tasks), "preview": titles,
	})
	return nil
}

// IsOffDuty reports whether agentID is currently clocked out: true only if
// a schedule exists for the agent and its current clock status is
// ClockStatusOut (§4.9). This is a clock-status check, not a window-
// membership check — an agent that clocks out early, mid-window, is off
// duty immediately, same as evaluateSchedule's own use of
// CurrentClockStatus.
func (s *Scheduler) IsOffDuty(ctx context.Context, agentID string) (bool, error) {
	sched, err := s.st.GetScheduleByAgent(ctx, agentID)
	if err == store.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !sched.Enabled {
		return false, nil
	}
	status, err := s.st.CurrentClockStatus(ctx, agentID)
	if err != nil {
		return false, err
	}
	return status == model.ClockStatusOut, nil
}

// NextEvent computes the next scheduled clock-in or clock-out time for
// agentID within the next seven days, used by status endpoints.
func (s *Scheduler) NextEvent(ctx context.Context, agentID string) (time.Time, string, error) {
	sched, err := s.st.GetScheduleByAgent(ctx, agentID)
	if err != nil {
		return time.Time{}, "", err
	}
	loc, err := time.LoadLocation(sched.Timezone)
	if err != nil {
		loc = time.UTC
	}
	now := time.Now().In(loc)
	status, err := s.st.CurrentClockStatus(ctx, agentID)
	if err != nil {
		return time.Time{}, "", err
	}

	days := sortedDays(sched.Config.Days)
	for offset := 0; offset < 8; offset++ {
		day := now.AddDate(0, 0, offset)
		weekday := int(day.Weekday())
		for _, d := range days {
			if d.DayOfWeek != weekday || d.Off {
				continue
			}
			target := d.Start
			eventName := "clock_in"
			if status == model.ClockStatusIn {
				target = d.End
				eventName = "clock_out"
			}
			t, err := time.ParseInLocation("15:04", target, loc)
			if err != nil {
				continue
			}
			candidate := time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, loc)
			if candidate.After(now) {
				return candidate, eventName, nil
			}
		}
	}
	return time.Time{}, "", fmt.Errorf("workforce: no upcoming schedule event for agent %s", agentID)
}

func sortedDays(days []model.DayRule) []model.DayRule {
	out := make([]model.DayRule, len(days))
	copy(out, days)
	sort.Slice(out, func(i, j int) bool { return out[i].DayOfWeek < out[j].DayOfWeek })
	return out
}
