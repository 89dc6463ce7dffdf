package workforce

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ocx/workforce/internal/events"
	"github.com/ocx/workforce/internal/guardrail"
	"github.com/ocx/workforce/internal/model"
	"github.com/ocx/workforce/internal/store"
)

func newTestScheduler(t *testing.T) (*Scheduler, *store.Store) {
	t.Helper()
	st, err := store.Open(store.DialectSQLite, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return &Scheduler{st: st, emitter: events.NewEventBus(), guard: guardrail.New(), tickInterval: defaultTickInterval}, st
}

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestWithinScheduleStandardWindow(t *testing.T) {
	loc := mustLoc(t, "UTC")
	sched := &model.WorkSchedule{
		Config: model.ScheduleConfig{Days: []model.DayRule{
			{DayOfWeek: int(time.Wednesday), Start: "09:00", End: "17:00"},
		}},
		GracePeriodMin: 15,
	}

	during := time.Date(2026, 8, 5, 12, 0, 0, 0, loc) // a Wednesday
	onDuty, _ := withinSchedule(sched, during)
	require.True(t, onDuty)

	before := time.Date(2026, 8, 5, 8, 0, 0, 0, loc)
	onDuty, _ = withinSchedule(sched, before)
	require.False(t, onDuty)
}

func TestWithinScheduleOvernightWindow(t *testing.T) {
	loc := mustLoc(t, "UTC")
	sched := &model.WorkSchedule{
		Config: model.ScheduleConfig{Days: []model.DayRule{
			{DayOfWeek: int(time.Friday), Start: "22:00", End: "06:00"},
		}},
		GracePeriodMin: 10,
	}

	late := time.Date(2026, 8, 7, 23, 30, 0, 0, loc) // Friday night
	onDuty, _ := withinSchedule(sched, late)
	require.True(t, onDuty)

	early := time.Date(2026, 8, 7, 3, 0, 0, 0, loc)
	onDuty, _ = withinSchedule(sched, early)
	require.True(t, onDuty)

	midday := time.Date(2026, 8, 7, 12, 0, 0, 0, loc)
	onDuty, _ = withinSchedule(sched, midday)
	require.False(t, onDuty)
}

func TestWithinScheduleCustomDateOverride(t *testing.T) {
	loc := mustLoc(t, "UTC")
	sched := &model.WorkSchedule{
		Config: model.ScheduleConfig{
			Days: []model.DayRule{{DayOfWeek: int(time.Monday), Start: "09:00", End: "17:00"}},
			CustomDates: []model.CustomDateRule{
				{Date: "2026-08-03", Off: true},
			},
		},
	}

	holiday := time.Date(2026, 8, 3, 12, 0, 0, 0, loc) // Monday, but overridden off
	onDuty, graceExpired := withinSchedule(sched, holiday)
	require.False(t, onDuty)
	require.True(t, graceExpired)
}

func TestWithinScheduleNoRuleForDayIsOff(t *testing.T) {
	loc := mustLoc(t, "UTC")
	sched := &model.WorkSchedule{
		Config: model.ScheduleConfig{Days: []model.DayRule{
			{DayOfWeek: int(time.Monday), Start: "09:00", End: "17:00"},
		}},
	}

	sunday := time.Date(2026, 8, 2, 12, 0, 0, 0, loc)
	onDuty, graceExpired := withinSchedule(sched, sunday)
	require.False(t, onDuty)
	require.True(t, graceExpired)
}

func TestPastGraceHonorsGracePeriod(t *testing.T) {
	loc := mustLoc(t, "UTC")

	justAfterEnd := time.Date(2026, 8, 5, 17, 5, 0, 0, loc)
	require.False(t, pastGrace("17:00", justAfterEnd, 15))

	wellAfterEnd := time.Date(2026, 8, 5, 17, 30, 0, 0, loc)
	require.True(t, pastGrace("17:00", wellAfterEnd, 15))
}

func TestNewWithTickIntervalFallsBackToDefault(t *testing.T) {
	s := NewWithTickInterval(nil, nil, nil, nil, nil, 0)
	require.Equal(t, defaultTickInterval, s.tickInterval)

	s = NewWithTickInterval(nil, nil, nil, nil, nil, 5*time.Second)
	require.Equal(t, 5*time.Second, s.tickInterval)
}

func TestApplyOffHoursPauseInvokesGuardrail(t *testing.T) {
	s, _ := newTestScheduler(t)
	sched := &model.WorkSchedule{AgentID: "agent-1", OrgID: "org-1", OffHoursAction: model.OffHoursPause}

	require.False(t, s.guard.IsPaused("agent-1"))
	require.NoError(t, s.applyOffHours(context.Background(), sched))
	require.True(t, s.guard.IsPaused("agent-1"))
}

func TestClockInResumesGuardrailAfterPause(t *testing.T) {
	s, _ := newTestScheduler(t)
	sched := &model.WorkSchedule{AgentID: "agent-1", OrgID: "org-1", OffHoursAction: model.OffHoursPause}

	require.NoError(t, s.applyOffHours(context.Background(), sched))
	require.True(t, s.guard.IsPaused("agent-1"))

	require.NoError(t, s.clockIn(context.Background(), sched, "scheduler"))
	require.False(t, s.guard.IsPaused("agent-1"))
}

func TestIsOffDutyNoScheduleIsFalse(t *testing.T) {
	s, _ := newTestScheduler(t)
	offDuty, err := s.IsOffDuty(context.Background(), "agent-1")
	require.NoError(t, err)
	require.False(t, offDuty)
}

func TestIsOffDutyFollowsClockStatusNotWindowMembership(t *testing.T) {
	s, st := newTestScheduler(t)
	ctx := context.Background()

	sched := &model.WorkSchedule{
		AgentID: "agent-1", OrgID: "org-1", Enabled: true, Timezone: "UTC",
		Config: model.ScheduleConfig{Days: []model.DayRule{
			{DayOfWeek: int(time.Wednesday), Start: "09:00", End: "17:00"},
		}},
	}
	require.NoError(t, st.UpsertSchedule(ctx, sched))

	// No clock record yet: not off duty, whatever the time of day, since
	// the definition is clock-status based, not window-membership based.
	offDuty, err := s.IsOffDuty(ctx, "agent-1")
	require.NoError(t, err)
	require.False(t, offDuty)

	// Clock out now. The result follows the clock record alone, whether or
	// not now falls inside the 9:00-17:00 window.
	require.NoError(t, st.UpsertClockRecord(ctx, &model.ClockRecord{
		ID: "clock-1", AgentID: "agent-1", OrgID: "org-1", Type: model.ClockOut, ActualAt: time.Now(),
	}))
	offDuty, err = s.IsOffDuty(ctx, "agent-1")
	require.NoError(t, err)
	require.True(t, offDuty)

	require.NoError(t, st.UpsertClockRecord(ctx, &model.ClockRecord{
		ID: "clock-2", AgentID: "agent-1", OrgID: "org-1", Type: model.ClockIn, ActualAt: time.Now().Add(time.Second),
	}))
	offDuty, err = s.IsOffDuty(ctx, "agent-1")
	require.NoError(t, err)
	require.False(t, offDuty)
}

func TestSortedDaysOrdersByWeekday(t *testing.T) {
	days := []model.DayRule{
		{DayOfWeek: 5, Start: "09:00", End: "17:00"},
		{DayOfWeek: 1, Start: "09:00", End: "17:00"},
		{DayOfWeek: 3, Start: "09:00", End: "17:00"},
	}
	sorted := sortedDays(days)
	require.Equal(t, []int{1, 3, 5}, []int{sorted[0].DayOfWeek, sorted[1].DayOfWeek, sorted[2].DayOfWeek})
}
