package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ocx/workforce/internal/model"
	"github.com/ocx/workforce/internal/store"
	"github.com/ocx/workforce/internal/tenant"
	"github.com/ocx/workforce/internal/workforce"
)

// HandleListSchedules lists every work schedule in the caller's org.
// GET /api/v1/schedules
func HandleListSchedules(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, err := tenant.OrgFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing tenant context")
			return
		}
		scheds, err := st.ListSchedulesByOrg(r.Context(), orgID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list schedules")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"schedules": scheds, "count": len(scheds)})
	}
}

// HandleGetAgentSchedule returns the schedule bound to one agent, if any.
// GET /api/v1/agents/{agentId}/schedule
func HandleGetAgentSchedule(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := mux.Vars(r)["agentId"]
		sched, err := st.GetScheduleByAgent(r.Context(), agentID)
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "no schedule for agent")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to get schedule")
			return
		}
		writeJSON(w, http.StatusOK, sched)
	}
}

// HandleUpsertSchedule creates or replaces an agent's working-hours policy.
// PUT /api/v1/agents/{agentId}/schedule
func HandleUpsertSchedule(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := mux.Vars(r)["agentId"]
		orgID, err := tenant.OrgFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing tenant context")
			return
		}
		var sched model.WorkSchedule
		if err := json.NewDecoder(r.Body).Decode(&sched); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		sched.AgentID = agentID
		sched.OrgID = orgID
		now := time.Now().UTC()
		if sched.ID == "" {
			sched.ID = uuid.NewString()
			sched.CreatedAt = now
		}
		sched.UpdatedAt = now
		if err := st.UpsertSchedule(r.Context(), &sched); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to save schedule")
			return
		}
		writeJSON(w, http.StatusOK, sched)
	}
}

// HandleDeleteSchedule removes an agent's working-hours policy.
// DELETE /api/v1/schedules/{scheduleId}
func HandleDeleteSchedule(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["scheduleId"]
		if err := st.DeleteSchedule(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to delete schedule")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// HandleClockStatus reports whether an agent is currently on or off duty.
// GET /api/v1/agents/{agentId}/clock
func HandleClockStatus(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := mux.Vars(r)["agentId"]
		status, err := st.CurrentClockStatus(r.Context(), agentID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to get clock status")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
	}
}

// HandleClockHistory lists an agent's clock in/out audit records.
// GET /api/v1/agents/{agentId}/clock/history
func HandleClockHistory(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := mux.Vars(r)["agentId"]
		records, err := st.ListClockRecordsByAgent(r.Context(), agentID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list clock history")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"records": records, "count": len(records)})
	}
}

// HandleNextScheduleEvent reports the next clock in/out the scheduler
// expects for an agent.
// GET /api/v1/agents/{agentId}/schedule/next
func HandleNextScheduleEvent(sched *workforce.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := mux.Vars(r)["agentId"]
		at, kind, err := sched.NextEvent(r.Context(), agentID)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"at": at, "event": kind})
	}
}

// HandleListTasks lists the queued tasks for one agent.
// GET /api/v1/agents/{agentId}/tasks
func HandleListTasks(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := mux.Vars(r)["agentId"]
		tasks, err := st.ListQueuedTasksByAgent(r.Context(), agentID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list tasks")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks, "count": len(tasks)})
	}
}

// HandleQueueTask enqueues a task for an agent (picked up once it's next
// on duty, or immediately if already clocked in).
// POST /api/v1/agents/{agentId}/tasks
func HandleQueueTask(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := mux.Vars(r)["agentId"]
		orgID, err := tenant.OrgFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing tenant context")
			return
		}
		var task model.QueuedTask
		if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		task.ID = uuid.NewString()
		task.AgentID = agentID
		task.OrgID = orgID
		task.Status = model.TaskQueued
		task.CreatedAt = time.Now().UTC()
		if err := st.UpsertTask(r.Context(), &task); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to queue task")
			return
		}
		writeJSON(w, http.StatusCreated, task)
	}
}

// HandleDeleteTask cancels/removes a queued task.
// DELETE /api/v1/tasks/{taskId}
func HandleDeleteTask(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["taskId"]
		if err := st.DeleteTask(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to delete task")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}
