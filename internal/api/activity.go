package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/ocx/workforce/internal/store"
	"github.com/ocx/workforce/internal/tenant"
)

// HandleActivityFeed returns the org's activity feed, optionally since a
// given RFC3339 timestamp.
// GET /api/v1/activity?since=&limit=
func HandleActivityFeed(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, err := tenant.OrgFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing tenant context")
			return
		}
		since := r.URL.Query().Get("since")
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = 200
		}
		events, err := st.ListActivityByOrg(r.Context(), orgID, since, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list activity")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"events": events, "count": len(events)})
	}
}

// HandleStateHistory returns one agent's recorded lifecycle state
// transitions.
// GET /api/v1/agents/{agentId}/history
func HandleStateHistory(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := mux.Vars(r)["agentId"]
		hist, err := st.ListStateHistory(r.Context(), agentID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list state history")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"transitions": hist, "count": len(hist)})
	}
}

// HandleBudgetAlerts lists the org's budget warning/hard-stop notices,
// most recent first.
// GET /api/v1/budget/alerts
func HandleBudgetAlerts(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, err := tenant.OrgFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing tenant context")
			return
		}
		alerts, err := st.ListBudgetAlertsByOrg(r.Context(), orgID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list budget alerts")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": alerts, "count": len(alerts)})
	}
}

// HandleToolCallHistory lists an agent's recorded tool-call/usage ledger.
// GET /api/v1/agents/{agentId}/tool-calls
func HandleToolCallHistory(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := mux.Vars(r)["agentId"]
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = 200
		}
		calls, err := st.ListToolCallsByAgent(r.Context(), agentID, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list tool calls")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"toolCalls": calls, "count": len(calls)})
	}
}
