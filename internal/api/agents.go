package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ocx/workforce/internal/lifecycle"
	"github.com/ocx/workforce/internal/model"
	"github.com/ocx/workforce/internal/tenant"
)

// HandleCreateAgent creates a ManagedAgent in the caller's org.
// POST /api/v1/agents
func HandleCreateAgent(lc *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, err := tenant.OrgFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing tenant context")
			return
		}
		var cfg model.AgentConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		agent, err := lc.CreateAgent(r.Context(), orgID, cfg)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, agent)
	}
}

// HandleListAgents lists every agent in the caller's org.
// GET /api/v1/agents
func HandleListAgents(lc *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, err := tenant.OrgFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing tenant context")
			return
		}
		agents, err := lc.GetAgentsByOrg(r.Context(), orgID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list agents")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"agents": agents, "count": len(agents)})
	}
}

// HandleGetAgent returns one agent by id.
// GET /api/v1/agents/{agentId}
func HandleGetAgent(lc *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := mux.Vars(r)["agentId"]
		agent, err := lc.GetAgent(r.Context(), agentID)
		if errors.Is(err, lifecycle.ErrAgentNotFound) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to get agent")
			return
		}
		writeJSON(w, http.StatusOK, agent)
	}
}

// HandleUpdateAgentConfig merges a new AgentConfig into an agent, driving
// its lifecycle transition (configuring->ready, or a live hot-update).
// PATCH /api/v1/agents/{agentId}/config
func HandleUpdateAgentConfig(lc *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := mux.Vars(r)["agentId"]
		var cfg model.AgentConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		agent, err := lc.UpdateConfig(r.Context(), agentID, cfg)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, agent)
	}
}

// triggeredByOf reports the acting user, falling back to "api" when the
// request carries no X-User-Id (service-to-service calls).
func triggeredByOf(r *http.Request) string {
	if userID, err := tenant.UserFromContext(r.Context()); err == nil && userID != "" {
		return userID
	}
	return "api"
}

// HandleDeployAgent moves an agent from ready/stopped/error into running.
// POST /api/v1/agents/{agentId}/deploy
func HandleDeployAgent(lc *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := mux.Vars(r)["agentId"]
		agent, err := lc.Deploy(r.Context(), agentID, triggeredByOf(r))
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, agent)
	}
}

// HandleStopAgent halts a running/degraded agent.
// POST /api/v1/agents/{agentId}/stop
func HandleStopAgent(lc *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := mux.Vars(r)["agentId"]
		var body struct {
			Reason string `json:"reason"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if err := lc.Stop(r.Context(), agentID, triggeredByOf(r), body.Reason); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
	}
}

// HandleRestartAgent restarts a running/degraded agent in place via the
// deployer's restart call, without a full stop/redeploy cycle.
// POST /api/v1/agents/{agentId}/restart
func HandleRestartAgent(lc *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := mux.Vars(r)["agentId"]
		agent, err := lc.Restart(r.Context(), agentID, triggeredByOf(r))
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, agent)
	}
}

// HandleHotUpdateAgent applies a config patch to a running/degraded agent
// without a full redeploy, rejecting the request if the agent is in any
// other state.
// POST /api/v1/agents/{agentId}/hot-update
func HandleHotUpdateAgent(lc *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := mux.Vars(r)["agentId"]
		agent, err := lc.GetAgent(r.Context(), agentID)
		if errors.Is(err, lifecycle.ErrAgentNotFound) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to get agent")
			return
		}
		patch := agent.Config
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		updated, err := lc.HotUpdate(r.Context(), agentID, patch)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

// HandleDestroyAgent permanently tears down an agent.
// DELETE /api/v1/agents/{agentId}
func HandleDestroyAgent(lc *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := mux.Vars(r)["agentId"]
		var body struct {
			Reason string `json:"reason"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if err := lc.Destroy(r.Context(), agentID, triggeredByOf(r), body.Reason); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "destroyed"})
	}
}

// HandleOrgUsage returns the aggregated token/cost/tool-call totals across
// an org's agents.
// GET /api/v1/agents/usage
func HandleOrgUsage(lc *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, err := tenant.OrgFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing tenant context")
			return
		}
		usage, err := lc.GetOrgUsage(r.Context(), orgID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to aggregate usage")
			return
		}
		writeJSON(w, http.StatusOK, usage)
	}
}
