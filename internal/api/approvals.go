package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ocx/workforce/internal/approval"
	"github.com/ocx/workforce/internal/model"
	"github.com/ocx/workforce/internal/store"
	"github.com/ocx/workforce/internal/tenant"
)

// HandleRequestApproval records a new approval request for a gated tool call.
// POST /api/v1/approvals
func HandleRequestApproval(wf *approval.Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, err := tenant.OrgFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing tenant context")
			return
		}
		var body struct {
			AgentID   string                 `json:"agentId"`
			AgentName string                 `json:"agentName"`
			ToolID    string                 `json:"toolId"`
			Reason    string                 `json:"reason"`
			Params    map[string]interface{} `json:"parameters,omitempty"`
			Context   map[string]interface{} `json:"context,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req, err := wf.Request(r.Context(), orgID, body.AgentID, body.AgentName, body.ToolID, body.Reason, body.Params, body.Context)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, req)
	}
}

// HandleDecideApproval records a human approve/deny decision.
// POST /api/v1/approvals/{requestId}/decide
func HandleDecideApproval(wf *approval.Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["requestId"]
		var body struct {
			Approved bool   `json:"approved"`
			Reason   string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req, err := wf.Decide(r.Context(), id, body.Approved, triggeredByOf(r), body.Reason)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, req)
	}
}

// HandlePendingApprovals lists pending approvals for one agent, or all
// pending approvals for the caller's org when agentId is omitted.
// GET /api/v1/approvals/pending?agentId=
func HandlePendingApprovals(wf *approval.Workflow, st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := r.URL.Query().Get("agentId")
		if agentID != "" {
			pending, err := wf.GetPending(r.Context(), agentID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to list pending approvals")
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{"approvals": pending, "count": len(pending)})
			return
		}

		orgID, err := tenant.OrgFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing tenant context")
			return
		}
		agents, err := st.ListAgentsByOrg(r.Context(), orgID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list agents")
			return
		}
		var all []*model.ApprovalRequest
		for _, a := range agents {
			pending, err := wf.GetPending(r.Context(), a.ID)
			if err != nil {
				continue
			}
			all = append(all, pending...)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"approvals": all, "count": len(all)})
	}
}

// HandleApprovalHistory lists an agent's decided approvals, paginated.
// GET /api/v1/approvals/history?agentId=&limit=&offset=
func HandleApprovalHistory(wf *approval.Workflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := r.URL.Query().Get("agentId")
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		if limit <= 0 {
			limit = 50
		}
		hist, err := wf.GetHistory(r.Context(), agentID, limit, offset)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list approval history")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"approvals": hist, "count": len(hist)})
	}
}

// HandleListApprovalPolicies lists the org's approval policies.
// GET /api/v1/approvals/policies
func HandleListApprovalPolicies(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, err := tenant.OrgFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing tenant context")
			return
		}
		policies, err := st.ListApprovalPolicies(r.Context(), orgID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list policies")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"policies": policies, "count": len(policies)})
	}
}

// HandleUpsertApprovalPolicy creates or replaces an approval policy.
// POST /api/v1/approvals/policies
func HandleUpsertApprovalPolicy(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, err := tenant.OrgFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing tenant context")
			return
		}
		var p model.ApprovalPolicy
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		p.OrgID = orgID
		now := time.Now().UTC()
		if p.ID == "" {
			p.ID = uuid.NewString()
			p.CreatedAt = now
		}
		p.UpdatedAt = now
		if err := st.UpsertApprovalPolicy(r.Context(), &p); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to save policy")
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// HandleDeleteApprovalPolicy deletes an approval policy.
// DELETE /api/v1/approvals/policies/{policyId}
func HandleDeleteApprovalPolicy(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["policyId"]
		if err := st.DeleteApprovalPolicy(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to delete policy")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}
