package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ocx/workforce/internal/catalog"
	"github.com/ocx/workforce/internal/model"
	"github.com/ocx/workforce/internal/permission"
	"github.com/ocx/workforce/internal/store"
	"github.com/ocx/workforce/internal/tenant"
)

// HandleListTools lists every tool catalog entry.
// GET /api/v1/tools
func HandleListTools(cat *catalog.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"tools": cat.List(), "count": cat.Count()})
	}
}

// HandleRegisterTool adds a tool to the catalog.
// POST /api/v1/tools
func HandleRegisterTool(cat *catalog.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var entry model.ToolCatalogEntry
		if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := cat.Register(&entry); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, entry)
	}
}

// HandleListProfiles lists every permission profile in the caller's org.
// GET /api/v1/profiles
func HandleListProfiles(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, err := tenant.OrgFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing tenant context")
			return
		}
		profiles, err := st.ListProfilesByOrg(r.Context(), orgID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list profiles")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"profiles": profiles, "count": len(profiles)})
	}
}

// HandleGetProfile returns one profile by id.
// GET /api/v1/profiles/{profileId}
func HandleGetProfile(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["profileId"]
		p, err := st.GetProfile(r.Context(), id)
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to get profile")
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// HandleCreateProfile creates a new permission profile and records its
// first version.
// POST /api/v1/profiles
func HandleCreateProfile(st *store.Store, versions *permission.ProfileVersionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, err := tenant.OrgFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing tenant context")
			return
		}
		var p model.PermissionProfile
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		p.ID = uuid.NewString()
		p.OrgID = orgID
		if err := st.UpsertProfile(r.Context(), &p); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to save profile")
			return
		}
		versions.Push(p.ID, p, triggeredByOf(r), "created")
		writeJSON(w, http.StatusCreated, p)
	}
}

// HandleUpdateProfile replaces a profile's gates and records a new version,
// so HandleRollbackProfile can recover the prior revision.
// PUT /api/v1/profiles/{profileId}
func HandleUpdateProfile(st *store.Store, versions *permission.ProfileVersionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["profileId"]
		existing, err := st.GetProfile(r.Context(), id)
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		var body struct {
			model.PermissionProfile
			Reason string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		p := body.PermissionProfile
		p.ID = id
		p.OrgID = existing.OrgID
		if err := st.UpsertProfile(r.Context(), &p); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to save profile")
			return
		}
		v := versions.Push(id, p, triggeredByOf(r), body.Reason)
		writeJSON(w, http.StatusOK, map[string]interface{}{"profile": p, "version": v.Version})
	}
}

// HandleDeleteProfile removes a profile.
// DELETE /api/v1/profiles/{profileId}
func HandleDeleteProfile(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["profileId"]
		if err := st.DeleteProfile(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to delete profile")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// HandleProfileHistory returns every recorded version of a profile.
// GET /api/v1/profiles/{profileId}/versions
func HandleProfileHistory(versions *permission.ProfileVersionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["profileId"]
		hist := versions.GetHistory(id)
		writeJSON(w, http.StatusOK, map[string]interface{}{"versions": hist, "count": len(hist)})
	}
}

// HandleRollbackProfile reactivates a prior profile version, both in the
// version store and as the persisted current profile.
// POST /api/v1/profiles/{profileId}/rollback
func HandleRollbackProfile(st *store.Store, versions *permission.ProfileVersionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["profileId"]
		var body struct {
			Version int `json:"version"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		p, err := versions.Rollback(id, body.Version)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		if err := st.UpsertProfile(r.Context(), p); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to persist rollback")
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// HandleEvaluateToolCall runs the Permission Engine's pipeline for a given
// agent/tool pair without recording a call — used by operators to preview
// what a policy change will allow.
// POST /api/v1/permissions/evaluate
func HandleEvaluateToolCall(engine *permission.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			AgentID string `json:"agentId"`
			ToolID  string `json:"toolId"`
			IP      string `json:"ip,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		decision := engine.EvaluateToolCall(body.AgentID, body.ToolID, permission.Context{Time: time.Now().UTC(), IP: body.IP})
		writeJSON(w, http.StatusOK, decision)
	}
}

// HandleAgentRuntimePolicy resolves an agent's full tool policy and returns
// it in the runtime-facing {"tools.allow": [...], "tools.deny": [...]}
// shape a deployed runtime's skill gateway is expected to enforce.
// GET /api/v1/agents/{agentId}/policy
func HandleAgentRuntimePolicy(engine *permission.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := mux.Vars(r)["agentId"]
		policy := engine.GenerateToolPolicy(agentID)
		runtime := catalog.ToRuntimePolicy(policy.AllowedTools, policy.BlockedTools)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"policy":           runtime,
			"approvalRequired": policy.ApprovalRequired,
			"rateLimits":       policy.RateLimits,
		})
	}
}
