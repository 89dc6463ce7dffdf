package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ocx/workforce/internal/model"
	"github.com/ocx/workforce/internal/store"
	"github.com/ocx/workforce/internal/tenant"
)

// HandleListOrgs lists every organization known to this control plane.
// GET /api/v1/organizations
func HandleListOrgs(tm *tenant.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgs := tm.ListOrgs()
		writeJSON(w, http.StatusOK, map[string]interface{}{"organizations": orgs, "count": len(orgs)})
	}
}

// HandleDeleteOrg removes an organization and its persisted record.
// DELETE /api/v1/organizations/{orgId}
func HandleDeleteOrg(tm *tenant.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["orgId"]
		if err := tm.DeleteOrg(r.Context(), id); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// HandleCreateOrg onboards a new tenant organization.
// POST /api/v1/organizations
func HandleCreateOrg(tm *tenant.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name string     `json:"name"`
			Slug string     `json:"slug"`
			Plan model.Plan `json:"plan"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.Plan == "" {
			body.Plan = model.PlanFree
		}
		org, err := tm.CreateOrg(r.Context(), uuid.NewString(), body.Name, body.Slug, body.Plan)
		if err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, org)
	}
}

// HandleGetOrg returns the caller's organization.
// GET /api/v1/organizations/current
func HandleGetOrg(tm *tenant.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, err := tenant.OrgFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing tenant context")
			return
		}
		org, err := tm.GetOrg(orgID)
		if err != nil {
			writeError(w, http.StatusNotFound, "organization not found")
			return
		}
		writeJSON(w, http.StatusOK, org)
	}
}

// HandleChangePlan upgrades/downgrades the caller's org onto a new plan
// template.
// PUT /api/v1/organizations/current/plan
func HandleChangePlan(tm *tenant.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, err := tenant.OrgFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing tenant context")
			return
		}
		var body struct {
			Plan model.Plan `json:"plan"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := tm.ChangePlan(r.Context(), orgID, body.Plan); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		org, _ := tm.GetOrg(orgID)
		writeJSON(w, http.StatusOK, org)
	}
}

// HandleCreateAPIKey issues a new API key for the caller's org. The full
// key (shown once) is returned alongside the persisted metadata record.
// POST /api/v1/organizations/current/api-keys
func HandleCreateAPIKey(tm *tenant.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, err := tenant.OrgFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing tenant context")
			return
		}
		var body struct {
			Name   string   `json:"name"`
			Scopes []string `json:"scopes,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		key, fullKey, err := tm.CreateAPIKey(r.Context(), orgID, body.Name, body.Scopes)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to create api key")
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"key": key, "secret": fullKey})
	}
}

// HandleListAPIKeys lists API key metadata (never secrets) for the
// caller's org.
// GET /api/v1/organizations/current/api-keys
func HandleListAPIKeys(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, err := tenant.OrgFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing tenant context")
			return
		}
		keys, err := st.ListAPIKeysByOrg(r.Context(), orgID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list api keys")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"keys": keys, "count": len(keys)})
	}
}

// HandleDeleteAPIKey revokes an API key.
// DELETE /api/v1/organizations/current/api-keys/{keyId}
func HandleDeleteAPIKey(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["keyId"]
		if err := st.DeleteAPIKey(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to revoke api key")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
	}
}

// HandleLimitCheck previews whether a resource increment would exceed the
// org's plan quota, without applying it.
// GET /api/v1/organizations/current/limits/{resource}?current=
func HandleLimitCheck(tm *tenant.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, err := tenant.OrgFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing tenant context")
			return
		}
		resource := mux.Vars(r)["resource"]
		current, useCurrent := int64(0), false
		if raw := r.URL.Query().Get("current"); raw != "" {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "current must be an integer")
				return
			}
			current, useCurrent = n, true
		}
		check, err := tm.CheckLimit(orgID, resource, current, useCurrent)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, check)
	}
}
