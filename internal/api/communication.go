package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ocx/workforce/internal/comm"
	"github.com/ocx/workforce/internal/tenant"
)

// HandleCommunicationTopology aggregates recent traffic into a node/edge
// graph for visualization.
// GET /api/v1/communication/topology
func HandleCommunicationTopology(obs *comm.Observer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, err := tenant.OrgFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing tenant context")
			return
		}
		topo, err := obs.GetTopology(r.Context(), orgID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to aggregate topology")
			return
		}
		writeJSON(w, http.StatusOK, topo)
	}
}

// HandleAgentMessages lists every message observed for one agent.
// GET /api/v1/agents/{agentId}/messages
func HandleAgentMessages(obs *comm.Observer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := mux.Vars(r)["agentId"]
		msgs, err := obs.ListByAgent(r.Context(), agentID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list messages")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs, "count": len(msgs)})
	}
}

// HandleObserveToolCall is the runtime integration point: callers report a
// reportable tool call (e.g. send/reply/forward, message_agent/call_agent,
// claim_task/complete_task/submit_result) here so it is classified and
// projected into the communication graph.
// POST /api/v1/agents/{agentId}/observe
func HandleObserveToolCall(obs *comm.Observer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := mux.Vars(r)["agentId"]
		orgID, err := tenant.OrgFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing tenant context")
			return
		}
		var in comm.ToolCallInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		msgs, err := obs.ObserveToolCall(r.Context(), orgID, agentID, in)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to observe tool call")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs, "count": len(msgs)})
	}
}

// HandleInboundExternalMessage records an externally-originated reply
// (e.g. an inbound email) arriving for a managed agent.
// POST /api/v1/agents/{agentId}/messages/inbound
func HandleInboundExternalMessage(obs *comm.Observer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := mux.Vars(r)["agentId"]
		orgID, err := tenant.OrgFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing tenant context")
			return
		}
		var body struct {
			From    string `json:"from"`
			Subject string `json:"subject"`
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		msg, err := obs.RecordInboundExternal(r.Context(), orgID, agentID, body.From, body.Subject, body.Content)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to record message")
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}
