package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ocx/workforce/internal/approval"
	"github.com/ocx/workforce/internal/catalog"
	"github.com/ocx/workforce/internal/comm"
	"github.com/ocx/workforce/internal/config"
	"github.com/ocx/workforce/internal/events"
	"github.com/ocx/workforce/internal/lifecycle"
	"github.com/ocx/workforce/internal/middleware"
	"github.com/ocx/workforce/internal/permission"
	"github.com/ocx/workforce/internal/store"
	"github.com/ocx/workforce/internal/tenant"
	"github.com/ocx/workforce/internal/workforce"
)

// Dependencies bundles every component the router wires into handlers.
// Built once in cmd/server/main.go and handed to NewRouter.
type Dependencies struct {
	Config      *config.Config
	Store       *store.Store
	Tenant      *tenant.Manager
	Catalog     *catalog.Catalog
	Permissions *permission.Engine
	Versions    *permission.ProfileVersionStore
	Lifecycle   *lifecycle.Manager
	Approvals   *approval.Workflow
	Scheduler   *workforce.Scheduler
	Comm        *comm.Observer
	Bus         *events.EventBus
	RateLimiter *middleware.RateLimiter
}

// NewRouter assembles the full HTTP surface: health/service-card at top
// level, everything else (the event streams included) behind /api/v1 with
// tenant resolution and rate limiting applied.
func NewRouter(d Dependencies) http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/health", HandleHealth(d.Lifecycle)).Methods("GET")
	router.HandleFunc("/.well-known/ocx-workforce.json", HandleServiceCard()).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()

	// TenantMiddleware has signature (tm, next HandlerFunc) HandlerFunc, so
	// adapt it to the mux.MiddlewareFunc shape expected by api.Use().
	api.Use(func(next http.Handler) http.Handler {
		return middleware.TenantMiddleware(d.Tenant, func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
		})
	})
	if d.RateLimiter != nil {
		api.Use(d.RateLimiter.Middleware)
	}

	// Agents — literal paths before the {agentId} catch-all.
	api.HandleFunc("/agents", HandleListAgents(d.Lifecycle)).Methods("GET")
	api.HandleFunc("/agents", HandleCreateAgent(d.Lifecycle)).Methods("POST")
	api.HandleFunc("/agents/usage", HandleOrgUsage(d.Lifecycle)).Methods("GET")
	api.HandleFunc("/agents/{agentId}", HandleGetAgent(d.Lifecycle)).Methods("GET")
	api.HandleFunc("/agents/{agentId}", HandleDestroyAgent(d.Lifecycle)).Methods("DELETE")
	api.HandleFunc("/agents/{agentId}/config", HandleUpdateAgentConfig(d.Lifecycle)).Methods("PATCH")
	api.HandleFunc("/agents/{agentId}/deploy", HandleDeployAgent(d.Lifecycle)).Methods("POST")
	api.HandleFunc("/agents/{agentId}/stop", HandleStopAgent(d.Lifecycle)).Methods("POST")
	api.HandleFunc("/agents/{agentId}/restart", HandleRestartAgent(d.Lifecycle)).Methods("POST")
	api.HandleFunc("/agents/{agentId}/hot-update", HandleHotUpdateAgent(d.Lifecycle)).Methods("POST")
	api.HandleFunc("/agents/{agentId}/history", HandleStateHistory(d.Store)).Methods("GET")
	api.HandleFunc("/agents/{agentId}/tool-calls", HandleToolCallHistory(d.Store)).Methods("GET")

	// Tool catalog + permission profiles.
	api.HandleFunc("/tools", HandleListTools(d.Catalog)).Methods("GET")
	api.HandleFunc("/tools", HandleRegisterTool(d.Catalog)).Methods("POST")
	api.HandleFunc("/profiles", HandleListProfiles(d.Store)).Methods("GET")
	api.HandleFunc("/profiles", HandleCreateProfile(d.Store, d.Versions)).Methods("POST")
	api.HandleFunc("/profiles/{profileId}", HandleGetProfile(d.Store)).Methods("GET")
	api.HandleFunc("/profiles/{profileId}", HandleUpdateProfile(d.Store, d.Versions)).Methods("PUT")
	api.HandleFunc("/profiles/{profileId}", HandleDeleteProfile(d.Store)).Methods("DELETE")
	api.HandleFunc("/profiles/{profileId}/versions", HandleProfileHistory(d.Versions)).Methods("GET")
	api.HandleFunc("/profiles/{profileId}/rollback", HandleRollbackProfile(d.Store, d.Versions)).Methods("POST")
	api.HandleFunc("/permissions/evaluate", HandleEvaluateToolCall(d.Permissions)).Methods("POST")
	api.HandleFunc("/agents/{agentId}/policy", HandleAgentRuntimePolicy(d.Permissions)).Methods("GET")

	// Approvals.
	api.HandleFunc("/approvals", HandleRequestApproval(d.Approvals)).Methods("POST")
	api.HandleFunc("/approvals/pending", HandlePendingApprovals(d.Approvals, d.Store)).Methods("GET")
	api.HandleFunc("/approvals/history", HandleApprovalHistory(d.Approvals)).Methods("GET")
	api.HandleFunc("/approvals/policies", HandleListApprovalPolicies(d.Store)).Methods("GET")
	api.HandleFunc("/approvals/policies", HandleUpsertApprovalPolicy(d.Store)).Methods("POST")
	api.HandleFunc("/approvals/policies/{policyId}", HandleDeleteApprovalPolicy(d.Store)).Methods("DELETE")
	api.HandleFunc("/approvals/{requestId}/decide", HandleDecideApproval(d.Approvals)).Methods("POST")

	// Workforce scheduling, clock, and tasks.
	api.HandleFunc("/schedules", HandleListSchedules(d.Store)).Methods("GET")
	api.HandleFunc("/schedules/{scheduleId}", HandleDeleteSchedule(d.Store)).Methods("DELETE")
	api.HandleFunc("/tasks/{taskId}", HandleDeleteTask(d.Store)).Methods("DELETE")
	api.HandleFunc("/agents/{agentId}/schedule", HandleGetAgentSchedule(d.Store)).Methods("GET")
	api.HandleFunc("/agents/{agentId}/schedule", HandleUpsertSchedule(d.Store)).Methods("PUT")
	api.HandleFunc("/agents/{agentId}/schedule/next", HandleNextScheduleEvent(d.Scheduler)).Methods("GET")
	api.HandleFunc("/agents/{agentId}/clock", HandleClockStatus(d.Store)).Methods("GET")
	api.HandleFunc("/agents/{agentId}/clock/history", HandleClockHistory(d.Store)).Methods("GET")
	api.HandleFunc("/agents/{agentId}/tasks", HandleListTasks(d.Store)).Methods("GET")
	api.HandleFunc("/agents/{agentId}/tasks", HandleQueueTask(d.Store)).Methods("POST")

	// Communication observer.
	api.HandleFunc("/communication/topology", HandleCommunicationTopology(d.Comm)).Methods("GET")
	api.HandleFunc("/agents/{agentId}/messages", HandleAgentMessages(d.Comm)).Methods("GET")
	api.HandleFunc("/agents/{agentId}/messages/inbound", HandleInboundExternalMessage(d.Comm)).Methods("POST")
	api.HandleFunc("/agents/{agentId}/observe", HandleObserveToolCall(d.Comm)).Methods("POST")

	// Organizations, plans, API keys.
	api.HandleFunc("/organizations", HandleListOrgs(d.Tenant)).Methods("GET")
	api.HandleFunc("/organizations", HandleCreateOrg(d.Tenant)).Methods("POST")
	api.HandleFunc("/organizations/current", HandleGetOrg(d.Tenant)).Methods("GET")
	api.HandleFunc("/organizations/current/plan", HandleChangePlan(d.Tenant)).Methods("PUT")
	api.HandleFunc("/organizations/current/limits/{resource}", HandleLimitCheck(d.Tenant)).Methods("GET")
	api.HandleFunc("/organizations/current/api-keys", HandleListAPIKeys(d.Store)).Methods("GET")
	api.HandleFunc("/organizations/current/api-keys", HandleCreateAPIKey(d.Tenant)).Methods("POST")
	api.HandleFunc("/organizations/current/api-keys/{keyId}", HandleDeleteAPIKey(d.Store)).Methods("DELETE")
	api.HandleFunc("/organizations/{orgId}", HandleDeleteOrg(d.Tenant)).Methods("DELETE")

	// Activity feed, budget alerts, live event stream.
	api.HandleFunc("/activity", HandleActivityFeed(d.Store)).Methods("GET")
	api.HandleFunc("/budget/alerts", HandleBudgetAlerts(d.Store)).Methods("GET")
	api.HandleFunc("/events/stream", HandleSSEStream(d.Bus)).Methods("GET")
	api.HandleFunc("/events/stream/ws", HandleEventsWebSocket(d.Bus)).Methods("GET")

	router.Use(MakeCORSMiddleware(d.Config))
	router.Use(LoggingMiddleware)

	return router
}
