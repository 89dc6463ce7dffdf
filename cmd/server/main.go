// Command server wires every control-plane component (Store, Tenant
// Manager, Tool Catalog, Permission Engine, Approval Workflow, Budget
// Meter, Deployer Registry, Agent Lifecycle Manager, Workforce Scheduler,
// Communication Observer, Event Bus) into one process and serves the
// admin HTTP surface (§6), matching the teacher's cmd/api/main.go
// construction order: config, store, managers, router, graceful shutdown.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/ocx/workforce/internal/api"
	"github.com/ocx/workforce/internal/approval"
	"github.com/ocx/workforce/internal/budget"
	"github.com/ocx/workforce/internal/catalog"
	"github.com/ocx/workforce/internal/comm"
	"github.com/ocx/workforce/internal/config"
	"github.com/ocx/workforce/internal/deployer"
	"github.com/ocx/workforce/internal/events"
	"github.com/ocx/workforce/internal/infra"
	"github.com/ocx/workforce/internal/lifecycle"
	"github.com/ocx/workforce/internal/metrics"
	"github.com/ocx/workforce/internal/middleware"
	"github.com/ocx/workforce/internal/model"
	"github.com/ocx/workforce/internal/permission"
	"github.com/ocx/workforce/internal/store"
	"github.com/ocx/workforce/internal/tenant"
	"github.com/ocx/workforce/internal/workforce"
)

func main() {
	cfg := config.Get()

	dialect := store.Dialect(cfg.Store.Dialect)
	st, err := store.Open(dialect, cfg.Store.DSN)
	if err != nil {
		log.Fatalf("store: open failed: %v", err)
	}
	defer st.Close()
	slog.Info("store opened", "dialect", dialect, "dsn", cfg.Store.DSN)

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer bootCancel()

	tenantMgr, err := tenant.New(bootCtx, st)
	if err != nil {
		log.Fatalf("tenant: init failed: %v", err)
	}
	if _, err := tenantMgr.CreateDefaultOrg(bootCtx); err != nil {
		slog.Warn("tenant: default org bootstrap failed", "error", err)
	}

	toolCatalog := catalog.New()
	met := metrics.New()
	bus := events.NewEventBus()

	// Redis is optional — every component above falls back to its
	// in-memory behavior when it's absent, matching the teacher's
	// "graceful fallback" cmd/api/main.go wiring.
	var bridge *events.RedisEventBridge
	if cfg.Redis.Addr != "" {
		rdb, err := infra.NewGoRedisAdapter(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			slog.Warn("redis connection failed, event bus stays in-process only", "addr", cfg.Redis.Addr, "error", err)
		} else {
			defer rdb.Close()
			originID := uuid.NewString()
			bridge, err = events.NewRedisEventBridge(bootCtx, bus, rdb, "workforce:events", originID)
			if err != nil {
				slog.Warn("redis event bridge failed to start, event bus stays in-process only", "error", err)
			} else {
				defer bridge.Close()
				slog.Info("redis event bridge started", "addr", cfg.Redis.Addr, "origin", originID)
			}
		}
	} else {
		slog.Info("redis disabled (no REDIS_ADDR), event bus is in-process only")
	}

	// permission.Engine needs a ProfileLookup that resolves through the
	// Lifecycle Manager's agent cache, but the Manager itself needs the
	// Engine — broken by capturing the manager in a closure bound after
	// construction, a standard two-phase tie for this kind of mutual
	// dependency.
	var lifecycleMgr *lifecycle.Manager
	engine := permission.New(toolCatalog, func(agentID string) (*model.PermissionProfile, bool) {
		if lifecycleMgr == nil {
			return nil, false
		}
		return lifecycleMgr.ProfileLookup()(agentID)
	})

	meter := budget.NewWithWarningThreshold(st, bus, met, cfg.Budget.WarningThresholdPct)
	deployRegistry := deployer.NewRegistry()
	lifecycleMgr = lifecycle.NewWithThresholds(st, tenantMgr, engine, meter, deployRegistry, bus, met,
		time.Duration(cfg.Lifecycle.HealthCheckIntervalSec)*time.Second,
		cfg.Lifecycle.DegradedThreshold, cfg.Lifecycle.UnhealthyThreshold)

	approvals := approval.NewWithDefaultPolicy(st, toolCatalog, bus, cfg.Approval.DefaultTimeoutMinutes, cfg.Approval.DefaultAutoDeny)
	scheduler := workforce.NewWithTickInterval(st, tenantMgr, lifecycleMgr, approvals, bus,
		time.Duration(cfg.Scheduler.TickIntervalSec)*time.Second)
	commObserver := comm.New(st, bus)
	versions := permission.NewProfileVersionStore()

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		MaxCallsPerMinute: 600,
	})

	// Rehydrate the communication directory and agent-state gauges from
	// whatever the store already has (process restart, not a cold boot).
	for _, org := range tenantMgr.ListOrgs() {
		if err := commObserver.RebuildDirectory(bootCtx, org.ID); err != nil {
			slog.Warn("communication directory rebuild failed", "org_id", org.ID, "error", err)
		}
	}
	lifecycleMgr.RefreshAgentGauges(bootCtx, orgIDs(tenantMgr))

	runCtx, runCancel := context.WithCancel(context.Background())
	scheduler.Start(runCtx)
	defer scheduler.Stop()

	router := api.NewRouter(api.Dependencies{
		Config:      cfg,
		Store:       st,
		Tenant:      tenantMgr,
		Catalog:     toolCatalog,
		Permissions: engine,
		Versions:    versions,
		Lifecycle:   lifecycleMgr,
		Approvals:   approvals,
		Scheduler:   scheduler,
		Comm:        commObserver,
		Bus:         bus,
		RateLimiter: rateLimiter,
	})

	mux := http.NewServeMux()
	mux.Handle("/", router)
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
	}

	server := &http.Server{
		Addr:         cfg.Server.Interface + ":" + cfg.GetPort(),
		Handler:      mux,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("shutdown signal received, draining")
		runCancel()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("workforce control plane starting", "port", cfg.GetPort(), "env", cfg.Server.Env)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server failed: %v", err)
	}
	slog.Info("server stopped")
}

func orgIDs(tm *tenant.Manager) []string {
	orgs := tm.ListOrgs()
	ids := make([]string, len(orgs))
	for i, o := range orgs {
		ids[i] = o.ID
	}
	return ids
}
