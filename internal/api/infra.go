// Package api is the HTTP admin surface over every control-plane
// component: agent lifecycle, permission profiles, approvals, workforce
// scheduling, communication, and activity.
//
// Grounded on the teacher's internal/handlers/infra.go (CORS middleware
// with wildcard-suffix matching, JSON request logging, SSE streaming with
// an initial "connected" event, a service-discovery card) kept nearly
// verbatim — this ambient HTTP plumbing doesn't change across domains —
// with the discovery card's capability list and endpoint map rewritten
// for this control plane's routes.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/ocx/workforce/internal/config"
	"github.com/ocx/workforce/internal/events"
	"github.com/ocx/workforce/internal/lifecycle"
)

// wsUpgrader accepts any origin, matching this control plane's CORS policy
// of allowing configured origins at the HTTP layer rather than at the
// WebSocket handshake — the teacher's fabric/websocket.go instead checked
// an OCX_ALLOWED_ORIGINS env var at upgrade time, which duplicates
// MakeCORSMiddleware's job here for no benefit.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// MakeCORSMiddleware returns CORS middleware using config origins,
// matching the request's Origin header against exact and wildcard-suffix
// entries (e.g. "https://*.run.app").
func MakeCORSMiddleware(cfg *config.Config) mux.MiddlewareFunc {
	exact := make(map[string]bool, len(cfg.Server.CORSAllowOrigins))
	var wildcardSuffixes []string
	allowAll := false
	for _, o := range cfg.Server.CORSAllowOrigins {
		if o == "*" {
			allowAll = true
		} else if strings.Contains(o, "*") {
			suffix := strings.Replace(o, "*", "", 1)
			wildcardSuffixes = append(wildcardSuffixes, suffix)
		} else {
			exact[o] = true
		}
	}

	originAllowed := func(origin string) bool {
		if exact[origin] {
			return true
		}
		for _, suffix := range wildcardSuffixes {
			parts := strings.SplitN(suffix, "//", 2)
			if len(parts) == 2 {
				scheme := parts[0] + "//"
				domainSuffix := parts[1]
				if strings.HasPrefix(origin, scheme) && strings.HasSuffix(origin, domainSuffix) {
					return true
				}
			} else if strings.HasSuffix(origin, suffix) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if origin != "" && originAllowed(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers",
				"Content-Type, Authorization, X-Tenant-Id, X-User-Id, X-Agent-ID, X-Request-ID, Accept")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LoggingMiddleware logs each request in structured form.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Info("request", "method", r.Method, "path", r.URL.Path, "duration_ms", time.Since(start).Milliseconds())
	})
}

// HandleSSEStream streams the event bus over Server-Sent Events, optionally
// filtered to a comma-separated "events" query param.
func HandleSSEStream(bus *events.EventBus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "SSE not supported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		var eventTypes []string
		if filter := r.URL.Query().Get("events"); filter != "" {
			eventTypes = strings.Split(filter, ",")
		}

		ch := bus.Subscribe(eventTypes...)
		defer bus.Unsubscribe(ch)

		fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\"}\n\n")
		flusher.Flush()

		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return
				}
				sseData, err := event.SSEFormat()
				if err != nil {
					continue
				}
				w.Write(sseData)
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	}
}

// HandleEventsWebSocket upgrades to a WebSocket and pushes the same
// CloudEvents HandleSSEStream sends over SSE, as JSON text frames instead
// of event-stream frames — for clients (native apps, non-browser
// consumers) that can't use an EventSource. One-way: this control plane
// has no inbound message type to route client frames to, so incoming
// frames are read and discarded purely to drive the close/error detection
// and keep the read deadline alive.
//
// Grounded on the teacher's fabric/websocket.go per-connection ping
// ticker and pong-deadline reset (handleSpokeConnection), narrowed from
// its bidirectional spoke-routing loop to a one-way event relay.
func HandleEventsWebSocket(bus *events.EventBus) http.HandlerFunc {
	const (
		pongWait   = 60 * time.Second
		pingPeriod = 30 * time.Second
		writeWait  = 10 * time.Second
	)

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		var eventTypes []string
		if filter := r.URL.Query().Get("events"); filter != "" {
			eventTypes = strings.Split(filter, ",")
		}
		ch := bus.Subscribe(eventTypes...)
		defer bus.Unsubscribe(ch)

		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return
				}
				payload, err := event.JSON()
				if err != nil {
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			case <-r.Context().Done():
				return
			}
		}
	}
}

// HandleHealth reports process liveness for load balancer probes, plus the
// circuit-breaker state of every deployment target the Lifecycle Manager
// has talked to, so an operator sees a degraded deployer before agents
// start failing health checks against it.
func HandleHealth(lm *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, deployers := lm.DeployerHealth()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    "healthy",
			"service":   "workforce-control-plane",
			"deployers": status,
			"breakers":  deployers,
		})
	}
}

// HandleServiceCard returns a discovery document describing this control
// plane's capabilities, mirroring the teacher's agent-card pattern.
func HandleServiceCard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"name":        "Workforce Control Plane",
			"version":     "1.0.0",
			"description": "Lifecycle, permission, approval, budget, and scheduling control plane for autonomous AI agent employees.",
			"capabilities": []string{
				"lifecycle", "permissions", "approvals", "budget",
				"scheduling", "communication", "activity",
			},
			"endpoints": map[string]string{
				"agents":        "/api/v1/agents",
				"profiles":      "/api/v1/profiles",
				"approvals":     "/api/v1/approvals",
				"schedules":     "/api/v1/schedules",
				"communication": "/api/v1/communication/topology",
				"events":        "/api/v1/events/stream",
				"eventsWs":      "/api/v1/events/stream/ws",
				"metrics":       "/metrics",
				"health":        "/health",
			},
			"authentication": "Bearer ocx_<id>.<secret> or X-Tenant-Id",
		})
	}
}

// writeJSON is the shared response encoder every handler in this package
// uses, matching the teacher's inline json.NewEncoder(w).Encode style.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
