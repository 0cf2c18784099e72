// Package httptransport assembles the HTTP surface: health, public battle
// queries, the MCP inspection mount, and the websocket upgrade endpoint.
package httptransport

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"battle-relay/internal/battle"
	"battle-relay/internal/mcpserver"
	"battle-relay/internal/store"
	"battle-relay/internal/ws"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

func NewRouter(st *store.Store, coord *battle.Coordinator) *chi.Mux {
	wsSrv := ws.NewServer(coord)
	mcpSrv := mcpserver.New(st, coord)
	public := NewPublicHandlers(st, coord)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.With(APILogMiddleware()).Get("/healthz", HealthHandler(st))
	r.With(APILogMiddleware()).MethodFunc(http.MethodOptions, "/mcp", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Allow", "POST, GET, DELETE, OPTIONS")
		w.WriteHeader(http.StatusNoContent)
	})
	r.With(APILogMiddleware()).Method(http.MethodPost, "/mcp", mcpSrv.Handler())
	r.With(APILogMiddleware()).Method(http.MethodGet, "/mcp", mcpSrv.Handler())
	r.With(APILogMiddleware()).Method(http.MethodDelete, "/mcp", mcpSrv.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(APILogMiddleware())
		r.Get("/public/battles", public.Battles())
		r.Get("/public/battles/{battle_id}", public.Battle())
		r.Get("/public/battles/{battle_id}/transcript", public.Transcript())
		r.Get("/public/stats", public.Stats())
		r.Get("/debug/vars", expvar.Handler().ServeHTTP)
	})

	// The upgrade endpoint bypasses the request logger; the connection is
	// hijacked and outlives the request.
	r.Get("/ws", wsSrv.HandleWS)
	return r
}

type pinger interface {
	Ping(ctx context.Context) error
}

func HealthHandler(p pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := p.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "db": "down"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "db": "up"})
	}
}

func LogRoutes(r chi.Router) {
	type routeDef struct {
		Method string
		Path   string
	}
	routes := make([]routeDef, 0, 64)
	err := chi.Walk(r, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, routeDef{Method: method, Path: route})
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("walk routes failed")
		return
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path == routes[j].Path {
			return routes[i].Method < routes[j].Method
		}
		return routes[i].Path < routes[j].Path
	})
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Registered routes (%d):\n", len(routes)))
	for _, rt := range routes {
		b.WriteString(fmt.Sprintf("  %-6s %s\n", rt.Method, rt.Path))
	}
	fmt.Print(b.String())
}
