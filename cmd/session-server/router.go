package main

import (
	"expvar"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"level-rush/internal/config"
	"level-rush/internal/lobby"
	"level-rush/internal/ws"
)

func newRouter(svc *lobby.Service, wsSrv *ws.Server, cfg config.SessionConfig) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.With(apiLogMiddleware()).Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"ok": true})
	})

	r.Get("/ws", wsSrv.HandleWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(apiLogMiddleware())

		r.Post("/sessions", createSessionHandler(svc))
		r.Get("/sessions", listSessionsHandler(svc, cfg.HeartbeatInterval))
		r.Post("/sessions/join-by-name", joinByNameHandler(svc))
		r.Get("/sessions/{session_id}", getSessionHandler(svc, cfg.HeartbeatInterval))
		r.Post("/sessions/{session_id}/join", joinSessionHandler(svc))
		r.Post("/sessions/{session_id}/leave", leaveSessionHandler(svc))
		r.Post("/sessions/{session_id}/kick", kickPlayerHandler(svc))
		r.Post("/sessions/{session_id}/invitations", sendInvitationHandler(svc))

		r.Get("/invitations", listInvitationsHandler(svc))
		r.Post("/invitations/{invitation_id}/accept", acceptInvitationHandler(svc))
		r.Post("/invitations/{invitation_id}/decline", declineInvitationHandler(svc))

		r.Get("/debug/vars", expvar.Handler().ServeHTTP)
	})

	return r
}

func logRoutes(r chi.Router) {
	type routeDef struct {
		Method string
		Path   string
	}
	routes := make([]routeDef, 0, 16)
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
