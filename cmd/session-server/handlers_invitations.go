package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"level-rush/internal/lobby"
)

func sendInvitationHandler(svc *lobby.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			identityPayload
			ToUserID   string `json:"to_user_id"`
			ToUsername string `json:"to_username"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		err := svc.SendInvitation(r.Context(), chi.URLParam(r, "session_id"), req.identity(), req.ToUserID, req.ToUsername)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	}
}

func listInvitationsHandler(svc *lobby.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := svc.Invitations(r.Context(), r.URL.Query().Get("user_id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, map[string]any{"items": items})
	}
}

func acceptInvitationHandler(svc *lobby.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req identityPayload
		if !decodeJSON(w, r, &req) {
			return
		}
		sess, playerID, err := svc.AcceptInvitation(r.Context(), chi.URLParam(r, "invitation_id"), req.identity())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, joinResponse{SessionID: sess.SessionID, PlayerID: playerID})
	}
}

func declineInvitationHandler(svc *lobby.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req identityPayload
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := svc.DeclineInvitation(r.Context(), chi.URLParam(r, "invitation_id"), req.identity()); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	}
}
