package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"level-rush/internal/lobby"
	"level-rush/internal/presence"
	"level-rush/internal/session"
)

type identityPayload struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

func (p identityPayload) identity() lobby.Identity {
	return lobby.Identity{UserID: p.UserID, Username: p.Username}
}

type createSessionRequest struct {
	identityPayload
	LobbyName  string            `json:"lobby_name"`
	IsPublic   bool              `json:"is_public"`
	MaxPlayers int               `json:"max_players"`
	Mode       string            `json:"mode"`
	Invited    map[string]string `json:"invited,omitempty"`
}

type sessionCreatedResponse struct {
	SessionID string `json:"session_id"`
	PlayerID  string `json:"player_id"`
}

type joinResponse struct {
	SessionID string `json:"session_id"`
	PlayerID  string `json:"player_id"`
}

func createSessionHandler(svc *lobby.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createSessionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		sess, err := svc.Create(r.Context(), req.identity(), lobby.CreateRequest{
			LobbyName:  req.LobbyName,
			IsPublic:   req.IsPublic,
			MaxPlayers: req.MaxPlayers,
			Mode:       session.Mode(req.Mode),
			Invited:    req.Invited,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, sessionCreatedResponse{SessionID: sess.SessionID, PlayerID: sess.HostPlayerID})
	}
}

func listSessionsHandler(svc *lobby.Service, heartbeat time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := lobby.Identity{UserID: r.URL.Query().Get("user_id")}
		sessions, err := svc.List(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		now := time.Now()
		items := make([]session.Snapshot, 0, len(sessions))
		for _, sess := range sessions {
			items = append(items, session.SnapshotFor(sess, "", now, presence.StaleAfter(heartbeat)))
		}
		writeJSON(w, map[string]any{"items": items})
	}
}

func getSessionHandler(svc *lobby.Service, heartbeat time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := svc.Get(r.Context(), chi.URLParam(r, "session_id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, session.SnapshotFor(sess, "", time.Now(), presence.StaleAfter(heartbeat)))
	}
}

func joinSessionHandler(svc *lobby.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req identityPayload
		if !decodeJSON(w, r, &req) {
			return
		}
		sess, playerID, err := svc.Join(r.Context(), chi.URLParam(r, "session_id"), req.identity())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, joinResponse{SessionID: sess.SessionID, PlayerID: playerID})
	}
}

func joinByNameHandler(svc *lobby.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			identityPayload
			LobbyName string `json:"lobby_name"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		sess, playerID, err := svc.JoinByName(r.Context(), req.LobbyName, req.identity())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, joinResponse{SessionID: sess.SessionID, PlayerID: playerID})
	}
}

func leaveSessionHandler(svc *lobby.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			PlayerID string `json:"player_id"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := svc.Leave(r.Context(), chi.URLParam(r, "session_id"), req.PlayerID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	}
}

func kickPlayerHandler(svc *lobby.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			HostPlayerID string `json:"host_player_id"`
			PlayerID     string `json:"player_id"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := svc.Kick(r.Context(), chi.URLParam(r, "session_id"), req.HostPlayerID, req.PlayerID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	}
}
