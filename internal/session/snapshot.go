package session

import "time"

// Snapshot is the client-facing view of a session, pushed over the realtime
// gateway on every observed change.
type Snapshot struct {
	Type         string       `json:"type"`
	SessionID    string       `json:"session_id"`
	LobbyName    string       `json:"lobby_name"`
	Status       Status       `json:"status"`
	Mode         Mode         `json:"mode"`
	HostPlayerID string       `json:"host_player_id"`
	CurrentLevel int          `json:"current_level"`
	MaxPlayers   int          `json:"max_players"`
	You          string       `json:"you,omitempty"`
	Players      []PlayerView `json:"players"`
	WinnerID     string       `json:"winner_id,omitempty"`

	CurrentTurn string `json:"current_turn,omitempty"`
	TimeLimitMS int64  `json:"time_limit_ms,omitempty"`
}

type PlayerView struct {
	PlayerID        string  `json:"player_id"`
	Name            string  `json:"name"`
	LevelsCompleted int     `json:"levels_completed"`
	Deaths          int     `json:"deaths"`
	TotalTimeMS     int64   `json:"total_time_ms"`
	Ready           bool    `json:"ready"`
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	Online          bool    `json:"online"`
	Rank            int     `json:"rank"`
}

// SnapshotFor renders the session for one viewer. Online status is derived
// lazily from heartbeat age; it is a display value, not a membership gate.
func SnapshotFor(s Session, viewerID string, now time.Time, staleAfter time.Duration) Snapshot {
	board := Leaderboard(s)
	rank := make(map[string]int, len(board))
	for i, p := range board {
		rank[p.PlayerID] = i + 1
	}

	players := make([]PlayerView, 0, len(s.Players))
	for _, id := range s.SlotIDs() {
		p := s.Players[id]
		players = append(players, PlayerView{
			PlayerID:        p.PlayerID,
			Name:            p.Name,
			LevelsCompleted: p.LevelsCompleted,
			Deaths:          p.Deaths,
			TotalTimeMS:     p.TotalTimeMS,
			Ready:           p.Ready,
			X:               p.X,
			Y:               p.Y,
			Online:          p.Online && heartbeatFresh(p.LastHeartbeatMS, now, staleAfter),
			Rank:            rank[p.PlayerID],
		})
	}

	snap := Snapshot{
		Type:         "session_state",
		SessionID:    s.SessionID,
		LobbyName:    s.LobbyName,
		Status:       s.Status,
		Mode:         s.Mode,
		HostPlayerID: s.HostPlayerID,
		CurrentLevel: s.CurrentLevel,
		MaxPlayers:   s.MaxPlayers,
		You:          viewerID,
		Players:      players,
		CurrentTurn:  s.CurrentTurn,
		TimeLimitMS:  s.TimeLimitMS,
	}
	if s.Status == StatusFinished {
		if w, ok := Winner(s); ok {
			snap.WinnerID = w.PlayerID
		}
	}
	return snap
}

func heartbeatFresh(lastMS int64, now time.Time, staleAfter time.Duration) bool {
	if lastMS <= 0 {
		return false
	}
	return now.UnixMilli()-lastMS <= staleAfter.Milliseconds()
}
