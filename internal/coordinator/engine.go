package coordinator

import "level-rush/internal/session"

// Position is a player's cosmetic on-screen location. Last write wins; no
// ordering is needed.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Engine is the game-engine collaborator: it renders levels and raises
// gameplay events back into the coordinator. Calls arrive from the
// coordinator's event loop one at a time, never concurrently.
type Engine interface {
	StartLevel(level int)
	StopLevel()
	OnOtherPlayersUpdated(positions map[string]Position)
	OnSessionStateChanged(snap session.Snapshot)
	// OnSessionEnded fires on session-fatal conditions: the session was
	// deleted, or this player's record vanished (kicked). The view should
	// return to lobby discovery.
	OnSessionEnded(reason string)
}

const (
	EndReasonKicked = "kicked"
	EndReasonClosed = "session_closed"
)
