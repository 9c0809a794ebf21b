package ws

const ProtocolVersion = "1.0"

// Client -> server messages. A connection first attaches to a session the
// client already joined over the HTTP API, then streams gameplay events.

type AttachMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	PlayerID  string `json:"player_id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
}

type ReadyMessage struct {
	Type  string `json:"type"`
	Ready bool   `json:"ready"`
}

type PositionMessage struct {
	Type string  `json:"type"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

type LevelCompletedMessage struct {
	Type      string `json:"type"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

type KickMessage struct {
	Type     string `json:"type"`
	PlayerID string `json:"player_id"`
}

type OnlineMessage struct {
	Type   string `json:"type"`
	Online bool   `json:"online"`
}

// Server -> client messages. Session snapshots reuse the session.Snapshot
// shape directly ("session_state").

type AttachResult struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Ok              bool   `json:"ok"`
	Error           string `json:"error,omitempty"`
	SessionID       string `json:"session_id,omitempty"`
	PlayerID        string `json:"player_id,omitempty"`
}

type StartLevel struct {
	Type  string `json:"type"`
	Level int    `json:"level"`
}

type StopLevel struct {
	Type string `json:"type"`
}

type PositionsUpdate struct {
	Type    string                   `json:"type"`
	Players map[string]PositionPoint `json:"players"`
}

type PositionPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type SessionEnded struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type ErrorResult struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
