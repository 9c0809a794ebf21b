package session

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

type Mode string

const (
	// ModeConcurrent is the normal mode: everyone plays at once, first to
	// WinLevel completed levels wins.
	ModeConcurrent Mode = "concurrent"
	// ModeTurns is the legacy single-screen variant: strict rotation with a
	// shrinking time limit per completed level.
	ModeTurns Mode = "turns"
)

const (
	WinLevel          = 5
	DefaultMaxPlayers = 4
)

type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
	InviteDeclined InviteStatus = "declined"
)

// PlayerRecord is one player's slice of the session document. Every field
// here is written only by the client that owns the slot; that ownership
// partition is what stands in for cross-client transactions.
type PlayerRecord struct {
	PlayerID        string  `json:"playerId"`
	UserID          string  `json:"userId"`
	Name            string  `json:"name"`
	LevelsCompleted int     `json:"levelsCompleted"`
	Deaths          int     `json:"deaths"`
	TotalTimeMS     int64   `json:"totalTimeMs"`
	Ready           bool    `json:"isReady"`
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	Online          bool    `json:"online"`
	LastHeartbeatMS int64   `json:"lastHeartbeatMs"`
}

// Session is the full shared document for one lobby/match. Global fields
// (Status, HostPlayerID, CurrentLevel, turn fields) are written only by the
// current host; immutable fields are fixed at creation.
type Session struct {
	SessionID      string                  `json:"sessionId"`
	LobbyName      string                  `json:"lobbyName"`
	HostPlayerID   string                  `json:"hostPlayerId"`
	HostName       string                  `json:"hostName"`
	Status         Status                  `json:"status"`
	Mode           Mode                    `json:"mode"`
	IsPublic       bool                    `json:"isPublic"`
	MaxPlayers     int                     `json:"maxPlayers"`
	CurrentLevel   int                     `json:"currentLevel"`
	CreatedAtMS    int64                   `json:"createdAtMs"`
	InvitedUserIDs []string                `json:"invitedUserIds,omitempty"`
	Players        map[string]PlayerRecord `json:"players"`

	// Turn-mode rotation state, unused in concurrent mode.
	CurrentTurn   string `json:"currentTurn,omitempty"`
	TurnStartedMS int64  `json:"turnStartedMs,omitempty"`
	TimeLimitMS   int64  `json:"timeLimitMs,omitempty"`
}

type Invitation struct {
	InvitationID string       `json:"invitationId"`
	SessionID    string       `json:"sessionId"`
	LobbyName    string       `json:"lobbyName"`
	FromUserID   string       `json:"fromUserId"`
	FromUsername string       `json:"fromUsername"`
	ToUserID     string       `json:"toUserId"`
	ToUsername   string       `json:"toUsername"`
	Status       InviteStatus `json:"status"`
	CreatedAtMS  int64        `json:"createdAtMs"`
}

// Decode reads a session out of a store document. Missing fields get safe
// defaults rather than failing the whole snapshot; a document that cannot
// be shaped into a session at all reports ErrNotFound.
func Decode(doc map[string]any) (Session, error) {
	var s Session
	if doc == nil {
		return s, ErrNotFound
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return s, ErrNotFound
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, ErrNotFound
	}
	s.normalize()
	return s, nil
}

// Encode turns a session into a store document.
func (s Session) Encode() map[string]any {
	raw, _ := json.Marshal(s)
	var doc map[string]any
	_ = json.Unmarshal(raw, &doc)
	return doc
}

func DecodeInvitation(doc map[string]any) (Invitation, error) {
	var inv Invitation
	if doc == nil {
		return inv, ErrNotFound
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return inv, ErrNotFound
	}
	if err := json.Unmarshal(raw, &inv); err != nil {
		return inv, ErrNotFound
	}
	if inv.Status == "" {
		inv.Status = InvitePending
	}
	return inv, nil
}

func (inv Invitation) Encode() map[string]any {
	raw, _ := json.Marshal(inv)
	var doc map[string]any
	_ = json.Unmarshal(raw, &doc)
	return doc
}

// Encode renders the record as the value of a players/<id> update.
func (p PlayerRecord) Encode() map[string]any {
	raw, _ := json.Marshal(p)
	var doc map[string]any
	_ = json.Unmarshal(raw, &doc)
	return doc
}

func (s *Session) normalize() {
	if s.Status == "" {
		s.Status = StatusWaiting
	}
	if s.Mode == "" {
		s.Mode = ModeConcurrent
	}
	if s.MaxPlayers < 1 {
		s.MaxPlayers = DefaultMaxPlayers
	}
	if s.CurrentLevel < 1 {
		s.CurrentLevel = 1
	}
	if s.Players == nil {
		s.Players = map[string]PlayerRecord{}
	}
	for id, p := range s.Players {
		if p.PlayerID == "" {
			p.PlayerID = id
			s.Players[id] = p
		}
	}
}

func (s Session) Player(playerID string) (PlayerRecord, bool) {
	p, ok := s.Players[playerID]
	return p, ok
}

// AllReady reports whether the waiting room can start. An empty player set
// is never ready; a lone ready host is.
func (s Session) AllReady() bool {
	if len(s.Players) == 0 {
		return false
	}
	for _, p := range s.Players {
		if !p.Ready {
			return false
		}
	}
	return true
}

func (s Session) Invited(userID string) bool {
	for _, id := range s.InvitedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// SlotIDs returns player IDs in slot order (player_1, player_2, ...).
func (s Session) SlotIDs() []string {
	ids := make([]string, 0, len(s.Players))
	for id := range s.Players {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return slotNumber(ids[i]) < slotNumber(ids[j]) })
	return ids
}

// LowestFreeSlot picks the join slot: the smallest player_N not in use.
func (s Session) LowestFreeSlot() string {
	for n := 1; ; n++ {
		id := SlotID(n)
		if _, taken := s.Players[id]; !taken {
			return id
		}
	}
}

// NextHost is the deterministic successor rule: the lowest occupied slot.
// Every client computes the same answer from the same snapshot, so host
// reassignment needs no coordination.
func (s Session) NextHost() (string, bool) {
	ids := s.SlotIDs()
	if len(ids) == 0 {
		return "", false
	}
	return ids[0], true
}

func SlotID(n int) string {
	return fmt.Sprintf("player_%d", n)
}

func slotNumber(playerID string) int {
	raw, ok := strings.CutPrefix(playerID, "player_")
	if !ok {
		return int(^uint(0) >> 1)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return int(^uint(0) >> 1)
	}
	return n
}

func NowMS(t time.Time) int64 {
	return t.UnixMilli()
}
