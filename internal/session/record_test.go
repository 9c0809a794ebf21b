package session

import (
	"testing"
	"time"
)

func TestDecodeDefaults(t *testing.T) {
	s, err := Decode(map[string]any{"sessionId": "s1", "lobbyName": "alpha"})
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if s.Status != StatusWaiting {
		t.Fatalf("Status = %s, want waiting", s.Status)
	}
	if s.Mode != ModeConcurrent {
		t.Fatalf("Mode = %s, want concurrent", s.Mode)
	}
	if s.MaxPlayers != DefaultMaxPlayers {
		t.Fatalf("MaxPlayers = %d, want %d", s.MaxPlayers, DefaultMaxPlayers)
	}
	if s.CurrentLevel != 1 {
		t.Fatalf("CurrentLevel = %d, want 1", s.CurrentLevel)
	}
	if s.Players == nil {
		t.Fatal("Players map not initialized")
	}
}

func TestDecodeNilDoc(t *testing.T) {
	if _, err := Decode(nil); err != ErrNotFound {
		t.Fatalf("Decode(nil) error = %v, want ErrNotFound", err)
	}
}

func TestDecodeFillsPlayerIDs(t *testing.T) {
	s, err := Decode(map[string]any{
		"players": map[string]any{
			"player_2": map[string]any{"name": "bob"},
		},
	})
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if s.Players["player_2"].PlayerID != "player_2" {
		t.Fatalf("PlayerID = %q, want player_2", s.Players["player_2"].PlayerID)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := Session{
		SessionID:    "s1",
		LobbyName:    "alpha",
		HostPlayerID: "player_1",
		Status:       StatusPlaying,
		Mode:         ModeTurns,
		MaxPlayers:   3,
		CurrentLevel: 2,
		CurrentTurn:  "player_2",
		TimeLimitMS:  60_000,
		Players: map[string]PlayerRecord{
			"player_1": {PlayerID: "player_1", Name: "ann", LevelsCompleted: 2, Deaths: 1, TotalTimeMS: 5000, Ready: true},
		},
	}
	out, err := Decode(in.Encode())
	if err != nil {
		t.Fatalf("Decode(Encode()) error = %v", err)
	}
	if out.Status != in.Status || out.Mode != in.Mode || out.CurrentTurn != in.CurrentTurn {
		t.Fatalf("round trip mismatch: got %+v", out)
	}
	if out.Players["player_1"] != in.Players["player_1"] {
		t.Fatalf("player round trip mismatch: got %+v", out.Players["player_1"])
	}
}

func TestSlotHelpers(t *testing.T) {
	s := Session{Players: map[string]PlayerRecord{
		"player_1": {PlayerID: "player_1"},
		"player_3": {PlayerID: "player_3"},
	}}
	if got := s.LowestFreeSlot(); got != "player_2" {
		t.Fatalf("LowestFreeSlot() = %s, want player_2 (gap fill)", got)
	}

	ids := s.SlotIDs()
	if len(ids) != 2 || ids[0] != "player_1" || ids[1] != "player_3" {
		t.Fatalf("SlotIDs() = %v, want [player_1 player_3]", ids)
	}

	if got := SlotID(7); got != "player_7" {
		t.Fatalf("SlotID(7) = %s", got)
	}
}

func TestNextHostLowestSlot(t *testing.T) {
	s := Session{Players: map[string]PlayerRecord{
		"player_4": {PlayerID: "player_4"},
		"player_2": {PlayerID: "player_2"},
	}}
	host, ok := s.NextHost()
	if !ok || host != "player_2" {
		t.Fatalf("NextHost() = %s, %v, want player_2, true", host, ok)
	}
	if _, ok := (Session{}).NextHost(); ok {
		t.Fatal("NextHost(empty) reported ok")
	}
}

func TestInvited(t *testing.T) {
	s := Session{InvitedUserIDs: []string{"u1", "u2"}}
	if !s.Invited("u2") {
		t.Fatal("Invited(u2) = false")
	}
	if s.Invited("u3") {
		t.Fatal("Invited(u3) = true")
	}
}

func TestSnapshotForOnlineDerivation(t *testing.T) {
	now := time.UnixMilli(100_000)
	s := Session{
		SessionID: "s1",
		Status:    StatusPlaying,
		Players: map[string]PlayerRecord{
			"player_1": {PlayerID: "player_1", Online: true, LastHeartbeatMS: 95_000},
			"player_2": {PlayerID: "player_2", Online: true, LastHeartbeatMS: 10_000},
			"player_3": {PlayerID: "player_3", Online: false, LastHeartbeatMS: 99_000},
		},
	}
	snap := SnapshotFor(s, "player_1", now, 30*time.Second)
	if snap.You != "player_1" {
		t.Fatalf("You = %s, want player_1", snap.You)
	}
	byID := map[string]PlayerView{}
	for _, p := range snap.Players {
		byID[p.PlayerID] = p
	}
	if !byID["player_1"].Online {
		t.Fatal("fresh heartbeat rendered offline")
	}
	if byID["player_2"].Online {
		t.Fatal("stale heartbeat rendered online")
	}
	if byID["player_3"].Online {
		t.Fatal("explicit offline flag ignored")
	}
}

func TestSnapshotForWinner(t *testing.T) {
	s := Session{
		Status: StatusFinished,
		Players: map[string]PlayerRecord{
			"player_1": {PlayerID: "player_1", LevelsCompleted: WinLevel, Deaths: 2},
			"player_2": {PlayerID: "player_2", LevelsCompleted: WinLevel, Deaths: 1},
		},
	}
	snap := SnapshotFor(s, "", time.Now(), 30*time.Second)
	if snap.WinnerID != "player_2" {
		t.Fatalf("WinnerID = %s, want player_2", snap.WinnerID)
	}
	// Ranks cover the whole board.
	for _, p := range snap.Players {
		if p.Rank < 1 || p.Rank > 2 {
			t.Fatalf("rank out of range: %+v", p)
		}
	}
}
