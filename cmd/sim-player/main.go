package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// sim-player is a headless client for exercising a running session server:
// it joins a lobby by name (creating it if needed), readies up, and then
// plays randomly, completing levels and dying until someone wins.

type joinResponse struct {
	SessionID string `json:"session_id"`
	PlayerID  string `json:"player_id"`
}

func main() {
	apiURL := getenv("API_URL", "http://localhost:8080")
	wsURL := getenv("WS_URL", "ws://localhost:8080/ws")
	userID := getenv("USER_ID", "sim")
	username := getenv("USERNAME", "Sim")
	lobbyName := getenv("LOBBY_NAME", "sim-lobby")

	sessionID, playerID, err := joinOrCreate(apiURL, lobbyName, userID, username)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("joined session %s as %s", sessionID, playerID)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	// The play goroutine and the read loop both send; gorilla allows one
	// writer at a time.
	var writeMu sync.Mutex
	send := func(v any) {
		raw, _ := json.Marshal(v)
		writeMu.Lock()
		_ = conn.WriteMessage(websocket.TextMessage, raw)
		writeMu.Unlock()
	}
	send(map[string]any{
		"type": "attach", "session_id": sessionID, "player_id": playerID,
		"user_id": userID, "username": username,
	})
	send(map[string]any{"type": "ready", "ready": true})

	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	var playing atomic.Bool
	host := ""
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var base struct {
			Type   string `json:"type"`
			Status string `json:"status"`
			Host   string `json:"host_player_id"`
			Winner string `json:"winner_id"`
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(data, &base); err != nil {
			continue
		}
		switch base.Type {
		case "session_state":
			host = base.Host
			if base.Status == "waiting" && host == playerID {
				send(map[string]any{"type": "start"})
			}
			if base.Status == "finished" {
				log.Printf("game over, winner: %s", base.Winner)
				send(map[string]any{"type": "leave"})
				return
			}
		case "start_level":
			if playing.CompareAndSwap(false, true) {
				go play(send, rnd, &playing)
			}
		case "stop_level":
			playing.Store(false)
		case "session_ended":
			log.Printf("session ended: %s", base.Reason)
			return
		}
	}
}

func play(send func(any), rnd *rand.Rand, playing *atomic.Bool) {
	for playing.Load() {
		time.Sleep(time.Duration(500+rnd.Intn(1500)) * time.Millisecond)
		if !playing.Load() {
			return
		}
		send(map[string]any{"type": "position", "x": rnd.Float64() * 800, "y": rnd.Float64() * 600})
		if rnd.Intn(3) == 0 {
			send(map[string]any{"type": "died"})
			continue
		}
		send(map[string]any{"type": "level_completed", "elapsed_ms": 500 + rnd.Intn(1500)})
	}
}

func joinOrCreate(apiURL, lobbyName, userID, username string) (string, string, error) {
	body := map[string]any{"lobby_name": lobbyName, "user_id": userID, "username": username}
	var join joinResponse
	if err := post(apiURL+"/api/sessions/join-by-name", body, &join); err == nil {
		return join.SessionID, join.PlayerID, nil
	}
	body["is_public"] = true
	var created struct {
		SessionID string `json:"session_id"`
		PlayerID  string `json:"player_id"`
	}
	if err := post(apiURL+"/api/sessions", body, &created); err != nil {
		return "", "", err
	}
	return created.SessionID, created.PlayerID, nil
}

func post(url string, body map[string]any, out any) error {
	raw, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
