package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"level-rush/internal/coordinator"
	"level-rush/internal/lobby"
	"level-rush/internal/session"
	"level-rush/internal/store"
)

type Options struct {
	HeartbeatInterval time.Duration
	PositionInterval  time.Duration
}

// Server is the realtime gateway: each websocket connection attaches to a
// session as one player and gets its own coordinator, whose engine
// callbacks are forwarded down the socket as JSON messages.
type Server struct {
	store    store.Store
	lobby    *lobby.Service
	opts     Options
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*Client]struct{}
}

type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	coord  *coordinator.Coordinator
	cancel context.CancelFunc
}

func NewServer(st store.Store, lob *lobby.Service, opts Options) *Server {
	return &Server{
		store:    st,
		lobby:    lob,
		opts:     opts,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:  map[*Client]struct{}{},
	}
}

func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := &Client{conn: conn, send: make(chan []byte, 16)}

	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()

	go s.writeLoop(client)
	s.readLoop(client)
}

func (s *Server) readLoop(c *Client) {
	defer func() {
		s.unregister(c)
		_ = c.conn.Close()
	}()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var base struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}
		switch base.Type {
		case "attach":
			if c.coord != nil {
				continue
			}
			var attach AttachMessage
			if err := json.Unmarshal(msg, &attach); err != nil {
				continue
			}
			s.handleAttach(c, attach)
		case "ready":
			var m ReadyMessage
			if err := json.Unmarshal(msg, &m); err != nil || c.coord == nil {
				continue
			}
			if err := c.coord.SetReady(context.Background(), m.Ready); err != nil {
				c.sendError(err)
			}
		case "position":
			var m PositionMessage
			if err := json.Unmarshal(msg, &m); err != nil || c.coord == nil {
				continue
			}
			if err := c.coord.UpdatePosition(context.Background(), m.X, m.Y); err != nil {
				log.Debug().Err(err).Msg("position write failed")
			}
		case "level_completed":
			var m LevelCompletedMessage
			if err := json.Unmarshal(msg, &m); err != nil || c.coord == nil {
				continue
			}
			c.coord.RecordLevelCompleted(time.Duration(m.ElapsedMS) * time.Millisecond)
		case "died":
			if c.coord == nil {
				continue
			}
			c.coord.RecordDeath()
		case "start":
			if c.coord == nil {
				continue
			}
			if err := c.coord.StartGame(context.Background()); err != nil {
				c.sendError(err)
			}
		case "kick":
			var m KickMessage
			if err := json.Unmarshal(msg, &m); err != nil || c.coord == nil {
				continue
			}
			if err := c.coord.Kick(context.Background(), m.PlayerID); err != nil {
				c.sendError(err)
			}
		case "online":
			var m OnlineMessage
			if err := json.Unmarshal(msg, &m); err != nil || c.coord == nil {
				continue
			}
			if err := c.coord.SetOnline(context.Background(), m.Online); err != nil {
				log.Debug().Err(err).Msg("online write failed")
			}
		case "leave":
			if c.coord == nil {
				continue
			}
			if err := c.coord.Leave(context.Background()); err != nil {
				c.sendError(err)
			}
			return
		}
	}
}

func (s *Server) writeLoop(c *Client) {
	for msg := range c.send {
		_ = c.conn.WriteMessage(websocket.TextMessage, msg)
	}
}

func (s *Server) handleAttach(c *Client, attach AttachMessage) {
	if attach.SessionID == "" || attach.PlayerID == "" || attach.UserID == "" {
		c.sendAttachResult(false, "invalid_request", attach)
		return
	}
	sess, err := s.lobby.Get(context.Background(), attach.SessionID)
	if err != nil {
		c.sendAttachResult(false, "session_not_found", attach)
		return
	}
	p, ok := sess.Player(attach.PlayerID)
	if !ok || p.UserID != attach.UserID {
		c.sendAttachResult(false, "no_such_player", attach)
		return
	}

	identity := lobby.Identity{UserID: attach.UserID, Username: attach.Username}
	coord := coordinator.New(s.store, s.lobby, &wsEngine{client: c}, identity,
		attach.SessionID, attach.PlayerID, coordinator.Options{
			HeartbeatInterval: s.opts.HeartbeatInterval,
			PositionInterval:  s.opts.PositionInterval,
		})

	ctx, cancel := context.WithCancel(context.Background())
	c.coord = coord
	c.cancel = cancel
	go func() {
		if err := coord.Run(ctx); err != nil {
			log.Warn().Err(err).Str("session_id", attach.SessionID).Msg("coordinator stopped")
		}
	}()

	c.sendAttachResult(true, "", attach)
}

func (s *Server) unregister(c *Client) {
	s.mu.Lock()
	_, registered := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()
	if !registered {
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	safeClose(c.send)
}

// The coordinator goroutine keeps pushing engine callbacks until its
// context cancellation is observed, which can race the readLoop closing
// the send channel on disconnect. Recover instead of panicking the
// process over a message nobody is left to read.
func safeClose(ch chan []byte) {
	defer func() {
		_ = recover()
	}()
	close(ch)
}

func safeSend(ch chan []byte, msg []byte) {
	defer func() {
		_ = recover()
	}()
	select {
	case ch <- msg:
	default:
	}
}

func (c *Client) sendAttachResult(ok bool, errCode string, attach AttachMessage) {
	res := AttachResult{
		Type:            "attach_result",
		ProtocolVersion: ProtocolVersion,
		Ok:              ok,
		Error:           errCode,
	}
	if ok {
		res.SessionID = attach.SessionID
		res.PlayerID = attach.PlayerID
	}
	c.push(res)
}

func (c *Client) sendError(err error) {
	c.push(ErrorResult{Type: "error", Error: err.Error()})
}

// push drops the message if the send buffer is full; snapshots are
// re-delivered on the next change, so a slow consumer only loses
// intermediates.
func (c *Client) push(v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	safeSend(c.send, raw)
}

// wsEngine adapts coordinator engine callbacks onto the socket.
type wsEngine struct {
	client *Client
}

func (e *wsEngine) StartLevel(level int) {
	e.client.push(StartLevel{Type: "start_level", Level: level})
}

func (e *wsEngine) StopLevel() {
	e.client.push(StopLevel{Type: "stop_level"})
}

func (e *wsEngine) OnOtherPlayersUpdated(positions map[string]coordinator.Position) {
	players := make(map[string]PositionPoint, len(positions))
	for id, p := range positions {
		players[id] = PositionPoint{X: p.X, Y: p.Y}
	}
	e.client.push(PositionsUpdate{Type: "positions", Players: players})
}

func (e *wsEngine) OnSessionStateChanged(snap session.Snapshot) {
	e.client.push(snap)
}

func (e *wsEngine) OnSessionEnded(reason string) {
	e.client.push(SessionEnded{Type: "session_ended", Reason: reason})
}
