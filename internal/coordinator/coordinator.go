package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"level-rush/internal/lobby"
	"level-rush/internal/presence"
	"level-rush/internal/session"
	"level-rush/internal/store"
)

const (
	DefaultPositionInterval = 100 * time.Millisecond

	resubscribeBase = 500 * time.Millisecond
	resubscribeCap  = 10 * time.Second
)

type Options struct {
	HeartbeatInterval time.Duration
	PositionInterval  time.Duration
}

func (o *Options) normalize() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = presence.DefaultInterval
	}
	if o.PositionInterval <= 0 {
		o.PositionInterval = DefaultPositionInterval
	}
}

// Coordinator is one client's authoritative view of a session. It owns the
// client's partition of the shared document (its own PlayerRecord), observes
// everything else through the store subscription, and performs host duties
// when the snapshot says this client is the host. All engine callbacks fire
// from the subscription loop, one at a time.
type Coordinator struct {
	store   store.Store
	lobby   *lobby.Service
	engine  Engine
	id      lobby.Identity
	session string
	player  string
	opts    Options
	now     func() time.Time

	runCtx context.Context

	mu           sync.Mutex
	sess         session.Session
	haveSess     bool
	self         session.PlayerRecord
	ended        bool
	finishSent   bool
	levelRunning bool
	readySent    bool
	lastPosWrite time.Time
	flushActive  bool
	flushDirty   bool
}

func New(st store.Store, lob *lobby.Service, eng Engine, id lobby.Identity, sessionID, playerID string, opts Options) *Coordinator {
	opts.normalize()
	return &Coordinator{
		store:   st,
		lobby:   lob,
		engine:  eng,
		id:      id,
		session: sessionID,
		player:  playerID,
		opts:    opts,
		now:     time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// Run subscribes to the session and processes events until the context is
// cancelled or the session ends. The subscription self-heals: transient
// failures resubscribe with capped exponential backoff. Heartbeats and the
// turn clock share the same context, so every exit path cancels them.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	c.runCtx = ctx
	c.mu.Unlock()

	go presence.NewRunner(c.opts.HeartbeatInterval, c.heartbeat).Run(ctx)
	go c.turnClock(ctx)

	backoff := resubscribeBase
	key := store.SessionKey(c.session)
	for {
		ch, err := c.store.Subscribe(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Str("session_id", c.session).Dur("backoff", backoff).Msg("subscribe failed")
			metricResubscribes.Add(1)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, resubscribeCap)
			continue
		}
		backoff = resubscribeBase

		for ev := range ch {
			c.handleEvent(ctx, ev)
			if c.isEnded() {
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		metricResubscribes.Add(1)
	}
}

func (c *Coordinator) handleEvent(ctx context.Context, ev store.Event) {
	if ev.Doc == nil {
		c.end(EndReasonClosed)
		return
	}
	sess, err := session.Decode(ev.Doc)
	if err != nil {
		// Malformed snapshot: skip the delivery, never crash the listener.
		log.Warn().Str("session_id", c.session).Msg("undecodable session snapshot dropped")
		return
	}

	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	prev, had := c.sess, c.haveSess

	remoteSelf, present := sess.Players[c.player]
	if !present {
		c.mu.Unlock()
		c.end(EndReasonKicked)
		return
	}
	if !had {
		// The first delivery can be a snapshot taken before writes issued
		// right after attach landed in the store. Adopt the remote record
		// but keep any ready toggle, position, or progress the client has
		// already produced locally; otherwise the stale value gets pinned
		// by every later merge.
		adopted := session.MergeOwnProgress(c.self, remoteSelf)
		if !c.readySent {
			adopted.Ready = remoteSelf.Ready
		}
		if c.lastPosWrite.IsZero() {
			adopted.X, adopted.Y = remoteSelf.X, remoteSelf.Y
		}
		c.self = adopted
	} else {
		// Never let a stale delivery roll back our own progress.
		c.self = session.MergeOwnProgress(c.self, remoteSelf)
	}
	sess.Players[c.player] = c.self
	c.sess = sess
	c.haveSess = true

	isHost := sess.HostPlayerID == c.player
	myTurn := sess.Mode != session.ModeTurns || sess.CurrentTurn == c.player

	startLevel := 0
	if sess.Status == session.StatusPlaying && !c.levelRunning && myTurn {
		c.levelRunning = true
		startLevel = sess.CurrentLevel
	}
	stopLevel := false
	if c.levelRunning && (sess.Status == session.StatusFinished || (sess.Status == session.StatusPlaying && !myTurn)) {
		c.levelRunning = false
		stopLevel = true
	}

	declareFinish := isHost && sess.Status == session.StatusPlaying &&
		session.HasWinner(sess) && !c.finishSent
	if declareFinish {
		c.finishSent = true
	}

	var rotation map[string]any
	if isHost && sess.Mode == session.ModeTurns && sess.Status == session.StatusPlaying &&
		!declareFinish && had && progressAdvanced(prev, sess) {
		rotation = c.rotationFieldsLocked(sess)
	}
	c.mu.Unlock()

	positions := map[string]Position{}
	for id, p := range sess.Players {
		if id == c.player {
			continue
		}
		positions[id] = Position{X: p.X, Y: p.Y}
	}

	if stopLevel {
		c.engine.StopLevel()
	}
	if startLevel > 0 {
		c.engine.StartLevel(startLevel)
	}
	c.engine.OnOtherPlayersUpdated(positions)
	c.engine.OnSessionStateChanged(session.SnapshotFor(sess, c.player, c.now(), presence.StaleAfter(c.opts.HeartbeatInterval)))

	if declareFinish {
		c.declareFinish(ctx, sess)
	}
	if rotation != nil {
		c.writeRotation(ctx, rotation)
	}
}

// declareFinish is the host's single authoritative playing -> finished
// write. The first host-observed snapshot with a winner triggers it exactly
// once; ties within that snapshot resolve by leaderboard order when clients
// render the winner.
func (c *Coordinator) declareFinish(ctx context.Context, sess session.Session) {
	if err := session.CanFinish(sess); err != nil {
		return
	}
	w, _ := session.Winner(sess)
	log.Info().Str("session_id", c.session).Str("winner", w.PlayerID).Msg("host declared game over")
	fields := map[string]any{"status": string(session.StatusFinished)}
	if err := c.store.Update(ctx, store.SessionKey(c.session), fields); err != nil {
		log.Error().Err(err).Str("session_id", c.session).Msg("finish write failed")
		c.mu.Lock()
		c.finishSent = false
		c.mu.Unlock()
		return
	}
	metricWinsDeclared.Add(1)
}

// SetReady flips this player's ready flag in the waiting room.
func (c *Coordinator) SetReady(ctx context.Context, ready bool) error {
	c.mu.Lock()
	c.self.Ready = ready
	c.readySent = true
	c.mu.Unlock()
	return c.store.Update(ctx, store.SessionKey(c.session), map[string]any{
		c.selfField("isReady"): ready,
	})
}

// SetOnline is the best-effort foreground/background presence signal.
func (c *Coordinator) SetOnline(ctx context.Context, online bool) error {
	return c.store.Update(ctx, store.SessionKey(c.session), map[string]any{
		c.selfField("online"): online,
	})
}

// StartGame performs waiting -> playing. Host only; requires every player
// ready. Non-host clients observe the transition via their subscription.
func (c *Coordinator) StartGame(ctx context.Context) error {
	c.mu.Lock()
	sess, have := c.sess, c.haveSess
	c.mu.Unlock()
	if !have {
		return session.ErrNotFound
	}
	if sess.HostPlayerID != c.player {
		return session.ErrNotHost
	}
	if err := session.CanStart(sess); err != nil {
		return err
	}
	fields := map[string]any{
		"status":       string(session.StatusPlaying),
		"currentLevel": 1,
	}
	if sess.Mode == session.ModeTurns {
		ids := sess.SlotIDs()
		first := ids[0]
		fields["currentTurn"] = first
		fields["turnStartedMs"] = session.NowMS(c.now())
		fields["timeLimitMs"] = session.TimeLimitFor(sess.Players[first].LevelsCompleted).Milliseconds()
	}
	return c.store.Update(ctx, store.SessionKey(c.session), fields)
}

// RecordLevelCompleted applies a level completion to the locally cached
// record and schedules a flush. Flushes are serialized: one in-flight write
// per player, rapid-fire events coalesce into the next flush.
func (c *Coordinator) RecordLevelCompleted(elapsed time.Duration) {
	c.mu.Lock()
	c.self = session.ApplyLevelCompleted(c.self, elapsed)
	if c.haveSess {
		c.sess.Players[c.player] = c.self
	}
	c.mu.Unlock()
	c.queueProgressFlush()
}

// RecordDeath increments the local death counter and schedules a flush.
func (c *Coordinator) RecordDeath() {
	c.mu.Lock()
	c.self = session.ApplyDeath(c.self)
	if c.haveSess {
		c.sess.Players[c.player] = c.self
	}
	c.mu.Unlock()
	c.queueProgressFlush()
}

// UpdatePosition overwrites this player's position, dropping writes that
// arrive within the throttle window. Cost control, not correctness.
func (c *Coordinator) UpdatePosition(ctx context.Context, x, y float64) error {
	c.mu.Lock()
	now := c.now()
	if now.Sub(c.lastPosWrite) < c.opts.PositionInterval {
		c.mu.Unlock()
		metricPositionsDropped.Add(1)
		return nil
	}
	c.lastPosWrite = now
	c.self = session.ApplyPosition(c.self, x, y)
	c.mu.Unlock()
	return c.store.Update(ctx, store.SessionKey(c.session), map[string]any{
		c.selfField("x"): x,
		c.selfField("y"): y,
	})
}

// Kick removes another player. The host check rides on the store snapshot
// inside the lobby service; a kick racing a voluntary leave converges to
// "player absent" on both paths.
func (c *Coordinator) Kick(ctx context.Context, targetPlayerID string) error {
	return c.lobby.Kick(ctx, c.session, c.player, targetPlayerID)
}

// Leave removes this player, reassigning the host role or cascading the
// session away when it empties.
func (c *Coordinator) Leave(ctx context.Context) error {
	return c.lobby.Leave(ctx, c.session, c.player)
}

// Self returns the locally authoritative copy of this player's record.
func (c *Coordinator) Self() session.PlayerRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// Session returns the last reconciled snapshot.
func (c *Coordinator) Session() (session.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess, c.haveSess
}

func (c *Coordinator) PlayerID() string { return c.player }

func (c *Coordinator) queueProgressFlush() {
	c.mu.Lock()
	if c.flushActive {
		c.flushDirty = true
		c.mu.Unlock()
		return
	}
	c.flushActive = true
	snap := c.self
	ctx := c.runCtx
	c.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	go c.flushProgress(ctx, snap)
}

func (c *Coordinator) flushProgress(ctx context.Context, p session.PlayerRecord) {
	for {
		fields := map[string]any{
			c.selfField("levelsCompleted"): p.LevelsCompleted,
			c.selfField("deaths"):          p.Deaths,
			c.selfField("totalTimeMs"):     p.TotalTimeMS,
		}
		if err := c.store.Update(ctx, store.SessionKey(c.session), fields); err != nil {
			// Surfaced, never auto-retried: a blind retry could double-count
			// a completion if the first write actually landed.
			log.Warn().Err(err).Str("session_id", c.session).Msg("progress write failed")
		} else {
			metricProgressWrites.Add(1)
		}

		c.mu.Lock()
		if c.flushDirty {
			c.flushDirty = false
			p = c.self
			c.mu.Unlock()
			continue
		}
		c.flushActive = false
		c.mu.Unlock()
		return
	}
}

func (c *Coordinator) heartbeat(ctx context.Context) error {
	// A heartbeat landing after removal is a no-op by the store's Update
	// contract; it must never error a torn-down client.
	return c.store.Update(ctx, store.SessionKey(c.session), map[string]any{
		c.selfField("lastHeartbeatMs"): session.NowMS(c.now()),
		c.selfField("online"):          true,
	})
}

// turnClock drives turn expiry in turn mode. Only the host acts; everyone
// else runs the ticker idle.
func (c *Coordinator) turnClock(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.maybeExpireTurn(ctx)
		}
	}
}

func (c *Coordinator) maybeExpireTurn(ctx context.Context) {
	c.mu.Lock()
	sess, have := c.sess, c.haveSess
	if !have || c.ended || sess.Mode != session.ModeTurns ||
		sess.Status != session.StatusPlaying || sess.HostPlayerID != c.player {
		c.mu.Unlock()
		return
	}
	if sess.TurnStartedMS+sess.TimeLimitMS > session.NowMS(c.now()) {
		c.mu.Unlock()
		return
	}
	fields := c.rotationFieldsLocked(sess)
	c.mu.Unlock()
	if fields != nil {
		c.writeRotation(ctx, fields)
	}
}

func (c *Coordinator) rotationFieldsLocked(sess session.Session) map[string]any {
	next, ok := session.NextTurn(sess)
	if !ok {
		return nil
	}
	return map[string]any{
		"currentTurn":   next,
		"turnStartedMs": session.NowMS(c.now()),
		"timeLimitMs":   session.TimeLimitFor(sess.Players[next].LevelsCompleted).Milliseconds(),
		"currentLevel":  session.SharedLevel(sess),
	}
}

func (c *Coordinator) writeRotation(ctx context.Context, fields map[string]any) {
	if err := c.store.Update(ctx, store.SessionKey(c.session), fields); err != nil {
		log.Warn().Err(err).Str("session_id", c.session).Msg("turn rotation write failed")
		return
	}
	metricTurnRotations.Add(1)
}

func (c *Coordinator) end(reason string) {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.ended = true
	c.mu.Unlock()
	log.Info().Str("session_id", c.session).Str("player_id", c.player).Str("reason", reason).Msg("session ended for player")
	c.engine.OnSessionEnded(reason)
}

func (c *Coordinator) isEnded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

func (c *Coordinator) selfField(field string) string {
	return "players/" + c.player + "/" + field
}

// progressAdvanced reports whether any player's monotone counters moved
// between two snapshots; in turn mode that is the host's cue to rotate.
func progressAdvanced(prev, cur session.Session) bool {
	for id, p := range cur.Players {
		old, ok := prev.Players[id]
		if !ok {
			continue
		}
		if p.LevelsCompleted > old.LevelsCompleted || p.Deaths > old.Deaths {
			return true
		}
	}
	return false
}
