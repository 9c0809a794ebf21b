package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"level-rush/internal/lobby"
	"level-rush/internal/session"
	"level-rush/internal/store"
)

type fakeEngine struct {
	mu        sync.Mutex
	started   []int
	stops     int
	snapshots []session.Snapshot
	ended     []string
}

func (e *fakeEngine) StartLevel(level int) {
	e.mu.Lock()
	e.started = append(e.started, level)
	e.mu.Unlock()
}

func (e *fakeEngine) StopLevel() {
	e.mu.Lock()
	e.stops++
	e.mu.Unlock()
}

func (e *fakeEngine) OnOtherPlayersUpdated(map[string]Position) {}

func (e *fakeEngine) OnSessionStateChanged(snap session.Snapshot) {
	e.mu.Lock()
	e.snapshots = append(e.snapshots, snap)
	e.mu.Unlock()
}

func (e *fakeEngine) OnSessionEnded(reason string) {
	e.mu.Lock()
	e.ended = append(e.ended, reason)
	e.mu.Unlock()
}

func (e *fakeEngine) endReasons() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.ended...)
}

func (e *fakeEngine) startedLevels() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.started...)
}

type harness struct {
	st    *store.Memory
	svc   *lobby.Service
	sess  session.Session
	coord *Coordinator
	eng   *fakeEngine
	done  chan struct{}
}

// newHarness creates a two-player session and runs a coordinator for the
// given slot until the test context ends.
func newHarness(t *testing.T, ctx context.Context, playerID string) *harness {
	t.Helper()
	st := store.NewMemory()
	svc := lobby.NewService(st)

	sess, err := svc.Create(ctx, lobby.Identity{UserID: "u1", Username: "ann"}, lobby.CreateRequest{LobbyName: "arena", IsPublic: true})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, _, err := svc.Join(ctx, sess.SessionID, lobby.Identity{UserID: "u2", Username: "bob"}); err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	eng := &fakeEngine{}
	ident := lobby.Identity{UserID: "u1", Username: "ann"}
	if playerID == "player_2" {
		ident = lobby.Identity{UserID: "u2", Username: "bob"}
	}
	coord := New(st, svc, eng, ident, sess.SessionID, playerID, Options{
		HeartbeatInterval: time.Hour, // keep heartbeats out of the way
	})

	h := &harness{st: st, svc: svc, sess: sess, coord: coord, eng: eng, done: make(chan struct{})}
	go func() {
		_ = coord.Run(ctx)
		close(h.done)
	}()
	h.waitFor(t, func() bool {
		_, ok := coord.Session()
		return ok
	}, "coordinator never adopted the session")
	return h
}

func (h *harness) key() string { return store.SessionKey(h.sess.SessionID) }

func (h *harness) waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (h *harness) sessionStatus(t *testing.T, ctx context.Context) session.Status {
	t.Helper()
	doc, err := h.st.Get(ctx, h.key())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	sess, err := session.Decode(doc)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return sess.Status
}

func TestEndsWhenSessionDeleted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, ctx, "player_1")

	if err := h.st.Delete(ctx, h.key()); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after session deletion")
	}
	reasons := h.eng.endReasons()
	if len(reasons) != 1 || reasons[0] != EndReasonClosed {
		t.Fatalf("end reasons = %v, want [%s]", reasons, EndReasonClosed)
	}
}

func TestEndsWhenKicked(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, ctx, "player_2")

	// Host removes player_2; the coordinator sees its record vanish.
	if err := h.svc.Kick(ctx, h.sess.SessionID, "player_1", "player_2"); err != nil {
		t.Fatalf("Kick() error = %v", err)
	}
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after kick")
	}
	reasons := h.eng.endReasons()
	if len(reasons) != 1 || reasons[0] != EndReasonKicked {
		t.Fatalf("end reasons = %v, want [%s]", reasons, EndReasonKicked)
	}
}

func TestStartGame(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, ctx, "player_1")

	if err := h.coord.StartGame(ctx); err != session.ErrNotReady {
		t.Fatalf("StartGame(unready) error = %v, want ErrNotReady", err)
	}

	if err := h.coord.SetReady(ctx, true); err != nil {
		t.Fatalf("SetReady() error = %v", err)
	}
	_ = h.st.Update(ctx, h.key(), map[string]any{"players/player_2/isReady": true})
	h.waitFor(t, func() bool {
		sess, _ := h.coord.Session()
		return sess.AllReady()
	}, "ready flags never converged")

	if err := h.coord.StartGame(ctx); err != nil {
		t.Fatalf("StartGame() error = %v", err)
	}
	h.waitFor(t, func() bool {
		return len(h.eng.startedLevels()) > 0
	}, "StartLevel never fired")
	if got := h.eng.startedLevels()[0]; got != 1 {
		t.Fatalf("StartLevel(%d), want 1", got)
	}
}

func TestStartGameNonHost(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, ctx, "player_2")

	if err := h.coord.StartGame(ctx); err != session.ErrNotHost {
		t.Fatalf("StartGame(non-host) error = %v, want ErrNotHost", err)
	}
}

func TestHostDeclaresFinish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, ctx, "player_1")

	_ = h.st.Update(ctx, h.key(), map[string]any{"status": string(session.StatusPlaying)})
	_ = h.st.Update(ctx, h.key(), map[string]any{"players/player_2/levelsCompleted": session.WinLevel})

	h.waitFor(t, func() bool {
		return h.sessionStatus(t, ctx) == session.StatusFinished
	}, "host never declared the finish")

	// Further progress after the finish must not disturb the terminal state.
	_ = h.st.Update(ctx, h.key(), map[string]any{"players/player_2/levelsCompleted": session.WinLevel + 1})
	time.Sleep(50 * time.Millisecond)
	if got := h.sessionStatus(t, ctx); got != session.StatusFinished {
		t.Fatalf("status = %s, want finished", got)
	}
}

func TestNonHostNeverDeclaresFinish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, ctx, "player_2")

	_ = h.st.Update(ctx, h.key(), map[string]any{"status": string(session.StatusPlaying)})
	_ = h.st.Update(ctx, h.key(), map[string]any{"players/player_2/levelsCompleted": session.WinLevel})

	// Only the host arbitrates; with no host client running the session
	// stays in playing.
	time.Sleep(150 * time.Millisecond)
	if got := h.sessionStatus(t, ctx); got != session.StatusPlaying {
		t.Fatalf("status = %s, want playing", got)
	}
}

func TestStaleSnapshotCannotRollBackProgress(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, ctx, "player_2")

	h.coord.RecordLevelCompleted(10 * time.Second)
	h.coord.RecordLevelCompleted(12 * time.Second)
	h.coord.RecordDeath()

	// A late overwrite of our own counters must lose to the local copy.
	_ = h.st.Update(ctx, h.key(), map[string]any{
		"players/player_2/levelsCompleted": 0,
		"players/player_2/deaths":          0,
	})
	h.waitFor(t, func() bool {
		self := h.coord.Self()
		return self.LevelsCompleted == 2 && self.Deaths == 1
	}, "local progress rolled back by stale snapshot")
	if self := h.coord.Self(); self.TotalTimeMS != 22_000 {
		t.Fatalf("TotalTimeMS = %d, want 22000", self.TotalTimeMS)
	}
}

func TestReadyBeforeFirstSnapshotSurvivesAdoption(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	svc := lobby.NewService(st)
	sess, err := svc.Create(ctx, lobby.Identity{UserID: "u1", Username: "ann"}, lobby.CreateRequest{LobbyName: "arena", IsPublic: true})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	key := store.SessionKey(sess.SessionID)

	// Snapshot captured before the ready write lands.
	stale, err := st.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	coord := New(st, svc, &fakeEngine{}, lobby.Identity{UserID: "u1", Username: "ann"}, sess.SessionID, "player_1", Options{HeartbeatInterval: time.Hour})
	if err := coord.SetReady(ctx, true); err != nil {
		t.Fatalf("SetReady() error = %v", err)
	}

	// The stale snapshot is delivered first; adopting it must not clobber
	// the toggle, or the host's start gate wedges on ErrNotReady.
	coord.handleEvent(ctx, store.Event{Key: key, Doc: stale})
	if !coord.Self().Ready {
		t.Fatal("ready toggle lost to stale first snapshot")
	}

	current, err := st.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	coord.handleEvent(ctx, store.Event{Key: key, Doc: current})
	if !coord.Self().Ready {
		t.Fatal("ready toggle lost after second delivery")
	}
	if err := coord.StartGame(ctx); err != nil {
		t.Fatalf("StartGame() error = %v, want nil", err)
	}
}

func TestFirstSnapshotAdoptsRemoteReady(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	svc := lobby.NewService(st)
	sess, err := svc.Create(ctx, lobby.Identity{UserID: "u1", Username: "ann"}, lobby.CreateRequest{LobbyName: "arena", IsPublic: true})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	key := store.SessionKey(sess.SessionID)
	_ = st.Update(ctx, key, map[string]any{"players/player_1/isReady": true})

	// A reconnecting client with no local toggle takes the store's word.
	coord := New(st, svc, &fakeEngine{}, lobby.Identity{UserID: "u1", Username: "ann"}, sess.SessionID, "player_1", Options{HeartbeatInterval: time.Hour})
	doc, err := st.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	coord.handleEvent(ctx, store.Event{Key: key, Doc: doc})
	if !coord.Self().Ready {
		t.Fatal("remote ready flag not adopted on reconnect")
	}
}

func TestProgressFlushesAllEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, ctx, "player_2")

	// Rapid-fire deaths coalesce into fewer writes but never lose counts.
	for i := 0; i < 10; i++ {
		h.coord.RecordDeath()
	}
	h.waitFor(t, func() bool {
		doc, err := h.st.Get(ctx, h.key())
		if err != nil {
			return false
		}
		sess, err := session.Decode(doc)
		if err != nil {
			return false
		}
		return sess.Players["player_2"].Deaths == 10
	}, "death count never fully flushed")
}

func TestUpdatePositionThrottle(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	svc := lobby.NewService(st)
	sess, err := svc.Create(ctx, lobby.Identity{UserID: "u1", Username: "ann"}, lobby.CreateRequest{LobbyName: "arena", IsPublic: true})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	now := time.UnixMilli(500_000)
	coord := New(st, svc, &fakeEngine{}, lobby.Identity{UserID: "u1", Username: "ann"}, sess.SessionID, "player_1", Options{}).
		WithClock(func() time.Time { return now })

	if err := coord.UpdatePosition(ctx, 1, 1); err != nil {
		t.Fatalf("UpdatePosition() error = %v", err)
	}
	// Within the throttle window: silently dropped.
	now = now.Add(30 * time.Millisecond)
	if err := coord.UpdatePosition(ctx, 2, 2); err != nil {
		t.Fatalf("UpdatePosition(throttled) error = %v", err)
	}
	if self := coord.Self(); self.X != 1 || self.Y != 1 {
		t.Fatalf("throttled write applied: %+v", self)
	}

	// Past the window: accepted.
	now = now.Add(200 * time.Millisecond)
	if err := coord.UpdatePosition(ctx, 3, 4); err != nil {
		t.Fatalf("UpdatePosition(past window) error = %v", err)
	}
	if self := coord.Self(); self.X != 3 || self.Y != 4 {
		t.Fatalf("position not applied: %+v", self)
	}
}

func TestTurnModeRotatesOnProgress(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, ctx, "player_1")

	_ = h.st.Update(ctx, h.key(), map[string]any{
		"mode":          string(session.ModeTurns),
		"status":        string(session.StatusPlaying),
		"currentTurn":   "player_2",
		"turnStartedMs": session.NowMS(time.Now()),
		"timeLimitMs":   session.TimeLimitFor(0).Milliseconds(),
	})
	h.waitFor(t, func() bool {
		sess, _ := h.coord.Session()
		return sess.Mode == session.ModeTurns && sess.Status == session.StatusPlaying
	}, "turn mode never adopted")

	// player_2 finishes a level; the host rotates the turn back to player_1.
	_ = h.st.Update(ctx, h.key(), map[string]any{"players/player_2/levelsCompleted": 1})
	h.waitFor(t, func() bool {
		doc, err := h.st.Get(ctx, h.key())
		if err != nil {
			return false
		}
		sess, err := session.Decode(doc)
		if err != nil {
			return false
		}
		return sess.CurrentTurn == "player_1" && sess.CurrentLevel == 2
	}, "host never rotated the turn")
}

// flakySubscribeStore fails the first Subscribe calls, then delegates.
type flakySubscribeStore struct {
	store.Store
	mu       sync.Mutex
	failures int
}

func (f *flakySubscribeStore) Subscribe(ctx context.Context, key string) (<-chan store.Event, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, context.DeadlineExceeded
	}
	f.mu.Unlock()
	return f.Store.Subscribe(ctx, key)
}

func TestResubscribesAfterFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := store.NewMemory()
	st := &flakySubscribeStore{Store: mem, failures: 1}
	svc := lobby.NewService(mem)
	sess, err := svc.Create(ctx, lobby.Identity{UserID: "u1", Username: "ann"}, lobby.CreateRequest{LobbyName: "arena", IsPublic: true})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	coord := New(st, svc, &fakeEngine{}, lobby.Identity{UserID: "u1", Username: "ann"}, sess.SessionID, "player_1", Options{HeartbeatInterval: time.Hour})
	go func() { _ = coord.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, ok := coord.Session(); ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("coordinator never recovered from the failed subscribe")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHeartbeatAfterTeardownIsNoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, ctx, "player_2")

	if err := h.st.Delete(ctx, h.key()); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	<-h.done

	// A late heartbeat against the deleted session neither errors nor
	// resurrects the document.
	if err := h.coord.heartbeat(ctx); err != nil {
		t.Fatalf("heartbeat() error = %v", err)
	}
	if _, err := h.st.Get(ctx, h.key()); err != store.ErrNotFound {
		t.Fatal("late heartbeat resurrected the session")
	}
}
