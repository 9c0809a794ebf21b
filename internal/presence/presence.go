package presence

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultInterval = 10 * time.Second
	// stalenessFactor: a player is offline after missing this many beats.
	stalenessFactor = 3
)

// WriteFunc performs one heartbeat write for the owning player. Writes
// against a session that no longer exists must be a no-op, not an error.
type WriteFunc func(ctx context.Context) error

// Runner emits heartbeats on a fixed interval for as long as its context
// lives. The context is tied to the session view, so teardown on any exit
// path cancels the ticker.
type Runner struct {
	interval time.Duration
	write    WriteFunc
}

func NewRunner(interval time.Duration, write WriteFunc) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Runner{interval: interval, write: write}
}

func (r *Runner) Run(ctx context.Context) {
	// First beat immediately so a fresh join never reads as offline for a
	// full interval.
	r.beat(ctx)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.beat(ctx)
		}
	}
}

func (r *Runner) beat(ctx context.Context) {
	if err := r.write(ctx); err != nil {
		// Heartbeats are best-effort; a missed one just ages the player
		// toward offline until the next tick lands.
		log.Debug().Err(err).Msg("heartbeat write failed")
	}
}

// StaleAfter is the age past which a heartbeat no longer counts as alive.
func StaleAfter(interval time.Duration) time.Duration {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return stalenessFactor * interval
}

// Alive evaluates liveness lazily from the last heartbeat timestamp. There
// is no active expiry process; readers derive status at render time.
func Alive(lastBeatMS int64, now time.Time, staleAfter time.Duration) bool {
	if lastBeatMS <= 0 {
		return false
	}
	return now.UnixMilli()-lastBeatMS <= staleAfter.Milliseconds()
}
