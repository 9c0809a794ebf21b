package session

import "time"

// Turn-mode rules from the single-screen variant: players rotate strictly,
// each turn has a time limit that shrinks with the number of levels the
// player has already completed, and the shared level pointer tracks the
// leader.

var turnTimeLimits = []time.Duration{
	3 * time.Minute,
	time.Minute,
	30 * time.Second,
}

// TimeLimitFor returns the per-turn limit for a player who has completed
// the given number of levels. Beyond the table the floor applies.
func TimeLimitFor(levelsCompleted int) time.Duration {
	if levelsCompleted < 0 {
		levelsCompleted = 0
	}
	if levelsCompleted < len(turnTimeLimits) {
		return turnTimeLimits[levelsCompleted]
	}
	return turnTimeLimits[len(turnTimeLimits)-1]
}

// NextTurn is the slot after CurrentTurn in slot order, wrapping around.
// With an unset or departed current player the rotation restarts at the
// lowest slot.
func NextTurn(s Session) (string, bool) {
	ids := s.SlotIDs()
	if len(ids) == 0 {
		return "", false
	}
	for i, id := range ids {
		if id == s.CurrentTurn {
			return ids[(i+1)%len(ids)], true
		}
	}
	return ids[0], true
}

// SharedLevel is the level the table plays next in turn mode: one past the
// leader's completed count.
func SharedLevel(s Session) int {
	board := Leaderboard(s)
	if len(board) == 0 {
		return 1
	}
	return board[0].LevelsCompleted + 1
}
