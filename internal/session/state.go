package session

// statusRank orders the lifecycle so transitions can be checked for
// monotonicity: waiting -> playing -> finished, never backwards.
func statusRank(st Status) int {
	switch st {
	case StatusWaiting:
		return 0
	case StatusPlaying:
		return 1
	case StatusFinished:
		return 2
	default:
		return -1
	}
}

// ValidateTransition accepts only single forward steps between known states.
func ValidateTransition(from, to Status) error {
	fr, tr := statusRank(from), statusRank(to)
	if fr < 0 || tr < 0 {
		return ErrBadTransition
	}
	if tr != fr+1 {
		return ErrBadTransition
	}
	return nil
}

// CanStart gates waiting -> playing: only from the waiting room, only with
// every seated player ready. A lone ready host is a valid start.
func CanStart(s Session) error {
	if s.Status != StatusWaiting {
		return ErrBadTransition
	}
	if !s.AllReady() {
		return ErrNotReady
	}
	return nil
}

// CanFinish gates playing -> finished: someone must have hit the win level.
// Finishing an already finished session is not an error here; idempotency
// is the caller's guard (skip when status is already finished).
func CanFinish(s Session) error {
	if s.Status != StatusPlaying {
		return ErrBadTransition
	}
	if !HasWinner(s) {
		return ErrBadTransition
	}
	return nil
}
