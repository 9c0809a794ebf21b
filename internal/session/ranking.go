package session

import "sort"

// Leaderboard orders players best-first: most levels completed, then fewest
// deaths, then least total time. Player ID breaks remaining ties so the
// order is a strict total order and stable across re-evaluation.
func Leaderboard(s Session) []PlayerRecord {
	out := make([]PlayerRecord, 0, len(s.Players))
	for _, p := range s.Players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.LevelsCompleted != b.LevelsCompleted {
			return a.LevelsCompleted > b.LevelsCompleted
		}
		if a.Deaths != b.Deaths {
			return a.Deaths < b.Deaths
		}
		if a.TotalTimeMS != b.TotalTimeMS {
			return a.TotalTimeMS < b.TotalTimeMS
		}
		return slotNumber(a.PlayerID) < slotNumber(b.PlayerID)
	})
	return out
}

// HasWinner reports whether any player has reached the win level.
func HasWinner(s Session) bool {
	for _, p := range s.Players {
		if p.LevelsCompleted >= WinLevel {
			return true
		}
	}
	return false
}

// Winner is the leaderboard head. The second return is false for an empty
// player set.
func Winner(s Session) (PlayerRecord, bool) {
	board := Leaderboard(s)
	if len(board) == 0 {
		return PlayerRecord{}, false
	}
	return board[0], true
}
