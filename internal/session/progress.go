package session

import "time"

// Progress appliers are pure: the coordinator applies them to its locally
// cached copy of its own record and writes the result back. Only the owning
// client ever writes these fields, so the read-modify-write cannot race
// across clients; serializing the client's own writes is handled upstream.

func ApplyLevelCompleted(p PlayerRecord, elapsed time.Duration) PlayerRecord {
	p.LevelsCompleted++
	if elapsed > 0 {
		p.TotalTimeMS += elapsed.Milliseconds()
	}
	return p
}

func ApplyDeath(p PlayerRecord) PlayerRecord {
	p.Deaths++
	return p
}

func ApplyPosition(p PlayerRecord, x, y float64) PlayerRecord {
	p.X = x
	p.Y = y
	return p
}

// MergeOwnProgress reconciles the local copy of the client's own record with
// a snapshot from the store. Monotone counters keep their maximum so an
// out-of-order or stale delivery can never roll progress back; cosmetic
// fields take the local value, since the local client is their only writer.
func MergeOwnProgress(local, remote PlayerRecord) PlayerRecord {
	out := remote
	if local.LevelsCompleted > out.LevelsCompleted {
		out.LevelsCompleted = local.LevelsCompleted
	}
	if local.Deaths > out.Deaths {
		out.Deaths = local.Deaths
	}
	if local.TotalTimeMS > out.TotalTimeMS {
		out.TotalTimeMS = local.TotalTimeMS
	}
	out.X = local.X
	out.Y = local.Y
	out.Ready = local.Ready
	return out
}
