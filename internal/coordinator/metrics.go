package coordinator

import "expvar"

var (
	metricResubscribes     = expvar.NewInt("coordinator_resubscribes_total")
	metricWinsDeclared     = expvar.NewInt("coordinator_wins_declared_total")
	metricProgressWrites   = expvar.NewInt("coordinator_progress_writes_total")
	metricPositionsDropped = expvar.NewInt("coordinator_positions_throttled_total")
	metricTurnRotations    = expvar.NewInt("coordinator_turn_rotations_total")
)
