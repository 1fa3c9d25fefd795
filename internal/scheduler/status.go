package scheduler

import (
	"strconv"
	"time"

	"almejal/eldorado/internal/models"
)

// allowedTransitions is the per-market state machine. Validating is a side
// excursion from Live; Error is reachable from every working state and only
// an operator moves a market out of it.
var allowedTransitions = map[models.DataStatus][]models.DataStatus{
	models.DataNew:         {models.DataBackfilling, models.DataError},
	models.DataBackfilling: {models.DataSyncing, models.DataError},
	models.DataSyncing:     {models.DataLive, models.DataError},
	models.DataLive:        {models.DataValidating, models.DataArchived, models.DataError},
	models.DataValidating:  {models.DataLive, models.DataError},
	models.DataArchived:    {},
	models.DataError:       {},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to models.DataStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// GapClosed reports whether the REST backfill has met the first websocket
// trade. With integer trade ids contiguity is exact: the websocket trade
// must be the very next id. Venues without monotone ids fall back to
// timestamp contiguity, a gap no wider than one base bucket.
func GapClosed(restLastID, wsFirstID string, restLastTs, wsFirstTs time.Time, maxGap time.Duration) bool {
	restN, restErr := strconv.ParseInt(restLastID, 10, 64)
	wsN, wsErr := strconv.ParseInt(wsFirstID, 10, 64)
	if restErr == nil && wsErr == nil {
		return wsN == restN+1
	}
	return !wsFirstTs.After(restLastTs.Add(maxGap))
}

// Escalating restart delays, reset once the instance has been healthy for
// restartResetAfter.
const restartResetAfter = 24 * time.Hour

var restartDelays = []time.Duration{5 * time.Second, 30 * time.Second, 60 * time.Second}

// RestartDelay returns how long an instance waits before restart attempt
// count (1-based). The last delay repeats once the ladder is exhausted.
func RestartDelay(count int) time.Duration {
	if count < 1 {
		count = 1
	}
	if count > len(restartDelays) {
		count = len(restartDelays)
	}
	return restartDelays[count-1]
}

// NextRestartCount returns the restart counter to record for a restart at
// now: the ladder resets after a healthy day.
func NextRestartCount(previous int, lastRestart *time.Time, now time.Time) int {
	if lastRestart == nil || now.Sub(*lastRestart) > restartResetAfter {
		return 1
	}
	return previous + 1
}
