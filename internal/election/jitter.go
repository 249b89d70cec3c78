package election

import (
	"math/rand"
	"time"
)

// jitterMaxMs is the upper bound (exclusive) of the herd-avoidance sleep
// applied when a predecessor has vanished between lookup and subscribe.
const jitterMaxMs = 1000

func jitterDuration(r *rand.Rand) time.Duration {
	return time.Duration(r.Intn(jitterMaxMs)) * time.Millisecond
}

func sleepChan(d time.Duration) <-chan time.Time {
	return time.After(d)
}
