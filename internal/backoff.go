package internal

import (
	"math/rand"
	"time"
)

// GetBackoffTime returns a randomized exponential backoff: a uniform draw
// from [0, 2^retries) slot times, capped at maximum. Used by receive loops
// that must not hammer a hiccuping Redis.
func GetBackoffTime(retries int64, slotTime time.Duration, maximum time.Duration) time.Duration {
	if slotTime <= 0 || retries <= 0 {
		return 0
	}
	// 2^retries overflows int64 well before the cap matters.
	if retries >= 62 {
		return maximum
	}

	n := rand.Int63n(int64(1) << retries)
	if n > int64(maximum/slotTime) {
		return maximum
	}

	backoff := time.Duration(n) * slotTime
	if backoff > maximum {
		backoff = maximum
	}

	return backoff
}

// SleepBackedOff sleeps for a randomized exponential backoff.
func SleepBackedOff(retries int64, slotTime time.Duration, maximum time.Duration) {
	time.Sleep(GetBackoffTime(retries, slotTime, maximum))
}
