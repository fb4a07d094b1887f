package internal

import (
	"testing"
	"time"
)

func Test_GetBackoffTime(t *testing.T) {
	for i := int64(0); i < 20; i++ {
		backOff := GetBackoffTime(i, time.Millisecond, time.Second)
		if backOff < 0 || backOff > time.Second {
			t.Fatalf("iteration %d: backoff %s out of range", i, backOff)
		}
	}
}

func Test_GetBackoffTimeCapsAtMaximum(t *testing.T) {
	for i := 0; i < 100; i++ {
		if got := GetBackoffTime(63, time.Second, 5*time.Second); got != 5*time.Second {
			t.Fatalf("expected cap, got %s", got)
		}
	}
}

func Test_GetBackoffTimeZeroInputs(t *testing.T) {
	if got := GetBackoffTime(0, time.Second, time.Minute); got != 0 {
		t.Fatalf("expected 0, got %s", got)
	}
	if got := GetBackoffTime(5, 0, time.Minute); got != 0 {
		t.Fatalf("expected 0, got %s", got)
	}
}
