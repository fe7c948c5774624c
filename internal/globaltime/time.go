// Package globaltime is the process-wide clock. Stages that need deterministic
// time in tests take a Clock and default to Now.
package globaltime

import (
	"sync"
	"time"
)

// Clock returns the current time.
type Clock func() time.Time

var (
	mu      sync.RWMutex
	nowFunc = time.Now
)

func Now() time.Time {
	mu.RLock()
	defer mu.RUnlock()
	return nowFunc()
}

func UTC() time.Time {
	return Now().UTC()
}

// Since measures elapsed time against the process clock.
func Since(start time.Time) time.Duration {
	return Now().Sub(start)
}

// OrDefault returns clock, or the process clock when clock is nil.
func OrDefault(clock Clock) Clock {
	if clock != nil {
		return clock
	}
	return UTC
}

// RunDate is the UTC calendar day of t formatted as YYYY-MM-DD.
func RunDate(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

func SetMockTime(t time.Time) {
	mu.Lock()
	defer mu.Unlock()
	nowFunc = func() time.Time { return t }
}

func ResetTime() {
	mu.Lock()
	defer mu.Unlock()
	nowFunc = time.Now
}
