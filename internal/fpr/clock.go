package fpr

import "time"

// Clock is the router's wall-clock / tick-source collaborator. The real
// implementation wraps time.Now/time.Sleep; tests
// substitute a fake to make timer-driven behavior (keepalive, reconnect,
// stale-route cleanup) deterministic.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// systemClock is the production Clock.
type systemClock struct{}

// SystemClock is the default Clock backed by the real wall clock.
var SystemClock Clock = systemClock{}

func (systemClock) Now() time.Time      { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }
