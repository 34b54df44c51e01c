package firewall

import "time"

// Clock supplies the current time in epoch milliseconds. Expiry is a pure
// function of (expires_at, now) evaluated at each check; the engine never
// schedules anything.
type Clock interface {
	NowMillis() int64
}

type systemClock struct{}

func (systemClock) NowMillis() int64 { return time.Now().UnixMilli() }

// SystemClock reads the wall clock.
var SystemClock Clock = systemClock{}

// FixedClock reports a constant instant.
type FixedClock int64

func (c FixedClock) NowMillis() int64 { return int64(c) }
