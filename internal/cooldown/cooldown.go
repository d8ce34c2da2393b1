// Package cooldown is a client-side throttle armed after the upstream
// translator reports rate limiting.
package cooldown

import "time"

const DefaultDuration = 8 * time.Second

// Gate holds the instant before which no new translation may start. The zero
// value is open.
type Gate struct {
	until time.Time
}

func (g *Gate) IsCooledDown(now time.Time) bool {
	return !now.Before(g.until)
}

func (g *Gate) Trigger(now time.Time, duration time.Duration) {
	if duration <= 0 {
		duration = DefaultDuration
	}
	g.until = now.Add(duration)
}

// Remaining is zero once the gate is open.
func (g *Gate) Remaining(now time.Time) time.Duration {
	if g.IsCooledDown(now) {
		return 0
	}
	return g.until.Sub(now)
}

func (g *Gate) Until() time.Time {
	return g.until
}
