package sim

import "math"

// NoNextEvent is returned by UpdateProcessing when nothing can make progress.
var NoNextEvent = math.Inf(1)

// DefaultMinTimeBetweenEvents is the kernel granularity used when a scenario
// does not configure one.
const DefaultMinTimeBetweenEvents = 0.01

// Clock is the part of the event kernel the scheduling core reads.
// The core never advances time itself; every "now" comes from here.
type Clock interface {
	Now() float64
	// MinTimeBetweenEvents is the smallest delay the kernel will schedule.
	// Next-event predictions are clamped up to it.
	MinTimeBetweenEvents() float64
}

// ManualClock is a Clock whose time is set by the caller. It is used by
// tests and by tools that drive hosts directly without a datacenter.
type ManualClock struct {
	T   float64
	Gap float64
}

// NewManualClock returns a clock at time 0 with the default granularity.
func NewManualClock() *ManualClock {
	return &ManualClock{Gap: DefaultMinTimeBetweenEvents}
}

func (c *ManualClock) Now() float64                  { return c.T }
func (c *ManualClock) MinTimeBetweenEvents() float64 { return c.Gap }

// Advance moves the clock forward by dt and returns the new time.
func (c *ManualClock) Advance(dt float64) float64 {
	c.T += dt
	return c.T
}

// clampDelay applies the kernel granularity to a predicted delay.
func clampDelay(delay, gap float64) float64 {
	if delay < gap {
		return gap
	}
	return delay
}
