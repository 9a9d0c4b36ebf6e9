/*
NAME
  clock.go

DESCRIPTION
  clock.go tracks a timebase (a counter running at some ticks-per-second
  rate, e.g. 27 MHz for PCR or 90 kHz for PTS) against walltime, so callers
  can measure how far a stream's embedded clock has drifted from reality.

AUTHOR
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package clock implements a walltime-vs-timebase drift tracker, used by
// the TR 101 290 monitor's PCR-accuracy approximation. The PCR smoother
// keeps its own PCR/walltime anchor and does not use this package.
package clock

import (
	"time"

	"github.com/ausocean/utils/realtime"
)

// Clock tracks drift between a caller-supplied timebase (ticks_per_second)
// and walltime. The zero value is not usable; call New.
type Clock struct {
	establishedTimebase bool
	establishedWallclock bool

	ticksPerSecond int64

	currentTicks     int64
	establishedTicks int64
	establishedWall  time.Time

	driftUS    int64
	driftUSLwm int64
	driftUSHwm int64
	driftUSMax int64

	now func() time.Time
}

// rt supplies the walltime this package measures drift against. It mirrors
// the teacher's package-level RealTime helper (container/mts/encoder.go),
// which defaults to time.Now() but can be pinned for reproducible tests.
var rt = realtime.NewRealTime()

// New returns an uninitialized Clock. EstablishTimebase and
// EstablishWallclock must both be called before drift queries are
// meaningful.
func New() *Clock {
	return &Clock{now: defaultNow}
}

func defaultNow() time.Time {
	if rt.IsSet() {
		return rt.Get()
	}
	return time.Now()
}

// EstablishTimebase sets the rate (in ticks per second) of the timebase
// this clock tracks, e.g. 27_000_000 for PCR or 90_000 for PTS/DTS.
func (c *Clock) EstablishTimebase(ticksPerSecond int64) {
	c.establishedTimebase = true
	c.ticksPerSecond = ticksPerSecond
	c.establishedTicks = 0
	c.currentTicks = 0
}

// IsTimebaseEstablished reports whether EstablishTimebase has been called.
func (c *Clock) IsTimebaseEstablished() bool { return c.establishedTimebase }

// EstablishWallclock anchors ticks to the current walltime, enabling
// subsequent drift measurement.
func (c *Clock) EstablishWallclock(ticks int64) {
	c.establishedWallclock = true
	c.establishedWall = c.now()
	c.establishedTicks = ticks
	c.currentTicks = ticks
}

// IsWallclockEstablished reports whether EstablishWallclock has been
// called.
func (c *Clock) IsWallclockEstablished() bool { return c.establishedWallclock }

// SetTicks sets the current timebase position to an absolute value.
func (c *Clock) SetTicks(ticks int64) { c.currentTicks = ticks }

// Ticks returns the current timebase position.
func (c *Clock) Ticks() int64 { return c.currentTicks }

// AddTicks advances (or rewinds, for a negative delta) the current
// timebase position.
func (c *Clock) AddTicks(delta int64) { c.currentTicks += delta }

// DriftUS returns the difference, in microseconds, between how far the
// timebase has advanced since it was established and how much walltime
// has actually elapsed. A positive value means the timebase is running
// ahead of walltime. High/low watermarks are updated as a side effect.
func (c *Clock) DriftUS() int64 {
	elapsed := c.now().Sub(c.establishedWall)

	deltaTicks := float64(c.currentTicks - c.establishedTicks)
	tickDuration := time.Duration((deltaTicks / float64(c.ticksPerSecond)) * float64(time.Second))

	drift := tickDuration - elapsed
	c.driftUS = drift.Microseconds()

	if c.driftUS > c.driftUSHwm {
		c.driftUSHwm = c.driftUS
	}
	if c.driftUS <= c.driftUSLwm {
		c.driftUSLwm = c.driftUS
	}
	c.driftUSMax = c.driftUSHwm - c.driftUSLwm

	return c.driftUS
}

// DriftMS is DriftUS expressed in milliseconds.
func (c *Clock) DriftMS() int64 { return c.DriftUS() / 1000 }

// ComputeDelta returns the absolute tick delta between now and then,
// accounting for wraparound at clockWrap (pass 0 to disable wrap
// handling, e.g. for a PTS/DTS 33-bit clock use 1<<33, for a 27 MHz PCR
// composite use ts.PCRWrap).
func (c *Clock) ComputeDelta(now, then, clockWrap int64) int64 {
	if now >= then {
		return now - then
	}
	if clockWrap <= 0 {
		return then - now
	}
	return clockWrap - then + now
}
