package clock

import "testing"

func TestComputeDeltaNoWrap(t *testing.T) {
	c := New()
	if got := c.ComputeDelta(150, 100, 0); got != 50 {
		t.Errorf("got %d want 50", got)
	}
}

func TestComputeDeltaWrap(t *testing.T) {
	c := New()
	const wrap = int64(1) << 33
	got := c.ComputeDelta(5, wrap-10, wrap)
	if got != 15 {
		t.Errorf("got %d want 15", got)
	}
}

func TestEstablishAndTicks(t *testing.T) {
	c := New()
	c.EstablishTimebase(27_000_000)
	if !c.IsTimebaseEstablished() {
		t.Fatalf("expected timebase established")
	}
	c.EstablishWallclock(1000)
	if !c.IsWallclockEstablished() {
		t.Fatalf("expected wallclock established")
	}
	c.AddTicks(27_000_000)
	if c.Ticks() != 1000+27_000_000 {
		t.Errorf("got %d", c.Ticks())
	}
}
