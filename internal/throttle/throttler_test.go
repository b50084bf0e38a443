package throttle

import (
	"testing"
	"time"
)

// fakeClock lets tests step time manually.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestThrottler(cfg Config) (*Throttler, *fakeClock) {
	th := New(cfg)
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	th.now = clk.now
	th.lastReset = clk.t
	th.burstReset = clk.t
	return th, clk
}

func TestThrottler_BurstCeilingHitsFirst(t *testing.T) {
	th, clk := newTestThrottler(Config{
		PerEvent: map[string]Limits{"typing": {PerSecond: 5, Burst: 3}},
	})

	processed := 0
	for i := 0; i < 10; i++ {
		clk.advance(5 * time.Millisecond) // 10 events inside 50ms
		if th.ProcessEvent("typing", nil, func(any) { processed++ }) {
			continue
		}
	}
	if processed != 3 {
		t.Fatalf("processed %d, want 3 (burst ceiling)", processed)
	}
	if d := th.Stats()["typing"].Dropped; d != 7 {
		t.Fatalf("dropped %d, want 7", d)
	}
}

func TestThrottler_PerSecondCeiling(t *testing.T) {
	th, clk := newTestThrottler(Config{
		PerEvent: map[string]Limits{"new-message": {PerSecond: 5, Burst: 2}},
	})

	processed := 0
	// Spread events out so the burst window keeps rolling but the
	// one-second window does not.
	// 8 events, 110ms apart: every burst window rolls, total elapsed stays
	// under the one-second window.
	for i := 0; i < 8; i++ {
		clk.advance(110 * time.Millisecond)
		th.ProcessEvent("new-message", nil, func(any) { processed++ })
	}
	if processed != 5 {
		t.Fatalf("processed %d, want 5 (per-second ceiling)", processed)
	}
}

func TestThrottler_WindowRollAdmitsAgain(t *testing.T) {
	th, clk := newTestThrottler(Config{
		Defaults: Limits{PerSecond: 1, Burst: 1},
	})

	if !th.ProcessEvent("conversation-event", nil, func(any) {}) {
		t.Fatal("first event should pass")
	}
	if th.ProcessEvent("conversation-event", nil, func(any) {}) {
		t.Fatal("second event inside the window should drop")
	}
	clk.advance(time.Second)
	if !th.ProcessEvent("conversation-event", nil, func(any) {}) {
		t.Fatal("event after window roll should pass")
	}
}

func TestThrottler_ResetAlwaysAdmitsNext(t *testing.T) {
	th, _ := newTestThrottler(Config{Defaults: Limits{PerSecond: 1, Burst: 1}})

	th.ProcessEvent("typing", nil, func(any) {})
	if th.CanProcessEvent("typing") {
		t.Fatal("budget should be exhausted")
	}
	th.Reset()
	if !th.CanProcessEvent("typing") {
		t.Fatal("event after Reset must be accepted")
	}
}

func TestThrottler_CheckThenRecord(t *testing.T) {
	th, _ := newTestThrottler(Config{Defaults: Limits{PerSecond: 2, Burst: 2}})

	for i := 0; i < 2; i++ {
		if !th.CanProcessEvent("x") {
			t.Fatalf("event %d should be admissible", i)
		}
		th.RecordEvent("x")
	}
	if th.CanProcessEvent("x") {
		t.Fatal("third event should be over the ceiling")
	}
	st := th.Stats()["x"]
	if st.PerSecond != 2 || st.Burst != 2 {
		t.Fatalf("stats = %+v, want 2/2", st)
	}
}

func TestThrottler_PerEventOverrideFallsBackToDefaults(t *testing.T) {
	th, _ := newTestThrottler(Config{
		Defaults: Limits{PerSecond: 10, Burst: 4},
		PerEvent: map[string]Limits{"typing": {Burst: 1}}, // PerSecond unset
	})

	// typing: burst override 1, per-second falls back to 10.
	if !th.ProcessEvent("typing", nil, func(any) {}) {
		t.Fatal("first typing event should pass")
	}
	if th.ProcessEvent("typing", nil, func(any) {}) {
		t.Fatal("typing burst override should cap at 1")
	}
	// other events keep the global burst of 4.
	for i := 0; i < 4; i++ {
		if !th.ProcessEvent("new-message", nil, func(any) {}) {
			t.Fatalf("new-message %d should pass under global limits", i)
		}
	}
}

func TestThrottler_TypesAreIndependent(t *testing.T) {
	th, _ := newTestThrottler(Config{Defaults: Limits{PerSecond: 1, Burst: 1}})

	th.ProcessEvent("typing", nil, func(any) {})
	if !th.CanProcessEvent("new-message") {
		t.Fatal("exhausting one type must not affect another")
	}
}
