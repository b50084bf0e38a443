// Package throttle guards the event pipeline from inbound floods. Each event
// type gets two fixed windows: a one-second counter and a short burst
// counter. Windows are reset lazily on the next call rather than by timers,
// so ceilings are approximate, not exact sliding windows. Events over either
// ceiling are dropped silently, never queued.
package throttle

import (
	"log/slog"
	"sync"
	"time"
)

const (
	defaultWindow      = time.Second
	defaultBurstWindow = 100 * time.Millisecond
	defaultPerSecond   = 20
	defaultBurst       = 8
)

// Limits caps one event type inside the two windows.
type Limits struct {
	PerSecond int `yaml:"perSecond"`
	Burst     int `yaml:"burst"`
}

// Config tunes the throttler. PerEvent overrides the global defaults for
// specific event types (e.g. "typing" capped lower than "new-message").
type Config struct {
	Window      time.Duration
	BurstWindow time.Duration
	Defaults    Limits
	PerEvent    map[string]Limits
	Logger      *slog.Logger
}

// Counts is a snapshot of one event type's window counters.
type Counts struct {
	PerSecond int
	Burst     int
	Dropped   uint64
}

// Throttler decides, per event type, whether an occurrence is processed now.
type Throttler struct {
	mu          sync.Mutex
	cfg         Config
	counts      map[string]int
	burstCounts map[string]int
	dropped     map[string]uint64
	lastReset   time.Time
	burstReset  time.Time

	// now is swapped out in tests.
	now func() time.Time
}

// New builds a Throttler. Zero config fields fall back to defaults.
func New(cfg Config) *Throttler {
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.BurstWindow <= 0 {
		cfg.BurstWindow = defaultBurstWindow
	}
	if cfg.Defaults.PerSecond <= 0 {
		cfg.Defaults.PerSecond = defaultPerSecond
	}
	if cfg.Defaults.Burst <= 0 {
		cfg.Defaults.Burst = defaultBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	now := time.Now()
	return &Throttler{
		cfg:         cfg,
		counts:      map[string]int{},
		burstCounts: map[string]int{},
		dropped:     map[string]uint64{},
		lastReset:   now,
		burstReset:  now,
		now:         time.Now,
	}
}

func (t *Throttler) limitsFor(eventType string) Limits {
	if l, ok := t.cfg.PerEvent[eventType]; ok {
		if l.PerSecond <= 0 {
			l.PerSecond = t.cfg.Defaults.PerSecond
		}
		if l.Burst <= 0 {
			l.Burst = t.cfg.Defaults.Burst
		}
		return l
	}
	return t.cfg.Defaults
}

// rollWindows clears expired counters. Caller holds the lock.
func (t *Throttler) rollWindows() {
	now := t.now()
	if now.Sub(t.lastReset) >= t.cfg.Window {
		clear(t.counts)
		t.lastReset = now
	}
	if now.Sub(t.burstReset) >= t.cfg.BurstWindow {
		clear(t.burstCounts)
		t.burstReset = now
	}
}

// CanProcessEvent reports whether eventType is under both ceilings in the
// current windows. Exposed separately from RecordEvent for tests; production
// callers go through ProcessEvent.
func (t *Throttler) CanProcessEvent(eventType string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canProcessLocked(eventType)
}

func (t *Throttler) canProcessLocked(eventType string) bool {
	t.rollWindows()
	l := t.limitsFor(eventType)
	return t.counts[eventType] < l.PerSecond && t.burstCounts[eventType] < l.Burst
}

// RecordEvent counts one occurrence against both windows. Call it only
// right after CanProcessEvent returned true.
func (t *Throttler) RecordEvent(eventType string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[eventType]++
	t.burstCounts[eventType]++
}

// ProcessEvent is the check-record-invoke entry point. It reports whether
// the callback ran; a dropped event is counted and otherwise silent.
func (t *Throttler) ProcessEvent(eventType string, data any, fn func(any)) bool {
	t.mu.Lock()
	if !t.canProcessLocked(eventType) {
		t.dropped[eventType]++
		t.mu.Unlock()
		t.cfg.Logger.Debug("event throttled", "type", eventType)
		return false
	}
	t.counts[eventType]++
	t.burstCounts[eventType]++
	t.mu.Unlock()

	// Invoke outside the lock so a handler may consult Stats or Reset.
	fn(data)
	return true
}

// Stats snapshots the live counters, keyed by event type. No side effects.
func (t *Throttler) Stats() map[string]Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Counts)
	for k, v := range t.counts {
		c := out[k]
		c.PerSecond = v
		out[k] = c
	}
	for k, v := range t.burstCounts {
		c := out[k]
		c.Burst = v
		out[k] = c
	}
	for k, v := range t.dropped {
		c := out[k]
		c.Dropped = v
		out[k] = c
	}
	return out
}

// Reset clears every counter immediately. Used on reconnect so a resynced
// stream starts with a clean budget, and in tests.
func (t *Throttler) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.counts)
	clear(t.burstCounts)
	now := t.now()
	t.lastReset = now
	t.burstReset = now
}
