// Package metrics provides a lightweight, Prometheus-compatible metrics
// collector for chatsync. It renders text/plain in Prometheus exposition
// format without pulling in the heavy prometheus/client_golang dependency.
package metrics

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the global metrics collector.
var Collector = NewMetricsCollector()

// MetricsCollector aggregates counters and gauges.
type MetricsCollector struct {
	counters  sync.Map // key -> *Counter
	gauges    sync.Map // key -> *Gauge
	startTime time.Time
}

// NewMetricsCollector creates a new collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add increments the counter by n.
func (c *Counter) Add(n int64) { c.value.Add(n) }

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Inc increments the gauge by 1.
func (g *Gauge) Inc() { g.value.Add(1) }

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() { g.value.Add(-1) }

// Value returns the current gauge value.
func (g *Gauge) Value() int64 { return g.value.Load() }

// Counter returns or creates a counter with the given name and label pairs.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	if v, ok := c.counters.Load(key); ok {
		return v.(*Counter)
	}
	ctr := &Counter{name: name, help: help, labels: labels}
	actual, _ := c.counters.LoadOrStore(key, ctr)
	return actual.(*Counter)
}

// Gauge returns or creates a gauge with the given name and label pairs.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	key := name + "{" + labels + "}"
	if v, ok := c.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	g := &Gauge{name: name, help: help, labels: labels}
	actual, _ := c.gauges.LoadOrStore(key, g)
	return actual.(*Gauge)
}

// Handler returns an http.HandlerFunc that renders metrics in Prometheus
// text format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder

		fmt.Fprintf(&sb, "# HELP chatsync_uptime_seconds Time since start in seconds\n")
		fmt.Fprintf(&sb, "# TYPE chatsync_uptime_seconds gauge\n")
		fmt.Fprintf(&sb, "chatsync_uptime_seconds %d\n\n", int64(c.Uptime().Seconds()))

		helpWritten := make(map[string]bool)
		c.counters.Range(func(key, value any) bool {
			ctr := value.(*Counter)
			if !helpWritten[ctr.name] {
				fmt.Fprintf(&sb, "# HELP %s %s\n", ctr.name, ctr.help)
				fmt.Fprintf(&sb, "# TYPE %s counter\n", ctr.name)
				helpWritten[ctr.name] = true
			}
			if ctr.labels != "" {
				fmt.Fprintf(&sb, "%s{%s} %d\n", ctr.name, ctr.labels, ctr.Value())
			} else {
				fmt.Fprintf(&sb, "%s %d\n", ctr.name, ctr.Value())
			}
			return true
		})

		helpWritten = make(map[string]bool)
		c.gauges.Range(func(key, value any) bool {
			g := value.(*Gauge)
			if !helpWritten[g.name] {
				fmt.Fprintf(&sb, "# HELP %s %s\n", g.name, g.help)
				fmt.Fprintf(&sb, "# TYPE %s gauge\n", g.name)
				helpWritten[g.name] = true
			}
			if g.labels != "" {
				fmt.Fprintf(&sb, "%s{%s} %d\n", g.name, g.labels, g.Value())
			} else {
				fmt.Fprintf(&sb, "%s %d\n", g.name, g.Value())
			}
			return true
		})

		fmt.Fprint(w, sb.String())
	}
}

// --- Pre-defined metrics used across the sync layer ---

var (
	reconnectsTotal = Collector.Counter("chatsync_reconnects_total", "Reconnect attempts scheduled", "")
	dedupTotal      = Collector.Counter("chatsync_events_deduplicated_total", "Events dropped as duplicates", "")
	connectedGauge  = Collector.Gauge("chatsync_connected", "1 while the transport connection is up", "")

	conversationsGauge = Collector.Gauge("chatsync_store_conversations", "Conversations held in the store", "")
	messagesGauge      = Collector.Gauge("chatsync_store_messages", "Messages held in the store", "")
)

// EventProcessed counts an inbound event that made it through the throttler.
func EventProcessed(eventType string) {
	Collector.Counter("chatsync_events_processed_total", "Inbound events processed",
		`type="`+eventType+`"`).Inc()
}

// EventThrottled counts a silently dropped event.
func EventThrottled(eventType string) {
	Collector.Counter("chatsync_events_throttled_total", "Inbound events dropped by the throttler",
		`type="`+eventType+`"`).Inc()
}

// EventDeduplicated counts a duplicate message suppressed before throttling.
func EventDeduplicated() { dedupTotal.Inc() }

// ReconnectScheduled counts a scheduled reconnect attempt.
func ReconnectScheduled() { reconnectsTotal.Inc() }

// ConnectionUp flips the connectivity gauge on.
func ConnectionUp() { connectedGauge.Set(1) }

// ConnectionDown flips the connectivity gauge off.
func ConnectionDown() { connectedGauge.Set(0) }

// StoreSize publishes current store occupancy.
func StoreSize(conversations, messages int) {
	conversationsGauge.Set(int64(conversations))
	messagesGauge.Set(int64(messages))
}
