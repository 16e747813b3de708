// Package metrics renders relay counters in the Prometheus text exposition
// format.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Default is the process-wide registry.
var Default = NewRegistry()

// Registry holds named counters, gauges and histograms.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
	started    time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
		started:    time.Now(),
	}
}

type series struct {
	name   string
	help   string
	labels string
}

func (s series) key() string { return s.name + "{" + s.labels + "}" }

// Counter only goes up.
type Counter struct {
	series
	value atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge can go up and down.
type Gauge struct {
	series
	value atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram counts observations into cumulative buckets.
type Histogram struct {
	series
	mu     sync.Mutex
	bounds []float64
	counts []int64
	count  int64
	sum    float64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.counts[i]++
		}
	}
}

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Counter returns the counter for name/labels, creating it if needed.
func (r *Registry) Counter(name, help, labels string) *Counter {
	s := series{name: name, help: help, labels: labels}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[s.key()]; ok {
		return c
	}
	c := &Counter{series: s}
	r.counters[s.key()] = c
	return c
}

// Gauge returns the gauge for name/labels, creating it if needed.
func (r *Registry) Gauge(name, help, labels string) *Gauge {
	s := series{name: name, help: help, labels: labels}
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[s.key()]; ok {
		return g
	}
	g := &Gauge{series: s}
	r.gauges[s.key()] = g
	return g
}

// Histogram returns the histogram for name/labels, creating it if needed.
func (r *Registry) Histogram(name, help, labels string, buckets []float64) *Histogram {
	s := series{name: name, help: help, labels: labels}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[s.key()]; ok {
		return h
	}
	bounds := append([]float64(nil), buckets...)
	sort.Float64s(bounds)
	h := &Histogram{series: s, bounds: bounds, counts: make([]int64, len(bounds))}
	r.histograms[s.key()] = h
	return h
}

// Handler serves the registry in Prometheus text format.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WriteTo(w)
	}
}

// WriteTo writes all series, sorted by name, to w.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP chatrelay_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE chatrelay_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "chatrelay_uptime_seconds %d\n", int64(time.Since(r.started).Seconds()))

	r.mu.RLock()
	counters := sortedValues(r.counters)
	gauges := sortedValues(r.gauges)
	histograms := sortedValues(r.histograms)
	r.mu.RUnlock()

	written := make(map[string]bool)
	header := func(s series, kind string) {
		if written[s.name] {
			return
		}
		written[s.name] = true
		fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s %s\n", s.name, s.help, s.name, kind)
	}

	for _, c := range counters {
		header(c.series, "counter")
		fmt.Fprintf(&sb, "%s %d\n", sampleName(c.name, c.labels), c.Value())
	}
	for _, g := range gauges {
		header(g.series, "gauge")
		fmt.Fprintf(&sb, "%s %d\n", sampleName(g.name, g.labels), g.Value())
	}
	for _, h := range histograms {
		header(h.series, "histogram")
		h.mu.Lock()
		for i, le := range h.bounds {
			bound := fmt.Sprintf("%g", le)
			if math.IsInf(le, 1) {
				bound = "+Inf"
			}
			labels := `le="` + bound + `"`
			if h.labels != "" {
				labels = h.labels + "," + labels
			}
			fmt.Fprintf(&sb, "%s_bucket{%s} %d\n", h.name, labels, h.counts[i])
		}
		fmt.Fprintf(&sb, "%s %d\n", sampleName(h.name+"_count", h.labels), h.count)
		fmt.Fprintf(&sb, "%s %f\n", sampleName(h.name+"_sum", h.labels), h.sum)
		h.mu.Unlock()
	}

	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

func sampleName(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

func sortedValues[T any](m map[string]T) []T {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

// --- Relay metrics ---

var (
	InboundEvents     = Default.Counter("chatrelay_inbound_events_total", "Inbound chat events received", "")
	FallbackReplies   = Default.Counter("chatrelay_fallback_replies_total", "Generic error replies sent after a pipeline failure", "")
	TransportFailures = Default.Counter("chatrelay_webhook_failures_total", "Webhook calls that failed", "")
	RepliesSent       = Default.Counter("chatrelay_replies_sent_total", "Replies delivered to the messenger", "")
	DispatchFailures  = Default.Counter("chatrelay_reply_failures_total", "Replies the messenger rejected", "")
	UnhandledStatuses = Default.Counter("chatrelay_unhandled_status_total", "Backend responses with an unrecognized status", "")
	AttachmentsStored = Default.Counter("chatrelay_attachments_stored_total", "Attachments written to disk", "")
	AttachmentBytes   = Default.Counter("chatrelay_attachment_bytes_total", "Attachment bytes written to disk", "")
	DroppedEvents     = Default.Counter("chatrelay_dropped_events_total", "Queued events discarded on shutdown", "")
	InFlight          = Default.Gauge("chatrelay_events_in_flight", "Events currently being processed", "")
	MessengerReady    = Default.Gauge("chatrelay_messenger_ready", "1 when the messenger is connected", "")

	WebhookLatency = Default.Histogram("chatrelay_webhook_latency_seconds", "Webhook round-trip latency in seconds", "",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 90})
)
