// Package metrics exposes popoutchat's counters, gauges and histograms in
// the Prometheus text exposition format without pulling in client_golang.
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

// Default is the process-wide registry used by the predefined metrics.
var Default = NewRegistry()

// Registry aggregates counters, gauges, and histograms keyed by name and
// label set.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
	startTime  time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
		startTime:  time.Now(),
	}
}

// Uptime returns how long the registry has existed.
func (r *Registry) Uptime() time.Duration {
	return time.Since(r.startTime)
}

// Labels renders key/value pairs as a Prometheus label list, e.g.
// Labels("action", "sendMessage") == `action="sendMessage"`.
func Labels(kv ...string) string {
	var sb strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(kv[i])
		sb.WriteString(`="`)
		sb.WriteString(labelEscaper.Replace(kv[i+1]))
		sb.WriteByte('"')
	}
	return sb.String()
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (c *Counter) Inc() { c.value.Add(1) }
func (c *Counter) Add(n int64) { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (g *Gauge) Set(v int64) { g.value.Store(v) }
func (g *Gauge) Inc() { g.value.Add(1) }
func (g *Gauge) Dec() { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of observed values. Bucket counts are
// cumulative; an implicit +Inf bucket equals the total count.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	bounds  []float64
	buckets []int64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.buckets[i]++
		}
	}
}

// ObserveDuration records d in seconds.
func (h *Histogram) ObserveDuration(d time.Duration) { h.Observe(d.Seconds()) }

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func metricKey(name, labels string) string { return name + "{" + labels + "}" }

// Counter returns or creates the counter for name and labels.
func (r *Registry) Counter(name, help, labels string) *Counter {
	key := metricKey(name, labels)
	r.mu.RLock()
	c, ok := r.counters[key]
	r.mu.RUnlock()
	if ok {
		return c
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[key]; ok {
		return c
	}
	c = &Counter{name: name, help: help, labels: labels}
	r.counters[key] = c
	return c
}

// Gauge returns or creates the gauge for name and labels.
func (r *Registry) Gauge(name, help, labels string) *Gauge {
	key := metricKey(name, labels)
	r.mu.RLock()
	g, ok := r.gauges[key]
	r.mu.RUnlock()
	if ok {
		return g
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[key]; ok {
		return g
	}
	g = &Gauge{name: name, help: help, labels: labels}
	r.gauges[key] = g
	return g
}

// Histogram returns or creates the histogram for name and labels. Buckets
// are only consulted on creation.
func (r *Registry) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := metricKey(name, labels)
	r.mu.RLock()
	h, ok := r.histograms[key]
	r.mu.RUnlock()
	if ok {
		return h
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[key]; ok {
		return h
	}
	bounds := append([]float64(nil), buckets...)
	sort.Float64s(bounds)
	h = &Histogram{name: name, help: help, labels: labels, bounds: bounds, buckets: make([]int64, len(bounds))}
	r.histograms[key] = h
	return h
}

// WriteText renders every metric in Prometheus text format. Output is
// sorted by metric name and label set so scrapes are stable.
func (r *Registry) WriteText(w io.Writer) error {
	var sb strings.Builder

	sb.WriteString("# HELP popoutchat_uptime_seconds Time since start in seconds\n")
	sb.WriteString("# TYPE popoutchat_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "popoutchat_uptime_seconds %d\n", int64(r.Uptime().Seconds()))

	r.mu.RLock()
	defer r.mu.RUnlock()

	header := func(name, help, typ string, written map[string]bool) {
		if written[name] {
			return
		}
		written[name] = true
		fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, typ)
	}
	sample := func(name, labels string, value string) {
		if labels != "" {
			fmt.Fprintf(&sb, "%s{%s} %s\n", name, labels, value)
		} else {
			fmt.Fprintf(&sb, "%s %s\n", name, value)
		}
	}

	written := map[string]bool{}
	for _, key := range sortedKeys(r.counters) {
		c := r.counters[key]
		header(c.name, c.help, "counter", written)
		sample(c.name, c.labels, fmt.Sprint(c.Value()))
	}
	for _, key := range sortedKeys(r.gauges) {
		g := r.gauges[key]
		header(g.name, g.help, "gauge", written)
		sample(g.name, g.labels, fmt.Sprint(g.Value()))
	}
	for _, key := range sortedKeys(r.histograms) {
		h := r.histograms[key]
		header(h.name, h.help, "histogram", written)
		h.mu.Lock()
		sep := ""
		if h.labels != "" {
			sep = h.labels + ","
		}
		for i, le := range h.bounds {
			bound := fmt.Sprintf("%g", le)
			if math.IsInf(le, 1) {
				bound = "+Inf"
			}
			fmt.Fprintf(&sb, "%s_bucket{%sle=\"%s\"} %d\n", h.name, sep, bound, h.buckets[i])
		}
		fmt.Fprintf(&sb, "%s_bucket{%sle=\"+Inf\"} %d\n", h.name, sep, h.count)
		sample(h.name+"_sum", h.labels, fmt.Sprintf("%f", h.sum))
		sample(h.name+"_count", h.labels, fmt.Sprint(h.count))
		h.mu.Unlock()
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

// Handler serves the registry over HTTP.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_ = r.WriteText(w)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// --- Metrics used across popoutchat ---

var (
	SessionsStarted = Default.Counter("popoutchat_sessions_started_total", "Conversation sessions generated", "")
	MessagesSent    = Default.Counter("popoutchat_messages_sent_total", "Visitor messages forwarded to the webhook", "")
	RateLimited     = Default.Counter("popoutchat_rate_limited_total", "Widget requests rejected by the rate limiter", "")

	ActiveMounts         = Default.Gauge("popoutchat_active_mounts", "Widget mounts currently held by the gateway", "")
	WebsocketConnections = Default.Gauge("popoutchat_websocket_connections", "Open transcript websocket connections", "")

	WebhookLatency = Default.Histogram("popoutchat_webhook_latency_seconds", "Webhook round trip latency in seconds", "",
		[]float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60})
)

// WebhookRequest counts one webhook call by action and outcome kind.
func WebhookRequest(action, outcome string) *Counter {
	return Default.Counter("popoutchat_webhook_requests_total", "Webhook calls by action and outcome",
		Labels("action", action, "outcome", outcome))
}
