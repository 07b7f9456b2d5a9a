// Package metrics provides a small Prometheus-compatible metrics registry
// using only the standard library: counters, gauges, and histograms exposed
// via an HTTP /metrics endpoint in the text exposition format.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuckets are the default histogram buckets (in seconds).
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Counter is a monotonically increasing counter.
type Counter struct{ val atomic.Int64 }

func (c *Counter) Inc()         { c.val.Add(1) }
func (c *Counter) Add(n int64)  { c.val.Add(n) }
func (c *Counter) Value() int64 { return c.val.Load() }

// Gauge can go up and down.
type Gauge struct{ val atomic.Int64 }

func (g *Gauge) Set(n int64)  { g.val.Store(n) }
func (g *Gauge) Inc()         { g.val.Add(1) }
func (g *Gauge) Dec()         { g.val.Add(-1) }
func (g *Gauge) Value() int64 { return g.val.Load() }

// Histogram tracks the distribution of observed values in fixed buckets.
type Histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	h.sum += v
	h.count++
	for i, b := range h.buckets {
		if v <= b {
			h.counts[i]++
			break
		}
	}
	h.mu.Unlock()
}

// Since observes the duration since t, in seconds.
func (h *Histogram) Since(t time.Time) {
	h.Observe(time.Since(t).Seconds())
}

type kind int

const (
	kindCounter kind = iota
	kindGauge
	kindHistogram
)

type entry struct {
	name string // full name including labels
	base string
	kind kind
	help string
	c    *Counter
	g    *Gauge
	h    *Histogram
}

// Registry holds named metrics.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

func (r *Registry) lookup(name, help string, k kind) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		return e
	}
	e := &entry{name: name, base: baseName(name), kind: k, help: help}
	switch k {
	case kindCounter:
		e.c = &Counter{}
	case kindGauge:
		e.g = &Gauge{}
	case kindHistogram:
		buckets := make([]float64, len(DefaultBuckets))
		copy(buckets, DefaultBuckets)
		e.h = &Histogram{buckets: buckets, counts: make([]uint64, len(buckets))}
	}
	r.entries[name] = e
	r.order = append(r.order, name)
	return e
}

// Counter returns (or creates) a counter. Label pairs are baked into the
// name via WithLabels, so each label combination is a distinct series.
func (r *Registry) Counter(name, help string) *Counter {
	return r.lookup(name, help, kindCounter).c
}

// Gauge returns (or creates) a gauge.
func (r *Registry) Gauge(name, help string) *Gauge {
	return r.lookup(name, help, kindGauge).g
}

// Histogram returns (or creates) a histogram with the default buckets.
func (r *Registry) Histogram(name, help string) *Histogram {
	return r.lookup(name, help, kindHistogram).h
}

// WithLabels appends label pairs to a metric name:
// WithLabels("foo", "k", "v") => `foo{k="v"}`.
func WithLabels(name string, kvs ...string) string {
	if len(kvs) == 0 || len(kvs)%2 != 0 {
		return name
	}
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i := 0; i < len(kvs); i += 2 {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", kvs[i], kvs[i+1])
	}
	b.WriteByte('}')
	return b.String()
}

func baseName(name string) string {
	if idx := strings.IndexByte(name, '{'); idx != -1 {
		return name[:idx]
	}
	return name
}

func labelSuffix(name string) string {
	idx := strings.IndexByte(name, '{')
	if idx == -1 {
		return ""
	}
	return name[idx+1 : len(name)-1]
}

// Render returns the Prometheus text exposition format output.
func (r *Registry) Render() string {
	r.mu.RLock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	entries := make(map[string]*entry, len(r.entries))
	for k, v := range r.entries {
		entries[k] = v
	}
	r.mu.RUnlock()

	var b strings.Builder
	headered := make(map[string]bool)
	sort.Strings(names)

	for _, n := range names {
		e := entries[n]
		if !headered[e.base] {
			headered[e.base] = true
			if e.help != "" {
				fmt.Fprintf(&b, "# HELP %s %s\n", e.base, e.help)
			}
			switch e.kind {
			case kindCounter:
				fmt.Fprintf(&b, "# TYPE %s counter\n", e.base)
			case kindGauge:
				fmt.Fprintf(&b, "# TYPE %s gauge\n", e.base)
			case kindHistogram:
				fmt.Fprintf(&b, "# TYPE %s histogram\n", e.base)
			}
		}

		switch e.kind {
		case kindCounter:
			fmt.Fprintf(&b, "%s %d\n", e.name, e.c.Value())
		case kindGauge:
			fmt.Fprintf(&b, "%s %d\n", e.name, e.g.Value())
		case kindHistogram:
			e.h.mu.Lock()
			labels := labelSuffix(e.name)
			extra := ""
			if labels != "" {
				extra = "," + labels
			}
			cumulative := uint64(0)
			for i, bk := range e.h.buckets {
				cumulative += e.h.counts[i]
				fmt.Fprintf(&b, "%s_bucket{le=\"%g\"%s} %d\n", e.base, bk, extra, cumulative)
			}
			fmt.Fprintf(&b, "%s_bucket{le=\"+Inf\"%s} %d\n", e.base, extra, e.h.count)
			if labels != "" {
				fmt.Fprintf(&b, "%s_sum{%s} %g\n", e.base, labels, e.h.sum)
				fmt.Fprintf(&b, "%s_count{%s} %d\n", e.base, labels, e.h.count)
			} else {
				fmt.Fprintf(&b, "%s_sum %g\n", e.base, e.h.sum)
				fmt.Fprintf(&b, "%s_count %d\n", e.base, e.h.count)
			}
			e.h.mu.Unlock()
		}
	}
	return b.String()
}

// Handler returns an http.Handler serving the rendered metrics.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.Write([]byte(r.Render()))
	})
}

// Serve starts an HTTP server on the given port serving /metrics.
func (r *Registry) Serve(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok\n"))
	})
	return http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}

// ServeAsync starts the metrics server in a goroutine. Errors are printed.
func (r *Registry) ServeAsync(port int) {
	go func() {
		if err := r.Serve(port); err != nil {
			fmt.Printf("metrics server error on port %d: %v\n", port, err)
		}
	}()
}
