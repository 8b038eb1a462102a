package core

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// JSONTraceEntry is one finished operation span.
type JSONTraceEntry struct {
	Operation  string    `json:"operation"`
	Status     string    `json:"status"`
	Kind       Kind      `json:"kind,omitempty"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// JSONTraceTracer writes each finished span as a JSON line and remembers
// the last few in a ring.
type JSONTraceTracer struct {
	mu   sync.Mutex
	out  *json.Encoder
	ring []JSONTraceEntry
	next int
	full bool
	now  func() time.Time
}

// NewJSONTracer writes spans to w when it is non-nil and keeps the latest
// keep spans (at least one).
func NewJSONTracer(w io.Writer, keep int) *JSONTraceTracer {
	t := &JSONTraceTracer{ring: make([]JSONTraceEntry, max(keep, 1)), now: time.Now}
	if w != nil {
		t.out = json.NewEncoder(w)
	}
	return t
}

// Start implements Tracer.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonSpan{tracer: t, operation: operation, started: t.now().UTC()}
}

// Entries returns the kept spans, oldest first.
func (t *JSONTraceTracer) Entries() []JSONTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.full {
		return append([]JSONTraceEntry(nil), t.ring[:t.next]...)
	}
	return append(append([]JSONTraceEntry(nil), t.ring[t.next:]...), t.ring[:t.next]...)
}

func (t *JSONTraceTracer) finish(e JSONTraceEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ring[t.next] = e
	t.next = (t.next + 1) % len(t.ring)
	t.full = t.full || t.next == 0
	if t.out != nil {
		_ = t.out.Encode(e)
	}
}

type jsonSpan struct {
	tracer    *JSONTraceTracer
	operation string
	started   time.Time
}

func (s *jsonSpan) End(err error) {
	e := JSONTraceEntry{
		Operation:  s.operation,
		Status:     "success",
		DurationMS: float64(s.tracer.now().Sub(s.started)) / float64(time.Millisecond),
		StartedAt:  s.started,
	}
	if err != nil {
		e.Status = "error"
		e.Kind = Classify(err)
		e.Error = err.Error()
	}
	s.tracer.finish(e)
}
