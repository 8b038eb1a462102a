package core

import (
	"context"
	"expvar"
	"fmt"
	"sync"
	"time"
)

// ExpvarMetricsRecorder publishes one expvar map keyed by operation. Each
// operation entry holds calls, failures, total_ms and max_ms, so
// /debug/vars shows them without a Prometheus server.
type ExpvarMetricsRecorder struct {
	name string
	ops  *expvar.Map

	mu  sync.Mutex
	max map[string]*expvar.Float
}

var expvarNames sync.Mutex

// NewExpvarMetricsRecorder publishes under name. A blank or already
// published name gets a numeric suffix; Name reports the one used.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		name = "collabdir_operations"
	}
	r := &ExpvarMetricsRecorder{ops: new(expvar.Map).Init(), max: map[string]*expvar.Float{}}

	expvarNames.Lock()
	defer expvarNames.Unlock()
	r.name = name
	for n := 2; expvar.Get(r.name) != nil; n++ {
		r.name = fmt.Sprintf("%s_%d", name, n)
	}
	expvar.Publish(r.name, r.ops)
	return r
}

// Name is the published expvar name.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Observe implements MetricsRecorder.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	ms := float64(duration) / float64(time.Millisecond)

	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops.Get(operation).(*expvar.Map)
	if !ok {
		op = new(expvar.Map).Init()
		op.Add("failures", 0)
		r.max[operation] = new(expvar.Float)
		op.Set("max_ms", r.max[operation])
		r.ops.Set(operation, op)
	}
	op.Add("calls", 1)
	if !success {
		op.Add("failures", 1)
	}
	op.AddFloat("total_ms", ms)
	if m := r.max[operation]; ms > m.Value() {
		m.Set(ms)
	}
}
