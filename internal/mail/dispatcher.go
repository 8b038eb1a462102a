package mail

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"collabdir/internal/core"
)

var _ core.Notifier = (*Dispatcher)(nil)

// DispatcherStats counts delivery outcomes.
type DispatcherStats struct {
	Sent    int64
	Failed  int64
	Dropped int64
}

// Dispatcher delivers notifications on a single background goroutine.
// Notify never blocks: when the queue is full the message is dropped.
type Dispatcher struct {
	mailer  core.Mailer
	logger  core.Logger
	limiter *rate.Limiter

	mu     sync.Mutex
	queue  chan core.Email
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	sent, failed, dropped atomic.Int64
}

type dispatcherConfig struct {
	queueSize int
	limit     rate.Limit
	burst     int
	logger    core.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*dispatcherConfig)

// WithQueueSize bounds the number of pending messages.
func WithQueueSize(n int) DispatcherOption {
	return func(c *dispatcherConfig) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithRate limits deliveries to perSecond messages per second. Zero or less
// removes the limit.
func WithRate(perSecond float64) DispatcherOption {
	return func(c *dispatcherConfig) {
		if perSecond <= 0 {
			c.limit = rate.Inf
			return
		}
		c.limit = rate.Limit(perSecond)
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger core.Logger) DispatcherOption {
	return func(c *dispatcherConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// NewDispatcher returns a dispatcher sending through mailer. Call Start
// before messages are delivered.
func NewDispatcher(mailer core.Mailer, opts ...DispatcherOption) *Dispatcher {
	cfg := dispatcherConfig{queueSize: 64, limit: rate.Inf, burst: 1, logger: nopLogger{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		mailer:  mailer,
		logger:  cfg.logger,
		limiter: rate.NewLimiter(cfg.limit, cfg.burst),
		queue:   make(chan core.Email, cfg.queueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins delivering queued messages.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.loop()
}

// Notify queues msg and reports whether it was accepted.
func (d *Dispatcher) Notify(_ context.Context, msg core.Email) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.dropped.Add(1)
		return false
	}
	select {
	case d.queue <- msg:
		return true
	default:
		d.dropped.Add(1)
		d.logger.Warn("mail queue full, dropping message", "to", msg.To, "subject", msg.Subject)
		return false
	}
}

// Stop stops accepting messages and waits for the queue to drain. When ctx
// ends first, pending messages are abandoned and ctx's error is returned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

// Stats returns the delivery counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Sent:    d.sent.Load(),
		Failed:  d.failed.Load(),
		Dropped: d.dropped.Load(),
	}
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for msg := range d.queue {
		if err := d.limiter.Wait(d.ctx); err != nil {
			d.dropped.Add(1)
			continue
		}
		if err := d.mailer.Send(d.ctx, msg); err != nil {
			d.failed.Add(1)
			d.logger.Error("mail delivery failed", "to", msg.To, "subject", msg.Subject, "error", err)
			continue
		}
		d.sent.Add(1)
		d.logger.Debug("mail delivered", "to", msg.To, "subject", msg.Subject)
	}
}
