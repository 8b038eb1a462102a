package core

import (
	"context"
	"time"
)

// Logger is the structured logger used by the service. Arguments after msg
// are alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// MetricsRecorder observes the outcome and latency of service operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts a span around a service operation.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended exactly once with the operation's error, if any.
type TraceSpan interface {
	End(err error)
}

// AuditStatus is the outcome recorded for an audited operation.
type AuditStatus string

// Audit outcomes.
const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry describes one mutating operation.
type AuditEntry struct {
	Operation string
	Status    AuditStatus
	Actor     string
	EntityID  string
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives an entry for every mutating operation.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

// LogAuditRecorder logs audit entries; failures are logged as warnings.
type LogAuditRecorder struct {
	Logger Logger
}

// Record implements AuditRecorder.
func (r LogAuditRecorder) Record(_ context.Context, e AuditEntry) {
	if r.Logger == nil {
		return
	}
	fields := []any{"op", e.Operation, "actor", e.Actor, "entity", e.EntityID, "duration", e.Duration}
	if e.Status == AuditStatusError {
		r.Logger.Warn("audit", append(fields, "status", string(e.Status), "error", e.Error)...)
		return
	}
	r.Logger.Info("audit", append(fields, "status", string(e.Status))...)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

type noopAudit struct{}

func (noopAudit) Record(context.Context, AuditEntry) {}

// RosterBaseline selects what a PI's roster edit is diffed against.
type RosterBaseline int

const (
	// BaselineSnapshot diffs against the target's lists as loaded at the start
	// of the request.
	BaselineSnapshot RosterBaseline = iota
	// BaselineReload re-reads the stored table before diffing. It is the
	// default.
	BaselineReload
)

type serviceOptions struct {
	clock            Clock
	logger           Logger
	metrics          MetricsRecorder
	tracer           Tracer
	audit            AuditRecorder
	mailer           Mailer
	notifier         Notifier
	baseline         RosterBaseline
	contactEmail     string
	inactiveNotices  bool
	notifyRecipients []string
	picturePrefix    string
	requestPrefix    string
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceOptions)

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		clock:         ClockFunc(func() time.Time { return time.Now().UTC() }),
		logger:        noopLogger{},
		metrics:       noopMetrics{},
		tracer:        noopTracer{},
		audit:         noopAudit{},
		mailer:        noopMailer{},
		notifier:      noopNotifier{},
		baseline:      BaselineReload,
		contactEmail:  "npnlusc@gmail.com",
		picturePrefix: "profile_pictures/",
		requestPrefix: "data_requests/",
	}
}

// WithClock overrides the service clock.
func WithClock(clock Clock) ServiceOption {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetricsRecorder sets the metrics recorder.
func WithMetricsRecorder(metrics MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithAuditRecorder sets the audit recorder.
func WithAuditRecorder(audit AuditRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if audit != nil {
			o.audit = audit
		}
	}
}

// WithMailer sets the synchronous mail sender used for invitations.
func WithMailer(mailer Mailer) ServiceOption {
	return func(o *serviceOptions) {
		if mailer != nil {
			o.mailer = mailer
		}
	}
}

// WithNotifier sets the asynchronous sender used for notifications.
func WithNotifier(notifier Notifier) ServiceOption {
	return func(o *serviceOptions) {
		if notifier != nil {
			o.notifier = notifier
		}
	}
}

// WithRosterBaseline selects the baseline for PI roster edits.
func WithRosterBaseline(baseline RosterBaseline) ServiceOption {
	return func(o *serviceOptions) { o.baseline = baseline }
}

// WithContactEmail sets the address quoted in access-denied messages.
func WithContactEmail(email string) ServiceOption {
	return func(o *serviceOptions) {
		if email != "" {
			o.contactEmail = email
		}
	}
}

// WithInactiveNotices enables the notice email sent when an inactive
// collaborator signs in.
func WithInactiveNotices(enabled bool) ServiceOption {
	return func(o *serviceOptions) { o.inactiveNotices = enabled }
}

// WithNotifyRecipients sets the fallback recipients for data-request
// notifications when no data-request admin is configured.
func WithNotifyRecipients(recipients ...string) ServiceOption {
	return func(o *serviceOptions) {
		o.notifyRecipients = append([]string(nil), recipients...)
	}
}

// WithObjectPrefixes overrides the key prefixes for profile pictures and
// data requests.
func WithObjectPrefixes(pictures, requests string) ServiceOption {
	return func(o *serviceOptions) {
		if pictures != "" {
			o.picturePrefix = ensureSlash(pictures)
		}
		if requests != "" {
			o.requestPrefix = ensureSlash(requests)
		}
	}
}

func ensureSlash(prefix string) string {
	if prefix[len(prefix)-1] != '/' {
		return prefix + "/"
	}
	return prefix
}
