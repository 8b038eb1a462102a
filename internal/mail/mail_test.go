package mail

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	gomail "gopkg.in/mail.v2"

	"collabdir/internal/core"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []core.Email
	err  error
}

func (r *recordingMailer) Send(_ context.Context, msg core.Email) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingMailer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type blockingMailer struct{}

func (blockingMailer) Send(ctx context.Context, _ core.Email) error {
	<-ctx.Done()
	return ctx.Err()
}

type countingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (c *countingLogger) add(level, msg string) {
	c.mu.Lock()
	c.lines = append(c.lines, level+":"+msg)
	c.mu.Unlock()
}

func (c *countingLogger) Debug(msg string, _ ...any) { c.add("d", msg) }
func (c *countingLogger) Info(msg string, _ ...any)  { c.add("i", msg) }
func (c *countingLogger) Warn(msg string, _ ...any)  { c.add("w", msg) }
func (c *countingLogger) Error(msg string, _ ...any) { c.add("e", msg) }

func TestDispatcherDeliversQueuedMessagesOnStop(t *testing.T) {
	defer goleak.VerifyNone(t)
	mailer := &recordingMailer{}
	d := NewDispatcher(mailer, WithQueueSize(8))
	d.Start()

	for i := 0; i < 5; i++ {
		if !d.Notify(context.Background(), core.Email{To: "admin@lab.org", Subject: "new request"}) {
			t.Fatalf("expected message %d to be accepted", i)
		}
	}
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if mailer.count() != 5 || d.Stats().Sent != 5 {
		t.Fatalf("expected 5 delivered, got %d (%+v)", mailer.count(), d.Stats())
	}
	if d.Notify(context.Background(), core.Email{To: "late@lab.org"}) {
		t.Fatalf("expected notify after stop to be refused")
	}
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	defer goleak.VerifyNone(t)
	mailer := &recordingMailer{}
	logger := &countingLogger{}
	d := NewDispatcher(mailer, WithQueueSize(1), WithLogger(logger))

	if !d.Notify(context.Background(), core.Email{To: "a@lab.org"}) {
		t.Fatalf("expected first message accepted")
	}
	if d.Notify(context.Background(), core.Email{To: "b@lab.org"}) {
		t.Fatalf("expected second message dropped")
	}
	d.Start()
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	stats := d.Stats()
	if stats.Sent != 1 || stats.Dropped != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(logger.lines) == 0 || logger.lines[0] != "w:mail queue full, dropping message" {
		t.Fatalf("expected drop warning, got %v", logger.lines)
	}
}

func TestDispatcherCountsFailures(t *testing.T) {
	defer goleak.VerifyNone(t)
	logger := &countingLogger{}
	d := NewDispatcher(&recordingMailer{err: errors.New("relay down")}, WithLogger(logger), WithRate(1000))
	d.Start()
	d.Notify(context.Background(), core.Email{To: "a@lab.org"})
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if d.Stats().Failed != 1 {
		t.Fatalf("expected one failure, got %+v", d.Stats())
	}
	found := false
	for _, line := range logger.lines {
		if line == "e:mail delivery failed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected failure logged, got %v", logger.lines)
	}
}

func TestDispatcherStopHonorsDeadline(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := NewDispatcher(blockingMailer{})
	d.Start()
	d.Notify(context.Background(), core.Email{To: "a@lab.org"})
	d.Notify(context.Background(), core.Email{To: "b@lab.org"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if d.Stats().Sent != 0 {
		t.Fatalf("expected nothing delivered, got %+v", d.Stats())
	}
}

func TestSMTPSenderBuildsMessage(t *testing.T) {
	if _, err := NewSMTPSender(SMTPConfig{From: "x@lab.org"}); err == nil {
		t.Fatalf("expected host requirement")
	}
	if _, err := NewSMTPSender(SMTPConfig{Host: "smtp.lab.org"}); err == nil {
		t.Fatalf("expected from requirement")
	}
	sender, err := NewSMTPSender(SMTPConfig{Host: "smtp.lab.org", From: "directory@lab.org"})
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	var got *gomail.Message
	sender.send = func(m *gomail.Message) error {
		got = m
		return nil
	}

	err = sender.Send(context.Background(), core.Email{To: " jane@lab.org ", Subject: "Invitation", Body: "Hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got == nil || got.GetHeader("To")[0] != "jane@lab.org" || got.GetHeader("From")[0] != "directory@lab.org" {
		t.Fatalf("unexpected headers: %v %v", got.GetHeader("To"), got.GetHeader("From"))
	}
	if got.GetHeader("Subject")[0] != "Invitation" {
		t.Fatalf("unexpected subject %v", got.GetHeader("Subject"))
	}

	if err := sender.Send(context.Background(), core.Email{To: "  "}); err == nil {
		t.Fatalf("expected recipient requirement")
	}
	sender.send = func(*gomail.Message) error { return errors.New("421 busy") }
	if err := sender.Send(context.Background(), core.Email{To: "jane@lab.org"}); err == nil || !strings.Contains(err.Error(), "jane@lab.org") {
		t.Fatalf("expected wrapped relay error, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sender.Send(ctx, core.Email{To: "jane@lab.org"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestLogSender(t *testing.T) {
	logger := &countingLogger{}
	if err := (LogSender{Logger: logger}).Send(context.Background(), core.Email{To: "a@lab.org"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := (LogSender{}).Send(context.Background(), core.Email{}); err != nil {
		t.Fatalf("send without logger: %v", err)
	}
	if len(logger.lines) != 1 || logger.lines[0] != "i:mail" {
		t.Fatalf("unexpected log lines %v", logger.lines)
	}
}
