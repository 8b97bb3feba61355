package authgate

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func (s *countingSink) Count() int64 {
	return s.count.Load()
}

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{gate: make(chan struct{})}
}

func (s *gateSink) Emit(context.Context, AuditEvent) {
	<-s.gate
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func collectEvents(sink *ChannelSink, until string, timeout time.Duration) []AuditEvent {
	var events []AuditEvent
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-sink.Events():
			events = append(events, ev)
			if ev.EventType == until {
				return events
			}
		case <-deadline:
			return events
		}
	}
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = false
	sink := &countingSink{}
	env := newTestEnv(t, cfg, func(b *Builder) { b.WithAuditSink(sink) })

	_, _ = env.engine.Login(context.Background(), env.session(t), "nobody", "wrong-password")
	time.Sleep(30 * time.Millisecond)

	if sink.Count() != 0 {
		t.Fatalf("expected no audit sink calls when disabled, got %d", sink.Count())
	}
}

func TestAuditEventsCarryContextAndNoSecrets(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 64
	cfg.Audit.DropIfFull = false
	sink := NewChannelSink(64)
	env := newTestEnv(t, cfg, func(b *Builder) { b.WithAuditSink(sink) })

	ctx := WithRequestID(WithClientIP(context.Background(), "198.51.100.33"), "req-1")
	if _, err := env.engine.Register(ctx, registerInput("ada", "ada@example.com")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	code := env.mailer.verificationCode(t)
	if _, err := env.engine.VerifyEmail(ctx, "ada@example.com", code); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}
	if _, err := env.engine.Login(ctx, env.session(t), "ada", "abcd1234"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	events := collectEvents(sink, auditEventLoginSuccess, 2*time.Second)
	if len(events) == 0 || events[len(events)-1].EventType != auditEventLoginSuccess {
		t.Fatalf("expected login_success event, got %+v", events)
	}

	digest := env.accounts.byUsername(t, "ada").PasswordHash
	for _, ev := range events {
		if ev.IP != "198.51.100.33" || ev.RequestID != "req-1" {
			t.Fatalf("expected context fields on %s, got ip=%q request=%q", ev.EventType, ev.IP, ev.RequestID)
		}
		for _, needle := range []string{"abcd1234", code, digest} {
			if strings.Contains(ev.Error, needle) {
				t.Fatalf("secret leaked in error of %s", ev.EventType)
			}
			for k, v := range ev.Metadata {
				if strings.Contains(k, needle) || strings.Contains(v, needle) {
					t.Fatalf("secret leaked in metadata of %s", ev.EventType)
				}
			}
		}
	}
}

func TestAuditFailureCarriesErrorCode(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 16
	sink := NewChannelSink(16)
	env := newTestEnv(t, cfg, func(b *Builder) { b.WithAuditSink(sink) })
	env.registerVerified(t, "ada", "ada@example.com")

	_, _ = env.engine.Login(context.Background(), env.session(t), "ada", "wrong-password")

	events := collectEvents(sink, auditEventLoginFailure, 2*time.Second)
	last := events[len(events)-1]
	if last.EventType != auditEventLoginFailure || last.Success {
		t.Fatalf("expected failed login event, got %+v", last)
	}
	if last.Error != string(auditErrInvalidCredentials) {
		t.Fatalf("expected %q, got %q", auditErrInvalidCredentials, last.Error)
	}
}

func TestAuditBufferFullDropIfFullTrueDoesNotBlock(t *testing.T) {
	sink := newGateSink()
	queue := newAuditQueue(AuditConfig{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: true,
	}, sink, nil)
	defer func() {
		close(sink.gate)
		queue.Close()
	}()

	queue.Emit(context.Background(), AuditEvent{EventType: "e1"})
	queue.Emit(context.Background(), AuditEvent{EventType: "e2"})

	start := time.Now()
	queue.Emit(context.Background(), AuditEvent{EventType: "e3"})
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("expected non-blocking emit when DropIfFull is true")
	}
	if queue.Dropped() == 0 {
		t.Fatal("expected dropped counter to increment when queue is full")
	}
}

func TestAuditBufferFullDropIfFullFalseBlocksUntilSpace(t *testing.T) {
	sink := newGateSink()
	queue := newAuditQueue(AuditConfig{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: false,
	}, sink, nil)
	defer func() {
		close(sink.gate)
		queue.Close()
	}()

	queue.Emit(context.Background(), AuditEvent{EventType: "e1"})
	queue.Emit(context.Background(), AuditEvent{EventType: "e2"})

	done := make(chan struct{})
	go func() {
		queue.Emit(context.Background(), AuditEvent{EventType: "e3"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected emit to block while buffer is full")
	case <-time.After(150 * time.Millisecond):
	}

	sink.gate <- struct{}{}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected blocked emit to proceed after space is available")
	}
}

func TestAuditJSONWriterSinkWritesJSONLines(t *testing.T) {
	var buf syncBuffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: auditEventLoginSuccess,
		AccountID: "acct-1",
		IP:        "127.0.0.1",
		Success:   true,
	})
	sink.Emit(context.Background(), AuditEvent{EventType: auditEventLogout})

	out := buf.String()
	if !strings.Contains(out, `"event_type":"login_success"`) || !strings.Contains(out, `"account_id":"acct-1"`) {
		t.Fatalf("unexpected JSON output %q", out)
	}
	if n := strings.Count(out, "\n"); n != 2 {
		t.Fatalf("expected two lines, got %d", n)
	}
}

func TestAuditQueueCloseIdempotentAndEmitAfterCloseSafe(t *testing.T) {
	queue := newAuditQueue(AuditConfig{
		Enabled:    true,
		BufferSize: 4,
		DropIfFull: true,
	}, &countingSink{}, nil)

	queue.Emit(context.Background(), AuditEvent{EventType: "e1"})
	queue.Close()
	queue.Close()
	queue.Emit(context.Background(), AuditEvent{EventType: "e2"})
}

type panickySink struct {
	countingSink
}

func (s *panickySink) Emit(ctx context.Context, ev AuditEvent) {
	if ev.EventType == "boom" {
		panic("sink exploded")
	}
	s.countingSink.Emit(ctx, ev)
}

func TestAuditQueueSurvivesSinkPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	sink := &panickySink{}
	queue := newAuditQueue(AuditConfig{
		Enabled:    true,
		BufferSize: 4,
	}, sink, zap.New(core))

	queue.Emit(context.Background(), AuditEvent{EventType: "boom"})
	queue.Emit(context.Background(), AuditEvent{EventType: "after"})
	queue.Close()

	if got := sink.Count(); got != 1 {
		t.Fatalf("expected the event after the panic to be delivered, got %d", got)
	}
	if n := logs.FilterMessage("audit sink panicked").Len(); n != 1 {
		t.Fatalf("expected one panic log entry, got %d", n)
	}
}

func TestAuditLoggerSinkAndMultiSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	var calls atomic.Int64
	sink := MultiSink{
		NewLoggerSink(zap.New(core)),
		nil,
		AuditSinkFunc(func(context.Context, AuditEvent) { calls.Add(1) }),
	}

	sink.Emit(context.Background(), AuditEvent{EventType: auditEventLoginSuccess, AccountID: "acct-1", Success: true})
	sink.Emit(context.Background(), AuditEvent{EventType: auditEventLoginFailure, Error: "invalid_credentials"})

	if calls.Load() != 2 {
		t.Fatalf("expected func sink to see 2 events, got %d", calls.Load())
	}
	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}
	if entries[0].Level != zap.InfoLevel || entries[0].ContextMap()["account_id"] != "acct-1" {
		t.Fatalf("unexpected success entry %+v", entries[0])
	}
	if entries[1].Level != zap.WarnLevel || entries[1].ContextMap()["error"] != "invalid_credentials" {
		t.Fatalf("unexpected failure entry %+v", entries[1])
	}
	if _, ok := entries[1].ContextMap()["account_id"]; ok {
		t.Fatal("empty fields should be omitted")
	}
}
