package authgate

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AuditEvent is one security-relevant state transition. It never carries
// passwords, digests, token values or TOTP secrets.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	AccountID string            `json:"account_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives events from a single goroutine. Implementations that
// are shared elsewhere must do their own locking.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// AuditSinkFunc adapts a plain function to AuditSink.
type AuditSinkFunc func(ctx context.Context, event AuditEvent)

func (f AuditSinkFunc) Emit(ctx context.Context, event AuditEvent) { f(ctx, event) }

type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

// MultiSink fans each event out to every sink in order.
type MultiSink []AuditSink

func (m MultiSink) Emit(ctx context.Context, event AuditEvent) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, event)
		}
	}
}

// ChannelSink exposes events on a channel. Emit blocks until the event is
// taken or ctx is done.
type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{events: make(chan AuditEvent, max(buffer, 1))}
}

func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes one JSON object per line. Write errors are dropped.
type JSONWriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	if w == nil {
		return &JSONWriterSink{}
	}
	return &JSONWriterSink{enc: json.NewEncoder(w)}
}

func (s *JSONWriterSink) Emit(_ context.Context, event AuditEvent) {
	if s == nil || s.enc == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(event)
}

// LoggerSink writes events through zap at Info, or Warn for failures.
type LoggerSink struct {
	log *zap.Logger
}

func NewLoggerSink(log *zap.Logger) *LoggerSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &LoggerSink{log: log.Named("audit")}
}

func (s *LoggerSink) Emit(_ context.Context, event AuditEvent) {
	fields := make([]zap.Field, 0, 8)
	fields = append(fields,
		zap.Time("timestamp", event.Timestamp),
		zap.Bool("success", event.Success),
	)
	for _, kv := range [...][2]string{
		{"account_id", event.AccountID},
		{"session_id", event.SessionID},
		{"ip", event.IP},
		{"request_id", event.RequestID},
		{"error", event.Error},
	} {
		if kv[1] != "" {
			fields = append(fields, zap.String(kv[0], kv[1]))
		}
	}
	if len(event.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", event.Metadata))
	}

	if event.Success {
		s.log.Info(event.EventType, fields...)
		return
	}
	s.log.Warn(event.EventType, fields...)
}
