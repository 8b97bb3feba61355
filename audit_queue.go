package authgate

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// auditQueue decouples flows from sink latency. One worker owns the sink;
// producers only ever touch the channel.
type auditQueue struct {
	sink       AuditSink
	dropIfFull bool
	log        *zap.Logger

	events  chan AuditEvent
	quit    chan struct{}
	worker  sync.WaitGroup
	stopped atomic.Bool
	stop    sync.Once
	dropped atomic.Uint64
}

// newAuditQueue returns nil when auditing is off; a nil queue accepts and
// discards everything.
func newAuditQueue(cfg AuditConfig, sink AuditSink, log *zap.Logger) *auditQueue {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	q := &auditQueue{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		log:        log,
		events:     make(chan AuditEvent, max(cfg.BufferSize, 1)),
		quit:       make(chan struct{}),
	}
	q.worker.Go(q.loop)
	return q
}

func (q *auditQueue) loop() {
	for {
		select {
		case ev := <-q.events:
			q.deliver(ev)
		case <-q.quit:
			q.flush()
			return
		}
	}
}

// flush hands over whatever is still buffered after Close.
func (q *auditQueue) flush() {
	for {
		select {
		case ev := <-q.events:
			q.deliver(ev)
		default:
			return
		}
	}
}

func (q *auditQueue) deliver(ev AuditEvent) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("audit sink panicked",
				zap.String("event_type", ev.EventType),
				zap.Any("panic", r),
			)
		}
	}()
	q.sink.Emit(context.Background(), ev)
}

// Emit enqueues ev. In drop mode a full buffer loses the event and bumps
// Dropped; otherwise Emit waits for space, ctx, or Close.
func (q *auditQueue) Emit(ctx context.Context, ev AuditEvent) {
	if q == nil || q.stopped.Load() {
		return
	}

	if q.dropIfFull {
		select {
		case q.events <- ev:
		case <-q.quit:
		default:
			q.dropped.Add(1)
		}
		return
	}

	var cancelled <-chan struct{}
	if ctx != nil {
		cancelled = ctx.Done()
	}
	select {
	case q.events <- ev:
	case <-cancelled:
	case <-q.quit:
	}
}

// Close is idempotent. Buffered events reach the sink before it returns.
func (q *auditQueue) Close() {
	if q == nil {
		return
	}
	q.stop.Do(func() {
		q.stopped.Store(true)
		close(q.quit)
		q.worker.Wait()
	})
}

func (q *auditQueue) Dropped() uint64 {
	if q == nil {
		return 0
	}
	return q.dropped.Load()
}
