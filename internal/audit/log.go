package audit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gatekeeper/internal/infrastructure/logging"
)

// DefaultBufferSize is the capacity of the event queue.
const DefaultBufferSize = 256

// sinkTimeout bounds a single sink write.
const sinkTimeout = 5 * time.Second

// Emitter accepts audit events. Implementations must not block or panic.
type Emitter interface {
	Emit(Event)
}

// Sink is a destination for events.
type Sink interface {
	Name() string
	Write(ctx context.Context, ev Event) error
}

// Nop discards events.
type Nop struct{}

// Emit discards ev.
func (Nop) Emit(Event) {}

// Log queues events and fans them out to sinks from a single goroutine.
type Log struct {
	sinks   []Sink
	ch      chan Event
	logger  *logging.Logger
	now     func() time.Time
	dropped atomic.Int64
}

// LogOption configures a Log.
type LogOption func(*Log)

// WithBufferSize sets the queue capacity.
func WithBufferSize(n int) LogOption {
	return func(l *Log) {
		if n > 0 {
			l.ch = make(chan Event, n)
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) LogOption {
	return func(l *Log) { l.now = now }
}

// NewLog creates a Log writing to sinks. Run must be started to drain it.
func NewLog(logger *logging.Logger, sinks []Sink, opts ...LogOption) *Log {
	l := &Log{
		sinks:  sinks,
		ch:     make(chan Event, DefaultBufferSize),
		logger: logger.With("component", "audit"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Emit stamps ev and queues it. A full queue drops the event with a warning
// so the caller is never held up.
func (l *Log) Emit(ev Event) {
	if ev.ID == "" {
		ev.ID = "aud-" + uuid.NewString()[:8]
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now().UTC()
	}

	select {
	case l.ch <- ev:
	default:
		l.dropped.Add(1)
		l.logger.Warn("audit queue full, event dropped",
			"event_type", ev.Kind,
			"severity", ev.Severity,
		)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (l *Log) Dropped() int64 {
	return l.dropped.Load()
}

// Run writes queued events until ctx is cancelled, then flushes whatever is
// still queued and returns.
func (l *Log) Run(ctx context.Context) {
	for {
		select {
		case ev := <-l.ch:
			l.write(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-l.ch:
					l.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (l *Log) write(ev Event) {
	for _, sink := range l.sinks {
		if err := l.writeSink(sink, ev); err != nil {
			l.logger.Error("audit sink write failed",
				"sink", sink.Name(),
				"event_id", ev.ID,
				"event_type", ev.Kind,
				"error", err,
			)
		}
	}
}

// writeSink isolates one sink so a panic there cannot stop the drain loop.
func (l *Log) writeSink(sink Sink, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	return sink.Write(ctx, ev)
}
