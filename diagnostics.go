package callz

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DiagnosticSink receives a single Flush when the retry loop of an
// invocation exits. A sink never fails the invocation; panics are swallowed.
type DiagnosticSink interface {
	Flush()
}

// EventRecorder is implemented by sinks that also collect per-invocation
// events as they happen.
type EventRecorder interface {
	Record(DiagnosticEvent)
}

// DiagnosticKind names what a DiagnosticEvent describes.
type DiagnosticKind string

// Diagnostic event kinds.
const (
	EventAttempt       DiagnosticKind = "attempt"
	EventRetryDecision DiagnosticKind = "retry_decision"
	EventRetryDelay    DiagnosticKind = "retry_delay"
)

// DiagnosticEvent is one entry collected during an invocation.
type DiagnosticEvent struct {
	Time         time.Time
	Err          error
	InvocationID string
	Kind         DiagnosticKind
	Decision     string
	Attempt      int
	Duration     time.Duration
	Phase        Phase
}

// EventLog buffers diagnostic events and writes them through a zerolog
// logger when flushed.
//
// Example:
//
//	logger := zerolog.New(os.Stderr).With().Timestamp().Str("app", "client").Logger()
//	sink := callz.NewEventLog(logger)
//	cfg.Diagnostics = sink
type EventLog struct {
	logger  zerolog.Logger
	events  []DiagnosticEvent
	flushes int
	mu      sync.Mutex
}

// NewEventLog creates an EventLog writing to logger.
func NewEventLog(logger zerolog.Logger) *EventLog {
	return &EventLog{logger: logger}
}

// Record implements EventRecorder.
func (l *EventLog) Record(event DiagnosticEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

// Flush implements DiagnosticSink. Buffered events are written in order
// and then discarded.
func (l *EventLog) Flush() {
	l.mu.Lock()
	events := l.events
	l.events = nil
	l.flushes++
	l.mu.Unlock()

	for _, e := range events {
		level := zerolog.DebugLevel
		if e.Err != nil {
			level = zerolog.WarnLevel
		}
		entry := l.logger.WithLevel(level)
		if e.Err != nil {
			entry = entry.Err(e.Err).Str("phase", e.Phase.String())
		}
		entry = entry.
			Time("at", e.Time).
			Str("invocation_id", e.InvocationID).
			Str("kind", string(e.Kind)).
			Int("attempt", e.Attempt)
		if e.Decision != "" {
			entry = entry.Str("decision", e.Decision)
		}
		if e.Duration > 0 {
			entry = entry.Dur("duration", e.Duration)
		}
		entry.Msg("callz_event")
	}
}

// Len returns the number of buffered events.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Flushes returns how many times Flush has been called.
func (l *EventLog) Flushes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushes
}

func recordEvent(sink DiagnosticSink, event DiagnosticEvent) {
	rec, ok := sink.(EventRecorder)
	if !ok {
		return
	}
	defer func() {
		_ = recover()
	}()
	rec.Record(event)
}

func flushDiagnostics(sink DiagnosticSink) {
	if sink == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	sink.Flush()
}
