package callz

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestEventLog(t *testing.T) {
	t.Run("Buffers Until Flush", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewEventLog(zerolog.New(&buf))

		log.Record(DiagnosticEvent{Kind: EventAttempt, Attempt: 1})
		log.Record(DiagnosticEvent{Kind: EventRetryDecision, Attempt: 1, Decision: "no"})
		if log.Len() != 2 {
			t.Errorf("expected 2 buffered events, got %d", log.Len())
		}
		if buf.Len() != 0 {
			t.Error("nothing should be written before flush")
		}

		log.Flush()
		if log.Len() != 0 || log.Flushes() != 1 {
			t.Errorf("expected empty buffer after 1 flush, got %d events, %d flushes", log.Len(), log.Flushes())
		}
		if lines := strings.Count(buf.String(), "\n"); lines != 2 {
			t.Errorf("expected 2 log lines, got %d", lines)
		}
	})

	t.Run("Entry Fields", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewEventLog(zerolog.New(&buf))

		log.Record(DiagnosticEvent{
			Time:         time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			Err:          errors.New("connection reset"),
			InvocationID: "inv-1",
			Kind:         EventAttempt,
			Attempt:      2,
			Duration:     150 * time.Millisecond,
			Phase:        PhaseDispatch,
		})
		log.Flush()

		var entry map[string]any
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("invalid log line %q: %v", buf.String(), err)
		}
		want := map[string]any{
			"level":         "warn",
			"message":       "callz_event",
			"invocation_id": "inv-1",
			"kind":          "attempt",
			"phase":         "dispatch",
			"error":         "connection reset",
		}
		for k, v := range want {
			if entry[k] != v {
				t.Errorf("%s: expected %v, got %v", k, v, entry[k])
			}
		}
		if entry["attempt"] != float64(2) {
			t.Errorf("expected attempt 2, got %v", entry["attempt"])
		}
		if _, ok := entry["duration"]; !ok {
			t.Error("expected duration field")
		}
	})

	t.Run("Successful Events Log At Debug", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewEventLog(zerolog.New(&buf).Level(zerolog.InfoLevel))

		log.Record(DiagnosticEvent{Kind: EventAttempt, Attempt: 1})
		log.Record(DiagnosticEvent{Kind: EventAttempt, Attempt: 2, Err: errors.New("boom")})
		log.Flush()

		if lines := strings.Count(buf.String(), "\n"); lines != 1 {
			t.Errorf("only the failure should pass an info level filter, got %d lines", lines)
		}
	})

	t.Run("Level Follows Each Event", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewEventLog(zerolog.New(&buf))

		log.Record(DiagnosticEvent{Kind: EventAttempt, Attempt: 1, Err: errors.New("boom")})
		log.Record(DiagnosticEvent{Kind: EventRetryDecision, Attempt: 1, Decision: "yes"})
		log.Record(DiagnosticEvent{Kind: EventAttempt, Attempt: 2, Err: errors.New("boom")})
		log.Flush()

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		want := []string{"warn", "debug", "warn"}
		if len(lines) != len(want) {
			t.Fatalf("expected %d lines, got %d:\n%s", len(want), len(lines), buf.String())
		}
		for i, line := range lines {
			var entry map[string]any
			if err := json.Unmarshal([]byte(line), &entry); err != nil {
				t.Fatalf("invalid log line %q: %v", line, err)
			}
			if entry["level"] != want[i] {
				t.Errorf("line %d: expected level %s, got %v", i, want[i], entry["level"])
			}
			if _, hasErr := entry["error"]; hasErr != (want[i] == "warn") {
				t.Errorf("line %d: error field present=%v at level %s", i, hasErr, want[i])
			}
		}
	})
}

type recordingSink struct {
	events  []DiagnosticEvent
	flushes int
}

func (s *recordingSink) Flush()                   { s.flushes++ }
func (s *recordingSink) Record(e DiagnosticEvent) { s.events = append(s.events, e) }

type flushOnlySink struct{ flushes int }

func (s *flushOnlySink) Flush() { s.flushes++ }

func TestDiagnosticHelpers(t *testing.T) {
	t.Run("Record Requires Recorder", func(t *testing.T) {
		rec := &recordingSink{}
		recordEvent(rec, DiagnosticEvent{Kind: EventRetryDelay})
		if len(rec.events) != 1 {
			t.Errorf("expected 1 event, got %d", len(rec.events))
		}

		// sinks without Record are skipped
		recordEvent(&flushOnlySink{}, DiagnosticEvent{Kind: EventRetryDelay})
		recordEvent(nil, DiagnosticEvent{Kind: EventRetryDelay})
	})

	t.Run("Flush Tolerates Nil And Panics", func(t *testing.T) {
		flushDiagnostics(nil)
		flushDiagnostics(panicSink{})
		recordEvent(panicSink{}, DiagnosticEvent{})

		sink := &flushOnlySink{}
		flushDiagnostics(sink)
		if sink.flushes != 1 {
			t.Errorf("expected 1 flush, got %d", sink.flushes)
		}
	})
}
