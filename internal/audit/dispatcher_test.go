package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	got     []Event
}

func (s *blockingSink) Emit(_ context.Context, e Event) {
	<-s.release
	s.mu.Lock()
	s.got = append(s.got, e)
	s.mu.Unlock()
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{EventType: "x"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
}

func TestDispatcherDeliversAndDrains(t *testing.T) {
	sink := NewChannelSink(4)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, sink)

	d.Emit(context.Background(), Event{EventType: "login_success", UserID: "1"})
	d.Emit(context.Background(), Event{EventType: "refresh_success", UserID: "1"})
	d.Close()

	for _, want := range []string{"login_success", "refresh_success"} {
		select {
		case e := <-sink.Events():
			if e.EventType != want {
				t.Fatalf("expected %s, got %s", want, e.EventType)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}

	d.Emit(context.Background(), Event{EventType: "after_close"})
	select {
	case e := <-sink.Events():
		t.Fatalf("unexpected event after close: %+v", e)
	default:
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "refresh_success", Success: true})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a blocked sink and tiny buffer")
	}
	close(sink.release)
	d.Close()
}

func TestDispatcherFailuresWaitForSpace(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// One event is held by the blocked sink and one fills the buffer.
	d.Emit(context.Background(), Event{EventType: "a", Success: true})
	for deadline := time.Now().Add(time.Second); len(d.events) > 0; {
		if time.Now().After(deadline) {
			t.Fatal("sink never picked up the first event")
		}
		time.Sleep(time.Millisecond)
	}
	d.Emit(context.Background(), Event{EventType: "b", Success: true})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	d.Emit(ctx, Event{EventType: "password_login_failure"})
	if time.Since(start) < 40*time.Millisecond {
		t.Fatal("failed event was dropped without waiting")
	}

	done := make(chan struct{})
	go func() {
		d.Emit(context.Background(), Event{EventType: "telegram_login_failure"})
		close(done)
	}()
	close(sink.release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("failed event never queued after the sink drained")
	}
	d.Close()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if last := sink.got[len(sink.got)-1]; last.EventType != "telegram_login_failure" {
		t.Fatalf("last delivered = %q", last.EventType)
	}
}

func TestDispatcherCountsEventsAfterClose(t *testing.T) {
	d := NewDispatcher(Config{Enabled: true, BufferSize: 2}, NoOpSink{})
	d.Close()
	d.Close()
	d.Emit(context.Background(), Event{EventType: "late"})
	if d.Dropped() != 1 {
		t.Fatalf("Dropped = %d, want 1", d.Dropped())
	}
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONWriterSink(&buf)
	s.Emit(context.Background(), Event{EventType: "login_failure", Error: "bad hash"})
	s.Emit(context.Background(), Event{EventType: "login_success", Success: true})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var e Event
	if err := json.Unmarshal([]byte(lines[0]), &e); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.EventType != "login_failure" || e.Error != "bad hash" {
		t.Fatalf("unexpected event %+v", e)
	}
}

func TestSlogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := SlogSink{Logger: logger}

	s.Emit(context.Background(), Event{EventType: "login_failure", IP: "10.0.0.1", Metadata: map[string]string{"reason": "expired"}})

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec["level"] != "WARN" || rec["event"] != "login_failure" || rec["meta.reason"] != "expired" {
		t.Fatalf("unexpected record %v", rec)
	}
}
