package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (m *memSink) Send(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.err
}

func (m *memSink) Close() error {
	m.closed = true
	return nil
}

func TestRecorderFansOutAndSwallowsErrors(t *testing.T) {
	good := &memSink{}
	bad := &memSink{err: errors.New("down")}
	r := NewRecorder(nil, bad, nil, good)

	e := Event{Type: EventDeleted, OccurredAt: time.Now(), RunID: "r", ServerID: "1"}
	r.Record(context.Background(), e)

	if len(good.events) != 1 || good.events[0].ServerID != "1" {
		t.Fatalf("good sink did not receive the event: %+v", good.events)
	}
	if len(bad.events) != 1 {
		t.Fatalf("failing sink should still be called")
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !good.closed || !bad.closed {
		t.Fatalf("sinks were not closed")
	}
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	r.Record(context.Background(), Event{Type: EventPruned})
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
