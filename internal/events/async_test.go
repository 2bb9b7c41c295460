package events

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (r *recordingPublisher) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func TestAsyncDeliversInOrderAndDrainsOnClose(t *testing.T) {
	rec := &recordingPublisher{}
	async := NewAsync(rec, 16, zap.NewNop())
	for _, typ := range []string{TypeCameraRegistered, TypeViewerJoined, TypeViewerLeft} {
		_ = async.Publish(context.Background(), Event{Type: typ, CameraID: "cam-1"})
	}
	async.Close()
	async.Close()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !rec.closed {
		t.Fatalf("expected underlying publisher to be closed")
	}
	if len(rec.events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(rec.events))
	}
	if rec.events[0].Type != TypeCameraRegistered || rec.events[2].Type != TypeViewerLeft {
		t.Fatalf("unexpected order: %+v", rec.events)
	}
	if rec.events[0].At.IsZero() {
		t.Fatalf("expected timestamp to be stamped")
	}
}

func TestAsyncPublishAfterCloseIsDropped(t *testing.T) {
	rec := &recordingPublisher{}
	async := NewAsync(rec, 4, zap.NewNop())
	async.Close()
	if err := async.Publish(context.Background(), Event{Type: TypeViewerLeft, CameraID: "cam-1"}); err != nil {
		t.Fatalf("publish after close: %v", err)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 0 {
		t.Fatalf("expected no events, got %d", len(rec.events))
	}
}
