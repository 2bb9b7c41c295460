package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/psds-microservice/homecam-relay/internal/errs"
	"github.com/psds-microservice/homecam-relay/internal/model"
)

func newTestMediaHub() *MediaHub {
	return NewMediaHub(MediaHubOptions{SendBuffer: 8}, zap.NewNop())
}

func recv(t *testing.T, p *Peer) Frame {
	t.Helper()
	select {
	case f, ok := <-p.Send:
		if !ok {
			t.Fatalf("peer %s queue closed", p.ID)
		}
		return f
	default:
		t.Fatalf("peer %s has nothing queued", p.ID)
	}
	return Frame{}
}

func TestViewerRejectedWithoutPublisher(t *testing.T) {
	h := newTestMediaHub()
	if _, _, err := h.RegisterViewer("cam-1", "v1", nil); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFanOutIsScopedToCamera(t *testing.T) {
	h := newTestMediaHub()
	pub, _ := h.RegisterPublisher("cam-1", nil)
	_, _ = h.RegisterPublisher("cam-2", nil)

	const n = 3
	viewers := make([]*Peer, 0, n)
	for i := 0; i < n; i++ {
		v, _, err := h.RegisterViewer("cam-1", "v", nil)
		if err != nil {
			t.Fatalf("register viewer: %v", err)
		}
		if f := recv(t, v); !bytes.Contains(f.Data, []byte(`"stream_info"`)) {
			t.Fatalf("expected stream_info first, got %s", f.Data)
		}
		viewers = append(viewers, v)
	}
	other, _, _ := h.RegisterViewer("cam-2", "x", nil)
	recv(t, other)

	frame := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	h.HandlePublisherMessage(pub, websocket.BinaryMessage, frame)

	for _, v := range viewers {
		f := recv(t, v)
		if f.Type != websocket.BinaryMessage || !bytes.Equal(f.Data, frame) {
			t.Fatalf("viewer got %v %x", f.Type, f.Data)
		}
	}
	if len(other.Send) != 0 {
		t.Fatalf("frame leaked to another camera")
	}
	info, _ := h.Stream("cam-1")
	if info.FramesRelayed != 1 || info.BytesRelayed != 4 || info.ViewerCount != n {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestMetaUpdatesRecordAndIsNotForwarded(t *testing.T) {
	h := newTestMediaHub()
	pub, _ := h.RegisterPublisher("cam-1", nil)
	v, _, _ := h.RegisterViewer("cam-1", "v1", nil)
	recv(t, v)

	h.HandlePublisherMessage(pub, websocket.TextMessage, []byte(`{"type":"meta","data":{"codec":"h264","width":1280,"height":720}}`))
	if len(v.Send) != 0 {
		t.Fatalf("meta must not be forwarded")
	}
	info, _ := h.Stream("cam-1")
	if info.Meta.Codec != "h264" || info.Meta.Width != 1280 {
		t.Fatalf("meta not applied: %+v", info.Meta)
	}

	h.HandlePublisherMessage(pub, websocket.TextMessage, []byte(`{"type":"keyframe"}`))
	if f := recv(t, v); string(f.Data) != `{"type":"keyframe"}` {
		t.Fatalf("non-meta text must be forwarded verbatim, got %s", f.Data)
	}

	v2, _, _ := h.RegisterViewer("cam-1", "v2", nil)
	f := recv(t, v2)
	var env model.Envelope
	_ = json.Unmarshal(f.Data, &env)
	var si model.StreamInfo
	_ = json.Unmarshal(env.Data, &si)
	if si.Status != model.StreamStatusLive || si.Meta.Height != 720 || si.ViewerCount != 2 {
		t.Fatalf("unexpected stream_info: %+v", si)
	}
}

func TestPublisherLeaveEndsViewers(t *testing.T) {
	h := newTestMediaHub()
	_, leave := h.RegisterPublisher("cam-1", nil)
	v, viewerLeave, _ := h.RegisterViewer("cam-1", "v1", nil)
	recv(t, v)

	leave()
	if f := recv(t, v); !bytes.Contains(f.Data, []byte(model.MediaControlStreamEnded)) {
		t.Fatalf("expected stream_ended, got %s", f.Data)
	}
	if _, ok := <-v.Send; ok {
		t.Fatalf("viewer queue must be closed")
	}
	if code, _ := v.CloseStatus(); code != websocket.CloseGoingAway {
		t.Fatalf("expected 1001, got %d", code)
	}
	if _, ok := h.Stream("cam-1"); ok {
		t.Fatalf("stream record must be deleted")
	}
	viewerLeave()
}

func TestPublisherReplacementKeepsViewers(t *testing.T) {
	h := newTestMediaHub()
	old, oldLeave := h.RegisterPublisher("cam-1", nil)
	v, _, _ := h.RegisterViewer("cam-1", "v1", nil)
	recv(t, v)

	cur, _ := h.RegisterPublisher("cam-1", nil)
	if _, ok := <-old.Send; ok {
		t.Fatalf("old publisher must be closed")
	}
	oldLeave()
	if _, ok := h.Stream("cam-1"); !ok {
		t.Fatalf("old publisher cleanup must not delete the new record")
	}

	h.HandlePublisherMessage(old, websocket.BinaryMessage, []byte{1})
	if len(v.Send) != 0 {
		t.Fatalf("replaced publisher must not reach viewers")
	}
	h.HandlePublisherMessage(cur, websocket.BinaryMessage, []byte{2})
	if f := recv(t, v); f.Data[0] != 2 {
		t.Fatalf("expected frame from new publisher")
	}
	if s := h.Metrics().Snapshot(); s.PublisherSwaps != 1 || s.Publishers != 1 {
		t.Fatalf("unexpected metrics: %+v", s)
	}
}
