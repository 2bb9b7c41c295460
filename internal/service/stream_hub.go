package service

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/psds-microservice/homecam-relay/internal/clock"
	"github.com/psds-microservice/homecam-relay/internal/errs"
	"github.com/psds-microservice/homecam-relay/internal/metrics"
	"github.com/psds-microservice/homecam-relay/internal/model"
)

// PeerRole is publisher (camera) or viewer.
type PeerRole string

const (
	PeerRolePublisher PeerRole = "publisher"
	PeerRoleViewer    PeerRole = "viewer"
)

// Frame is one queued outbound WebSocket message.
type Frame struct {
	Type int
	Data []byte
}

// Peer represents a media WebSocket connection. Only the writer goroutine reads Send.
type Peer struct {
	ID       string
	CameraID string
	ViewerID string
	Role     PeerRole
	Conn     *websocket.Conn
	Send     chan Frame

	closed      bool // guarded by the hub lock
	closeCode   int
	closeReason string
}

// CloseStatus is the close frame the writer sends once Send is closed.
func (p *Peer) CloseStatus() (int, string) {
	return p.closeCode, p.closeReason
}

// StreamHubForHandler: интерфейс для WebSocket handler (D: зависимость от абстракции).
type StreamHubForHandler interface {
	RegisterPublisher(cameraID string, conn *websocket.Conn) (*Peer, func())
	RegisterViewer(cameraID, viewerID string, conn *websocket.Conn) (*Peer, func(), error)
	HandlePublisherMessage(p *Peer, messageType int, data []byte)
	Upgrader() *websocket.Upgrader
	Metrics() *metrics.Relay
	Stream(cameraID string) (model.StreamInfo, bool)
	Streams() []model.StreamInfo
}

var _ StreamHubForHandler = (*MediaHub)(nil)

// streamRecord is the relay-side bookkeeping for one publishing camera.
type streamRecord struct {
	publisher *Peer
	viewers   map[*Peer]struct{}
	info      model.StreamInfo
	frames    atomic.Int64
	bytes     atomic.Int64
}

// MediaHubOptions configures the media hub.
type MediaHubOptions struct {
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int64
	SendBuffer      int
	Clock           clock.Clock
	Metrics         *metrics.Relay
}

// MediaHub relays binary media from one publisher per camera to its viewers.
type MediaHub struct {
	mu         sync.RWMutex
	streams    map[string]*streamRecord // cameraID -> record
	upgrader   websocket.Upgrader
	maxMsgSize int64
	sendBuffer int
	clock      clock.Clock
	metrics    *metrics.Relay
	log        *zap.Logger
}

// NewMediaHub creates a new media hub.
func NewMediaHub(opts MediaHubOptions, log *zap.Logger) *MediaHub {
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = 1024 * 4
	}
	if opts.WriteBufferSize <= 0 {
		opts.WriteBufferSize = 1024 * 4
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Metrics == nil {
		opts.Metrics = &metrics.Relay{}
	}
	return &MediaHub{
		streams:    make(map[string]*streamRecord),
		maxMsgSize: opts.MaxMessageSize,
		sendBuffer: opts.SendBuffer,
		clock:      opts.Clock,
		metrics:    opts.Metrics,
		log:        log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  opts.ReadBufferSize,
			WriteBufferSize: opts.WriteBufferSize,
			// Mobile apps send no Origin; admission is the token.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Upgrader returns the WebSocket upgrader for HTTP handlers.
func (h *MediaHub) Upgrader() *websocket.Upgrader {
	return &h.upgrader
}

// Metrics returns the hub counters.
func (h *MediaHub) Metrics() *metrics.Relay {
	return h.metrics
}

func (h *MediaHub) newPeer(cameraID, viewerID string, role PeerRole, conn *websocket.Conn) *Peer {
	if conn != nil && h.maxMsgSize > 0 {
		conn.SetReadLimit(h.maxMsgSize)
	}
	return &Peer{
		ID:       uuid.New().String(),
		CameraID: cameraID,
		ViewerID: viewerID,
		Role:     role,
		Conn:     conn,
		Send:     make(chan Frame, h.sendBuffer),
	}
}

// enqueueLocked never blocks; a full queue drops the frame. Caller holds h.mu (read or write).
func (h *MediaHub) enqueueLocked(p *Peer, f Frame) bool {
	if p.closed {
		return false
	}
	select {
	case p.Send <- f:
		return true
	default:
		return false
	}
}

// closePeerLocked makes the writer send a close frame and exit. Caller holds h.mu for writing.
func (h *MediaHub) closePeerLocked(p *Peer, code int, reason string) {
	if p.closed {
		return
	}
	p.closed = true
	p.closeCode = code
	p.closeReason = reason
	close(p.Send)
}

// RegisterPublisher makes the socket the camera's publisher. An existing publisher is
// replaced and closed; its viewers stay attached.
func (h *MediaHub) RegisterPublisher(cameraID string, conn *websocket.Conn) (*Peer, func()) {
	p := h.newPeer(cameraID, "", PeerRolePublisher, conn)

	h.mu.Lock()
	rec, ok := h.streams[cameraID]
	if !ok {
		rec = &streamRecord{
			viewers: make(map[*Peer]struct{}),
			info: model.StreamInfo{
				CameraID:  cameraID,
				StartTime: h.clock.Now(),
			},
		}
		h.streams[cameraID] = rec
	}
	old := rec.publisher
	rec.publisher = p
	rec.info.Status = model.StreamStatusLive
	if old != nil {
		h.closePeerLocked(old, websocket.CloseNormalClosure, "replaced")
	}
	h.mu.Unlock()

	h.metrics.PublisherUp()
	if old != nil {
		h.metrics.PublisherSwapped()
		h.log.Warn("publisher replaced", zap.String("camera_id", cameraID), zap.String("socket_id", old.ID))
	}
	h.log.Info("publisher registered", zap.String("camera_id", cameraID), zap.String("socket_id", p.ID))

	return p, func() { h.unregisterPublisher(p) }
}

func (h *MediaHub) unregisterPublisher(p *Peer) {
	h.mu.Lock()
	rec, ok := h.streams[p.CameraID]
	if !ok || rec.publisher != p {
		// replaced or already gone; the newer record is not ours to delete
		h.closePeerLocked(p, websocket.CloseNormalClosure, "")
		h.mu.Unlock()
		h.metrics.PublisherDown()
		return
	}
	delete(h.streams, p.CameraID)
	ended := model.EncodeEvent(model.MediaControlStreamEnded, map[string]string{"cameraId": p.CameraID})
	for v := range rec.viewers {
		h.enqueueLocked(v, Frame{Type: websocket.TextMessage, Data: ended})
		h.closePeerLocked(v, websocket.CloseGoingAway, "stream ended")
	}
	h.closePeerLocked(p, websocket.CloseNormalClosure, "")
	viewers := len(rec.viewers)
	h.mu.Unlock()

	h.metrics.PublisherDown()
	h.log.Info("publisher unregistered",
		zap.String("camera_id", p.CameraID),
		zap.Int("viewers_dropped", viewers),
		zap.Int64("frames", rec.frames.Load()),
		zap.Int64("bytes", rec.bytes.Load()))
}

// RegisterViewer attaches a viewer to a live stream and queues stream_info for it.
func (h *MediaHub) RegisterViewer(cameraID, viewerID string, conn *websocket.Conn) (*Peer, func(), error) {
	p := h.newPeer(cameraID, viewerID, PeerRoleViewer, conn)

	h.mu.Lock()
	rec, ok := h.streams[cameraID]
	if !ok {
		h.mu.Unlock()
		return nil, nil, errs.ErrNotFound
	}
	rec.viewers[p] = struct{}{}
	rec.info.ViewerCount = len(rec.viewers)
	info := h.infoLocked(rec)
	h.enqueueLocked(p, Frame{Type: websocket.TextMessage, Data: model.EncodeEvent(model.MediaControlStreamInfo, info)})
	h.mu.Unlock()

	h.metrics.ViewerUp()
	h.log.Info("viewer registered",
		zap.String("camera_id", cameraID),
		zap.String("viewer_id", viewerID),
		zap.Int("viewers", info.ViewerCount))

	return p, func() { h.unregisterViewer(p) }, nil
}

func (h *MediaHub) unregisterViewer(p *Peer) {
	h.mu.Lock()
	if rec, ok := h.streams[p.CameraID]; ok {
		if _, member := rec.viewers[p]; member {
			delete(rec.viewers, p)
			rec.info.ViewerCount = len(rec.viewers)
		}
	}
	h.closePeerLocked(p, websocket.CloseNormalClosure, "")
	h.mu.Unlock()

	h.metrics.ViewerDown()
	h.log.Info("viewer unregistered", zap.String("camera_id", p.CameraID), zap.String("viewer_id", p.ViewerID))
}

// HandlePublisherMessage applies a meta control frame or fans the payload out verbatim.
func (h *MediaHub) HandlePublisherMessage(p *Peer, messageType int, data []byte) {
	if messageType == websocket.TextMessage {
		if meta, ok := parseMeta(data); ok {
			h.mu.Lock()
			if rec, ok := h.streams[p.CameraID]; ok && rec.publisher == p {
				rec.info.Meta = rec.info.Meta.Merge(meta)
			}
			h.mu.Unlock()
			h.log.Debug("stream meta updated", zap.String("camera_id", p.CameraID))
			return
		}
	}

	h.mu.RLock()
	rec, ok := h.streams[p.CameraID]
	if !ok || rec.publisher != p {
		h.mu.RUnlock()
		return
	}
	dropped := 0
	for v := range rec.viewers {
		if !h.enqueueLocked(v, Frame{Type: messageType, Data: data}) {
			dropped++
		}
	}
	rec.frames.Add(1)
	rec.bytes.Add(int64(len(data)))
	h.mu.RUnlock()

	h.metrics.Relayed(len(data), dropped)
	if dropped > 0 {
		h.log.Warn("viewer send buffer full", zap.String("camera_id", p.CameraID), zap.Int("dropped", dropped))
	}
}

func parseMeta(data []byte) (model.StreamMeta, bool) {
	var ctl model.MediaControl
	if err := json.Unmarshal(data, &ctl); err != nil || ctl.Type != model.MediaControlMeta {
		return model.StreamMeta{}, false
	}
	var meta model.StreamMeta
	if len(ctl.Data) > 0 {
		if err := json.Unmarshal(ctl.Data, &meta); err != nil {
			return model.StreamMeta{}, false
		}
	}
	return meta, true
}

func (h *MediaHub) infoLocked(rec *streamRecord) model.StreamInfo {
	info := rec.info
	info.FramesRelayed = rec.frames.Load()
	info.BytesRelayed = rec.bytes.Load()
	return info
}

// Stream returns the public view of the camera's stream record.
func (h *MediaHub) Stream(cameraID string) (model.StreamInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rec, ok := h.streams[cameraID]
	if !ok {
		return model.StreamInfo{}, false
	}
	return h.infoLocked(rec), true
}

// Streams lists live streams by camera id.
func (h *MediaHub) Streams() []model.StreamInfo {
	h.mu.RLock()
	out := make([]model.StreamInfo, 0, len(h.streams))
	for _, rec := range h.streams {
		out = append(out, h.infoLocked(rec))
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CameraID < out[j].CameraID })
	return out
}

// PeerCount returns number of viewers of a camera (for debugging).
func (h *MediaHub) PeerCount(cameraID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if rec, ok := h.streams[cameraID]; ok {
		return len(rec.viewers)
	}
	return 0
}

// CloseAll closes every socket, used on shutdown.
func (h *MediaHub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, rec := range h.streams {
		for v := range rec.viewers {
			h.closePeerLocked(v, websocket.CloseGoingAway, "server shutdown")
		}
		if rec.publisher != nil {
			h.closePeerLocked(rec.publisher, websocket.CloseGoingAway, "server shutdown")
		}
		delete(h.streams, id)
	}
}
