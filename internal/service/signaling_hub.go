package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/psds-microservice/homecam-relay/internal/camera"
	"github.com/psds-microservice/homecam-relay/internal/errs"
	"github.com/psds-microservice/homecam-relay/internal/events"
	"github.com/psds-microservice/homecam-relay/internal/model"
)

// Client is one signaling socket. The handler's writer goroutine drains Send.
type Client struct {
	ID     string
	UserID string
	Send   chan []byte

	closed bool // guarded by the hub lock
}

type set map[string]struct{}

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SignalingHub relays control messages between camera owners and viewers connected to this process.
type SignalingHub struct {
	mu            sync.RWMutex
	clients       map[string]*Client // socket id -> client
	userSockets   map[string]*Client // user id -> client
	cameraOwners  map[string]string  // camera id -> owner user id
	cameraNames   map[string]string
	ownerCameras  map[string]set // owner user id -> cameras
	cameraViewers map[string]set // camera id -> viewer user ids
	viewerCameras map[string]set // viewer user id -> cameras

	directory  camera.Directory
	sessions   *SessionStore
	events     events.Publisher
	sendBuffer int
	log        *zap.Logger
}

// SignalingHubOptions wires collaborators into the hub.
type SignalingHubOptions struct {
	Directory  camera.Directory
	Sessions   *SessionStore
	Events     events.Publisher
	SendBuffer int
}

func NewSignalingHub(opts SignalingHubOptions, log *zap.Logger) *SignalingHub {
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	return &SignalingHub{
		clients:       make(map[string]*Client),
		userSockets:   make(map[string]*Client),
		cameraOwners:  make(map[string]string),
		cameraNames:   make(map[string]string),
		ownerCameras:  make(map[string]set),
		cameraViewers: make(map[string]set),
		viewerCameras: make(map[string]set),
		directory:     opts.Directory,
		sessions:      opts.Sessions,
		events:        opts.Events,
		sendBuffer:    opts.SendBuffer,
		log:           log,
	}
}

// Connect registers a socket for userID. A previous socket of the same user is closed and replaced.
func (h *SignalingHub) Connect(userID string) (*Client, func()) {
	c := &Client{
		ID:     uuid.New().String(),
		UserID: userID,
		Send:   make(chan []byte, h.sendBuffer),
	}
	h.mu.Lock()
	if old, ok := h.userSockets[userID]; ok {
		delete(h.clients, old.ID)
		h.closeLocked(old)
		h.log.Info("signaling socket replaced", zap.String("user_id", userID), zap.String("socket_id", old.ID))
	}
	h.clients[c.ID] = c
	h.userSockets[userID] = c
	h.sendLocked(c, model.EncodeEvent(model.EventConnected, map[string]string{"socketId": c.ID, "userId": userID}))
	h.mu.Unlock()

	h.log.Info("signaling connected", zap.String("user_id", userID), zap.String("socket_id", c.ID))
	return c, func() { h.disconnect(c) }
}

func (h *SignalingHub) closeLocked(c *Client) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// sendLocked is a non-blocking push; caller holds h.mu.
func (h *SignalingHub) sendLocked(c *Client, msg []byte) {
	if c == nil || c.closed {
		return
	}
	select {
	case c.Send <- msg:
	default:
		h.log.Warn("signaling send buffer full", zap.String("user_id", c.UserID), zap.String("socket_id", c.ID))
	}
}

func (h *SignalingHub) send(c *Client, msg []byte) {
	h.mu.RLock()
	h.sendLocked(c, msg)
	h.mu.RUnlock()
}

func (h *SignalingHub) sendError(c *Client, err error, sigType model.SignalType) {
	code := errs.Code(err)
	msg := err.Error()
	if code == errs.CodeInternal {
		h.log.Error("signaling handler failed", zap.String("user_id", c.UserID), zap.String("type", string(sigType)), zap.Error(err))
		msg = "internal error"
	}
	h.send(c, model.EncodeEvent(model.EventError, model.ErrorEvent{Code: code, Message: msg, Type: string(sigType)}))
}

// Dispatch parses one inbound frame and runs the matching operation. Failures are answered
// on the sender's socket with an error event.
func (h *SignalingHub) Dispatch(ctx context.Context, c *Client, raw []byte) {
	sig, err := model.ParseSignal(raw)
	if err != nil {
		h.sendError(c, err, "")
		return
	}
	switch m := sig.(type) {
	case model.RegisterCamera:
		err = h.registerCamera(ctx, c, m)
	case model.UnregisterCamera:
		err = h.unregisterCamera(ctx, c, m.CameraID)
	case model.JoinStream:
		err = h.joinStream(ctx, c, m.CameraID)
	case model.LeaveStream:
		err = h.leaveStream(ctx, c, m.CameraID)
	case model.WebRTCSignal:
		h.relaySignaling(c, m)
	case model.CameraStatusUpdate:
		err = h.cameraStatus(c, m)
	case model.ViewerStatusUpdate:
		err = h.viewerStatus(c, m)
	case model.Ping:
		h.ping(c)
	}
	if err != nil {
		h.sendError(c, err, sig.SignalType())
	}
}

func (h *SignalingHub) publish(ctx context.Context, typ, cameraID, userID string, viewers int) {
	if err := h.events.Publish(ctx, events.Event{
		Type:        typ,
		CameraID:    cameraID,
		UserID:      userID,
		ViewerCount: viewers,
		At:          time.Now().UTC(),
	}); err != nil {
		h.log.Warn("event publish failed", zap.String("type", typ), zap.Error(err))
	}
}

func (h *SignalingHub) registerCamera(ctx context.Context, c *Client, m model.RegisterCamera) error {
	owner, err := h.directory.Owner(ctx, m.CameraID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		if err := h.directory.SaveCamera(ctx, model.Camera{ID: m.CameraID, Name: m.CameraName, OwnerUserID: c.UserID}); err != nil {
			return fmt.Errorf("save camera: %w", err)
		}
		owner = c.UserID
	case err != nil:
		return fmt.Errorf("camera owner: %w", err)
	}
	if owner != c.UserID {
		return errs.ErrAccessDenied
	}

	sess, err := h.cameraSession(c.UserID, m.CameraID, m.CameraName)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if prev, ok := h.cameraOwners[m.CameraID]; ok && prev != c.UserID {
		if cams := h.ownerCameras[prev]; cams != nil {
			delete(cams, m.CameraID)
		}
	}
	h.cameraOwners[m.CameraID] = c.UserID
	if m.CameraName != "" {
		h.cameraNames[m.CameraID] = m.CameraName
	}
	if h.ownerCameras[c.UserID] == nil {
		h.ownerCameras[c.UserID] = set{}
	}
	h.ownerCameras[c.UserID][m.CameraID] = struct{}{}
	h.sendLocked(c, model.EncodeEvent(model.EventCameraRegistered, map[string]string{"cameraId": m.CameraID, "sessionId": sess.SessionID}))
	viewers := len(h.cameraViewers[m.CameraID])
	h.mu.Unlock()

	h.log.Info("camera registered", zap.String("camera_id", m.CameraID), zap.String("user_id", c.UserID), zap.String("session_id", sess.SessionID))
	h.publish(ctx, events.TypeCameraRegistered, m.CameraID, c.UserID, viewers)
	return nil
}

// cameraSession returns the owner's session for the camera, starting a new one when
// none exists (first registration, or the sweeper evicted it while the camera stayed online).
func (h *SignalingHub) cameraSession(ownerID, cameraID, cameraName string) (*model.StreamingSession, error) {
	sess, err := h.sessions.GetByCamera(cameraID)
	if err == nil && sess.UserID != ownerID {
		_ = h.sessions.End(sess.SessionID)
		err = errs.ErrNotFound
	}
	if errors.Is(err, errs.ErrNotFound) {
		sess, err = h.sessions.Create(model.CreateSessionRequest{UserID: ownerID, CameraID: cameraID, CameraName: cameraName})
		if errors.Is(err, errs.ErrAlreadyStreaming) {
			sess, err = h.sessions.GetByCamera(cameraID)
		}
	}
	return sess, err
}

func (h *SignalingHub) unregisterCamera(ctx context.Context, c *Client, cameraID string) error {
	h.mu.Lock()
	owner, ok := h.cameraOwners[cameraID]
	if !ok {
		h.mu.Unlock()
		return errs.ErrNotFound
	}
	if owner != c.UserID {
		h.mu.Unlock()
		return errs.ErrAccessDenied
	}
	h.dropCameraLocked(cameraID)
	h.sendLocked(c, model.EncodeEvent(model.EventCameraDisconnected, map[string]string{"cameraId": cameraID}))
	h.mu.Unlock()

	h.endCameraSession(cameraID)
	h.log.Info("camera unregistered", zap.String("camera_id", cameraID), zap.String("user_id", c.UserID))
	h.publish(ctx, events.TypeCameraUnregistered, cameraID, c.UserID, 0)
	return nil
}

// dropCameraLocked removes the camera from the registry and tells its viewers.
func (h *SignalingHub) dropCameraLocked(cameraID string) {
	owner := h.cameraOwners[cameraID]
	delete(h.cameraOwners, cameraID)
	delete(h.cameraNames, cameraID)
	if cams := h.ownerCameras[owner]; cams != nil {
		delete(cams, cameraID)
		if len(cams) == 0 {
			delete(h.ownerCameras, owner)
		}
	}
	notice := model.EncodeEvent(model.EventCameraDisconnected, map[string]string{"cameraId": cameraID})
	for viewerID := range h.cameraViewers[cameraID] {
		h.sendLocked(h.userSockets[viewerID], notice)
		if cams := h.viewerCameras[viewerID]; cams != nil {
			delete(cams, cameraID)
			if len(cams) == 0 {
				delete(h.viewerCameras, viewerID)
			}
		}
	}
	delete(h.cameraViewers, cameraID)
}

func (h *SignalingHub) endCameraSession(cameraID string) {
	if sess, err := h.sessions.GetByCamera(cameraID); err == nil {
		_ = h.sessions.End(sess.SessionID)
	}
}

func (h *SignalingHub) joinStream(ctx context.Context, c *Client, cameraID string) error {
	h.mu.RLock()
	owner, registered := h.cameraOwners[cameraID]
	name := h.cameraNames[cameraID]
	h.mu.RUnlock()
	if !registered {
		return errs.ErrNotFound
	}
	ok, err := h.directory.IsAuthorized(ctx, c.UserID, cameraID)
	if err != nil {
		return fmt.Errorf("authorize viewer: %w", err)
	}
	if !ok {
		return errs.ErrAccessDenied
	}

	sess, err := h.cameraSession(owner, cameraID, name)
	if err != nil {
		return err
	}
	if _, err := h.sessions.AddViewer(sess.SessionID, c.UserID, nil); err != nil {
		return err
	}

	h.mu.Lock()
	owner, registered = h.cameraOwners[cameraID]
	if !registered {
		h.mu.Unlock()
		_, _ = h.sessions.RemoveViewer(sess.SessionID, c.UserID)
		return errs.ErrNotFound
	}
	if h.cameraViewers[cameraID] == nil {
		h.cameraViewers[cameraID] = set{}
	}
	h.cameraViewers[cameraID][c.UserID] = struct{}{}
	if h.viewerCameras[c.UserID] == nil {
		h.viewerCameras[c.UserID] = set{}
	}
	h.viewerCameras[c.UserID][cameraID] = struct{}{}
	count := len(h.cameraViewers[cameraID])

	h.sendLocked(c, model.EncodeEvent(model.EventStreamJoined, map[string]any{
		"cameraId":    cameraID,
		"cameraName":  h.cameraNames[cameraID],
		"sessionId":   sess.SessionID,
		"viewerCount": count,
	}))
	h.sendLocked(h.userSockets[owner], model.EncodeEvent(model.EventViewerJoined, map[string]any{
		"cameraId":    cameraID,
		"viewerId":    c.UserID,
		"viewerCount": count,
	}))
	h.mu.Unlock()

	h.log.Info("viewer joined", zap.String("camera_id", cameraID), zap.String("viewer_id", c.UserID), zap.Int("viewers", count))
	h.publish(ctx, events.TypeViewerJoined, cameraID, c.UserID, count)
	return nil
}

func (h *SignalingHub) leaveStream(ctx context.Context, c *Client, cameraID string) error {
	h.mu.Lock()
	count, left := h.removeViewerLocked(c.UserID, cameraID)
	h.sendLocked(c, model.EncodeEvent(model.EventStreamLeft, map[string]string{"cameraId": cameraID}))
	h.mu.Unlock()
	if !left {
		return nil
	}

	if sess, err := h.sessions.GetByCamera(cameraID); err == nil {
		_, _ = h.sessions.RemoveViewer(sess.SessionID, c.UserID)
	}
	h.log.Info("viewer left", zap.String("camera_id", cameraID), zap.String("viewer_id", c.UserID), zap.Int("viewers", count))
	h.publish(ctx, events.TypeViewerLeft, cameraID, c.UserID, count)
	return nil
}

// removeViewerLocked drops viewerID from the camera and notifies the owner.
func (h *SignalingHub) removeViewerLocked(viewerID, cameraID string) (int, bool) {
	viewers := h.cameraViewers[cameraID]
	if _, ok := viewers[viewerID]; !ok {
		return len(viewers), false
	}
	delete(viewers, viewerID)
	if len(viewers) == 0 {
		delete(h.cameraViewers, cameraID)
	}
	if cams := h.viewerCameras[viewerID]; cams != nil {
		delete(cams, cameraID)
		if len(cams) == 0 {
			delete(h.viewerCameras, viewerID)
		}
	}
	count := len(viewers)
	if owner, ok := h.cameraOwners[cameraID]; ok {
		h.sendLocked(h.userSockets[owner], model.EncodeEvent(model.EventViewerLeft, map[string]any{
			"cameraId":    cameraID,
			"viewerId":    viewerID,
			"viewerCount": count,
		}))
	}
	return count, true
}

// resolveLocked finds the recipient socket: socket id, then camera owner, then user id.
func (h *SignalingHub) resolveLocked(to string) *Client {
	if c, ok := h.clients[to]; ok {
		return c
	}
	if owner, ok := h.cameraOwners[to]; ok {
		if c, ok := h.userSockets[owner]; ok {
			return c
		}
	}
	return h.userSockets[to]
}

// relaySignaling forwards the payload as-is. Unresolved recipients are dropped with a warning.
func (h *SignalingHub) relaySignaling(c *Client, m model.WebRTCSignal) {
	m.From = c.UserID
	msg := model.EncodeEvent(string(model.SignalWebRTC), m)

	h.mu.RLock()
	dst := h.resolveLocked(m.To)
	h.sendLocked(dst, msg)
	h.mu.RUnlock()

	if dst == nil {
		h.log.Warn("signaling recipient not found, dropping",
			zap.String("user_id", c.UserID),
			zap.String("to", m.To),
			zap.String("signal", m.Type))
	}
}

func (h *SignalingHub) cameraStatus(c *Client, m model.CameraStatusUpdate) error {
	h.mu.RLock()
	owner, ok := h.cameraOwners[m.CameraID]
	name := h.cameraNames[m.CameraID]
	if !ok {
		h.mu.RUnlock()
		return errs.ErrNotFound
	}
	if owner != c.UserID {
		h.mu.RUnlock()
		return errs.ErrAccessDenied
	}
	msg := model.EncodeEvent(string(model.SignalCameraStatusUpdate), m)
	for viewerID := range h.cameraViewers[m.CameraID] {
		h.sendLocked(h.userSockets[viewerID], msg)
	}
	h.mu.RUnlock()

	if m.Quality != "" {
		sess, err := h.cameraSession(owner, m.CameraID, name)
		if err != nil {
			return err
		}
		if _, err := h.sessions.ChangeQuality(sess.SessionID, m.Quality); err != nil {
			return err
		}
	}
	return nil
}

func (h *SignalingHub) viewerStatus(c *Client, m model.ViewerStatusUpdate) error {
	m.ViewerID = c.UserID
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, joined := h.cameraViewers[m.CameraID][c.UserID]; !joined {
		return errs.ErrAccessDenied
	}
	owner := h.cameraOwners[m.CameraID]
	h.sendLocked(h.userSockets[owner], model.EncodeEvent(string(model.SignalViewerStatusUpdate), m))
	return nil
}

// ping refreshes the heartbeat of every session the user takes part in.
func (h *SignalingHub) ping(c *Client) {
	h.mu.RLock()
	cams := append(h.ownerCameras[c.UserID].sorted(), h.viewerCameras[c.UserID].sorted()...)
	h.mu.RUnlock()

	for _, cam := range cams {
		if sess, err := h.sessions.GetByCamera(cam); err == nil {
			_ = h.sessions.Heartbeat(sess.SessionID)
		}
	}
	h.send(c, model.EncodeEvent(model.EventPong, map[string]int64{"ts": time.Now().UnixMilli()}))
}

// disconnect cleans up after a closed socket. A socket that was replaced leaves the user's state alone.
func (h *SignalingHub) disconnect(c *Client) {
	h.mu.Lock()
	if cur, ok := h.userSockets[c.UserID]; !ok || cur != c {
		delete(h.clients, c.ID)
		h.closeLocked(c)
		h.mu.Unlock()
		return
	}
	owned := h.ownerCameras[c.UserID].sorted()
	joined := h.viewerCameras[c.UserID].sorted()
	for _, cam := range owned {
		h.dropCameraLocked(cam)
	}
	type leftCam struct {
		camera string
		count  int
	}
	left := make([]leftCam, 0, len(joined))
	for _, cam := range joined {
		if n, ok := h.removeViewerLocked(c.UserID, cam); ok {
			left = append(left, leftCam{cam, n})
		}
	}
	delete(h.clients, c.ID)
	delete(h.userSockets, c.UserID)
	h.closeLocked(c)
	h.mu.Unlock()

	ctx := context.Background()
	for _, cam := range owned {
		h.endCameraSession(cam)
		h.publish(ctx, events.TypeCameraUnregistered, cam, c.UserID, 0)
	}
	for _, l := range left {
		if sess, err := h.sessions.GetByCamera(l.camera); err == nil {
			_, _ = h.sessions.RemoveViewer(sess.SessionID, c.UserID)
		}
		h.publish(ctx, events.TypeViewerLeft, l.camera, c.UserID, l.count)
	}
	h.log.Info("signaling disconnected",
		zap.String("user_id", c.UserID),
		zap.String("socket_id", c.ID),
		zap.Int("cameras_dropped", len(owned)),
		zap.Int("streams_left", len(left)))
}

// Stats for /health and debugging.
func (h *SignalingHub) Stats() (sockets, cameras int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients), len(h.cameraOwners)
}

// CloseAll closes every socket on shutdown; each handler then runs the usual disconnect cleanup.
func (h *SignalingHub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		h.closeLocked(c)
	}
}
