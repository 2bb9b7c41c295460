package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/psds-microservice/homecam-relay/internal/clock"
	"github.com/psds-microservice/homecam-relay/internal/errs"
	"github.com/psds-microservice/homecam-relay/internal/model"
)

// DefaultSessionTimeout is how long a session may go without a heartbeat.
const DefaultSessionTimeout = 5 * time.Minute

// SessionStore manages streaming session lifecycle. Sessions live only in this process.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*model.StreamingSession // sessionID -> session
	byCamera map[string]string                  // cameraID -> sessionID
	clock    clock.Clock
	log      *zap.Logger
}

// NewSessionStore creates a session store.
func NewSessionStore(clk clock.Clock, log *zap.Logger) *SessionStore {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &SessionStore{
		sessions: make(map[string]*model.StreamingSession),
		byCamera: make(map[string]string),
		clock:    clk,
		log:      log,
	}
}

// Create starts a session for the camera; a camera has at most one.
func (s *SessionStore) Create(req model.CreateSessionRequest) (*model.StreamingSession, error) {
	if req.CameraID == "" {
		return nil, fmt.Errorf("%w: cameraId is required", errs.ErrInvalidMessage)
	}
	cfg := model.DefaultStreamConfig
	if req.Config != nil {
		cfg = mergeConfig(cfg, *req.Config)
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byCamera[req.CameraID]; ok {
		return nil, errs.ErrAlreadyStreaming
	}
	sess := &model.StreamingSession{
		SessionID:     uuid.New().String(),
		UserID:        req.UserID,
		CameraID:      req.CameraID,
		CameraName:    req.CameraName,
		Config:        cfg,
		Viewers:       []model.SessionViewer{},
		CreatedAt:     now,
		LastHeartbeat: now,
	}
	s.sessions[sess.SessionID] = sess
	s.byCamera[sess.CameraID] = sess.SessionID

	s.log.Info("session created",
		zap.String("session_id", sess.SessionID),
		zap.String("camera_id", sess.CameraID),
		zap.String("user_id", sess.UserID))
	return s.snapshotLocked(sess), nil
}

func mergeConfig(base, upd model.StreamConfig) model.StreamConfig {
	if upd.Quality != "" {
		base.Quality = upd.Quality
	}
	if upd.FrameRate > 0 {
		base.FrameRate = upd.FrameRate
	}
	if upd.Bitrate > 0 {
		base.Bitrate = upd.Bitrate
	}
	return base
}

// snapshotLocked copies sess with duration computed at read time.
func (s *SessionStore) snapshotLocked(sess *model.StreamingSession) *model.StreamingSession {
	out := sess.Clone()
	out.Stats.Duration = s.clock.Now().Sub(sess.CreatedAt)
	return out
}

// Get returns a session by ID.
func (s *SessionStore) Get(sessionID string) (*model.StreamingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return s.snapshotLocked(sess), nil
}

// GetByCamera returns the camera's active session.
func (s *SessionStore) GetByCamera(cameraID string) (*model.StreamingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCamera[cameraID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return s.snapshotLocked(s.sessions[id]), nil
}

// List returns all sessions, oldest first.
func (s *SessionStore) List() []*model.StreamingSession {
	s.mu.RLock()
	out := make([]*model.StreamingSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, s.snapshotLocked(sess))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Count is the number of live sessions.
func (s *SessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// AddViewer attaches viewerID; attaching twice is a no-op.
func (s *SessionStore) AddViewer(sessionID, viewerID string, cfg *model.StreamConfig) (*model.StreamingSession, error) {
	if viewerID == "" {
		return nil, fmt.Errorf("%w: viewerId is required", errs.ErrInvalidMessage)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	if sess.HasViewer(viewerID) {
		return s.snapshotLocked(sess), nil
	}
	vcfg := sess.Config
	if cfg != nil {
		vcfg = mergeConfig(vcfg, *cfg)
	}
	sess.Viewers = append(sess.Viewers, model.SessionViewer{
		ViewerID:    viewerID,
		ConnectedAt: s.clock.Now(),
		Config:      vcfg,
	})
	sess.Stats.ViewerCount = len(sess.Viewers)
	if sess.Stats.ViewerCount > sess.Stats.MaxViewers {
		sess.Stats.MaxViewers = sess.Stats.ViewerCount
	}
	s.log.Info("viewer added",
		zap.String("session_id", sessionID),
		zap.String("viewer_id", viewerID),
		zap.Int("viewers", sess.Stats.ViewerCount))
	return s.snapshotLocked(sess), nil
}

// RemoveViewer detaches viewerID. Removing an absent viewer is not an error.
func (s *SessionStore) RemoveViewer(sessionID, viewerID string) (*model.StreamingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	kept := sess.Viewers[:0]
	for _, v := range sess.Viewers {
		if v.ViewerID != viewerID {
			kept = append(kept, v)
		}
	}
	sess.Viewers = kept
	sess.Stats.ViewerCount = len(kept)
	return s.snapshotLocked(sess), nil
}

// Heartbeat marks the session alive.
func (s *SessionStore) Heartbeat(sessionID string) error {
	return s.update(sessionID, func(sess *model.StreamingSession) {
		sess.LastHeartbeat = s.clock.Now()
	})
}

// RecordTransfer adds a byte delta reported by a client and counts as a heartbeat.
func (s *SessionStore) RecordTransfer(sessionID string, bytes int64) error {
	if bytes < 0 {
		return fmt.Errorf("%w: bytesTransferred must not be negative", errs.ErrInvalidMessage)
	}
	return s.update(sessionID, func(sess *model.StreamingSession) {
		sess.Stats.BytesTransferred += bytes
		sess.LastHeartbeat = s.clock.Now()
	})
}

// ChangeQuality applies a client-requested quality and counts the change.
func (s *SessionStore) ChangeQuality(sessionID, quality string) (*model.StreamingSession, error) {
	if quality == "" {
		return nil, fmt.Errorf("%w: quality is required", errs.ErrInvalidMessage)
	}
	var out *model.StreamingSession
	err := s.update(sessionID, func(sess *model.StreamingSession) {
		sess.Config.Quality = quality
		sess.Stats.QualityChanges++
		out = s.snapshotLocked(sess)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("quality changed", zap.String("session_id", sessionID), zap.String("quality", quality))
	return out, nil
}

// Stats returns running counters with duration computed now.
func (s *SessionStore) Stats(sessionID string) (model.SessionStats, error) {
	sess, err := s.Get(sessionID)
	if err != nil {
		return model.SessionStats{}, err
	}
	return sess.Stats, nil
}

func (s *SessionStore) update(sessionID string, fn func(*model.StreamingSession)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return errs.ErrNotFound
	}
	fn(sess)
	return nil
}

// End removes the session.
func (s *SessionStore) End(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return errs.ErrNotFound
	}
	s.removeLocked(sess)
	s.log.Info("session ended",
		zap.String("session_id", sessionID),
		zap.String("camera_id", sess.CameraID),
		zap.Duration("duration", s.clock.Now().Sub(sess.CreatedAt)))
	return nil
}

func (s *SessionStore) removeLocked(sess *model.StreamingSession) {
	delete(s.sessions, sess.SessionID)
	if s.byCamera[sess.CameraID] == sess.SessionID {
		delete(s.byCamera, sess.CameraID)
	}
}

// Sweep evicts sessions whose last heartbeat is older than timeout and returns how many it removed.
func (s *SessionStore) Sweep(timeout time.Duration) int {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		idle := now.Sub(sess.LastHeartbeat)
		if idle <= timeout {
			continue
		}
		s.removeLocked(sess)
		n++
		s.log.Info("session evicted",
			zap.String("session_id", sess.SessionID),
			zap.String("camera_id", sess.CameraID),
			zap.Duration("idle", idle))
	}
	return n
}

// Start runs Sweep every interval until ctx is done.
func (s *SessionStore) Start(ctx context.Context, interval, timeout time.Duration) {
	if interval <= 0 {
		interval = DefaultSessionTimeout
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(timeout); n > 0 {
				s.log.Info("session sweep", zap.Int("evicted", n), zap.Int("remaining", s.Count()))
			}
		}
	}
}
