package model

import "time"

// StreamConfig is the negotiated quality of a streaming session.
type StreamConfig struct {
	Quality   string `json:"quality"`
	FrameRate int    `json:"frameRate"`
	Bitrate   int    `json:"bitrate"`
}

// DefaultStreamConfig is applied when a session is created without one.
var DefaultStreamConfig = StreamConfig{Quality: "medium", FrameRate: 30, Bitrate: 1_000_000}

// SessionViewer is a viewer attached to a streaming session.
type SessionViewer struct {
	ViewerID    string       `json:"viewerId"`
	ConnectedAt time.Time    `json:"connectedAt"`
	Config      StreamConfig `json:"config"`
}

// SessionStats are running counters of a streaming session.
type SessionStats struct {
	Duration         time.Duration `json:"duration"`
	BytesTransferred int64         `json:"bytesTransferred"`
	ViewerCount      int           `json:"viewerCount"`
	MaxViewers       int           `json:"maxViewers"`
	QualityChanges   int           `json:"qualityChanges"`
}

// StreamingSession is the logical camera-to-viewers pairing tracked at the signaling layer.
type StreamingSession struct {
	SessionID     string          `json:"sessionId"`
	UserID        string          `json:"userId"`
	CameraID      string          `json:"cameraId"`
	CameraName    string          `json:"cameraName"`
	Config        StreamConfig    `json:"config"`
	Viewers       []SessionViewer `json:"viewers"`
	Stats         SessionStats    `json:"stats"`
	CreatedAt     time.Time       `json:"createdAt"`
	LastHeartbeat time.Time       `json:"lastHeartbeat"`
}

// HasViewer reports whether viewerID is attached.
func (s *StreamingSession) HasViewer(viewerID string) bool {
	for _, v := range s.Viewers {
		if v.ViewerID == viewerID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand out of the store.
func (s *StreamingSession) Clone() *StreamingSession {
	out := *s
	out.Viewers = append([]SessionViewer(nil), s.Viewers...)
	return &out
}

// CreateSessionRequest is the request body for POST /sessions.
type CreateSessionRequest struct {
	UserID     string        `json:"userId"`
	CameraID   string        `json:"cameraId" binding:"required"`
	CameraName string        `json:"cameraName"`
	Config     *StreamConfig `json:"config,omitempty"`
}

// AddViewerRequest is the request body for POST /sessions/:id/viewers.
type AddViewerRequest struct {
	ViewerID string        `json:"viewerId"`
	Config   *StreamConfig `json:"config,omitempty"`
}

// HeartbeatRequest is the optional body for POST /sessions/:id/heartbeat.
type HeartbeatRequest struct {
	BytesTransferred int64 `json:"bytesTransferred"`
}

// ChangeQualityRequest is the request body for PUT /sessions/:id/quality.
type ChangeQualityRequest struct {
	Quality string `json:"quality" binding:"required"`
}
