// Package events publishes signaling state changes so other relay instances can
// forward to the sockets they hold.
package events

import (
	"context"
	"time"
)

// Event types published by the signaling hub.
const (
	TypeCameraRegistered   = "camera_registered"
	TypeCameraUnregistered = "camera_unregistered"
	TypeViewerJoined       = "viewer_joined"
	TypeViewerLeft         = "viewer_left"
)

// Event is one state change keyed by camera.
type Event struct {
	Type        string    `json:"type"`
	CameraID    string    `json:"cameraId"`
	UserID      string    `json:"userId,omitempty"`
	ViewerCount int       `json:"viewerCount"`
	Instance    string    `json:"instance,omitempty"`
	At          time.Time `json:"at"`
}

// Publisher is best-effort: implementations must not block the caller for long.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close()
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

func (Nop) Close() {}
