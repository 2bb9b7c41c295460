package model

import (
	"encoding/json"
	"fmt"

	"github.com/psds-microservice/homecam-relay/internal/errs"
)

// SignalType is the "type" of an inbound signaling frame.
type SignalType string

const (
	SignalRegisterCamera     SignalType = "register_camera"
	SignalUnregisterCamera   SignalType = "unregister_camera"
	SignalJoinStream         SignalType = "join_stream"
	SignalLeaveStream        SignalType = "leave_stream"
	SignalWebRTC             SignalType = "webrtc_signaling"
	SignalCameraStatusUpdate SignalType = "camera_status_update"
	SignalViewerStatusUpdate SignalType = "viewer_status_update"
	SignalPing               SignalType = "ping"
)

// Outbound event types.
const (
	EventConnected          = "connected"
	EventCameraRegistered   = "camera_registered"
	EventCameraDisconnected = "camera_disconnected"
	EventStreamJoined       = "stream_joined"
	EventStreamLeft         = "stream_left"
	EventViewerJoined       = "viewer_joined"
	EventViewerLeft         = "viewer_left"
	EventPong               = "pong"
	EventError              = "error"
)

// Envelope is the {type, data} shape of every signaling frame in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Signal is one variant of the inbound tagged union.
type Signal interface {
	SignalType() SignalType
	validate() error
}

type RegisterCamera struct {
	CameraID   string `json:"cameraId"`
	CameraName string `json:"cameraName,omitempty"`
}

type UnregisterCamera struct {
	CameraID string `json:"cameraId"`
}

type JoinStream struct {
	CameraID string `json:"cameraId"`
}

type LeaveStream struct {
	CameraID string `json:"cameraId"`
}

// WebRTCSignal carries an offer, answer or ICE candidate; Data is relayed verbatim.
type WebRTCSignal struct {
	From string          `json:"from"`
	To   string          `json:"to"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// CameraStatusUpdate is broadcast by the owner to every viewer of the camera.
type CameraStatusUpdate struct {
	CameraID string          `json:"cameraId"`
	Status   string          `json:"status"`
	Quality  string          `json:"quality,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// ViewerStatusUpdate is sent by a viewer to the camera owner.
type ViewerStatusUpdate struct {
	CameraID string          `json:"cameraId"`
	ViewerID string          `json:"viewerId,omitempty"`
	Status   string          `json:"status"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type Ping struct{}

func (RegisterCamera) SignalType() SignalType     { return SignalRegisterCamera }
func (UnregisterCamera) SignalType() SignalType   { return SignalUnregisterCamera }
func (JoinStream) SignalType() SignalType         { return SignalJoinStream }
func (LeaveStream) SignalType() SignalType        { return SignalLeaveStream }
func (WebRTCSignal) SignalType() SignalType       { return SignalWebRTC }
func (CameraStatusUpdate) SignalType() SignalType { return SignalCameraStatusUpdate }
func (ViewerStatusUpdate) SignalType() SignalType { return SignalViewerStatusUpdate }
func (Ping) SignalType() SignalType               { return SignalPing }

func (m RegisterCamera) validate() error     { return requireField("cameraId", m.CameraID) }
func (m UnregisterCamera) validate() error   { return requireField("cameraId", m.CameraID) }
func (m JoinStream) validate() error         { return requireField("cameraId", m.CameraID) }
func (m LeaveStream) validate() error        { return requireField("cameraId", m.CameraID) }
func (m CameraStatusUpdate) validate() error { return requireField("cameraId", m.CameraID) }
func (m ViewerStatusUpdate) validate() error { return requireField("cameraId", m.CameraID) }
func (Ping) validate() error                 { return nil }

func (m WebRTCSignal) validate() error {
	if err := requireField("to", m.To); err != nil {
		return err
	}
	return requireField("type", m.Type)
}

func requireField(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", errs.ErrInvalidMessage, name)
	}
	return nil
}

// ParseSignal decodes and validates one inbound frame.
func ParseSignal(raw []byte) (Signal, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidMessage, err)
	}
	var sig Signal
	switch SignalType(env.Type) {
	case SignalRegisterCamera:
		sig = decodeInto[RegisterCamera](env.Data)
	case SignalUnregisterCamera:
		sig = decodeInto[UnregisterCamera](env.Data)
	case SignalJoinStream:
		sig = decodeInto[JoinStream](env.Data)
	case SignalLeaveStream:
		sig = decodeInto[LeaveStream](env.Data)
	case SignalWebRTC:
		sig = decodeInto[WebRTCSignal](env.Data)
	case SignalCameraStatusUpdate:
		sig = decodeInto[CameraStatusUpdate](env.Data)
	case SignalViewerStatusUpdate:
		sig = decodeInto[ViewerStatusUpdate](env.Data)
	case SignalPing:
		return Ping{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", errs.ErrInvalidMessage, env.Type)
	}
	if sig == nil {
		return nil, fmt.Errorf("%w: malformed %s payload", errs.ErrInvalidMessage, env.Type)
	}
	if err := sig.validate(); err != nil {
		return nil, err
	}
	return sig, nil
}

func decodeInto[T Signal](data json.RawMessage) Signal {
	var v T
	if len(data) == 0 {
		return v
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	return v
}

// EncodeEvent renders an outbound frame.
func EncodeEvent(eventType string, data any) []byte {
	env := Envelope{Type: eventType}
	if data != nil {
		raw, err := json.Marshal(data)
		if err == nil {
			env.Data = raw
		}
	}
	out, _ := json.Marshal(env)
	return out
}

// ErrorEvent is the payload of an "error" frame.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}
