package model

import "time"

// CodeType distinguishes typed PINs from scanned QR payloads.
type CodeType string

const (
	CodeTypePIN CodeType = "pin"
	CodeTypeQR  CodeType = "qr"
)

// ConnectionStatus of a code or a viewer connection.
type ConnectionStatus string

const (
	ConnectionStatusWaiting   ConnectionStatus = "waiting"
	ConnectionStatusConnected ConnectionStatus = "connected"
)

// CameraInfo binds a code to a camera and its owner.
type CameraInfo struct {
	CameraID    string `json:"cameraId"`
	CameraName  string `json:"cameraName"`
	OwnerUserID string `json:"ownerUserId"`
}

// ConnectionCode is a single pairing opportunity.
type ConnectionCode struct {
	Code        string           `json:"code"`
	Type        CodeType         `json:"type"`
	CameraID    string           `json:"cameraId"`
	CameraName  string           `json:"cameraName"`
	OwnerUserID string           `json:"ownerUserId"`
	Status      ConnectionStatus `json:"status"`
	CreatedAt   time.Time        `json:"createdAt"`
	ExpiresAt   time.Time        `json:"expiresAt"`
}

// ViewerConnection is one viewer attached through a code.
type ViewerConnection struct {
	ConnectionID string           `json:"connectionId"`
	ViewerID     string           `json:"viewerId"`
	DeviceID     string           `json:"deviceId"`
	ConnectedAt  time.Time        `json:"connectedAt"`
	Status       ConnectionStatus `json:"status"`
}

// GenerateResult is returned to whoever asked for a new code.
type GenerateResult struct {
	Code      string    `json:"code"`
	Type      CodeType  `json:"type"`
	CameraID  string    `json:"cameraId"`
	ExpiresAt time.Time `json:"expiresAt"`
	TTL       int       `json:"ttl"` // seconds
	QRPayload string    `json:"qrPayload,omitempty"`
}

// ConnectResult is returned to the viewer after a successful connect.
type ConnectResult struct {
	ConnectionID string           `json:"connectionId"`
	CameraID     string           `json:"cameraId"`
	CameraName   string           `json:"cameraName"`
	Status       ConnectionStatus `json:"status"`
	ViewerID     string           `json:"viewerId"`
	DeviceID     string           `json:"deviceId"`
	ConnectedAt  time.Time        `json:"connectedAt"`
}

// GenerateCodeRequest is the request body for POST /codes.
type GenerateCodeRequest struct {
	CameraID   string   `json:"cameraId" binding:"required"`
	CameraName string   `json:"cameraName"`
	Type       CodeType `json:"type"`
	Code       string   `json:"code,omitempty"`
}

// ConnectRequest is the request body for POST /codes/:code/connect.
type ConnectRequest struct {
	ViewerID string `json:"viewerId"`
	DeviceID string `json:"deviceId" binding:"required"`
}

// MediaURLRequest is the request body for POST /media/url.
type MediaURLRequest struct {
	Role     string `json:"role" binding:"required"`
	CameraID string `json:"cameraId" binding:"required"`
	ViewerID string `json:"viewerId"`
}

// MediaURLResponse carries a signed relay URL.
type MediaURLResponse struct {
	URL         string `json:"url"`
	TS          int64  `json:"ts"`
	Token       string `json:"token"`
	ExpiresInMs int64  `json:"expiresInMs"`
}
