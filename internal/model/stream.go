package model

import (
	"encoding/json"
	"time"
)

// StreamStatus of a publishing camera at the media relay.
type StreamStatus string

const (
	StreamStatusReady StreamStatus = "ready"
	StreamStatusLive  StreamStatus = "live"
)

// StreamMeta is renegotiated in-band by the publisher.
type StreamMeta struct {
	Codec     string `json:"codec,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	FrameRate int    `json:"frameRate,omitempty"`
	Bitrate   int    `json:"bitrate,omitempty"`
}

// Merge overwrites fields that are set in upd.
func (m StreamMeta) Merge(upd StreamMeta) StreamMeta {
	if upd.Codec != "" {
		m.Codec = upd.Codec
	}
	if upd.Width > 0 {
		m.Width = upd.Width
	}
	if upd.Height > 0 {
		m.Height = upd.Height
	}
	if upd.FrameRate > 0 {
		m.FrameRate = upd.FrameRate
	}
	if upd.Bitrate > 0 {
		m.Bitrate = upd.Bitrate
	}
	return m
}

// StreamInfo is the public view of a StreamRecord, also sent to viewers on admission.
type StreamInfo struct {
	CameraID      string       `json:"cameraId"`
	Status        StreamStatus `json:"status"`
	StartTime     time.Time    `json:"startTime"`
	ViewerCount   int          `json:"viewerCount"`
	Meta          StreamMeta   `json:"meta"`
	FramesRelayed int64        `json:"framesRelayed"`
	BytesRelayed  int64        `json:"bytesRelayed"`
}

// MediaControl is a JSON control frame on the media socket.
type MediaControl struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Media control frame types.
const (
	MediaControlMeta        = "meta"
	MediaControlStreamInfo  = "stream_info"
	MediaControlStreamEnded = "stream_ended"
)
