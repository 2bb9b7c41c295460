package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/psds-microservice/homecam-relay/internal/errs"
)

func TestParseSignalVariants(t *testing.T) {
	cases := []struct {
		raw  string
		want SignalType
	}{
		{`{"type":"register_camera","data":{"cameraId":"cam-1","cameraName":"Living room"}}`, SignalRegisterCamera},
		{`{"type":"unregister_camera","data":{"cameraId":"cam-1"}}`, SignalUnregisterCamera},
		{`{"type":"join_stream","data":{"cameraId":"cam-1"}}`, SignalJoinStream},
		{`{"type":"leave_stream","data":{"cameraId":"cam-1"}}`, SignalLeaveStream},
		{`{"type":"webrtc_signaling","data":{"from":"u1","to":"cam-1","type":"offer","data":{"sdp":"v=0"}}}`, SignalWebRTC},
		{`{"type":"camera_status_update","data":{"cameraId":"cam-1","status":"recording"}}`, SignalCameraStatusUpdate},
		{`{"type":"viewer_status_update","data":{"cameraId":"cam-1","status":"buffering"}}`, SignalViewerStatusUpdate},
		{`{"type":"ping"}`, SignalPing},
	}
	for _, tc := range cases {
		sig, err := ParseSignal([]byte(tc.raw))
		if err != nil {
			t.Fatalf("parse %s: %v", tc.raw, err)
		}
		if sig.SignalType() != tc.want {
			t.Fatalf("parse %s: got %s want %s", tc.raw, sig.SignalType(), tc.want)
		}
	}
}

func TestParseSignalKeepsWebRTCPayloadVerbatim(t *testing.T) {
	sig, err := ParseSignal([]byte(`{"type":"webrtc_signaling","data":{"to":"cam-1","type":"ice_candidate","data":{"candidate":"a=1","sdpMid":"0"}}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	w := sig.(WebRTCSignal)
	if string(w.Data) != `{"candidate":"a=1","sdpMid":"0"}` {
		t.Fatalf("payload not preserved: %s", w.Data)
	}
}

func TestParseSignalRejectsInvalid(t *testing.T) {
	cases := []string{
		`not json`,
		`{"type":"subscribe"}`,
		`{"type":"join_stream"}`,
		`{"type":"join_stream","data":{"cameraId":""}}`,
		`{"type":"register_camera","data":"cam-1"}`,
		`{"type":"webrtc_signaling","data":{"type":"offer"}}`,
		`{"type":"webrtc_signaling","data":{"to":"cam-1"}}`,
	}
	for _, raw := range cases {
		if _, err := ParseSignal([]byte(raw)); !errors.Is(err, errs.ErrInvalidMessage) {
			t.Fatalf("parse %s: expected invalid message, got %v", raw, err)
		}
	}
}

func TestEncodeEvent(t *testing.T) {
	raw := EncodeEvent(EventViewerJoined, map[string]any{"cameraId": "cam-1", "viewerCount": 2})
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != EventViewerJoined {
		t.Fatalf("unexpected type %s", env.Type)
	}
	var data struct {
		CameraID    string `json:"cameraId"`
		ViewerCount int    `json:"viewerCount"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.CameraID != "cam-1" || data.ViewerCount != 2 {
		t.Fatalf("unexpected data %s", env.Data)
	}
}
