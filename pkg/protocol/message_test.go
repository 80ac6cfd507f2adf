package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/teslashibe/go-wayfinder/pkg/detection"
)

func TestNewMessage(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    any
		wantErr bool
	}{
		{
			name:    "speech message",
			msgType: TypeSpeech,
			data:    SpeechData{Text: "Left: car", Queued: true},
		},
		{
			name:    "haptic message",
			msgType: TypeHaptic,
			data:    HapticData{On: true, Readings: []float64{42, -1}},
		},
		{
			name:    "nil data",
			msgType: TypePing,
			data:    nil,
		},
		{
			name:    "unmarshalable data",
			msgType: TypeAlert,
			data:    make(chan int),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewMessage(tt.msgType, tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if msg.Type != tt.msgType {
				t.Errorf("NewMessage() type = %v, want %v", msg.Type, tt.msgType)
			}
			if msg.Timestamp == 0 {
				t.Error("NewMessage() timestamp should be set")
			}
		})
	}
}

func TestDetectionsMessageRoundTrip(t *testing.T) {
	dets := []detection.Detection{
		{ClassName: "car", Score: 0.82, Direction: detection.Left},
		{ClassName: "person", Score: 0.55, Direction: detection.Right, BBox: &detection.Rect{X: 0.6, Y: 0.2, W: 0.1, H: 0.4}},
	}
	msg, err := NewDetectionsMessage(7, 640, 480, dets)
	if err != nil {
		t.Fatalf("NewDetectionsMessage() error = %v", err)
	}

	b, err := msg.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}

	got, err := ParseDetections(b)
	if err != nil {
		t.Fatalf("ParseDetections() error = %v", err)
	}
	if got.FrameID != 7 || got.Width != 640 {
		t.Errorf("frame metadata = %+v", got)
	}
	if len(got.Detections) != 2 {
		t.Fatalf("got %d detections, want 2", len(got.Detections))
	}
	if got.Detections[1].Direction != detection.Right || got.Detections[1].BBox == nil {
		t.Errorf("second detection = %+v", got.Detections[1])
	}
}

func TestParseDetections_BareArray(t *testing.T) {
	raw := []byte(`  [{"class_name":"dog","score":0.7,"direction":"kaliwa"},{"class_name":"cup","score":0.4}]`)

	got, err := ParseDetections(raw)
	if err != nil {
		t.Fatalf("ParseDetections() error = %v", err)
	}
	if len(got.Detections) != 2 {
		t.Fatalf("got %d detections", len(got.Detections))
	}
	if got.Detections[0].Direction != detection.Left {
		t.Errorf("kaliwa should map to left, got %v", got.Detections[0].Direction)
	}
	if got.Detections[1].Direction != detection.Center {
		t.Errorf("missing direction should be center, got %v", got.Detections[1].Direction)
	}
}

func TestParseDetections_WrongType(t *testing.T) {
	msg, _ := NewMessage(TypeSpeech, SpeechData{Text: "hi"})
	b, _ := msg.Bytes()

	_, err := ParseDetections(b)
	var ute *UnexpectedTypeError
	if !errors.As(err, &ute) {
		t.Fatalf("expected UnexpectedTypeError, got %v", err)
	}
	if ute.Got != TypeSpeech {
		t.Errorf("Got = %v", ute.Got)
	}
}

func TestPingPongMessage(t *testing.T) {
	ping, err := NewPingMessage("abc")
	if err != nil {
		t.Fatal(err)
	}
	pd, err := ping.GetPingData()
	if err != nil || pd.ID != "abc" {
		t.Fatalf("GetPingData() = %+v, %v", pd, err)
	}

	pong, err := NewPongMessage("abc", 1000, 1025)
	if err != nil {
		t.Fatal(err)
	}
	var data PongData
	if err := pong.ParseData(&data); err != nil {
		t.Fatal(err)
	}
	if data.LatencyMs != 25 {
		t.Errorf("LatencyMs = %d, want 25", data.LatencyMs)
	}
}

func TestParseInvalidMessage(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"not json", "not json"},
		{"missing type", `{"data":{}}`},
		{"truncated", `{"type":"ping"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseMessage([]byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestMessageJSON(t *testing.T) {
	msg, _ := NewMessage(TypeAlert, AlertData{Kind: AlertCrowd, Message: "You are entering a crowded area.", Count: 6})
	b, _ := msg.Bytes()

	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["type"] != "alert" {
		t.Errorf("type = %v", raw["type"])
	}
	data := raw["data"].(map[string]any)
	if data["kind"] != "crowd" || data["count"] != float64(6) {
		t.Errorf("data = %v", data)
	}
}

func TestParseDevicePayload(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		buttons   string
		readings  []float64
		hasFix    bool
		wantError bool
	}{
		{"buttons only", `{"buttons":" 0110 "}`, "0110", nil, false, false},
		{"single distance", `{"distance":35.5,"ir":1,"red":0}`, "", []float64{35.5}, false, false},
		{"distances win", `{"distance":10,"distances":[20,30,-1]}`, "", []float64{20, 30, -1}, false, false},
		{"gps", `{"lat":14.6,"lon":121.0}`, "", nil, true, false},
		{"garbage", `{buttons}`, "", nil, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseDevicePayload([]byte(tt.data))
			if (err != nil) != tt.wantError {
				t.Fatalf("err = %v", err)
			}
			if tt.wantError {
				return
			}
			if p.Buttons != tt.buttons {
				t.Errorf("Buttons = %q, want %q", p.Buttons, tt.buttons)
			}
			got := p.Readings()
			if len(got) != len(tt.readings) {
				t.Fatalf("Readings() = %v, want %v", got, tt.readings)
			}
			for i := range got {
				if got[i] != tt.readings[i] {
					t.Errorf("Readings()[%d] = %v, want %v", i, got[i], tt.readings[i])
				}
			}
			if p.HasFix() != tt.hasFix {
				t.Errorf("HasFix() = %v", p.HasFix())
			}
		})
	}
}
