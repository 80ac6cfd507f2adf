package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	fiberws "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-wayfinder/pkg/detection"
	"github.com/teslashibe/go-wayfinder/pkg/protocol"
)

func TestFromData_PlacesBoxes(t *testing.T) {
	d := &protocol.DetectionsData{Detections: []detection.Detection{
		{ClassName: "car", Score: 0.9, BBox: &detection.Rect{X: 0.1, W: 0.2}},
		{ClassName: "dog", Score: 0.9, BBox: &detection.Rect{X: 0.6, W: 0.2}},
		{ClassName: "cup", Score: 0.9, Direction: detection.Left, BBox: &detection.Rect{X: 0.8, W: 0.1}},
		{ClassName: "bed", Score: 0.9},
	}}
	b := FromData(d, time.Now())

	assert.Equal(t, detection.Left, b.Detections[0].Direction)
	assert.Equal(t, detection.Right, b.Detections[1].Direction)
	assert.Equal(t, detection.Left, b.Detections[2].Direction, "explicit side wins")
	assert.Equal(t, detection.Center, b.Detections[3].Direction)
}

var upgrader = websocket.Upgrader{}

func TestWSClient_ReceivesAndReconnects(t *testing.T) {
	conns := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		conns++

		_ = ws.WriteMessage(websocket.TextMessage, []byte(`garbage`))
		msg, _ := protocol.NewDetectionsMessage(uint64(conns), 640, 480, []detection.Detection{
			{ClassName: "person", Score: 0.8, Direction: detection.Right},
		})
		b, _ := msg.Bytes()
		_ = ws.WriteMessage(websocket.TextMessage, b)
		// returning closes the connection and forces a reconnect
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := NewWSClient(url, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan Batch, 4)
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, out) }()

	for want := uint64(1); want <= 2; want++ {
		select {
		case b := <-out:
			assert.Equal(t, want, b.FrameID)
			require.Len(t, b.Detections, 1)
			assert.Equal(t, "person", b.Detections[0].ClassName)
		case <-time.After(2 * time.Second):
			t.Fatalf("no batch %d", want)
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestIngress_HandleMessage(t *testing.T) {
	in := NewIngress(1, nil)

	assert.Nil(t, in.handleMessage("d1", []byte(`[{"class_name":"car","score":0.7,"direction":"left"}]`)))
	assert.Nil(t, in.handleMessage("d1", []byte(`not json`)))
	// queue holds one; the next is dropped
	assert.Nil(t, in.handleMessage("d1", []byte(`[{"class_name":"dog","score":0.7}]`)))

	ping, _ := protocol.NewPingMessage("x")
	raw, _ := ping.Bytes()
	reply := in.handleMessage("d1", raw)
	require.NotNil(t, reply)
	assert.Equal(t, protocol.TypePong, reply.Type)

	st := in.Stats()
	assert.Equal(t, uint64(2), st.Received)
	assert.Equal(t, uint64(1), st.Dropped)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan Batch, 1)
	go in.Run(ctx, out)
	defer cancel()

	select {
	case b := <-out:
		assert.Equal(t, "car", b.Detections[0].ClassName)
	case <-time.After(time.Second):
		t.Fatal("queued batch not forwarded")
	}
}

func TestIngress_WebSocket(t *testing.T) {
	in := NewIngress(4, nil)
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use("/ws", func(c *fiber.Ctx) error {
		if fiberws.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	in.RegisterRoutes(app)

	go app.Listen("127.0.0.1:18391")
	defer app.Shutdown()
	time.Sleep(100 * time.Millisecond)

	ws, _, err := websocket.DefaultDialer.Dial("ws://127.0.0.1:18391/ws/detections/cam-1", nil)
	require.NoError(t, err)
	defer ws.Close()

	msg, _ := protocol.NewDetectionsMessage(1, 0, 0, []detection.Detection{{ClassName: "bus", Score: 0.6}})
	b, _ := msg.Bytes()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, b))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan Batch, 1)
	go in.Run(ctx, out)

	select {
	case batch := <-out:
		assert.Equal(t, "bus", batch.Detections[0].ClassName)
	case <-time.After(2 * time.Second):
		t.Fatal("no batch from websocket detector")
	}
	assert.Equal(t, 1, in.Stats().Detectors)
}

type stubSource struct{ opts Options }

func (s *stubSource) Name() string                                  { return "stub" }
func (s *stubSource) Run(ctx context.Context, _ chan<- Batch) error { <-ctx.Done(); return nil }

func TestRegistry(t *testing.T) {
	Register("stub", func(o Options) (Source, error) { return &stubSource{opts: o}, nil })

	src, err := Open("stub", Options{Device: "1"})
	require.NoError(t, err)
	assert.Equal(t, "1", src.(*stubSource).opts.Device)
	assert.Contains(t, Modes(), "stub")

	_, err = Open("thermal", Options{})
	assert.ErrorContains(t, err, "unknown mode")

	assert.Panics(t, func() {
		Register("stub", func(Options) (Source, error) { return nil, nil })
	})
}
