package hub

import (
	"context"
	"testing"
	"time"

	"github.com/teslashibe/go-wayfinder/pkg/protocol"
)

func attach(t *testing.T, h *Hub, buf int) *Client {
	t.Helper()
	c := &Client{hub: h, send: make(chan []byte, buf)}
	h.register <- c
	return c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHub_BroadcastAndUnregister(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := New("events", nil)
	go h.Run(ctx)

	a := attach(t, h, 4)
	b := attach(t, h, 4)
	waitFor(t, func() bool { return h.ClientCount() == 2 })

	h.Broadcast([]byte(`{"hello":"world"}`))
	for _, c := range []*Client{a, b} {
		select {
		case m := <-c.send:
			if string(m) != `{"hello":"world"}` {
				t.Errorf("got %s", m)
			}
		case <-time.After(time.Second):
			t.Fatal("no broadcast received")
		}
	}

	h.unregister <- a
	waitFor(t, func() bool { return h.ClientCount() == 1 })
	if _, ok := <-a.send; ok {
		t.Error("unregistered client's channel should be closed")
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := New("events", nil)
	go h.Run(ctx)

	slow := attach(t, h, 1)
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	h.Broadcast([]byte(`1`))
	h.Broadcast([]byte(`2`))
	waitFor(t, func() bool { return h.ClientCount() == 0 })

	if m := <-slow.send; string(m) != "1" {
		t.Errorf("first message = %s", m)
	}
}

func TestHub_Forward(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := New("events", nil)
	go h.Run(ctx)
	c := attach(t, h, 4)
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	in := make(chan *protocol.Message, 1)
	msg, _ := protocol.NewMessage(protocol.TypeHaptic, protocol.HapticData{On: true})
	in <- msg
	close(in)
	h.Forward(ctx, in)

	select {
	case m := <-c.send:
		parsed, err := protocol.ParseMessage(m)
		if err != nil || parsed.Type != protocol.TypeHaptic {
			t.Errorf("forwarded %s, err %v", m, err)
		}
	case <-time.After(time.Second):
		t.Fatal("event not forwarded")
	}
}

func TestHub_ReplaysStateToNewClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := New("events", nil)
	go h.Run(ctx)

	publish := func(t2 protocol.MessageType, data any) {
		msg, err := protocol.NewMessage(t2, data)
		if err != nil {
			t.Fatal(err)
		}
		if err := h.Publish(msg); err != nil {
			t.Fatal(err)
		}
	}
	publish(protocol.TypePower, protocol.PowerData{State: "normal"})
	publish(protocol.TypePower, protocol.PowerData{State: "low_power"})
	publish(protocol.TypeTask, protocol.TaskData{Name: "detection", State: "started"})
	publish(protocol.TypeTask, protocol.TaskData{Name: "power", State: "started"})
	publish(protocol.TypeSpeech, protocol.SpeechData{Text: "Left: person"})
	waitFor(t, func() bool { return len(h.broadcast) == 0 })

	c := attach(t, h, 8)
	waitFor(t, func() bool { return len(c.send) == 3 })

	got := map[protocol.MessageType]int{}
	for len(c.send) > 0 {
		msg, err := protocol.ParseMessage(<-c.send)
		if err != nil {
			t.Fatal(err)
		}
		got[msg.Type]++
		if msg.Type == protocol.TypePower {
			var pd protocol.PowerData
			_ = msg.ParseData(&pd)
			if pd.State != "low_power" {
				t.Errorf("replayed power state %q, want the latest", pd.State)
			}
		}
	}
	if got[protocol.TypePower] != 1 || got[protocol.TypeTask] != 2 || got[protocol.TypeSpeech] != 0 {
		t.Errorf("replayed %v", got)
	}
}

func TestHub_StopClosesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := New("events", nil)
	go h.Run(ctx)
	c := attach(t, h, 1)
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	cancel()
	<-h.Done()
	if _, ok := <-c.send; ok {
		t.Error("client channel should be closed on stop")
	}
}

func TestPongFor(t *testing.T) {
	ping, _ := protocol.NewPingMessage("p1")
	ping.Timestamp = 0
	raw, _ := ping.Bytes()

	reply := pongFor(raw, time.UnixMilli(5000))
	if reply == nil {
		t.Fatal("expected pong")
	}
	msg, err := protocol.ParseMessage(reply)
	if err != nil || msg.Type != protocol.TypePong {
		t.Fatalf("reply = %s", reply)
	}
	var pd protocol.PongData
	_ = msg.ParseData(&pd)
	if pd.ID != "p1" || pd.PongTS != 5000 {
		t.Errorf("pong = %+v", pd)
	}

	if pongFor([]byte(`{"type":"speech"}`), time.Now()) != nil {
		t.Error("non-ping should not get a reply")
	}
	if pongFor([]byte(`nope`), time.Now()) != nil {
		t.Error("garbage should not get a reply")
	}
}
