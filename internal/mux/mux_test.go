package mux

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/kestrel-dev/serialmux/internal/logging"
	"github.com/kestrel-dev/serialmux/internal/port"
	"github.com/kestrel-dev/serialmux/internal/wire"
)

type capturingControl struct {
	payloads chan []byte
}

func (c *capturingControl) Process(ctx context.Context, payload []byte) {
	c.payloads <- payload
}

func newTestEngine(t *testing.T, handler port.Handler) (*port.Engine, func()) {
	t.Helper()
	a, b := net.Pipe()
	eng := port.New(logging.Nop(), a, handler)
	return eng, func() { b.Close() }
}

func TestDispatchRoutesControlFrames(t *testing.T) {
	cc := &capturingControl{payloads: make(chan []byte, 1)}
	m := New(logging.Nop())
	m.SetControl(cc)

	eng, cleanup := newTestEngine(t, m.Handler)
	defer cleanup()
	m.AddEngine(eng)

	m.dispatch(eng, wire.Frame{ChannelID: ControlChannelID, Payload: []byte("hi")})

	select {
	case p := <-cc.payloads:
		if string(p) != "hi" {
			t.Fatalf("got %q", p)
		}
	case <-time.After(time.Second):
		t.Fatalf("control processor never invoked")
	}
}

func TestDispatchDropsUnknownChannel(t *testing.T) {
	m := New(logging.Nop())
	m.SetControl(&capturingControl{payloads: make(chan []byte, 1)})
	eng, cleanup := newTestEngine(t, m.Handler)
	defer cleanup()
	m.AddEngine(eng)

	// Should not panic; unknown cid is logged and dropped.
	m.dispatch(eng, wire.Frame{ChannelID: 99, Payload: []byte("x")})
}

func TestDispatchDeliversToRegisteredChannel(t *testing.T) {
	m := New(logging.Nop())
	m.SetControl(&capturingControl{payloads: make(chan []byte, 1)})
	eng, cleanup := newTestEngine(t, m.Handler)
	defer cleanup()
	m.AddEngine(eng)

	ch := m.NewChannel(0, eng)
	go m.dispatch(eng, wire.Frame{ChannelID: ch.ID(), Payload: []byte("data")})

	buf := make([]byte, 4)
	n, err := ch.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "data" {
		t.Fatalf("got %q", buf[:n])
	}
}

func TestSelectEnginePicksLowestBackPressure(t *testing.T) {
	m := New(logging.Nop())
	m.SetControl(&capturingControl{payloads: make(chan []byte, 1)})

	eng1, cleanup1 := newTestEngine(t, m.Handler)
	defer cleanup1()
	eng2, cleanup2 := newTestEngine(t, m.Handler)
	defer cleanup2()
	m.AddEngine(eng1)
	m.AddEngine(eng2)

	eng1.EnqueueOut(wire.Frame{ChannelID: 1, Payload: []byte("a")})
	eng1.EnqueueOut(wire.Frame{ChannelID: 1, Payload: []byte("b")})

	if got := m.SelectEngine(); got != eng2 {
		t.Fatalf("expected eng2 (lower backpressure) to be selected")
	}
}

func TestNewChannelAllocatesMonotonicIDs(t *testing.T) {
	m := New(logging.Nop())
	m.SetControl(&capturingControl{payloads: make(chan []byte, 1)})
	eng, cleanup := newTestEngine(t, m.Handler)
	defer cleanup()
	m.AddEngine(eng)

	c1 := m.NewChannel(0, eng)
	c2 := m.NewChannel(0, eng)
	if c1.ID() == 0 || c2.ID() == 0 {
		t.Fatalf("allocated cid should never be 0")
	}
	if c1.ID() == c2.ID() {
		t.Fatalf("expected distinct cids, got %d twice", c1.ID())
	}
}

func TestKillIsIdempotentAndRemovesFromTable(t *testing.T) {
	m := New(logging.Nop())
	m.SetControl(&capturingControl{payloads: make(chan []byte, 1)})
	eng, cleanup := newTestEngine(t, m.Handler)
	defer cleanup()
	m.AddEngine(eng)

	ch := m.NewChannel(0, eng)
	m.Kill(ch.ID(), "test")
	m.Kill(ch.ID(), "test again")

	if _, ok := m.Get(ch.ID()); ok {
		t.Fatalf("channel still present after Kill")
	}
}
