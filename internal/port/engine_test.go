package port

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/kestrel-dev/serialmux/internal/logging"
	"github.com/kestrel-dev/serialmux/internal/wire"
)

func noopHandler(ctx context.Context, eng *Engine, f wire.Frame) error { return nil }

// TestSenderPrefersControlOverData verifies spec testable property 8: when
// the data queue holds several frames and a control frame is enqueued, the
// next frame the sender loop writes is the control frame, not whichever
// data frame arrived first. Frames are queued before Start so the very
// first dequeue decision is deterministic instead of racing the sender
// goroutine.
func TestSenderPrefersControlOverData(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	eng := New(logging.Nop(), a, noopHandler)
	defer eng.Dispose()

	for i := 0; i < 3; i++ {
		eng.EnqueueOut(wire.Frame{ChannelID: 1, Payload: []byte{byte(i)}})
	}
	eng.EnqueueOutControl(wire.Frame{ChannelID: 0, Payload: []byte("ctl")})

	eng.Start()

	if err := b.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}

	scanner := wire.NewScanner()
	buf := make([]byte, 256)
	var frames [][]byte
	for len(frames) == 0 {
		n, err := b.Read(buf)
		if err != nil {
			t.Fatalf("read from device: %v", err)
		}
		frames = append(frames, scanner.Feed(buf[:n])...)
	}

	first, err := wire.Parse(wire.Unstuff(frames[0]))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if first.ChannelID != 0 {
		t.Fatalf("first frame written had ChannelID %d, want 0 (the control frame)", first.ChannelID)
	}
}

// TestBackPressureReflectsDataQueueOnly confirms BackPressure (used by the
// Multiplexer's egress selection) tracks the data queue depth and is
// unaffected by control traffic.
func TestBackPressureReflectsDataQueueOnly(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	eng := New(logging.Nop(), a, noopHandler)
	defer eng.Dispose()

	eng.EnqueueOutControl(wire.Frame{ChannelID: 0, Payload: []byte("ctl")})
	if got := eng.BackPressure(); got != 0 {
		t.Fatalf("BackPressure = %d, want 0 before any data frame", got)
	}

	eng.EnqueueOut(wire.Frame{ChannelID: 1, Payload: []byte("a")})
	eng.EnqueueOut(wire.Frame{ChannelID: 1, Payload: []byte("b")})
	if got := eng.BackPressure(); got != 2 {
		t.Fatalf("BackPressure = %d, want 2", got)
	}
}
