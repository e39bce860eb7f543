// Package mux implements the Channel Multiplexer, its Channel Table, and
// the Virtual Channel byte-stream abstraction layered over one or more
// Port Engines. See spec §4.4, §4.5.
package mux

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/kestrel-dev/serialmux/internal/wire"
)

// ErrClosed is returned by Write on a Channel that is no longer live, and by
// Read once the Channel has been closed locally.
var ErrClosed = errors.New("mux: channel closed")

// PortEngine is the subset of *port.Engine a Channel needs for egress.
// Channel depends only on this interface; the Multiplexer itself holds
// concrete *port.Engine values.
type PortEngine interface {
	EnqueueOut(f wire.Frame)
	EnqueueOutControl(f wire.Frame)
	BackPressure() int
}

// Channel is a duplex byte stream multiplexed over one Port Engine. Reads
// block until data or close arrives; writes slice the buffer into
// MTU-sized frames and enqueue them on the data queue. cid 0 is reserved
// for the Control Channel and is never handed out by NewChannel.
type Channel struct {
	cid     int64
	engine  PortEngine
	onClose func(cid int64)

	pr *io.PipeReader
	pw *io.PipeWriter

	// closed is set only by an explicit local Close(); it governs Write
	// and Close's own idempotency. peerEOF is set only by a peer-sent
	// empty-payload frame. Both make IsAlive false, but they are kept
	// distinct because Read must keep returning io.EOF forever on the
	// peerEOF path and ErrClosed forever on the closed path — collapsing
	// them into one flag made every Read after either event report
	// ErrClosed, which io.Copy (see frontend.Bridge) treats as a hard
	// transport error instead of a clean peer-initiated stop.
	closed  atomic.Bool
	peerEOF atomic.Bool

	writeMu sync.Mutex
}

func newChannel(cid int64, engine PortEngine, onClose func(cid int64)) *Channel {
	pr, pw := io.Pipe()
	return &Channel{cid: cid, engine: engine, onClose: onClose, pr: pr, pw: pw}
}

// ID returns the channel's id.
func (c *Channel) ID() int64 { return c.cid }

// IsAlive reports whether the channel is still open: neither explicitly
// Closed locally nor EOF'd by the peer.
func (c *Channel) IsAlive() bool { return !c.closed.Load() && !c.peerEOF.Load() }

// pushInbound is called by the Multiplexer's dispatch path with a frame's
// payload. An empty payload is the peer's EOF signal: it completes the
// read side without marking the channel as explicitly Closed, per spec
// §4.5's EOF semantics (subsequent reads return clean EOF; subsequent
// writes fail).
func (c *Channel) pushInbound(payload []byte) {
	if len(payload) == 0 {
		c.peerEOF.Store(true)
		_ = c.pw.CloseWithError(io.EOF)
		return
	}
	// Deliberately blocking: this is the local backpressure mechanism —
	// a slow consumer on this channel throttles further dispatch on its
	// owning Port Engine.
	_, _ = c.pw.Write(payload)
}

// Read blocks until data is available, the peer closes (returns io.EOF on
// every call from then on), or the channel is explicitly Closed (returns
// ErrClosed on every call from then on). Both sentinels come straight out
// of the underlying pipe's sticky close error rather than a fast-path flag
// check, so the two states can never be conflated.
func (c *Channel) Read(buf []byte) (int, error) {
	n, err := c.pr.Read(buf)
	if err == io.ErrClosedPipe {
		return n, ErrClosed
	}
	return n, err
}

// Write slices buf into MTU-sized chunks and enqueues one Frame per chunk,
// in order, on the owning Port Engine's data queue.
func (c *Channel) Write(buf []byte) (int, error) {
	if c.closed.Load() || c.peerEOF.Load() {
		return 0, ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	total := 0
	for len(buf) > 0 {
		n := len(buf)
		if n > wire.MTU {
			n = wire.MTU
		}
		chunk := append([]byte(nil), buf[:n]...)
		c.engine.EnqueueOut(wire.Frame{ChannelID: c.cid, Payload: chunk})
		buf = buf[n:]
		total += n
	}
	return total, nil
}

// Close transmits an empty-payload frame (the peer EOF signal), completes
// both sides of the inbound pipe, invokes the on-close callback, and marks
// the channel dead. Idempotent.
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.engine.EnqueueOut(wire.Frame{ChannelID: c.cid, Payload: nil})
	_ = c.pw.CloseWithError(ErrClosed)
	_ = c.pr.Close()
	if c.onClose != nil {
		c.onClose(c.cid)
	}
	return nil
}
