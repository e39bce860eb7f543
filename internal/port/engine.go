// Package port implements the Port Engine: the per-physical-serial-link
// worker that owns framing, reassembly, dispatch, and prioritized
// transmission. See spec §4.3.
package port

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kestrel-dev/serialmux/internal/logging"
	"github.com/kestrel-dev/serialmux/internal/wire"
)

// Device is the physical transport a Port Engine drives. Opening and
// configuring it (baud rate, parity, etc.) is outside this package's
// concern; Engine only needs a ReadWriteCloser.
type Device = io.ReadWriteCloser

// Handler processes one inbound Frame dispatched by the Port Engine. An
// error is logged and swallowed by the Engine — one bad frame or one
// failed handler invocation must not take down the engine.
type Handler func(ctx context.Context, eng *Engine, f wire.Frame) error

// Stats is a point-in-time snapshot of an Engine's traffic counters.
type Stats struct {
	FramesIn   int64
	FramesOut  int64
	TrafficOut int64
}

// Engine is the per-physical-link worker described in spec §4.3. It runs
// four logically concurrent loops: ingress reader, frame reassembler,
// dispatcher, and sender (control-priority over data).
type Engine struct {
	device  Device
	logger  logging.Logger
	handler Handler

	ingressR *io.PipeReader
	ingressW *io.PipeWriter

	inbound    *queue[wire.Frame]
	controlOut *queue[wire.Frame]
	dataOut    *queue[wire.Frame]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once

	framesIn   atomic.Int64
	framesOut  atomic.Int64
	trafficOut atomic.Int64
}

// New creates a Port Engine bound to device, dispatching inbound frames to
// handler. Call Start to spin up its loops.
func New(logger logging.Logger, device Device, handler Handler) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	return &Engine{
		device:     device,
		logger:     logger,
		handler:    handler,
		ingressR:   pr,
		ingressW:   pw,
		inbound:    newQueue[wire.Frame](),
		controlOut: newQueue[wire.Frame](),
		dataOut:    newQueue[wire.Frame](),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start is idempotent; it spins up the ingress reader, reassembler,
// dispatcher, and sender loops exactly once.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		e.wg.Add(4)
		go e.runIngress()
		go e.runReassembler()
		go e.runDispatcher()
		go e.runSender()
	})
}

// Dispose cancels all loops and closes the underlying device. Safe to call
// more than once.
func (e *Engine) Dispose() {
	e.cancel()
	_ = e.device.Close()
	_ = e.ingressR.Close()
	_ = e.ingressW.Close()
	e.wg.Wait()
}

// EnqueueOut submits a data-priority frame for transmission. Never blocks.
func (e *Engine) EnqueueOut(f wire.Frame) {
	e.dataOut.Push(f)
}

// EnqueueOutControl submits a control-priority frame for transmission. The
// sender loop always drains controlOut ahead of dataOut. Never blocks.
func (e *Engine) EnqueueOutControl(f wire.Frame) {
	e.controlOut.Push(f)
}

// BackPressure reports the data outbound queue's current depth, used by
// the Multiplexer to pick an egress port among several engines.
func (e *Engine) BackPressure() int {
	return e.dataOut.Len()
}

// Stats returns a snapshot of traffic counters.
func (e *Engine) Stats() Stats {
	return Stats{
		FramesIn:   e.framesIn.Load(),
		FramesOut:  e.framesOut.Load(),
		TrafficOut: e.trafficOut.Load(),
	}
}

const ingressChunk = 4096

// runIngress reads raw bytes off the device and feeds them into the
// internal pipe the reassembler consumes. Transient read errors pause
// briefly and retry; a closed device or cancellation ends the loop.
func (e *Engine) runIngress() {
	defer e.wg.Done()
	defer e.ingressW.Close()
	buf := make([]byte, ingressChunk)
	for {
		if e.ctx.Err() != nil {
			return
		}
		n, err := e.device.Read(buf)
		if n > 0 {
			if _, werr := e.ingressW.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			if e.ctx.Err() != nil || err == io.EOF {
				return
			}
			e.logger.Warnf("transport read error: %v", err)
			time.Sleep(time.Millisecond)
			continue
		}
		if n == 0 {
			time.Sleep(time.Millisecond)
		}
	}
}

// runReassembler consumes the ingress pipe through the delimiter scanner,
// parses each complete stuffed frame, and enqueues it for dispatch.
func (e *Engine) runReassembler() {
	defer e.wg.Done()
	scanner := wire.NewScanner()
	buf := make([]byte, ingressChunk)
	for {
		n, err := e.ingressR.Read(buf)
		if n > 0 {
			for _, stuffed := range scanner.Feed(buf[:n]) {
				frame, perr := wire.Parse(wire.Unstuff(stuffed))
				if perr != nil {
					e.logger.Warnf("frame parse error: %v", perr)
					continue
				}
				e.framesIn.Add(1)
				e.inbound.Push(frame)
			}
		}
		if err != nil {
			return
		}
	}
}

// runDispatcher hands each inbound frame to the registered handler. A
// handler error is logged and swallowed so one bad frame cannot kill the
// engine.
func (e *Engine) runDispatcher() {
	defer e.wg.Done()
	for {
		f, err := e.inbound.Pop(e.ctx)
		if err != nil {
			return
		}
		if herr := e.handler(e.ctx, e, f); herr != nil {
			e.logger.Warnf("frame handler error: %v", herr)
		}
	}
}

// runSender drains the control queue ahead of the data queue at every
// dequeue decision, packs the frame, and writes it to the device.
func (e *Engine) runSender() {
	defer e.wg.Done()
	for {
		f, err := e.nextOutbound()
		if err != nil {
			return
		}
		packed, err := wire.Pack(f.ChannelID, f.Payload)
		if err != nil {
			e.logger.Warnf("pack error: %v", err)
			continue
		}
		if _, werr := e.device.Write(packed); werr != nil {
			if e.ctx.Err() != nil {
				return
			}
			e.logger.Warnf("transport write error: %v", werr)
			continue
		}
		e.framesOut.Add(1)
		e.trafficOut.Add(int64(len(packed)))
	}
}

// nextOutbound blocks until a control or data frame is available,
// preferring control at the moment it wakes.
func (e *Engine) nextOutbound() (wire.Frame, error) {
	for {
		if f, ok := e.controlOut.TryPop(); ok {
			return f, nil
		}
		if f, ok := e.dataOut.TryPop(); ok {
			return f, nil
		}
		select {
		case <-e.controlOut.notify:
		case <-e.dataOut.notify:
		case <-e.ctx.Done():
			var zero wire.Frame
			return zero, e.ctx.Err()
		}
	}
}
