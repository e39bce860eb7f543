package mux

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kestrel-dev/serialmux/internal/logging"
	"github.com/kestrel-dev/serialmux/internal/port"
	"github.com/kestrel-dev/serialmux/internal/wire"
)

// ControlChannelID is the reserved channel id for the Control Channel.
const ControlChannelID int64 = 0

// ControlProcessor handles one control-channel payload. The Multiplexer
// spawns each invocation on its own goroutine so in-flight data frames are
// never head-of-line blocked behind control/RPC work.
type ControlProcessor interface {
	Process(ctx context.Context, payload []byte)
}

// Multiplexer owns the Channel Table and one or more Port Engines. It
// dispatches inbound frames to either the Control Channel processor or the
// matching Virtual Channel's inbound pipe, and picks an egress engine by
// minimum back-pressure when a caller doesn't pin one explicitly.
//
// A Multiplexer must be constructed before its engines, since each
// port.Engine is bound to a Handler at construction time and the handler
// this type exposes (Handler) closes over the Multiplexer itself. Build
// order is: m := New(...); eng := port.New(logger, dev, m.Handler);
// m.AddEngine(eng).
type Multiplexer struct {
	logger  logging.Logger
	control ControlProcessor

	mu       sync.RWMutex
	engines  []*port.Engine
	channels map[int64]*Channel

	nextID atomic.Int64
}

// New creates an empty Multiplexer with no Control Channel processor and no
// engines. Both are attached afterward (SetControl, AddEngine) since the
// Controller itself typically needs a reference to this Multiplexer to
// construct — build order is: m := New(...); c := control.New(logger, m,
// ...); m.SetControl(c); eng := port.New(logger, dev, m.Handler);
// m.AddEngine(eng).
func New(logger logging.Logger) *Multiplexer {
	m := &Multiplexer{
		logger:   logger,
		channels: make(map[int64]*Channel),
	}
	m.nextID.Store(0) // 0 is reserved for the Control Channel; first AllocateID/NewChannel yields 1
	return m
}

// SetControl attaches the Control Channel processor. It must be called
// before Start.
func (m *Multiplexer) SetControl(control ControlProcessor) {
	m.mu.Lock()
	m.control = control
	m.mu.Unlock()
}

// AddEngine registers a Port Engine whose Handler is this Multiplexer's
// Handler method, making it eligible for dispatch and egress selection.
func (m *Multiplexer) AddEngine(e *port.Engine) {
	m.mu.Lock()
	m.engines = append(m.engines, e)
	m.mu.Unlock()
}

// Handler is a port.Handler bound to this Multiplexer's dispatch logic.
// Pass it to port.New when constructing each owned Engine.
func (m *Multiplexer) Handler(ctx context.Context, eng *port.Engine, f wire.Frame) error {
	m.dispatch(eng, f)
	return nil
}

// Start starts every owned Port Engine.
func (m *Multiplexer) Start() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.engines {
		e.Start()
	}
}

// Dispose disposes every owned Port Engine and closes all live channels.
func (m *Multiplexer) Dispose() {
	m.mu.Lock()
	chans := make([]*Channel, 0, len(m.channels))
	for _, c := range m.channels {
		chans = append(chans, c)
	}
	engines := append([]*port.Engine(nil), m.engines...)
	m.mu.Unlock()
	for _, c := range chans {
		_ = c.Close()
	}
	for _, e := range engines {
		e.Dispose()
	}
}

// dispatch routes one inbound frame. Control frames are handed to the
// Control Channel processor on a background goroutine; data frames are
// pushed into the matching Virtual Channel's inbound pipe, or dropped with
// a log line if the cid is unknown.
func (m *Multiplexer) dispatch(eng *port.Engine, f wire.Frame) {
	if f.ChannelID == ControlChannelID {
		m.mu.RLock()
		control := m.control
		m.mu.RUnlock()
		if control == nil {
			m.logger.Warnf("dispatch: control frame received before SetControl, dropping")
			return
		}
		go control.Process(context.Background(), f.Payload)
		return
	}
	m.mu.RLock()
	ch, ok := m.channels[f.ChannelID]
	m.mu.RUnlock()
	if !ok {
		m.logger.Warnf("dispatch: unknown channel id %d, dropping frame", f.ChannelID)
		return
	}
	ch.pushInbound(f.Payload)
}

// SelectEngine returns the owned Port Engine with the lowest back-pressure
// (data queue depth). Ties are broken arbitrarily (first found). Returns
// nil if no engine is registered.
func (m *Multiplexer) SelectEngine() *port.Engine {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.engines) == 0 {
		return nil
	}
	best := m.engines[0]
	bestDepth := best.BackPressure()
	for _, e := range m.engines[1:] {
		if d := e.BackPressure(); d < bestDepth {
			best, bestDepth = e, d
		}
	}
	return best
}

// AllocateID returns the next monotonic, nonzero channel id. The allocator
// is always the side servicing an Establish RPC (the proxy/egress end), so
// both sides agree on channel ownership without further coordination.
func (m *Multiplexer) AllocateID() int64 {
	return m.nextID.Add(1)
}

// NewChannel creates a Virtual Channel bound to the selected Port Engine
// (or a specific one, if pinned by the caller) and inserts it into the
// Channel Table. If cid is 0, a new id is allocated.
func (m *Multiplexer) NewChannel(cid int64, engine *port.Engine) *Channel {
	if engine == nil {
		engine = m.SelectEngine()
	}
	if cid == 0 {
		cid = m.AllocateID()
	}
	ch := newChannel(cid, engine, func(id int64) { m.Kill(id, "local close") })
	m.mu.Lock()
	m.channels[cid] = ch
	m.mu.Unlock()
	return ch
}

// Get returns the channel for cid, if present.
func (m *Multiplexer) Get(cid int64) (*Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[cid]
	return ch, ok
}

// Kill removes cid from the table and logs code. Idempotent; a cid that
// isn't present is silently ignored.
func (m *Multiplexer) Kill(cid int64, code string) {
	m.mu.Lock()
	_, ok := m.channels[cid]
	delete(m.channels, cid)
	m.mu.Unlock()
	if ok {
		m.logger.Debugf("channel %d killed: %s", cid, code)
	}
}
