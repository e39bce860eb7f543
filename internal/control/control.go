// Package control implements the Control Channel & RPC layer (cid 0). See
// spec §4.6. Every message on the Control Channel is a Typed Payload Map
// carrying the reserved keys Tk, Cmd, Flag, and Data.
package control

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kestrel-dev/serialmux/internal/logging"
	"github.com/kestrel-dev/serialmux/internal/mux"
	"github.com/kestrel-dev/serialmux/internal/tpm"
	"github.com/kestrel-dev/serialmux/internal/wire"
)

// Cmd is the control message command enum.
type Cmd uint8

const (
	CmdUnset     Cmd = 0
	CmdEstablish Cmd = 1
	CmdDispose   Cmd = 2
	CmdConnect   Cmd = 3
	CmdRequest   Cmd = 4
)

// Flag is the control message role enum.
type Flag uint8

const (
	FlagUnset    Flag = 0
	FlagControl  Flag = 1
	FlagCallback Flag = 2
)

// Front-end protocol markers carried in the Connect command's "v" key.
const (
	VariantHTTPConnect uint8 = 0
	VariantSOCKS5      uint8 = 5
)

// Reserved Typed Payload Map keys.
const (
	KeyTk      = "Tk"
	KeyCmd     = "Cmd"
	KeyFlag    = "Flag"
	KeyData    = "Data"
	KeyHost    = "host"
	KeyPort    = "port"
	KeyVariant = "v"
)

// ConnectHandler services an inbound Connect command: it dials host:port and
// bridges the dialed connection with ch until either side closes. Only the
// proxy/egress side wires a non-nil handler; the host side never receives
// Connect.
type ConnectHandler interface {
	Connect(ctx context.Context, ch *mux.Channel, host string, port int32, variant uint8) error
}

// Controller is the Control Channel endpoint shared by both ends of the
// link. It allocates channels on behalf of Establish requests, forwards
// Connect requests to a ConnectHandler, and correlates request/response
// pairs by Tk. It satisfies mux.ControlProcessor.
type Controller struct {
	logger  logging.Logger
	mux     *mux.Multiplexer
	connect ConnectHandler

	nextTk atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]chan *tpm.Map
}

// New creates a Controller bound to m. connect may be nil on the host side,
// which never services Connect commands.
func New(logger logging.Logger, m *mux.Multiplexer, connect ConnectHandler) *Controller {
	return &Controller{
		logger:  logger,
		mux:     m,
		connect: connect,
		pending: make(map[int64]chan *tpm.Map),
	}
}

// Process implements mux.ControlProcessor. It is invoked on its own
// goroutine per inbound control frame, so a long-running Connect bridge
// never blocks dispatch of subsequent control or data frames.
func (c *Controller) Process(ctx context.Context, payload []byte) {
	msg, err := tpm.Deserialize(payload)
	if err != nil {
		c.logger.Warnf("control: malformed payload: %v", err)
		return
	}
	flagN, err := msg.GetUint8(KeyFlag)
	if err != nil {
		c.logger.Warnf("control: missing Flag: %v", err)
		return
	}
	switch Flag(flagN) {
	case FlagCallback:
		c.deliverCallback(msg)
	case FlagControl:
		c.handleRequest(ctx, msg)
	default:
		c.logger.Warnf("control: unrecognized Flag %d", flagN)
	}
}

func (c *Controller) deliverCallback(msg *tpm.Map) {
	tk, err := msg.GetInt64(KeyTk)
	if err != nil {
		c.logger.Warnf("control: callback missing Tk: %v", err)
		return
	}
	c.pendingMu.Lock()
	ch, ok := c.pending[tk]
	if ok {
		delete(c.pending, tk)
	}
	c.pendingMu.Unlock()
	if !ok {
		// Unknown Tk on a callback is silently dropped, per spec.
		return
	}
	ch <- msg
}

func (c *Controller) handleRequest(ctx context.Context, msg *tpm.Map) {
	cmdN, err := msg.GetUint8(KeyCmd)
	if err != nil {
		c.logger.Warnf("control: request missing Cmd: %v", err)
		return
	}
	switch Cmd(cmdN) {
	case CmdEstablish:
		c.handleEstablish(msg)
	case CmdConnect:
		c.handleConnect(ctx, msg)
	case CmdDispose:
		c.handleDispose(msg)
	case CmdRequest:
		c.logger.Debugf("control: Request command received, ignoring (reserved)")
	default:
		c.logger.Warnf("control: unrecognized Cmd %d", cmdN)
	}
}

// handleEstablish services an Establish request by allocating a new
// channel on this side's Multiplexer and echoing its cid back to the
// requester. This side is always the allocator: both ends then agree that
// the returned cid belongs to the Multiplexer servicing this request.
func (c *Controller) handleEstablish(req *tpm.Map) {
	// Echo the request's Tk with whatever type it was sent as (i64 or GUID).
	tk, err := req.GetValue(KeyTk)
	if err != nil {
		tk = tpm.Int64Value(0)
	}
	cid := c.mux.AllocateID()
	c.mux.NewChannel(cid, nil)

	reply := tpm.New()
	_ = reply.Set(KeyTk, tk)
	_ = reply.Set(KeyCmd, tpm.Uint8Value(uint8(CmdUnset)))
	_ = reply.Set(KeyFlag, tpm.Uint8Value(uint8(FlagCallback)))
	_ = reply.Set(KeyData, tpm.Int64Value(cid))
	if err := c.send(reply); err != nil {
		c.logger.Warnf("control: failed to reply to Establish: %v", err)
	}
}

// handleConnect services an inbound Connect request. It runs the dial and
// bidirectional bridge inline (this call is already on its own goroutine,
// spawned by the Multiplexer's dispatch path), closing the channel on
// failure rather than sending an explicit error reply.
func (c *Controller) handleConnect(ctx context.Context, req *tpm.Map) {
	cid, err := req.GetInt64(KeyData)
	if err != nil {
		c.logger.Warnf("control: Connect missing Data/cid: %v", err)
		return
	}
	host, err := req.GetString(KeyHost)
	if err != nil {
		c.logger.Warnf("control: Connect missing host: %v", err)
		return
	}
	port, err := req.GetInt32(KeyPort)
	if err != nil {
		c.logger.Warnf("control: Connect missing port: %v", err)
		return
	}
	variant, _ := req.GetUint8(KeyVariant)

	ch, ok := c.mux.Get(cid)
	if !ok {
		c.logger.Warnf("control: Connect for unknown cid %d", cid)
		return
	}
	if c.connect == nil {
		c.logger.Warnf("control: Connect received but no ConnectHandler wired, closing cid %d", cid)
		_ = ch.Close()
		return
	}
	if err := c.connect.Connect(ctx, ch, host, port, variant); err != nil {
		c.logger.Warnf("control: Connect to %s:%d failed: %v", host, port, err)
		_ = ch.Close()
	}
}

func (c *Controller) handleDispose(req *tpm.Map) {
	cid, err := req.GetInt64(KeyData)
	if err != nil {
		c.logger.Warnf("control: Dispose missing Data/cid: %v", err)
		return
	}
	if ch, ok := c.mux.Get(cid); ok {
		_ = ch.Close()
	}
}

// Establish sends an Establish request to the peer and awaits the allocated
// cid, registering a local Channel bound to it so the caller can
// immediately read/write.
func (c *Controller) Establish(ctx context.Context) (int64, error) {
	tk := c.nextTk.Add(1)
	replyCh := make(chan *tpm.Map, 1)
	c.pendingMu.Lock()
	c.pending[tk] = replyCh
	c.pendingMu.Unlock()

	req := tpm.New()
	_ = req.Set(KeyTk, tpm.Int64Value(tk))
	_ = req.Set(KeyCmd, tpm.Uint8Value(uint8(CmdEstablish)))
	_ = req.Set(KeyFlag, tpm.Uint8Value(uint8(FlagControl)))
	if err := c.send(req); err != nil {
		c.removePending(tk)
		return 0, err
	}

	select {
	case reply := <-replyCh:
		cid, err := reply.GetInt64(KeyData)
		if err != nil {
			return 0, err
		}
		if cid < 0 {
			return 0, ErrEstablishRejected
		}
		c.mux.NewChannel(cid, nil)
		return cid, nil
	case <-ctx.Done():
		c.removePending(tk)
		return 0, ctx.Err()
	}
}

// Connect asks the peer to dial host:port on behalf of cid (previously
// allocated by Establish). Per spec, a successful Connect draws no reply —
// the caller simply starts using the channel; a failure surfaces as the
// peer closing cid, observed as io.EOF on subsequent reads and ErrClosed on
// subsequent writes.
func (c *Controller) Connect(ctx context.Context, cid int64, host string, port int32, variant uint8) error {
	req := tpm.New()
	_ = req.Set(KeyTk, tpm.Int64Value(c.nextTk.Add(1)))
	_ = req.Set(KeyCmd, tpm.Uint8Value(uint8(CmdConnect)))
	_ = req.Set(KeyFlag, tpm.Uint8Value(uint8(FlagControl)))
	_ = req.Set(KeyData, tpm.Int64Value(cid))
	_ = req.Set(KeyHost, tpm.StringValue(host))
	_ = req.Set(KeyPort, tpm.Int32Value(port))
	_ = req.Set(KeyVariant, tpm.Uint8Value(variant))
	return c.send(req)
}

// Channel returns the locally registered Virtual Channel for cid, if any.
// Front-ends use this after Establish/Connect to get a handle to read and
// write through.
func (c *Controller) Channel(cid int64) (*mux.Channel, bool) {
	return c.mux.Get(cid)
}

// Dispose tells the peer to close cid and closes this side's local channel
// for it, if any. The two ends otherwise learn of a close independently:
// via this explicit Dispose command, or via the empty-payload frame a plain
// Channel.Close emits on the data plane.
func (c *Controller) Dispose(cid int64) error {
	req := tpm.New()
	_ = req.Set(KeyTk, tpm.Int64Value(c.nextTk.Add(1)))
	_ = req.Set(KeyCmd, tpm.Uint8Value(uint8(CmdDispose)))
	_ = req.Set(KeyFlag, tpm.Uint8Value(uint8(FlagControl)))
	_ = req.Set(KeyData, tpm.Int64Value(cid))
	err := c.send(req)
	if ch, ok := c.mux.Get(cid); ok {
		_ = ch.Close()
	}
	return err
}

func (c *Controller) removePending(tk int64) {
	c.pendingMu.Lock()
	delete(c.pending, tk)
	c.pendingMu.Unlock()
}

// send serializes msg and submits it on the control queue of whichever Port
// Engine currently has the least back-pressure.
func (c *Controller) send(msg *tpm.Map) error {
	eng := c.mux.SelectEngine()
	if eng == nil {
		return ErrNoEngine
	}
	body, err := tpm.Serialize(msg)
	if err != nil {
		return err
	}
	eng.EnqueueOutControl(wire.Frame{ChannelID: mux.ControlChannelID, Payload: body})
	return nil
}
