// Package frontend implements the SOCKS5 and HTTP-CONNECT client-facing
// listeners and the proxy-side TCP egress dialer described in spec §6 as
// out-of-scope collaborators, wired here so the module is a runnable
// whole. See SPEC_FULL.md §7.
package frontend

import (
	"net"
	"strconv"
	"time"

	"github.com/kestrel-dev/serialmux/internal/mux"
)

// channelAddr is a minimal net.Addr identifying a Virtual Channel by cid;
// the multiplexed transport has no notion of host/port addressing of its
// own.
type channelAddr struct{ cid int64 }

func (a channelAddr) Network() string { return "serialmux" }
func (a channelAddr) String() string  { return "cid:" + strconv.FormatInt(a.cid, 10) }

// channelConn adapts a *mux.Channel to net.Conn so it can be handed to
// libraries (go-socks5's ServeConn, net/http's request handling) that
// expect one. Deadlines are accepted and ignored: per spec, the core
// imposes no timeouts and leaves them to the caller.
type channelConn struct {
	ch *mux.Channel
}

// NewChannelConn wraps ch as a net.Conn.
func NewChannelConn(ch *mux.Channel) net.Conn {
	return &channelConn{ch: ch}
}

func (c *channelConn) Read(b []byte) (int, error)  { return c.ch.Read(b) }
func (c *channelConn) Write(b []byte) (int, error) { return c.ch.Write(b) }
func (c *channelConn) Close() error                { return c.ch.Close() }

func (c *channelConn) LocalAddr() net.Addr  { return channelAddr{cid: c.ch.ID()} }
func (c *channelConn) RemoteAddr() net.Addr { return channelAddr{cid: c.ch.ID()} }

func (c *channelConn) SetDeadline(t time.Time) error      { return nil }
func (c *channelConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *channelConn) SetWriteDeadline(t time.Time) error { return nil }
