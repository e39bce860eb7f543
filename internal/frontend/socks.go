package frontend

import (
	"context"
	"fmt"
	"net"
	"strconv"

	socks5 "github.com/armon/go-socks5"

	"github.com/kestrel-dev/serialmux/internal/control"
	"github.com/kestrel-dev/serialmux/internal/logging"
)

// SocksFrontend accepts local SOCKS5 clients and, for each CONNECT request,
// asks the peer (over the Control Channel) to Establish a channel and
// Connect it to the requested host:port. Grounded on the teacher's
// SocksSkeletonEndpoint (share/socks_skeleton_endpoint.go), adapted to
// serve go-socks5 directly against a listener instead of a socketpair.
type SocksFrontend struct {
	logger logging.Logger
	ctrl   *control.Controller
	server *socks5.Server
}

// NewSocksFrontend builds a SOCKS5 server whose Dial implementation routes
// through ctrl.
func NewSocksFrontend(logger logging.Logger, ctrl *control.Controller) (*SocksFrontend, error) {
	f := &SocksFrontend{logger: logger, ctrl: ctrl}
	conf := &socks5.Config{Dial: f.dial}
	server, err := socks5.New(conf)
	if err != nil {
		return nil, fmt.Errorf("frontend: building socks5 server: %w", err)
	}
	f.server = server
	return f, nil
}

func (f *SocksFrontend) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("frontend: bad socks target %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("frontend: bad socks port %q: %w", portStr, err)
	}

	cid, err := f.ctrl.Establish(ctx)
	if err != nil {
		return nil, fmt.Errorf("frontend: establish failed: %w", err)
	}
	if err := f.ctrl.Connect(ctx, cid, host, int32(port), control.VariantSOCKS5); err != nil {
		_ = f.ctrl.Dispose(cid)
		return nil, fmt.Errorf("frontend: connect failed: %w", err)
	}
	ch, ok := f.ctrl.Channel(cid)
	if !ok {
		return nil, fmt.Errorf("frontend: channel %d vanished after establish", cid)
	}
	return NewChannelConn(ch), nil
}

// ListenAndServe accepts SOCKS5 clients on addr until ctx is canceled or
// the listener errors.
func (f *SocksFrontend) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("frontend: socks5 listen on %s: %w", addr, err)
	}
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("frontend: socks5 accept: %w", err)
		}
		go func() {
			if err := f.server.ServeConn(conn); err != nil {
				f.logger.Debugf("frontend: socks5 session ended: %v", err)
			}
		}()
	}
}
