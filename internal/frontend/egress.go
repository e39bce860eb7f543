package frontend

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/kestrel-dev/serialmux/internal/logging"
	"github.com/kestrel-dev/serialmux/internal/mux"
)

// Egress is the proxy-side control.ConnectHandler: on an inbound Connect
// command it dials the requested host:port over TCP and bridges bytes with
// the Virtual Channel until either side closes. Grounded on the teacher's
// TCPStubEndpoint dial path (share/tcp_stub_endpoint.go) and
// BasicBridgeChannels (share/channel.go).
type Egress struct {
	logger logging.Logger
	dialer net.Dialer
}

// NewEgress creates an Egress with the given dial timeout. A zero timeout
// means no timeout.
func NewEgress(logger logging.Logger, dialTimeout time.Duration) *Egress {
	return &Egress{logger: logger, dialer: net.Dialer{Timeout: dialTimeout}}
}

// Connect implements control.ConnectHandler.
func (e *Egress) Connect(ctx context.Context, ch *mux.Channel, host string, port int32, variant uint8) error {
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))
	e.logger.Debugf("egress: dialing %s (variant %d) for cid %d", addr, variant, ch.ID())
	conn, err := e.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	_, _, err = Bridge(e.logger, ch, conn)
	return err
}
