package frontend

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/kestrel-dev/serialmux/internal/control"
	"github.com/kestrel-dev/serialmux/internal/logging"
)

// HTTPConnectFrontend accepts local HTTP-CONNECT clients. It parses only
// the request line and headers of a CONNECT request (net/http.ReadRequest
// is sufficient for this; no full reverse-proxy framework in the retrieved
// examples specializes further in bare CONNECT handling) and otherwise
// behaves like SocksFrontend.
type HTTPConnectFrontend struct {
	logger logging.Logger
	ctrl   *control.Controller
}

// NewHTTPConnectFrontend creates an HTTPConnectFrontend.
func NewHTTPConnectFrontend(logger logging.Logger, ctrl *control.Controller) *HTTPConnectFrontend {
	return &HTTPConnectFrontend{logger: logger, ctrl: ctrl}
}

// ListenAndServe accepts HTTP-CONNECT clients on addr until ctx is
// canceled or the listener errors.
func (f *HTTPConnectFrontend) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("frontend: http-connect listen on %s: %w", addr, err)
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
			return fmt.Errorf("frontend: http-connect accept: %w", err)
		}
		go f.serve(ctx, conn)
	}
}

func (f *HTTPConnectFrontend) serve(ctx context.Context, conn net.Conn) {
	br := bufio.NewReader(conn)
	req, err := http.ReadRequest(br)
	if err != nil {
		f.logger.Debugf("frontend: http-connect bad request: %v", err)
		conn.Close()
		return
	}
	if req.Method != http.MethodConnect {
		conn.Write([]byte("HTTP/1.1 405 Method Not Allowed\r\n\r\n"))
		conn.Close()
		return
	}

	host, portStr, err := net.SplitHostPort(req.Host)
	if err != nil {
		conn.Write([]byte("HTTP/1.1 400 Bad Request\r\n\r\n"))
		conn.Close()
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		conn.Write([]byte("HTTP/1.1 400 Bad Request\r\n\r\n"))
		conn.Close()
		return
	}

	cid, err := f.ctrl.Establish(ctx)
	if err != nil {
		f.logger.Warnf("frontend: http-connect establish failed: %v", err)
		conn.Write([]byte("HTTP/1.1 502 Bad Gateway\r\n\r\n"))
		conn.Close()
		return
	}
	if err := f.ctrl.Connect(ctx, cid, host, int32(port), control.VariantHTTPConnect); err != nil {
		f.logger.Warnf("frontend: http-connect connect failed: %v", err)
		_ = f.ctrl.Dispose(cid)
		conn.Write([]byte("HTTP/1.1 502 Bad Gateway\r\n\r\n"))
		conn.Close()
		return
	}
	ch, ok := f.ctrl.Channel(cid)
	if !ok {
		conn.Write([]byte("HTTP/1.1 502 Bad Gateway\r\n\r\n"))
		conn.Close()
		return
	}

	if _, err := conn.Write([]byte("HTTP/1.1 200 Connection established\r\n\r\n")); err != nil {
		conn.Close()
		_ = ch.Close()
		return
	}

	// Any bytes the client sent past the CONNECT request's headers, still
	// sitting in br's buffer, belong to the tunneled stream.
	if n := br.Buffered(); n > 0 {
		buf := make([]byte, n)
		_, _ = br.Read(buf)
		_, _ = ch.Write(buf)
	}

	_, _, err = Bridge(f.logger, conn, NewChannelConn(ch))
	if err != nil {
		f.logger.Debugf("frontend: http-connect bridge ended: %v", err)
	}
}
