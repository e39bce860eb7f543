// Package serialio opens and reopens the physical serial device a Port
// Engine drives. Actual device configuration (baud rate, parity, flow
// control) is out of scope per spec §1/§6: no third-party serial port
// driver appears anywhere in the retrieved examples' go.mod files, so the
// device itself is opened with the standard library (justified in
// DESIGN.md); only the reopen/retry policy is grounded on the teacher.
package serialio

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jpillora/backoff"

	"github.com/kestrel-dev/serialmux/internal/logging"
	"github.com/kestrel-dev/serialmux/internal/port"
)

// OpenFile opens path as a Port Engine Device. On most platforms a serial
// device node already behaves as an unbuffered byte stream once opened in
// read/write mode; any termios-level configuration is the deployer's
// responsibility (e.g. via stty before launch).
func OpenFile(path string) (port.Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("serialio: open %s: %w", path, err)
	}
	return f, nil
}

// OpenWithRetry opens path, retrying with exponential backoff (grounded on
// the teacher's reconnect loop in share/client.go) until it succeeds or ctx
// is canceled. maxInterval bounds the backoff; pass 0 for the library
// default.
func OpenWithRetry(ctx context.Context, logger logging.Logger, path string, maxInterval time.Duration) (port.Device, error) {
	b := &backoff.Backoff{Max: maxInterval}
	for {
		dev, err := OpenFile(path)
		if err == nil {
			return dev, nil
		}
		d := b.Duration()
		logger.Warnf("serialio: open %s failed (attempt %d): %v, retrying in %s", path, int(b.Attempt()), err, d)
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
