package frontend

import (
	"io"
	"sync"

	"github.com/kestrel-dev/serialmux/internal/logging"
)

// Bridge copies bytes in both directions between a and b until EOF either
// way, then closes both sides. Adapted from the teacher's
// BasicBridgeChannels (share/channel.go), which half-closes each side as
// its own copy finishes and waits for both; neither a Virtual Channel nor
// the dialed TCP conn here exposes a useful independent half-close, so
// instead the first copy to finish (in either direction) triggers an
// immediate full close of both sides, unblocking the other copy rather
// than waiting for it to also reach EOF on its own.
func Bridge(logger logging.Logger, a, b io.ReadWriteCloser) (aToB int64, bToA int64, err error) {
	var wg sync.WaitGroup
	wg.Add(2)
	var errAB, errBA error
	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = a.Close()
			_ = b.Close()
		})
	}

	go func() {
		defer wg.Done()
		aToB, errAB = io.Copy(b, a)
		if errAB != nil {
			logger.Debugf("bridge: copy a->b ended: %v", errAB)
		}
		closeBoth()
	}()
	go func() {
		defer wg.Done()
		bToA, errBA = io.Copy(a, b)
		if errBA != nil {
			logger.Debugf("bridge: copy b->a ended: %v", errBA)
		}
		closeBoth()
	}()
	wg.Wait()
	closeBoth()

	err = errAB
	if err == nil {
		err = errBA
	}
	return aToB, bToA, err
}
