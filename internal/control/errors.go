package control

import "errors"

var (
	// ErrNoEngine is returned when a Controller has no Port Engine to send
	// a control message through.
	ErrNoEngine = errors.New("control: no port engine available")
	// ErrEstablishRejected is returned when the peer's Establish reply
	// carries Data = -1 (allocation failure).
	ErrEstablishRejected = errors.New("control: peer rejected Establish")
)
