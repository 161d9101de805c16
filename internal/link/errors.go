package link

import (
	"errors"
	"fmt"
)

// ErrClosed is wrapped in a TransportError when the channel is used after
// Close.
var ErrClosed = errors.New("command channel closed")

// ErrLinkDown is wrapped in a TransportError once the receive side of the
// serial connection has stopped delivering lines.
var ErrLinkDown = errors.New("serial link down")

// TransportError reports a failure of the serial link itself. It is the only
// error class the control loop treats as fatal.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("link %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err is or wraps a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
