package stream

import (
	"errors"
	"fmt"
)

// ErrTransport matches every *TransportError via errors.Is.
var ErrTransport = errors.New("transport failure")

// TransportError reports a connection, status or mid-stream read failure.
// It is fatal for the call that produced it.
type TransportError struct {
	Op         string // "connect", "status" or "read"
	StatusCode int
	Status     string // e.g. "500 Internal Server Error"
	Body       string // leading bytes of a non-success response body
	Err        error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("%s: %s", ErrTransport, e.Op)
	if e.Status != "" {
		msg += ": request failed with status " + e.Status
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
