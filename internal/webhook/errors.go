package webhook

import (
	"errors"
	"fmt"
)

// ErrMalformedResponse is the cause of a TransportError when the backend
// answered 2xx with a body that does not fit the response contract.
var ErrMalformedResponse = errors.New("malformed backend response")

// TransportError reports a failed backend call: network error, timeout,
// non-2xx status, or a malformed body.
type TransportError struct {
	Op         string // "forward" or "stats"
	StatusCode int    // 0 when no response was received
	Cause      error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("webhook %s: status %d: %v", e.Op, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("webhook %s: %v", e.Op, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }
