package bridge

import "errors"

var (
	// ErrTimeout rejects a call whose response did not arrive within the channel timeout.
	ErrTimeout = errors.New("Request timeout")
	// ErrClosed rejects calls outstanding when the channel shuts down, and calls made after.
	ErrClosed = errors.New("bridge: channel closed")
	// ErrNoMethod rejects a call without a method name; the peer could never answer it.
	ErrNoMethod = errors.New("bridge: method is required")
)

// RemoteError is a response whose code is not 200. Its message is exactly the peer's msg,
// so a call to an unregistered method fails with "unknown method".
type RemoteError struct {
	Method string
	Code   int
	Msg    string
}

func (e *RemoteError) Error() string {
	return e.Msg
}
