package broker

import "errors"

// ErrTransport indicates the underlying message transport failed to publish
// or subscribe (connection down, broker rejected the operation, etc).
var ErrTransport = errors.New("broker: transport error")

// ErrTimeout indicates a WaitForState or PublishAndWait call did not see a
// matching message before its deadline.
var ErrTimeout = errors.New("broker: timed out waiting for state")
