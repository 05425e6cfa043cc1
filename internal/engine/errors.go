package engine

import "errors"

// ErrTimeout is returned by ContainerWait when the deadline elapses before
// the container exits.
var ErrTimeout = errors.New("engine: container wait timeout")

// ErrUnreachable marks a daemon-level failure unrelated to the user
// program (connection refused, socket gone, etc).
var ErrUnreachable = errors.New("engine: daemon unreachable")
