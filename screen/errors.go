package screen

import "errors"

// ErrInvalidSelection is returned by clipboard accessors given a selection
// id outside the four clipboard slots.
var ErrInvalidSelection = errors.New("screen: invalid clipboard selection")

// ErrNotReady is returned by a driver method invoked before the underlying
// display/session is available.
var ErrNotReady = errors.New("screen: not ready")
