// Package lock serializes runs across processes with an advisory file lock.
package lock

import "errors"

// ErrLocked is returned when another process already holds the run lock.
var ErrLocked = errors.New("another run is in progress")
