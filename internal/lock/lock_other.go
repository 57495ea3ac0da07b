//go:build !darwin && !linux

package lock

// WithRunLock is a no-op on platforms without flock.
func WithRunLock(_ string, fn func() error) error {
	return fn()
}
