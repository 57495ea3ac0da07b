//go:build darwin || linux

package lock

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestWithRunLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "run.lock")

	ran := false
	err := WithRunLock(path, func() error {
		ran = true
		inner := WithRunLock(path, func() error {
			t.Fatal("nested run must not start while the lock is held")
			return nil
		})
		if !errors.Is(inner, ErrLocked) {
			t.Fatalf("nested lock: got %v, want ErrLocked", inner)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithRunLock: %v", err)
	}
	if !ran {
		t.Fatal("fn did not run")
	}

	// Released after fn returns.
	if err := WithRunLock(path, func() error { return nil }); err != nil {
		t.Fatalf("relock: %v", err)
	}

	want := errors.New("boom")
	if err := WithRunLock(path, func() error { return want }); !errors.Is(err, want) {
		t.Fatalf("fn error not returned: %v", err)
	}
}
