//go:build unix
// +build unix

package chain

import (
	"path/filepath"
	"testing"
)

func TestWriterLockExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.json")

	lock, err := AcquireWriterLock(path)
	if err != nil {
		t.Fatalf("AcquireWriterLock failed: %v", err)
	}
	defer lock.Release()

	if _, err := AcquireWriterLock(path); err == nil {
		t.Error("second writer lock should fail while the first is held")
	}
}

func TestWriterLockRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.json")

	lock, err := AcquireWriterLock(path)
	if err != nil {
		t.Fatalf("AcquireWriterLock failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	lock2, err := AcquireWriterLock(path)
	if err != nil {
		t.Errorf("lock should be reacquirable after release: %v", err)
	} else {
		lock2.Release()
	}
}
