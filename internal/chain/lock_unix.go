//go:build unix
// +build unix

package chain

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// WriterLock holds the on-disk single-writer lock for a chain file. Only
// one process may append to a persisted chain at a time.
type WriterLock struct {
	f *os.File
}

// AcquireWriterLock takes an exclusive advisory lock on the chain's lock
// file without blocking. A second writer fails immediately.
func AcquireWriterLock(chainPath string) (*WriterLock, error) {
	f, err := os.OpenFile(chainPath+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("chain already locked by another writer: %w", err)
	}

	return &WriterLock{f: f}, nil
}

// Release drops the lock.
func (l *WriterLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	defer l.f.Close()
	return unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
}
