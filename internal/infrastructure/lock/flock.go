// Package lock provides the run-level exclusive lock that keeps batches from
// overlapping, including across processes.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"OpportunityPipeline/internal/domain"
	"OpportunityPipeline/internal/ports"
)

// FileLock is a non-blocking flock on a file.
type FileLock struct {
	path string
}

var _ ports.RunLock = (*FileLock)(nil)

// NewFileLock builds a lock at path. The file is created on first use.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// TryLock acquires the lock or fails immediately with domain.ErrRunInProgress.
// The returned function releases it.
func (l *FileLock) TryLock() (unlock func() error, err error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("%s: %w", l.path, domain.ErrRunInProgress)
		}
		return nil, fmt.Errorf("acquire file lock: %w", err)
	}

	// The pid is informational for operators inspecting a stuck lock.
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	return func() error {
		defer f.Close()
		return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	}, nil
}
