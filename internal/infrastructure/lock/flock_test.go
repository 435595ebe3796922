package lock

import (
	"errors"
	"path/filepath"
	"testing"

	"OpportunityPipeline/internal/domain"
)

func TestTryLockIsExclusive(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state", "run.lock")

	first := NewFileLock(path)
	unlock, err := first.TryLock()
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}

	// A second descriptor on the same file conflicts, as another process would.
	if _, err := NewFileLock(path).TryLock(); !errors.Is(err, domain.ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}

	if err := unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	unlock, err = NewFileLock(path).TryLock()
	if err != nil {
		t.Fatalf("relock after release: %v", err)
	}
	if err := unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
}
