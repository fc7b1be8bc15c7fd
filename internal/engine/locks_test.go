package engine

import (
	"errors"
	"testing"
	"time"
)

func TestJobLocksBoundedWait(t *testing.T) {
	l := newJobLocks()

	release, err := l.Acquire("job-1", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// Another job is independent.
	release2, err := l.Acquire("job-2", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire other job: %v", err)
	}
	release2()

	// Same job blocks, then times out with the retryable conflict error.
	if _, err := l.Acquire("job-1", 20*time.Millisecond); !errors.Is(err, ErrConflictingState) {
		t.Fatalf("contended acquire: %v", err)
	}

	release()
	// Release is idempotent.
	release()

	release, err = l.Acquire("job-1", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
	release()

	l.mu.Lock()
	n := len(l.entries)
	l.mu.Unlock()
	if n != 0 {
		t.Fatalf("lock table holds %d entries after release, want 0", n)
	}
}
