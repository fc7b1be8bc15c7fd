package engine

import (
	"sync"
	"time"
)

// jobLocks serializes mutations per job id. Slots are created on first use
// and dropped once no goroutine references them.
type jobLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	ch   chan struct{}
	refs int
}

func newJobLocks() *jobLocks {
	return &jobLocks{entries: map[string]*lockEntry{}}
}

// Acquire waits up to wait for the job's slot and returns a release func.
// An expired wait returns ErrConflictingState: the caller lost to another
// writer and should re-fetch before retrying.
func (l *jobLocks) Acquire(jobID string, wait time.Duration) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[jobID]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		l.entries[jobID] = e
	}
	e.refs++
	l.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case e.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.ch
				l.put(jobID)
			})
		}, nil
	case <-timer.C:
		l.put(jobID)
		return nil, ErrConflictingState
	}
}

func (l *jobLocks) put(jobID string) {
	l.mu.Lock()
	if e, ok := l.entries[jobID]; ok {
		e.refs--
		if e.refs == 0 {
			delete(l.entries, jobID)
		}
	}
	l.mu.Unlock()
}
