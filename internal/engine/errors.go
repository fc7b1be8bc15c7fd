package engine

import (
	"errors"
	"fmt"

	"bidworks/internal/authz"
	"bidworks/internal/domain"
)

var (
	// ErrDuplicateBid: the provider already holds a pending or accepted bid
	// on the job.
	ErrDuplicateBid = errors.New("provider already holds a live bid on this job")

	// ErrJobNotOpen: the job stopped accepting bids. Retrying without a
	// different job will fail again.
	ErrJobNotOpen = errors.New("job is not open for bids")

	// ErrConflictingState: the operation lost a race to a concurrent
	// mutation. Safe to retry after re-fetching current state.
	ErrConflictingState = errors.New("conflicting state, re-fetch and retry")
)

// InvalidTransitionError reports an illegal job lifecycle transition. The job
// is left unchanged.
type InvalidTransitionError struct {
	From domain.JobStatus
	To   domain.JobStatus
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid job transition %s -> %s", e.From, e.To)
}

// ValidationError reports a malformed or missing input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// guardErr turns a guard decision into the error the caller should see.
// Role and ownership denials stay authorization failures; state-based
// denials become the supplied conflict error, since the same condition is
// re-checked inside the critical section and callers must be able to tell
// "you may not" apart from "not right now".
func guardErr(d authz.Decision, stateErr error) error {
	if d.Allow {
		return nil
	}
	switch d.Reason {
	case authz.ReasonJobNotOpen, authz.ReasonBidNotPending:
		return stateErr
	default:
		return authz.DeniedError{Reason: d.Reason}
	}
}
