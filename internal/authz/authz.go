package authz

import (
	"fmt"

	"bidworks/internal/domain"
)

// Reason is a machine-readable denial cause surfaced to API callers.
type Reason string

const (
	ReasonNotSeeker     Reason = "not_seeker"
	ReasonNotProvider   Reason = "not_provider"
	ReasonNotOwner      Reason = "not_owner"
	ReasonJobNotOpen    Reason = "job_not_open"
	ReasonBidNotPending Reason = "bid_not_pending"
)

// Decision is the outcome of a guard check. Reason is empty on allow.
type Decision struct {
	Allow  bool
	Reason Reason
}

func allow() Decision        { return Decision{Allow: true} }
func deny(r Reason) Decision { return Decision{Reason: r} }

// Err converts a denial into an error, nil when allowed.
func (d Decision) Err() error {
	if d.Allow {
		return nil
	}
	return DeniedError{Reason: d.Reason}
}

// DeniedError indicates the actor lacks role or ownership for the action.
type DeniedError struct {
	Reason Reason
}

func (e DeniedError) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Reason)
}

// CanCreateJob: only seekers (or admin) post jobs.
func CanCreateJob(role domain.Role) Decision {
	if role == domain.RoleSeeker || role == domain.RoleAdmin {
		return allow()
	}
	return deny(ReasonNotSeeker)
}

// CanCancelJob: the owning seeker, or admin regardless of ownership.
// Whether the job is still cancellable is the lifecycle engine's call.
func CanCancelJob(role domain.Role, isOwner bool) Decision {
	if role == domain.RoleAdmin {
		return allow()
	}
	if role != domain.RoleSeeker {
		return deny(ReasonNotSeeker)
	}
	if !isOwner {
		return deny(ReasonNotOwner)
	}
	return allow()
}

// CanCompleteJob mirrors CanCancelJob: owner or admin marks work done.
func CanCompleteJob(role domain.Role, isOwner bool) Decision {
	return CanCancelJob(role, isOwner)
}

// CanSubmitBid: only providers, and only while the job is open. The ledger
// re-checks the job status at commit time; this is the advisory pre-check.
func CanSubmitBid(role domain.Role, jobStatus domain.JobStatus) Decision {
	if role != domain.RoleProvider {
		return deny(ReasonNotProvider)
	}
	if jobStatus != domain.JobOpen {
		return deny(ReasonJobNotOpen)
	}
	return allow()
}

// CanAcceptBid: job owner (or admin), job open, bid pending.
func CanAcceptBid(role domain.Role, isJobOwner bool, jobStatus domain.JobStatus, bidStatus domain.BidStatus) Decision {
	if d := CanCancelJob(role, isJobOwner); !d.Allow {
		return d
	}
	if jobStatus != domain.JobOpen {
		return deny(ReasonJobNotOpen)
	}
	if bidStatus != domain.BidPending {
		return deny(ReasonBidNotPending)
	}
	return allow()
}

// CanRejectBid: job owner (or admin) may prune a pending bid at any time;
// unlike accept this does not require the job to still be open.
func CanRejectBid(role domain.Role, isJobOwner bool, bidStatus domain.BidStatus) Decision {
	if d := CanCancelJob(role, isJobOwner); !d.Allow {
		return d
	}
	if bidStatus != domain.BidPending {
		return deny(ReasonBidNotPending)
	}
	return allow()
}
