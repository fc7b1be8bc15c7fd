package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"bidworks/internal/authz"
	"bidworks/internal/config"
	"bidworks/internal/domain"
	"bidworks/internal/events"
	"bidworks/internal/repo"
)

const defaultLockWait = 2 * time.Second

// Actor is the resolved identity performing an operation. It is passed
// explicitly into every call; the engine keeps no ambient notion of a
// current user.
type Actor struct {
	AccountID string
	Role      domain.Role
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
	// LockWait bounds how long a mutation waits for a job's writer slot.
	LockWait time.Duration

	locks *jobLocks
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Now:      time.Now,
		LockWait: defaultLockWait,
		locks:    newJobLocks(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) lockWait() time.Duration {
	if e.LockWait > 0 {
		return e.LockWait
	}
	return defaultLockWait
}

// CreateAccount registers an account row so identity can resolve against it.
// Registration proper (credentials, verification) lives outside this core.
func (e Engine) CreateAccount(ctx context.Context, a domain.Account) (domain.Account, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if !a.Role.Valid() {
		return domain.Account{}, ValidationError{Field: "role", Reason: "must be seeker, provider or admin"}
	}
	a.CreatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.InsertAccount(ctx, a); err != nil {
		return domain.Account{}, err
	}
	return a, nil
}

// SeedCategories upserts the configured category catalog. The catalog itself
// is an external concern; this mirrors it locally for FK checks and
// denormalized listings.
func (e Engine) SeedCategories(ctx context.Context) error {
	if e.Config == nil {
		return nil
	}
	for _, c := range e.Config.Categories {
		if err := e.Repo.UpsertCategory(ctx, domain.Category{ID: c.ID, Name: c.Name}); err != nil {
			return err
		}
	}
	return nil
}

// JobCreateOptions are parameters for posting a job.
type JobCreateOptions struct {
	ID          string
	SeekerID    string // admin may post on behalf of a seeker; otherwise ignored
	Title       string
	Description string
	CategoryID  string
	Location    string
	Budget      *float64
	ImageURL    string
}

func (e Engine) CreateJob(ctx context.Context, opts JobCreateOptions, actor Actor) (domain.Job, error) {
	if err := authz.CanCreateJob(actor.Role).Err(); err != nil {
		return domain.Job{}, err
	}
	if opts.Title == "" {
		return domain.Job{}, ValidationError{Field: "title", Reason: "is required"}
	}
	if opts.CategoryID == "" {
		return domain.Job{}, ValidationError{Field: "category_id", Reason: "is required"}
	}
	if opts.Location == "" {
		return domain.Job{}, ValidationError{Field: "location", Reason: "is required"}
	}
	if opts.Budget != nil && *opts.Budget < 0 {
		return domain.Job{}, ValidationError{Field: "budget", Reason: "must not be negative"}
	}
	if _, err := e.Repo.GetCategory(ctx, opts.CategoryID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Job{}, ValidationError{Field: "category_id", Reason: "unknown category"}
		}
		return domain.Job{}, err
	}
	seekerID := actor.AccountID
	if opts.SeekerID != "" && opts.SeekerID != actor.AccountID {
		if actor.Role != domain.RoleAdmin {
			return domain.Job{}, authz.DeniedError{Reason: authz.ReasonNotOwner}
		}
		seekerID = opts.SeekerID
	}
	if _, err := e.Repo.GetAccount(ctx, seekerID); err != nil {
		return domain.Job{}, err
	}

	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	j := domain.Job{
		ID:          id,
		SeekerID:    seekerID,
		Title:       opts.Title,
		Description: opts.Description,
		CategoryID:  opts.CategoryID,
		Location:    opts.Location,
		Budget:      opts.Budget,
		ImageURL:    opts.ImageURL,
		Status:      domain.JobOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertJob(ctx, tx, j); err != nil {
		return domain.Job{}, err
	}
	if err := e.Events.Append(ctx, tx, "job.created", j.ID, "job", j.ID, actor.AccountID, events.EventPayload{
		"title":       j.Title,
		"category_id": j.CategoryID,
		"status":      string(j.Status),
	}); err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	return j, nil
}

func ensureJobTransition(from, to domain.JobStatus) error {
	switch from {
	case domain.JobOpen:
		if to == domain.JobAssigned || to == domain.JobCancelled {
			return nil
		}
	case domain.JobAssigned:
		if to == domain.JobCompleted {
			return nil
		}
	}
	return InvalidTransitionError{From: from, To: to}
}

// CancelJob moves an open job to cancelled. Outstanding pending bids are left
// pending; they become unacceptable because the job is no longer open.
func (e Engine) CancelJob(ctx context.Context, jobID string, actor Actor) (domain.Job, error) {
	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if err := authz.CanCancelJob(actor.Role, j.SeekerID == actor.AccountID).Err(); err != nil {
		return domain.Job{}, err
	}
	return e.transitionJob(ctx, jobID, domain.JobCancelled, "job.cancelled", actor)
}

// CompleteJob marks an assigned job's work as done.
func (e Engine) CompleteJob(ctx context.Context, jobID string, actor Actor) (domain.Job, error) {
	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if err := authz.CanCompleteJob(actor.Role, j.SeekerID == actor.AccountID).Err(); err != nil {
		return domain.Job{}, err
	}
	return e.transitionJob(ctx, jobID, domain.JobCompleted, "job.completed", actor)
}

func (e Engine) transitionJob(ctx context.Context, jobID string, to domain.JobStatus, evtType string, actor Actor) (domain.Job, error) {
	release, err := e.locks.Acquire(jobID, e.lockWait())
	if err != nil {
		return domain.Job{}, err
	}
	defer release()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()

	j, err := e.Repo.GetJobTx(ctx, tx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if err := ensureJobTransition(j.Status, to); err != nil {
		return domain.Job{}, err
	}
	from := j.Status
	j.Status = to
	if to == domain.JobCancelled {
		j.AssignedProviderID = nil
	}
	j.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateJobState(ctx, tx, j); err != nil {
		return domain.Job{}, err
	}
	if err := e.Events.Append(ctx, tx, evtType, j.ID, "job", j.ID, actor.AccountID, events.EventPayload{
		"from_status": string(from),
		"to_status":   string(to),
	}); err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	return j, nil
}

// BidSubmitOptions are parameters for a provider's proposal.
type BidSubmitOptions struct {
	ID              string
	JobID           string
	ProposedCost    float64
	EstimatedTime   string
	ProposalMessage string
}

func (e Engine) SubmitBid(ctx context.Context, opts BidSubmitOptions, actor Actor) (domain.Bid, error) {
	if opts.JobID == "" {
		return domain.Bid{}, ValidationError{Field: "job_id", Reason: "is required"}
	}
	if opts.ProposedCost < 0 {
		return domain.Bid{}, ValidationError{Field: "proposed_cost", Reason: "must not be negative"}
	}
	j, err := e.Repo.GetJob(ctx, opts.JobID)
	if err != nil {
		return domain.Bid{}, err
	}
	if err := guardErr(authz.CanSubmitBid(actor.Role, j.Status), ErrJobNotOpen); err != nil {
		return domain.Bid{}, err
	}

	release, err := e.locks.Acquire(j.ID, e.lockWait())
	if err != nil {
		return domain.Bid{}, err
	}
	defer release()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bid{}, err
	}
	defer tx.Rollback()

	// The guard check above is advisory; the job may have been assigned or
	// cancelled since. Re-check before committing.
	j, err = e.Repo.GetJobTx(ctx, tx, j.ID)
	if err != nil {
		return domain.Bid{}, err
	}
	if j.Status != domain.JobOpen {
		return domain.Bid{}, ErrJobNotOpen
	}
	if _, err := e.Repo.LiveBidTx(ctx, tx, j.ID, actor.AccountID); err == nil {
		return domain.Bid{}, ErrDuplicateBid
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Bid{}, err
	}

	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	b := domain.Bid{
		ID:              id,
		JobID:           j.ID,
		ProviderID:      actor.AccountID,
		ProposedCost:    opts.ProposedCost,
		EstimatedTime:   opts.EstimatedTime,
		ProposalMessage: opts.ProposalMessage,
		Status:          domain.BidPending,
		CreatedAt:       e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertBid(ctx, tx, b); err != nil {
		return domain.Bid{}, err
	}
	if err := e.Events.Append(ctx, tx, "bid.submitted", j.ID, "bid", b.ID, actor.AccountID, events.EventPayload{
		"proposed_cost": b.ProposedCost,
	}); err != nil {
		return domain.Bid{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Bid{}, err
	}
	return b, nil
}

// AcceptBid accepts one pending bid on an open job. Atomically: the bid
// becomes accepted, every other pending bid on the job becomes rejected and
// the job moves open -> assigned with the bid's provider. Losing any of the
// precondition re-checks yields ErrConflictingState with nothing mutated.
func (e Engine) AcceptBid(ctx context.Context, bidID string, actor Actor) (domain.Job, domain.Bid, error) {
	b, err := e.Repo.GetBid(ctx, bidID)
	if err != nil {
		return domain.Job{}, domain.Bid{}, err
	}
	j, err := e.Repo.GetJob(ctx, b.JobID)
	if err != nil {
		return domain.Job{}, domain.Bid{}, err
	}
	if err := guardErr(authz.CanAcceptBid(actor.Role, j.SeekerID == actor.AccountID, j.Status, b.Status), ErrConflictingState); err != nil {
		return domain.Job{}, domain.Bid{}, err
	}

	release, err := e.locks.Acquire(j.ID, e.lockWait())
	if err != nil {
		return domain.Job{}, domain.Bid{}, err
	}
	defer release()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, domain.Bid{}, err
	}
	defer tx.Rollback()

	j, err = e.Repo.GetJobTx(ctx, tx, j.ID)
	if err != nil {
		return domain.Job{}, domain.Bid{}, err
	}
	b, err = e.Repo.GetBidTx(ctx, tx, b.ID)
	if err != nil {
		return domain.Job{}, domain.Bid{}, err
	}
	j, b, err = e.acceptBidTx(ctx, tx, j, b, actor)
	if err != nil {
		return domain.Job{}, domain.Bid{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, domain.Bid{}, err
	}
	return j, b, nil
}

// AssignProvider accepts the provider's pending bid on the job; this is the
// job-centric form of AcceptBid used by the assign_provider endpoint.
func (e Engine) AssignProvider(ctx context.Context, jobID, providerID string, actor Actor) (domain.Job, domain.Bid, error) {
	j, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, domain.Bid{}, err
	}
	if err := authz.CanCancelJob(actor.Role, j.SeekerID == actor.AccountID).Err(); err != nil {
		return domain.Job{}, domain.Bid{}, err
	}

	release, err := e.locks.Acquire(jobID, e.lockWait())
	if err != nil {
		return domain.Job{}, domain.Bid{}, err
	}
	defer release()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, domain.Bid{}, err
	}
	defer tx.Rollback()

	j, err = e.Repo.GetJobTx(ctx, tx, jobID)
	if err != nil {
		return domain.Job{}, domain.Bid{}, err
	}
	b, err := e.Repo.PendingBidTx(ctx, tx, jobID, providerID)
	if err != nil {
		return domain.Job{}, domain.Bid{}, err
	}
	j, b, err = e.acceptBidTx(ctx, tx, j, b, actor)
	if err != nil {
		return domain.Job{}, domain.Bid{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, domain.Bid{}, err
	}
	return j, b, nil
}

// acceptBidTx applies the acceptance inside the caller's transaction and
// per-job critical section. j and b must have been re-read through tx.
func (e Engine) acceptBidTx(ctx context.Context, tx *sql.Tx, j domain.Job, b domain.Bid, actor Actor) (domain.Job, domain.Bid, error) {
	if j.Status != domain.JobOpen || b.Status != domain.BidPending {
		return domain.Job{}, domain.Bid{}, ErrConflictingState
	}
	if err := e.Repo.UpdateBidStatus(ctx, tx, b.ID, domain.BidAccepted); err != nil {
		return domain.Job{}, domain.Bid{}, err
	}
	rejected, err := e.Repo.RejectOtherPendingBids(ctx, tx, j.ID, b.ID)
	if err != nil {
		return domain.Job{}, domain.Bid{}, err
	}
	if err := ensureJobTransition(j.Status, domain.JobAssigned); err != nil {
		return domain.Job{}, domain.Bid{}, err
	}
	j.Status = domain.JobAssigned
	j.AssignedProviderID = &b.ProviderID
	j.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateJobState(ctx, tx, j); err != nil {
		return domain.Job{}, domain.Bid{}, err
	}
	if err := e.Events.Append(ctx, tx, "bid.accepted", j.ID, "bid", b.ID, actor.AccountID, events.EventPayload{
		"provider_id":   b.ProviderID,
		"proposed_cost": b.ProposedCost,
	}); err != nil {
		return domain.Job{}, domain.Bid{}, err
	}
	for _, id := range rejected {
		if err := e.Events.Append(ctx, tx, "bid.rejected", j.ID, "bid", id, actor.AccountID, events.EventPayload{
			"superseded_by": b.ID,
		}); err != nil {
			return domain.Job{}, domain.Bid{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "job.assigned", j.ID, "job", j.ID, actor.AccountID, events.EventPayload{
		"provider_id": b.ProviderID,
		"bid_id":      b.ID,
	}); err != nil {
		return domain.Job{}, domain.Bid{}, err
	}
	b.Status = domain.BidAccepted
	return j, b, nil
}

// RejectBid turns down a single pending bid without touching the job. The
// owner may prune offers whether or not the job is still open.
func (e Engine) RejectBid(ctx context.Context, bidID string, actor Actor) (domain.Bid, error) {
	b, err := e.Repo.GetBid(ctx, bidID)
	if err != nil {
		return domain.Bid{}, err
	}
	j, err := e.Repo.GetJob(ctx, b.JobID)
	if err != nil {
		return domain.Bid{}, err
	}
	if err := guardErr(authz.CanRejectBid(actor.Role, j.SeekerID == actor.AccountID, b.Status), ErrConflictingState); err != nil {
		return domain.Bid{}, err
	}

	release, err := e.locks.Acquire(j.ID, e.lockWait())
	if err != nil {
		return domain.Bid{}, err
	}
	defer release()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Bid{}, err
	}
	defer tx.Rollback()

	b, err = e.Repo.GetBidTx(ctx, tx, b.ID)
	if err != nil {
		return domain.Bid{}, err
	}
	if b.Status != domain.BidPending {
		return domain.Bid{}, ErrConflictingState
	}
	if err := e.Repo.UpdateBidStatus(ctx, tx, b.ID, domain.BidRejected); err != nil {
		return domain.Bid{}, err
	}
	if err := e.Events.Append(ctx, tx, "bid.rejected", j.ID, "bid", b.ID, actor.AccountID, nil); err != nil {
		return domain.Bid{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Bid{}, err
	}
	b.Status = domain.BidRejected
	return b, nil
}
