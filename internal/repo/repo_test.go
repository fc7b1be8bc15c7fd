package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"bidworks/internal/db"
	"bidworks/internal/domain"
	"bidworks/internal/migrate"
)

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := Repo{DB: conn}
	ctx := context.Background()
	for _, a := range []domain.Account{
		{ID: "s1", Role: domain.RoleSeeker, CreatedAt: "2026-08-01T00:00:00Z"},
		{ID: "s2", Role: domain.RoleSeeker, CreatedAt: "2026-08-01T00:00:00Z"},
		{ID: "p1", Role: domain.RoleProvider, CreatedAt: "2026-08-01T00:00:00Z"},
		{ID: "p2", Role: domain.RoleProvider, CreatedAt: "2026-08-01T00:00:00Z"},
	} {
		if err := r.InsertAccount(ctx, a); err != nil {
			t.Fatalf("insert account %s: %v", a.ID, err)
		}
	}
	for _, c := range []domain.Category{
		{ID: "plumbing", Name: "Plumbing"},
		{ID: "electrical", Name: "Electrical"},
	} {
		if err := r.UpsertCategory(ctx, c); err != nil {
			t.Fatalf("insert category %s: %v", c.ID, err)
		}
	}
	return r
}

func insertJob(t *testing.T, r Repo, j domain.Job) domain.Job {
	t.Helper()
	if j.Status == "" {
		j.Status = domain.JobOpen
	}
	if j.UpdatedAt == "" {
		j.UpdatedAt = j.CreatedAt
	}
	tx, err := r.DB.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := r.InsertJob(context.Background(), tx, j); err != nil {
		t.Fatalf("insert job %s: %v", j.ID, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return j
}

func insertBid(t *testing.T, r Repo, b domain.Bid) domain.Bid {
	t.Helper()
	if b.Status == "" {
		b.Status = domain.BidPending
	}
	if b.CreatedAt == "" {
		b.CreatedAt = "2026-08-02T00:00:00Z"
	}
	tx, err := r.DB.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := r.InsertBid(context.Background(), tx, b); err != nil {
		t.Fatalf("insert bid %s: %v", b.ID, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return b
}

func TestListJobsFilterAndOrder(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	mk := func(id, seeker, category, location, status, createdAt string) {
		insertJob(t, r, domain.Job{
			ID: id, SeekerID: seeker, Title: "job " + id,
			CategoryID: category, Location: location,
			Status: domain.JobStatus(status), CreatedAt: createdAt,
		})
	}
	mk("j1", "s1", "plumbing", "Paris", "open", "2026-08-10T10:00:00Z")
	mk("j2", "s1", "electrical", "Paris", "open", "2026-08-11T10:00:00Z")
	mk("j3", "s2", "plumbing", "Lille", "open", "2026-08-12T10:00:00Z")
	mk("j4", "s2", "plumbing", "Paris", "cancelled", "2026-08-13T10:00:00Z")

	all, err := r.ListJobs(ctx, JobFilters{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("all = %d, want 4", len(all))
	}
	// Newest first.
	for i, want := range []string{"j4", "j3", "j2", "j1"} {
		if all[i].ID != want {
			t.Fatalf("order[%d] = %s, want %s", i, all[i].ID, want)
		}
	}

	// AND semantics: every set filter must match.
	got, err := r.ListJobs(ctx, JobFilters{CategoryID: "plumbing", Location: "Paris", Status: "open"})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(got) != 1 || got[0].ID != "j1" {
		t.Fatalf("filtered = %+v, want only j1", got)
	}
	if got[0].CategoryName != "Plumbing" {
		t.Fatalf("category name = %s", got[0].CategoryName)
	}

	got, err = r.ListJobs(ctx, JobFilters{SeekerID: "s2", Status: "open"})
	if err != nil {
		t.Fatalf("list by seeker: %v", err)
	}
	if len(got) != 1 || got[0].ID != "j3" {
		t.Fatalf("seeker filter = %+v, want only j3", got)
	}

	// No matches is an empty result, not an error.
	got, err = r.ListJobs(ctx, JobFilters{CategoryID: "electrical", Location: "Lille"})
	if err != nil {
		t.Fatalf("list empty: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("empty filter = %d rows", len(got))
	}
}

func TestListJobsCursor(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	// Identical timestamps force the id tie-break.
	ts := "2026-08-10T10:00:00Z"
	for i := 1; i <= 5; i++ {
		insertJob(t, r, domain.Job{
			ID: fmt.Sprintf("job-%d", i), SeekerID: "s1", Title: "t",
			CategoryID: "plumbing", Location: "Paris",
			Status: domain.JobOpen, CreatedAt: ts,
		})
	}

	first, err := r.ListJobs(ctx, JobFilters{Limit: 2})
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(first) != 2 || first[0].ID != "job-5" || first[1].ID != "job-4" {
		t.Fatalf("page 1 = %+v", first)
	}

	second, err := r.ListJobs(ctx, JobFilters{
		Limit:           2,
		CursorCreatedAt: first[1].CreatedAt,
		CursorID:        first[1].ID,
	})
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(second) != 2 || second[0].ID != "job-3" || second[1].ID != "job-2" {
		t.Fatalf("page 2 = %+v", second)
	}
}

func TestListJobsBidCounts(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	insertJob(t, r, domain.Job{
		ID: "j1", SeekerID: "s1", Title: "t", CategoryID: "plumbing",
		Location: "Paris", Status: domain.JobOpen, CreatedAt: "2026-08-10T10:00:00Z",
	})
	insertBid(t, r, domain.Bid{ID: "b1", JobID: "j1", ProviderID: "p1", ProposedCost: 10})
	insertBid(t, r, domain.Bid{ID: "b2", JobID: "j1", ProviderID: "p2", ProposedCost: 20, Status: domain.BidRejected})

	got, err := r.ListJobs(ctx, JobFilters{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("rows = %d", len(got))
	}
	if got[0].BidCount != 2 || got[0].PendingBidCount != 1 {
		t.Fatalf("counts = %d/%d, want 2/1", got[0].BidCount, got[0].PendingBidCount)
	}
}

func TestLiveBidLookup(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	insertJob(t, r, domain.Job{
		ID: "j1", SeekerID: "s1", Title: "t", CategoryID: "plumbing",
		Location: "Paris", Status: domain.JobOpen, CreatedAt: "2026-08-10T10:00:00Z",
	})
	insertBid(t, r, domain.Bid{ID: "b1", JobID: "j1", ProviderID: "p1", ProposedCost: 10, Status: domain.BidRejected})

	tx, err := r.DB.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()

	// A rejected bid is not live.
	if _, err := r.LiveBidTx(ctx, tx, "j1", "p1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("live lookup over rejected bid: %v", err)
	}
	if err := r.InsertBid(ctx, tx, domain.Bid{
		ID: "b2", JobID: "j1", ProviderID: "p1", ProposedCost: 9,
		Status: domain.BidPending, CreatedAt: "2026-08-10T11:00:00Z",
	}); err != nil {
		t.Fatalf("insert pending: %v", err)
	}
	live, err := r.LiveBidTx(ctx, tx, "j1", "p1")
	if err != nil {
		t.Fatalf("live lookup: %v", err)
	}
	if live.ID != "b2" {
		t.Fatalf("live bid = %s, want b2", live.ID)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestUniqueLiveBidIndex(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	insertJob(t, r, domain.Job{
		ID: "j1", SeekerID: "s1", Title: "t", CategoryID: "plumbing",
		Location: "Paris", Status: domain.JobOpen, CreatedAt: "2026-08-10T10:00:00Z",
	})
	insertBid(t, r, domain.Bid{ID: "b1", JobID: "j1", ProviderID: "p1", ProposedCost: 10})

	// The partial unique index backstops the engine's duplicate check.
	tx, err := r.DB.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	err = r.InsertBid(ctx, tx, domain.Bid{
		ID: "b2", JobID: "j1", ProviderID: "p1", ProposedCost: 9,
		Status: domain.BidPending, CreatedAt: "2026-08-10T11:00:00Z",
	})
	if err == nil {
		t.Fatal("second live bid for the same provider should violate the unique index")
	}
}

func TestUpdateJobStateMissing(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	tx, err := r.DB.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	err = r.UpdateJobState(ctx, tx, domain.Job{ID: "ghost", Status: domain.JobCancelled, UpdatedAt: "2026-08-10T10:00:00Z"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing job: %v", err)
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	raw := "bw_test_key_123"
	if err := r.InsertAPIKey(ctx, nil, domain.APIKey{
		ID:        "k1",
		AccountID: "p1",
		Name:      "agent",
		KeyHash:   HashAPIKey(raw),
	}); err != nil {
		t.Fatalf("insert key: %v", err)
	}
	key, err := r.GetAPIKeyByHash(ctx, HashAPIKey(raw))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if key.AccountID != "p1" || key.Name != "agent" {
		t.Fatalf("key = %+v", key)
	}
	if _, err := r.GetAPIKeyByHash(ctx, HashAPIKey("wrong")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("wrong key lookup: %v", err)
	}
}
