package repo

import (
	"context"
	"database/sql"

	"bidworks/internal/domain"
)

const bidColumns = `id,job_id,provider_id,proposed_cost,estimated_time,proposal_message,status,created_at`

func scanBid(scan func(dest ...any) error) (domain.Bid, error) {
	var b domain.Bid
	var estimated, message sql.NullString
	var status string
	err := scan(&b.ID, &b.JobID, &b.ProviderID, &b.ProposedCost, &estimated, &message, &status, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	if err != nil {
		return b, err
	}
	b.Status = domain.BidStatus(status)
	if estimated.Valid {
		b.EstimatedTime = estimated.String
	}
	if message.Valid {
		b.ProposalMessage = message.String
	}
	return b, nil
}

func (r Repo) InsertBid(ctx context.Context, tx *sql.Tx, b domain.Bid) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO bids(`+bidColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		b.ID, b.JobID, b.ProviderID, b.ProposedCost, nullable(b.EstimatedTime), nullable(b.ProposalMessage),
		string(b.Status), b.CreatedAt)
	return err
}

func (r Repo) GetBid(ctx context.Context, id string) (domain.Bid, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+bidColumns+` FROM bids WHERE id=?`, id)
	return scanBid(row.Scan)
}

func (r Repo) GetBidTx(ctx context.Context, tx *sql.Tx, id string) (domain.Bid, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+bidColumns+` FROM bids WHERE id=?`, id)
	return scanBid(row.Scan)
}

// LiveBidTx returns the provider's pending or accepted bid on a job, if any.
func (r Repo) LiveBidTx(ctx context.Context, tx *sql.Tx, jobID, providerID string) (domain.Bid, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+bidColumns+` FROM bids WHERE job_id=? AND provider_id=? AND status IN ('pending','accepted') LIMIT 1`,
		jobID, providerID)
	return scanBid(row.Scan)
}

// PendingBidTx returns the provider's pending bid on a job, if any.
func (r Repo) PendingBidTx(ctx context.Context, tx *sql.Tx, jobID, providerID string) (domain.Bid, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+bidColumns+` FROM bids WHERE job_id=? AND provider_id=? AND status='pending' LIMIT 1`,
		jobID, providerID)
	return scanBid(row.Scan)
}

func (r Repo) UpdateBidStatus(ctx context.Context, tx *sql.Tx, id string, status domain.BidStatus) error {
	res, err := tx.ExecContext(ctx, `UPDATE bids SET status=? WHERE id=?`, string(status), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RejectOtherPendingBids flips every pending bid on the job except keepBidID
// to rejected and returns the ids it touched.
func (r Repo) RejectOtherPendingBids(ctx context.Context, tx *sql.Tx, jobID, keepBidID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM bids WHERE job_id=? AND status='pending' AND id<>?`, jobID, keepBidID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if _, err := tx.ExecContext(ctx, `UPDATE bids SET status='rejected' WHERE job_id=? AND status='pending' AND id<>?`, jobID, keepBidID); err != nil {
		return nil, err
	}
	return ids, nil
}

// BidWithProvider carries the provider display name for bid listings.
type BidWithProvider struct {
	domain.Bid
	ProviderName string
}

func (r Repo) ListBidsForJob(ctx context.Context, jobID string) ([]BidWithProvider, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT b.id,b.job_id,b.provider_id,b.proposed_cost,COALESCE(b.estimated_time,''),COALESCE(b.proposal_message,''),b.status,b.created_at,COALESCE(a.display_name,a.id)
FROM bids b JOIN accounts a ON a.id=b.provider_id
WHERE b.job_id=? ORDER BY b.created_at DESC, b.id DESC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []BidWithProvider
	for rows.Next() {
		var b BidWithProvider
		var status string
		if err := rows.Scan(&b.ID, &b.JobID, &b.ProviderID, &b.ProposedCost, &b.EstimatedTime, &b.ProposalMessage, &status, &b.CreatedAt, &b.ProviderName); err != nil {
			return nil, err
		}
		b.Status = domain.BidStatus(status)
		res = append(res, b)
	}
	return res, rows.Err()
}

func (r Repo) ListBidsForProvider(ctx context.Context, providerID string) ([]domain.Bid, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+bidColumns+` FROM bids WHERE provider_id=? ORDER BY created_at DESC, id DESC`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Bid
	for rows.Next() {
		var b domain.Bid
		var estimated, message sql.NullString
		var status string
		if err := rows.Scan(&b.ID, &b.JobID, &b.ProviderID, &b.ProposedCost, &estimated, &message, &status, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.Status = domain.BidStatus(status)
		if estimated.Valid {
			b.EstimatedTime = estimated.String
		}
		if message.Valid {
			b.ProposalMessage = message.String
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

// CountAcceptedBids is used by invariant-checking tests.
func (r Repo) CountAcceptedBids(ctx context.Context, jobID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM bids WHERE job_id=? AND status='accepted'`, jobID).Scan(&n)
	return n, err
}
