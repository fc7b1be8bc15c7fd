package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"bidworks/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- accounts ---

func (r Repo) InsertAccount(ctx context.Context, a domain.Account) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO accounts(id,role,display_name,created_at) VALUES (?,?,?,?)`,
		a.ID, string(a.Role), nullable(a.DisplayName), a.CreatedAt)
	return err
}

func (r Repo) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	var a domain.Account
	var name sql.NullString
	var role string
	err := r.DB.QueryRowContext(ctx, `SELECT id,role,display_name,created_at FROM accounts WHERE id=?`, id).
		Scan(&a.ID, &role, &name, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.Role = domain.Role(role)
	if name.Valid {
		a.DisplayName = name.String
	}
	return a, nil
}

func (r Repo) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,role,COALESCE(display_name,''),created_at FROM accounts ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Account
	for rows.Next() {
		var a domain.Account
		var role string
		if err := rows.Scan(&a.ID, &role, &a.DisplayName, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Role = domain.Role(role)
		res = append(res, a)
	}
	return res, rows.Err()
}

// --- categories ---

func (r Repo) UpsertCategory(ctx context.Context, c domain.Category) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO categories(id,name) VALUES (?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name`, c.ID, c.Name)
	return err
}

func (r Repo) GetCategory(ctx context.Context, id string) (domain.Category, error) {
	var c domain.Category
	err := r.DB.QueryRowContext(ctx, `SELECT id,name FROM categories WHERE id=?`, id).Scan(&c.ID, &c.Name)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name FROM categories ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Category
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// --- jobs ---

const jobColumns = `id,seeker_id,title,description,category_id,location,budget,image_url,status,assigned_provider_id,created_at,updated_at`

func scanJob(scan func(dest ...any) error) (domain.Job, error) {
	var j domain.Job
	var description, imageURL, assignedProvider sql.NullString
	var budget sql.NullFloat64
	var status string
	err := scan(&j.ID, &j.SeekerID, &j.Title, &description, &j.CategoryID, &j.Location, &budget, &imageURL, &status, &assignedProvider, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	if err != nil {
		return j, err
	}
	j.Status = domain.JobStatus(status)
	if description.Valid {
		j.Description = description.String
	}
	if imageURL.Valid {
		j.ImageURL = imageURL.String
	}
	if budget.Valid {
		b := budget.Float64
		j.Budget = &b
	}
	if assignedProvider.Valid {
		j.AssignedProviderID = &assignedProvider.String
	}
	return j, nil
}

func (r Repo) InsertJob(ctx context.Context, tx *sql.Tx, j domain.Job) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO jobs(`+jobColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.SeekerID, j.Title, nullable(j.Description), j.CategoryID, j.Location,
		nullableFloatPtr(j.Budget), nullable(j.ImageURL), string(j.Status), nullableStringPtr(j.AssignedProviderID),
		j.CreatedAt, j.UpdatedAt)
	return err
}

// UpdateJobState writes the transition result: status, assigned provider and
// updated_at. All other job fields are immutable after creation.
func (r Repo) UpdateJobState(ctx context.Context, tx *sql.Tx, j domain.Job) error {
	res, err := tx.ExecContext(ctx, `UPDATE jobs SET status=?, assigned_provider_id=?, updated_at=? WHERE id=?`,
		string(j.Status), nullableStringPtr(j.AssignedProviderID), j.UpdatedAt, j.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetJob(ctx context.Context, id string) (domain.Job, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id)
	return scanJob(row.Scan)
}

func (r Repo) GetJobTx(ctx context.Context, tx *sql.Tx, id string) (domain.Job, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id)
	return scanJob(row.Scan)
}

type JobFilters struct {
	CategoryID      string
	Location        string
	Status          string
	SeekerID        string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

// JobListing is a listing row with the denormalized fields the browsing view
// renders: category name and bid counts.
type JobListing struct {
	domain.Job
	CategoryName    string
	BidCount        int
	PendingBidCount int
}

// ListJobs applies AND semantics over the set filters; unset fields are
// wildcards. Ordering is created_at DESC then id DESC for a stable cursor.
func (r Repo) ListJobs(ctx context.Context, f JobFilters) ([]JobListing, error) {
	var clauses []string
	var args []any
	if f.CategoryID != "" {
		clauses = append(clauses, "j.category_id=?")
		args = append(args, f.CategoryID)
	}
	if f.Location != "" {
		clauses = append(clauses, "j.location=?")
		args = append(args, f.Location)
	}
	if f.Status != "" {
		clauses = append(clauses, "j.status=?")
		args = append(args, f.Status)
	}
	if f.SeekerID != "" {
		clauses = append(clauses, "j.seeker_id=?")
		args = append(args, f.SeekerID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(j.created_at < ? OR (j.created_at = ? AND j.id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT j.id,j.seeker_id,j.title,j.description,j.category_id,j.location,j.budget,j.image_url,j.status,j.assigned_provider_id,j.created_at,j.updated_at,
c.name,
(SELECT COUNT(*) FROM bids b WHERE b.job_id=j.id),
(SELECT COUNT(*) FROM bids b WHERE b.job_id=j.id AND b.status='pending')
FROM jobs j JOIN categories c ON c.id=j.category_id ` + where + ` ORDER BY j.created_at DESC, j.id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []JobListing
	for rows.Next() {
		var l JobListing
		var description, imageURL, assignedProvider sql.NullString
		var budget sql.NullFloat64
		var status string
		if err := rows.Scan(&l.ID, &l.SeekerID, &l.Title, &description, &l.CategoryID, &l.Location, &budget, &imageURL, &status, &assignedProvider,
			&l.CreatedAt, &l.UpdatedAt, &l.CategoryName, &l.BidCount, &l.PendingBidCount); err != nil {
			return nil, err
		}
		l.Status = domain.JobStatus(status)
		if description.Valid {
			l.Description = description.String
		}
		if imageURL.Valid {
			l.ImageURL = imageURL.String
		}
		if budget.Valid {
			b := budget.Float64
			l.Budget = &b
		}
		if assignedProvider.Valid {
			l.AssignedProviderID = &assignedProvider.String
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
