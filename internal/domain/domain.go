package domain

// Role is the single role attached to an account. Roles are mutually
// exclusive: an account is exactly one of seeker, provider or admin.
type Role string

const (
	RoleSeeker   Role = "seeker"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSeeker, RoleProvider, RoleAdmin:
		return true
	}
	return false
}

type JobStatus string

const (
	JobOpen      JobStatus = "open"
	JobAssigned  JobStatus = "assigned"
	JobCompleted JobStatus = "completed"
	JobCancelled JobStatus = "cancelled"
)

func (s JobStatus) Valid() bool {
	switch s {
	case JobOpen, JobAssigned, JobCompleted, JobCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are legal from s.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobCancelled
}

type BidStatus string

const (
	BidPending  BidStatus = "pending"
	BidAccepted BidStatus = "accepted"
	BidRejected BidStatus = "rejected"
)

// Live reports whether the bid still counts against the
// one-live-bid-per-provider-per-job rule.
func (s BidStatus) Live() bool {
	return s == BidPending || s == BidAccepted
}

type Account struct {
	ID          string `json:"id"`
	Role        Role   `json:"role" enum:"seeker,provider,admin"`
	DisplayName string `json:"display_name,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Job is a seeker's posting. AssignedProviderID is non-nil exactly when
// Status is assigned or completed.
type Job struct {
	ID                 string    `json:"id"`
	SeekerID           string    `json:"seeker_id"`
	Title              string    `json:"title"`
	Description        string    `json:"description,omitempty"`
	CategoryID         string    `json:"category_id"`
	Location           string    `json:"location"`
	Budget             *float64  `json:"budget,omitempty"`
	ImageURL           string    `json:"image_url,omitempty"`
	Status             JobStatus `json:"status" enum:"open,assigned,completed,cancelled"`
	AssignedProviderID *string   `json:"assigned_provider_id,omitempty"`
	CreatedAt          string    `json:"created_at" format:"date-time"`
	UpdatedAt          string    `json:"updated_at" format:"date-time"`
}

type Bid struct {
	ID              string    `json:"id"`
	JobID           string    `json:"job_id"`
	ProviderID      string    `json:"provider_id"`
	ProposedCost    float64   `json:"proposed_cost"`
	EstimatedTime   string    `json:"estimated_time,omitempty"`
	ProposalMessage string    `json:"proposal_message,omitempty"`
	Status          BidStatus `json:"status" enum:"pending,accepted,rejected"`
	CreatedAt       string    `json:"created_at" format:"date-time"`
}

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	JobID      string `json:"job_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
