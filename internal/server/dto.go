package server

import (
	"bidworks/internal/domain"
	"bidworks/internal/repo"
)

// Request payloads

type CreateJobRequest struct {
	ID          *string  `json:"id,omitempty"`
	SeekerID    *string  `json:"seeker_id,omitempty"`
	Title       string   `json:"title"`
	Description *string  `json:"description,omitempty"`
	CategoryID  string   `json:"category_id"`
	Location    string   `json:"location"`
	Budget      *float64 `json:"budget,omitempty"`
	ImageURL    *string  `json:"image_url,omitempty"`
}

type SubmitBidRequest struct {
	ID              *string `json:"id,omitempty"`
	JobID           string  `json:"job_id"`
	ProposedCost    float64 `json:"proposed_cost"`
	EstimatedTime   *string `json:"estimated_time,omitempty"`
	ProposalMessage *string `json:"proposal_message,omitempty"`
}

type AssignProviderRequest struct {
	ProviderID string `json:"provider_id"`
}

type DevLoginRequest struct {
	AccountID string `json:"account_id"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

type JobResponse struct {
	ID                 string   `json:"id"`
	SeekerID           string   `json:"seeker_id"`
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	CategoryID         string   `json:"category_id"`
	Location           string   `json:"location"`
	Budget             *float64 `json:"budget,omitempty"`
	ImageURL           string   `json:"image_url,omitempty"`
	Status             string   `json:"status" enum:"open,assigned,completed,cancelled"`
	AssignedProviderID *string  `json:"assigned_provider_id,omitempty"`
	CreatedAt          string   `json:"created_at" format:"date-time"`
	UpdatedAt          string   `json:"updated_at" format:"date-time"`
}

type JobListingResponse struct {
	JobResponse
	CategoryName    string `json:"category_name"`
	BidCount        int    `json:"bid_count"`
	PendingBidCount int    `json:"pending_bid_count"`
}

type paginatedJobs struct {
	Items      []JobListingResponse `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

type BidResponse struct {
	ID              string  `json:"id"`
	JobID           string  `json:"job_id"`
	ProviderID      string  `json:"provider_id"`
	ProviderName    string  `json:"provider_name,omitempty"`
	ProposedCost    float64 `json:"proposed_cost"`
	EstimatedTime   string  `json:"estimated_time,omitempty"`
	ProposalMessage string  `json:"proposal_message,omitempty"`
	Status          string  `json:"status" enum:"pending,accepted,rejected"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
}

type JobDetailResponse struct {
	JobResponse
	CategoryName string        `json:"category_name,omitempty"`
	Bids         []BidResponse `json:"bids"`
}

// AcceptBidResponse carries both sides of the atomic acceptance.
type AcceptBidResponse struct {
	Bid BidResponse `json:"bid"`
	Job JobResponse `json:"job"`
}

type CategoryResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type WhoAmIResponse struct {
	AccountID   string `json:"account_id"`
	Role        string `json:"role" enum:"seeker,provider,admin"`
	DisplayName string `json:"display_name,omitempty"`
	Source      string `json:"source"`
}

// Mapping helpers

func jobResponse(j domain.Job) JobResponse {
	return JobResponse{
		ID:                 j.ID,
		SeekerID:           j.SeekerID,
		Title:              j.Title,
		Description:        j.Description,
		CategoryID:         j.CategoryID,
		Location:           j.Location,
		Budget:             j.Budget,
		ImageURL:           j.ImageURL,
		Status:             string(j.Status),
		AssignedProviderID: j.AssignedProviderID,
		CreatedAt:          j.CreatedAt,
		UpdatedAt:          j.UpdatedAt,
	}
}

func jobListingResponse(l repo.JobListing) JobListingResponse {
	return JobListingResponse{
		JobResponse:     jobResponse(l.Job),
		CategoryName:    l.CategoryName,
		BidCount:        l.BidCount,
		PendingBidCount: l.PendingBidCount,
	}
}

func bidResponse(b domain.Bid) BidResponse {
	return BidResponse{
		ID:              b.ID,
		JobID:           b.JobID,
		ProviderID:      b.ProviderID,
		ProposedCost:    b.ProposedCost,
		EstimatedTime:   b.EstimatedTime,
		ProposalMessage: b.ProposalMessage,
		Status:          string(b.Status),
		CreatedAt:       b.CreatedAt,
	}
}

func bidWithProviderResponse(b repo.BidWithProvider) BidResponse {
	res := bidResponse(b.Bid)
	res.ProviderName = b.ProviderName
	return res
}

func mapListings(items []repo.JobListing) []JobListingResponse {
	res := make([]JobListingResponse, 0, len(items))
	for _, l := range items {
		res = append(res, jobListingResponse(l))
	}
	return res
}

func mapBids(items []domain.Bid) []BidResponse {
	res := make([]BidResponse, 0, len(items))
	for _, b := range items {
		res = append(res, bidResponse(b))
	}
	return res
}

func mapBidsWithProvider(items []repo.BidWithProvider) []BidResponse {
	res := make([]BidResponse, 0, len(items))
	for _, b := range items {
		res = append(res, bidWithProviderResponse(b))
	}
	return res
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
