package bidworkssdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Bidworks HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Job represents the API job model.
type Job struct {
	ID                 string   `json:"id"`
	SeekerID           string   `json:"seeker_id"`
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	CategoryID         string   `json:"category_id"`
	Location           string   `json:"location"`
	Budget             *float64 `json:"budget,omitempty"`
	ImageURL           string   `json:"image_url,omitempty"`
	Status             string   `json:"status"`
	AssignedProviderID *string  `json:"assigned_provider_id,omitempty"`
	CreatedAt          string   `json:"created_at"`
	UpdatedAt          string   `json:"updated_at"`
}

// JobListing is a listing row with denormalized fields.
type JobListing struct {
	Job
	CategoryName    string `json:"category_name"`
	BidCount        int    `json:"bid_count"`
	PendingBidCount int    `json:"pending_bid_count"`
}

// Bid represents a provider's proposal.
type Bid struct {
	ID              string  `json:"id"`
	JobID           string  `json:"job_id"`
	ProviderID      string  `json:"provider_id"`
	ProviderName    string  `json:"provider_name,omitempty"`
	ProposedCost    float64 `json:"proposed_cost"`
	EstimatedTime   string  `json:"estimated_time,omitempty"`
	ProposalMessage string  `json:"proposal_message,omitempty"`
	Status          string  `json:"status"`
	CreatedAt       string  `json:"created_at"`
}

// JobDetail is a job with its bids.
type JobDetail struct {
	Job
	CategoryName string `json:"category_name,omitempty"`
	Bids         []Bid  `json:"bids"`
}

// Acceptance carries both sides of a bid acceptance.
type Acceptance struct {
	Bid Bid `json:"bid"`
	Job Job `json:"job"`
}

// Category is a catalog entry.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// WhoAmI echoes the authenticated principal.
type WhoAmI struct {
	AccountID   string `json:"account_id"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name,omitempty"`
	Source      string `json:"source"`
}

// PaginatedJobs wraps a job listing page.
type PaginatedJobs struct {
	Items      []JobListing `json:"items"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

// JobFilters narrow a listing request. Zero values are wildcards.
type JobFilters struct {
	CategoryID string
	Location   string
	Status     string
	SeekerID   string
	Limit      int
	Cursor     string
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateJob posts a job.
func (c *Client) CreateJob(ctx context.Context, title, categoryID, location string, budget *float64) (Job, error) {
	body := map[string]any{
		"title":       title,
		"category_id": categoryID,
		"location":    location,
	}
	if budget != nil {
		body["budget"] = *budget
	}
	var resp Job
	err := c.do(ctx, http.MethodPost, "v1/jobs", body, &resp)
	return resp, err
}

// ListJobs returns a listing page.
func (c *Client) ListJobs(ctx context.Context, f JobFilters) (PaginatedJobs, error) {
	q := url.Values{}
	if f.CategoryID != "" {
		q.Set("category_id", f.CategoryID)
	}
	if f.Location != "" {
		q.Set("location", f.Location)
	}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.SeekerID != "" {
		q.Set("seeker_id", f.SeekerID)
	}
	if f.Limit > 0 {
		q.Set("limit", fmt.Sprint(f.Limit))
	}
	if f.Cursor != "" {
		q.Set("cursor", f.Cursor)
	}
	endpoint := "v1/jobs"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedJobs
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetJob fetches a job with its bids.
func (c *Client) GetJob(ctx context.Context, jobID string) (JobDetail, error) {
	var resp JobDetail
	err := c.do(ctx, http.MethodGet, "v1/jobs/"+url.PathEscape(jobID), nil, &resp)
	return resp, err
}

// CancelJob cancels an open job.
func (c *Client) CancelJob(ctx context.Context, jobID string) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodPost, "v1/jobs/"+url.PathEscape(jobID)+"/cancel", nil, &resp)
	return resp, err
}

// CompleteJob marks an assigned job completed.
func (c *Client) CompleteJob(ctx context.Context, jobID string) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodPost, "v1/jobs/"+url.PathEscape(jobID)+"/complete", nil, &resp)
	return resp, err
}

// AssignProvider accepts the provider's pending bid on the job.
func (c *Client) AssignProvider(ctx context.Context, jobID, providerID string) (Acceptance, error) {
	body := map[string]any{"provider_id": providerID}
	var resp Acceptance
	err := c.do(ctx, http.MethodPost, "v1/jobs/"+url.PathEscape(jobID)+"/assign_provider", body, &resp)
	return resp, err
}

// SubmitBid submits a bid on an open job.
func (c *Client) SubmitBid(ctx context.Context, jobID string, proposedCost float64, estimatedTime, message string) (Bid, error) {
	body := map[string]any{
		"job_id":        jobID,
		"proposed_cost": proposedCost,
	}
	if estimatedTime != "" {
		body["estimated_time"] = estimatedTime
	}
	if message != "" {
		body["proposal_message"] = message
	}
	var resp Bid
	err := c.do(ctx, http.MethodPost, "v1/bids", body, &resp)
	return resp, err
}

// AcceptBid accepts a bid; sibling pending bids are rejected server-side.
func (c *Client) AcceptBid(ctx context.Context, bidID string) (Acceptance, error) {
	var resp Acceptance
	err := c.do(ctx, http.MethodPost, "v1/bids/"+url.PathEscape(bidID)+"/accept", nil, &resp)
	return resp, err
}

// RejectBid rejects a single pending bid.
func (c *Client) RejectBid(ctx context.Context, bidID string) (Bid, error) {
	var resp Bid
	err := c.do(ctx, http.MethodPost, "v1/bids/"+url.PathEscape(bidID)+"/reject", nil, &resp)
	return resp, err
}

// MyBids returns the authenticated provider's bids.
func (c *Client) MyBids(ctx context.Context) ([]Bid, error) {
	var resp []Bid
	err := c.do(ctx, http.MethodGet, "v1/bids", nil, &resp)
	return resp, err
}

// Categories returns the catalog.
func (c *Client) Categories(ctx context.Context) ([]Category, error) {
	var resp []Category
	err := c.do(ctx, http.MethodGet, "v1/categories", nil, &resp)
	return resp, err
}

// Me echoes the authenticated principal.
func (c *Client) Me(ctx context.Context) (WhoAmI, error) {
	var resp WhoAmI
	err := c.do(ctx, http.MethodGet, "v1/accounts/me", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
