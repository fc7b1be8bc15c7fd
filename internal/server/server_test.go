package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"bidworks/internal/config"
	"bidworks/internal/db"
	"bidworks/internal/domain"
	"bidworks/internal/engine"
	"bidworks/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	ctx := context.Background()
	if err := e.SeedCategories(ctx); err != nil {
		t.Fatalf("seed categories: %v", err)
	}
	for _, a := range []domain.Account{
		{ID: "seeker-1", Role: domain.RoleSeeker, DisplayName: "Sam Seeker"},
		{ID: "seeker-2", Role: domain.RoleSeeker, DisplayName: "Sal Seeker"},
		{ID: "provider-1", Role: domain.RoleProvider, DisplayName: "Pat Provider"},
		{ID: "provider-2", Role: domain.RoleProvider, DisplayName: "Pam Provider"},
	} {
		if _, err := e.CreateAccount(ctx, a); err != nil {
			t.Fatalf("create account %s: %v", a.ID, err)
		}
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: "test-secret", AllowDevHeaders: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asSeeker(extra map[string]string) map[string]string {
	return withAccount("seeker-1", extra)
}

func withAccount(id string, extra map[string]string) map[string]string {
	headers := map[string]string{"X-Account-Id": id}
	for k, v := range extra {
		headers[k] = v
	}
	return headers
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

func TestJobBidAcceptFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	createRes, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs", map[string]any{
		"title":       "Repaint the hallway",
		"category_id": "painting",
		"location":    "Marseille",
		"budget":      800,
	}, asSeeker(nil))
	if createRes.StatusCode != http.StatusCreated {
		t.Fatalf("create job status %d: %s", createRes.StatusCode, string(data))
	}
	var job JobResponse
	if err := json.Unmarshal(data, &job); err != nil {
		t.Fatalf("unmarshal job: %v", err)
	}
	if job.Status != "open" {
		t.Fatalf("new job status %s, want open", job.Status)
	}

	bidRes, bidData := doJSON(t, client, http.MethodPost, srv.URL+"/v1/bids", map[string]any{
		"job_id":         job.ID,
		"proposed_cost":  750,
		"estimated_time": "3 days",
	}, withAccount("provider-1", nil))
	if bidRes.StatusCode != http.StatusCreated {
		t.Fatalf("submit bid status %d: %s", bidRes.StatusCode, string(bidData))
	}
	var bid1 BidResponse
	_ = json.Unmarshal(bidData, &bid1)

	bid2Res, bid2Data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/bids", map[string]any{
		"job_id":        job.ID,
		"proposed_cost": 700,
	}, withAccount("provider-2", nil))
	if bid2Res.StatusCode != http.StatusCreated {
		t.Fatalf("submit bid 2 status %d: %s", bid2Res.StatusCode, string(bid2Data))
	}
	var bid2 BidResponse
	_ = json.Unmarshal(bid2Data, &bid2)

	acceptRes, acceptData := doJSON(t, client, http.MethodPost, srv.URL+"/v1/bids/"+bid2.ID+"/accept", nil, asSeeker(nil))
	if acceptRes.StatusCode != http.StatusOK {
		t.Fatalf("accept status %d: %s", acceptRes.StatusCode, string(acceptData))
	}
	var accepted AcceptBidResponse
	if err := json.Unmarshal(acceptData, &accepted); err != nil {
		t.Fatalf("unmarshal accept: %v", err)
	}
	if accepted.Job.Status != "assigned" {
		t.Fatalf("job status %s, want assigned", accepted.Job.Status)
	}
	if accepted.Job.AssignedProviderID == nil || *accepted.Job.AssignedProviderID != "provider-2" {
		t.Fatalf("assigned provider %v, want provider-2", accepted.Job.AssignedProviderID)
	}

	// Sibling bid visible as rejected in the job detail.
	detailRes, detailData := doJSON(t, client, http.MethodGet, srv.URL+"/v1/jobs/"+job.ID, nil, asSeeker(nil))
	if detailRes.StatusCode != http.StatusOK {
		t.Fatalf("job detail status %d: %s", detailRes.StatusCode, string(detailData))
	}
	var detail JobDetailResponse
	if err := json.Unmarshal(detailData, &detail); err != nil {
		t.Fatalf("unmarshal detail: %v", err)
	}
	if len(detail.Bids) != 2 {
		t.Fatalf("detail bids = %d, want 2", len(detail.Bids))
	}
	for _, b := range detail.Bids {
		want := "rejected"
		if b.ID == bid2.ID {
			want = "accepted"
		}
		if b.Status != want {
			t.Fatalf("bid %s status %s, want %s", b.ID, b.Status, want)
		}
		if b.ProviderName == "" {
			t.Fatalf("bid %s missing provider name", b.ID)
		}
	}

	completeRes, completeData := doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs/"+job.ID+"/complete", nil, asSeeker(nil))
	if completeRes.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", completeRes.StatusCode, string(completeData))
	}
}

func TestErrorCodes(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	// No credentials.
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/jobs", nil, nil)
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "unauthenticated" {
		t.Fatalf("no auth: %d %s", res.StatusCode, string(data))
	}

	// Provider posting a job.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs", map[string]any{
		"title":       "t",
		"category_id": "plumbing",
		"location":    "Nice",
	}, withAccount("provider-1", nil))
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "forbidden" {
		t.Fatalf("provider create: %d %s", res.StatusCode, string(data))
	}

	// Missing field.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs", map[string]any{
		"title":       "t",
		"category_id": "plumbing",
	}, asSeeker(nil))
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "validation_error" {
		t.Fatalf("missing location: %d %s", res.StatusCode, string(data))
	}

	// Unknown job.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/jobs/nope", nil, asSeeker(nil))
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "not_found" {
		t.Fatalf("missing job: %d %s", res.StatusCode, string(data))
	}

	// Duplicate bid.
	_, jobData := doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs", map[string]any{
		"title":       "Mow the lawn",
		"category_id": "gardening",
		"location":    "Nice",
	}, asSeeker(nil))
	var job JobResponse
	_ = json.Unmarshal(jobData, &job)
	doJSON(t, client, http.MethodPost, srv.URL+"/v1/bids", map[string]any{
		"job_id":        job.ID,
		"proposed_cost": 50,
	}, withAccount("provider-1", nil))
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/bids", map[string]any{
		"job_id":        job.ID,
		"proposed_cost": 45,
	}, withAccount("provider-1", nil))
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "duplicate_bid" {
		t.Fatalf("duplicate bid: %d %s", res.StatusCode, string(data))
	}

	// Non-owner seeker cannot cancel.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs/"+job.ID+"/cancel", nil, withAccount("seeker-2", nil))
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "forbidden" {
		t.Fatalf("non-owner cancel: %d %s", res.StatusCode, string(data))
	}

	// Cancel, then bid arrives too late.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs/"+job.ID+"/cancel", nil, asSeeker(nil))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("cancel: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/bids", map[string]any{
		"job_id":        job.ID,
		"proposed_cost": 40,
	}, withAccount("provider-2", nil))
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "job_not_open" {
		t.Fatalf("bid on cancelled job: %d %s", res.StatusCode, string(data))
	}

	// Cancelling again is an invalid transition.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs/"+job.ID+"/cancel", nil, asSeeker(nil))
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "invalid_transition" {
		t.Fatalf("cancel twice: %d %s", res.StatusCode, string(data))
	}
}

func TestListJobsFiltersAndDefaultStatus(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	post := func(title, category, location string) JobResponse {
		t.Helper()
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs", map[string]any{
			"title":       title,
			"category_id": category,
			"location":    location,
		}, asSeeker(nil))
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create %s: %d %s", title, res.StatusCode, string(data))
		}
		var j JobResponse
		_ = json.Unmarshal(data, &j)
		return j
	}
	j1 := post("Fix sink", "plumbing", "Paris")
	post("Fix wiring", "electrical", "Paris")
	post("Fix fence", "carpentry", "Lille")

	// Cancel one; the default listing must hide it.
	doJSON(t, client, http.MethodPost, srv.URL+"/v1/jobs/"+j1.ID+"/cancel", nil, asSeeker(nil))

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/jobs", nil, asSeeker(nil))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", res.StatusCode, string(data))
	}
	var page paginatedJobs
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("default listing = %d items, want 2 open", len(page.Items))
	}
	for _, item := range page.Items {
		if item.Status != "open" {
			t.Fatalf("default listing leaked status %s", item.Status)
		}
		if item.CategoryName == "" {
			t.Fatalf("listing item %s missing category name", item.ID)
		}
	}

	// AND semantics: electrical in Paris.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/jobs?category_id=electrical&location=Paris", nil, asSeeker(nil))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("filtered list: %d %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &page)
	if len(page.Items) != 1 || page.Items[0].Title != "Fix wiring" {
		t.Fatalf("filtered listing = %+v", page.Items)
	}

	// status=all shows the cancelled job too.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/jobs?status=all", nil, asSeeker(nil))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("all list: %d %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &page)
	if len(page.Items) != 3 {
		t.Fatalf("status=all listing = %d items, want 3", len(page.Items))
	}
}

func TestDevLoginAndMe(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{
		"account_id": "provider-1",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	if login.Token == "" {
		t.Fatal("empty token")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/accounts/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	if err := json.Unmarshal(data, &who); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if who.AccountID != "provider-1" || who.Role != "provider" || who.Source != "jwt" {
		t.Fatalf("whoami = %+v", who)
	}

	// A token for an unknown account does not authenticate.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{
		"account_id": "ghost",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login ghost: %d %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &login)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/accounts/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "unauthenticated" {
		t.Fatalf("ghost token: %d %s", res.StatusCode, string(data))
	}
}

func TestHealthUnauthenticated(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", res.StatusCode, string(data))
	}
}
