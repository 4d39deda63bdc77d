package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"leasetrack/internal/config"
	"leasetrack/internal/db"
	"leasetrack/internal/domain"
	"leasetrack/internal/engine"
	"leasetrack/internal/migrate"
	"leasetrack/internal/repo"
	"leasetrack/internal/workflow"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(conn, workflow.Compile(cfg))
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	handler, err := New(Config{
		Engine: eng,
		Auth: AuthConfig{
			JWTSecret:             "test-secret",
			AllowLegacyUserHeader: true,
			Logger:                zerolog.Nop(),
		},
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)

	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: eng,
		client: &http.Client{Timeout: 5 * time.Second},
		close: func() {
			srv.Shutdown(context.Background())
			conn.Close()
		},
	}
	t.Cleanup(ts.close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	if _, err := out.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, out.Bytes()
}

func asUser(id, role string) map[string]string {
	return map[string]string{"X-User-Id": id, "X-User-Role": role}
}

type errEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func decodeErr(t *testing.T, body []byte) apiErrorBody {
	t.Helper()
	var env errEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, body)
	}
	return env.Error
}

func TestHealthNeedsNoAuth(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health = %d: %s", resp.StatusCode, body)
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/leads", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	if e := decodeErr(t, body); e.Code != "unauthorized" {
		t.Fatalf("code = %s", e.Code)
	}
}

func createLead(t *testing.T, ts *testServer) LeadResponse {
	t.Helper()
	resp, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/leads", map[string]any{
		"title": "Indiranagar 100ft Road",
		"details": map[string]string{
			"location_coordinates": "12.97,77.64",
			"carpet_area":          "2200",
			"photos":               "photos.zip",
		},
	}, asUser("u-re", "State_RE"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d: %s", resp.StatusCode, body)
	}
	var l LeadResponse
	if err := json.Unmarshal(body, &l); err != nil {
		t.Fatalf("decode lead: %v", err)
	}
	return l
}

func TestCreateLead(t *testing.T) {
	ts := newTestServer(t)
	l := createLead(t, ts)
	if l.Stage != "Option_Identified" || l.Status != domain.StatusActive {
		t.Fatalf("lead = %s %s", l.Stage, l.Status)
	}
	if l.ActiveRole != "State_RE" {
		t.Fatalf("active role = %s", l.ActiveRole)
	}
	if len(l.AllowedTransitions) != 1 {
		t.Fatalf("allowed transitions = %+v", l.AllowedTransitions)
	}
}

func TestCreateLeadWrongRole(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/leads", map[string]any{
		"title": "x",
	}, asUser("u-bt", "BT"))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	e := decodeErr(t, body)
	if e.Code != "forbidden" || e.Details["required_role"] != "State_RE" {
		t.Fatalf("envelope = %+v", e)
	}
}

func TestTransitionLead(t *testing.T) {
	ts := newTestServer(t)
	l := createLead(t, ts)

	resp, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/leads/"+l.ID+"/transitions", map[string]any{
		"target_stage":      "Under_BT_Validation",
		"target_sub_status": "Under BT Validation",
		"data": map[string]string{
			"location_coordinates": "12.97,77.64",
			"carpet_area":          "2200",
			"photos":               "photos.zip",
		},
	}, asUser("u-re", "State_RE"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("transition = %d: %s", resp.StatusCode, body)
	}
	var moved LeadResponse
	if err := json.Unmarshal(body, &moved); err != nil {
		t.Fatal(err)
	}
	if moved.Stage != "Under_BT_Validation" || moved.Version != 2 {
		t.Fatalf("lead = %s v%d", moved.Stage, moved.Version)
	}
	if moved.ActiveRole != "BT" {
		t.Fatalf("active role = %s", moved.ActiveRole)
	}
}

func TestTransitionValidationFailure(t *testing.T) {
	ts := newTestServer(t)
	l := createLead(t, ts)

	resp, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/leads/"+l.ID+"/transitions", map[string]any{
		"target_stage":      "Under_BT_Validation",
		"target_sub_status": "Under BT Validation",
		"data":              map[string]string{"location_coordinates": "12.97,77.64"},
	}, asUser("u-re", "State_RE"))
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	e := decodeErr(t, body)
	if e.Code != "validation_failed" || e.Details["field"] != "carpet_area" {
		t.Fatalf("envelope = %+v", e)
	}
}

func TestTransitionUnknownLead(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/leads/nope/transitions", map[string]any{
		"target_stage": "Under_BT_Validation",
	}, asUser("u-re", "State_RE"))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
}

func TestStepEndpointRefusedInGraphMode(t *testing.T) {
	ts := newTestServer(t)
	l := createLead(t, ts)
	resp, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/leads/"+l.ID+"/steps/2", map[string]any{
		"action": "approve",
	}, asUser("u-bt", "BT"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
}

func TestDevLoginAndMe(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/auth/dev/login", map[string]any{
		"user_id": "u-bt", "role": "BT",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dev login = %d: %s", resp.StatusCode, body)
	}
	var login DevLoginResponse
	if err := json.Unmarshal(body, &login); err != nil {
		t.Fatal(err)
	}
	if login.Token == "" {
		t.Fatal("empty token")
	}

	resp, body = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me = %d: %s", resp.StatusCode, body)
	}
	var who WhoAmIResponse
	if err := json.Unmarshal(body, &who); err != nil {
		t.Fatal(err)
	}
	if who.UserID != "u-bt" || who.Role != "BT" || who.Source != "jwt" {
		t.Fatalf("who = %+v", who)
	}
}

func TestBadBearerTokenRejected(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer not-a-jwt",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	if e := decodeErr(t, body); e.Code != "invalid_credentials" {
		t.Fatalf("code = %s", e.Code)
	}
}

func TestAPIKeyFlow(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	if err := ts.Engine.Repo.UpsertUser(ctx, domain.User{
		ID: "u-bt", Name: "BT User", Role: "BT", CreatedAt: "2024-01-01T00:00:00Z",
	}); err != nil {
		t.Fatal(err)
	}

	resp, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/apikeys", map[string]any{
		"user_id": "u-bt", "name": "ci",
	}, asUser("u-admin", domain.RoleAdmin))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create key = %d: %s", resp.StatusCode, body)
	}
	var created CreateAPIKeyResponse
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatal(err)
	}
	if created.Key == "" {
		t.Fatal("secret not returned")
	}

	resp, body = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/me", nil, map[string]string{
		"X-Api-Key": created.Key,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me via key = %d: %s", resp.StatusCode, body)
	}
	var who WhoAmIResponse
	if err := json.Unmarshal(body, &who); err != nil {
		t.Fatal(err)
	}
	if who.UserID != "u-bt" || who.Role != "BT" || who.Source != "api_key" {
		t.Fatalf("who = %+v", who)
	}

	// Non-admins may not mint keys.
	resp, body = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/apikeys", map[string]any{
		"user_id": "u-bt",
	}, asUser("u-bt", "BT"))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
}

func TestStaleStateErrorMapping(t *testing.T) {
	serr := handleError(repo.ErrStale)
	if serr.GetStatus() != http.StatusConflict {
		t.Fatalf("status = %d, want 409", serr.GetStatus())
	}
	apiErr, ok := serr.(*apiError)
	if !ok {
		t.Fatalf("unexpected error type %T", serr)
	}
	if apiErr.Body.Code != "stale_state" {
		t.Fatalf("code = %s", apiErr.Body.Code)
	}
}

func TestEventsListing(t *testing.T) {
	ts := newTestServer(t)
	l := createLead(t, ts)

	resp, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/events?limit=10", nil, asUser("u-re", "State_RE"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("events = %d: %s", resp.StatusCode, body)
	}
	var page paginatedEvents
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatal(err)
	}
	if len(page.Items) == 0 {
		t.Fatal("no events recorded")
	}
	first := page.Items[0]
	if first.Type != "lead.created" || first.LeadID != l.ID {
		t.Fatalf("first event = %+v", first)
	}
}

func TestListLeadsPagination(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < 3; i++ {
		resp, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v0/leads", map[string]any{
			"title": fmt.Sprintf("site %d", i),
		}, asUser("u-re", "State_RE"))
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("create = %d: %s", resp.StatusCode, body)
		}
	}

	resp, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/leads?limit=2", nil, asUser("u-re", "State_RE"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list = %d: %s", resp.StatusCode, body)
	}
	var page paginatedLeads
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("page = %d items cursor %q", len(page.Items), page.NextCursor)
	}

	resp, body = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v0/leads?limit=2&cursor="+url.QueryEscape(page.NextCursor), nil, asUser("u-re", "State_RE"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second page = %d: %s", resp.StatusCode, body)
	}
	var rest paginatedLeads
	if err := json.Unmarshal(body, &rest); err != nil {
		t.Fatal(err)
	}
	if len(rest.Items) != 1 || rest.NextCursor != "" {
		t.Fatalf("second page = %d items cursor %q", len(rest.Items), rest.NextCursor)
	}
}
