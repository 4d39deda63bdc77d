package leasetracksdk

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

// Client is a minimal LeaseTrack HTTP API client.
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

// Lead represents the API lead model (partial).
type Lead struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Stage       string        `json:"stage"`
	SubStatus   string        `json:"sub_status"`
	Status      string        `json:"status"`
	CurrentStep int           `json:"current_step"`
	Version     int64         `json:"version"`
	ActiveRole  string        `json:"active_role"`
	Ledger      []LedgerEntry `json:"ledger"`
}

// LedgerEntry is one history record of a lead.
type LedgerEntry struct {
	ID              string            `json:"id"`
	LeadID          string            `json:"lead_id"`
	StepMarker      int               `json:"step_marker"`
	TargetStage     string            `json:"target_stage"`
	TargetSubStatus string            `json:"target_sub_status"`
	Data            map[string]string `json:"data,omitempty"`
	Status          string            `json:"status"`
	Remarks         string            `json:"remarks"`
	SubmittedBy     string            `json:"submitted_by"`
	CreatedAt       string            `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	LeadID     string         `json:"lead_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// DevLogin mints a JWT via the dev login endpoint and stores it on the client.
func (c *Client) DevLogin(ctx context.Context, userID, role string) error {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "v0/auth/dev/login", map[string]any{"user_id": userID, "role": role}, &resp); err != nil {
		return err
	}
	c.BearerToken = resp.Token
	return nil
}

// CreateLead registers a lead.
func (c *Client) CreateLead(ctx context.Context, title string, details map[string]string, remarks string) (Lead, error) {
	body := map[string]any{
		"title":   title,
		"details": details,
		"remarks": remarks,
	}
	var resp Lead
	err := c.do(ctx, http.MethodPost, "v0/leads", body, &resp)
	return resp, err
}

// GetLead fetches a lead with its ledger.
func (c *Client) GetLead(ctx context.Context, id string) (Lead, error) {
	var resp Lead
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/leads/%s", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// Transition moves a lead along a declared edge.
func (c *Client) Transition(ctx context.Context, id, targetStage, targetSubStatus string, data map[string]string, remarks string) (Lead, error) {
	body := map[string]any{
		"target_stage":      targetStage,
		"target_sub_status": targetSubStatus,
		"data":              data,
		"remarks":           remarks,
	}
	var resp Lead
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/leads/%s/transitions", url.PathEscape(id)), body, &resp)
	return resp, err
}

// SubmitStep records an approve/reject decision for a numbered step.
func (c *Client) SubmitStep(ctx context.Context, id string, step int, action string, data map[string]string, remarks string) (Lead, error) {
	body := map[string]any{
		"action":  action,
		"data":    data,
		"remarks": remarks,
	}
	var resp Lead
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/leads/%s/steps/%d", url.PathEscape(id), step), body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
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
