package requestlinesdk

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

// Client is a minimal Requestline HTTP API client.
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

// Request represents the API request model (partial).
type Request struct {
	ID         string  `json:"id"`
	ParentID   *string `json:"parent_id,omitempty"`
	Type       string  `json:"type"`
	System     string  `json:"system,omitempty"`
	Status     string  `json:"status"`
	AssigneeID *string `json:"assignee_id,omitempty"`
	Requester  string  `json:"requester,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

// Step represents one audit log entry.
type Step struct {
	ID        int64   `json:"id"`
	RequestID string  `json:"request_id"`
	Seq       int     `json:"seq"`
	ActorID   *string `json:"actor_id,omitempty"`
	Content   string  `json:"content"`
	Status    string  `json:"status"`
	TS        string  `json:"ts"`
}

// Inspection represents an inspection record.
type Inspection struct {
	ID             string `json:"id"`
	RequestID      string `json:"request_id"`
	Seq            int    `json:"seq"`
	ReviewerName   string `json:"reviewer_name"`
	ReviewerEmail  string `json:"reviewer_email"`
	Result         string `json:"result"`
	ResultNote     string `json:"result_note,omitempty"`
	Token          string `json:"token,omitempty"`
	CompletionPath string `json:"completion_path,omitempty"`
}

// Release represents a release record.
type Release struct {
	ID           string  `json:"id"`
	RequestID    string  `json:"request_id"`
	TargetSystem string  `json:"target_system,omitempty"`
	TicketNumber string  `json:"ticket_number,omitempty"`
	Approved     bool    `json:"approved"`
	ApproverID   *string `json:"approver_id,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedRequests wraps list responses with cursors.
type PaginatedRequests struct {
	Items      []Request `json:"items"`
	NextCursor string    `json:"next_cursor"`
}

// CreateRequest creates a request.
func (c *Client) CreateRequest(ctx context.Context, reqType, requester, reason string) (Request, error) {
	body := map[string]any{
		"type":      reqType,
		"requester": requester,
		"reason":    reason,
	}
	var resp Request
	err := c.do(ctx, http.MethodPost, "v0/requests", body, &resp)
	return resp, err
}

// GetRequest fetches a request by id.
func (c *Client) GetRequest(ctx context.Context, id string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodGet, "v0/requests/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Requests returns a paginated request listing.
func (c *Client) Requests(ctx context.Context, status string, limit int, cursor string) (PaginatedRequests, error) {
	endpoint := "v0/requests"
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedRequests
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Steps returns a request's audit trail.
func (c *Client) Steps(ctx context.Context, requestID string) ([]Step, error) {
	var resp []Step
	endpoint := fmt.Sprintf("v0/requests/%s/steps", url.PathEscape(requestID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Approve moves a request from created to processing.
func (c *Client) Approve(ctx context.Context, requestID string) (Request, error) {
	var resp Request
	endpoint := fmt.Sprintf("v0/requests/%s/approve", url.PathEscape(requestID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Complete moves a request from processing to completed.
func (c *Client) Complete(ctx context.Context, requestID, content string) (Request, error) {
	body := map[string]any{"completion_content": content}
	var resp Request
	endpoint := fmt.Sprintf("v0/requests/%s/complete", url.PathEscape(requestID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// RequestInspection creates an inspection and returns the one-time token.
func (c *Client) RequestInspection(ctx context.Context, requestID, reviewerName, reviewerEmail string) (Inspection, error) {
	body := map[string]any{
		"reviewer_name":  reviewerName,
		"reviewer_email": reviewerEmail,
	}
	var resp Inspection
	endpoint := fmt.Sprintf("v0/requests/%s/inspections", url.PathEscape(requestID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// SubmitInspection submits a verdict by capability token. No credentials are
// attached; the token is the credential.
func (c *Client) SubmitInspection(ctx context.Context, token, verdict, note string) (Inspection, error) {
	body := map[string]any{
		"verdict": verdict,
		"note":    note,
	}
	var resp Inspection
	endpoint := "v0/inspections/" + url.PathEscape(token)
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// RequestRelease records a release request.
func (c *Client) RequestRelease(ctx context.Context, requestID, targetSystem, ticket string) (Release, error) {
	body := map[string]any{
		"target_system": targetSystem,
		"ticket_number": ticket,
	}
	var resp Release
	endpoint := fmt.Sprintf("v0/requests/%s/releases", url.PathEscape(requestID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ApproveRelease approves a release by id.
func (c *Client) ApproveRelease(ctx context.Context, releaseID string) (Release, error) {
	var resp Release
	endpoint := fmt.Sprintf("v0/releases/%s/approve", url.PathEscape(releaseID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
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
