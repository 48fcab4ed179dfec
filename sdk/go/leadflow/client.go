// Package leadflow is a small client for the LeadFlow run API.
package leadflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Run statuses reported by the server.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusAborted   = "aborted"
)

// Client wraps the HTTP interactions with the LeadFlow REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// RunSubmission is the payload required to start a new run. ID is optional
// and makes the submission idempotent.
type RunSubmission struct {
	ID           string `json:"id,omitempty"`
	Instructions string `json:"instructions"`
}

// Lead is one prospect record produced by a run.
type Lead struct {
	FullName            string `json:"full_name"`
	Designation         string `json:"designation"`
	EmployeeCount       string `json:"employee_count"`
	Email               string `json:"email"`
	LinkedInURL         string `json:"linkedin_url"`
	MobileNumber        string `json:"mobile_number"`
	CompanyName         string `json:"company_name"`
	CompanyWebsite      string `json:"company_website"`
	CompanyDetails      string `json:"company_details"`
	CompanyType         string `json:"company_type"`
	EmailSubject        string `json:"personalized_email_subject"`
	EmailBody           string `json:"personalized_email_body"`
	WebsiteInaccessible bool   `json:"website_inaccessible"`
	SecurityError       bool   `json:"security_error"`
}

// Message is one transcript entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// RunResult holds the outcome of a finished run.
type RunResult struct {
	Steps      int       `json:"steps"`
	Aborted    bool      `json:"aborted"`
	Leads      []Lead    `json:"leads"`
	Transcript []Message `json:"transcript,omitempty"`
	StartedAt  int64     `json:"started_at,omitempty"`
	FinishedAt int64     `json:"finished_at,omitempty"`
}

// Run is the server view of a submitted run.
type Run struct {
	ID           string     `json:"id"`
	Instructions string     `json:"instructions"`
	Status       string     `json:"status"`
	Attempts     int        `json:"attempts"`
	MaxRetries   int        `json:"max_retries"`
	LastError    string     `json:"last_error,omitempty"`
	ErrorCode    string     `json:"error_code,omitempty"`
	Result       *RunResult `json:"result,omitempty"`
	CreatedAt    int64      `json:"created_at"`
	UpdatedAt    int64      `json:"updated_at"`
}

// Done reports whether the run will not change any more.
func (r Run) Done() bool {
	switch r.Status {
	case StatusSucceeded, StatusAborted:
		return true
	case StatusFailed:
		return r.Attempts >= r.MaxRetries
	}
	return false
}

// ListOptions narrows ListRuns. Zero values are not sent.
type ListOptions struct {
	Limit    int
	Offset   int
	Statuses []string
	Query    string

	// Since and Until bound the last update time of a run.
	Since  time.Time
	Until  time.Time
	Oldest bool
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("leadflow api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("leadflow api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the LeadFlow API. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host are required", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetToken sets the bearer token sent with every request. An empty token
// disables the Authorization header.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = strings.TrimSpace(token)
	c.mu.Unlock()
}

// SubmitRun queues a new run.
func (c *Client) SubmitRun(ctx context.Context, submission RunSubmission) (Run, error) {
	body, err := json.Marshal(submission)
	if err != nil {
		return Run{}, fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/runs", nil, bytes.NewReader(body))
	if err != nil {
		return Run{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var run Run
	if err := c.doJSON(req, &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// GetRun fetches a run by identifier.
func (c *Client) GetRun(ctx context.Context, id string) (Run, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/runs/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return Run{}, err
	}
	var run Run
	if err := c.doJSON(req, &run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// ListRuns returns runs, newest first unless opts.Oldest is set.
func (c *Client) ListRuns(ctx context.Context, opts ListOptions) ([]Run, error) {
	query := url.Values{}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}
	if len(opts.Statuses) > 0 {
		query.Set("status", strings.Join(opts.Statuses, ","))
	}
	if opts.Query != "" {
		query.Set("q", opts.Query)
	}
	if !opts.Since.IsZero() {
		query.Set("since", opts.Since.UTC().Format(time.RFC3339))
	}
	if !opts.Until.IsZero() {
		query.Set("until", opts.Until.UTC().Format(time.RFC3339))
	}
	if opts.Oldest {
		query.Set("order", "asc")
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/runs", query, nil)
	if err != nil {
		return nil, err
	}
	var runs []Run
	if err := c.doJSON(req, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// WaitRun polls until the run is done or ctx ends.
func (c *Client) WaitRun(ctx context.Context, id string, interval time.Duration) (Run, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		run, err := c.GetRun(ctx, id)
		if err != nil {
			return Run{}, err
		}
		if run.Done() {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-ticker.C:
		}
	}
}

// DownloadLeads streams the run's leads workbook (xlsx) into w.
func (c *Client) DownloadLeads(ctx context.Context, id string, w io.Writer) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/runs/"+url.PathEscape(id)+"/leads.xlsx", nil, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("read workbook: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path = path.Join(c.baseURL.Path, endpoint)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()
	return req, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read error response: %w", err)
	}
	if len(data) > 0 {
		_ = json.Unmarshal(data, apiErr)
	}
	if apiErr.Message == "" {
		apiErr.Message = string(bytes.TrimSpace(data))
	}
	return apiErr
}
