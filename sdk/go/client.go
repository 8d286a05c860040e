package grantdesksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Client is a minimal Grantdesk HTTP API client.
type Client struct {
	BaseURL     string
	Username    string
	Password    string
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

// Request represents the API request model.
type Request struct {
	ID           string  `json:"id"`
	ClientName   string  `json:"client_name"`
	ClientEmail  string  `json:"client_email"`
	GrantName    string  `json:"grant_name"`
	Applicant    string  `json:"applicant,omitempty"`
	Purpose      string  `json:"purpose,omitempty"`
	UseOfFunds   string  `json:"use_of_funds,omitempty"`
	Deadline     string  `json:"deadline,omitempty"`
	Jurisdiction string  `json:"jurisdiction,omitempty"`
	Status       string  `json:"status"`
	ArtifactPath *string `json:"artifact_path,omitempty"`
	CreatedAt    string  `json:"created_at"`
	ReportAt     *string `json:"report_at,omitempty"`
	DeliveredAt  *string `json:"delivered_at,omitempty"`
	ArchivedAt   *string `json:"archived_at,omitempty"`
	Actions      Actions `json:"actions"`
}

// Actions lists the operations currently valid for a request.
type Actions struct {
	Run      bool `json:"run"`
	Deliver  bool `json:"deliver"`
	Archive  bool `json:"archive"`
	Download bool `json:"download"`
	Delete   bool `json:"delete"`
}

// IntakeInput are the fields accepted when creating a request.
type IntakeInput struct {
	ClientName   string `json:"client_name"`
	ClientEmail  string `json:"client_email"`
	GrantName    string `json:"grant_name"`
	Applicant    string `json:"applicant,omitempty"`
	Purpose      string `json:"purpose,omitempty"`
	UseOfFunds   string `json:"use_of_funds,omitempty"`
	Deadline     string `json:"deadline,omitempty"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
	Status       string `json:"status,omitempty"`
}

// Grant represents a catalog entry.
type Grant struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Organization     string   `json:"organization"`
	MinAmount        int      `json:"min_amount"`
	MaxAmount        int      `json:"max_amount"`
	Locations        []string `json:"eligible_locations"`
	ApplicantTypes   []string `json:"eligible_applicant_types"`
	Sectors          []string `json:"sectors"`
	RequiredSections []string `json:"required_sections"`
	Deadline         string   `json:"deadline"`
	SourceURL        string   `json:"source_url,omitempty"`
}

// Profile is the applicant profile sent to discovery.
type Profile struct {
	Location      string `json:"location,omitempty"`
	ApplicantType string `json:"applicant_type,omitempty"`
	Sector        string `json:"sector,omitempty"`
	AmountNeeded  int    `json:"amount_needed,omitempty"`
}

// Match is a scored discovery result.
type Match struct {
	Grant Grant  `json:"grant"`
	Score int    `json:"score"`
	Band  string `json:"band"`
}

// Event represents an audit log entry.
type Event struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts"`
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	ActorID   string `json:"actor_id"`
	Payload   string `json:"payload_json"`
}

// AnalyzeResult is the narrative analysis output.
type AnalyzeResult struct {
	Status    string   `json:"status"`
	Message   string   `json:"message,omitempty"`
	Summary   string   `json:"summary,omitempty"`
	Strengths []string `json:"strengths,omitempty"`
	Risks     []string `json:"risks,omitempty"`
	NextSteps []string `json:"next_steps,omitempty"`
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

type loginResponse struct {
	Token string `json:"token"`
}

// Login exchanges the admin credential for a bearer token and stores it
// on the client for subsequent calls.
func (c *Client) Login(ctx context.Context, username, password string) error {
	var resp loginResponse
	body := map[string]any{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "v0/auth/login", body, &resp); err != nil {
		return err
	}
	c.BearerToken = resp.Token
	return nil
}

// CreateRequest creates a request.
func (c *Client) CreateRequest(ctx context.Context, in IntakeInput) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodPost, "v0/requests", in, &resp)
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
	params := url.Values{}
	if status != "" {
		params.Set("status", status)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp PaginatedRequests
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Run renders the report for a request and attempts delivery.
func (c *Client) Run(ctx context.Context, id string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodPost, "v0/requests/"+url.PathEscape(id)+"/run", nil, &resp)
	return resp, err
}

// Deliver re-sends the rendered report by email.
func (c *Client) Deliver(ctx context.Context, id string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodPost, "v0/requests/"+url.PathEscape(id)+"/deliver", nil, &resp)
	return resp, err
}

// MarkDelivered marks a REPORT_READY request delivered without sending mail.
func (c *Client) MarkDelivered(ctx context.Context, id string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodPost, "v0/requests/"+url.PathEscape(id)+"/delivered", nil, &resp)
	return resp, err
}

// Archive archives a request.
func (c *Client) Archive(ctx context.Context, id string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodPost, "v0/requests/"+url.PathEscape(id)+"/archive", nil, &resp)
	return resp, err
}

// DeleteRequest deletes a request.
func (c *Client) DeleteRequest(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "v0/requests/"+url.PathEscape(id), nil, nil)
}

// DownloadReport writes the rendered PDF to path.
func (c *Client) DownloadReport(ctx context.Context, id, path string) error {
	body, err := c.raw(ctx, http.MethodGet, "v0/requests/"+url.PathEscape(id)+"/report")
	if err != nil {
		return err
	}
	defer body.Close()
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, body)
	return err
}

// Grants returns the catalog.
func (c *Client) Grants(ctx context.Context) ([]Grant, error) {
	var resp []Grant
	err := c.do(ctx, http.MethodGet, "v0/grants", nil, &resp)
	return resp, err
}

// Discover scores the catalog against an applicant profile.
func (c *Client) Discover(ctx context.Context, p Profile) ([]Match, error) {
	var resp []Match
	err := c.do(ctx, http.MethodPost, "v0/grants/discover", p, &resp)
	return resp, err
}

// Analyze runs the narrative analyzer.
func (c *Client) Analyze(ctx context.Context, input string) (AnalyzeResult, error) {
	var resp AnalyzeResult
	err := c.do(ctx, http.MethodPost, "v0/analyze/run", map[string]any{"input": input}, &resp)
	return resp, err
}

// Events returns recent audit events.
func (c *Client) Events(ctx context.Context, n int) ([]Event, error) {
	endpoint := "v0/events"
	if n > 0 {
		endpoint = fmt.Sprintf("%s?n=%d", endpoint, n)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	resp, err := c.send(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) raw(ctx context.Context, method, endpoint string) (io.ReadCloser, error) {
	resp, err := c.send(ctx, method, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return resp.Body, nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, body any) (*http.Response, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.Username != "":
		req.SetBasicAuth(c.Username, c.Password)
	}
	return c.HTTPClient.Do(req)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
