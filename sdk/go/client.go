package intakesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bankintake/internal/domain"
	"bankintake/internal/engine"
)

type (
	Application = domain.Application
	Event       = domain.Event
	Stats       = engine.Stats
	Family      = domain.Family
)

// Client is a minimal intake HTTP API client. BaseURL includes the API base
// path, e.g. http://127.0.0.1:8080/api.
type Client struct {
	BaseURL     string
	BearerToken string
	// ActorID is sent as X-Actor-Id; servers without a JWT secret record it
	// as the deciding actor.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL, Timeout: 10 * time.Second}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string         `json:"code"`
	Message    string         `json:"error"`
	Details    map[string]any `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error: status=%d %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error: status=%d code=%s %s", e.StatusCode, e.Code, e.Message)
}

type Submission struct {
	ReferenceNumber string `json:"referenceNumber"`
	RecordID        string `json:"recordId"`
	Message         string `json:"message"`
}

type Page struct {
	Total int64         `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
	Count int           `json:"count"`
	Data  []Application `json:"data"`
}

type ListOptions struct {
	Status      string
	ProductType string
	Query       string
	Page        int
	Limit       int
}

func (o ListOptions) values() url.Values {
	v := url.Values{}
	if o.Status != "" {
		v.Set("status", o.Status)
	}
	if o.ProductType != "" {
		v.Set("productType", o.ProductType)
	}
	if o.Query != "" {
		v.Set("q", o.Query)
	}
	if o.Page > 0 {
		v.Set("page", strconv.Itoa(o.Page))
	}
	if o.Limit > 0 {
		v.Set("limit", strconv.Itoa(o.Limit))
	}
	return v
}

// Apply submits a raw application body for a family.
func (c *Client) Apply(ctx context.Context, family Family, body map[string]any) (Submission, error) {
	var resp Submission
	err := c.do(ctx, http.MethodPost, family.Plural()+"/apply", body, &resp)
	return resp, err
}

// List returns one page of a family's applications.
func (c *Client) List(ctx context.Context, family Family, opts ListOptions) (Page, error) {
	endpoint := family.Plural()
	if q := opts.values().Encode(); q != "" {
		endpoint += "?" + q
	}
	var resp Page
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Get fetches an application by id or reference number.
func (c *Client) Get(ctx context.Context, family Family, token string) (Application, error) {
	var resp struct {
		Data Application `json:"data"`
	}
	err := c.do(ctx, http.MethodGet, tokenPath(family, token, ""), nil, &resp)
	return resp.Data, err
}

func (c *Client) Approve(ctx context.Context, family Family, token string) (Application, error) {
	return c.decide(ctx, family, token, "approve")
}

func (c *Client) Reject(ctx context.Context, family Family, token string) (Application, error) {
	return c.decide(ctx, family, token, "reject")
}

func (c *Client) decide(ctx context.Context, family Family, token, action string) (Application, error) {
	var resp struct {
		Data Application `json:"data"`
	}
	err := c.do(ctx, http.MethodPut, tokenPath(family, token, action), nil, &resp)
	return resp.Data, err
}

// Events returns the audit trail of an application, oldest first.
func (c *Client) Events(ctx context.Context, family Family, token string) ([]Event, error) {
	var resp struct {
		Data []Event `json:"data"`
	}
	err := c.do(ctx, http.MethodGet, tokenPath(family, token, "events"), nil, &resp)
	return resp.Data, err
}

func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var resp struct {
		Data Stats `json:"data"`
	}
	err := c.do(ctx, http.MethodGet, "admin/stats", nil, &resp)
	return resp.Data, err
}

// Recent lists the newest applications across families. Zero limit and
// empty status use the server defaults.
func (c *Client) Recent(ctx context.Context, limit int, status string) ([]Application, error) {
	v := url.Values{}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	if status != "" {
		v.Set("status", status)
	}
	endpoint := "admin/recent"
	if len(v) > 0 {
		endpoint += "?" + v.Encode()
	}
	return c.applications(ctx, endpoint)
}

func (c *Client) Search(ctx context.Context, q string) ([]Application, error) {
	return c.applications(ctx, "admin/search?"+url.Values{"q": {q}}.Encode())
}

func (c *Client) applications(ctx context.Context, endpoint string) ([]Application, error) {
	var resp struct {
		Data []Application `json:"data"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Data, err
}

// Health returns nil when the server and its store are reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "health", nil, nil)
}

func tokenPath(family Family, token, action string) string {
	p := family.Plural() + "/" + url.PathEscape(token)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(b, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(b))
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
