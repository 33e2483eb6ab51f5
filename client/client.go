// Package client provides a typed Go SDK for the CRM REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is the top-level CRM API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	Escrows      *ResourceService
	Listings     *ResourceService
	Clients      *ResourceService
	Leads        *ResourceService
	Appointments *ResourceService
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token for authentication.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New creates a CRM client for the given base URL (e.g. "http://localhost:3040").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	c.Escrows = &ResourceService{c: c, plural: "escrows"}
	c.Listings = &ResourceService{c: c, plural: "listings"}
	c.Clients = &ResourceService{c: c, plural: "clients"}
	c.Leads = &ResourceService{c: c, plural: "leads"}
	c.Appointments = &ResourceService{c: c, plural: "appointments"}
	return c
}

// Resource returns the service for a resource type given in singular or
// plural form, or nil if the name is unknown.
func (c *Client) Resource(name string) *ResourceService {
	switch name {
	case "escrow", "escrows":
		return c.Escrows
	case "listing", "listings":
		return c.Listings
	case "client", "clients":
		return c.Clients
	case "lead", "leads":
		return c.Leads
	case "appointment", "appointments":
		return c.Appointments
	}
	return nil
}

// Health returns the liveness check response.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get(ctx, "/api/v1/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do executes an HTTP request and decodes the JSON response.
func (c *Client) do(ctx context.Context, method, path string, header http.Header, body any, result any) error {
	u := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseAPIError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// get is a convenience wrapper for GET requests with query parameters.
func (c *Client) get(ctx context.Context, path string, params url.Values, result any) error {
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	return c.do(ctx, http.MethodGet, path, nil, nil, result)
}

// post is a convenience wrapper for POST requests.
func (c *Client) post(ctx context.Context, path string, header http.Header, body any, result any) error {
	return c.do(ctx, http.MethodPost, path, header, body, result)
}

// patch is a convenience wrapper for PATCH requests.
func (c *Client) patch(ctx context.Context, path string, body any, result any) error {
	return c.do(ctx, http.MethodPatch, path, nil, body, result)
}

// del is a convenience wrapper for DELETE requests.
func (c *Client) del(ctx context.Context, path string, header http.Header, result any) error {
	return c.do(ctx, http.MethodDelete, path, header, nil, result)
}

// ifMatch builds the precondition header for an optional expected version.
func ifMatch(version *int) http.Header {
	if version == nil {
		return nil
	}
	h := http.Header{}
	h.Set("If-Match", strconv.Quote(strconv.Itoa(*version)))
	return h
}
