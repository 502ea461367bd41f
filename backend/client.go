// Package backend talks to the warehouse API and keeps the local store in
// step with it.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dotside-studios/warehouse-agent/buildinfo"
	"github.com/dotside-studios/warehouse-agent/warehouse"
)

// DefaultTimeout bounds a single API request.
const DefaultTimeout = 30 * time.Second

// SyncResult is the backend's answer to a batch push.
type SyncResult struct {
	Success     bool     `json:"success"`
	SyncedCount int      `json:"syncedCount"`
	Errors      []string `json:"errors,omitempty"`
}

// Err folds a rejected result into an error.
func (r SyncResult) Err() error {
	if r.Success {
		return nil
	}
	if len(r.Errors) == 0 {
		return errors.New("backend rejected batch")
	}
	return fmt.Errorf("backend rejected batch: %s", strings.Join(r.Errors, "; "))
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s returned %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

// Client calls the warehouse REST API.
type Client struct {
	baseURL *url.URL
	token   string
	client  *http.Client
}

// NewClient creates a client for the API rooted at baseURL. A nil httpClient
// gets one with DefaultTimeout.
func NewClient(baseURL, token string, httpClient *http.Client) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("backend url is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend url must be http or https, got %q", baseURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{baseURL: u, token: token, client: httpClient}, nil
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// FetchTasks returns the picking tasks assigned on the backend.
func (c *Client) FetchTasks(ctx context.Context) ([]warehouse.Task, error) {
	var tasks []warehouse.Task
	if err := c.do(ctx, http.MethodGet, "/tasks", nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// UpdateTask pushes local progress for one task.
func (c *Client) UpdateTask(ctx context.Context, t warehouse.Task) error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("task id is required")
	}
	return c.do(ctx, http.MethodPut, "/tasks/"+url.PathEscape(t.ID), t, nil)
}

// AddShipment records a single shipment.
func (c *Client) AddShipment(ctx context.Context, sh warehouse.Shipment) error {
	return c.do(ctx, http.MethodPost, "/shipments", sh, nil)
}

// SyncProducts pushes a batch of received products.
func (c *Client) SyncProducts(ctx context.Context, products []warehouse.Product) (SyncResult, error) {
	var result SyncResult
	if err := c.do(ctx, http.MethodPost, "/sync/products", products, &result); err != nil {
		return SyncResult{}, err
	}
	return result, nil
}

// SyncShipments pushes a batch of shipments.
func (c *Client) SyncShipments(ctx context.Context, shipments []warehouse.Shipment) (SyncResult, error) {
	var result SyncResult
	if err := c.do(ctx, http.MethodPost, "/sync/shipments", shipments, &result); err != nil {
		return SyncResult{}, err
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	endpoint := *c.baseURL
	endpoint.Path += path
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
