// Package platform talks to the external database-management API: creating
// a dedicated database resource per tenant and minting access credentials
// for it. All calls are bearer-token authenticated.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Database is the descriptor the management API returns for a database
// resource.
type Database struct {
	Name          string `json:"Name"`
	Hostname      string `json:"Hostname"`
	PrimaryRegion string `json:"primaryRegion"`
}

// Client is a bearer-authenticated HTTP client for the management API.
type Client struct {
	baseURL string
	org     string
	token   string
	client  *http.Client
}

// New builds a client for the given API base URL (no trailing slash),
// organization and API token.
func New(baseURL, org, token string) *Client {
	return &Client{
		baseURL: baseURL,
		org:     org,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateDatabase creates a database resource under the organization. An
// "already exists" rejection is treated as success: the existing descriptor
// is fetched and returned, making provisioning idempotent.
func (c *Client) CreateDatabase(ctx context.Context, name, group string) (*Database, error) {
	url := fmt.Sprintf("%s/v1/organizations/%s/databases", c.baseURL, c.org)
	payload := map[string]string{"name": name, "group": group}

	var resp struct {
		Database Database `json:"database"`
	}
	err := c.do(ctx, http.MethodPost, url, payload, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.AlreadyExists() {
			return c.GetDatabase(ctx, name)
		}
		return nil, fmt.Errorf("creating database %s: %w", name, err)
	}
	return &resp.Database, nil
}

// GetDatabase fetches the descriptor of an existing database resource.
func (c *Client) GetDatabase(ctx context.Context, name string) (*Database, error) {
	url := fmt.Sprintf("%s/v1/organizations/%s/databases/%s", c.baseURL, c.org, name)

	var resp struct {
		Database Database `json:"database"`
	}
	if err := c.do(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return nil, fmt.Errorf("getting database %s: %w", name, err)
	}
	return &resp.Database, nil
}

// CreateToken mints an access credential for a database resource.
func (c *Client) CreateToken(ctx context.Context, name, expiration, authorization string) (string, error) {
	url := fmt.Sprintf("%s/v1/organizations/%s/databases/%s/auth/tokens", c.baseURL, c.org, name)
	payload := map[string]string{"expiration": expiration, "authorization": authorization}

	var resp struct {
		JWT string `json:"jwt"`
	}
	if err := c.do(ctx, http.MethodPost, url, payload, &resp); err != nil {
		return "", &TokenError{Database: name, Err: err}
	}
	return resp.JWT, nil
}

func (c *Client) do(ctx context.Context, method, url string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Body: truncate(string(respBody), 200)}
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
