// Package client provides the HTTP client for the runtime's status endpoints.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/matbeedotcom/remotemedia-sdk-sub004/pkg/executor"
)

// Client talks to a remotemedia-runtime status server.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a client for the given base URL.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Health checks that the runtime is up.
func (c *Client) Health(ctx context.Context) error {
	var out map[string]string
	if err := c.getJSON(ctx, "/healthz", &out); err != nil {
		return err
	}
	if out["status"] != "ok" {
		return fmt.Errorf("unexpected health status %q", out["status"])
	}
	return nil
}

// Status fetches the runtime snapshot.
func (c *Client) Status(ctx context.Context) (executor.Snapshot, error) {
	var snap executor.Snapshot
	err := c.getJSON(ctx, "/statusz", &snap)
	return snap, err
}

// History fetches recorded lifecycle events. With a session ID the entries
// come back in insertion order for that session, otherwise newest first.
func (c *Client) History(ctx context.Context, sessionID string, limit int) ([]executor.JournalEntry, error) {
	params := url.Values{}
	if sessionID != "" {
		params.Set("session", sessionID)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	path := "/journalz"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var out struct {
		Entries []executor.JournalEntry `json:"entries"`
	}
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
