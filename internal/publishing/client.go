// Package publishing synchronizes guides and topics with the publishing API.
package publishing

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

	"servicemanual/api/internal/telemetry"
)

// Unpublish types understood by the publishing API.
const (
	UnpublishGone     = "gone"
	UnpublishRedirect = "redirect"
)

// API is the publishing API v2 surface used by the publishers and the
// change-note migrator.
type API interface {
	PutContent(ctx context.Context, contentID string, payload any) error
	Publish(ctx context.Context, contentID, updateType string) error
	PatchLinks(ctx context.Context, contentID string, payload any) error
	PutLinks(ctx context.Context, contentID string, payload any) error
	Unpublish(ctx context.Context, contentID string, req UnpublishRequest) error
}

type UnpublishRequest struct {
	Type            string `json:"type"`
	AlternativePath string `json:"alternative_path,omitempty"`
	Explanation     string `json:"explanation,omitempty"`
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	metrics    *telemetry.Metrics
}

func NewClient(baseURL, token string, timeout time.Duration, metrics *telemetry.Metrics) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		metrics:    metrics,
	}
}

var _ API = (*Client)(nil)

func (c *Client) PutContent(ctx context.Context, contentID string, payload any) error {
	return c.do(ctx, "put_content", http.MethodPut, "/v2/content/"+url.PathEscape(contentID), payload)
}

func (c *Client) Publish(ctx context.Context, contentID, updateType string) error {
	body := map[string]string{"update_type": updateType}
	return c.do(ctx, "publish", http.MethodPost, "/v2/content/"+url.PathEscape(contentID)+"/publish", body)
}

func (c *Client) PatchLinks(ctx context.Context, contentID string, payload any) error {
	return c.do(ctx, "patch_links", http.MethodPatch, "/v2/links/"+url.PathEscape(contentID), payload)
}

func (c *Client) PutLinks(ctx context.Context, contentID string, payload any) error {
	return c.do(ctx, "put_links", http.MethodPut, "/v2/links/"+url.PathEscape(contentID), payload)
}

func (c *Client) Unpublish(ctx context.Context, contentID string, req UnpublishRequest) error {
	return c.do(ctx, "unpublish", http.MethodPost, "/v2/content/"+url.PathEscape(contentID)+"/unpublish", req)
}

func (c *Client) do(ctx context.Context, operation, method, path string, body any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", operation, err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.PublishingRequest(operation, "transport_error", time.Since(started))
		return fmt.Errorf("publishing api %s: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		outcome := "server_error"
		if resp.StatusCode < 500 {
			outcome = "client_error"
		}
		c.metrics.PublishingRequest(operation, outcome, time.Since(started))
		return newError(resp.StatusCode, data)
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	c.metrics.PublishingRequest(operation, "ok", time.Since(started))
	return nil
}
