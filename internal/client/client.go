// Package client is the HTTP client the CLI uses to talk to a running agent.
package client

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

	"github.com/leshsec/lesh/internal/agent"
	"github.com/leshsec/lesh/internal/analytics"
	"github.com/leshsec/lesh/internal/threat"
)

// ErrNotFound marks a 404 from the agent, so callers can tell a missing
// record apart from transport or auth failures.
var ErrNotFound = errors.New("not found")

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(baseURL string, apiKey string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Status(ctx context.Context) (agent.Status, error) {
	var out agent.Status
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/status", nil, nil, &out); err != nil {
		return out, err
	}
	return out, nil
}

func (c *Client) ListThreats(ctx context.Context, activeOnly bool) ([]threat.Threat, error) {
	var q url.Values
	if activeOnly {
		q = url.Values{"active": []string{"true"}}
	}
	var out []threat.Threat
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/threats", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetThreat(ctx context.Context, id string) (threat.Threat, error) {
	var out threat.Threat
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/threats/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return out, err
	}
	return out, nil
}

func (c *Client) ResolveThreat(ctx context.Context, id, details string) (threat.Threat, error) {
	var out threat.Threat
	var body any
	if details != "" {
		body = map[string]any{"details": details}
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/threats/"+url.PathEscape(id)+"/resolve", nil, body, &out); err != nil {
		return out, err
	}
	return out, nil
}

// ScanResult is the response of a manually triggered detection pass.
type ScanResult struct {
	NewThreats int             `json:"new_threats"`
	Threats    []threat.Threat `json:"threats"`
}

func (c *Client) Scan(ctx context.Context) (ScanResult, error) {
	var out ScanResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/scan", nil, nil, &out); err != nil {
		return out, err
	}
	return out, nil
}

func (c *Client) AnalyticsSummary(ctx context.Context) (analytics.Summary, error) {
	var out analytics.Summary
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/analytics/summary", nil, nil, &out); err != nil {
		return out, err
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, q url.Values, body any, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%s %s: %s: %s: %w", method, path, resp.Status, strings.TrimSpace(string(b)), ErrNotFound)
		}
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(b)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
