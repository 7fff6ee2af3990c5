package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/capylingo/internal/api"
	"github.com/ashureev/capylingo/internal/engine"
)

type (
	eventResponse = engine.Response
	accountView   = api.AccountView
)

type eventRequest struct {
	SessionKey string `json:"session_key,omitempty"`
	Text       string `json:"text,omitempty"`
	AgeGroup   string `json:"age_group,omitempty"`
}

// client calls the capylingo HTTP API. adminToken is sent only on the
// operator account endpoints.
type client struct {
	base       string
	adminToken string
	http       *http.Client
}

func newClient(base, adminToken string) *client {
	return &client{
		base:       strings.TrimRight(base, "/"),
		adminToken: adminToken,
		http:       &http.Client{Timeout: 3 * time.Minute},
	}
}

func (c *client) Event(ctx context.Context, req eventRequest) (eventResponse, error) {
	var out eventResponse
	err := c.do(ctx, http.MethodPost, "/api/events", req, &out, false)
	return out, err
}

func (c *client) Account(ctx context.Context, userID string) (accountView, error) {
	var out accountView
	err := c.do(ctx, http.MethodGet, adminAccountPath(userID)+"/", nil, &out, true)
	return out, err
}

func (c *client) GrantPremium(ctx context.Context, userID string, days int) (accountView, error) {
	var out accountView
	err := c.do(ctx, http.MethodPost, adminAccountPath(userID)+"/premium", map[string]int{"days": days}, &out, true)
	return out, err
}

func (c *client) AddLives(ctx context.Context, userID string, n int) (accountView, error) {
	var out accountView
	err := c.do(ctx, http.MethodPost, adminAccountPath(userID)+"/lives", map[string]int{"amount": n}, &out, true)
	return out, err
}

func adminAccountPath(userID string) string {
	return "/api/admin/accounts/" + url.PathEscape(userID)
}

func (c *client) do(ctx context.Context, method, path string, body, out any, admin bool) error {
	if admin && c.adminToken == "" {
		return fmt.Errorf("%s %s: admin token required, set --admin-token or CAPYCTL_ADMIN_TOKEN", method, path)
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, apiErr.Error)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
