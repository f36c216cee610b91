package riskgate

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to a riskgate server. Safe for concurrent use.
type Client struct {
	baseURL   string
	apiKey    string
	sessionID string
	http      *http.Client
}

// New creates a Client with the given options. Without WithSession a
// random session id is generated, so one Client is one agent session.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL: "http://localhost:8080",
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	if c.sessionID == "" {
		c.sessionID = newSessionID()
	}
	return c
}

// SessionID returns the session this client evaluates under.
func (c *Client) SessionID() string { return c.sessionID }

func newSessionID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("session-%d", time.Now().UnixNano())
	}
	return "session-" + hex.EncodeToString(b[:])
}

// Evaluate submits an action for risk scoring.
func (c *Client) Evaluate(ctx context.Context, action Action) (*EvaluationResult, error) {
	body := map[string]any{
		"session_id": c.sessionID,
		"action":     action.Name,
		"target":     action.Target,
		"metadata":   action.Metadata,
	}
	var out EvaluationResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/evaluate", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Approve resolves a pending checkpointed action.
func (c *Client) Approve(ctx context.Context, actionID int64, approved bool, notes string) (*ActionRecord, error) {
	body := map[string]any{
		"action_id": actionID,
		"approved":  approved,
		"notes":     notes,
		"channel":   "sdk",
	}
	var out ActionRecord
	if err := c.do(ctx, http.MethodPost, "/api/v1/approve", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecordNearMiss reports an incident that almost caused harm, raising
// future scores for the pattern.
func (c *Client) RecordNearMiss(ctx context.Context, pattern, nearMissType string, severity float64, description string) (*NearMissEvent, error) {
	body := map[string]any{
		"session_id":     c.sessionID,
		"action_pattern": pattern,
		"near_miss_type": nearMissType,
		"severity":       severity,
		"description":    description,
	}
	var out NearMissEvent
	if err := c.do(ctx, http.MethodPost, "/api/v1/near-miss", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Budget fetches this session's budget state.
func (c *Client) Budget(ctx context.Context) (*BudgetState, error) {
	var out BudgetState
	if err := c.do(ctx, http.MethodGet, "/api/v1/budget/"+c.sessionID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Action fetches one evaluation record.
func (c *Client) Action(ctx context.Context, actionID int64) (*ActionRecord, error) {
	var out ActionRecord
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/actions/%d", actionID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Pending lists checkpointed actions awaiting resolution.
func (c *Client) Pending(ctx context.Context) ([]ActionRecord, error) {
	var out struct {
		Pending []ActionRecord `json:"pending"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/actions/pending", nil, &out); err != nil {
		return nil, err
	}
	return out.Pending, nil
}

// WaitForApproval polls until the action leaves the pending state or
// ctx is done.
func (c *Client) WaitForApproval(ctx context.Context, actionID int64, interval time.Duration) (*ActionRecord, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		rec, err := c.Action(ctx, actionID)
		if err != nil {
			return nil, err
		}
		if rec.Status != StatusPending {
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("riskgate: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("riskgate: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("riskgate: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("riskgate: decode response: %w", err)
		}
	}
	return nil
}
