package sitelinesdk

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
)

// Client is a minimal Siteline HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Rule represents the API escalation rule model (partial).
type Rule struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	Name       string `json:"name"`
	SourceType string `json:"source_type"`
	ActionType string `json:"action_type"`
	IsActive   bool   `json:"is_active"`
	Priority   int    `json:"priority"`
}

// Escalation represents a queued escalation event.
type Escalation struct {
	ID           string         `json:"id"`
	ProjectID    string         `json:"project_id"`
	SourceType   string         `json:"source_type"`
	SourceID     string         `json:"source_id"`
	ActionType   string         `json:"action_type"`
	Status       string         `json:"status"`
	ScheduledFor string         `json:"scheduled_for"`
	Snapshot     map[string]any `json:"source_data_snapshot,omitempty"`
}

// DispatchStats summarizes one dispatch pass.
type DispatchStats struct {
	Claimed  int `json:"claimed"`
	Executed int `json:"executed"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

// AuditEntry represents one audit log entry.
type AuditEntry struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEscalations wraps escalation list responses.
type PaginatedEscalations struct {
	Items []Escalation `json:"items"`
}

// PaginatedAudit wraps audit list responses with a cursor.
type PaginatedAudit struct {
	Items      []AuditEntry `json:"items"`
	NextCursor string       `json:"next_cursor"`
}

// CreateRule creates an escalation rule. Condition and actionConfig are the
// raw JSON objects the API expects.
func (c *Client) CreateRule(ctx context.Context, name, sourceType, actionType string, condition, actionConfig map[string]any) (Rule, error) {
	body := map[string]any{
		"name":              name,
		"source_type":       sourceType,
		"action_type":       actionType,
		"trigger_condition": condition,
		"action_config":     actionConfig,
	}
	var resp Rule
	err := c.do(ctx, http.MethodPost, c.projectPath("rules"), body, &resp)
	return resp, err
}

// Trigger submits a source snapshot for rule evaluation and returns the
// escalation events it queued.
func (c *Client) Trigger(ctx context.Context, sourceType, sourceID string, snapshot map[string]any) ([]Escalation, error) {
	body := map[string]any{
		"source_type": sourceType,
		"source_id":   sourceID,
		"snapshot":    snapshot,
	}
	var resp PaginatedEscalations
	err := c.do(ctx, http.MethodPost, c.projectPath("triggers"), body, &resp)
	return resp.Items, err
}

// Dispatch executes due escalation events.
func (c *Client) Dispatch(ctx context.Context, dispatcherID string) (DispatchStats, error) {
	body := map[string]any{"dispatcher_id": dispatcherID}
	var resp DispatchStats
	err := c.do(ctx, http.MethodPost, c.projectPath("escalations/dispatch"), body, &resp)
	return resp, err
}

// Escalations lists escalation events, optionally filtered by status.
func (c *Client) Escalations(ctx context.Context, status string, limit int) ([]Escalation, error) {
	endpoint := c.projectPath("escalations")
	params := url.Values{}
	if status != "" {
		params.Set("status", status)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp PaginatedEscalations
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Audit returns recent audit entries.
func (c *Client) Audit(ctx context.Context, limit int) ([]AuditEntry, error) {
	page, err := c.AuditPage(ctx, limit, "")
	return page.Items, err
}

// AuditPage returns a paginated audit listing.
func (c *Client) AuditPage(ctx context.Context, limit int, cursor string) (PaginatedAudit, error) {
	endpoint := c.projectPath("audit")
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp PaginatedAudit
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// EvaluateEquipment submits a meter reading and returns the block state.
func (c *Client) EvaluateEquipment(ctx context.Context, equipmentID string, currentHours float64) (map[string]any, error) {
	body := map[string]any{"current_hours": currentHours}
	var resp map[string]any
	endpoint := c.projectPath(fmt.Sprintf("equipment/%s/evaluate", url.PathEscape(equipmentID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
