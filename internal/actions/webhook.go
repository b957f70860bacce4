package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultNotifyTimeout = 5 * time.Second

// NotifyTarget is one outbound notification endpoint. Recipients in a
// send_notification config are matched against target names; a target with an
// empty name receives everything.
type NotifyTarget struct {
	Name   string
	URL    string
	Secret string
}

// WebhookNotifier is the built-in send_notification handler: it POSTs the
// notification payload to each matching target and reports the delivery id.
type WebhookNotifier struct {
	Targets []NotifyTarget
	Client  *http.Client
}

type notifyBody struct {
	DeliveryID string         `json:"delivery_id"`
	EventID    string         `json:"event_id"`
	ProjectID  string         `json:"project_id"`
	SourceType string         `json:"source_type"`
	SourceID   string         `json:"source_id"`
	Subject    string         `json:"subject"`
	Body       string         `json:"body,omitempty"`
	Recipients []string       `json:"recipients"`
	Snapshot   map[string]any `json:"snapshot,omitempty"`
}

// Execute delivers the notification. Every recipient must resolve to at least
// one configured target; otherwise dispatch fails so the miss is visible in
// the audit log instead of silently dropped.
func (n WebhookNotifier) Execute(ctx context.Context, inv Invocation) (Result, error) {
	cfg, ok := inv.Config.(SendNotificationConfig)
	if !ok {
		return Result{}, fmt.Errorf("send_notification handler got %T config", inv.Config)
	}
	targets := n.match(cfg.Recipients)
	if len(targets) == 0 {
		return Result{}, fmt.Errorf("no notification target matches recipients %v", cfg.Recipients)
	}
	deliveryID := uuid.NewString()
	payload := notifyBody{
		DeliveryID: deliveryID,
		EventID:    inv.EventID,
		ProjectID:  inv.ProjectID,
		SourceType: inv.SourceType,
		SourceID:   inv.SourceID,
		Subject:    cfg.Subject,
		Body:       cfg.Body,
		Recipients: cfg.Recipients,
		Snapshot:   inv.Snapshot,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}
	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: defaultNotifyTimeout}
	}
	for _, t := range targets {
		if err := post(ctx, client, t, data, deliveryID); err != nil {
			return Result{}, fmt.Errorf("deliver to %s: %w", t.Name, err)
		}
	}
	return Result{Type: "notification", ID: deliveryID}, nil
}

func (n WebhookNotifier) match(recipients []string) []NotifyTarget {
	var out []NotifyTarget
	for _, t := range n.Targets {
		if strings.TrimSpace(t.URL) == "" {
			continue
		}
		if t.Name == "" {
			out = append(out, t)
			continue
		}
		for _, r := range recipients {
			if strings.EqualFold(r, t.Name) {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

func post(ctx context.Context, client *http.Client, t NotifyTarget, data []byte, deliveryID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Siteline-Delivery", deliveryID)
	if strings.TrimSpace(t.Secret) != "" {
		req.Header.Set("X-Siteline-Secret", t.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
