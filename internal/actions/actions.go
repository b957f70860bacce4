// Package actions defines the action side of escalation rules: the closed set
// of action types, their typed configuration payloads, and the handler
// registry the dispatcher executes through. The engine records outcomes; the
// handlers themselves belong to the embedding system, with the exception of
// the built-in webhook notifier.
package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"siteline/internal/condition"
)

// Type identifies what a rule does when it fires.
type Type string

const (
	CreatePunchItem  Type = "create_punch_item"
	CreateTask       Type = "create_task"
	SendNotification Type = "send_notification"
	CreateRFI        Type = "create_rfi"
	AssignUser       Type = "assign_user"
	ChangeStatus     Type = "change_status"
	CreateInspection Type = "create_inspection"
)

// Types lists every valid action type.
var Types = []Type{
	CreatePunchItem,
	CreateTask,
	SendNotification,
	CreateRFI,
	AssignUser,
	ChangeStatus,
	CreateInspection,
}

// Valid reports whether t is a known action type.
func Valid(t Type) bool {
	for _, v := range Types {
		if v == t {
			return true
		}
	}
	return false
}

// ErrNotApplicable is returned by handlers when the action no longer applies,
// e.g. the source entity was resolved between trigger and dispatch. The
// dispatcher records the event as skipped rather than failed.
var ErrNotApplicable = errors.New("action no longer applies")

// Config is the decoded, validated configuration of one action. The concrete
// type is determined by the action type.
type Config interface {
	Validate() error
	isConfig()
}

type CreatePunchItemConfig struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	AssigneeID  string `json:"assignee_id,omitempty"`
	Priority    string `json:"priority,omitempty"`
	TradeCode   string `json:"trade_code,omitempty"`
}

type CreateTaskConfig struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	AssigneeID  string `json:"assignee_id,omitempty"`
	DueInDays   int    `json:"due_in_days,omitempty"`
}

type SendNotificationConfig struct {
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body,omitempty"`
}

type CreateRFIConfig struct {
	Subject    string `json:"subject"`
	Question   string `json:"question,omitempty"`
	AssigneeID string `json:"assignee_id,omitempty"`
}

type AssignUserConfig struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
}

type ChangeStatusConfig struct {
	Status string `json:"status"`
}

type CreateInspectionConfig struct {
	TemplateID  string `json:"template_id"`
	AssigneeID  string `json:"assignee_id,omitempty"`
	DueInDays   int    `json:"due_in_days,omitempty"`
	Description string `json:"description,omitempty"`
}

func (CreatePunchItemConfig) isConfig()  {}
func (CreateTaskConfig) isConfig()       {}
func (SendNotificationConfig) isConfig() {}
func (CreateRFIConfig) isConfig()        {}
func (AssignUserConfig) isConfig()       {}
func (ChangeStatusConfig) isConfig()     {}
func (CreateInspectionConfig) isConfig() {}

func (c CreatePunchItemConfig) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return errors.New("create_punch_item config requires title")
	}
	return nil
}

func (c CreateTaskConfig) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return errors.New("create_task config requires title")
	}
	if c.DueInDays < 0 {
		return errors.New("create_task due_in_days cannot be negative")
	}
	return nil
}

func (c SendNotificationConfig) Validate() error {
	if len(c.Recipients) == 0 {
		return errors.New("send_notification config requires recipients")
	}
	if strings.TrimSpace(c.Subject) == "" {
		return errors.New("send_notification config requires subject")
	}
	return nil
}

func (c CreateRFIConfig) Validate() error {
	if strings.TrimSpace(c.Subject) == "" {
		return errors.New("create_rfi config requires subject")
	}
	return nil
}

func (c AssignUserConfig) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return errors.New("assign_user config requires user_id")
	}
	return nil
}

func (c ChangeStatusConfig) Validate() error {
	if strings.TrimSpace(c.Status) == "" {
		return errors.New("change_status config requires status")
	}
	return nil
}

func (c CreateInspectionConfig) Validate() error {
	if strings.TrimSpace(c.TemplateID) == "" {
		return errors.New("create_inspection config requires template_id")
	}
	return nil
}

// DecodeConfig parses and validates the per-action JSON blob. It is the
// configuration-time gate: rules with a blob that fails here are rejected
// before they are stored, never at dispatch time.
func DecodeConfig(t Type, raw []byte) (Config, error) {
	if !Valid(t) {
		return nil, fmt.Errorf("unknown action type %q", t)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var cfg Config
	switch t {
	case CreatePunchItem:
		c := CreatePunchItemConfig{}
		if err := dec.Decode(&c); err != nil {
			return nil, fmt.Errorf("%s config: %w", t, err)
		}
		cfg = c
	case CreateTask:
		c := CreateTaskConfig{}
		if err := dec.Decode(&c); err != nil {
			return nil, fmt.Errorf("%s config: %w", t, err)
		}
		cfg = c
	case SendNotification:
		c := SendNotificationConfig{}
		if err := dec.Decode(&c); err != nil {
			return nil, fmt.Errorf("%s config: %w", t, err)
		}
		cfg = c
	case CreateRFI:
		c := CreateRFIConfig{}
		if err := dec.Decode(&c); err != nil {
			return nil, fmt.Errorf("%s config: %w", t, err)
		}
		cfg = c
	case AssignUser:
		c := AssignUserConfig{}
		if err := dec.Decode(&c); err != nil {
			return nil, fmt.Errorf("%s config: %w", t, err)
		}
		cfg = c
	case ChangeStatus:
		c := ChangeStatusConfig{}
		if err := dec.Decode(&c); err != nil {
			return nil, fmt.Errorf("%s config: %w", t, err)
		}
		cfg = c
	case CreateInspection:
		c := CreateInspectionConfig{}
		if err := dec.Decode(&c); err != nil {
			return nil, fmt.Errorf("%s config: %w", t, err)
		}
		cfg = c
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Result identifies the artifact a handler produced.
type Result struct {
	Type string
	ID   string
}

// Invocation is everything a handler gets: the validated config and the
// source snapshot frozen at trigger time.
type Invocation struct {
	EventID    string
	ProjectID  string
	SourceType string
	SourceID   string
	Config     Config
	Snapshot   condition.Snapshot
}

// Handler executes one action type. Handlers must be idempotent: the claim
// discipline guarantees at-most-once dispatch per event, but external retry
// layers may re-trigger the same rule.
type Handler interface {
	Execute(ctx context.Context, inv Invocation) (Result, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, inv Invocation) (Result, error)

func (f HandlerFunc) Execute(ctx context.Context, inv Invocation) (Result, error) {
	return f(ctx, inv)
}

// Registry maps action types to their handlers.
type Registry map[Type]Handler

// Register binds a handler, replacing any existing binding.
func (r Registry) Register(t Type, h Handler) {
	r[t] = h
}

// Lookup returns the handler for a type, if one is registered.
func (r Registry) Lookup(t Type) (Handler, bool) {
	h, ok := r[t]
	return h, ok
}
