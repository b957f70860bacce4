package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"siteline/internal/actions"
	"siteline/internal/audit"
	"siteline/internal/condition"
	"siteline/internal/domain"
)

// RuleCreateOptions are parameters for creating an escalation rule.
type RuleCreateOptions struct {
	ID                    string
	ProjectID             string
	Name                  string
	SourceType            string
	TriggerCondition      string
	ActionType            string
	ActionConfig          string
	Priority              int
	ExecutionDelayMinutes int
	ActorID               string
}

// validateRuleConfig rejects malformed condition trees and action configs at
// configuration time so evaluation never sees them.
func validateRuleConfig(sourceType, trigger, actionType, actionConfig string) error {
	if !domain.ValidSourceType(sourceType) {
		return fmt.Errorf("unknown source type %q", sourceType)
	}
	if _, err := condition.Parse([]byte(trigger)); err != nil {
		return fmt.Errorf("trigger condition: %w", err)
	}
	if !actions.Valid(actions.Type(actionType)) {
		return fmt.Errorf("unknown action type %q", actionType)
	}
	if _, err := actions.DecodeConfig(actions.Type(actionType), []byte(actionConfig)); err != nil {
		return fmt.Errorf("action config: %w", err)
	}
	return nil
}

func (e Engine) CreateRule(ctx context.Context, opts RuleCreateOptions) (domain.EscalationRule, error) {
	if opts.Name == "" {
		return domain.EscalationRule{}, errors.New("name is required")
	}
	if opts.ProjectID == "" {
		return domain.EscalationRule{}, errors.New("project is required")
	}
	if opts.ExecutionDelayMinutes < 0 {
		return domain.EscalationRule{}, errors.New("execution delay must not be negative")
	}
	if err := validateRuleConfig(opts.SourceType, opts.TriggerCondition, opts.ActionType, opts.ActionConfig); err != nil {
		return domain.EscalationRule{}, err
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.EscalationRule{}, err
	}

	id := opts.ID
	if id == "" {
		id = newID()
	}
	now := e.nowRFC3339()
	rule := domain.EscalationRule{
		ID:                    id,
		ProjectID:             opts.ProjectID,
		Name:                  opts.Name,
		SourceType:            opts.SourceType,
		TriggerCondition:      opts.TriggerCondition,
		ActionType:            opts.ActionType,
		ActionConfig:          opts.ActionConfig,
		IsActive:              true,
		Priority:              opts.Priority,
		ExecutionDelayMinutes: opts.ExecutionDelayMinutes,
		CreatedBy:             opts.ActorID,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.EscalationRule{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRule(ctx, tx, rule); err != nil {
		return domain.EscalationRule{}, fmt.Errorf("insert rule: %w", err)
	}
	if err := e.Audit.Append(ctx, tx, "rule.created", rule.ProjectID, "escalation_rule", rule.ID, opts.ActorID, audit.Payload{
		"name":        rule.Name,
		"source_type": rule.SourceType,
		"action_type": rule.ActionType,
		"priority":    rule.Priority,
	}); err != nil {
		return domain.EscalationRule{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.EscalationRule{}, err
	}
	return rule, nil
}

// RuleUpdateOptions carry the mutable fields of a rule. Nil pointers leave
// the stored value unchanged.
type RuleUpdateOptions struct {
	ID                    string
	Name                  *string
	TriggerCondition      *string
	ActionType            *string
	ActionConfig          *string
	Priority              *int
	ExecutionDelayMinutes *int
	ActorID               string
}

func (e Engine) UpdateRule(ctx context.Context, opts RuleUpdateOptions) (domain.EscalationRule, error) {
	rule, err := e.Repo.GetRule(ctx, opts.ID)
	if err != nil {
		return domain.EscalationRule{}, err
	}
	if opts.Name != nil {
		if *opts.Name == "" {
			return domain.EscalationRule{}, errors.New("name is required")
		}
		rule.Name = *opts.Name
	}
	if opts.TriggerCondition != nil {
		rule.TriggerCondition = *opts.TriggerCondition
	}
	if opts.ActionType != nil {
		rule.ActionType = *opts.ActionType
	}
	if opts.ActionConfig != nil {
		rule.ActionConfig = *opts.ActionConfig
	}
	if opts.Priority != nil {
		rule.Priority = *opts.Priority
	}
	if opts.ExecutionDelayMinutes != nil {
		if *opts.ExecutionDelayMinutes < 0 {
			return domain.EscalationRule{}, errors.New("execution delay must not be negative")
		}
		rule.ExecutionDelayMinutes = *opts.ExecutionDelayMinutes
	}
	if err := validateRuleConfig(rule.SourceType, rule.TriggerCondition, rule.ActionType, rule.ActionConfig); err != nil {
		return domain.EscalationRule{}, err
	}
	rule.UpdatedAt = e.nowRFC3339()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.EscalationRule{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateRule(ctx, tx, rule); err != nil {
		return domain.EscalationRule{}, err
	}
	if err := e.Audit.Append(ctx, tx, "rule.updated", rule.ProjectID, "escalation_rule", rule.ID, opts.ActorID, audit.Payload{
		"name": rule.Name,
	}); err != nil {
		return domain.EscalationRule{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.EscalationRule{}, err
	}
	return rule, nil
}

// SetRuleActive toggles a rule. Deactivation stops new events immediately but
// never cancels already-pending ones; those still reach a terminal state
// through dispatch.
func (e Engine) SetRuleActive(ctx context.Context, id string, active bool, actorID string) (domain.EscalationRule, error) {
	rule, err := e.Repo.GetRule(ctx, id)
	if err != nil {
		return domain.EscalationRule{}, err
	}
	if rule.IsActive == active {
		return rule, nil
	}
	now := e.nowRFC3339()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.EscalationRule{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetRuleActive(ctx, tx, id, active, now); err != nil {
		return domain.EscalationRule{}, err
	}
	entry := "rule.deactivated"
	if active {
		entry = "rule.activated"
	}
	if err := e.Audit.Append(ctx, tx, entry, rule.ProjectID, "escalation_rule", rule.ID, actorID, nil); err != nil {
		return domain.EscalationRule{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.EscalationRule{}, err
	}
	rule.IsActive = active
	rule.UpdatedAt = now
	return rule, nil
}

// DeleteRule removes a rule. Events it produced keep their history rows with
// rule_id nulled by the schema.
func (e Engine) DeleteRule(ctx context.Context, id, actorID string) error {
	rule, err := e.Repo.GetRule(ctx, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteRule(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Audit.Append(ctx, tx, "rule.deleted", rule.ProjectID, "escalation_rule", rule.ID, actorID, audit.Payload{
		"name": rule.Name,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// RuleTestResult reports a dry-run evaluation of one rule against a snapshot.
type RuleTestResult struct {
	Matched      bool    `json:"matched"`
	ScheduledFor string  `json:"scheduled_for,omitempty"`
	ParseError   *string `json:"parse_error,omitempty"`
}

// TestRule evaluates a rule's condition against the given snapshot without
// creating an event. Parse failures are reported, not failed-closed, since
// the caller is debugging the rule.
func (e Engine) TestRule(ctx context.Context, id string, snapshot map[string]any) (RuleTestResult, error) {
	rule, err := e.Repo.GetRule(ctx, id)
	if err != nil {
		return RuleTestResult{}, err
	}
	tree, err := condition.Parse([]byte(rule.TriggerCondition))
	if err != nil {
		msg := err.Error()
		return RuleTestResult{ParseError: &msg}, nil
	}
	res := RuleTestResult{Matched: condition.Evaluate(tree, condition.Snapshot(snapshot))}
	if res.Matched {
		res.ScheduledFor = scheduledFor(e.now(), rule.ExecutionDelayMinutes)
	}
	return res, nil
}

// snapshotJSON freezes a snapshot map for storage on an event row.
func snapshotJSON(snapshot map[string]any) (string, error) {
	if snapshot == nil {
		snapshot = map[string]any{}
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	return string(data), nil
}
