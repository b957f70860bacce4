package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"siteline/internal/audit"
	"siteline/internal/condition"
	"siteline/internal/domain"
)

// TriggerOptions describe one mutation of a tracked source entity. Snapshot
// is the flat field map the entity owner captured at mutation time.
type TriggerOptions struct {
	ProjectID  string
	SourceType string
	SourceID   string
	Snapshot   map[string]any
	ActorID    string
}

func scheduledFor(now time.Time, delayMinutes int) string {
	return now.UTC().Add(time.Duration(delayMinutes) * time.Minute).Format(time.RFC3339)
}

// Trigger evaluates every active rule for the source type against the
// snapshot and inserts one pending event per match. Rules are independent:
// a malformed stored condition fails that rule closed and the rest still
// run, and multiple matches are never deduplicated.
func (e Engine) Trigger(ctx context.Context, opts TriggerOptions) ([]domain.EscalationEvent, error) {
	if opts.ProjectID == "" {
		return nil, errors.New("project is required")
	}
	if !domain.ValidSourceType(opts.SourceType) {
		return nil, fmt.Errorf("unknown source type %q", opts.SourceType)
	}
	if opts.SourceID == "" {
		return nil, errors.New("source id is required")
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return nil, err
	}

	rules, err := e.Repo.ActiveRules(ctx, opts.ProjectID, opts.SourceType)
	if err != nil {
		return nil, err
	}
	snap := condition.Snapshot(opts.Snapshot)
	frozen, err := snapshotJSON(opts.Snapshot)
	if err != nil {
		return nil, err
	}

	now := e.now()
	triggeredAt := now.UTC().Format(time.RFC3339)
	var matched []domain.EscalationEvent
	for _, rule := range rules {
		tree, perr := condition.Parse([]byte(rule.TriggerCondition))
		if perr != nil {
			// Fail closed: a rule whose stored tree no longer parses
			// must not abort its siblings.
			e.log().Warn("stored condition failed to parse",
				zap.String("rule_id", rule.ID),
				zap.Error(perr))
			continue
		}
		if !condition.Evaluate(tree, snap) {
			continue
		}
		ruleID := rule.ID
		matched = append(matched, domain.EscalationEvent{
			ID:           newID(),
			RuleID:       &ruleID,
			ProjectID:    opts.ProjectID,
			SourceType:   opts.SourceType,
			SourceID:     opts.SourceID,
			Snapshot:     frozen,
			ActionType:   rule.ActionType,
			ActionConfig: rule.ActionConfig,
			Status:       domain.EventPending,
			TriggeredAt:  triggeredAt,
			ScheduledFor: scheduledFor(now, rule.ExecutionDelayMinutes),
			TriggeredBy:  opts.ActorID,
		})
	}
	if len(matched) == 0 {
		return nil, nil
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	for _, evt := range matched {
		if err := e.Repo.InsertEvent(ctx, tx, evt); err != nil {
			return nil, fmt.Errorf("insert event: %w", err)
		}
		if err := e.Audit.Append(ctx, tx, "escalation.triggered", evt.ProjectID, "escalation_event", evt.ID, opts.ActorID, audit.Payload{
			"rule_id":       *evt.RuleID,
			"source_type":   evt.SourceType,
			"source_id":     evt.SourceID,
			"action_type":   evt.ActionType,
			"scheduled_for": evt.ScheduledFor,
		}); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	e.log().Info("escalations triggered",
		zap.String("project_id", opts.ProjectID),
		zap.String("source_type", opts.SourceType),
		zap.String("source_id", opts.SourceID),
		zap.Int("events", len(matched)))
	return matched, nil
}
