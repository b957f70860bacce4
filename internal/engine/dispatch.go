package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"siteline/internal/actions"
	"siteline/internal/audit"
	"siteline/internal/condition"
	"siteline/internal/domain"
	"siteline/internal/repo"
)

// DispatchStats summarizes one dispatch pass.
type DispatchStats struct {
	Claimed  int `json:"claimed"`
	Executed int `json:"executed"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

// DispatchDue processes pending events whose scheduled time has elapsed.
// Each event is claimed before its handler runs, so concurrent dispatchers
// execute every handler at most once; losing a claim is not an error. Every
// claimed event reaches a terminal state in this pass, including handler
// panics, which finalize as failed.
func (e Engine) DispatchDue(ctx context.Context, projectID, dispatcherID string) (DispatchStats, error) {
	var stats DispatchStats
	if dispatcherID == "" {
		dispatcherID = "dispatcher"
	}
	limit := 100
	if e.Config != nil {
		limit = e.Config.BatchSize()
	}
	now := e.now()
	due, err := e.Repo.DueEvents(ctx, projectID, now.UTC().Format(time.RFC3339), limit)
	if err != nil {
		return stats, err
	}
	for _, evt := range due {
		ok, err := e.Repo.ClaimEvent(ctx, evt.ID, dispatcherID, e.nowRFC3339())
		if err != nil {
			return stats, fmt.Errorf("claim event %s: %w", evt.ID, err)
		}
		if !ok {
			continue
		}
		stats.Claimed++
		outcome := e.executeEvent(ctx, evt)
		if err := e.finalize(ctx, evt, outcome, dispatcherID); err != nil {
			return stats, err
		}
		switch outcome.Status {
		case domain.EventExecuted:
			stats.Executed++
		case domain.EventSkipped:
			stats.Skipped++
		default:
			stats.Failed++
		}
	}
	return stats, nil
}

// executeEvent runs the action handler and maps its result to a terminal
// outcome. It never returns an error: handler failures become the failed
// state on the event, not a fault in the dispatch loop.
func (e Engine) executeEvent(ctx context.Context, evt domain.EscalationEvent) (outcome repo.EventOutcome) {
	outcome = repo.EventOutcome{Status: domain.EventFailed, ExecutedAt: e.nowRFC3339()}
	defer func() {
		if r := recover(); r != nil {
			outcome.Status = domain.EventFailed
			outcome.ErrorMessage = fmt.Sprintf("handler panic: %v", r)
			e.log().Error("action handler panicked",
				zap.String("event_id", evt.ID),
				zap.Any("panic", r))
		}
	}()

	handler, ok := e.Actions.Lookup(actions.Type(evt.ActionType))
	if !ok {
		outcome.ErrorMessage = fmt.Sprintf("no handler registered for action type %q", evt.ActionType)
		return outcome
	}
	cfg, err := actions.DecodeConfig(actions.Type(evt.ActionType), []byte(evt.ActionConfig))
	if err != nil {
		outcome.ErrorMessage = fmt.Sprintf("decode action config: %v", err)
		return outcome
	}
	var snap condition.Snapshot
	if evt.Snapshot != "" {
		if err := json.Unmarshal([]byte(evt.Snapshot), &snap); err != nil {
			outcome.ErrorMessage = fmt.Sprintf("decode snapshot: %v", err)
			return outcome
		}
	}

	res, err := handler.Execute(ctx, actions.Invocation{
		EventID:    evt.ID,
		ProjectID:  evt.ProjectID,
		SourceType: evt.SourceType,
		SourceID:   evt.SourceID,
		Config:     cfg,
		Snapshot:   snap,
	})
	outcome.ExecutedAt = e.nowRFC3339()
	switch {
	case errors.Is(err, actions.ErrNotApplicable):
		outcome.Status = domain.EventSkipped
		outcome.ErrorMessage = err.Error()
	case err != nil:
		outcome.Status = domain.EventFailed
		outcome.ErrorMessage = err.Error()
	default:
		outcome.Status = domain.EventExecuted
		if res.Type != "" {
			outcome.ResultType = &res.Type
			outcome.ResultID = &res.ID
		}
	}
	return outcome
}

func (e Engine) finalize(ctx context.Context, evt domain.EscalationEvent, outcome repo.EventOutcome, dispatcherID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ok, err := e.Repo.FinalizeEvent(ctx, tx, evt.ID, outcome)
	if err != nil {
		return fmt.Errorf("finalize event %s: %w", evt.ID, err)
	}
	if !ok {
		// Should not happen after a won claim; leave a trace rather
		// than overwrite whatever terminal state landed first.
		e.log().Warn("finalize affected zero rows", zap.String("event_id", evt.ID))
		return nil
	}
	payload := audit.Payload{"status": outcome.Status, "action_type": evt.ActionType}
	if outcome.ErrorMessage != "" {
		payload["error"] = outcome.ErrorMessage
	}
	if outcome.ResultType != nil {
		payload["result_type"] = *outcome.ResultType
		payload["result_id"] = *outcome.ResultID
	}
	entry := "escalation." + outcome.Status
	if err := e.Audit.Append(ctx, tx, entry, evt.ProjectID, "escalation_event", evt.ID, dispatcherID, payload); err != nil {
		return err
	}
	return tx.Commit()
}
