package repo

import (
	"context"
	"database/sql"

	"siteline/internal/domain"
)

const eventColumns = `id,rule_id,project_id,source_type,source_id,source_data_snapshot,action_type,action_config,result_type,result_id,status,triggered_at,scheduled_for,executed_at,error_message,triggered_by`

func scanEvent(s interface{ Scan(...any) error }) (domain.EscalationEvent, error) {
	var (
		e                    domain.EscalationEvent
		ruleID               sql.NullString
		resultType, resultID sql.NullString
		executedAt, errMsg   sql.NullString
	)
	err := s.Scan(&e.ID, &ruleID, &e.ProjectID, &e.SourceType, &e.SourceID, &e.Snapshot,
		&e.ActionType, &e.ActionConfig, &resultType, &resultID, &e.Status,
		&e.TriggeredAt, &e.ScheduledFor, &executedAt, &errMsg, &e.TriggeredBy)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	e.RuleID = strPtr(ruleID)
	e.ResultType = strPtr(resultType)
	e.ResultID = strPtr(resultID)
	e.ExecutedAt = strPtr(executedAt)
	e.ErrorMessage = strPtr(errMsg)
	return e, err
}

// InsertEvent appends a pending escalation event. Creation is append-only, so
// concurrent triggers never contend with each other or with dispatchers.
func (r Repo) InsertEvent(ctx context.Context, tx *sql.Tx, e domain.EscalationEvent) error {
	_, err := r.exec(tx).ExecContext(ctx, `
INSERT INTO escalation_events(id,rule_id,project_id,source_type,source_id,source_data_snapshot,action_type,action_config,status,triggered_at,scheduled_for,triggered_by)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, nullableStr(e.RuleID), e.ProjectID, e.SourceType, e.SourceID, e.Snapshot,
		e.ActionType, e.ActionConfig, e.Status, e.TriggeredAt, e.ScheduledFor, e.TriggeredBy)
	return err
}

func (r Repo) GetEvent(ctx context.Context, id string) (domain.EscalationEvent, error) {
	return scanEvent(r.DB.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM escalation_events WHERE id=?`, id))
}

// DueEvents returns pending events whose scheduled_for has elapsed, oldest
// first. This is the poll surface for dispatch workers.
func (r Repo) DueEvents(ctx context.Context, projectID, now string, limit int) ([]domain.EscalationEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM escalation_events WHERE status=? AND scheduled_for<=? AND claimed_at IS NULL`
	args := []any{domain.EventPending, now}
	if projectID != "" {
		query += ` AND project_id=?`
		args = append(args, projectID)
	}
	query += ` ORDER BY scheduled_for ASC, triggered_at ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) ListEvents(ctx context.Context, projectID, status string, limit int) ([]domain.EscalationEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM escalation_events WHERE project_id=?`
	args := []any{projectID}
	if status != "" {
		query += ` AND status=?`
		args = append(args, status)
	}
	query += ` ORDER BY triggered_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.EscalationEvent, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []domain.EscalationEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ClaimEvent marks a pending, unclaimed event as owned by one dispatcher.
// The conditional UPDATE plus the rows-affected check is the claim: under
// concurrent dispatchers exactly one caller observes claimed=true, so the
// action handler runs at most once per event. The event stays pending until
// FinalizeEvent records the terminal outcome; a claimed-but-pending row is
// the trace of a dispatcher that died mid-action.
func (r Repo) ClaimEvent(ctx context.Context, id, claimedBy, claimedAt string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
UPDATE escalation_events
SET claimed_by=?, claimed_at=?
WHERE id=? AND status=? AND claimed_at IS NULL`,
		claimedBy, claimedAt, id, domain.EventPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// EventOutcome carries the terminal fields set by FinalizeEvent.
type EventOutcome struct {
	Status       string
	ResultType   *string
	ResultID     *string
	ExecutedAt   string
	ErrorMessage string
}

// FinalizeEvent moves a pending event to its terminal state. The
// WHERE status='pending' guard keeps terminal states mutually exclusive:
// once one of executed/failed/skipped lands, nothing rewrites it.
func (r Repo) FinalizeEvent(ctx context.Context, tx *sql.Tx, id string, outcome EventOutcome) (bool, error) {
	res, err := r.exec(tx).ExecContext(ctx, `
UPDATE escalation_events
SET status=?, result_type=?, result_id=?, executed_at=?, error_message=?
WHERE id=? AND status=?`,
		outcome.Status, nullableStr(outcome.ResultType), nullableStr(outcome.ResultID),
		nullable(outcome.ExecutedAt), nullable(outcome.ErrorMessage),
		id, domain.EventPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) CountEventsByStatus(ctx context.Context, projectID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM escalation_events WHERE project_id=? GROUP BY status`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
