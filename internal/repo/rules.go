package repo

import (
	"context"
	"database/sql"

	"siteline/internal/domain"
)

const ruleColumns = `id,project_id,name,source_type,COALESCE(trigger_condition,''),action_type,action_config,is_active,priority,execution_delay_minutes,created_by,created_at,updated_at`

func scanRule(s interface{ Scan(...any) error }) (domain.EscalationRule, error) {
	var rule domain.EscalationRule
	err := s.Scan(&rule.ID, &rule.ProjectID, &rule.Name, &rule.SourceType, &rule.TriggerCondition,
		&rule.ActionType, &rule.ActionConfig, &rule.IsActive, &rule.Priority, &rule.ExecutionDelayMinutes,
		&rule.CreatedBy, &rule.CreatedAt, &rule.UpdatedAt)
	if err == sql.ErrNoRows {
		return rule, ErrNotFound
	}
	return rule, err
}

func (r Repo) InsertRule(ctx context.Context, tx *sql.Tx, rule domain.EscalationRule) error {
	_, err := r.exec(tx).ExecContext(ctx, `
INSERT INTO escalation_rules(id,project_id,name,source_type,trigger_condition,action_type,action_config,is_active,priority,execution_delay_minutes,created_by,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rule.ID, rule.ProjectID, rule.Name, rule.SourceType, nullable(rule.TriggerCondition),
		rule.ActionType, rule.ActionConfig, rule.IsActive, rule.Priority, rule.ExecutionDelayMinutes,
		rule.CreatedBy, rule.CreatedAt, rule.UpdatedAt)
	return err
}

func (r Repo) GetRule(ctx context.Context, id string) (domain.EscalationRule, error) {
	return scanRule(r.DB.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM escalation_rules WHERE id=?`, id))
}

// ActiveRules returns the rules to evaluate for one mutation, highest
// priority first with creation order as the stable tiebreak.
func (r Repo) ActiveRules(ctx context.Context, projectID, sourceType string) ([]domain.EscalationRule, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT `+ruleColumns+` FROM escalation_rules
WHERE project_id=? AND source_type=? AND is_active=1
ORDER BY priority DESC, created_at ASC, id ASC`, projectID, sourceType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rules []domain.EscalationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r Repo) ListRules(ctx context.Context, projectID, sourceType string, activeOnly bool) ([]domain.EscalationRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM escalation_rules WHERE project_id=?`
	args := []any{projectID}
	if sourceType != "" {
		query += ` AND source_type=?`
		args = append(args, sourceType)
	}
	if activeOnly {
		query += ` AND is_active=1`
	}
	query += ` ORDER BY priority DESC, created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rules []domain.EscalationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r Repo) UpdateRule(ctx context.Context, tx *sql.Tx, rule domain.EscalationRule) error {
	res, err := r.exec(tx).ExecContext(ctx, `
UPDATE escalation_rules
SET name=?, source_type=?, trigger_condition=?, action_type=?, action_config=?, is_active=?, priority=?, execution_delay_minutes=?, updated_at=?
WHERE id=?`,
		rule.Name, rule.SourceType, nullable(rule.TriggerCondition), rule.ActionType, rule.ActionConfig,
		rule.IsActive, rule.Priority, rule.ExecutionDelayMinutes, rule.UpdatedAt, rule.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetRuleActive(ctx context.Context, tx *sql.Tx, id string, active bool, updatedAt string) error {
	res, err := r.exec(tx).ExecContext(ctx, `UPDATE escalation_rules SET is_active=?, updated_at=? WHERE id=?`, active, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRule removes the rule; historical events keep a nulled rule_id via
// the ON DELETE SET NULL constraint.
func (r Repo) DeleteRule(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.exec(tx).ExecContext(ctx, `DELETE FROM escalation_rules WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountRules(ctx context.Context, projectID string, activeOnly bool) (int, error) {
	query := `SELECT COUNT(*) FROM escalation_rules WHERE project_id=?`
	if activeOnly {
		query += ` AND is_active=1`
	}
	var n int
	err := r.DB.QueryRowContext(ctx, query, projectID).Scan(&n)
	return n, err
}
