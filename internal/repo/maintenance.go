package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"siteline/internal/domain"
)

const scheduleColumns = `id,project_id,equipment_id,maintenance_type,frequency_hours,frequency_days,last_performed_at,last_performed_hours,next_due_at,next_due_hours,warning_threshold_hours,warning_threshold_days,block_usage_when_overdue,is_active,created_at,updated_at`

func scanSchedule(s interface{ Scan(...any) error }) (domain.MaintenanceSchedule, error) {
	var (
		m                      domain.MaintenanceSchedule
		freqHours, lastHours   sql.NullFloat64
		dueHours, warnHours    sql.NullFloat64
		freqDays, warnDays     sql.NullInt64
		lastAt, dueAt          sql.NullString
	)
	err := s.Scan(&m.ID, &m.ProjectID, &m.EquipmentID, &m.MaintenanceType,
		&freqHours, &freqDays, &lastAt, &lastHours, &dueAt, &dueHours,
		&warnHours, &warnDays, &m.BlockUsageWhenOverdue, &m.IsActive, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	m.FrequencyHours = f64Ptr(freqHours)
	m.FrequencyDays = intPtr(freqDays)
	m.LastPerformedAt = strPtr(lastAt)
	m.LastPerformedHours = f64Ptr(lastHours)
	m.NextDueAt = strPtr(dueAt)
	m.NextDueHours = f64Ptr(dueHours)
	m.WarningThresholdHours = f64Ptr(warnHours)
	m.WarningThresholdDays = intPtr(warnDays)
	return m, err
}

func (r Repo) InsertSchedule(ctx context.Context, tx *sql.Tx, m domain.MaintenanceSchedule) error {
	_, err := r.exec(tx).ExecContext(ctx, `
INSERT INTO maintenance_schedules(`+scheduleColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.ProjectID, m.EquipmentID, m.MaintenanceType,
		nullableF64(m.FrequencyHours), nullableInt(m.FrequencyDays),
		nullableStr(m.LastPerformedAt), nullableF64(m.LastPerformedHours),
		nullableStr(m.NextDueAt), nullableF64(m.NextDueHours),
		nullableF64(m.WarningThresholdHours), nullableInt(m.WarningThresholdDays),
		m.BlockUsageWhenOverdue, m.IsActive, m.CreatedAt, m.UpdatedAt)
	return err
}

func (r Repo) GetSchedule(ctx context.Context, id string) (domain.MaintenanceSchedule, error) {
	return scanSchedule(r.DB.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM maintenance_schedules WHERE id=?`, id))
}

func (r Repo) UpdateSchedule(ctx context.Context, tx *sql.Tx, m domain.MaintenanceSchedule) error {
	res, err := r.exec(tx).ExecContext(ctx, `
UPDATE maintenance_schedules
SET maintenance_type=?, frequency_hours=?, frequency_days=?, last_performed_at=?, last_performed_hours=?,
    next_due_at=?, next_due_hours=?, warning_threshold_hours=?, warning_threshold_days=?,
    block_usage_when_overdue=?, is_active=?, updated_at=?
WHERE id=?`,
		m.MaintenanceType, nullableF64(m.FrequencyHours), nullableInt(m.FrequencyDays),
		nullableStr(m.LastPerformedAt), nullableF64(m.LastPerformedHours),
		nullableStr(m.NextDueAt), nullableF64(m.NextDueHours),
		nullableF64(m.WarningThresholdHours), nullableInt(m.WarningThresholdDays),
		m.BlockUsageWhenOverdue, m.IsActive, m.UpdatedAt, m.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListSchedules(ctx context.Context, projectID, equipmentID string, activeOnly bool) ([]domain.MaintenanceSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM maintenance_schedules WHERE project_id=?`
	args := []any{projectID}
	if equipmentID != "" {
		query += ` AND equipment_id=?`
		args = append(args, equipmentID)
	}
	if activeOnly {
		query += ` AND is_active=1`
	}
	query += ` ORDER BY equipment_id, maintenance_type`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.MaintenanceSchedule
	for rows.Next() {
		m, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DueSchedules is the poll surface for maintenance workers: active schedules
// whose calendar due point has elapsed. The hour axis can only be judged
// against a usage reading the caller supplies, so it is filtered in the
// evaluator, not here.
func (r Repo) DueSchedules(ctx context.Context, projectID, now string) ([]domain.MaintenanceSchedule, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT `+scheduleColumns+` FROM maintenance_schedules
WHERE project_id=? AND is_active=1 AND next_due_at IS NOT NULL AND next_due_at<=?
ORDER BY next_due_at ASC`, projectID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.MaintenanceSchedule
	for rows.Next() {
		m, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r Repo) InsertAlert(ctx context.Context, tx *sql.Tx, a domain.MaintenanceAlert) error {
	_, err := r.exec(tx).ExecContext(ctx, `
INSERT INTO maintenance_alerts(id,project_id,equipment_id,schedule_id,alert_type,message,triggered_at)
VALUES (?,?,?,?,?,?,?)`,
		a.ID, a.ProjectID, a.EquipmentID, a.ScheduleID, a.AlertType, nullable(a.Message), a.TriggeredAt)
	return err
}

func (r Repo) GetAlert(ctx context.Context, id string) (domain.MaintenanceAlert, error) {
	row := r.DB.QueryRowContext(ctx, `
SELECT id,project_id,equipment_id,schedule_id,alert_type,COALESCE(message,''),triggered_at,acknowledged_at,acknowledged_by,dismissed_at,resolved_at
FROM maintenance_alerts WHERE id=?`, id)
	return scanAlert(row)
}

func scanAlert(s interface{ Scan(...any) error }) (domain.MaintenanceAlert, error) {
	var (
		a                  domain.MaintenanceAlert
		ackAt, ackBy       sql.NullString
		dismissed, resolved sql.NullString
	)
	err := s.Scan(&a.ID, &a.ProjectID, &a.EquipmentID, &a.ScheduleID, &a.AlertType, &a.Message,
		&a.TriggeredAt, &ackAt, &ackBy, &dismissed, &resolved)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	a.AcknowledgedAt = strPtr(ackAt)
	a.AcknowledgedBy = strPtr(ackBy)
	a.DismissedAt = strPtr(dismissed)
	a.ResolvedAt = strPtr(resolved)
	return a, err
}

func (r Repo) ListAlerts(ctx context.Context, projectID, equipmentID string, openOnly bool) ([]domain.MaintenanceAlert, error) {
	query := `
SELECT id,project_id,equipment_id,schedule_id,alert_type,COALESCE(message,''),triggered_at,acknowledged_at,acknowledged_by,dismissed_at,resolved_at
FROM maintenance_alerts WHERE project_id=?`
	args := []any{projectID}
	if equipmentID != "" {
		query += ` AND equipment_id=?`
		args = append(args, equipmentID)
	}
	if openOnly {
		query += ` AND resolved_at IS NULL AND dismissed_at IS NULL`
	}
	query += ` ORDER BY triggered_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.MaintenanceAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkAlert stamps one of the independent lifecycle timestamps. The columns
// are deliberately not a state machine: acknowledging does not resolve,
// dismissing does not acknowledge, and each stamp is set at most once.
func (r Repo) MarkAlert(ctx context.Context, tx *sql.Tx, id, column, ts, actorID string) error {
	var query string
	switch column {
	case "acknowledged_at":
		query = `UPDATE maintenance_alerts SET acknowledged_at=?, acknowledged_by=? WHERE id=? AND acknowledged_at IS NULL`
	case "dismissed_at", "resolved_at":
		query = fmt.Sprintf(`UPDATE maintenance_alerts SET %s=? WHERE id=? AND %s IS NULL`, column, column)
	default:
		return fmt.Errorf("unknown alert timestamp column %q", column)
	}
	var (
		res sql.Result
		err error
	)
	if column == "acknowledged_at" {
		res, err = r.exec(tx).ExecContext(ctx, query, ts, actorID, id)
	} else {
		res, err = r.exec(tx).ExecContext(ctx, query, ts, id)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either the alert does not exist or the stamp is already set. The
		// check must run on the same handle as the update; the caller may
		// hold the pool's only connection.
		var one int
		if err := r.query(tx).QueryRowContext(ctx, `SELECT 1 FROM maintenance_alerts WHERE id=?`, id).Scan(&one); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return err
		}
		return fmt.Errorf("alert %s already has %s", id, strings.TrimSuffix(column, "_at"))
	}
	return nil
}
