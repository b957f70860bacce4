package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"siteline/internal/domain"
)

const reportColumns = `id,project_id,report_type,frequency,day_of_week,day_of_month,time_of_day,timezone,distribution_json,is_active,last_generated_at,next_scheduled_at,created_by,created_at,updated_at`

func scanReport(s interface{ Scan(...any) error }) (domain.ScheduledReport, error) {
	var (
		sr           domain.ScheduledReport
		dow, dom     sql.NullInt64
		dist, lastAt sql.NullString
	)
	err := s.Scan(&sr.ID, &sr.ProjectID, &sr.ReportType, &sr.Frequency, &dow, &dom,
		&sr.TimeOfDay, &sr.Timezone, &dist, &sr.IsActive, &lastAt, &sr.NextScheduledAt,
		&sr.CreatedBy, &sr.CreatedAt, &sr.UpdatedAt)
	if err == sql.ErrNoRows {
		return sr, ErrNotFound
	}
	sr.DayOfWeek = intPtr(dow)
	sr.DayOfMonth = intPtr(dom)
	sr.LastGeneratedAt = strPtr(lastAt)
	if dist.Valid && dist.String != "" {
		if jerr := json.Unmarshal([]byte(dist.String), &sr.Distribution); jerr != nil {
			return sr, fmt.Errorf("decode distribution for report %s: %w", sr.ID, jerr)
		}
	}
	return sr, err
}

func marshalDistribution(targets []string) (any, error) {
	if len(targets) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(targets)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (r Repo) InsertScheduledReport(ctx context.Context, tx *sql.Tx, sr domain.ScheduledReport) error {
	dist, err := marshalDistribution(sr.Distribution)
	if err != nil {
		return err
	}
	_, err = r.exec(tx).ExecContext(ctx, `
INSERT INTO scheduled_reports(`+reportColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		sr.ID, sr.ProjectID, sr.ReportType, sr.Frequency,
		nullableInt(sr.DayOfWeek), nullableInt(sr.DayOfMonth), sr.TimeOfDay, sr.Timezone,
		dist, sr.IsActive, nullableStr(sr.LastGeneratedAt), sr.NextScheduledAt,
		sr.CreatedBy, sr.CreatedAt, sr.UpdatedAt)
	return err
}

func (r Repo) GetScheduledReport(ctx context.Context, id string) (domain.ScheduledReport, error) {
	return scanReport(r.DB.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM scheduled_reports WHERE id=?`, id))
}

func (r Repo) UpdateScheduledReport(ctx context.Context, tx *sql.Tx, sr domain.ScheduledReport) error {
	dist, err := marshalDistribution(sr.Distribution)
	if err != nil {
		return err
	}
	res, err := r.exec(tx).ExecContext(ctx, `
UPDATE scheduled_reports
SET report_type=?, frequency=?, day_of_week=?, day_of_month=?, time_of_day=?, timezone=?,
    distribution_json=?, is_active=?, next_scheduled_at=?, updated_at=?
WHERE id=?`,
		sr.ReportType, sr.Frequency, nullableInt(sr.DayOfWeek), nullableInt(sr.DayOfMonth),
		sr.TimeOfDay, sr.Timezone, dist, sr.IsActive, sr.NextScheduledAt, sr.UpdatedAt, sr.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListScheduledReports(ctx context.Context, projectID string, activeOnly bool) ([]domain.ScheduledReport, error) {
	query := `SELECT ` + reportColumns + ` FROM scheduled_reports WHERE project_id=?`
	args := []any{projectID}
	if activeOnly {
		query += ` AND is_active=1`
	}
	query += ` ORDER BY next_scheduled_at ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ScheduledReport
	for rows.Next() {
		sr, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// DueScheduledReports is the poll surface for report workers: active
// schedules whose next occurrence has elapsed.
func (r Repo) DueScheduledReports(ctx context.Context, projectID, now string) ([]domain.ScheduledReport, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT `+reportColumns+` FROM scheduled_reports
WHERE project_id=? AND is_active=1 AND next_scheduled_at<=?
ORDER BY next_scheduled_at ASC`, projectID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ScheduledReport
	for rows.Next() {
		sr, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// AdvanceScheduledReport is the claim for report schedules: a compare-and-set
// on next_scheduled_at. Two workers polling the same due schedule both try to
// advance it; the one whose expected value still matches wins and creates the
// run, the other affects zero rows and moves on.
func (r Repo) AdvanceScheduledReport(ctx context.Context, tx *sql.Tx, id, expectedNext, newNext, lastGeneratedAt, updatedAt string) (bool, error) {
	res, err := r.exec(tx).ExecContext(ctx, `
UPDATE scheduled_reports
SET next_scheduled_at=?, last_generated_at=?, updated_at=?
WHERE id=? AND next_scheduled_at=? AND is_active=1`,
		newNext, lastGeneratedAt, updatedAt, id, expectedNext)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

const runColumns = `id,scheduled_report_id,project_id,report_type,period_start,period_end,status,file_ref,recipients_sent_json,error_message,created_at,completed_at`

func scanRun(s interface{ Scan(...any) error }) (domain.GeneratedReportRun, error) {
	var (
		run                domain.GeneratedReportRun
		schedID, fileRef   sql.NullString
		recipients, errMsg sql.NullString
		completedAt        sql.NullString
	)
	err := s.Scan(&run.ID, &schedID, &run.ProjectID, &run.ReportType, &run.PeriodStart, &run.PeriodEnd,
		&run.Status, &fileRef, &recipients, &errMsg, &run.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	run.ScheduledReportID = strPtr(schedID)
	run.FileRef = strPtr(fileRef)
	run.ErrorMessage = strPtr(errMsg)
	run.CompletedAt = strPtr(completedAt)
	if recipients.Valid && recipients.String != "" {
		if jerr := json.Unmarshal([]byte(recipients.String), &run.RecipientsSent); jerr != nil {
			return run, fmt.Errorf("decode recipients for run %s: %w", run.ID, jerr)
		}
	}
	return run, err
}

func (r Repo) InsertReportRun(ctx context.Context, tx *sql.Tx, run domain.GeneratedReportRun) error {
	_, err := r.exec(tx).ExecContext(ctx, `
INSERT INTO report_runs(id,scheduled_report_id,project_id,report_type,period_start,period_end,status,created_at)
VALUES (?,?,?,?,?,?,?,?)`,
		run.ID, nullableStr(run.ScheduledReportID), run.ProjectID, run.ReportType,
		run.PeriodStart, run.PeriodEnd, run.Status, run.CreatedAt)
	return err
}

func (r Repo) GetReportRun(ctx context.Context, id string) (domain.GeneratedReportRun, error) {
	return scanRun(r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM report_runs WHERE id=?`, id))
}

func (r Repo) ListReportRuns(ctx context.Context, projectID, status string, limit int) ([]domain.GeneratedReportRun, error) {
	query := `SELECT ` + runColumns + ` FROM report_runs WHERE project_id=?`
	args := []any{projectID}
	if status != "" {
		query += ` AND status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.GeneratedReportRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// TransitionReportRun applies one lifecycle step with a conditional update,
// so concurrent workers cannot double-apply a transition.
func (r Repo) TransitionReportRun(ctx context.Context, tx *sql.Tx, id, fromStatus, toStatus string, fileRef *string, recipients []string, errorMessage *string, completedAt string) (bool, error) {
	var rec any
	if len(recipients) > 0 {
		data, err := json.Marshal(recipients)
		if err != nil {
			return false, err
		}
		rec = string(data)
	}
	res, err := r.exec(tx).ExecContext(ctx, `
UPDATE report_runs
SET status=?,
    file_ref=COALESCE(?, file_ref),
    recipients_sent_json=COALESCE(?, recipients_sent_json),
    error_message=?,
    completed_at=COALESCE(?, completed_at)
WHERE id=? AND status=?`,
		toStatus, nullableStr(fileRef), rec, nullableStr(errorMessage), nullable(completedAt), id, fromStatus)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
