package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"siteline/internal/audit"
	"siteline/internal/domain"
	"siteline/internal/recurrence"
)

// ReportCreateOptions are parameters for creating a scheduled report.
type ReportCreateOptions struct {
	ID           string
	ProjectID    string
	ReportType   string
	Frequency    string
	DayOfWeek    *int
	DayOfMonth   *int
	TimeOfDay    string
	Timezone     string
	Distribution []string
	ActorID      string
}

func (o ReportCreateOptions) descriptor() recurrence.Descriptor {
	return recurrence.Descriptor{
		Frequency:  recurrence.Frequency(o.Frequency),
		DayOfWeek:  o.DayOfWeek,
		DayOfMonth: o.DayOfMonth,
		TimeOfDay:  o.TimeOfDay,
		Timezone:   o.Timezone,
	}
}

func reportDescriptor(sr domain.ScheduledReport) recurrence.Descriptor {
	return recurrence.Descriptor{
		Frequency:  recurrence.Frequency(sr.Frequency),
		DayOfWeek:  sr.DayOfWeek,
		DayOfMonth: sr.DayOfMonth,
		TimeOfDay:  sr.TimeOfDay,
		Timezone:   sr.Timezone,
	}
}

func (e Engine) CreateScheduledReport(ctx context.Context, opts ReportCreateOptions) (domain.ScheduledReport, error) {
	if opts.ProjectID == "" {
		return domain.ScheduledReport{}, errors.New("project is required")
	}
	if opts.ReportType == "" {
		return domain.ScheduledReport{}, errors.New("report type is required")
	}
	desc := opts.descriptor()
	if err := desc.Validate(); err != nil {
		return domain.ScheduledReport{}, err
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.ScheduledReport{}, err
	}

	next, err := recurrence.NextRun(desc, e.now())
	if err != nil {
		return domain.ScheduledReport{}, err
	}
	id := opts.ID
	if id == "" {
		id = newID()
	}
	now := e.nowRFC3339()
	sr := domain.ScheduledReport{
		ID:              id,
		ProjectID:       opts.ProjectID,
		ReportType:      opts.ReportType,
		Frequency:       opts.Frequency,
		DayOfWeek:       opts.DayOfWeek,
		DayOfMonth:      opts.DayOfMonth,
		TimeOfDay:       opts.TimeOfDay,
		Timezone:        opts.Timezone,
		Distribution:    opts.Distribution,
		IsActive:        true,
		NextScheduledAt: next.UTC().Format(time.RFC3339),
		CreatedBy:       opts.ActorID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ScheduledReport{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertScheduledReport(ctx, tx, sr); err != nil {
		return domain.ScheduledReport{}, fmt.Errorf("insert scheduled report: %w", err)
	}
	if err := e.Audit.Append(ctx, tx, "report.schedule_created", sr.ProjectID, "scheduled_report", sr.ID, opts.ActorID, audit.Payload{
		"report_type":       sr.ReportType,
		"frequency":         sr.Frequency,
		"next_scheduled_at": sr.NextScheduledAt,
	}); err != nil {
		return domain.ScheduledReport{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ScheduledReport{}, err
	}
	return sr, nil
}

// SetReportActive toggles a schedule. Reactivation recomputes the next
// occurrence so a long-dormant schedule does not fire for every missed
// period at once.
func (e Engine) SetReportActive(ctx context.Context, id string, active bool, actorID string) (domain.ScheduledReport, error) {
	sr, err := e.Repo.GetScheduledReport(ctx, id)
	if err != nil {
		return domain.ScheduledReport{}, err
	}
	if sr.IsActive == active {
		return sr, nil
	}
	sr.IsActive = active
	if active {
		next, err := recurrence.NextRun(reportDescriptor(sr), e.now())
		if err != nil {
			return domain.ScheduledReport{}, err
		}
		sr.NextScheduledAt = next.UTC().Format(time.RFC3339)
	}
	sr.UpdatedAt = e.nowRFC3339()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ScheduledReport{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateScheduledReport(ctx, tx, sr); err != nil {
		return domain.ScheduledReport{}, err
	}
	entry := "report.schedule_deactivated"
	if active {
		entry = "report.schedule_activated"
	}
	if err := e.Audit.Append(ctx, tx, entry, sr.ProjectID, "scheduled_report", sr.ID, actorID, nil); err != nil {
		return domain.ScheduledReport{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ScheduledReport{}, err
	}
	return sr, nil
}

// ReportGenerator assembles one report run and returns a file reference.
// Content assembly lives outside the core; the engine only drives the run
// lifecycle around it.
type ReportGenerator interface {
	Generate(ctx context.Context, run domain.GeneratedReportRun, sr *domain.ScheduledReport) (fileRef string, err error)
}

// ReportGeneratorFunc adapts a function to the ReportGenerator interface.
type ReportGeneratorFunc func(ctx context.Context, run domain.GeneratedReportRun, sr *domain.ScheduledReport) (string, error)

func (f ReportGeneratorFunc) Generate(ctx context.Context, run domain.GeneratedReportRun, sr *domain.ScheduledReport) (string, error) {
	return f(ctx, run, sr)
}

// FileRefGenerator derives a deterministic file reference from the run's type
// and period end without assembling any content. It is the generator used when
// no renderer is configured.
func FileRefGenerator() ReportGenerator {
	return ReportGeneratorFunc(func(_ context.Context, run domain.GeneratedReportRun, _ *domain.ScheduledReport) (string, error) {
		end, err := time.Parse(time.RFC3339, run.PeriodEnd)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("reports/%s-%s.pdf", run.ReportType, end.UTC().Format("2006-01-02")), nil
	})
}

// RunDueReports polls active schedules past their next occurrence and drives
// one run each. The compare-and-set on next_scheduled_at is the claim: of
// several concurrent workers only the one that advances the cadence creates
// the run, so each occurrence produces exactly one run.
func (e Engine) RunDueReports(ctx context.Context, projectID string, gen ReportGenerator, actorID string) ([]domain.GeneratedReportRun, error) {
	now := e.now()
	due, err := e.Repo.DueScheduledReports(ctx, projectID, now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	var runs []domain.GeneratedReportRun
	for _, sr := range due {
		next, err := recurrence.NextRun(reportDescriptor(sr), now)
		if err != nil {
			e.log().Warn("stored cadence no longer valid",
				zap.String("report_id", sr.ID),
				zap.Error(err))
			continue
		}
		nowStr := e.nowRFC3339()
		won, err := e.Repo.AdvanceScheduledReport(ctx, nil, sr.ID,
			sr.NextScheduledAt, next.UTC().Format(time.RFC3339), nowStr, nowStr)
		if err != nil {
			return runs, err
		}
		if !won {
			continue
		}
		run, err := e.startRun(ctx, sr, actorID)
		if err != nil {
			return runs, err
		}
		run, err = e.driveRun(ctx, run, &sr, gen, actorID)
		if err != nil {
			return runs, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// RunAdHocReport generates a one-off run outside any schedule.
func (e Engine) RunAdHocReport(ctx context.Context, projectID, reportType, periodStart, periodEnd string, gen ReportGenerator, actorID string) (domain.GeneratedReportRun, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.GeneratedReportRun{}, err
	}
	if reportType == "" {
		return domain.GeneratedReportRun{}, errors.New("report type is required")
	}
	for _, ts := range []string{periodStart, periodEnd} {
		if _, err := time.Parse(time.RFC3339, ts); err != nil {
			return domain.GeneratedReportRun{}, fmt.Errorf("period bound: %w", err)
		}
	}
	run := domain.GeneratedReportRun{
		ID:          newID(),
		ProjectID:   projectID,
		ReportType:  reportType,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Status:      domain.RunGenerating,
		CreatedAt:   e.nowRFC3339(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.GeneratedReportRun{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertReportRun(ctx, tx, run); err != nil {
		return domain.GeneratedReportRun{}, err
	}
	if err := e.Audit.Append(ctx, tx, "report.run_started", run.ProjectID, "report_run", run.ID, actorID, audit.Payload{
		"report_type": run.ReportType,
		"ad_hoc":      true,
	}); err != nil {
		return domain.GeneratedReportRun{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.GeneratedReportRun{}, err
	}
	return e.driveRun(ctx, run, nil, gen, actorID)
}

// startRun creates the generating row for one schedule occurrence. The period
// spans from the previous generation (or the schedule's creation) to now.
func (e Engine) startRun(ctx context.Context, sr domain.ScheduledReport, actorID string) (domain.GeneratedReportRun, error) {
	periodStart := sr.CreatedAt
	if sr.LastGeneratedAt != nil {
		periodStart = *sr.LastGeneratedAt
	}
	schedID := sr.ID
	run := domain.GeneratedReportRun{
		ID:                newID(),
		ProjectID:         sr.ProjectID,
		ScheduledReportID: &schedID,
		ReportType:        sr.ReportType,
		PeriodStart:       periodStart,
		PeriodEnd:         e.nowRFC3339(),
		Status:            domain.RunGenerating,
		CreatedAt:         e.nowRFC3339(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.GeneratedReportRun{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertReportRun(ctx, tx, run); err != nil {
		return domain.GeneratedReportRun{}, err
	}
	if err := e.Audit.Append(ctx, tx, "report.run_started", run.ProjectID, "report_run", run.ID, actorID, audit.Payload{
		"report_type":         run.ReportType,
		"scheduled_report_id": sr.ID,
	}); err != nil {
		return domain.GeneratedReportRun{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.GeneratedReportRun{}, err
	}
	return run, nil
}

// driveRun executes the generator and lands the run in completed or failed.
// Completed runs with distribution targets are then marked sent.
func (e Engine) driveRun(ctx context.Context, run domain.GeneratedReportRun, sr *domain.ScheduledReport, gen ReportGenerator, actorID string) (domain.GeneratedReportRun, error) {
	if gen == nil {
		gen = ReportGeneratorFunc(func(context.Context, domain.GeneratedReportRun, *domain.ScheduledReport) (string, error) {
			return "", errors.New("no report generator configured")
		})
	}
	fileRef, genErr := gen.Generate(ctx, run, sr)
	completedAt := e.nowRFC3339()

	if genErr != nil {
		msg := genErr.Error()
		if err := e.transitionRun(ctx, run, domain.RunGenerating, domain.RunFailed, nil, nil, &msg, completedAt, actorID); err != nil {
			return run, err
		}
		run.Status = domain.RunFailed
		run.ErrorMessage = &msg
		run.CompletedAt = &completedAt
		return run, nil
	}

	if err := e.transitionRun(ctx, run, domain.RunGenerating, domain.RunCompleted, &fileRef, nil, nil, completedAt, actorID); err != nil {
		return run, err
	}
	run.Status = domain.RunCompleted
	run.FileRef = &fileRef
	run.CompletedAt = &completedAt

	if sr != nil && len(sr.Distribution) > 0 {
		if err := e.transitionRun(ctx, run, domain.RunCompleted, domain.RunSent, nil, sr.Distribution, nil, "", actorID); err != nil {
			return run, err
		}
		run.Status = domain.RunSent
		run.RecipientsSent = sr.Distribution
	}
	return run, nil
}

func (e Engine) transitionRun(ctx context.Context, run domain.GeneratedReportRun, from, to string, fileRef *string, recipients []string, errMsg *string, completedAt, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ok, err := e.Repo.TransitionReportRun(ctx, tx, run.ID, from, to, fileRef, recipients, errMsg, completedAt)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("run %s not in %s", run.ID, from)
	}
	payload := audit.Payload{"status": to}
	if errMsg != nil {
		payload["error"] = *errMsg
	}
	if err := e.Audit.Append(ctx, tx, "report.run_"+to, run.ProjectID, "report_run", run.ID, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkRunSent records external delivery of a completed run.
func (e Engine) MarkRunSent(ctx context.Context, runID string, recipients []string, actorID string) (domain.GeneratedReportRun, error) {
	run, err := e.Repo.GetReportRun(ctx, runID)
	if err != nil {
		return domain.GeneratedReportRun{}, err
	}
	if err := e.transitionRun(ctx, run, domain.RunCompleted, domain.RunSent, nil, recipients, nil, "", actorID); err != nil {
		return domain.GeneratedReportRun{}, err
	}
	return e.Repo.GetReportRun(ctx, runID)
}
