package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"siteline/internal/audit"
	"siteline/internal/domain"
	"siteline/internal/maintenance"
	"siteline/internal/recurrence"
)

// ScheduleCreateOptions are parameters for creating a maintenance schedule.
// At least one of FrequencyHours/FrequencyDays must be set.
type ScheduleCreateOptions struct {
	ID                    string
	ProjectID             string
	EquipmentID           string
	MaintenanceType       string
	FrequencyHours        *float64
	FrequencyDays         *int
	LastPerformedAt       *string
	LastPerformedHours    *float64
	WarningThresholdHours *float64
	WarningThresholdDays  *int
	BlockUsageWhenOverdue bool
	ActorID               string
}

func (e Engine) CreateSchedule(ctx context.Context, opts ScheduleCreateOptions) (domain.MaintenanceSchedule, error) {
	if opts.ProjectID == "" {
		return domain.MaintenanceSchedule{}, errors.New("project is required")
	}
	if opts.EquipmentID == "" {
		return domain.MaintenanceSchedule{}, errors.New("equipment id is required")
	}
	if opts.MaintenanceType == "" {
		return domain.MaintenanceSchedule{}, errors.New("maintenance type is required")
	}
	if opts.FrequencyHours == nil && opts.FrequencyDays == nil {
		return domain.MaintenanceSchedule{}, errors.New("at least one of frequency_hours or frequency_days is required")
	}
	if opts.FrequencyHours != nil && *opts.FrequencyHours <= 0 {
		return domain.MaintenanceSchedule{}, errors.New("frequency_hours must be positive")
	}
	if opts.FrequencyDays != nil && *opts.FrequencyDays <= 0 {
		return domain.MaintenanceSchedule{}, errors.New("frequency_days must be positive")
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.MaintenanceSchedule{}, err
	}

	id := opts.ID
	if id == "" {
		id = newID()
	}
	now := e.nowRFC3339()
	s := domain.MaintenanceSchedule{
		ID:                    id,
		ProjectID:             opts.ProjectID,
		EquipmentID:           opts.EquipmentID,
		MaintenanceType:       opts.MaintenanceType,
		FrequencyHours:        opts.FrequencyHours,
		FrequencyDays:         opts.FrequencyDays,
		LastPerformedAt:       opts.LastPerformedAt,
		LastPerformedHours:    opts.LastPerformedHours,
		WarningThresholdHours: opts.WarningThresholdHours,
		WarningThresholdDays:  opts.WarningThresholdDays,
		BlockUsageWhenOverdue: opts.BlockUsageWhenOverdue,
		IsActive:              true,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	e.applyWarningDefaults(&s)
	if err := e.recomputeDue(&s); err != nil {
		return domain.MaintenanceSchedule{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.MaintenanceSchedule{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSchedule(ctx, tx, s); err != nil {
		return domain.MaintenanceSchedule{}, fmt.Errorf("insert schedule: %w", err)
	}
	if err := e.Audit.Append(ctx, tx, "maintenance.schedule_created", s.ProjectID, "maintenance_schedule", s.ID, opts.ActorID, audit.Payload{
		"equipment_id":     s.EquipmentID,
		"maintenance_type": s.MaintenanceType,
	}); err != nil {
		return domain.MaintenanceSchedule{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.MaintenanceSchedule{}, err
	}
	return s, nil
}

func (e Engine) applyWarningDefaults(s *domain.MaintenanceSchedule) {
	if e.Config == nil {
		return
	}
	if s.FrequencyHours != nil && s.WarningThresholdHours == nil && e.Config.Maintenance.DefaultWarningHours > 0 {
		v := e.Config.Maintenance.DefaultWarningHours
		s.WarningThresholdHours = &v
	}
	if s.FrequencyDays != nil && s.WarningThresholdDays == nil && e.Config.Maintenance.DefaultWarningDays > 0 {
		v := e.Config.Maintenance.DefaultWarningDays
		s.WarningThresholdDays = &v
	}
}

// recomputeDue derives NextDueHours/NextDueAt from the frequency and
// last-performed fields. The hour axis stores no due point until a service
// anchors it; a never-serviced schedule is graded against the usage reading
// supplied at evaluation time.
func (e Engine) recomputeDue(s *domain.MaintenanceSchedule) error {
	if s.FrequencyHours != nil && s.LastPerformedHours != nil {
		v := recurrence.NextDueHours(s.LastPerformedHours, 0, *s.FrequencyHours)
		s.NextDueHours = &v
	} else {
		s.NextDueHours = nil
	}
	if s.FrequencyDays != nil {
		var last *time.Time
		if s.LastPerformedAt != nil {
			t, err := time.Parse(time.RFC3339, *s.LastPerformedAt)
			if err != nil {
				return fmt.Errorf("last_performed_at: %w", err)
			}
			last = &t
		}
		due := recurrence.NextDueAt(last, e.now().UTC(), *s.FrequencyDays)
		str := due.Format(time.RFC3339)
		s.NextDueAt = &str
	} else {
		s.NextDueAt = nil
	}
	return nil
}

// ScheduleUpdateOptions carry the mutable fields of a schedule. Nil pointers
// leave stored values unchanged; due points are recomputed either way.
type ScheduleUpdateOptions struct {
	ID                    string
	FrequencyHours        *float64
	FrequencyDays         *int
	WarningThresholdHours *float64
	WarningThresholdDays  *int
	BlockUsageWhenOverdue *bool
	IsActive              *bool
	ActorID               string
}

func (e Engine) UpdateSchedule(ctx context.Context, opts ScheduleUpdateOptions) (domain.MaintenanceSchedule, error) {
	s, err := e.Repo.GetSchedule(ctx, opts.ID)
	if err != nil {
		return domain.MaintenanceSchedule{}, err
	}
	if opts.FrequencyHours != nil {
		if *opts.FrequencyHours <= 0 {
			return domain.MaintenanceSchedule{}, errors.New("frequency_hours must be positive")
		}
		s.FrequencyHours = opts.FrequencyHours
	}
	if opts.FrequencyDays != nil {
		if *opts.FrequencyDays <= 0 {
			return domain.MaintenanceSchedule{}, errors.New("frequency_days must be positive")
		}
		s.FrequencyDays = opts.FrequencyDays
	}
	if opts.WarningThresholdHours != nil {
		s.WarningThresholdHours = opts.WarningThresholdHours
	}
	if opts.WarningThresholdDays != nil {
		s.WarningThresholdDays = opts.WarningThresholdDays
	}
	if opts.BlockUsageWhenOverdue != nil {
		s.BlockUsageWhenOverdue = *opts.BlockUsageWhenOverdue
	}
	if opts.IsActive != nil {
		s.IsActive = *opts.IsActive
	}
	if err := e.recomputeDue(&s); err != nil {
		return domain.MaintenanceSchedule{}, err
	}
	s.UpdatedAt = e.nowRFC3339()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.MaintenanceSchedule{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateSchedule(ctx, tx, s); err != nil {
		return domain.MaintenanceSchedule{}, err
	}
	if err := e.Audit.Append(ctx, tx, "maintenance.schedule_updated", s.ProjectID, "maintenance_schedule", s.ID, opts.ActorID, nil); err != nil {
		return domain.MaintenanceSchedule{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.MaintenanceSchedule{}, err
	}
	return s, nil
}

// RecordService stamps a completed service on a schedule, recomputes both due
// points from the new anchors, and resolves any still-open alerts the
// schedule produced.
func (e Engine) RecordService(ctx context.Context, scheduleID, performedAt string, hoursAtService *float64, actorID string) (domain.MaintenanceSchedule, error) {
	s, err := e.Repo.GetSchedule(ctx, scheduleID)
	if err != nil {
		return domain.MaintenanceSchedule{}, err
	}
	if performedAt == "" {
		performedAt = e.nowRFC3339()
	} else if _, err := time.Parse(time.RFC3339, performedAt); err != nil {
		return domain.MaintenanceSchedule{}, fmt.Errorf("performed_at: %w", err)
	}
	if s.FrequencyHours != nil && hoursAtService == nil {
		return domain.MaintenanceSchedule{}, errors.New("hours_at_service is required for hour-based schedules")
	}
	s.LastPerformedAt = &performedAt
	if hoursAtService != nil {
		s.LastPerformedHours = hoursAtService
	}
	if err := e.recomputeDue(&s); err != nil {
		return domain.MaintenanceSchedule{}, err
	}
	s.UpdatedAt = e.nowRFC3339()

	// Read before opening the tx: the pool has a single connection and a
	// pool read under an open tx waits on itself.
	open, err := e.Repo.ListAlerts(ctx, s.ProjectID, s.EquipmentID, true)
	if err != nil {
		return domain.MaintenanceSchedule{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.MaintenanceSchedule{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateSchedule(ctx, tx, s); err != nil {
		return domain.MaintenanceSchedule{}, err
	}
	now := e.nowRFC3339()
	for _, a := range open {
		if a.ScheduleID != s.ID {
			continue
		}
		if err := e.Repo.MarkAlert(ctx, tx, a.ID, "resolved_at", now, actorID); err != nil {
			return domain.MaintenanceSchedule{}, err
		}
	}
	if err := e.Audit.Append(ctx, tx, "maintenance.serviced", s.ProjectID, "maintenance_schedule", s.ID, actorID, audit.Payload{
		"performed_at":     performedAt,
		"hours_at_service": hoursAtService,
	}); err != nil {
		return domain.MaintenanceSchedule{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.MaintenanceSchedule{}, err
	}
	return s, nil
}

// EquipmentStatus is the outcome of evaluating one equipment unit.
type EquipmentStatus struct {
	EquipmentID string                    `json:"equipment_id"`
	IsBlocked   bool                      `json:"is_blocked"`
	NewAlerts   []domain.MaintenanceAlert `json:"new_alerts,omitempty"`
}

// EvaluateEquipment grades every active schedule of an equipment unit against
// the given usage-hour reading and persists one alert per finding. A schedule
// with an open alert of the same severity does not produce a duplicate; a
// severity change does.
func (e Engine) EvaluateEquipment(ctx context.Context, projectID, equipmentID string, currentHours float64, actorID string) (EquipmentStatus, error) {
	status := EquipmentStatus{EquipmentID: equipmentID}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return status, err
	}
	schedules, err := e.Repo.ListSchedules(ctx, projectID, equipmentID, true)
	if err != nil {
		return status, err
	}
	open, err := e.Repo.ListAlerts(ctx, projectID, equipmentID, true)
	if err != nil {
		return status, err
	}
	openByScheduleType := map[string]bool{}
	for _, a := range open {
		openByScheduleType[a.ScheduleID+"|"+a.AlertType] = true
	}

	now := e.now().UTC()
	var fresh []domain.MaintenanceAlert
	for _, s := range schedules {
		assessment := maintenance.Assess(s, currentHours, now)
		if assessment.IsBlocked {
			status.IsBlocked = true
		}
		if assessment.AlertType == "" {
			continue
		}
		if openByScheduleType[s.ID+"|"+assessment.AlertType] {
			continue
		}
		fresh = append(fresh, domain.MaintenanceAlert{
			ID:          newID(),
			ProjectID:   projectID,
			EquipmentID: equipmentID,
			ScheduleID:  s.ID,
			AlertType:   assessment.AlertType,
			Message:     assessment.Message,
			TriggeredAt: now.Format(time.RFC3339),
		})
	}
	if len(fresh) == 0 {
		return status, nil
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return status, err
	}
	defer tx.Rollback()
	for _, a := range fresh {
		if err := e.Repo.InsertAlert(ctx, tx, a); err != nil {
			return status, fmt.Errorf("insert alert: %w", err)
		}
		if err := e.Audit.Append(ctx, tx, "maintenance.alert", a.ProjectID, "maintenance_alert", a.ID, actorID, audit.Payload{
			"equipment_id": a.EquipmentID,
			"schedule_id":  a.ScheduleID,
			"alert_type":   a.AlertType,
		}); err != nil {
			return status, err
		}
	}
	if err := tx.Commit(); err != nil {
		return status, err
	}
	status.NewAlerts = fresh
	e.log().Info("maintenance alerts raised",
		zap.String("equipment_id", equipmentID),
		zap.Int("alerts", len(fresh)),
		zap.Bool("blocked", status.IsBlocked))
	return status, nil
}

// MarkAlert stamps one of the independent alert lifecycle timestamps:
// acknowledged_at, dismissed_at, or resolved_at.
func (e Engine) MarkAlert(ctx context.Context, alertID, stamp, actorID string) (domain.MaintenanceAlert, error) {
	a, err := e.Repo.GetAlert(ctx, alertID)
	if err != nil {
		return domain.MaintenanceAlert{}, err
	}
	column := stamp + "_at"
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.MaintenanceAlert{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.MarkAlert(ctx, tx, alertID, column, e.nowRFC3339(), actorID); err != nil {
		return domain.MaintenanceAlert{}, err
	}
	if err := e.Audit.Append(ctx, tx, "maintenance.alert_"+stamp, a.ProjectID, "maintenance_alert", a.ID, actorID, nil); err != nil {
		return domain.MaintenanceAlert{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.MaintenanceAlert{}, err
	}
	return e.Repo.GetAlert(ctx, alertID)
}
