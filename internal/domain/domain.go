package domain

// Source entity kinds whose mutations can trigger escalation rules.
const (
	SourceInspection          = "inspection"
	SourceChecklist           = "checklist"
	SourceSafetyObservation   = "safety_observation"
	SourcePunchItem           = "punch_item"
	SourceRFI                 = "rfi"
	SourceSubmittal           = "submittal"
	SourceTask                = "task"
	SourceEquipmentInspection = "equipment_inspection"
)

// SourceTypes lists every valid escalation source kind.
var SourceTypes = []string{
	SourceInspection,
	SourceChecklist,
	SourceSafetyObservation,
	SourcePunchItem,
	SourceRFI,
	SourceSubmittal,
	SourceTask,
	SourceEquipmentInspection,
}

// ValidSourceType reports whether s is a known source kind.
func ValidSourceType(s string) bool {
	for _, v := range SourceTypes {
		if v == s {
			return true
		}
	}
	return false
}

// Escalation event lifecycle. Pending is the only non-terminal state.
const (
	EventPending  = "pending"
	EventExecuted = "executed"
	EventFailed   = "failed"
	EventSkipped  = "skipped"
)

// Maintenance alert severities.
const (
	AlertUpcoming = "upcoming"
	AlertDue      = "due"
	AlertOverdue  = "overdue"
	AlertCritical = "critical"
)

// Report run lifecycle: generating -> completed|failed, completed -> sent.
const (
	RunGenerating = "generating"
	RunCompleted  = "completed"
	RunFailed     = "failed"
	RunSent       = "sent"
)

type Project struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// EscalationRule pairs a stored condition tree with an action. Trigger and
// ActionConfig hold the JSON wire forms; both are validated when the rule is
// created or updated, never at evaluation time.
type EscalationRule struct {
	ID                    string `json:"id"`
	ProjectID             string `json:"project_id"`
	Name                  string `json:"name"`
	SourceType            string `json:"source_type" enum:"inspection,checklist,safety_observation,punch_item,rfi,submittal,task,equipment_inspection"`
	TriggerCondition      string `json:"trigger_condition"`
	ActionType            string `json:"action_type" enum:"create_punch_item,create_task,send_notification,create_rfi,assign_user,change_status,create_inspection"`
	ActionConfig          string `json:"action_config"`
	IsActive              bool   `json:"is_active"`
	Priority              int    `json:"priority"`
	ExecutionDelayMinutes int    `json:"execution_delay_minutes"`
	CreatedBy             string `json:"created_by"`
	CreatedAt             string `json:"created_at" format:"date-time"`
	UpdatedAt             string `json:"updated_at" format:"date-time"`
}

// EscalationEvent is one triggered rule match. The snapshot is frozen at
// trigger time; RuleID goes nil if the rule is later deleted, the event row
// is retained as history either way.
type EscalationEvent struct {
	ID           string  `json:"id"`
	RuleID       *string `json:"rule_id,omitempty"`
	ProjectID    string  `json:"project_id"`
	SourceType   string  `json:"source_type"`
	SourceID     string  `json:"source_id"`
	Snapshot     string  `json:"source_data_snapshot"`
	ActionType   string  `json:"action_type"`
	ActionConfig string  `json:"action_config"`
	ResultType   *string `json:"result_type,omitempty"`
	ResultID     *string `json:"result_id,omitempty"`
	Status       string  `json:"status" enum:"pending,executed,failed,skipped"`
	TriggeredAt  string  `json:"triggered_at" format:"date-time"`
	ScheduledFor string  `json:"scheduled_for" format:"date-time"`
	ExecutedAt   *string `json:"executed_at,omitempty" format:"date-time"`
	ErrorMessage *string `json:"error_message,omitempty"`
	TriggeredBy  string  `json:"triggered_by"`
}

// Terminal reports whether the event has reached a terminal status.
func (e EscalationEvent) Terminal() bool {
	return e.Status == EventExecuted || e.Status == EventFailed || e.Status == EventSkipped
}

// MaintenanceSchedule describes a recurring service requirement on an hour
// axis, a calendar axis, or both. NextDue* are derived and recomputed whenever
// the frequency or last-performed fields change.
type MaintenanceSchedule struct {
	ID                    string   `json:"id"`
	ProjectID             string   `json:"project_id"`
	EquipmentID           string   `json:"equipment_id"`
	MaintenanceType       string   `json:"maintenance_type"`
	FrequencyHours        *float64 `json:"frequency_hours,omitempty"`
	FrequencyDays         *int     `json:"frequency_days,omitempty"`
	LastPerformedAt       *string  `json:"last_performed_at,omitempty" format:"date-time"`
	LastPerformedHours    *float64 `json:"last_performed_hours,omitempty"`
	NextDueAt             *string  `json:"next_due_at,omitempty" format:"date-time"`
	NextDueHours          *float64 `json:"next_due_hours,omitempty"`
	WarningThresholdHours *float64 `json:"warning_threshold_hours,omitempty"`
	WarningThresholdDays  *int     `json:"warning_threshold_days,omitempty"`
	BlockUsageWhenOverdue bool     `json:"block_usage_when_overdue"`
	IsActive              bool     `json:"is_active"`
	CreatedAt             string   `json:"created_at" format:"date-time"`
	UpdatedAt             string   `json:"updated_at" format:"date-time"`
}

// MaintenanceAlert is one severity-graded finding for a schedule. The
// acknowledge/dismiss/resolve timestamps are independent; any subset may be
// set and none implies another.
type MaintenanceAlert struct {
	ID             string  `json:"id"`
	ProjectID      string  `json:"project_id"`
	EquipmentID    string  `json:"equipment_id"`
	ScheduleID     string  `json:"schedule_id"`
	AlertType      string  `json:"alert_type" enum:"upcoming,due,overdue,critical"`
	Message        string  `json:"message,omitempty"`
	TriggeredAt    string  `json:"triggered_at" format:"date-time"`
	AcknowledgedAt *string `json:"acknowledged_at,omitempty" format:"date-time"`
	AcknowledgedBy *string `json:"acknowledged_by,omitempty"`
	DismissedAt    *string `json:"dismissed_at,omitempty" format:"date-time"`
	ResolvedAt     *string `json:"resolved_at,omitempty" format:"date-time"`
}

// ScheduledReport is a recurring report cadence. NextScheduledAt is derived
// and always holds the soonest future instant satisfying the cadence in the
// configured timezone.
type ScheduledReport struct {
	ID              string   `json:"id"`
	ProjectID       string   `json:"project_id"`
	ReportType      string   `json:"report_type"`
	Frequency       string   `json:"frequency" enum:"daily,weekly,biweekly,monthly,quarterly"`
	DayOfWeek       *int     `json:"day_of_week,omitempty"`
	DayOfMonth      *int     `json:"day_of_month,omitempty"`
	TimeOfDay       string   `json:"time_of_day"`
	Timezone        string   `json:"timezone"`
	Distribution    []string `json:"distribution,omitempty"`
	IsActive        bool     `json:"is_active"`
	LastGeneratedAt *string  `json:"last_generated_at,omitempty" format:"date-time"`
	NextScheduledAt string   `json:"next_scheduled_at" format:"date-time"`
	CreatedBy       string   `json:"created_by"`
	CreatedAt       string   `json:"created_at" format:"date-time"`
	UpdatedAt       string   `json:"updated_at" format:"date-time"`
}

// GeneratedReportRun is one generation attempt. ScheduledReportID is nil for
// ad hoc runs; the row outlives its schedule.
type GeneratedReportRun struct {
	ID                string   `json:"id"`
	ProjectID         string   `json:"project_id"`
	ScheduledReportID *string  `json:"scheduled_report_id,omitempty"`
	ReportType        string   `json:"report_type"`
	PeriodStart       string   `json:"period_start" format:"date-time"`
	PeriodEnd         string   `json:"period_end" format:"date-time"`
	Status            string   `json:"status" enum:"generating,completed,failed,sent"`
	FileRef           *string  `json:"file_ref,omitempty"`
	RecipientsSent    []string `json:"recipients_sent,omitempty"`
	ErrorMessage      *string  `json:"error_message,omitempty"`
	CreatedAt         string   `json:"created_at" format:"date-time"`
	CompletedAt       *string  `json:"completed_at,omitempty" format:"date-time"`
}

// AuditEntry is one append-only audit log row.
type AuditEntry struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
