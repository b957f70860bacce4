package server

import (
	"encoding/json"

	"siteline/internal/config"
	"siteline/internal/domain"
)

// Request payloads

type CreateProjectRequest struct {
	ID          string  `json:"id"`
	Description *string `json:"description,omitempty"`
}

type CreateRuleRequest struct {
	ID                    *string        `json:"id,omitempty"`
	Name                  string         `json:"name"`
	SourceType            string         `json:"source_type" enum:"inspection,checklist,safety_observation,punch_item,rfi,submittal,task,equipment_inspection"`
	TriggerCondition      map[string]any `json:"trigger_condition"`
	ActionType            string         `json:"action_type" enum:"create_punch_item,create_task,send_notification,create_rfi,assign_user,change_status,create_inspection"`
	ActionConfig          map[string]any `json:"action_config"`
	Priority              int            `json:"priority,omitempty"`
	ExecutionDelayMinutes int            `json:"execution_delay_minutes,omitempty"`
}

type UpdateRuleRequest struct {
	Name                  *string         `json:"name,omitempty"`
	TriggerCondition      *map[string]any `json:"trigger_condition,omitempty"`
	ActionType            *string         `json:"action_type,omitempty" enum:"create_punch_item,create_task,send_notification,create_rfi,assign_user,change_status,create_inspection"`
	ActionConfig          *map[string]any `json:"action_config,omitempty"`
	Priority              *int            `json:"priority,omitempty"`
	ExecutionDelayMinutes *int            `json:"execution_delay_minutes,omitempty"`
}

type TestRuleRequest struct {
	Snapshot map[string]any `json:"snapshot"`
}

type TriggerRequest struct {
	SourceType string         `json:"source_type" enum:"inspection,checklist,safety_observation,punch_item,rfi,submittal,task,equipment_inspection"`
	SourceID   string         `json:"source_id"`
	Snapshot   map[string]any `json:"snapshot"`
}

type DispatchRequest struct {
	DispatcherID string `json:"dispatcher_id,omitempty"`
}

type CreateScheduleRequest struct {
	ID                    *string  `json:"id,omitempty"`
	EquipmentID           string   `json:"equipment_id"`
	MaintenanceType       string   `json:"maintenance_type"`
	FrequencyHours        *float64 `json:"frequency_hours,omitempty"`
	FrequencyDays         *int     `json:"frequency_days,omitempty"`
	LastPerformedAt       *string  `json:"last_performed_at,omitempty" format:"date-time"`
	LastPerformedHours    *float64 `json:"last_performed_hours,omitempty"`
	WarningThresholdHours *float64 `json:"warning_threshold_hours,omitempty"`
	WarningThresholdDays  *int     `json:"warning_threshold_days,omitempty"`
	BlockUsageWhenOverdue bool     `json:"block_usage_when_overdue,omitempty"`
}

type UpdateScheduleRequest struct {
	FrequencyHours        *float64 `json:"frequency_hours,omitempty"`
	FrequencyDays         *int     `json:"frequency_days,omitempty"`
	WarningThresholdHours *float64 `json:"warning_threshold_hours,omitempty"`
	WarningThresholdDays  *int     `json:"warning_threshold_days,omitempty"`
	BlockUsageWhenOverdue *bool    `json:"block_usage_when_overdue,omitempty"`
	IsActive              *bool    `json:"is_active,omitempty"`
}

type RecordServiceRequest struct {
	PerformedAt    string   `json:"performed_at" format:"date-time"`
	HoursAtService *float64 `json:"hours_at_service,omitempty"`
}

type EvaluateEquipmentRequest struct {
	CurrentHours float64 `json:"current_hours"`
}

type CreateScheduledReportRequest struct {
	ID           *string  `json:"id,omitempty"`
	ReportType   string   `json:"report_type"`
	Frequency    string   `json:"frequency" enum:"daily,weekly,biweekly,monthly,quarterly"`
	DayOfWeek    *int     `json:"day_of_week,omitempty"`
	DayOfMonth   *int     `json:"day_of_month,omitempty"`
	TimeOfDay    string   `json:"time_of_day"`
	Timezone     string   `json:"timezone,omitempty"`
	Distribution []string `json:"distribution,omitempty"`
}

type AdHocReportRequest struct {
	ReportType  string `json:"report_type"`
	PeriodStart string `json:"period_start" format:"date-time"`
	PeriodEnd   string `json:"period_end" format:"date-time"`
}

type MarkRunSentRequest struct {
	Recipients []string `json:"recipients"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

// Response payloads

type ProjectResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type RuleResponse struct {
	ID                    string         `json:"id"`
	ProjectID             string         `json:"project_id"`
	Name                  string         `json:"name"`
	SourceType            string         `json:"source_type" enum:"inspection,checklist,safety_observation,punch_item,rfi,submittal,task,equipment_inspection"`
	TriggerCondition      map[string]any `json:"trigger_condition"`
	ActionType            string         `json:"action_type" enum:"create_punch_item,create_task,send_notification,create_rfi,assign_user,change_status,create_inspection"`
	ActionConfig          map[string]any `json:"action_config"`
	IsActive              bool           `json:"is_active"`
	Priority              int            `json:"priority"`
	ExecutionDelayMinutes int            `json:"execution_delay_minutes"`
	CreatedBy             string         `json:"created_by"`
	CreatedAt             string         `json:"created_at" format:"date-time"`
	UpdatedAt             string         `json:"updated_at" format:"date-time"`
}

type EscalationResponse struct {
	ID           string         `json:"id"`
	RuleID       *string        `json:"rule_id,omitempty"`
	ProjectID    string         `json:"project_id"`
	SourceType   string         `json:"source_type"`
	SourceID     string         `json:"source_id"`
	Snapshot     map[string]any `json:"source_data_snapshot,omitempty"`
	ActionType   string         `json:"action_type"`
	ActionConfig map[string]any `json:"action_config,omitempty"`
	ResultType   *string        `json:"result_type,omitempty"`
	ResultID     *string        `json:"result_id,omitempty"`
	Status       string         `json:"status" enum:"pending,executed,failed,skipped"`
	TriggeredAt  string         `json:"triggered_at" format:"date-time"`
	ScheduledFor string         `json:"scheduled_for" format:"date-time"`
	ExecutedAt   *string        `json:"executed_at,omitempty" format:"date-time"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	TriggeredBy  string         `json:"triggered_by"`
}

type AuditEntryResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	// Key is the plaintext secret; set once at creation and never again.
	Key string `json:"key,omitempty"`
}

type WhoAmIResponse struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles"`
	Source  string   `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type ProjectConfigResponse struct {
	Project struct {
		ID       string `json:"id"`
		Timezone string `json:"timezone"`
	} `json:"project"`
	Dispatch struct {
		BatchSize       int `json:"batch_size"`
		IntervalSeconds int `json:"interval_seconds"`
	} `json:"dispatch"`
	Maintenance struct {
		DefaultWarningHours float64 `json:"default_warning_hours"`
		DefaultWarningDays  int     `json:"default_warning_days"`
	} `json:"maintenance"`
}

type paginatedEscalations struct {
	Items []EscalationResponse `json:"items"`
}

type paginatedAudit struct {
	Items      []AuditEntryResponse `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// Conversion helpers

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse(p)
}

func ruleResponse(r domain.EscalationRule) RuleResponse {
	return RuleResponse{
		ID:                    r.ID,
		ProjectID:             r.ProjectID,
		Name:                  r.Name,
		SourceType:            r.SourceType,
		TriggerCondition:      decodeJSONMap(r.TriggerCondition),
		ActionType:            r.ActionType,
		ActionConfig:          decodeJSONMap(r.ActionConfig),
		IsActive:              r.IsActive,
		Priority:              r.Priority,
		ExecutionDelayMinutes: r.ExecutionDelayMinutes,
		CreatedBy:             r.CreatedBy,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
}

func escalationResponse(e domain.EscalationEvent) EscalationResponse {
	return EscalationResponse{
		ID:           e.ID,
		RuleID:       e.RuleID,
		ProjectID:    e.ProjectID,
		SourceType:   e.SourceType,
		SourceID:     e.SourceID,
		Snapshot:     decodeJSONMap(e.Snapshot),
		ActionType:   e.ActionType,
		ActionConfig: decodeJSONMap(e.ActionConfig),
		ResultType:   e.ResultType,
		ResultID:     e.ResultID,
		Status:       e.Status,
		TriggeredAt:  e.TriggeredAt,
		ScheduledFor: e.ScheduledFor,
		ExecutedAt:   e.ExecutedAt,
		ErrorMessage: e.ErrorMessage,
		TriggeredBy:  e.TriggeredBy,
	}
}

func auditResponse(e domain.AuditEntry) AuditEntryResponse {
	return AuditEntryResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:        k.ID,
		ActorID:   k.ActorID,
		Name:      k.Name,
		CreatedAt: k.CreatedAt,
	}
}

func configResponse(cfg *config.Config) ProjectConfigResponse {
	var res ProjectConfigResponse
	res.Project.ID = cfg.Project.ID
	res.Project.Timezone = cfg.Timezone()
	res.Dispatch.BatchSize = cfg.BatchSize()
	res.Dispatch.IntervalSeconds = cfg.Dispatch.IntervalSeconds
	res.Maintenance.DefaultWarningHours = cfg.Maintenance.DefaultWarningHours
	res.Maintenance.DefaultWarningDays = cfg.Maintenance.DefaultWarningDays
	return res
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func mapRules(items []domain.EscalationRule) []RuleResponse {
	res := make([]RuleResponse, 0, len(items))
	for _, r := range items {
		res = append(res, ruleResponse(r))
	}
	return res
}

func mapEscalations(items []domain.EscalationEvent) []EscalationResponse {
	res := make([]EscalationResponse, 0, len(items))
	for _, e := range items {
		res = append(res, escalationResponse(e))
	}
	return res
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func encodeJSONMap(m map[string]any) string {
	if m == nil {
		m = map[string]any{}
	}
	b, _ := json.Marshal(m)
	return string(b)
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
