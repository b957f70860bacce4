package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"siteline/internal/actions"
	"siteline/internal/config"
	"siteline/internal/db"
	"siteline/internal/domain"
	"siteline/internal/engine"
	"siteline/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("proj-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitProject(ctx, "proj-1", "test", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func failedInspectionRule(t *testing.T, env testEnv, delayMinutes int) domain.EscalationRule {
	t.Helper()
	rule, err := env.Engine.CreateRule(env.Ctx, engine.RuleCreateOptions{
		ProjectID:             "proj-1",
		Name:                  "failed inspection -> punch item",
		SourceType:            domain.SourceInspection,
		TriggerCondition:      `{"field":"status","operator":"equals","value":"failed"}`,
		ActionType:            "create_punch_item",
		ActionConfig:          `{"title":"Fix failed inspection","assignee_id":"superintendent"}`,
		ExecutionDelayMinutes: delayMinutes,
		ActorID:               "tester",
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	return rule
}

func TestTriggerCreatesPendingEvent(t *testing.T) {
	env := newTestEnv(t)
	rule := failedInspectionRule(t, env, 30)

	events, err := env.Engine.Trigger(env.Ctx, engine.TriggerOptions{
		ProjectID:  "proj-1",
		SourceType: domain.SourceInspection,
		SourceID:   "insp-1",
		Snapshot:   map[string]any{"status": "failed", "inspector": "alice"},
		ActorID:    "alice",
	})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	evt := events[0]
	if evt.Status != domain.EventPending {
		t.Fatalf("status = %q", evt.Status)
	}
	if evt.RuleID == nil || *evt.RuleID != rule.ID {
		t.Fatalf("rule_id = %v", evt.RuleID)
	}
	if evt.ScheduledFor != "2024-01-01T12:30:00Z" {
		t.Fatalf("scheduled_for = %q, want delay of 30 minutes", evt.ScheduledFor)
	}

	// Passing inspection matches nothing.
	events, err = env.Engine.Trigger(env.Ctx, engine.TriggerOptions{
		ProjectID:  "proj-1",
		SourceType: domain.SourceInspection,
		SourceID:   "insp-2",
		Snapshot:   map[string]any{"status": "passed"},
		ActorID:    "alice",
	})
	if err != nil {
		t.Fatalf("trigger pass: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events for passing inspection, got %d", len(events))
	}
}

func TestTriggerMultipleRulesNoDedup(t *testing.T) {
	env := newTestEnv(t)
	failedInspectionRule(t, env, 0)
	_, err := env.Engine.CreateRule(env.Ctx, engine.RuleCreateOptions{
		ProjectID:        "proj-1",
		Name:             "failed inspection -> notify PM",
		SourceType:       domain.SourceInspection,
		TriggerCondition: `{"field":"status","operator":"equals","value":"failed"}`,
		ActionType:       "send_notification",
		ActionConfig:     `{"recipients":["pm"],"subject":"inspection failed"}`,
		Priority:         5,
		ActorID:          "tester",
	})
	if err != nil {
		t.Fatal(err)
	}

	events, err := env.Engine.Trigger(env.Ctx, engine.TriggerOptions{
		ProjectID:  "proj-1",
		SourceType: domain.SourceInspection,
		SourceID:   "insp-1",
		Snapshot:   map[string]any{"status": "failed"},
		ActorID:    "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("each matching rule produces an event, got %d", len(events))
	}
	// Higher priority rule evaluates first.
	if events[0].ActionType != "send_notification" {
		t.Fatalf("priority order: first event action = %q", events[0].ActionType)
	}
}

func TestMalformedStoredConditionFailsClosed(t *testing.T) {
	env := newTestEnv(t)
	// Bypass config-time validation to simulate a tree corrupted after storage.
	bad := domain.EscalationRule{
		ID:               "rule-bad",
		ProjectID:        "proj-1",
		Name:             "corrupt",
		SourceType:       domain.SourceInspection,
		TriggerCondition: `{"field":"status"`,
		ActionType:       "create_punch_item",
		ActionConfig:     `{"title":"x","assignee_id":"superintendent"}`,
		IsActive:         true,
		Priority:         100,
		CreatedBy:        "tester",
		CreatedAt:        "2024-01-01T00:00:00Z",
		UpdatedAt:        "2024-01-01T00:00:00Z",
	}
	if err := env.Engine.Repo.InsertRule(env.Ctx, nil, bad); err != nil {
		t.Fatal(err)
	}
	failedInspectionRule(t, env, 0)

	events, err := env.Engine.Trigger(env.Ctx, engine.TriggerOptions{
		ProjectID:  "proj-1",
		SourceType: domain.SourceInspection,
		SourceID:   "insp-1",
		Snapshot:   map[string]any{"status": "failed"},
		ActorID:    "alice",
	})
	if err != nil {
		t.Fatalf("sibling rules must still run: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event from the healthy rule, got %d", len(events))
	}
	if events[0].RuleID != nil && *events[0].RuleID == "rule-bad" {
		t.Fatal("corrupt rule must fail closed")
	}
}

func TestDispatchOutcomes(t *testing.T) {
	env := newTestEnv(t)
	failedInspectionRule(t, env, 0)
	env.Engine.Actions.Register(actions.CreatePunchItem, actions.HandlerFunc(
		func(ctx context.Context, inv actions.Invocation) (actions.Result, error) {
			return actions.Result{Type: "punch_item", ID: "pi-1"}, nil
		}))

	if _, err := env.Engine.Trigger(env.Ctx, engine.TriggerOptions{
		ProjectID:  "proj-1",
		SourceType: domain.SourceInspection,
		SourceID:   "insp-1",
		Snapshot:   map[string]any{"status": "failed"},
		ActorID:    "alice",
	}); err != nil {
		t.Fatal(err)
	}

	stats, err := env.Engine.DispatchDue(env.Ctx, "proj-1", "disp-1")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if stats.Claimed != 1 || stats.Executed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	events, err := env.Engine.Repo.ListEvents(env.Ctx, "proj-1", domain.EventExecuted, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("executed events = %d", len(events))
	}
	evt := events[0]
	if evt.ResultType == nil || *evt.ResultType != "punch_item" || *evt.ResultID != "pi-1" {
		t.Fatalf("result not recorded: %+v", evt)
	}
	if evt.ExecutedAt == nil {
		t.Fatal("executed_at not set")
	}

	// A second pass finds nothing.
	stats, err = env.Engine.DispatchDue(env.Ctx, "proj-1", "disp-1")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Claimed != 0 {
		t.Fatalf("terminal event re-dispatched: %+v", stats)
	}
}

func TestDispatchSkippedAndFailed(t *testing.T) {
	env := newTestEnv(t)
	failedInspectionRule(t, env, 0)
	_, err := env.Engine.CreateRule(env.Ctx, engine.RuleCreateOptions{
		ProjectID:        "proj-1",
		Name:             "failed inspection -> followup task",
		SourceType:       domain.SourceInspection,
		TriggerCondition: `{"field":"status","operator":"equals","value":"failed"}`,
		ActionType:       "create_task",
		ActionConfig:     `{"title":"Follow up"}`,
		ActorID:          "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	// Punch item handler decides the source is already resolved; the task
	// action has no handler at all.
	env.Engine.Actions.Register(actions.CreatePunchItem, actions.HandlerFunc(
		func(ctx context.Context, inv actions.Invocation) (actions.Result, error) {
			return actions.Result{}, actions.ErrNotApplicable
		}))

	if _, err := env.Engine.Trigger(env.Ctx, engine.TriggerOptions{
		ProjectID:  "proj-1",
		SourceType: domain.SourceInspection,
		SourceID:   "insp-1",
		Snapshot:   map[string]any{"status": "failed"},
		ActorID:    "alice",
	}); err != nil {
		t.Fatal(err)
	}
	stats, err := env.Engine.DispatchDue(env.Ctx, "proj-1", "disp-1")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Skipped != 1 || stats.Failed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	failed, err := env.Engine.Repo.ListEvents(env.Ctx, "proj-1", domain.EventFailed, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].ErrorMessage == nil {
		t.Fatalf("failed event must carry an error message: %+v", failed)
	}
}

func TestDispatchHonorsDelay(t *testing.T) {
	env := newTestEnv(t)
	failedInspectionRule(t, env, 60)
	env.Engine.Actions.Register(actions.CreatePunchItem, actions.HandlerFunc(
		func(ctx context.Context, inv actions.Invocation) (actions.Result, error) {
			return actions.Result{Type: "punch_item", ID: "pi-1"}, nil
		}))
	if _, err := env.Engine.Trigger(env.Ctx, engine.TriggerOptions{
		ProjectID:  "proj-1",
		SourceType: domain.SourceInspection,
		SourceID:   "insp-1",
		Snapshot:   map[string]any{"status": "failed"},
		ActorID:    "alice",
	}); err != nil {
		t.Fatal(err)
	}

	stats, err := env.Engine.DispatchDue(env.Ctx, "proj-1", "disp-1")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Claimed != 0 {
		t.Fatalf("event dispatched before its delay elapsed: %+v", stats)
	}

	env.Engine.Now = func() time.Time { return time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC) }
	stats, err = env.Engine.DispatchDue(env.Ctx, "proj-1", "disp-1")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Executed != 1 {
		t.Fatalf("stats after delay = %+v", stats)
	}
}

func TestDeactivationKeepsPendingEvents(t *testing.T) {
	env := newTestEnv(t)
	rule := failedInspectionRule(t, env, 0)
	env.Engine.Actions.Register(actions.CreatePunchItem, actions.HandlerFunc(
		func(ctx context.Context, inv actions.Invocation) (actions.Result, error) {
			return actions.Result{Type: "punch_item", ID: "pi-1"}, nil
		}))
	if _, err := env.Engine.Trigger(env.Ctx, engine.TriggerOptions{
		ProjectID:  "proj-1",
		SourceType: domain.SourceInspection,
		SourceID:   "insp-1",
		Snapshot:   map[string]any{"status": "failed"},
		ActorID:    "alice",
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := env.Engine.SetRuleActive(env.Ctx, rule.ID, false, "tester"); err != nil {
		t.Fatal(err)
	}
	// No new events after deactivation.
	events, err := env.Engine.Trigger(env.Ctx, engine.TriggerOptions{
		ProjectID:  "proj-1",
		SourceType: domain.SourceInspection,
		SourceID:   "insp-2",
		Snapshot:   map[string]any{"status": "failed"},
		ActorID:    "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("deactivated rule still triggering: %d events", len(events))
	}
	// The earlier pending event still reaches a terminal state.
	stats, err := env.Engine.DispatchDue(env.Ctx, "proj-1", "disp-1")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Executed != 1 {
		t.Fatalf("pending event must survive deactivation: %+v", stats)
	}
}

func TestCreateRuleRejectsBadConfig(t *testing.T) {
	env := newTestEnv(t)
	cases := []engine.RuleCreateOptions{
		{ProjectID: "proj-1", Name: "bad source", SourceType: "meeting",
			TriggerCondition: `{"field":"a","operator":"equals","value":1}`,
			ActionType:       "create_task", ActionConfig: `{"title":"t"}`},
		{ProjectID: "proj-1", Name: "bad operator", SourceType: domain.SourceInspection,
			TriggerCondition: `{"field":"a","operator":"matches","value":1}`,
			ActionType:       "create_task", ActionConfig: `{"title":"t"}`},
		{ProjectID: "proj-1", Name: "bad action", SourceType: domain.SourceInspection,
			TriggerCondition: `{"field":"a","operator":"equals","value":1}`,
			ActionType:       "delete_everything", ActionConfig: `{}`},
		{ProjectID: "proj-1", Name: "bad action config", SourceType: domain.SourceInspection,
			TriggerCondition: `{"field":"a","operator":"equals","value":1}`,
			ActionType:       "create_task", ActionConfig: `{"unknown_field":true}`},
		{ProjectID: "proj-1", Name: "negative delay", SourceType: domain.SourceInspection,
			TriggerCondition: `{"field":"a","operator":"equals","value":1}`,
			ActionType:       "create_task", ActionConfig: `{"title":"t"}`, ExecutionDelayMinutes: -5},
	}
	for _, opts := range cases {
		opts.ActorID = "tester"
		if _, err := env.Engine.CreateRule(env.Ctx, opts); err == nil {
			t.Errorf("%s: expected rejection at configuration time", opts.Name)
		}
	}
}

func TestMaintenanceLifecycle(t *testing.T) {
	env := newTestEnv(t)
	freq := 250.0
	warn := 50.0
	last := 1000.0
	sched, err := env.Engine.CreateSchedule(env.Ctx, engine.ScheduleCreateOptions{
		ProjectID:             "proj-1",
		EquipmentID:           "exc-1",
		MaintenanceType:       "oil_change",
		FrequencyHours:        &freq,
		LastPerformedHours:    &last,
		WarningThresholdHours: &warn,
		BlockUsageWhenOverdue: true,
		ActorID:               "tester",
	})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	if sched.NextDueHours == nil || *sched.NextDueHours != 1250 {
		t.Fatalf("next_due_hours = %v, want 1250", sched.NextDueHours)
	}

	// 1210h: inside the warning band.
	status, err := env.Engine.EvaluateEquipment(env.Ctx, "proj-1", "exc-1", 1210, "system")
	if err != nil {
		t.Fatal(err)
	}
	if len(status.NewAlerts) != 1 || status.NewAlerts[0].AlertType != domain.AlertUpcoming {
		t.Fatalf("alerts at 1210h = %+v", status.NewAlerts)
	}
	if status.IsBlocked {
		t.Fatal("upcoming must not block")
	}

	// Same reading again: the open alert suppresses a duplicate.
	status, err = env.Engine.EvaluateEquipment(env.Ctx, "proj-1", "exc-1", 1210, "system")
	if err != nil {
		t.Fatal(err)
	}
	if len(status.NewAlerts) != 0 {
		t.Fatalf("duplicate alert raised: %+v", status.NewAlerts)
	}

	// 1255h: past due, severity escalates and the block flag surfaces.
	status, err = env.Engine.EvaluateEquipment(env.Ctx, "proj-1", "exc-1", 1255, "system")
	if err != nil {
		t.Fatal(err)
	}
	if len(status.NewAlerts) != 1 || status.NewAlerts[0].AlertType != domain.AlertOverdue {
		t.Fatalf("alerts at 1255h = %+v", status.NewAlerts)
	}
	if !status.IsBlocked {
		t.Fatal("overdue with block_usage_when_overdue must block")
	}

	// Service closes open alerts and advances the due point.
	hrs := 1255.0
	sched, err = env.Engine.RecordService(env.Ctx, sched.ID, "", &hrs, "mechanic")
	if err != nil {
		t.Fatalf("record service: %v", err)
	}
	if sched.NextDueHours == nil || *sched.NextDueHours != 1505 {
		t.Fatalf("next_due_hours after service = %v, want 1505", sched.NextDueHours)
	}
	open, err := env.Engine.Repo.ListAlerts(env.Ctx, "proj-1", "exc-1", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 0 {
		t.Fatalf("service must resolve open alerts, still open: %d", len(open))
	}
	status, err = env.Engine.EvaluateEquipment(env.Ctx, "proj-1", "exc-1", 1255, "system")
	if err != nil {
		t.Fatal(err)
	}
	if len(status.NewAlerts) != 0 || status.IsBlocked {
		t.Fatalf("freshly serviced equipment alerting: %+v", status)
	}
}

func TestNeverServicedScheduleNotOverdue(t *testing.T) {
	env := newTestEnv(t)
	freq := 100.0
	sched, err := env.Engine.CreateSchedule(env.Ctx, engine.ScheduleCreateOptions{
		ProjectID:             "proj-1",
		EquipmentID:           "gen-2",
		MaintenanceType:       "oil_change",
		FrequencyHours:        &freq,
		BlockUsageWhenOverdue: true,
		ActorID:               "tester",
	})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	if sched.NextDueHours != nil {
		t.Fatalf("never-serviced schedule stored next_due_hours = %v, want none", *sched.NextDueHours)
	}

	// Equipment arriving with 480h on the meter: due at 580h, nothing to
	// report yet and no block.
	status, err := env.Engine.EvaluateEquipment(env.Ctx, "proj-1", "gen-2", 480, "system")
	if err != nil {
		t.Fatal(err)
	}
	if len(status.NewAlerts) != 0 {
		t.Fatalf("alerts on never-serviced equipment: %+v", status.NewAlerts)
	}
	if status.IsBlocked {
		t.Fatal("never-serviced equipment must not be blocked")
	}

	// First service anchors the hour axis.
	hrs := 480.0
	sched, err = env.Engine.RecordService(env.Ctx, sched.ID, "", &hrs, "mechanic")
	if err != nil {
		t.Fatalf("record service: %v", err)
	}
	if sched.NextDueHours == nil || *sched.NextDueHours != 580 {
		t.Fatalf("next_due_hours after first service = %v, want 580", sched.NextDueHours)
	}
}

func TestMarkAlertRepeatRejectedInTx(t *testing.T) {
	env := newTestEnv(t)
	freq := 100.0
	last := 0.0
	if _, err := env.Engine.CreateSchedule(env.Ctx, engine.ScheduleCreateOptions{
		ProjectID:          "proj-1",
		EquipmentID:        "gen-3",
		MaintenanceType:    "filter_change",
		FrequencyHours:     &freq,
		LastPerformedHours: &last,
		ActorID:            "tester",
	}); err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	status, err := env.Engine.EvaluateEquipment(env.Ctx, "proj-1", "gen-3", 150, "system")
	if err != nil {
		t.Fatal(err)
	}
	if len(status.NewAlerts) != 1 {
		t.Fatalf("alerts at 150h = %+v", status.NewAlerts)
	}
	alertID := status.NewAlerts[0].ID

	a, err := env.Engine.MarkAlert(env.Ctx, alertID, "acknowledged", "foreman")
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if a.AcknowledgedAt == nil || a.AcknowledgedBy == nil || *a.AcknowledgedBy != "foreman" {
		t.Fatalf("acknowledge stamp missing: %+v", a)
	}

	// A second acknowledge must fail instead of overwriting the stamp (and
	// must not wedge on the single-connection pool while doing so).
	if _, err := env.Engine.MarkAlert(env.Ctx, alertID, "acknowledged", "foreman"); err == nil {
		t.Fatal("second acknowledge succeeded")
	} else if !strings.Contains(err.Error(), "already") {
		t.Fatalf("second acknowledge error = %v", err)
	}
}

func TestReportScheduleDrive(t *testing.T) {
	env := newTestEnv(t)
	dow := 1 // Monday
	sr, err := env.Engine.CreateScheduledReport(env.Ctx, engine.ReportCreateOptions{
		ProjectID:    "proj-1",
		ReportType:   "weekly_progress",
		Frequency:    "weekly",
		DayOfWeek:    &dow,
		TimeOfDay:    "09:00",
		Timezone:     "UTC",
		Distribution: []string{"pm@example.com"},
		ActorID:      "tester",
	})
	if err != nil {
		t.Fatalf("create report: %v", err)
	}
	// Now is Monday 2024-01-01 12:00 UTC; 09:00 already passed, so the
	// next occurrence is next Monday.
	if sr.NextScheduledAt != "2024-01-08T09:00:00Z" {
		t.Fatalf("next_scheduled_at = %q", sr.NextScheduledAt)
	}

	gen := engine.ReportGeneratorFunc(func(ctx context.Context, run domain.GeneratedReportRun, s *domain.ScheduledReport) (string, error) {
		return "reports/" + run.ID + ".pdf", nil
	})

	// Not yet due.
	runs, err := env.Engine.RunDueReports(env.Ctx, "proj-1", gen, "worker")
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 0 {
		t.Fatalf("run created before due: %d", len(runs))
	}

	env.Engine.Now = func() time.Time { return time.Date(2024, 1, 8, 9, 0, 1, 0, time.UTC) }
	runs, err = env.Engine.RunDueReports(env.Ctx, "proj-1", gen, "worker")
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	run := runs[0]
	if run.Status != domain.RunSent {
		t.Fatalf("run status = %q", run.Status)
	}
	if run.FileRef == nil || *run.FileRef == "" {
		t.Fatal("file_ref not set")
	}
	if len(run.RecipientsSent) != 1 {
		t.Fatalf("recipients = %v", run.RecipientsSent)
	}

	got, err := env.Engine.Repo.GetScheduledReport(env.Ctx, sr.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.NextScheduledAt != "2024-01-15T09:00:00Z" {
		t.Fatalf("cadence not advanced: %q", got.NextScheduledAt)
	}

	// The same poll again creates nothing: the CAS already advanced.
	runs, err = env.Engine.RunDueReports(env.Ctx, "proj-1", gen, "worker")
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 0 {
		t.Fatalf("duplicate run for one occurrence: %d", len(runs))
	}
}

func TestReportGeneratorFailure(t *testing.T) {
	env := newTestEnv(t)
	gen := engine.ReportGeneratorFunc(func(ctx context.Context, run domain.GeneratedReportRun, s *domain.ScheduledReport) (string, error) {
		return "", errors.New("render blew up")
	})
	run, err := env.Engine.RunAdHocReport(env.Ctx, "proj-1", "daily_log_summary",
		"2024-01-01T00:00:00Z", "2024-01-01T12:00:00Z", gen, "tester")
	if err != nil {
		t.Fatalf("ad hoc run: %v", err)
	}
	if run.Status != domain.RunFailed {
		t.Fatalf("status = %q", run.Status)
	}
	if run.ErrorMessage == nil || *run.ErrorMessage != "render blew up" {
		t.Fatalf("error_message = %v", run.ErrorMessage)
	}
	if run.ScheduledReportID != nil {
		t.Fatal("ad hoc run must not reference a schedule")
	}
}

func TestCreateReportRejectsBadCadence(t *testing.T) {
	env := newTestEnv(t)
	dom32 := 32
	cases := []engine.ReportCreateOptions{
		{ProjectID: "proj-1", ReportType: "r", Frequency: "hourly", TimeOfDay: "09:00", Timezone: "UTC"},
		{ProjectID: "proj-1", ReportType: "r", Frequency: "weekly", TimeOfDay: "09:00", Timezone: "UTC"}, // missing day_of_week
		{ProjectID: "proj-1", ReportType: "r", Frequency: "monthly", DayOfMonth: &dom32, TimeOfDay: "09:00", Timezone: "UTC"},
		{ProjectID: "proj-1", ReportType: "r", Frequency: "daily", TimeOfDay: "25:00", Timezone: "UTC"},
		{ProjectID: "proj-1", ReportType: "r", Frequency: "daily", TimeOfDay: "09:00", Timezone: "Mars/Olympus"},
	}
	for i, opts := range cases {
		opts.ActorID = "tester"
		if _, err := env.Engine.CreateScheduledReport(env.Ctx, opts); err == nil {
			t.Errorf("case %d: expected rejection at configuration time", i)
		}
	}
}

func TestAuditTrail(t *testing.T) {
	env := newTestEnv(t)
	rule := failedInspectionRule(t, env, 0)
	env.Engine.Actions.Register(actions.CreatePunchItem, actions.HandlerFunc(
		func(ctx context.Context, inv actions.Invocation) (actions.Result, error) {
			return actions.Result{Type: "punch_item", ID: "pi-1"}, nil
		}))
	if _, err := env.Engine.Trigger(env.Ctx, engine.TriggerOptions{
		ProjectID:  "proj-1",
		SourceType: domain.SourceInspection,
		SourceID:   "insp-1",
		Snapshot:   map[string]any{"status": "failed"},
		ActorID:    "alice",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.DispatchDue(env.Ctx, "proj-1", "disp-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetRuleActive(env.Ctx, rule.ID, false, "tester"); err != nil {
		t.Fatal(err)
	}

	entries, err := env.Engine.Repo.LatestAudit(env.Ctx, 50, "proj-1", "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, entry := range entries {
		seen[entry.Type] = true
	}
	for _, want := range []string{"project.init", "rule.created", "escalation.triggered", "escalation.executed", "rule.deactivated"} {
		if !seen[want] {
			t.Errorf("audit trail missing %q (have %v)", want, seen)
		}
	}
}
