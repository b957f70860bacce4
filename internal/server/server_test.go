package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"siteline/internal/actions"
	"siteline/internal/config"
	"siteline/internal/db"
	"siteline/internal/domain"
	"siteline/internal/engine"
	"siteline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("siteline")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Actions.Register(actions.ChangeStatus, actions.HandlerFunc(func(_ context.Context, inv actions.Invocation) (actions.Result, error) {
		return actions.Result{Type: "status_change", ID: inv.SourceID}, nil
	}))
	if _, err := e.InitProject(context.Background(), cfg.Project.ID, "", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
			AllowLegacyActorHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "tester")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return envelope.Error.Code
}

func TestHealthWithoutAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/health", nil)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/projects", nil)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer res.Body.Close()
	data, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "unauthorized" {
		t.Fatalf("expected code unauthorized, got %q", code)
	}
}

func TestDevLoginAndWhoAmI(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id": "dev-user",
		"roles":    []string{"admin"},
	}, map[string]string{"X-Actor-Id": ""})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	if login.Token == "" {
		t.Fatal("expected non-empty token")
	}

	meRes, meBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if meRes.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", meRes.StatusCode, string(meBody))
	}
	var me WhoAmIResponse
	if err := json.Unmarshal(meBody, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.ActorID != "dev-user" || me.Source != "jwt" {
		t.Fatalf("unexpected principal: %+v", me)
	}
}

func TestRuleTriggerDispatchFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	projectID := "siteline"
	client := srv.Client()

	createRes, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/rules", map[string]any{
		"name":              "Escalate failed inspections",
		"source_type":       "inspection",
		"trigger_condition": map[string]any{"field": "status", "operator": "equals", "value": "failed"},
		"action_type":       "change_status",
		"action_config":     map[string]any{"status": "escalated"},
		"priority":          10,
	}, nil)
	if createRes.StatusCode != http.StatusCreated {
		t.Fatalf("create rule status %d: %s", createRes.StatusCode, string(data))
	}
	var rule RuleResponse
	if err := json.Unmarshal(data, &rule); err != nil {
		t.Fatalf("unmarshal rule: %v", err)
	}
	if !rule.IsActive {
		t.Fatal("expected rule active on creation")
	}

	trigRes, trigBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/triggers", map[string]any{
		"source_type": "inspection",
		"source_id":   "insp-1",
		"snapshot":    map[string]any{"status": "failed"},
	}, nil)
	if trigRes.StatusCode != http.StatusCreated {
		t.Fatalf("trigger status %d: %s", trigRes.StatusCode, string(trigBody))
	}
	var triggered paginatedEscalations
	if err := json.Unmarshal(trigBody, &triggered); err != nil {
		t.Fatalf("unmarshal trigger response: %v", err)
	}
	if len(triggered.Items) != 1 {
		t.Fatalf("expected 1 escalation, got %d", len(triggered.Items))
	}
	if triggered.Items[0].Status != "pending" {
		t.Fatalf("expected pending, got %s", triggered.Items[0].Status)
	}

	dispRes, dispBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/escalations/dispatch", map[string]any{
		"dispatcher_id": "worker-1",
	}, nil)
	if dispRes.StatusCode != http.StatusOK {
		t.Fatalf("dispatch status %d: %s", dispRes.StatusCode, string(dispBody))
	}
	var stats engine.DispatchStats
	if err := json.Unmarshal(dispBody, &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if stats.Claimed != 1 || stats.Executed != 1 {
		t.Fatalf("unexpected dispatch stats: %+v", stats)
	}

	getRes, getBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/"+projectID+"/escalations/"+triggered.Items[0].ID, nil, nil)
	if getRes.StatusCode != http.StatusOK {
		t.Fatalf("get escalation status %d: %s", getRes.StatusCode, string(getBody))
	}
	var evt EscalationResponse
	if err := json.Unmarshal(getBody, &evt); err != nil {
		t.Fatalf("unmarshal escalation: %v", err)
	}
	if evt.Status != "executed" {
		t.Fatalf("expected executed, got %s", evt.Status)
	}
}

func TestTriggerValidation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	projectID := "siteline"
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/triggers", map[string]any{
		"source_type": "inspection",
		"snapshot":    map[string]any{"status": "failed"},
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing source_id, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "bad_request" {
		t.Fatalf("expected code bad_request, got %q", code)
	}

	res2, data2 := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/triggers", map[string]any{
		"source_type": "inspection",
		"source_id":   "insp-1",
		"snapshot":    nil,
	}, nil)
	if res2.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for null snapshot, got %d: %s", res2.StatusCode, string(data2))
	}
}

func TestMaintenanceEvaluateAndAcknowledge(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	projectID := "siteline"
	client := srv.Client()

	freq := 250.0
	warn := 50.0
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/maintenance/schedules", map[string]any{
		"equipment_id":             "excavator-1",
		"maintenance_type":         "oil_change",
		"frequency_hours":          freq,
		"warning_threshold_hours":  warn,
		"last_performed_hours":     0.0,
		"block_usage_when_overdue": true,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create schedule status %d: %s", res.StatusCode, string(data))
	}

	evalRes, evalBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/equipment/excavator-1/evaluate", map[string]any{
		"current_hours": 300.0,
	}, nil)
	if evalRes.StatusCode != http.StatusOK {
		t.Fatalf("evaluate status %d: %s", evalRes.StatusCode, string(evalBody))
	}
	var status engine.EquipmentStatus
	if err := json.Unmarshal(evalBody, &status); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if !status.IsBlocked {
		t.Fatalf("expected blocked equipment: %+v", status)
	}
	if len(status.NewAlerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(status.NewAlerts))
	}

	ackRes, ackBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/maintenance/alerts/"+status.NewAlerts[0].ID+"/acknowledge", nil, nil)
	if ackRes.StatusCode != http.StatusOK {
		t.Fatalf("acknowledge status %d: %s", ackRes.StatusCode, string(ackBody))
	}
}

func TestMaintenanceDueFilter(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	projectID := "siteline"
	client := srv.Client()

	// Serviced 60 days ago on a 30-day interval: past due on the calendar.
	lastPerformed := time.Now().UTC().AddDate(0, 0, -60).Format(time.RFC3339)
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/maintenance/schedules", map[string]any{
		"equipment_id":      "crane-2",
		"maintenance_type":  "monthly_inspection",
		"frequency_days":    30,
		"last_performed_at": lastPerformed,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create due schedule status %d: %s", res.StatusCode, string(data))
	}

	// A freshly anchored one: not due.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/maintenance/schedules", map[string]any{
		"equipment_id":      "crane-3",
		"maintenance_type":  "monthly_inspection",
		"frequency_days":    30,
		"last_performed_at": time.Now().UTC().Format(time.RFC3339),
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create fresh schedule status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/"+projectID+"/maintenance/schedules?due=true", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("due list status %d: %s", res.StatusCode, string(data))
	}
	var due []domain.MaintenanceSchedule
	if err := json.Unmarshal(data, &due); err != nil {
		t.Fatalf("unmarshal due list: %v", err)
	}
	if len(due) != 1 || due[0].EquipmentID != "crane-2" {
		t.Fatalf("due schedules = %+v", due)
	}
}

func TestAuditPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	projectID := "siteline"
	client := srv.Client()

	for _, name := range []string{"rule a", "rule b", "rule c"} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/rules", map[string]any{
			"name":              name,
			"source_type":       "task",
			"trigger_condition": map[string]any{"field": "status", "operator": "equals", "value": "overdue"},
			"action_type":       "change_status",
			"action_config":     map[string]any{"status": "escalated"},
		}, nil)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create rule %q: %d %s", name, res.StatusCode, string(data))
		}
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/"+projectID+"/audit?limit=2", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("audit status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedAudit
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal audit page: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(page.Items))
	}
	if page.NextCursor == "" {
		t.Fatal("expected next_cursor on truncated page")
	}

	res2, data2 := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/"+projectID+"/audit?limit=2&cursor="+page.NextCursor, nil, nil)
	if res2.StatusCode != http.StatusOK {
		t.Fatalf("audit page 2 status %d: %s", res2.StatusCode, string(data2))
	}
	var page2 paginatedAudit
	if err := json.Unmarshal(data2, &page2); err != nil {
		t.Fatalf("unmarshal audit page 2: %v", err)
	}
	for _, entry := range page2.Items {
		if first := page.Items[len(page.Items)-1]; entry.ID >= first.ID {
			t.Fatalf("cursor page overlaps: %d >= %d", entry.ID, first.ID)
		}
	}

	badRes, badBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/"+projectID+"/audit?cursor=abc", nil, nil)
	if badRes.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad cursor, got %d: %s", badRes.StatusCode, string(badBody))
	}
}

func TestReportScheduleAndAdHocRun(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	projectID := "siteline"
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/reports/schedules", map[string]any{
		"report_type":  "daily_log",
		"frequency":    "daily",
		"time_of_day":  "06:00",
		"timezone":     "UTC",
		"distribution": []string{"pm@example.com"},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create scheduled report status %d: %s", res.StatusCode, string(data))
	}

	runRes, runBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/reports/runs", map[string]any{
		"report_type":  "daily_log",
		"period_start": "2026-02-01T00:00:00Z",
		"period_end":   "2026-02-02T00:00:00Z",
	}, nil)
	if runRes.StatusCode != http.StatusCreated {
		t.Fatalf("ad hoc run status %d: %s", runRes.StatusCode, string(runBody))
	}
	var run struct {
		ID      string `json:"id"`
		Status  string `json:"status"`
		FileRef string `json:"file_ref"`
	}
	if err := json.Unmarshal(runBody, &run); err != nil {
		t.Fatalf("unmarshal run: %v", err)
	}
	if run.Status != "completed" {
		t.Fatalf("expected completed run, got %s", run.Status)
	}
	if run.FileRef != "reports/daily_log-2026-02-02.pdf" {
		t.Fatalf("unexpected file_ref %q", run.FileRef)
	}

	sentRes, sentBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/reports/runs/"+run.ID+"/sent", map[string]any{
		"recipients": []string{"pm@example.com"},
	}, nil)
	if sentRes.StatusCode != http.StatusOK {
		t.Fatalf("mark sent status %d: %s", sentRes.StatusCode, string(sentBody))
	}

	againRes, againBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/reports/runs/"+run.ID+"/sent", map[string]any{
		"recipients": []string{"pm@example.com"},
	}, nil)
	if againRes.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict on double sent, got %d: %s", againRes.StatusCode, string(againBody))
	}
}
