package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"

	"siteline/internal/config"
	"siteline/internal/db"
	"siteline/internal/engine"
	"siteline/internal/migrate"
	"siteline/internal/server"
)

// Throwaway smoke check: boots the API in-process, mints a dev token, and
// creates one rule over HTTP.
func main() {
	workspace := "/tmp/siteline-check"
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		panic(err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		panic(err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		panic(err)
	}
	cfg := config.Default("siteline")
	e := engine.New(conn, cfg)
	if _, err := e.InitProject(context.Background(), cfg.Project.ID, "", "tester"); err != nil {
		panic(err)
	}
	h, err := server.New(server.Config{Engine: e, BasePath: "/v0", Auth: server.AuthConfig{JWTSecret: "test-secret"}})
	if err != nil {
		panic(err)
	}
	ts := httptest.NewServer(h)
	defer ts.Close()

	loginBody, _ := json.Marshal(map[string]any{"actor_id": "tester"})
	loginRes, err := http.Post(ts.URL+"/v0/auth/dev/login", "application/json", bytes.NewReader(loginBody))
	if err != nil {
		panic(err)
	}
	defer loginRes.Body.Close()
	var login struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(loginRes.Body).Decode(&login); err != nil {
		panic(err)
	}

	body := map[string]any{
		"name":              "Escalate failed inspections",
		"source_type":       "inspection",
		"trigger_condition": map[string]any{"field": "status", "operator": "equals", "value": "failed"},
		"action_type":       "create_punch_item",
		"action_config":     map[string]any{"title": "Fix failed inspection"},
	}
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v0/projects/siteline/rules", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+login.Token)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		panic(err)
	}
	defer res.Body.Close()
	var resp any
	_ = json.NewDecoder(res.Body).Decode(&resp)
	fmt.Printf("status=%d resp=%v\n", res.StatusCode, resp)
}
