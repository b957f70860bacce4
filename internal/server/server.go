package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"siteline/internal/domain"
	"siteline/internal/engine"
	"siteline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	// Reports renders report runs triggered over HTTP; FileRefGenerator
	// when nil.
	Reports engine.ReportGenerator
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bad_request"`
	Message string         `json:"message" example:"source_id is required"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"field\":\"source_id\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Siteline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Reports == nil {
		cfg.Reports = engine.FileRefGenerator()
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Siteline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerProjects(group, cfg.Engine)
	registerRules(group, cfg.Engine)
	registerTriggers(group, cfg.Engine)
	registerEscalations(group, cfg.Engine)
	registerMaintenance(group, cfg.Engine)
	registerReports(group, cfg.Engine, cfg.Reports)
	registerAudit(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerMe(group)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "not in") || strings.Contains(lowered, "already"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid"),
		strings.Contains(lowered, "required"),
		strings.Contains(lowered, "unknown"),
		strings.Contains(lowered, "must "),
		strings.Contains(lowered, "missing"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	devLoginPath := path.Join(basePath, "auth/dev/login")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	if !strings.HasPrefix(devLoginPath, "/") {
		devLoginPath = "/" + devLoginPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath || route == devLoginPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Siteline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/status",
		Summary:     "Project status",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		p, err := e.Repo.GetProject(ctx, projectID)
		if err != nil {
			return nil, handleError(err)
		}
		counts, err := e.Repo.CountEventsByStatus(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		activeRules, err := e.Repo.CountRules(ctx, p.ID, true)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"project_id":        p.ID,
			"status":            p.Status,
			"active_rules":      activeRules,
			"escalation_counts": counts,
		}}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.InitProject(ctx, input.Body.ID, stringOrEmpty(input.Body.Description), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		p, err := e.Repo.GetProject(ctx, projectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update project",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Body      struct {
			Status      string  `json:"status,omitempty"`
			Description *string `json:"description,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.UpdateProject(ctx, projectID, input.Body.Status, input.Body.Description); err != nil {
			return nil, handleError(err)
		}
		p, err := e.Repo.GetProject(ctx, projectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project-config",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/config",
		Summary:     "Get project config",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectConfigResponse `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		cfg, err := e.Repo.GetProjectConfig(ctx, projectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectConfigResponse `json:"body"`
		}{Body: configResponse(cfg)}, nil
	})
}

func registerRules(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-rule",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/rules",
		Summary:       "Create escalation rule",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      CreateRuleRequest `json:"body"`
	}) (*struct {
		Body RuleResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		if input.Body.TriggerCondition == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "trigger_condition is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		rule, err := e.CreateRule(ctx, engine.RuleCreateOptions{
			ID:                    stringOrEmpty(input.Body.ID),
			ProjectID:             projectID,
			Name:                  input.Body.Name,
			SourceType:            input.Body.SourceType,
			TriggerCondition:      encodeJSONMap(input.Body.TriggerCondition),
			ActionType:            input.Body.ActionType,
			ActionConfig:          encodeJSONMap(input.Body.ActionConfig),
			Priority:              input.Body.Priority,
			ExecutionDelayMinutes: input.Body.ExecutionDelayMinutes,
			ActorID:               actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RuleResponse `json:"body"`
		}{Body: ruleResponse(rule)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-rules",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/rules",
		Summary:     "List escalation rules",
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		SourceType string `query:"source_type"`
		Active     bool   `query:"active"`
	}) (*struct {
		Body []RuleResponse `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		items, err := e.Repo.ListRules(ctx, projectID, input.SourceType, input.Active)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []RuleResponse `json:"body"`
		}{Body: mapRules(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-rule",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/rules/{rule_id}",
		Summary:     "Get escalation rule",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		RuleID    string `path:"rule_id"`
	}) (*struct {
		Body RuleResponse `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		rule, err := e.Repo.GetRule(ctx, input.RuleID)
		if err != nil {
			return nil, handleError(err)
		}
		if !projectMatches(projectID, rule.ProjectID) {
			return nil, handleError(repo.ErrNotFound)
		}
		return &struct {
			Body RuleResponse `json:"body"`
		}{Body: ruleResponse(rule)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-rule",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/rules/{rule_id}",
		Summary:     "Update escalation rule",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		RuleID    string            `path:"rule_id"`
		Body      UpdateRuleRequest `json:"body"`
	}) (*struct {
		Body RuleResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.RuleUpdateOptions{
			ID:                    input.RuleID,
			Name:                  input.Body.Name,
			ActionType:            input.Body.ActionType,
			Priority:              input.Body.Priority,
			ExecutionDelayMinutes: input.Body.ExecutionDelayMinutes,
			ActorID:               actorID,
		}
		if input.Body.TriggerCondition != nil {
			enc := encodeJSONMap(*input.Body.TriggerCondition)
			opts.TriggerCondition = &enc
		}
		if input.Body.ActionConfig != nil {
			enc := encodeJSONMap(*input.Body.ActionConfig)
			opts.ActionConfig = &enc
		}
		rule, err := e.UpdateRule(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RuleResponse `json:"body"`
		}{Body: ruleResponse(rule)}, nil
	})

	for _, mode := range []struct {
		verb    string
		summary string
		active  bool
	}{
		{"enable", "Enable escalation rule", true},
		{"disable", "Disable escalation rule", false},
	} {
		mode := mode
		huma.Register(api, huma.Operation{
			OperationID: mode.verb + "-rule",
			Method:      http.MethodPost,
			Path:        "/projects/{project_id}/rules/{rule_id}/" + mode.verb,
			Summary:     mode.summary,
			Errors:      []int{http.StatusNotFound},
		}, func(ctx context.Context, input *struct {
			ProjectID string `path:"project_id"`
			RuleID    string `path:"rule_id"`
		}) (*struct {
			Body RuleResponse `json:"body"`
		}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			rule, err := e.SetRuleActive(ctx, input.RuleID, mode.active, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body RuleResponse `json:"body"`
			}{Body: ruleResponse(rule)}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "delete-rule",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/rules/{rule_id}",
		Summary:     "Delete escalation rule",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		RuleID    string `path:"rule_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteRule(ctx, input.RuleID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "test-rule",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/rules/{rule_id}/test",
		Summary:     "Dry-run a rule against a snapshot",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string          `path:"project_id"`
		RuleID    string          `path:"rule_id"`
		Body      TestRuleRequest `json:"body"`
	}) (*struct {
		Body engine.RuleTestResult `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		res, err := e.TestRule(ctx, input.RuleID, input.Body.Snapshot)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.RuleTestResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerTriggers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "trigger",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/triggers",
		Summary:       "Evaluate rules against a source mutation",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string         `path:"project_id"`
		Body      TriggerRequest `json:"body"`
	}) (*struct {
		Body paginatedEscalations `json:"body"`
	}, error) {
		bodyMap := rawBodyMap(ctx)
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.SourceID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "source_id is required", nil)
		}
		if isNullRaw(bodyMap["snapshot"]) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "snapshot must be object", map[string]any{"field": "snapshot", "reason": "must be object"})
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		events, err := e.Trigger(ctx, engine.TriggerOptions{
			ProjectID:  projectID,
			SourceType: input.Body.SourceType,
			SourceID:   input.Body.SourceID,
			Snapshot:   input.Body.Snapshot,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedEscalations `json:"body"`
		}{Body: paginatedEscalations{Items: nonNilSlice(mapEscalations(events))}}, nil
	})
}

func registerEscalations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-escalations",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/escalations",
		Summary:     "List escalation events",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Status    string `query:"status"`
		Due       bool   `query:"due"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body paginatedEscalations `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		var items []domain.EscalationEvent
		var err error
		if input.Due {
			now := e.Now().UTC().Format(time.RFC3339)
			items, err = e.Repo.DueEvents(ctx, projectID, now, normalizeLimit(input.Limit))
		} else {
			items, err = e.Repo.ListEvents(ctx, projectID, input.Status, normalizeLimit(input.Limit))
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedEscalations `json:"body"`
		}{Body: paginatedEscalations{Items: nonNilSlice(mapEscalations(items))}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-escalation",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/escalations/{event_id}",
		Summary:     "Get escalation event",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		EventID   string `path:"event_id"`
	}) (*struct {
		Body EscalationResponse `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		evt, err := e.Repo.GetEvent(ctx, input.EventID)
		if err != nil {
			return nil, handleError(err)
		}
		if !projectMatches(projectID, evt.ProjectID) {
			return nil, handleError(repo.ErrNotFound)
		}
		return &struct {
			Body EscalationResponse `json:"body"`
		}{Body: escalationResponse(evt)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dispatch-escalations",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/escalations/dispatch",
		Summary:     "Dispatch due escalation events",
		Errors: []int{
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string          `path:"project_id"`
		Body      DispatchRequest `json:"body"`
	}) (*struct {
		Body engine.DispatchStats `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		dispatcherID := input.Body.DispatcherID
		if dispatcherID == "" {
			dispatcherID = actorID
		}
		stats, err := e.DispatchDue(ctx, projectID, dispatcherID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.DispatchStats `json:"body"`
		}{Body: stats}, nil
	})
}

func registerMaintenance(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-maintenance-schedule",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/maintenance/schedules",
		Summary:       "Create maintenance schedule",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                `path:"project_id"`
		Body      CreateScheduleRequest `json:"body"`
	}) (*struct {
		Body domain.MaintenanceSchedule `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		s, err := e.CreateSchedule(ctx, engine.ScheduleCreateOptions{
			ID:                    stringOrEmpty(input.Body.ID),
			ProjectID:             projectID,
			EquipmentID:           input.Body.EquipmentID,
			MaintenanceType:       input.Body.MaintenanceType,
			FrequencyHours:        input.Body.FrequencyHours,
			FrequencyDays:         input.Body.FrequencyDays,
			LastPerformedAt:       input.Body.LastPerformedAt,
			LastPerformedHours:    input.Body.LastPerformedHours,
			WarningThresholdHours: input.Body.WarningThresholdHours,
			WarningThresholdDays:  input.Body.WarningThresholdDays,
			BlockUsageWhenOverdue: input.Body.BlockUsageWhenOverdue,
			ActorID:               actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.MaintenanceSchedule `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-maintenance-schedules",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/maintenance/schedules",
		Summary:     "List maintenance schedules",
	}, func(ctx context.Context, input *struct {
		ProjectID   string `path:"project_id"`
		EquipmentID string `query:"equipment_id"`
		Active      bool   `query:"active"`
		Due         bool   `query:"due"`
	}) (*struct {
		Body []domain.MaintenanceSchedule `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		var items []domain.MaintenanceSchedule
		var err error
		if input.Due {
			now := e.Now().UTC().Format(time.RFC3339)
			items, err = e.Repo.DueSchedules(ctx, projectID, now)
		} else {
			items, err = e.Repo.ListSchedules(ctx, projectID, input.EquipmentID, input.Active)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.MaintenanceSchedule `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-maintenance-schedule",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/maintenance/schedules/{schedule_id}",
		Summary:     "Get maintenance schedule",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		ScheduleID string `path:"schedule_id"`
	}) (*struct {
		Body domain.MaintenanceSchedule `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		s, err := e.Repo.GetSchedule(ctx, input.ScheduleID)
		if err != nil {
			return nil, handleError(err)
		}
		if !projectMatches(projectID, s.ProjectID) {
			return nil, handleError(repo.ErrNotFound)
		}
		return &struct {
			Body domain.MaintenanceSchedule `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-maintenance-schedule",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/maintenance/schedules/{schedule_id}",
		Summary:     "Update maintenance schedule",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID  string                `path:"project_id"`
		ScheduleID string                `path:"schedule_id"`
		Body       UpdateScheduleRequest `json:"body"`
	}) (*struct {
		Body domain.MaintenanceSchedule `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.UpdateSchedule(ctx, engine.ScheduleUpdateOptions{
			ID:                    input.ScheduleID,
			FrequencyHours:        input.Body.FrequencyHours,
			FrequencyDays:         input.Body.FrequencyDays,
			WarningThresholdHours: input.Body.WarningThresholdHours,
			WarningThresholdDays:  input.Body.WarningThresholdDays,
			BlockUsageWhenOverdue: input.Body.BlockUsageWhenOverdue,
			IsActive:              input.Body.IsActive,
			ActorID:               actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.MaintenanceSchedule `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-maintenance-service",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/maintenance/schedules/{schedule_id}/service",
		Summary:     "Record performed maintenance",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID  string               `path:"project_id"`
		ScheduleID string               `path:"schedule_id"`
		Body       RecordServiceRequest `json:"body"`
	}) (*struct {
		Body domain.MaintenanceSchedule `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.RecordService(ctx, input.ScheduleID, input.Body.PerformedAt, input.Body.HoursAtService, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.MaintenanceSchedule `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "evaluate-equipment",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/equipment/{equipment_id}/evaluate",
		Summary:     "Evaluate equipment maintenance state",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID   string                   `path:"project_id"`
		EquipmentID string                   `path:"equipment_id"`
		Body        EvaluateEquipmentRequest `json:"body"`
	}) (*struct {
		Body engine.EquipmentStatus `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		status, err := e.EvaluateEquipment(ctx, projectID, input.EquipmentID, input.Body.CurrentHours, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.EquipmentStatus `json:"body"`
		}{Body: status}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-maintenance-alerts",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/maintenance/alerts",
		Summary:     "List maintenance alerts",
	}, func(ctx context.Context, input *struct {
		ProjectID   string `path:"project_id"`
		EquipmentID string `query:"equipment_id"`
		Open        bool   `query:"open"`
	}) (*struct {
		Body []domain.MaintenanceAlert `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		items, err := e.Repo.ListAlerts(ctx, projectID, input.EquipmentID, input.Open)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.MaintenanceAlert `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	for _, mark := range []struct {
		verb    string
		summary string
		stamp   string
	}{
		{"acknowledge", "Acknowledge maintenance alert", "acknowledged"},
		{"dismiss", "Dismiss maintenance alert", "dismissed"},
		{"resolve", "Resolve maintenance alert", "resolved"},
	} {
		mark := mark
		huma.Register(api, huma.Operation{
			OperationID: mark.verb + "-maintenance-alert",
			Method:      http.MethodPost,
			Path:        "/projects/{project_id}/maintenance/alerts/{alert_id}/" + mark.verb,
			Summary:     mark.summary,
			Errors:      []int{http.StatusNotFound},
		}, func(ctx context.Context, input *struct {
			ProjectID string `path:"project_id"`
			AlertID   string `path:"alert_id"`
		}) (*struct {
			Body domain.MaintenanceAlert `json:"body"`
		}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			a, err := e.MarkAlert(ctx, input.AlertID, mark.stamp, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body domain.MaintenanceAlert `json:"body"`
			}{Body: a}, nil
		})
	}
}

func registerReports(api huma.API, e engine.Engine, gen engine.ReportGenerator) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-scheduled-report",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/reports/schedules",
		Summary:       "Create scheduled report",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                       `path:"project_id"`
		Body      CreateScheduledReportRequest `json:"body"`
	}) (*struct {
		Body domain.ScheduledReport `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		sr, err := e.CreateScheduledReport(ctx, engine.ReportCreateOptions{
			ID:           stringOrEmpty(input.Body.ID),
			ProjectID:    projectID,
			ReportType:   input.Body.ReportType,
			Frequency:    input.Body.Frequency,
			DayOfWeek:    input.Body.DayOfWeek,
			DayOfMonth:   input.Body.DayOfMonth,
			TimeOfDay:    input.Body.TimeOfDay,
			Timezone:     input.Body.Timezone,
			Distribution: input.Body.Distribution,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ScheduledReport `json:"body"`
		}{Body: sr}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-scheduled-reports",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/reports/schedules",
		Summary:     "List scheduled reports",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Active    bool   `query:"active"`
	}) (*struct {
		Body []domain.ScheduledReport `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		items, err := e.Repo.ListScheduledReports(ctx, projectID, input.Active)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ScheduledReport `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-scheduled-report",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/reports/schedules/{report_id}",
		Summary:     "Get scheduled report",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ReportID  string `path:"report_id"`
	}) (*struct {
		Body domain.ScheduledReport `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		sr, err := e.Repo.GetScheduledReport(ctx, input.ReportID)
		if err != nil {
			return nil, handleError(err)
		}
		if !projectMatches(projectID, sr.ProjectID) {
			return nil, handleError(repo.ErrNotFound)
		}
		return &struct {
			Body domain.ScheduledReport `json:"body"`
		}{Body: sr}, nil
	})

	for _, mode := range []struct {
		verb    string
		summary string
		active  bool
	}{
		{"enable", "Enable scheduled report", true},
		{"disable", "Disable scheduled report", false},
	} {
		mode := mode
		huma.Register(api, huma.Operation{
			OperationID: mode.verb + "-scheduled-report",
			Method:      http.MethodPost,
			Path:        "/projects/{project_id}/reports/schedules/{report_id}/" + mode.verb,
			Summary:     mode.summary,
			Errors:      []int{http.StatusNotFound},
		}, func(ctx context.Context, input *struct {
			ProjectID string `path:"project_id"`
			ReportID  string `path:"report_id"`
		}) (*struct {
			Body domain.ScheduledReport `json:"body"`
		}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			sr, err := e.SetReportActive(ctx, input.ReportID, mode.active, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body domain.ScheduledReport `json:"body"`
			}{Body: sr}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "run-due-reports",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/reports/run-due",
		Summary:     "Generate reports past their scheduled time",
		Errors: []int{
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []domain.GeneratedReportRun `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		runs, err := e.RunDueReports(ctx, projectID, gen, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.GeneratedReportRun `json:"body"`
		}{Body: nonNilSlice(runs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "run-adhoc-report",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/reports/runs",
		Summary:       "Generate an ad hoc report",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		Body      AdHocReportRequest `json:"body"`
	}) (*struct {
		Body domain.GeneratedReportRun `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		run, err := e.RunAdHocReport(ctx, projectID, input.Body.ReportType, input.Body.PeriodStart, input.Body.PeriodEnd, gen, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.GeneratedReportRun `json:"body"`
		}{Body: run}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-report-runs",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/reports/runs",
		Summary:     "List report runs",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Status    string `query:"status"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.GeneratedReportRun `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		items, err := e.Repo.ListReportRuns(ctx, projectID, input.Status, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.GeneratedReportRun `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-report-run",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/reports/runs/{run_id}",
		Summary:     "Get report run",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		RunID     string `path:"run_id"`
	}) (*struct {
		Body domain.GeneratedReportRun `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		run, err := e.Repo.GetReportRun(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		if !projectMatches(projectID, run.ProjectID) {
			return nil, handleError(repo.ErrNotFound)
		}
		return &struct {
			Body domain.GeneratedReportRun `json:"body"`
		}{Body: run}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-report-run-sent",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/reports/runs/{run_id}/sent",
		Summary:     "Mark report run distributed",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		RunID     string             `path:"run_id"`
		Body      MarkRunSentRequest `json:"body"`
	}) (*struct {
		Body domain.GeneratedReportRun `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		run, err := e.MarkRunSent(ctx, input.RunID, input.Body.Recipients, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.GeneratedReportRun `json:"body"`
		}{Body: run}, nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/audit",
		Summary:     "List recent audit entries",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedAudit `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestAuditFrom(ctx, limit+1, cursorID, projectID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedAudit{Items: []AuditEntryResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit].ID)
			items = items[:limit]
		}
		for _, entry := range items {
			resp.Items = append(resp.Items, auditResponse(entry))
		}
		return &struct {
			Body paginatedAudit `json:"body"`
		}{Body: resp}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-apikey",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key for the current actor",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		plaintext, err := generateAPIKey()
		if err != nil {
			return nil, handleError(err)
		}
		key := domain.APIKey{
			ID:        uuid.NewString(),
			ActorID:   actorID,
			Name:      input.Body.Name,
			KeyHash:   repo.HashAPIKey(plaintext),
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
			return nil, handleError(err)
		}
		resp := apiKeyResponse(key)
		resp.Key = plaintext
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-apikeys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys of the current actor",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListAPIKeys(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]APIKeyResponse, 0, len(items))
		for _, k := range items {
			res = append(res, apiKeyResponse(k))
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-apikey",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{key_id}",
		Summary:     "Delete API key",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors: []int{
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID: principal.ActorID,
			Roles:   nonNilSlice(principal.Roles),
			Source:  principal.Source,
		}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, input.Body.Roles)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func rawBodyMap(ctx context.Context) map[string]json.RawMessage {
	data := bodyBytes(ctx)
	if len(data) == 0 {
		return map[string]json.RawMessage{}
	}
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return map[string]json.RawMessage{}
	}
	if inner, ok := outer["body"]; ok {
		var innerMap map[string]json.RawMessage
		if err := json.Unmarshal(inner, &innerMap); err == nil {
			return innerMap
		}
	}
	return outer
}

func isNullRaw(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && bytes.Equal(trimmed, []byte("null"))
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "slk_" + hex.EncodeToString(buf), nil
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func projectFromPathOrHeader(ctx context.Context, pathProjectID, fallback string) string {
	if pathProjectID != "" {
		return pathProjectID
	}
	return projectFromHeader(ctx, fallback)
}

func projectMatches(expected, actual string) bool {
	if expected == "" {
		return true
	}
	return expected == actual
}

func projectFromHeader(ctx context.Context, fallback string) string {
	if req, ok := ctx.Value(requestKey{}).(*http.Request); ok && req != nil {
		if v := strings.TrimSpace(req.Header.Get("X-Project-Id")); v != "" {
			return v
		}
	}
	return fallback
}
