// Package engine implements the workflow automation core: escalation rule
// evaluation and dispatch, maintenance schedule assessment, and scheduled
// report cadence driving. All state changes go through transactions that
// also append to the audit log.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"siteline/internal/actions"
	"siteline/internal/audit"
	"siteline/internal/config"
	"siteline/internal/domain"
	"siteline/internal/repo"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Audit   audit.Writer
	Config  *config.Config
	Actions actions.Registry
	Log     *zap.Logger
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	e := Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Audit:   audit.Writer{DB: db},
		Config:  cfg,
		Actions: actions.Registry{},
		Log:     zap.NewNop(),
		Now:     time.Now,
	}
	if cfg != nil && len(cfg.Notify.Targets) > 0 {
		var targets []actions.NotifyTarget
		for _, t := range cfg.Notify.Targets {
			targets = append(targets, actions.NotifyTarget{Name: t.Name, URL: t.URL, Secret: t.Secret})
		}
		e.Actions.Register(actions.SendNotification, actions.WebhookNotifier{Targets: targets})
	}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *zap.Logger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop()
}

func newID() string {
	return uuid.NewString()
}

// InitProject initializes a new project with migrations already run.
func (e Engine) InitProject(ctx context.Context, projectID, description, actorID string) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p := domain.Project{
		ID:          projectID,
		Status:      "active",
		Description: description,
		CreatedAt:   e.nowRFC3339(),
	}
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, p.ID, config.Default(p.ID)); err != nil {
		return domain.Project{}, fmt.Errorf("insert project config: %w", err)
	}
	if err := e.Audit.Append(ctx, tx, "project.init", p.ID, "project", p.ID, actorID, audit.Payload{"status": p.Status}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}
