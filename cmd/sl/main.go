package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"siteline/internal/app"
	"siteline/internal/config"
	"siteline/internal/db"
	"siteline/internal/domain"
	"siteline/internal/engine"
	"siteline/internal/migrate"
	"siteline/internal/repo"
	"siteline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Siteline CLI",
	Long: `Siteline automates construction-site workflows with escalation rules,
maintenance schedules, and scheduled reports.
Core concepts:
- Workspace: your .siteline directory holding the database; project config lives in the DB and is imported explicitly.
- Project: one construction project that owns all rules, escalations, equipment schedules, and reports.
- Escalation rules: when a field event (failed inspection, overdue task, safety observation) matches a condition, the rule queues an action like creating a punch item or notifying the PM.
- Triggers: feed a source snapshot to the rule engine with 'sl trigger'; matching rules produce pending escalation events.
- Dispatch: pending events past their delay are claimed and executed exactly once ('sl dispatch', or --watch for a loop).
- Maintenance: usage-hour and calendar schedules per equipment unit; evaluation raises warning/due/overdue alerts and can block overdue equipment.
- Reports: daily through quarterly cadences generate report runs; 'sl report run-due' drives whatever is past its scheduled time.
- Audit log: append-only diary of every change, view with 'sl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SITELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(ruleCmd())
	rootCmd.AddCommand(triggerCmd())
	rootCmd.AddCommand(dispatchCmd())
	rootCmd.AddCommand(maintenanceCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectConfigCmd())
	prj.AddCommand(projectUseCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var id, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg := config.Default(id)
			e := engine.New(conn, cfg)
			p, err := e.InitProject(cmd.Context(), id, desc, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(p)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := viper.GetString("project")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if target == "" {
					target = e.Config.Project.ID
				}
				p, err := e.Repo.GetProject(ctx, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectUpdateCmd() *cobra.Command {
	var status string
	var description string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := viper.GetString("project")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if target == "" {
					target = e.Config.Project.ID
				}
				var descPtr *string
				if cmd.Flags().Changed("description") {
					descPtr = &description
				}
				if err := e.Repo.UpdateProject(ctx, target, status, descPtr); err != nil {
					return err
				}
				p, err := e.Repo.GetProject(ctx, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status (active, paused, archived)")
	cmd.Flags().StringVar(&description, "description", "", "description")
	return cmd
}

func projectUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Set current project for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := strings.TrimSpace(args[0])
			if projectID == "" {
				return fmt.Errorf("project id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "SITELINE_PROJECT", projectID); err != nil {
				return err
			}
			fmt.Printf("Set SITELINE_PROJECT=%s in %s/.env\n", projectID, workspace)
			return nil
		},
	}
	return cmd
}

func projectConfigCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage project config",
	}
	cfg.AddCommand(projectConfigShowCmd())
	cfg.AddCommand(projectConfigImportCmd())
	return cfg
}

func projectConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show project config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func projectConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import project config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			projectID := cfg.Project.ID
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if projectID == "" {
					projectID = e.Config.Project.ID
				}
				if err := e.Repo.UpsertProjectConfig(ctx, projectID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect project config",
		Long:  "Config is the rulebook (stored in DB): dispatch batch size, maintenance warning defaults, notification targets, and webhooks. Import from siteline.yml if desired.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show project status",
		Long:  "The scoreboard for your project: escalation counts by status and how many rules are armed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID = strings.TrimSpace(projectID)
				if projectID == "" {
					projectID = e.Config.Project.ID
				}
				p, err := e.Repo.GetProject(ctx, projectID)
				if err != nil {
					return err
				}
				counts, err := e.Repo.CountEventsByStatus(ctx, projectID)
				if err != nil {
					return err
				}
				activeRules, err := e.Repo.CountRules(ctx, projectID, true)
				if err != nil {
					return err
				}
				out := map[string]any{
					"project_id":        p.ID,
					"status":            p.Status,
					"active_rules":      activeRules,
					"escalation_counts": counts,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Project: %s (%s)\n", p.ID, p.Status)
				fmt.Printf("Active rules: %d\n", activeRules)
				fmt.Println("Escalations:")
				for status, c := range counts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	return cmd
}

func ruleCmd() *cobra.Command {
	rule := &cobra.Command{
		Use:   "rule",
		Short: "Manage escalation rules",
		Long:  "Escalation rules pair a trigger condition (a JSON condition tree over the source snapshot) with an action to queue when it matches. Rules are evaluated on every trigger for their source type.",
	}
	rule.AddCommand(ruleCreateCmd())
	rule.AddCommand(ruleListCmd())
	rule.AddCommand(ruleGetCmd())
	rule.AddCommand(ruleUpdateCmd())
	rule.AddCommand(ruleEnableCmd())
	rule.AddCommand(ruleDisableCmd())
	rule.AddCommand(ruleDeleteCmd())
	rule.AddCommand(ruleTestCmd())
	rule.AddCommand(escalationListCmd())
	return rule
}

func ruleCreateCmd() *cobra.Command {
	var opts engine.RuleCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an escalation rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.ProjectID == "" {
					opts.ProjectID = e.Config.Project.ID
				}
				rule, err := e.CreateRule(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(rule)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "rule id (optional, UUID if omitted)")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.Name, "name", "", "rule name")
	cmd.Flags().StringVar(&opts.SourceType, "source-type", "", "source type (inspection, task, rfi, ...)")
	cmd.Flags().StringVar(&opts.TriggerCondition, "condition-json", "", "trigger condition JSON")
	cmd.Flags().StringVar(&opts.ActionType, "action-type", "", "action type (create_punch_item, send_notification, ...)")
	cmd.Flags().StringVar(&opts.ActionConfig, "action-config-json", "{}", "action config JSON")
	cmd.Flags().IntVar(&opts.Priority, "priority", 0, "priority (lower fires first)")
	cmd.Flags().IntVar(&opts.ExecutionDelayMinutes, "delay-minutes", 0, "execution delay in minutes")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("source-type")
	_ = cmd.MarkFlagRequired("condition-json")
	_ = cmd.MarkFlagRequired("action-type")
	return cmd
}

func ruleListCmd() *cobra.Command {
	var sourceType string
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List escalation rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rules, err := e.Repo.ListRules(ctx, e.Config.Project.ID, sourceType, activeOnly)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rules)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Source", "Action", "Active", "Priority"})
				for _, r := range rules {
					tw.AppendRow(table.Row{r.ID, r.Name, r.SourceType, r.ActionType, r.IsActive, r.Priority})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sourceType, "source-type", "", "source type filter")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active rules")
	return cmd
}

func ruleGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get escalation rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rule, err := e.Repo.GetRule(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(rule)
			})
		},
	}
	return cmd
}

func ruleUpdateCmd() *cobra.Command {
	var name, condition, actionType, actionConfig string
	var priority, delay int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update escalation rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.RuleUpdateOptions{
				ID:      args[0],
				ActorID: viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("name") {
				opts.Name = &name
			}
			if cmd.Flags().Changed("condition-json") {
				opts.TriggerCondition = &condition
			}
			if cmd.Flags().Changed("action-type") {
				opts.ActionType = &actionType
			}
			if cmd.Flags().Changed("action-config-json") {
				opts.ActionConfig = &actionConfig
			}
			if cmd.Flags().Changed("priority") {
				opts.Priority = &priority
			}
			if cmd.Flags().Changed("delay-minutes") {
				opts.ExecutionDelayMinutes = &delay
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rule, err := e.UpdateRule(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(rule)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "rule name")
	cmd.Flags().StringVar(&condition, "condition-json", "", "trigger condition JSON")
	cmd.Flags().StringVar(&actionType, "action-type", "", "action type")
	cmd.Flags().StringVar(&actionConfig, "action-config-json", "", "action config JSON")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority")
	cmd.Flags().IntVar(&delay, "delay-minutes", 0, "execution delay in minutes")
	return cmd
}

func ruleEnableCmd() *cobra.Command {
	return ruleActiveCmd("enable", true)
}

func ruleDisableCmd() *cobra.Command {
	return ruleActiveCmd("disable", false)
}

func ruleActiveCmd(verb string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " escalation rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rule, err := e.SetRuleActive(ctx, id, active, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rule)
			})
		},
	}
}

func ruleDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete escalation rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteRule(ctx, id, viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func ruleTestCmd() *cobra.Command {
	var snapshotJSON string
	cmd := &cobra.Command{
		Use:   "test <id>",
		Short: "Dry-run a rule against a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			snapshot, err := parseJSONMap(snapshotJSON)
			if err != nil {
				return fmt.Errorf("--snapshot-json: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.TestRule(ctx, id, snapshot)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&snapshotJSON, "snapshot-json", "{}", "source snapshot JSON")
	return cmd
}

func escalationListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "escalations",
		Short: "List escalation events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.ListEvents(ctx, e.Config.Project.ID, status, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Source", "Action", "Status", "Scheduled For"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.SourceType + "/" + evt.SourceID, evt.ActionType, evt.Status, evt.ScheduledFor})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (pending, executed, failed, skipped)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max events")
	return cmd
}

func triggerCmd() *cobra.Command {
	var sourceType, sourceID, snapshotJSON string
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Evaluate rules against a source mutation",
		Long:  "Feed a snapshot of a field entity to the rule engine. Every active rule for the source type is evaluated and each match queues one pending escalation event.",
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot, err := parseJSONMap(snapshotJSON)
			if err != nil {
				return fmt.Errorf("--snapshot-json: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Trigger(ctx, engine.TriggerOptions{
					ProjectID:  e.Config.Project.ID,
					SourceType: sourceType,
					SourceID:   sourceID,
					Snapshot:   snapshot,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().StringVar(&sourceType, "source-type", "", "source type")
	cmd.Flags().StringVar(&sourceID, "source-id", "", "source entity id")
	cmd.Flags().StringVar(&snapshotJSON, "snapshot-json", "{}", "source snapshot JSON")
	_ = cmd.MarkFlagRequired("source-type")
	_ = cmd.MarkFlagRequired("source-id")
	return cmd
}

func dispatchCmd() *cobra.Command {
	var dispatcherID string
	var watch bool
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Dispatch due escalation events",
		Long:  "Claims pending events whose scheduled time has passed and executes their actions. With --watch, keeps dispatching on the configured interval.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if dispatcherID == "" {
					dispatcherID = viper.GetString("actor-id")
				}
				run := func() error {
					stats, err := e.DispatchDue(ctx, e.Config.Project.ID, dispatcherID)
					if err != nil {
						return err
					}
					return printJSONOrTable(stats)
				}
				if !watch {
					return run()
				}
				interval := time.Duration(e.Config.Dispatch.IntervalSeconds) * time.Second
				if interval <= 0 {
					interval = 30 * time.Second
				}
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					if err := run(); err != nil {
						return err
					}
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
					}
				}
			})
		},
	}
	cmd.Flags().StringVar(&dispatcherID, "dispatcher-id", "", "dispatcher identity (defaults to actor-id)")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep dispatching on an interval")
	return cmd
}

func maintenanceCmd() *cobra.Command {
	m := &cobra.Command{
		Use:   "maintenance",
		Short: "Equipment maintenance",
		Long:  "Maintenance schedules track when equipment is due for service by usage hours, calendar days, or both. Evaluation grades each schedule against a meter reading and raises alerts; overdue equipment can be blocked from use.",
	}
	m.AddCommand(scheduleCreateCmd())
	m.AddCommand(scheduleListCmd())
	m.AddCommand(scheduleDueCmd())
	m.AddCommand(scheduleGetCmd())
	m.AddCommand(scheduleUpdateCmd())
	m.AddCommand(serviceCmd())
	m.AddCommand(evaluateCmd())
	m.AddCommand(alertCmd())
	return m
}

func scheduleCreateCmd() *cobra.Command {
	var id, equipmentID, maintType, lastPerformedAt string
	var freqHours, lastHours, warnHours float64
	var freqDays, warnDays int
	var block bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create maintenance schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ScheduleCreateOptions{
				ID:                    id,
				EquipmentID:           equipmentID,
				MaintenanceType:       maintType,
				BlockUsageWhenOverdue: block,
				ActorID:               viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("frequency-hours") {
				opts.FrequencyHours = &freqHours
			}
			if cmd.Flags().Changed("frequency-days") {
				opts.FrequencyDays = &freqDays
			}
			if cmd.Flags().Changed("last-performed-at") {
				opts.LastPerformedAt = &lastPerformedAt
			}
			if cmd.Flags().Changed("last-performed-hours") {
				opts.LastPerformedHours = &lastHours
			}
			if cmd.Flags().Changed("warn-hours") {
				opts.WarningThresholdHours = &warnHours
			}
			if cmd.Flags().Changed("warn-days") {
				opts.WarningThresholdDays = &warnDays
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ProjectID = e.Config.Project.ID
				s, err := e.CreateSchedule(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "schedule id (optional)")
	cmd.Flags().StringVar(&equipmentID, "equipment", "", "equipment id")
	cmd.Flags().StringVar(&maintType, "type", "", "maintenance type (oil_change, inspection, ...)")
	cmd.Flags().Float64Var(&freqHours, "frequency-hours", 0, "service interval in usage hours")
	cmd.Flags().IntVar(&freqDays, "frequency-days", 0, "service interval in days")
	cmd.Flags().StringVar(&lastPerformedAt, "last-performed-at", "", "last service timestamp (RFC3339)")
	cmd.Flags().Float64Var(&lastHours, "last-performed-hours", 0, "meter reading at last service")
	cmd.Flags().Float64Var(&warnHours, "warn-hours", 0, "warning threshold in hours before due")
	cmd.Flags().IntVar(&warnDays, "warn-days", 0, "warning threshold in days before due")
	cmd.Flags().BoolVar(&block, "block", false, "block equipment use when overdue")
	_ = cmd.MarkFlagRequired("equipment")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func scheduleListCmd() *cobra.Command {
	var equipmentID string
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List maintenance schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListSchedules(ctx, e.Config.Project.ID, equipmentID, activeOnly)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Equipment", "Type", "Active", "Block"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.EquipmentID, s.MaintenanceType, s.IsActive, s.BlockUsageWhenOverdue})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&equipmentID, "equipment", "", "equipment filter")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active schedules")
	return cmd
}

func scheduleDueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "due",
		Short: "List schedules past their calendar due point",
		Long:  "The poll surface for maintenance workers: active schedules whose next_due_at has elapsed. Hour-axis dueness needs a meter reading; use evaluate for that.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				now := e.Now().UTC().Format(time.RFC3339)
				items, err := e.Repo.DueSchedules(ctx, e.Config.Project.ID, now)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Equipment", "Type", "Due At", "Block"})
				for _, s := range items {
					dueAt := ""
					if s.NextDueAt != nil {
						dueAt = *s.NextDueAt
					}
					tw.AppendRow(table.Row{s.ID, s.EquipmentID, s.MaintenanceType, dueAt, s.BlockUsageWhenOverdue})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func scheduleGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get maintenance schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Repo.GetSchedule(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func scheduleUpdateCmd() *cobra.Command {
	var freqHours, warnHours float64
	var freqDays, warnDays int
	var block, active bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update maintenance schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ScheduleUpdateOptions{
				ID:      args[0],
				ActorID: viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("frequency-hours") {
				opts.FrequencyHours = &freqHours
			}
			if cmd.Flags().Changed("frequency-days") {
				opts.FrequencyDays = &freqDays
			}
			if cmd.Flags().Changed("warn-hours") {
				opts.WarningThresholdHours = &warnHours
			}
			if cmd.Flags().Changed("warn-days") {
				opts.WarningThresholdDays = &warnDays
			}
			if cmd.Flags().Changed("block") {
				opts.BlockUsageWhenOverdue = &block
			}
			if cmd.Flags().Changed("active") {
				opts.IsActive = &active
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.UpdateSchedule(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().Float64Var(&freqHours, "frequency-hours", 0, "service interval in usage hours")
	cmd.Flags().IntVar(&freqDays, "frequency-days", 0, "service interval in days")
	cmd.Flags().Float64Var(&warnHours, "warn-hours", 0, "warning threshold in hours before due")
	cmd.Flags().IntVar(&warnDays, "warn-days", 0, "warning threshold in days before due")
	cmd.Flags().BoolVar(&block, "block", false, "block equipment use when overdue")
	cmd.Flags().BoolVar(&active, "active", false, "schedule active state")
	return cmd
}

func serviceCmd() *cobra.Command {
	var performedAt string
	var hours float64
	cmd := &cobra.Command{
		Use:   "service <schedule-id>",
		Short: "Record performed maintenance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			var hoursPtr *float64
			if cmd.Flags().Changed("hours") {
				hoursPtr = &hours
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.RecordService(ctx, id, performedAt, hoursPtr, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&performedAt, "performed-at", "", "service timestamp (RFC3339, defaults to now)")
	cmd.Flags().Float64Var(&hours, "hours", 0, "meter reading at service")
	return cmd
}

func evaluateCmd() *cobra.Command {
	var hours float64
	cmd := &cobra.Command{
		Use:   "evaluate <equipment-id>",
		Short: "Evaluate equipment maintenance state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			equipmentID := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				status, err := e.EvaluateEquipment(ctx, e.Config.Project.ID, equipmentID, hours, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(status)
			})
		},
	}
	cmd.Flags().Float64Var(&hours, "hours", 0, "current usage-hour meter reading")
	_ = cmd.MarkFlagRequired("hours")
	return cmd
}

func alertCmd() *cobra.Command {
	alert := &cobra.Command{
		Use:   "alert",
		Short: "Maintenance alerts",
	}
	alert.AddCommand(alertListCmd())
	alert.AddCommand(alertMarkCmd("acknowledge", "acknowledged"))
	alert.AddCommand(alertMarkCmd("dismiss", "dismissed"))
	alert.AddCommand(alertMarkCmd("resolve", "resolved"))
	return alert
}

func alertListCmd() *cobra.Command {
	var equipmentID string
	var openOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List maintenance alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAlerts(ctx, e.Config.Project.ID, equipmentID, openOnly)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Equipment", "Type", "Triggered"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.EquipmentID, a.AlertType, a.TriggeredAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&equipmentID, "equipment", "", "equipment filter")
	cmd.Flags().BoolVar(&openOnly, "open", false, "only open alerts")
	return cmd
}

func alertMarkCmd(verb, stamp string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <alert-id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " maintenance alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.MarkAlert(ctx, id, stamp, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
}

func reportCmd() *cobra.Command {
	report := &cobra.Command{
		Use:   "report",
		Short: "Scheduled and ad hoc reports",
		Long:  "Scheduled reports fire on a daily/weekly/biweekly/monthly/quarterly cadence in the schedule's timezone. Each firing produces a report run covering the period since the previous scheduled time.",
	}
	report.AddCommand(reportScheduleCreateCmd())
	report.AddCommand(reportScheduleListCmd())
	report.AddCommand(reportActiveCmd("enable", true))
	report.AddCommand(reportActiveCmd("disable", false))
	report.AddCommand(reportRunDueCmd())
	report.AddCommand(reportRunCmd())
	report.AddCommand(reportRunsCmd())
	report.AddCommand(reportSentCmd())
	return report
}

func reportScheduleCreateCmd() *cobra.Command {
	var id, reportType, frequency, timeOfDay, timezone string
	var dayOfWeek, dayOfMonth int
	var distribution []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create scheduled report",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ReportCreateOptions{
				ID:           id,
				ReportType:   reportType,
				Frequency:    frequency,
				TimeOfDay:    timeOfDay,
				Timezone:     timezone,
				Distribution: distribution,
				ActorID:      viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("day-of-week") {
				opts.DayOfWeek = &dayOfWeek
			}
			if cmd.Flags().Changed("day-of-month") {
				opts.DayOfMonth = &dayOfMonth
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ProjectID = e.Config.Project.ID
				sr, err := e.CreateScheduledReport(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(sr)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "report schedule id (optional)")
	cmd.Flags().StringVar(&reportType, "type", "", "report type (daily_log, safety_summary, ...)")
	cmd.Flags().StringVar(&frequency, "frequency", "", "cadence (daily, weekly, biweekly, monthly, quarterly)")
	cmd.Flags().IntVar(&dayOfWeek, "day-of-week", 0, "weekday for weekly/biweekly (0=Sunday)")
	cmd.Flags().IntVar(&dayOfMonth, "day-of-month", 0, "day for monthly/quarterly")
	cmd.Flags().StringVar(&timeOfDay, "time", "06:00", "time of day HH:MM")
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA timezone (defaults to project timezone)")
	cmd.Flags().StringArrayVar(&distribution, "distribute", []string{}, "recipient (repeatable)")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("frequency")
	return cmd
}

func reportScheduleListCmd() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListScheduledReports(ctx, e.Config.Project.ID, activeOnly)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Frequency", "Next", "Active"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.ReportType, s.Frequency, s.NextScheduledAt, s.IsActive})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active schedules")
	return cmd
}

func reportActiveCmd(verb string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " scheduled report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sr, err := e.SetReportActive(ctx, id, active, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(sr)
			})
		},
	}
}

func reportRunDueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run-due",
		Short: "Generate reports past their scheduled time",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				runs, err := e.RunDueReports(ctx, e.Config.Project.ID, engine.FileRefGenerator(), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(runs)
			})
		},
	}
	return cmd
}

func reportRunCmd() *cobra.Command {
	var reportType, start, end string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate an ad hoc report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				run, err := e.RunAdHocReport(ctx, e.Config.Project.ID, reportType, start, end, engine.FileRefGenerator(), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(run)
			})
		},
	}
	cmd.Flags().StringVar(&reportType, "type", "", "report type")
	cmd.Flags().StringVar(&start, "start", "", "period start (RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "period end (RFC3339)")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func reportRunsCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List report runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListReportRuns(ctx, e.Config.Project.ID, status, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Period End", "Status"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.ReportType, r.PeriodEnd, r.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (generating, completed, failed, sent)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max runs")
	return cmd
}

func reportSentCmd() *cobra.Command {
	var recipients []string
	cmd := &cobra.Command{
		Use:   "sent <run-id>",
		Short: "Mark report run distributed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				run, err := e.MarkRunSent(ctx, id, recipients, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(run)
			})
		},
	}
	cmd.Flags().StringArrayVar(&recipients, "recipient", []string{}, "recipient (repeatable)")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Audit log",
		Long:  "The append-only diary of everything that happened: rule changes, triggers, dispatches, maintenance, and reports.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var entryType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.Repo.LatestAudit(ctx, n, e.Config.Project.ID, entryType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(entries)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	cmd.Flags().StringVar(&entryType, "type", "", "entry type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create API key for the current actor",
		Long:  "Prints the plaintext key once; only its hash is stored.",
		RunE: func(cmd *cobra.Command, args []string) error {
			buf := make([]byte, 32)
			if _, err := rand.Read(buf); err != nil {
				return err
			}
			plaintext := "slk_" + hex.EncodeToString(buf)
			key := domain.APIKey{
				ID:        uuid.NewString(),
				ActorID:   viper.GetString("actor-id"),
				Name:      name,
				KeyHash:   repo.HashAPIKey(plaintext),
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"id":       key.ID,
					"actor_id": key.ActorID,
					"name":     key.Name,
					"key":      plaintext,
				})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys of the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, id)
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyActor bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveProjectAndConfig(cmd.Context(), workspace, viper.GetString("project"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("SITELINE_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacyActor,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("SITELINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Siteline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacyActor, "allow-legacy-actor-header", false, "accept X-Actor-Id without auth (dev only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveProjectAndConfig(ctx, workspace, viper.GetString("project"), viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseJSONMap(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
