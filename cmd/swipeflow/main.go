package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/app"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/config"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/db"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/domain"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/journal"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/log"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/migrate"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/scheduler"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "swipeflow",
	Short: "Swipeflow CLI",
	Long: `Swipeflow runs role-gated task workflows for property operations.
Core concepts:
- Event: something on the calendar (move-in, inspection, work order) with an ordered list of tasks.
- Task: a step owned by one role. A task stays locked until the task it depends on is complete.
- Roles: resident, operator, maintenance, leasing, vendor, prospect. Operators may act for leasing and maintenance.
- Completion stamp: proof of who finished a task and when. Stamps can be undone until the permanence cutoff (23:59 local).
- Work order: a three-step maintenance event booked into the first slot both resident and maintenance have free.
- Activity log: every change, journaled to .swipeflow/swipeflow.db; view with 'swipeflow log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log.Configure(log.Config{Level: viper.GetString("log-level")})
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SWIPEFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (defaults to <workspace>/swipeflow.yml)")
	rootCmd.PersistentFlags().String("seed", "", "YAML file of events to load at startup")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	for _, name := range []string{"workspace", "config", "seed", "json", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(eventCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(availabilityCmd())
	rootCmd.AddCommand(workOrderCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var rateLimit int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long:  "Serves the JSON API, runs the overdue sweep, and delivers webhooks until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				cfg := a.Config
				if !cmd.Flags().Changed("addr") && cfg.Server.Addr != "" {
					addr = cfg.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") && cfg.Server.BasePath != "" {
					basePath = cfg.Server.BasePath
				}
				if !cmd.Flags().Changed("rate-limit") {
					rateLimit = cfg.Server.RateLimit
				}
				logger := log.Base()
				handler, err := server.New(server.Config{
					Engine:    a.Engine,
					Scheduler: a.Scheduler,
					Journal:   a.Journal,
					BasePath:  basePath,
					RateLimit: rateLimit,
					Logger:    logger,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					fmt.Printf("Serving Swipeflow API on http://%s%s (OpenAPI at %s/openapi.json, docs at /docs, metrics at /metrics)\n", addr, basePath, basePath)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				g.Go(func() error {
					return a.RunOverdue(gctx, cfg.Engine.OverdueInterval)
				})
				g.Go(func() error {
					return server.NewWebhookDispatcher(a.Journal, cfg.Webhooks, logger).Run(gctx)
				})
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "requests per minute per client IP (0 disables)")
	return cmd
}

func eventCmd() *cobra.Command {
	ev := &cobra.Command{Use: "event", Short: "Inspect events"}
	ev.AddCommand(eventListCmd())
	ev.AddCommand(eventShowCmd())
	return ev
}

func eventListCmd() *cobra.Command {
	var role, date string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List events, optionally for one role and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var events []domain.Event
				switch {
				case role != "" && date != "":
					day, err := parseDate(date)
					if err != nil {
						return err
					}
					events = a.Engine.EventsForRoleAndDate(domain.Role(role), day)
				case role != "":
					events = a.Engine.EventsForRole(domain.Role(role))
				case date != "":
					return fmt.Errorf("--date requires --role")
				default:
					events = a.Engine.AllEvents()
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Title", "Date", "Time", "Status", "Tasks"})
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.ID, ev.Type, ev.Title, ev.Date.Format(domain.DateLayout), ev.Time, ev.Status, taskProgress(ev)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	cmd.Flags().StringVar(&date, "date", "", "day filter (YYYY-MM-DD, needs --role)")
	return cmd
}

func eventShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <event-id>",
		Short: "Show one event with its tasks and stamps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ev, err := a.Engine.GetEventByID(args[0])
				if err != nil {
					return err
				}
				return printEvent(ev)
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	t := &cobra.Command{
		Use:   "task",
		Short: "Complete or undo tasks",
		Long:  "A task can be completed by its assigned role (or an operator override) once the task it depends on is complete. Completions can be undone until the permanence cutoff.",
	}
	t.AddCommand(taskCompleteCmd())
	t.AddCommand(taskUndoCmd())
	return t
}

func taskCompleteCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "complete <event-id> <task-id>",
		Short: "Complete a task acting as a role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if role == "" {
				return fmt.Errorf("--role required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ev, err := a.Engine.CompleteTask(args[0], args[1], domain.Role(role))
				if err != nil {
					return err
				}
				return printEvent(ev)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "acting role")
	return cmd
}

func taskUndoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "undo <event-id> <task-id>",
		Short: "Undo a task completion",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ev, err := a.Engine.UndoTaskCompletion(args[0], args[1])
				if err != nil {
					return err
				}
				return printEvent(ev)
			})
		},
	}
	return cmd
}

func availabilityCmd() *cobra.Command {
	var date string
	var duration int
	cmd := &cobra.Command{
		Use:   "availability",
		Short: "Find the first slot both scheduling parties have free",
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseDate(date)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				slot, ok := a.Scheduler.FindMutualAvailability(day, duration)
				out := map[string]any{"available": ok, "date": day.Format(domain.DateLayout)}
				if ok {
					out["time"] = slot.Time()
					out["end"] = slot.End.Format(domain.TimeLayout)
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				if !ok {
					fmt.Printf("No mutual availability on %s\n", day.Format(domain.DateLayout))
					return nil
				}
				fmt.Printf("First free slot on %s: %s-%s\n", day.Format(domain.DateLayout), slot.Time(), slot.End.Format(domain.TimeLayout))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day to search (YYYY-MM-DD)")
	cmd.Flags().IntVar(&duration, "duration", 0, "slot length in minutes (defaults to config)")
	return cmd
}

func workOrderCmd() *cobra.Command {
	wo := &cobra.Command{Use: "workorder", Short: "Book maintenance work orders"}
	wo.AddCommand(workOrderScheduleCmd())
	return wo
}

func workOrderScheduleCmd() *cobra.Command {
	var req scheduler.WorkOrderRequest
	var date, at string
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Book a work order at the requested time or the first mutual slot",
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseDate(date)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				booking, err := a.Scheduler.ScheduleWorkOrder(req, day, at)
				if err != nil && !errors.Is(err, scheduler.ErrNoAvailability) {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(booking)
				}
				switch {
				case !booking.Success:
					fmt.Printf("No mutual availability on %s\n", day.Format(domain.DateLayout))
				case booking.Relocated:
					fmt.Printf("Booked %s at %s (requested %s was taken)\n", booking.EventID, booking.ScheduledTime, booking.RequestedTime)
				default:
					fmt.Printf("Booked %s at %s\n", booking.EventID, booking.ScheduledTime)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.Title, "title", "", "work order title")
	cmd.Flags().StringVar(&req.Description, "description", "", "description")
	cmd.Flags().StringVar(&req.Priority, "priority", "", "low, medium, high or urgent")
	cmd.Flags().StringVar(&req.Unit, "unit", "", "unit")
	cmd.Flags().StringVar(&req.Building, "building", "", "building")
	cmd.Flags().StringVar(&req.WorkOrderID, "work-order-id", "", "external work order id")
	cmd.Flags().StringVar(&req.ResidentID, "resident-id", "", "resident user id")
	cmd.Flags().StringVar(&req.MaintenanceUserID, "maintenance-id", "", "maintenance user id")
	cmd.Flags().IntVar(&req.EstimatedDuration, "duration", 0, "estimated duration in minutes")
	cmd.Flags().StringVar(&date, "date", "", "day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&at, "time", "", "requested start (HH:MM)")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect config",
		Long:  "Config lives in swipeflow.yml in the workspace: permanence cutoff, scheduling window, role overrides, journal, server and webhooks.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
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

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default swipeflow.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Activity log",
		Long:  "Every accepted change (events added, tasks completed or undone, cascades, overdue sweeps) is journaled in order.",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest journaled changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if _, err := migrate.Migrate(conn); err != nil {
				return err
			}
			j := &journal.Journal{DB: conn}
			latest, err := j.Latest(ctx)
			if err != nil {
				return err
			}
			after := latest - int64(n)
			if after < 0 {
				after = 0
			}
			entries, err := j.Entries(ctx, after, n)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(entries)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Seq", "At", "Kind", "Event", "Task", "Role"})
			for _, e := range entries {
				tw.AppendRow(table.Row{e.Seq, e.At.Local().Format(time.DateTime), e.Kind, e.EventID, e.TaskID, e.Role})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	if path := viper.GetString("config"); path != "" {
		return config.FromFile(path)
	}
	return config.LoadOptional(viper.GetString("workspace"))
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if viper.GetString("log-level") == "" && cfg.Log.Level != "" {
		log.Reset()
		log.Configure(log.Config{Level: cfg.Log.Level})
	}
	a, err := app.New(app.Options{
		Workspace: viper.GetString("workspace"),
		Config:    cfg,
		SeedPath:  viper.GetString("seed"),
		Logger:    log.Base(),
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("--date required")
	}
	d, err := time.ParseInLocation(domain.DateLayout, raw, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q must be YYYY-MM-DD", raw)
	}
	return d, nil
}

func taskProgress(ev domain.Event) string {
	done := 0
	for _, t := range ev.Tasks {
		if t.IsComplete {
			done++
		}
	}
	return fmt.Sprintf("%d/%d", done, len(ev.Tasks))
}

func printEvent(ev domain.Event) error {
	if viper.GetBool("json") {
		return printJSON(ev)
	}
	fmt.Printf("%s  %s (%s)\n", ev.ID, ev.Title, ev.Type)
	fmt.Printf("When: %s %s, %d min   Status: %s\n", ev.Date.Format(domain.DateLayout), ev.Time, ev.DurationMinutes(), ev.Status)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Task", "Title", "Role", "Status", "Depends On"})
	for _, t := range ev.Tasks {
		tw.AppendRow(table.Row{t.ID, t.Title, t.AssignedRole, t.Status, t.DependsOnTaskID})
	}
	tw.Render()
	if len(ev.CompletionStamps) > 0 {
		st := table.NewWriter()
		st.SetOutputMirror(os.Stdout)
		st.AppendHeader(table.Row{"Stamp", "By", "At", "Undo"})
		for _, s := range ev.CompletionStamps {
			st.AppendRow(table.Row{s.TaskName, s.CompletedByName, s.DisplayTime, s.CanUndo})
		}
		st.Render()
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
