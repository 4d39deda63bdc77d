package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"leasetrack/internal/app"
	"leasetrack/internal/config"
	"leasetrack/internal/db"
	"leasetrack/internal/domain"
	"leasetrack/internal/engine"
	"leasetrack/internal/engine/auth"
	"leasetrack/internal/migrate"
	"leasetrack/internal/repo"
	"leasetrack/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "lt",
	Short: "LeaseTrack CLI",
	Long: `LeaseTrack follows retail site leads through a role-owned acquisition workflow.
Core concepts:
- Workspace: the .leasetrack directory holding the database; leasetrack.yml beside it overrides the built-in workflow.
- Lead: a candidate site moving through stages (graph mode) or numbered steps (linear mode).
- Stage / sub-status: where a lead sits and which role owns the next move.
- Ledger: the append-only history of every submission; nothing is ever edited in place.
- Event log: the audit diary, view with 'lt log tail'.`,
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
	viper.SetEnvPrefix("LEASETRACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "acting user identifier")
	rootCmd.PersistentFlags().String("role", "", "acting user role")
	rootCmd.PersistentFlags().Bool("force", false, "admin-only bypass of edge and step checks")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
	_ = viper.BindPFlag("role", rootCmd.PersistentFlags().Lookup("role"))
	_ = viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
}

func registerCommands() {
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(leadCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func cliActor() auth.Actor {
	return auth.Actor{
		ID:   viper.GetString("user-id"),
		Role: viper.GetString("role"),
	}
}

func workflowCmd() *cobra.Command {
	wf := &cobra.Command{Use: "workflow", Short: "Inspect the workflow definition"}
	wf.AddCommand(workflowShowCmd())
	wf.AddCommand(workflowValidateCmd())
	wf.AddCommand(workflowInitCmd())
	return wf
}

func workflowShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the active workflow definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := app.ResolveDefinition(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func workflowValidateCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a workflow definition file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filePath
			if path == "" {
				path = config.Path(viper.GetString("workspace"))
			}
			if _, err := config.FromFile(path); err != nil {
				return err
			}
			fmt.Printf("%s is valid\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML definition (defaults to workspace leasetrack.yml)")
	return cmd
}

func workflowInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the built-in workflow definition to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func leadCmd() *cobra.Command {
	lead := &cobra.Command{Use: "lead", Short: "Manage leads"}
	lead.AddCommand(leadCreateCmd())
	lead.AddCommand(leadListCmd())
	lead.AddCommand(leadShowCmd())
	lead.AddCommand(leadHistoryCmd())
	lead.AddCommand(leadTransitionCmd())
	lead.AddCommand(leadStepCmd())
	return lead
}

func leadCreateCmd() *cobra.Command {
	var title, remarks string
	var data []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a lead at the workflow root",
		RunE: func(cmd *cobra.Command, args []string) error {
			if title == "" {
				return fmt.Errorf("--title required")
			}
			details, err := parseKV(data)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.CreateLead(ctx, engine.CreateLeadOptions{
					Title:   title,
					Details: details,
					Remarks: remarks,
					Actor:   cliActor(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "lead title")
	cmd.Flags().StringVar(&remarks, "remarks", "", "remarks")
	cmd.Flags().StringArrayVar(&data, "data", nil, "initial details as field=value (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func leadListCmd() *cobra.Command {
	var f repo.LeadFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List leads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				leads, err := e.ListLeads(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(leads)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Stage", "Sub-status", "Status", "Created By"})
				for _, l := range leads {
					tw.AppendRow(table.Row{l.ID, l.Title, l.Stage, l.SubStatus, l.Status, l.CreatedBy})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Stage, "stage", "", "stage filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.CreatedBy, "created-by", "", "creator filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func leadShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a lead with its ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.GetLead(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	return cmd
}

func leadHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show a lead's ledger, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.Repo.ListLedgerEntries(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Step", "Target", "Status", "By", "Remarks"})
				for _, entry := range entries {
					target := entry.TargetStage
					if entry.TargetSubStatus != "" {
						target += " / " + entry.TargetSubStatus
					}
					tw.AppendRow(table.Row{entry.CreatedAt, entry.StepMarker, target, entry.Status, entry.SubmittedBy, entry.Remarks})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func leadTransitionCmd() *cobra.Command {
	var targetStage, targetSub, remarks string
	var data []string
	cmd := &cobra.Command{
		Use:   "transition <id>",
		Short: "Move a lead along a declared edge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := parseKV(data)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.Transition(ctx, engine.TransitionOptions{
					LeadID:          args[0],
					Actor:           cliActor(),
					TargetStage:     targetStage,
					TargetSubStatus: targetSub,
					Data:            details,
					Remarks:         remarks,
					Force:           viper.GetBool("force"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().StringVar(&targetStage, "to-stage", "", "target stage")
	cmd.Flags().StringVar(&targetSub, "to-sub-status", "", "target sub-status")
	cmd.Flags().StringVar(&remarks, "remarks", "", "remarks")
	cmd.Flags().StringArrayVar(&data, "data", nil, "submission data as field=value (repeatable)")
	_ = cmd.MarkFlagRequired("to-stage")
	return cmd
}

func leadStepCmd() *cobra.Command {
	var step int
	var action, remarks string
	var data []string
	cmd := &cobra.Command{
		Use:   "step <id>",
		Short: "Submit an approve/reject decision for a numbered step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := parseKV(data)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.SubmitStep(ctx, engine.StepOptions{
					LeadID:  args[0],
					Actor:   cliActor(),
					Step:    step,
					Action:  action,
					Data:    details,
					Remarks: remarks,
					Force:   viper.GetBool("force"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().IntVar(&step, "step", 0, "step number")
	cmd.Flags().StringVar(&action, "action", "approve", "approve or reject")
	cmd.Flags().StringVar(&remarks, "remarks", "", "remarks")
	cmd.Flags().StringArrayVar(&data, "data", nil, "submission data as field=value (repeatable)")
	_ = cmd.MarkFlagRequired("step")
	return cmd
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage local user records"}
	user.AddCommand(userEnsureCmd())
	user.AddCommand(userListCmd())
	return user
}

func userEnsureCmd() *cobra.Command {
	var id, name, email, role string
	cmd := &cobra.Command{
		Use:   "ensure",
		Short: "Create or update a user record",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" || role == "" {
				return fmt.Errorf("--id and --user-role required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				u := domain.User{
					ID:        id,
					Name:      name,
					Email:     email,
					Role:      role,
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.UpsertUser(ctx, u); err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "user id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&role, "user-role", "", "workflow role")
	return cmd
}

func userListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List user records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				users, err := r.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Created"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Role, u.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyRevokeCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var userID, name, secret string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				userID = viper.GetString("user-id")
			}
			if secret == "" {
				return fmt.Errorf("--key required (the plaintext key to hash and store)")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetUser(ctx, userID); err != nil {
					return fmt.Errorf("user %s: %w", userID, err)
				}
				key := domain.APIKey{
					ID:      uuid.NewString(),
					UserID:  userID,
					Name:    name,
					KeyHash: repo.HashAPIKey(secret),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"id": key.ID, "user_id": userID})
			})
		},
	}
	cmd.Flags().StringVar(&userID, "for-user", "", "user id the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	cmd.Flags().StringVar(&secret, "key", "", "plaintext key value")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, userID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "User", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.UserID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "for-user", "", "filter by user id")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath, jwtSecret string
	var allowInsecureHeaders bool
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
			def, cfg, err := app.ResolveDefinition(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, def)
			logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
			secret := jwtSecret
			if secret == "" {
				secret = os.Getenv("LEASETRACK_JWT_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("--jwt-secret or LEASETRACK_JWT_SECRET is required for bearer auth")
			}
			authCfg := server.AuthConfig{
				JWTSecret:             secret,
				AllowLegacyUserHeader: allowInsecureHeaders,
				Logger:                logger,
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Logger: logger})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e, cfg.Webhooks, logger)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving LeaseTrack API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().StringVar(&jwtSecret, "jwt-secret", "", "HS256 secret for bearer tokens (or LEASETRACK_JWT_SECRET)")
	cmd.Flags().BoolVar(&allowInsecureHeaders, "allow-insecure-headers", false, "accept X-User-Id/X-User-Role without auth (local dev only)")
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
	def, _, err := app.ResolveDefinition(workspace)
	if err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	if role := viper.GetString("role"); role != "" {
		if err := app.EnsureUser(ctx, r, viper.GetString("user-id"), role); err != nil {
			return err
		}
	}
	e := engine.New(conn, def)
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
	return fn(ctx, repo.Repo{DB: conn})
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

func parseKV(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --data %q; expected field=value", p)
		}
		out[k] = v
	}
	return out, nil
}
