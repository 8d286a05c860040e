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

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"grantdesk/internal/analyze"
	"grantdesk/internal/config"
	"grantdesk/internal/db"
	"grantdesk/internal/domain"
	"grantdesk/internal/engine"
	"grantdesk/internal/mail"
	"grantdesk/internal/migrate"
	"grantdesk/internal/repo"
	"grantdesk/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "gd",
	Short: "Grantdesk CLI",
	Long: `Grantdesk manages grant-application requests from intake to report delivery.
A request moves PAID/APPROVED -> RUN_STARTED -> REPORT_READY -> DELIVERED -> ARCHIVED;
run renders the report PDF and emails it to the client on file.`,
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
	viper.SetEnvPrefix("GRANTDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (defaults to <workspace>/grantdesk.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-admin", "actor identifier recorded in the audit log")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(grantsCmd())
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage configuration"}
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configShowCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default grantdesk.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(workspace)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func requestCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "request", Short: "Manage requests"}
	cmd.AddCommand(requestNewCmd())
	cmd.AddCommand(requestListCmd())
	cmd.AddCommand(requestShowCmd())
	cmd.AddCommand(requestRunCmd())
	cmd.AddCommand(requestDeliverCmd())
	cmd.AddCommand(requestDeliveredCmd())
	cmd.AddCommand(requestArchiveCmd())
	cmd.AddCommand(requestDeleteCmd())
	return cmd
}

func requestNewCmd() *cobra.Command {
	var opts engine.IntakeOptions
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Intake a new request",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ActorID = viper.GetString("actor-id")
				req, err := e.Intake(ctx, opts)
				if err != nil {
					return err
				}
				return printRequest(req)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ClientName, "client", "", "client name")
	cmd.Flags().StringVar(&opts.ClientEmail, "email", "", "client email")
	cmd.Flags().StringVar(&opts.GrantName, "grant", "", "grant name")
	cmd.Flags().StringVar(&opts.Applicant, "applicant", "", "applicant entity")
	cmd.Flags().StringVar(&opts.Purpose, "purpose", "", "project purpose")
	cmd.Flags().StringVar(&opts.UseOfFunds, "use-of-funds", "", "use of funds")
	cmd.Flags().StringVar(&opts.Deadline, "deadline", "", "deadline text")
	cmd.Flags().StringVar(&opts.Jurisdiction, "jurisdiction", "", "jurisdiction text")
	cmd.Flags().StringVar(&opts.Status, "status", "", "starting status (PAID or APPROVED)")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("grant")
	return cmd
}

func requestListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListRequests(ctx, repo.RequestFilters{Status: status, Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				printRequestTable(items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func requestShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				req, err := r.GetRequest(ctx, args[0])
				if err != nil {
					return err
				}
				return printRequest(req)
			})
		},
	}
}

func requestRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <id>",
		Short: "Render the report and attempt delivery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				req, err := e.Run(ctx, args[0], viper.GetString("actor-id"))
				var de engine.DeliveryError
				if errors.As(err, &de) {
					fmt.Fprintln(os.Stderr, "warning:", de.Error())
					return printRequest(req)
				}
				if err != nil {
					return err
				}
				return printRequest(req)
			})
		},
	}
}

func requestDeliverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deliver <id>",
		Short: "Re-send the rendered report by email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				req, err := e.Deliver(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printRequest(req)
			})
		},
	}
}

func requestDeliveredCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delivered <id>",
		Short: "Mark a REPORT_READY request delivered",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				req, err := e.MarkDelivered(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printRequest(req)
			})
		},
	}
}

func requestArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				req, err := e.Archive(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printRequest(req)
			})
		},
	}
}

func requestDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Delete(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func grantsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "grants", Short: "Grant catalog"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List catalog grants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListGrants(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				printGrantTable(items)
				return nil
			})
		},
	})
	return cmd
}

func analyzeCmd() *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze a grant narrative",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(analyze.Run(input))
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "narrative text")
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Audit log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, requestID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, requestID)
				if err != nil {
					return err
				}
				return printJSON(events)
			})
		},
	}
	cmd.Flags().IntVarP(&n, "lines", "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "filter by event type")
	cmd.Flags().StringVar(&requestID, "request", "", "filter by request id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn, cfg, mailerFor(cfg))
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: basePath,
				Auth: server.AuthConfig{
					Username:  cfg.Admin.Username,
					Password:  cfg.Admin.Password,
					JWTSecret: cfg.Auth.JWTSecret,
					TokenTTL:  time.Duration(cfg.TokenTTLMinutesOrDefault()) * time.Minute,
				},
			})
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
			fmt.Printf("Serving Grantdesk API on http://%s%s (admin view at %s/admin, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config)")
	return cmd
}

func loadConfig() (*config.Config, error) {
	if path := viper.GetString("config"); path != "" {
		return config.FromFile(path)
	}
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default(workspace)
	}
	return cfg, nil
}

func mailerFor(cfg *config.Config) mail.Sender {
	if !cfg.Mail.Enabled {
		return nil
	}
	return mail.NewSMTPSender(cfg.Mail)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg, mailerFor(cfg)))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printRequest(req domain.Request) error {
	if viper.GetBool("json") {
		return printJSON(req)
	}
	b, _ := json.MarshalIndent(req, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printRequestTable(items []domain.Request) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"ID", "Created", "Client", "Grant", "Status"})
	for _, r := range items {
		t.AppendRow(table.Row{r.ID, r.CreatedAt, r.ClientName, r.GrantName, r.Status})
	}
	t.Render()
}

func printGrantTable(items []domain.Grant) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"ID", "Name", "Organization", "Amount", "Deadline"})
	for _, g := range items {
		t.AppendRow(table.Row{g.ID, g.Name, g.Organization, fmt.Sprintf("%d-%d", g.MinAmount, g.MaxAmount), g.Deadline})
	}
	t.Render()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
