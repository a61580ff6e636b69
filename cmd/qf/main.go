package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"quoteflow/internal/app"
	"quoteflow/internal/config"
	"quoteflow/internal/db"
	"quoteflow/internal/domain"
	"quoteflow/internal/engine"
	"quoteflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "qf",
	Short: "Quoteflow CLI",
	Long: `Quoteflow moves sales quotations through their lifecycle.
- Quotations start in DRAFT and follow a configurable transition table up to ARCHIVED.
- Approvals climb MANAGER -> DIRECTOR -> EXECUTIVE; overdue ones are escalated by 'qf sweep'.
- Revisions propose field changes that are reviewed, then implemented as a new minor version.
- Every change is recorded in the audit log, view it with 'qf quotation log'.`,
	SilenceUsage: true,
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
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("QUOTEFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("db", "", "SQLite file (defaults to the workspace database)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().StringSlice("roles", []string{"SALES_REP"}, "actor roles")
	for _, name := range []string{"workspace", "db", "json", "actor-id", "roles"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(quotationCmd())
	rootCmd.AddCommand(approvalCmd())
	rootCmd.AddCommand(revisionCmd())
	rootCmd.AddCommand(configCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noSweep bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server and the deadline sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				srvCfg := a.Config.Server
				if cmd.Flags().Changed("addr") || srvCfg.Addr == "" {
					srvCfg.Addr = addr
				}
				if cmd.Flags().Changed("base-path") || srvCfg.BasePath == "" {
					srvCfg.BasePath = basePath
				}
				if s := viper.GetString("jwt-secret"); s != "" {
					srvCfg.JWTSecret = s
				}
				if viper.GetBool("dev-auth") {
					srvCfg.DevAuth = true
				}
				if srvCfg.JWTSecret == "" {
					return errors.New("QUOTEFLOW_JWT_SECRET (or server.jwt_secret) is required for bearer auth")
				}
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					BasePath: srvCfg.BasePath,
					Auth:     server.AuthConfig{JWTSecret: srvCfg.JWTSecret, DevAuth: srvCfg.DevAuth},
					Log:      a.Log.Named("http"),
					Metrics:  promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}),
				})
				if err != nil {
					return err
				}
				if !noSweep {
					sw := a.Sweeper()
					sw.OnReport = func(r engine.SweepReport) {
						if len(r.Escalated) > 0 || len(r.Failed) > 0 {
							a.Log.Info("sweep report", zap.Int("escalated", len(r.Escalated)), zap.Int("failed", len(r.Failed)))
						}
					}
					go sw.Run(ctx)
				}
				srv := &http.Server{Addr: srvCfg.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Log.Info("serving quoteflow api",
					zap.String("addr", srvCfg.Addr),
					zap.String("base_path", srvCfg.BasePath),
					zap.Bool("dev_auth", srvCfg.DevAuth))
				fmt.Printf("Serving Quoteflow API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", srvCfg.Addr, srvCfg.BasePath, srvCfg.BasePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "do not run the deadline sweeper")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	cmd.Flags().Bool("dev-auth", false, "enable POST /auth/dev/login")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	_ = viper.BindPFlag("dev-auth", cmd.Flags().Lookup("dev-auth"))
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Escalate approvals past their deadline once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				report, err := a.Engine.CheckApprovalDeadlines(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				fmt.Printf("checked %d, escalated %d, skipped %d, failed %d\n",
					report.Checked, len(report.Escalated), report.Skipped, len(report.Failed))
				for _, f := range report.Failed {
					fmt.Printf("  %s: %s\n", f.QuotationID, f.Error)
				}
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Inspect configuration"}
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "print",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default quoteflow.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cfgCmd.AddCommand(initCmd)
	return cfgCmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		DBPath:    viper.GetString("db"),
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func currentActor() (domain.Actor, error) {
	id := strings.TrimSpace(viper.GetString("actor-id"))
	if id == "" {
		return domain.Actor{}, errors.New("--actor-id required")
	}
	var roles []domain.Role
	for _, raw := range viper.GetStringSlice("roles") {
		for _, part := range strings.Split(raw, ",") {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			r, err := domain.ParseRole(part)
			if err != nil {
				return domain.Actor{}, err
			}
			roles = append(roles, r)
		}
	}
	return domain.Actor{ID: id, Roles: roles}, nil
}
