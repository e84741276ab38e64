package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/SAP-F-2025/exam-attempt-service/internal/handlers"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "exam-attempt-service",
		Short:         "Timed exam and quiz attempts with auto and manual scoring",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	pf := root.PersistentFlags()
	pf.String("database-url", "", "PostgreSQL DSN (or set EXAM_DATABASE_URL)")
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.String("log-format", "json", "Log format (text, json)")

	serve := serveCmd()
	root.AddCommand(serve, sweepCmd(), archiveCmd(), exportCmd())

	// serve runs when no subcommand is given
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the expiry sweeper",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("port", "p", "8080", "HTTP listen port")
	f.Duration("sweep-interval", 30*time.Second, "How often overdue attempts are closed (0 disables)")
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Close overdue attempts and settle run statuses once",
		RunE:  runSweep,
	}
}

func archiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Archive stale unstarted attempts and duplicate attempts",
		RunE:  runArchive,
	}
	cmd.Flags().Duration("older-than", 72*time.Hour, "Age after which an unstarted attempt is stale")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the results workbook of a run",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.Uint("run-id", 0, "Run to export (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("as", "", "Acting user id; must own the exam or be an admin (required)")

	_ = cmd.MarkFlagRequired("run-id")
	_ = cmd.MarkFlagRequired("as")

	return cmd
}

// flagKeys maps CLI flags onto config keys.
var flagKeys = map[string]string{
	"database-url":   "database.url",
	"log-level":      "log.level",
	"log-format":     "log.format",
	"port":           "port",
	"sweep-interval": "sweep.interval",
	"older-than":     "archive.stale_after",
}

// viperForCmd binds the command's flags to a fresh viper instance. Only
// flags set on the command line override the environment.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || !f.Changed {
			return
		}
		v.Set(key, f.Value.String())
	})
	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd, true)
	if err != nil {
		return err
	}

	if a.cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handlers.SetupMiddleware(router, a.logger)

	authMiddleware := handlers.NewCasdoorAuthMiddleware(a.cfg.Casdoor, a.repo.User(), a.logger)
	handlerManager := handlers.NewHandlerManager(a.services, a.logger, authMiddleware)
	handlerManager.SetupRoutes(router)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", a.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		a.logger.Info("Starting server", "port", a.cfg.Port, "environment", a.cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	a.logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		a.logger.Error("Server forced to shutdown", "error", err)
	}
	a.close(ctx)

	a.logger.Info("Server exited")
	return nil
}

func runSweep(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	report, err := a.services.Sweeper().SweepOnce(cmd.Context())
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	a.logger.Info("Sweep finished", "expired_attempts", report.ExpiredAttempts, "run_transitions", report.RunTransitions)
	return nil
}

func runArchive(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	report, err := a.services.Archival().Run(cmd.Context(), a.cfg.StaleAttemptAge)
	if err != nil {
		return fmt.Errorf("archive failed: %w", err)
	}
	a.logger.Info("Archive finished", "stale", report.Stale, "duplicates", report.Duplicates, "older_than", a.cfg.StaleAttemptAge)
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	runID, _ := cmd.Flags().GetUint("run-id")
	output, _ := cmd.Flags().GetString("output")
	userID, _ := cmd.Flags().GetString("as")

	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	var w io.Writer = os.Stdout
	if output != "-" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}

	if err := a.services.Export().RunResults(cmd.Context(), runID, userID, w); err != nil {
		return fmt.Errorf("export run %d: %w", runID, err)
	}
	a.logger.Info("Export finished", "run_id", runID, "output", output)
	return nil
}
