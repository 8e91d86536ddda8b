package caremesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/igorsilveira/caremesh/pkg/audit"
	"github.com/igorsilveira/caremesh/pkg/records"
	"github.com/igorsilveira/caremesh/pkg/store"
	"github.com/igorsilveira/caremesh/pkg/telemetry"
	"github.com/spf13/cobra"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Run the record backend on its own",
}

var recordsServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the record tools over stdio or streamable HTTP",
	RunE:  runRecordsServe,
}

var (
	recordsStdio bool
	recordsAddr  string
)

func init() {
	recordsServeCmd.Flags().BoolVar(&recordsStdio, "stdio", false, "serve one session on stdin/stdout")
	recordsServeCmd.Flags().StringVar(&recordsAddr, "addr", "127.0.0.1:8000", "listen address for streamable HTTP")
	recordsCmd.AddCommand(recordsServeCmd)
}

func runRecordsServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// stdout carries the protocol in stdio mode, so logs go to stderr.
	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := store.New(cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() { _ = db.Close() }()

	auditLog, err := audit.New(db.DB())
	if err != nil {
		return fmt.Errorf("initializing audit logger: %w", err)
	}
	repo, err := records.New(ctx, db.DB())
	if err != nil {
		return err
	}
	srv := records.NewServer(records.ServerConfig{
		Repository: repo,
		AuditLog:   auditLog,
		Logger:     logger,
		Version:    version,
	})

	if recordsStdio {
		logger.Info("record backend serving stdio")
		return srv.ServeStdio(ctx)
	}

	httpSrv := &http.Server{
		Addr:              recordsAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("record backend listening", slog.String("addr", recordsAddr))
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
