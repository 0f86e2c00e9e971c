package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/scanhub/scanhub/pkg/api"
	"github.com/scanhub/scanhub/pkg/etc"
	"github.com/scanhub/scanhub/pkg/ext"
	"github.com/scanhub/scanhub/pkg/ledger"
	"github.com/scanhub/scanhub/pkg/report"
	"github.com/scanhub/scanhub/pkg/scanhub"
)

func NewServeCmd(buildInfo scanhub.BuildInfo) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scan ingestion and compliance reporting API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), buildInfo)
		},
	}
	return cmd
}

func runServe(ctx context.Context, buildInfo scanhub.BuildInfo) error {
	config, err := etc.GetConfig()
	if err != nil {
		return fmt.Errorf("getting config: %w", err)
	}
	log, err := newLogger(config.Hub.LogDevMode)
	if err != nil {
		return err
	}
	log.Info("Starting server", "version", buildInfo, "bindAddress", config.API.BindAddress)

	clock := ext.NewSystemClock()
	store, err := ledger.NewStore(config.Hub.DatabasePath, log, clock, ext.NewGoogleUUIDGenerator(),
		config.Hub.ComplianceWindowDays, config.Hub.RemediationSLADays)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()

	server, err := api.NewServer(log, config.API, store, report.NewService(store, clock), clock)
	if err != nil {
		return err
	}
	httpServer := server.NewHTTPServer()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
