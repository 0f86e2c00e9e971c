package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/scanhub/scanhub/pkg/etc"
	"github.com/scanhub/scanhub/pkg/ext"
	"github.com/scanhub/scanhub/pkg/ledger"
	"github.com/scanhub/scanhub/pkg/report"
)

const daysFlagName = "days"

func NewReportCmd(outWriter io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report REPOSITORY",
		Short: "Print the compliance report for a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, args[0], outWriter)
		},
	}
	cmd.Flags().Int(daysFlagName, 30, "Length of the report window in days")
	return cmd
}

func runReport(cmd *cobra.Command, repositoryID string, outWriter io.Writer) error {
	config, err := etc.GetConfig()
	if err != nil {
		return fmt.Errorf("getting config: %w", err)
	}
	log, err := newLogger(config.Hub.LogDevMode)
	if err != nil {
		return err
	}

	days, err := cmd.Flags().GetInt(daysFlagName)
	if err != nil {
		return err
	}
	if days <= 0 {
		return fmt.Errorf("days must be positive, got %d", days)
	}

	clock := ext.NewSystemClock()
	store, err := ledger.NewStore(config.Hub.DatabasePath, log, clock, ext.NewGoogleUUIDGenerator(),
		config.Hub.ComplianceWindowDays, config.Hub.RemediationSLADays)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()

	to := clock.Now()
	result, err := report.NewService(store, clock).Report(cmd.Context(), repositoryID, to.AddDate(0, 0, -days), to)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(outWriter)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}
