package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/scanhub/scanhub/pkg/aggregate"
	"github.com/scanhub/scanhub/pkg/alert"
	"github.com/scanhub/scanhub/pkg/coordinator"
	"github.com/scanhub/scanhub/pkg/etc"
	"github.com/scanhub/scanhub/pkg/ext"
	"github.com/scanhub/scanhub/pkg/ledger"
	"github.com/scanhub/scanhub/pkg/plan"
	"github.com/scanhub/scanhub/pkg/scanhub"
	"github.com/scanhub/scanhub/pkg/scanner"
)

const (
	repositoryFlagName        = "repository"
	branchFlagName            = "branch"
	commitFlagName            = "commit"
	modeFlagName              = "mode"
	endpointFlagName          = "endpoint"
	severityThresholdFlagName = "severity-threshold"
	complianceProfileFlagName = "compliance-profile"
	noRecordFlagName          = "no-record"
)

func NewScanCmd(outWriter io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run the enabled scanner adapters against a repository checkout and record the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, outWriter)
		},
	}

	cmd.Flags().String(repositoryFlagName, "", "Repository identifier, e.g. acme/payments-api")
	cmd.Flags().String(branchFlagName, "", "Branch under scan")
	cmd.Flags().String(commitFlagName, "", "Commit SHA under scan")
	cmd.Flags().String(modeFlagName, plan.ModeAll,
		"Scan mode: all, backend, frontend, or a comma-separated list of scanner categories")
	cmd.Flags().String(endpointFlagName, "", "Target endpoint for dynamic analysis; without it DAST is skipped")
	cmd.Flags().String(severityThresholdFlagName, string(aggregate.DefaultSeverityThreshold),
		"Lowest severity that renders the run non-compliant")
	cmd.Flags().Bool(complianceProfileFlagName, false, "Enable the financial compliance scanner profile")
	cmd.Flags().Bool(noRecordFlagName, false, "Print the scan run without recording it in the ledger")
	_ = cmd.MarkFlagRequired(repositoryFlagName)

	return cmd
}

func runScan(cmd *cobra.Command, outWriter io.Writer) error {
	config, err := etc.GetConfig()
	if err != nil {
		return fmt.Errorf("getting config: %w", err)
	}
	log, err := newLogger(config.Hub.LogDevMode)
	if err != nil {
		return err
	}

	request, err := requestFromFlags(cmd)
	if err != nil {
		return err
	}

	clock := ext.NewSystemClock()
	request.RequestedAt = clock.Now()

	catalog := scanner.DefaultCatalog()
	if config.Scanners.CatalogFile != "" {
		if catalog, err = scanner.LoadCatalog(config.Scanners.CatalogFile); err != nil {
			return fmt.Errorf("loading scanner catalog: %w", err)
		}
	}

	categories := plan.Resolve(request)
	log.Info("Resolved scan plan", "repositoryId", request.RepositoryID, "categories", categories)

	adapters := scanner.NewAdapters(log, catalog, scanner.NewExecCommandRunner(), clock)
	startedAt := clock.Now()
	results, err := coordinator.New(log, adapters, config.Scanners.AdapterTimeout).
		Run(cmd.Context(), request, categories)
	cancelled := errors.Is(err, coordinator.ErrCancelled)
	if err != nil && !cancelled {
		return err
	}

	run := aggregate.NewScanRun("", request, results, startedAt, clock.Now())
	if cancelled {
		// A cancelled run is still a reportable fact.
		run.OverallStatus = scanhub.RunStatusCancelled
	}

	noRecord, err := cmd.Flags().GetBool(noRecordFlagName)
	if err != nil {
		return err
	}
	if !noRecord {
		store, err := ledger.NewStore(config.Hub.DatabasePath, log, clock, ext.NewGoogleUUIDGenerator(),
			config.Hub.ComplianceWindowDays, config.Hub.RemediationSLADays)
		if err != nil {
			return fmt.Errorf("opening ledger: %w", err)
		}
		defer func() {
			_ = store.Close()
		}()

		if run.ID, err = store.RecordScanRun(cmd.Context(), run); err != nil {
			return fmt.Errorf("recording scan run: %w", err)
		}

		policy, err := alertPolicy(config.Hub)
		if err != nil {
			return err
		}
		dispatcher := alert.NewDispatcher(log, policy, alert.NewLogSink(log), store, clock)
		if _, err := dispatcher.Dispatch(cmd.Context(), run); err != nil {
			return fmt.Errorf("dispatching alert: %w", err)
		}
	}

	encoder := json.NewEncoder(outWriter)
	encoder.SetIndent("", "  ")
	return encoder.Encode(run)
}

func requestFromFlags(cmd *cobra.Command) (scanhub.ScanRequest, error) {
	var request scanhub.ScanRequest
	var err error

	if request.RepositoryID, err = cmd.Flags().GetString(repositoryFlagName); err != nil {
		return scanhub.ScanRequest{}, err
	}
	if request.Branch, err = cmd.Flags().GetString(branchFlagName); err != nil {
		return scanhub.ScanRequest{}, err
	}
	if request.CommitSHA, err = cmd.Flags().GetString(commitFlagName); err != nil {
		return scanhub.ScanRequest{}, err
	}
	if request.Mode, err = cmd.Flags().GetString(modeFlagName); err != nil {
		return scanhub.ScanRequest{}, err
	}
	if request.TargetEndpoint, err = cmd.Flags().GetString(endpointFlagName); err != nil {
		return scanhub.ScanRequest{}, err
	}
	if request.ComplianceProfileEnabled, err = cmd.Flags().GetBool(complianceProfileFlagName); err != nil {
		return scanhub.ScanRequest{}, err
	}

	threshold, err := cmd.Flags().GetString(severityThresholdFlagName)
	if err != nil {
		return scanhub.ScanRequest{}, err
	}
	if request.SeverityThreshold, err = scanhub.StringToSeverity(threshold); err != nil {
		return scanhub.ScanRequest{}, err
	}
	return request, nil
}

func alertPolicy(hub etc.Hub) (*alert.Policy, error) {
	if hub.AlertPolicyFile == "" {
		return alert.NewDefaultPolicy(), nil
	}
	policy, err := alert.LoadPolicy(hub.AlertPolicyFile)
	if err != nil {
		return nil, fmt.Errorf("loading alert policy: %w", err)
	}
	return policy, nil
}
