package cmd

import (
	"io"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scanhub/scanhub/pkg/scanhub"
)

func NewRootCmd(version scanhub.BuildInfo, args []string, outWriter io.Writer, errWriter io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "scanhub",
		Short:         "Security scan coordination and compliance reporting hub",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	rootCmd.AddCommand(NewVersionCmd(version, outWriter))
	rootCmd.AddCommand(NewScanCmd(outWriter))
	rootCmd.AddCommand(NewServeCmd(version))
	rootCmd.AddCommand(NewReportCmd(outWriter))

	rootCmd.SetArgs(args[1:])
	rootCmd.SetOut(outWriter)
	rootCmd.SetErr(errWriter)

	return rootCmd
}

// Run is the entry point of the scanhub CLI. It runs the specified command
// based on the specified args.
func Run(version scanhub.BuildInfo, args []string, outWriter io.Writer, errWriter io.Writer) error {
	return NewRootCmd(version, args, outWriter, errWriter).Execute()
}

// newLogger builds the logr.Logger used by all commands. Production encoding
// unless dev mode is enabled in the configuration.
func newLogger(devMode bool) (logr.Logger, error) {
	var zapLog *zap.Logger
	var err error
	if devMode {
		zapLog, err = zap.NewDevelopment()
	} else {
		zapLog, err = zap.NewProduction()
	}
	if err != nil {
		return logr.Logger{}, err
	}
	return zapr.NewLogger(zapLog), nil
}
