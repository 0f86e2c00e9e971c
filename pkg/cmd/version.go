package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/scanhub/scanhub/pkg/scanhub"
)

func NewVersionCmd(buildInfo scanhub.BuildInfo, outWriter io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _ = fmt.Fprintf(outWriter, "ScanHub Version: %+v\n", struct {
				Version string
				Commit  string
				Date    string
			}{Version: buildInfo.Version, Commit: buildInfo.Commit, Date: buildInfo.Date})
			return nil
		},
	}
	return cmd
}
