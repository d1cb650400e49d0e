package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/axioms/ax/pkg/ax/output"
	"github.com/axioms/ax/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show ax version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.GetBuildInfo()

			// Get runtime if available (for custom writer), but don't fail if missing
			rt, _ := getRuntime(cmd)
			writer := cmd.OutOrStdout()
			format := ""
			if rt != nil {
				writer = rt.Writer()
				format = rt.outputFormat
			}

			spec, err := output.ParseFormat(format)
			if err != nil {
				return err
			}
			if spec.Format != output.FormatTable {
				return output.Write(writer, spec, info)
			}
			_, _ = fmt.Fprintln(writer, info.String())
			return nil
		},
	}
}
