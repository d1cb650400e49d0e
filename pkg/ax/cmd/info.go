package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const banner = `
   __ ___  __
  / _` + "`" + ` \ \/ /   Axioms CLI
 | (_| |>  <    Sign in to your tenant and call protected APIs.
  \__,_/_/\_\

Get started:
  ax register   create an account on your tenant
  ax login      sign in with a one-time code
  ax --help     list all commands
`

func NewInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show what ax can do",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprint(rt.Writer(), banner)
			return nil
		},
	}
}
