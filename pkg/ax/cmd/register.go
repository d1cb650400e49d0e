package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/axioms/ax/pkg/ax/auth"
)

const registerPath = "/user/register"

func NewRegisterCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Open the tenant's sign-up page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			base, err := auth.TenantURL(rt.ResolveTenant())
			if err != nil {
				return err
			}
			url := base + registerPath
			w := rt.Writer()
			_, _ = fmt.Fprintf(w, "Create your account at %s\n", url)
			if !rt.NoBrowser() {
				if err := rt.browser()(url); err != nil {
					rt.Logger().Debugw("Could not open browser", "error", err)
				}
			}
			_, _ = fmt.Fprintln(w, "Once registered, run 'ax login' to sign in.")
			return nil
		},
	}
}
