package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/axioms/ax/pkg/ax/auth"
	"github.com/axioms/ax/pkg/ax/config"
	"github.com/axioms/ax/pkg/ax/output"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage ax configuration",
	}

	cmd.AddCommand(
		newConfigInitCommand(),
		newConfigViewCommand(),
		newConfigContextsCommand(),
		newConfigCurrentContextCommand(),
		newConfigUseContextCommand(),
		newConfigSetContextCommand(),
		newConfigDeleteContextCommand(),
		newConfigSetValueCommand(),
	)

	return cmd
}

type contextFlags struct {
	tenant    string
	clientID  string
	scope     string
	apiServer string
	caFile    string
	insecure  bool
	discovery bool
}

func (f *contextFlags) register(cmd *cobra.Command, defaultTenant string) {
	cmd.Flags().StringVar(&f.tenant, "tenant", defaultTenant, "Axioms tenant domain")
	cmd.Flags().StringVar(&f.clientID, "client-id", "", "OAuth client ID registered for the CLI")
	cmd.Flags().StringVar(&f.scope, "scope", "", "Scope requested at login (default \""+auth.DefaultScope+"\")")
	cmd.Flags().StringVar(&f.apiServer, "api-server", "", "Base URL of the protected API")
	cmd.Flags().StringVar(&f.caFile, "ca-file", "", "CA bundle for the tenant and API server")
	cmd.Flags().BoolVar(&f.insecure, "insecure-skip-tls-verify", false, "Skip TLS verification")
	cmd.Flags().BoolVar(&f.discovery, "discovery", false, "Discover endpoints from the tenant's OpenID configuration")
}

// apply copies only the flags the user set, so set-context can update one
// field of an existing context.
func (f *contextFlags) apply(cmd *cobra.Command, ctx *config.Context) {
	changed := cmd.Flags().Changed
	if changed("tenant") || ctx.Tenant == "" {
		ctx.Tenant = f.tenant
	}
	if changed("client-id") {
		ctx.ClientID = f.clientID
	}
	if changed("scope") {
		ctx.Scope = f.scope
	}
	if changed("api-server") {
		ctx.APIServer = f.apiServer
	}
	if changed("ca-file") {
		ctx.CAFile = f.caFile
	}
	if changed("insecure-skip-tls-verify") {
		ctx.InsecureSkipTLSVerify = f.insecure
	}
	if changed("discovery") {
		ctx.Discovery = f.discovery
	}
}

func newConfigInitCommand() *cobra.Command {
	var (
		contextName string
		force       bool
		flags       contextFlags
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize an ax config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			path := rt.configPathValue()
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("config already exists: %s", path)
				}
			}
			if contextName == "" {
				contextName = "default"
			}
			ctx := config.Context{Name: contextName}
			flags.apply(cmd, &ctx)
			cfg := config.DefaultConfig()
			cfg.CurrentContext = contextName
			cfg.Contexts = append(cfg.Contexts, ctx)
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(path, &cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Initialized config at %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&contextName, "name", "default", "Context name")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config")
	flags.register(cmd, config.DefaultTenant)
	_ = cmd.MarkFlagRequired("client-id")
	return cmd
}

func newConfigViewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Show the current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.requireConfigFile(); err != nil {
				return err
			}
			spec, err := output.ParseFormat(rt.OutputFormat())
			if err != nil {
				return err
			}
			if spec.Format == output.FormatTable {
				spec.Format = output.FormatYAML
			}
			return output.Write(rt.Writer(), spec, rt.cfg)
		},
	}
}

func newConfigContextsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get-contexts",
		Short: "List configured contexts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.requireConfigFile(); err != nil {
				return err
			}
			spec, err := output.ParseFormat(rt.OutputFormat())
			if err != nil {
				return err
			}
			if spec.Format != output.FormatTable {
				return output.Write(rt.Writer(), spec, rt.cfg.Contexts)
			}
			current := rt.cfg.CurrentContextOrDefault()
			tw := tabwriter.NewWriter(rt.Writer(), 2, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "CURRENT\tNAME\tTENANT\tCLIENT-ID\tAPI-SERVER")
			for _, ctx := range rt.cfg.Contexts {
				marker := ""
				if ctx.Name == current {
					marker = "*"
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", marker, ctx.Name, ctx.Tenant, ctx.ClientID, ctx.APIServer)
			}
			return tw.Flush()
		},
	}
}

func newConfigCurrentContextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "current-context",
		Short: "Show the current context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.requireConfigFile(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(rt.Writer(), rt.cfg.CurrentContextOrDefault())
			return nil
		},
	}
}

func newConfigUseContextCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "use-context NAME",
		Aliases: []string{"use"},
		Short:   "Set the default context",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.requireConfigFile(); err != nil {
				return err
			}
			name := args[0]
			if _, err := rt.cfg.FindContext(name); err != nil {
				return err
			}
			rt.cfg.CurrentContext = name
			if err := config.Save(rt.configPathValue(), rt.cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Switched to context %s\n", name)
			return nil
		},
	}
}

func newConfigSetContextCommand() *cobra.Command {
	var flags contextFlags
	cmd := &cobra.Command{
		Use:   "set-context NAME",
		Short: "Add a context or update fields of an existing one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.requireConfigFile(); err != nil {
				return err
			}
			ctx := config.Context{Name: args[0]}
			verb := "Added"
			if existing, err := rt.cfg.FindContext(args[0]); err == nil {
				ctx = *existing
				verb = "Updated"
			}
			flags.apply(cmd, &ctx)
			rt.cfg.UpsertContext(ctx)
			if err := rt.cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(rt.configPathValue(), rt.cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "%s context %s\n", verb, ctx.Name)
			return nil
		},
	}
	flags.register(cmd, config.DefaultTenant)
	return cmd
}

func newConfigDeleteContextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-context NAME",
		Short: "Delete a context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.requireConfigFile(); err != nil {
				return err
			}
			name := args[0]
			idx := -1
			for i := range rt.cfg.Contexts {
				if rt.cfg.Contexts[i].Name == name {
					idx = i
					break
				}
			}
			if idx < 0 {
				return fmt.Errorf("context not found: %s", name)
			}
			rt.cfg.Contexts = append(rt.cfg.Contexts[:idx], rt.cfg.Contexts[idx+1:]...)
			if rt.cfg.CurrentContext == name {
				rt.cfg.CurrentContext = ""
			}
			if err := config.Save(rt.configPathValue(), rt.cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Deleted context %s\n", name)
			return nil
		},
	}
}

func newConfigSetValueCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set a configuration value",
		Long: `Set one of: settings.output-format, settings.token-storage,
settings.timeout, settings.no-browser, settings.rate-limit.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.requireConfigFile(); err != nil {
				return err
			}
			key, value := args[0], args[1]
			switch key {
			case "settings.output-format":
				if _, err := output.ParseFormat(value); err != nil {
					return err
				}
				rt.cfg.Settings.OutputFormat = value
			case "settings.token-storage":
				if err := auth.ValidateStorageMode(value); err != nil {
					return err
				}
				rt.cfg.Settings.TokenStorage = value
			case "settings.timeout":
				rt.cfg.Settings.Timeout = value
			case "settings.no-browser":
				noBrowser, err := strconv.ParseBool(value)
				if err != nil {
					return fmt.Errorf("invalid boolean: %s", value)
				}
				rt.cfg.Settings.NoBrowser = noBrowser
			case "settings.rate-limit":
				rps, err := strconv.ParseFloat(value, 64)
				if err != nil {
					return fmt.Errorf("invalid rate limit: %s", value)
				}
				rt.cfg.Settings.RateLimit = rps
			default:
				return fmt.Errorf("unsupported key: %s", key)
			}
			if err := rt.cfg.Validate(); err != nil {
				return err
			}
			return config.Save(rt.configPathValue(), rt.cfg)
		},
	}
}

func (rt *runtimeState) requireConfigFile() error {
	if rt.configMissing || rt.cfg == nil {
		return errors.New("no config file found; run 'ax config init'")
	}
	return nil
}
