package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/axioms/ax/pkg/ax/auth"
	"github.com/axioms/ax/pkg/ax/config"
	"github.com/axioms/ax/pkg/metrics"
	"github.com/axioms/ax/pkg/system"
	"github.com/axioms/ax/pkg/telemetry"
	"github.com/axioms/ax/pkg/version"
)

type Config struct {
	ConfigPath     string
	TokenPath      string
	OutputWriter   io.Writer
	ErrWriter      io.Writer
	DefaultContext string
	// Clock and OpenBrowser replace the real ones in tests.
	Clock       auth.Clock
	OpenBrowser func(url string) error
}

type runtimeState struct {
	configPath           string
	tokenPath            string
	cfg                  *config.Config
	configMissing        bool
	contextOverride      string
	tenantOverride       string
	clientIDOverride     string
	apiServerOverride    string
	outputFormat         string
	tokenOverride        string
	tokenStorageOverride string
	metricsTextfile      string
	traceExporter        string
	traceEndpoint        string
	traceInsecure        bool
	traceShutdown        telemetry.ShutdownFunc
	commandSpan          trace.Span
	noBrowser            bool
	verbose              bool
	writer               io.Writer
	errWriter            io.Writer
	clock                auth.Clock
	openBrowser          func(url string) error
	log                  *zap.SugaredLogger
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		ConfigPath:   config.DefaultConfigPath(),
		TokenPath:    config.DefaultTokenPath(),
		OutputWriter: os.Stdout,
		ErrWriter:    os.Stderr,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{
		configPath:      cfg.ConfigPath,
		tokenPath:       cfg.TokenPath,
		contextOverride: cfg.DefaultContext,
		writer:          cfg.OutputWriter,
		errWriter:       cfg.ErrWriter,
		clock:           cfg.Clock,
		openBrowser:     cfg.OpenBrowser,
	}

	root := &cobra.Command{
		Use:           "ax",
		Short:         "Axioms CLI",
		Long:          "Manage your Axioms tenant from the terminal: sign in with the device flow and call protected APIs.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			rt.applyEnv()
			rt.log = nil
			rt.Logger()
			if err := auth.ValidateStorageMode(rt.tokenStorageOverride); err != nil {
				return err
			}
			if err := rt.startTracing(cmd); err != nil {
				return err
			}

			// Skip config loading for commands that don't need it
			if cmd.Name() == "init" && cmd.Parent() != nil && cmd.Parent().Name() == "config" {
				return nil
			}
			switch cmd.Name() {
			case "version", "completion", "info":
				return nil
			}
			return rt.loadConfig()
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file")
	root.PersistentFlags().StringVarP(&rt.contextOverride, "context", "c", rt.contextOverride, "Context name override")
	root.PersistentFlags().StringVar(&rt.tenantOverride, "tenant", "", "Axioms tenant domain, e.g. example.us.axioms.io")
	root.PersistentFlags().StringVar(&rt.clientIDOverride, "client-id", "", "OAuth client ID registered for the CLI")
	root.PersistentFlags().StringVar(&rt.apiServerOverride, "api-server", "", "Base URL of the protected API")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: table, json, yaml, template=...")
	root.PersistentFlags().StringVar(&rt.tokenOverride, "token", "", "Bearer token override")
	root.PersistentFlags().StringVar(&rt.tokenStorageOverride, "token-storage", "", "Token storage backend: keychain or file")
	root.PersistentFlags().StringVar(&rt.metricsTextfile, "metrics-textfile", "", "Write flow metrics to this file on exit")
	root.PersistentFlags().StringVar(&rt.traceExporter, "trace-exporter", "", "Trace exporter: otlp, stdout or none (default off)")
	root.PersistentFlags().StringVar(&rt.traceEndpoint, "trace-endpoint", "", "OTLP collector endpoint, e.g. localhost:4317")
	root.PersistentFlags().BoolVar(&rt.traceInsecure, "trace-insecure", false, "Disable TLS for the OTLP connection")
	root.PersistentFlags().BoolVar(&rt.noBrowser, "no-browser", false, "Do not open a browser")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Enable debug logging on stderr")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewInfoCommand(),
		NewLoginCommand(),
		NewRegisterCommand(),
		NewAuthCommand(),
		NewResourceCommand(),
		NewConfigCommand(),
		NewCompletionCommand(),
		NewVersionCommand(),
	)

	return root
}

// Execute runs the command line and returns the process exit code. Metrics
// are written even when the command fails so failed logins are counted.
func Execute(cfg Config, args []string) int {
	root := NewRootCommand(cfg)
	root.SetArgs(args)
	err := root.Execute()

	rt, rtErr := getRuntime(root)
	if rtErr == nil {
		rt.stopTracing(err)
		if metricsErr := rt.writeMetrics(); metricsErr != nil {
			_, _ = fmt.Fprintf(rt.ErrWriter(), "Warning: %v\n", metricsErr)
		}
	}
	if err != nil {
		w := cfg.ErrWriter
		if rtErr == nil {
			w = rt.ErrWriter()
		}
		if w == nil {
			w = os.Stderr
		}
		_, _ = fmt.Fprintf(w, "Error: %v\n", err)
		return 1
	}
	return 0
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) applyEnv() {
	if rt.configPath == "" {
		rt.configPath = config.DefaultConfigPath()
	}
	if rt.tokenPath == "" {
		rt.tokenPath = config.DefaultTokenPath()
	}
	if rt.contextOverride == "" {
		rt.contextOverride = os.Getenv("AX_CONTEXT")
	}
	if rt.tenantOverride == "" {
		rt.tenantOverride = os.Getenv("AX_TENANT")
	}
	if rt.clientIDOverride == "" {
		rt.clientIDOverride = os.Getenv("AX_CLIENT_ID")
	}
	if rt.traceExporter == "" {
		rt.traceExporter = os.Getenv("AX_TRACE_EXPORTER")
	}
	if rt.traceEndpoint == "" {
		rt.traceEndpoint = os.Getenv("AX_TRACE_ENDPOINT")
	}
	if rt.apiServerOverride == "" {
		rt.apiServerOverride = os.Getenv("AX_API_SERVER")
	}
	if rt.outputFormat == "" {
		rt.outputFormat = os.Getenv("AX_OUTPUT")
	}
	if rt.tokenOverride == "" {
		rt.tokenOverride = os.Getenv("AX_TOKEN")
	}
	if rt.tokenStorageOverride == "" {
		rt.tokenStorageOverride = os.Getenv("AX_TOKEN_STORAGE")
	}
	if !rt.noBrowser {
		rt.noBrowser = strings.EqualFold(os.Getenv("AX_NO_BROWSER"), "true")
	}
	if !rt.verbose {
		rt.verbose = strings.EqualFold(os.Getenv("AX_VERBOSE"), "true")
	}
}

// loadConfig reads the config file. A missing file is fine: every setting can
// come from flags or the environment instead.
func (rt *runtimeState) loadConfig() error {
	if rt.cfg != nil {
		return nil
	}
	cfg, err := config.Load(rt.configPathValue())
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		defaults := config.DefaultConfig()
		rt.cfg = &defaults
		rt.configMissing = true
		rt.log.Debugw("No config file, using flags and environment", "path", rt.configPathValue())
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", rt.configPathValue(), err)
	}
	rt.cfg = cfg
	return nil
}

func (rt *runtimeState) EnsureConfigLoaded() error {
	if rt.cfg != nil {
		return nil
	}
	cfg, err := config.Load(rt.configPathValue())
	if err != nil {
		return err
	}
	rt.cfg = cfg
	return nil
}

func (rt *runtimeState) ResolveContextName() string {
	if rt.contextOverride != "" {
		return rt.contextOverride
	}
	if rt.cfg != nil {
		return rt.cfg.CurrentContextOrDefault()
	}
	return ""
}

// ResolveContext returns the effective context: the configured one with any
// --tenant/--client-id/--api-server overrides applied on top.
func (rt *runtimeState) ResolveContext() (*config.Context, error) {
	var resolved config.Context
	if name := rt.ResolveContextName(); name != "" && rt.cfg != nil {
		found, err := rt.cfg.FindContext(name)
		if err != nil {
			return nil, err
		}
		resolved = *found
	}
	if rt.tenantOverride != "" {
		resolved.Tenant = rt.tenantOverride
	}
	if rt.clientIDOverride != "" {
		resolved.ClientID = rt.clientIDOverride
	}
	if rt.apiServerOverride != "" {
		resolved.APIServer = rt.apiServerOverride
	}
	if resolved.Tenant == "" || resolved.ClientID == "" {
		return nil, errors.New("no context configured; run 'ax config init' or pass --tenant and --client-id")
	}
	return &resolved, nil
}

// ResolveTenant is the tenant for commands that only open tenant pages.
func (rt *runtimeState) ResolveTenant() string {
	if rt.tenantOverride != "" {
		return rt.tenantOverride
	}
	if rt.cfg != nil {
		if ctx, err := rt.cfg.FindContext(rt.ResolveContextName()); err == nil && ctx.Tenant != "" {
			return ctx.Tenant
		}
	}
	return config.DefaultTenant
}

func (rt *runtimeState) OutputFormat() string {
	if rt.outputFormat != "" {
		return rt.outputFormat
	}
	if rt.cfg != nil && rt.cfg.Settings.OutputFormat != "" {
		return rt.cfg.Settings.OutputFormat
	}
	return "table"
}

func (rt *runtimeState) TokenStorage() string {
	if rt.tokenStorageOverride != "" {
		return rt.tokenStorageOverride
	}
	if rt.cfg != nil && rt.cfg.Settings.TokenStorage != "" {
		return rt.cfg.Settings.TokenStorage
	}
	return ""
}

func (rt *runtimeState) NoBrowser() bool {
	return rt.noBrowser || (rt.cfg != nil && rt.cfg.Settings.NoBrowser)
}

func (rt *runtimeState) TokenManager() *auth.TokenManager {
	return &auth.TokenManager{CachePath: rt.tokenPath, StorageMode: rt.TokenStorage()}
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func (rt *runtimeState) ErrWriter() io.Writer {
	if rt.errWriter != nil {
		return rt.errWriter
	}
	return os.Stderr
}

func (rt *runtimeState) Logger() *zap.SugaredLogger {
	if rt.log != nil {
		return rt.log
	}
	if rt.errWriter == nil {
		rt.log = system.NewLogger(rt.verbose)
	} else {
		rt.log = system.NewLoggerTo(rt.errWriter, rt.verbose)
	}
	return rt.log
}

func (rt *runtimeState) configPathValue() string {
	if rt.configPath == "" {
		return config.DefaultConfigPath()
	}
	return rt.configPath
}

// startTracing installs the tracer provider and opens a span covering the
// command. The span context is handed to RunE through the command context.
func (rt *runtimeState) startTracing(cmd *cobra.Command) error {
	_, shutdown, err := telemetry.Init(cmd.Context(), telemetry.Options{
		Exporter:       rt.traceExporter,
		Endpoint:       rt.traceEndpoint,
		Insecure:       rt.traceInsecure,
		Writer:         rt.ErrWriter(),
		ServiceVersion: version.Version,
		Logger:         rt.Logger(),
	})
	if err != nil {
		return err
	}
	rt.traceShutdown = shutdown
	ctx, span := otel.Tracer("github.com/axioms/ax/pkg/ax/cmd").Start(cmd.Context(), "ax "+cmd.Name())
	rt.commandSpan = span
	cmd.SetContext(ctx)
	return nil
}

func (rt *runtimeState) stopTracing(err error) {
	if rt.commandSpan != nil {
		if err != nil {
			rt.commandSpan.RecordError(err)
			rt.commandSpan.SetStatus(codes.Error, err.Error())
		}
		rt.commandSpan.End()
	}
	if rt.traceShutdown != nil {
		if shutdownErr := rt.traceShutdown(context.Background()); shutdownErr != nil {
			rt.Logger().Debugw("Trace shutdown failed", "error", shutdownErr)
		}
	}
}

func (rt *runtimeState) writeMetrics() error {
	if rt.metricsTextfile == "" {
		return nil
	}
	if err := metrics.WriteTextfile(rt.metricsTextfile); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}

// tokenKey identifies the stored token for a context. Ad-hoc contexts built
// from flags are keyed by tenant.
func tokenKey(ctx *config.Context) string {
	if ctx == nil {
		return "default"
	}
	if ctx.Name != "" {
		return ctx.Name
	}
	return "tenant:" + ctx.Tenant
}
