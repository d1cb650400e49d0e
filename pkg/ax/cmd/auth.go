package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/axioms/ax/pkg/ax/auth"
	"github.com/axioms/ax/pkg/ax/config"
	"github.com/axioms/ax/pkg/ax/output"
	"github.com/axioms/ax/pkg/system"
)

// userError carries the one-line message shown for a failed login while
// keeping the typed error reachable for errors.Is.
type userError struct {
	msg string
	err error
}

func (e *userError) Error() string { return e.msg }
func (e *userError) Unwrap() error { return e.err }

func NewAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authenticate with your Axioms tenant",
	}
	cmd.AddCommand(
		NewLoginCommand(),
		newAuthStatusCommand(),
		newAuthLogoutCommand(),
		newAuthTokenCommand(),
	)
	return cmd
}

func NewLoginCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Login with the device authorization flow",
		Long: `Request a one-time code from the tenant, show it together with the
verification URL and wait until the login is approved in a browser.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			ctxCfg, err := rt.ResolveContext()
			if err != nil {
				return err
			}
			authCfg, err := rt.authConfig(ctxCfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if ctxCfg.Discovery {
				authCfg, err = auth.Discover(ctx, authCfg)
				if err != nil {
					return &userError{msg: auth.UserMessage(err), err: err}
				}
			}

			opts := []auth.Option{auth.WithLogger(rt.Logger())}
			if rt.clock != nil {
				opts = append(opts, auth.WithClock(rt.clock))
			}
			authorizer, err := auth.NewDeviceAuthorizer(authCfg, opts...)
			if err != nil {
				return err
			}
			poller, err := auth.NewTokenPoller(authCfg, opts...)
			if err != nil {
				return err
			}

			session, err := authorizer.RequestDeviceCode(ctx)
			if err != nil {
				return loginError(err)
			}
			rt.presentSession(session)

			outcome, err := poller.Poll(ctx, session)
			if err != nil {
				return loginError(err)
			}
			if !outcome.Granted() {
				return loginError(outcome.Err())
			}

			stored, err := auth.StoredTokenFromOutcome(outcome, ctxCfg.Tenant)
			if err != nil {
				return err
			}
			if err := rt.TokenManager().SaveToken(tokenKey(ctxCfg), stored); err != nil {
				return fmt.Errorf("login succeeded but the token could not be saved: %w", err)
			}
			rt.Logger().Debugw("Saved token", "key", tokenKey(ctxCfg), "storage", rt.TokenStorage(),
				"token", system.MaskSecret(stored.AccessToken), "attempts", outcome.Attempts)

			who := ""
			if id, idErr := stored.Identity(); idErr == nil && id.Display() != "" {
				who = " as " + id.Display()
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Authenticated%s.", who)
			if !stored.Expiry.IsZero() {
				_, _ = fmt.Fprintf(rt.Writer(), " Token expires at %s", stored.Expiry.UTC().Format(time.RFC3339))
			}
			_, _ = fmt.Fprintln(rt.Writer())
			return nil
		},
	}
}

func loginError(err error) error {
	if errors.Is(err, context.Canceled) {
		return &userError{msg: "Login cancelled.", err: err}
	}
	return &userError{msg: auth.UserMessage(err), err: err}
}

func (rt *runtimeState) authConfig(ctxCfg *config.Context) (auth.Config, error) {
	cfg := auth.Config{
		Tenant:          ctxCfg.Tenant,
		ClientID:        ctxCfg.ClientID,
		Scope:           ctxCfg.Scope,
		CAFile:          ctxCfg.CAFile,
		InsecureSkipTLS: ctxCfg.InsecureSkipTLSVerify,
	}
	if rt.cfg != nil {
		timeout, err := rt.cfg.RequestTimeout()
		if err != nil {
			return auth.Config{}, err
		}
		cfg.RequestTimeout = timeout
	}
	return cfg, cfg.Validate()
}

// presentSession shows the user code and verification URLs. The device code
// itself is never printed.
func (rt *runtimeState) presentSession(session *auth.DeviceSession) {
	p := session.Presentation()
	w := rt.Writer()
	_, _ = fmt.Fprintf(w, "To sign in, open %s and enter the code %s\n", p.VerificationURI, p.UserCode)
	_, _ = fmt.Fprintf(w, "Or open this link directly: %s\n", p.VerificationURIComplete)
	if !rt.NoBrowser() {
		if err := rt.browser()(p.VerificationURIComplete); err != nil {
			rt.Logger().Debugw("Could not open browser", "error", err)
		}
	}
	_, _ = fmt.Fprintf(w, "Waiting for approval (code expires at %s)...\n", session.Deadline().Local().Format(time.Kitchen))
}

type authStatus struct {
	Context       string    `json:"context"`
	Tenant        string    `json:"tenant"`
	Authenticated bool      `json:"authenticated"`
	User          string    `json:"user,omitempty"`
	Subject       string    `json:"subject,omitempty"`
	Issuer        string    `json:"issuer,omitempty"`
	Scope         string    `json:"scope,omitempty"`
	Expiry        time.Time `json:"expiry,omitempty"`
	Expired       bool      `json:"expired"`
}

func newAuthStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			ctxCfg, err := rt.ResolveContext()
			if err != nil {
				return err
			}
			spec, err := output.ParseFormat(rt.OutputFormat())
			if err != nil {
				return err
			}
			token, ok, err := rt.TokenManager().GetToken(tokenKey(ctxCfg))
			if err != nil {
				return err
			}
			status := authStatus{Context: ctxCfg.Name, Tenant: ctxCfg.Tenant, Authenticated: ok}
			if ok {
				status.Scope = token.Scope
				status.Expiry = token.Expiry
				status.Expired = token.Expired(rt.now())
				if id, idErr := token.Identity(); idErr == nil {
					status.User = id.Display()
					status.Subject = id.Subject
					status.Issuer = id.Issuer
					if status.Expiry.IsZero() {
						status.Expiry = id.ExpiresAt
						status.Expired = !id.ExpiresAt.IsZero() && !rt.now().Before(id.ExpiresAt)
					}
				}
			}

			if spec.Format != output.FormatTable {
				return output.Write(rt.Writer(), spec, status)
			}
			if !status.Authenticated {
				_, _ = fmt.Fprintln(rt.Writer(), "Not authenticated. Run 'ax login'.")
				return nil
			}
			expiry := ""
			if !status.Expiry.IsZero() {
				expiry = status.Expiry.UTC().Format(time.RFC3339)
				if status.Expired {
					expiry += " (expired)"
				}
			}
			output.WriteDetailTable(rt.Writer(), []output.Row{
				{Key: "Context", Value: status.Context},
				{Key: "Tenant", Value: status.Tenant},
				{Key: "User", Value: status.User},
				{Key: "Subject", Value: status.Subject},
				{Key: "Scope", Value: status.Scope},
				{Key: "Expires", Value: expiry},
			})
			return nil
		},
	}
}

func newAuthLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			ctxCfg, err := rt.ResolveContext()
			if err != nil {
				return err
			}
			if err := rt.TokenManager().DeleteToken(tokenKey(ctxCfg)); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(rt.Writer(), "Logged out")
			return nil
		},
	}
}

func newAuthTokenCommand() *cobra.Command {
	var header bool
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print the stored access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			token, err := rt.resolveToken()
			if err != nil {
				return err
			}
			if token == nil {
				return errors.New("not authenticated; run 'ax login'")
			}
			if header {
				_, _ = fmt.Fprintf(rt.Writer(), "Authorization: %s\n", token.AuthorizationHeader())
				return nil
			}
			_, _ = fmt.Fprintln(rt.Writer(), token.AccessToken)
			return nil
		},
	}
	cmd.Flags().BoolVar(&header, "header", false, "Print a complete Authorization header")
	return cmd
}

// resolveToken returns the --token override or the stored token for the
// current context. A nil token without error means nobody is logged in.
func (rt *runtimeState) resolveToken() (*auth.StoredToken, error) {
	if rt.tokenOverride != "" {
		return &auth.StoredToken{AccessToken: rt.tokenOverride, TokenType: "Bearer"}, nil
	}
	ctxCfg, err := rt.ResolveContext()
	if err != nil {
		return nil, err
	}
	token, ok, err := rt.TokenManager().GetToken(tokenKey(ctxCfg))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if token.Expired(rt.now()) {
		return nil, errors.New("stored token expired; run 'ax login'")
	}
	return &token, nil
}

func (rt *runtimeState) now() time.Time {
	if rt.clock != nil {
		return rt.clock.Now()
	}
	return time.Now()
}
