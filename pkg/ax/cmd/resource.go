package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/axioms/ax/pkg/ax/client"
	"github.com/axioms/ax/pkg/ax/config"
	"github.com/axioms/ax/pkg/ax/output"
)

type resourceView struct {
	Resource   string `json:"resource"`
	Method     string `json:"method"`
	StatusCode int    `json:"statusCode"`
	RequestID  string `json:"requestId"`
	Duration   string `json:"duration"`
	Body       any    `json:"body,omitempty"`
}

func NewResourceCommand() *cobra.Command {
	var (
		method   string
		data     string
		dataFile string
		field    string
	)
	names := make([]string, 0, len(client.Resources))
	for _, r := range client.Resources {
		names = append(names, string(r))
	}

	cmd := &cobra.Command{
		Use:   "resource {" + strings.Join(names, "|") + "}",
		Short: "Call a resource on the API server",
		Long: `Send a request to one of the API server's sample resources. Every
resource except public is sent with the stored bearer token.`,
		Example: `  ax resource public
  ax resource private --method POST --data '{"name":"demo"}'
  ax resource role --field roles.0`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			resource, err := client.ParseResource(args[0])
			if err != nil {
				return err
			}
			spec, err := output.ParseFormat(rt.OutputFormat())
			if err != nil {
				return err
			}
			body, err := requestBody(data, dataFile)
			if err != nil {
				return err
			}
			c, err := rt.resourceClient(resource.RequiresToken())
			if err != nil {
				return err
			}
			resp, err := c.Do(cmd.Context(), client.Request{Resource: resource, Method: method, Body: body})
			if err != nil {
				return err
			}

			if field != "" {
				return writeField(rt.Writer(), resp.Body, field)
			}

			view := resourceView{
				Resource:   string(resp.Resource),
				Method:     resp.Method,
				StatusCode: resp.StatusCode,
				RequestID:  resp.RequestID,
				Duration:   resp.Duration.String(),
			}
			if len(resp.Body) > 0 {
				var decoded any
				if err := json.Unmarshal(resp.Body, &decoded); err == nil {
					view.Body = decoded
				}
			}
			if spec.Format != output.FormatTable {
				return output.Write(rt.Writer(), spec, view)
			}
			_, _ = fmt.Fprintf(rt.Writer(), "%s /%s %d (%s)\n", view.Method, view.Resource, view.StatusCode, view.Duration)
			if view.Body != nil {
				return output.WriteObject(rt.Writer(), output.FormatJSON, view.Body)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&method, "method", "X", "GET", "HTTP method: GET, POST, PATCH or DELETE")
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body for POST and PATCH")
	cmd.Flags().StringVar(&dataFile, "data-file", "", "Read the JSON request body from a file")
	cmd.Flags().StringVar(&field, "field", "", "Print only this path of the response body, e.g. roles.0.name")
	return cmd
}

// writeField prints one value selected by a gjson path. Strings are printed
// unquoted so the output can be used in shell scripts.
func writeField(w io.Writer, body json.RawMessage, path string) error {
	result := gjson.GetBytes(body, path)
	if !result.Exists() {
		return fmt.Errorf("field %q not found in response", path)
	}
	value := result.Raw
	if result.Type == gjson.String {
		value = result.Str
	}
	_, err := fmt.Fprintln(w, value)
	return err
}

func requestBody(data, dataFile string) (json.RawMessage, error) {
	if data != "" && dataFile != "" {
		return nil, errors.New("use either --data or --data-file")
	}
	if dataFile != "" {
		content, err := os.ReadFile(dataFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read data file: %w", err)
		}
		data = string(content)
	}
	if strings.TrimSpace(data) == "" {
		return nil, nil
	}
	if !json.Valid([]byte(data)) {
		return nil, errors.New("request body must be valid JSON")
	}
	return json.RawMessage(data), nil
}

// resourceClient builds the API client for the current context. The token is
// only looked up when the resource needs one.
func (rt *runtimeState) resourceClient(needsToken bool) (*client.Client, error) {
	ctxCfg, err := rt.ResolveContext()
	if err != nil {
		// Public calls and --token calls work without a login context.
		if needsToken && rt.tokenOverride == "" {
			return nil, err
		}
		ctxCfg = &config.Context{APIServer: rt.apiServerOverride}
	}
	if ctxCfg.APIServer == "" {
		return nil, errors.New("no api server configured; set api-server on the context or pass --api-server")
	}
	opts := []client.Option{
		client.WithServer(ctxCfg.APIServer),
		client.WithTLSConfig(ctxCfg.CAFile, ctxCfg.InsecureSkipTLSVerify),
		client.WithLogger(rt.Logger()),
	}
	if rt.cfg != nil {
		timeout, err := rt.cfg.RequestTimeout()
		if err != nil {
			return nil, err
		}
		if timeout > 0 {
			opts = append(opts, client.WithTimeout(timeout))
		}
		if rt.cfg.Settings.RateLimit > 0 {
			opts = append(opts, client.WithRateLimit(rt.cfg.Settings.RateLimit, 1))
		}
	}
	if needsToken {
		token, err := rt.resolveToken()
		if err != nil {
			return nil, err
		}
		if token != nil {
			opts = append(opts, client.WithToken(token.AccessToken, token.TokenType))
		}
	}
	return client.New(opts...)
}
