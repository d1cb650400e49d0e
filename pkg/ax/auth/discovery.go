package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

type providerEndpoints struct {
	DeviceAuthorizationEndpoint string `json:"device_authorization_endpoint"`
	TokenEndpoint               string `json:"token_endpoint"`
}

// Discover resolves the device and token endpoints from the tenant's OpenID
// configuration. Endpoints already set on cfg win; anything the provider does
// not advertise falls back to the fixed /oauth2 paths.
func Discover(ctx context.Context, cfg Config) (Config, error) {
	issuer, err := TenantURL(cfg.Tenant)
	if err != nil {
		return cfg, err
	}
	client, err := NewHTTPClient(cfg)
	if err != nil {
		return cfg, err
	}
	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, client.GetClient()), issuer)
	if err != nil {
		return cfg, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	var endpoints providerEndpoints
	if err := provider.Claims(&endpoints); err != nil {
		return cfg, fmt.Errorf("failed to read provider metadata: %w", err)
	}
	if cfg.DeviceEndpoint == "" {
		cfg.DeviceEndpoint = endpoints.DeviceAuthorizationEndpoint
	}
	if cfg.TokenEndpoint == "" {
		cfg.TokenEndpoint = endpoints.TokenEndpoint
	}
	return cfg, nil
}
