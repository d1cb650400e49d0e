package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

type StoredToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	Tenant       string    `json:"tenant,omitempty"`
	ObtainedAt   time.Time `json:"obtained_at,omitempty"`
}

// StoredTokenFromOutcome converts a granted poll outcome into the form kept
// on disk or in the keychain.
func StoredTokenFromOutcome(outcome *PollOutcome, tenant string) (StoredToken, error) {
	if !outcome.Granted() {
		return StoredToken{}, errors.New("only granted outcomes carry a token")
	}
	token := outcome.Token()
	return StoredToken{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
		IDToken:      outcome.IDToken,
		Scope:        outcome.Scope,
		Tenant:       tenant,
		ObtainedAt:   outcome.GrantedAt,
	}, nil
}

func (t StoredToken) Expired(now time.Time) bool {
	return !t.Expiry.IsZero() && !now.Before(t.Expiry)
}

// AuthorizationHeader renders the token for an Authorization header. Servers
// that answer with a lowercase "bearer" type still get the canonical scheme.
func (t StoredToken) AuthorizationHeader() string {
	tokenType := t.TokenType
	if tokenType == "" || strings.EqualFold(tokenType, "bearer") {
		tokenType = "Bearer"
	}
	return tokenType + " " + t.AccessToken
}

// Identity is what ax can tell about the logged-in user from the token
// claims. The claims are not verified; they are only displayed.
type Identity struct {
	Subject   string    `json:"subject,omitempty"`
	Email     string    `json:"email,omitempty"`
	Username  string    `json:"username,omitempty"`
	Issuer    string    `json:"issuer,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

func (i Identity) Display() string {
	switch {
	case i.Email != "":
		return i.Email
	case i.Username != "":
		return i.Username
	default:
		return i.Subject
	}
}

// Identity parses the ID token, or the access token when no ID token was
// issued. Opaque access tokens yield an error.
func (t StoredToken) Identity() (Identity, error) {
	raw := t.IDToken
	if raw == "" {
		raw = t.AccessToken
	}
	if raw == "" {
		return Identity{}, errors.New("no token stored")
	}
	claims := jwt.MapClaims{}
	parser := jwt.Parser{}
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return Identity{}, fmt.Errorf("token is not a JWT: %w", err)
	}
	id := Identity{}
	id.Subject, _ = claims["sub"].(string)
	id.Email, _ = claims["email"].(string)
	id.Username, _ = claims["preferred_username"].(string)
	id.Issuer, _ = claims["iss"].(string)
	if exp, ok := claims["exp"].(float64); ok {
		id.ExpiresAt = time.Unix(int64(exp), 0).UTC()
	}
	return id, nil
}

type TokenCache struct {
	Tokens map[string]StoredToken `json:"tokens"`
}

func LoadTokenCache(path string) (*TokenCache, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cache TokenCache
	if err := json.Unmarshal(content, &cache); err != nil {
		return nil, fmt.Errorf("failed to parse token cache: %w", err)
	}
	if cache.Tokens == nil {
		cache.Tokens = map[string]StoredToken{}
	}
	return &cache, nil
}

func SaveTokenCache(path string, cache *TokenCache) error {
	if cache == nil {
		return errors.New("token cache is nil")
	}
	if cache.Tokens == nil {
		cache.Tokens = map[string]StoredToken{}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create token dir: %w", err)
	}
	content, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token cache: %w", err)
	}
	return os.WriteFile(path, content, 0o600)
}
