package tenant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Sentinel errors for tenant resolution.
var (
	ErrMissingToken  = errors.New("tenant: missing token")
	ErrTokenExpired  = errors.New("tenant: token expired")
	ErrInvalidToken  = errors.New("tenant: invalid token")
	ErrMissingClaim  = errors.New("tenant: tenant claim missing")
	ErrMissingSecret = errors.New("tenant: no signing secret or jwks url configured")
)

// ResolverConfig configures token validation.
type ResolverConfig struct {
	// Secret verifies HS256 tokens (the legacy Supabase JWT secret).
	Secret []byte

	// JWKSURL verifies RS256 and ES256 tokens against published keys.
	// At least one of Secret and JWKSURL is required.
	JWKSURL      string
	JWKSCacheTTL time.Duration
	HTTPClient   *http.Client

	// Claim holds the tenant id.
	// Default: "sub"
	Claim string

	// Issuer and Audience are checked when set.
	Issuer   string
	Audience string
}

// Resolver extracts tenant ids from signed access tokens.
type Resolver struct {
	config ResolverConfig
	jwks   *JWKS
	parser *jwt.Parser
}

// NewResolver creates a Resolver.
func NewResolver(config ResolverConfig) (*Resolver, error) {
	if len(config.Secret) == 0 && config.JWKSURL == "" {
		return nil, ErrMissingSecret
	}
	if config.Claim == "" {
		config.Claim = "sub"
	}

	r := &Resolver{config: config}
	var methods []string
	if len(config.Secret) > 0 {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	if config.JWKSURL != "" {
		r.jwks = NewJWKS(config.JWKSURL, config.JWKSCacheTTL, config.HTTPClient)
		methods = append(methods, jwt.SigningMethodRS256.Alg(), jwt.SigningMethodES256.Alg())
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		opts = append(opts, jwt.WithAudience(config.Audience))
	}
	r.parser = jwt.NewParser(opts...)
	return r, nil
}

// Resolve validates token and returns its tenant id. A "Bearer " prefix is
// accepted. ctx bounds any key fetch.
func (r *Resolver) Resolve(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return "", ErrMissingToken
	}

	claims := jwt.MapClaims{}
	_, err := r.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); ok {
			return r.config.Secret, nil
		}
		kid, _ := t.Header["kid"].(string)
		return r.jwks.Key(ctx, kid)
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", ErrTokenExpired
	case err != nil:
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	id, ok := claims[r.config.Claim].(string)
	if !ok || id == "" {
		return "", fmt.Errorf("%w: %q", ErrMissingClaim, r.config.Claim)
	}
	return id, nil
}

// Context resolves token and returns ctx scoped to its tenant.
func (r *Resolver) Context(ctx context.Context, token string) (context.Context, error) {
	id, err := r.Resolve(ctx, token)
	if err != nil {
		return ctx, err
	}
	return WithID(ctx, id), nil
}
