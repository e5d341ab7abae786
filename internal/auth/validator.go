// Package auth provides the default implementation behind the HTTP
// transport's token-validator hook: JWT bearer tokens checked against an
// algorithm whitelist and a pluggable key source, grounded on the
// validator in the JamesPrial-mcp-oauth-2.1 example. The OAuth 2.1
// authorization flow itself (token issuance, PKCE, consent) is out of
// scope; this package only validates a token presented to the HTTP
// transport.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Validator is the hook the HTTP transport calls on every inbound
// request that requires auth. A nil Validator on the transport means
// auth is disabled.
type Validator interface {
	Validate(ctx context.Context, bearerToken string) (*Claims, error)
}

// KeySource resolves a JWT key id to its verification key. Production
// deployments back this with a JWKS client; tests back it with a static
// map.
type KeySource interface {
	GetKey(ctx context.Context, keyID string) (any, error)
}

// Claims is the subset of JWT claims the MCP HTTP transport cares about.
type Claims struct {
	Subject   string
	Issuer    string
	Audience  []string
	Scopes    []string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// HasScope reports whether the token carries scope.
func (c *Claims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// allowedAlgorithms whitelists signing algorithms to prevent algorithm
// confusion attacks (an attacker presenting "none" or an HMAC-signed
// token using a public RSA key as the HMAC secret).
var allowedAlgorithms = map[string]bool{
	"RS256": true,
	"RS384": true,
	"RS512": true,
	"ES256": true,
	"ES384": true,
	"ES512": true,
}

// JWTValidator is the default Validator implementation: RS*/ES*-signed
// JWT bearer tokens, verified against keys from a KeySource and checked
// for audience and a configurable clock skew leeway.
type JWTValidator struct {
	keys      KeySource
	audience  string
	clockSkew time.Duration
}

// NewJWTValidator builds a JWTValidator.
func NewJWTValidator(keys KeySource, audience string, clockSkew time.Duration) *JWTValidator {
	return &JWTValidator{keys: keys, audience: audience, clockSkew: clockSkew}
}

// Validate parses and verifies bearerToken, enforcing the algorithm
// whitelist, signature, expiry (with clock skew leeway), and audience.
func (v *JWTValidator) Validate(ctx context.Context, bearerToken string) (*Claims, error) {
	unverified, _, err := jwt.NewParser(jwt.WithoutClaimsValidation()).ParseUnverified(bearerToken, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("auth: parse token: %w", err)
	}

	alg, _ := unverified.Header["alg"].(string)
	if alg == "" || !allowedAlgorithms[alg] {
		return nil, fmt.Errorf("auth: unsupported signing algorithm %q", alg)
	}

	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("auth: token missing kid header")
	}

	key, err := v.keys.GetKey(ctx, kid)
	if err != nil {
		return nil, fmt.Errorf("auth: resolve key %s: %w", kid, err)
	}

	verified, err := jwt.Parse(bearerToken, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != alg {
			return nil, fmt.Errorf("auth: algorithm mismatch: %s", t.Method.Alg())
		}
		return key, nil
	}, jwt.WithLeeway(v.clockSkew))
	if err != nil {
		return nil, fmt.Errorf("auth: verify token: %w", err)
	}
	if !verified.Valid {
		return nil, fmt.Errorf("auth: token is invalid")
	}

	mapClaims, ok := verified.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("auth: unexpected claims type")
	}

	claims, err := extractClaims(mapClaims)
	if err != nil {
		return nil, err
	}
	if v.audience != "" && !containsString(claims.Audience, v.audience) {
		return nil, fmt.Errorf("auth: token audience does not include %q", v.audience)
	}
	return claims, nil
}

func extractClaims(mapClaims jwt.MapClaims) (*Claims, error) {
	sub, err := mapClaims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("auth: missing sub claim")
	}
	iss, err := mapClaims.GetIssuer()
	if err != nil || iss == "" {
		return nil, fmt.Errorf("auth: missing iss claim")
	}
	aud, err := mapClaims.GetAudience()
	if err != nil || len(aud) == 0 {
		return nil, fmt.Errorf("auth: missing aud claim")
	}
	exp, err := mapClaims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fmt.Errorf("auth: missing exp claim")
	}

	claims := &Claims{Subject: sub, Issuer: iss, Audience: aud, ExpiresAt: exp.Time}
	if iat, err := mapClaims.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}
	if scope, ok := mapClaims["scope"].(string); ok {
		claims.Scopes = parseScopes(scope)
	}
	return claims, nil
}

func parseScopes(scope string) []string {
	if scope == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(scope, " ") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// StaticKeySource is a KeySource backed by a fixed map of key id to key,
// used for tests and for deployments that rotate keys out-of-band rather
// than via a JWKS endpoint.
type StaticKeySource map[string]any

func (s StaticKeySource) GetKey(_ context.Context, keyID string) (any, error) {
	key, ok := s[keyID]
	if !ok {
		return nil, fmt.Errorf("auth: unknown key id %q", keyID)
	}
	return key, nil
}
