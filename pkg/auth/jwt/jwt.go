// Package jwt authenticates bearer tokens signed either with an RSA key
// published through a JWKS endpoint or with a shared HMAC secret.
//
// Claims map onto the caller identity: the subject claim names the
// caller, an optional owner claim scopes stored projects, and an optional
// tier claim selects the rate limit tier.
package jwt

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/rhuss/polyrun/pkg/auth"
	"github.com/rhuss/polyrun/pkg/debug"
)

// Config holds the JWT authenticator configuration.
type Config struct {
	// Issuer and Audience are validated when non-empty.
	Issuer   string
	Audience string

	// JWKSURL serves the RSA verification keys.
	JWKSURL string

	// Secret selects HMAC verification and takes precedence over JWKSURL.
	Secret []byte

	// Claim names. Defaults: "sub", "owner", "tier", "scope".
	UserClaim   string
	OwnerClaim  string
	TierClaim   string
	ScopesClaim string

	// CacheTTL bounds how long fetched JWKS keys are trusted. Default: 1h.
	CacheTTL time.Duration

	HTTPClient *http.Client
}

func (c Config) withDefaults() Config {
	if c.UserClaim == "" {
		c.UserClaim = "sub"
	}
	if c.OwnerClaim == "" {
		c.OwnerClaim = "owner"
	}
	if c.TierClaim == "" {
		c.TierClaim = "tier"
	}
	if c.ScopesClaim == "" {
		c.ScopesClaim = "scope"
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	return c
}

// keySource resolves the verification key for a parsed token.
type keySource interface {
	methods() []string
	key(ctx context.Context, token *jwtlib.Token) (any, error)
}

// Authenticator validates JWT bearer tokens.
type Authenticator struct {
	cfg  Config
	keys keySource
}

var _ auth.Authenticator = (*Authenticator)(nil)

// New creates a JWT authenticator.
func New(cfg Config) *Authenticator {
	cfg = cfg.withDefaults()
	var keys keySource
	if len(cfg.Secret) > 0 {
		keys = hmacKey(cfg.Secret)
	} else {
		keys = &jwksCache{
			url:    cfg.JWKSURL,
			ttl:    cfg.CacheTTL,
			client: cfg.HTTPClient,
			keys:   make(map[string]*rsa.PublicKey),
		}
	}
	return &Authenticator{cfg: cfg, keys: keys}
}

// Authenticate abstains when the request carries no bearer token, and
// rejects tokens that fail signature, expiry, issuer, audience or subject
// checks.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) auth.AuthResult {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return auth.AuthResult{Decision: auth.Abstain}
	}
	if raw == "" {
		return auth.AuthResult{Decision: auth.No, Err: errors.New("empty bearer token")}
	}

	opts := []jwtlib.ParserOption{jwtlib.WithValidMethods(a.keys.methods())}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(a.cfg.Audience))
	}

	claims := jwtlib.MapClaims{}
	_, err := jwtlib.ParseWithClaims(raw, claims, func(t *jwtlib.Token) (any, error) {
		return a.keys.key(ctx, t)
	}, opts...)
	if err != nil {
		debug.Log("auth", "jwt rejected", "error", err)
		return auth.AuthResult{Decision: auth.No, Err: fmt.Errorf("invalid JWT: %w", err)}
	}

	return a.identity(claims)
}

func (a *Authenticator) identity(claims jwtlib.MapClaims) auth.AuthResult {
	subject, _ := claims[a.cfg.UserClaim].(string)
	if subject == "" {
		return auth.AuthResult{Decision: auth.No, Err: fmt.Errorf("JWT missing %q claim", a.cfg.UserClaim)}
	}

	id := &auth.Identity{
		Subject:  subject,
		Scopes:   scopes(claims[a.cfg.ScopesClaim]),
		Metadata: map[string]string{},
	}
	id.ServiceTier, _ = claims[a.cfg.TierClaim].(string)
	if owner, _ := claims[a.cfg.OwnerClaim].(string); owner != "" {
		id.Metadata["owner"] = owner
	}
	return auth.AuthResult{Decision: auth.Yes, Identity: id}
}

// scopes accepts a space-separated string or a JSON array of strings.
func scopes(v any) []string {
	var out []string
	switch s := v.(type) {
	case string:
		out = strings.Fields(s)
	case []any:
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

type hmacKey []byte

func (hmacKey) methods() []string { return []string{"HS256", "HS384", "HS512"} }

func (k hmacKey) key(context.Context, *jwtlib.Token) (any, error) {
	return []byte(k), nil
}

// jwksCache holds RSA keys by kid and refetches the key set when a kid is
// unknown or the cache has expired.
type jwksCache struct {
	url    string
	ttl    time.Duration
	client *http.Client

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func (*jwksCache) methods() []string { return []string{"RS256", "RS384", "RS512"} }

func (c *jwksCache) key(ctx context.Context, token *jwtlib.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("token missing kid header")
	}

	if k := c.cached(kid); k != nil {
		return k, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if k, ok := c.keys[kid]; ok && time.Since(c.fetchedAt) < c.ttl {
		return k, nil
	}
	keys, err := c.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching JWKS key for kid %q: %w", kid, err)
	}
	c.keys = keys
	c.fetchedAt = time.Now()

	k, ok := keys[kid]
	if !ok {
		return nil, fmt.Errorf("key %q not found in JWKS", kid)
	}
	return k, nil
}

func (c *jwksCache) cached(kid string) *rsa.PublicKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if time.Since(c.fetchedAt) >= c.ttl {
		return nil
	}
	return c.keys[kid]
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (c *jwksCache) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := k.rsaPublicKey()
		if err != nil {
			slog.Warn("skipping JWKS key", "kid", k.Kid, "error", err)
			continue
		}
		keys[k.Kid] = pub
	}
	debug.Log("auth", "jwks refreshed", "url", c.url, "keys", len(keys))
	return keys, nil
}

func (k jwk) rsaPublicKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() {
		return nil, errors.New("RSA exponent too large")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}
