package api

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

const (
	defaultJWKSCacheTTL = 15 * time.Minute
	envAuth0TestMode    = "AUTH0_TEST_MODE"
	envTestJWTSecret    = "TEST_JWT_SECRET"
	envJWKSCacheTTL     = "JWKS_CACHE_TTL"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
	errNoKeySource          = errors.New("jwks not configured")
)

// AuthConfig configures administrator token verification. A non-empty
// SharedSecret selects HS256; otherwise tokens are RS256 signed by a key in
// JWKS.
type AuthConfig struct {
	JWKS         *keyfunc.JWKS
	Audience     string
	Issuer       string
	SharedSecret []byte
	// KeyCacheTTL bounds how long a JWKS key is reused per kid. Zero disables
	// the cache.
	KeyCacheTTL time.Duration
}

// TestMode reports whether tokens are verified with the shared secret.
func (c AuthConfig) TestMode() bool { return len(c.SharedSecret) > 0 }

// AuthConfigFromEnv reads AUTH0_TEST_MODE, TEST_JWT_SECRET and
// JWKS_CACHE_TTL. The caller fills in JWKS, Audience and Issuer.
func AuthConfigFromEnv() (AuthConfig, error) {
	cfg := AuthConfig{KeyCacheTTL: defaultJWKSCacheTTL}
	if raw := os.Getenv(envJWKSCacheTTL); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil || ttl <= 0 {
			return AuthConfig{}, fmt.Errorf("invalid %s %q", envJWKSCacheTTL, raw)
		}
		cfg.KeyCacheTTL = ttl
	}
	if os.Getenv(envAuth0TestMode) == "1" {
		secret := os.Getenv(envTestJWTSecret)
		if secret == "" {
			return AuthConfig{}, fmt.Errorf("%s must be set when %s=1", envTestJWTSecret, envAuth0TestMode)
		}
		cfg.SharedSecret = []byte(secret)
	}
	return cfg, nil
}

type keySource interface {
	key(token *jwt.Token) (any, error)
}

type sharedSecret []byte

func (s sharedSecret) key(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, errors.New("invalid signing method")
	}
	return []byte(s), nil
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// jwksKeys resolves keys by kid and remembers them for ttl.
type jwksKeys struct {
	lookup jwt.Keyfunc
	ttl    time.Duration
	now    func() time.Time
	cache  sync.Map
}

func (j *jwksKeys) key(token *jwt.Token) (any, error) {
	if j.lookup == nil {
		return nil, errNoKeySource
	}
	kid, _ := token.Header["kid"].(string)
	cacheable := kid != "" && j.ttl > 0
	if cacheable {
		if v, ok := j.cache.Load(kid); ok {
			if entry := v.(cachedKey); j.now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			j.cache.Delete(kid)
		}
	}
	k, err := j.lookup(token)
	if err != nil {
		return nil, err
	}
	if cacheable {
		j.cache.Store(kid, cachedKey{key: k, expiresAt: j.now().Add(j.ttl)})
	}
	return k, nil
}

// adminClaims are the registered claims an administrator token must carry.
type adminClaims struct {
	jwt.RegisteredClaims
}

// Auth validates administrator JWTs for the setup routes.
type Auth struct {
	audience string
	issuer   string
	parser   *jwt.Parser
	keys     keySource
	now      func() time.Time
}

// NewAuth creates an Auth from cfg.
func NewAuth(cfg AuthConfig) *Auth {
	a := &Auth{audience: cfg.Audience, issuer: cfg.Issuer, now: time.Now}
	// claims are checked in verify against a.now
	if cfg.TestMode() {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}), jwt.WithoutClaimsValidation())
		a.keys = sharedSecret(cfg.SharedSecret)
		return a
	}
	a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}), jwt.WithoutClaimsValidation())
	keys := &jwksKeys{ttl: cfg.KeyCacheTTL, now: time.Now}
	if cfg.JWKS != nil {
		keys.lookup = cfg.JWKS.Keyfunc
	}
	a.keys = keys
	return a
}

// UserIDFromAuthHeader returns the token subject of an Authorization header.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	raw, err := bearerToken(h)
	if err != nil {
		return "", err
	}
	var claims adminClaims
	if _, err := a.parser.ParseWithClaims(raw, &claims, a.keys.key); err != nil {
		return "", err
	}
	if err := a.verify(&claims); err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (a *Auth) verify(c *adminClaims) error {
	now := a.now()
	switch {
	case !c.VerifyExpiresAt(now, true):
		return errors.New("token expired")
	case !c.VerifyNotBefore(now, false):
		return errors.New("token not valid yet")
	case a.audience != "" && !c.VerifyAudience(a.audience, true):
		return errors.New("invalid audience")
	case a.issuer != "" && !c.VerifyIssuer(a.issuer, true):
		return errors.New("invalid issuer")
	case c.Subject == "":
		return errors.New("missing sub")
	}
	return nil
}

func bearerToken(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errMissingAuthorization
	}
	token, ok := strings.CutPrefix(raw, "Bearer ")
	if !ok || strings.Count(token, ".") != 2 {
		return "", errBadAuthorization
	}
	return token, nil
}
