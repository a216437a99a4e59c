package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Claims is the token payload issued by the identity provider.
type Claims struct {
	jwt.RegisteredClaims
	HospitalID string   `json:"hospital_id"`
	Roles      []string `json:"roles"`
	PatientID  string   `json:"patient_id,omitempty"`
	DoctorID   string   `json:"doctor_id,omitempty"`
}

// Identity converts verified claims into the request identity.
func (c *Claims) Identity() Identity {
	return Identity{
		UserID:     c.Subject,
		HospitalID: c.HospitalID,
		Roles:      c.Roles,
		PatientID:  c.PatientID,
		DoctorID:   c.DoctorID,
	}
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey selects HS256 verification instead of JWKS.
	SigningKey []byte
}

// JWKSKey represents a single JSON Web Key from a JWKS endpoint.
type JWKSKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type JWKSResponse struct {
	Keys []JWKSKey `json:"keys"`
}

// JWKSCache caches RSA keys fetched from a JWKS endpoint for ttl.
type JWKSCache struct {
	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	jwksURL   string
	ttl       time.Duration
	fetchedAt time.Time
	client    *http.Client
}

func NewJWKSCache(jwksURL string, ttl time.Duration) *JWKSCache {
	return &JWKSCache{
		keys:    make(map[string]*rsa.PublicKey),
		jwksURL: jwksURL,
		ttl:     ttl,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// GetKey returns the key for kid, refetching on a miss or after the TTL.
func (c *JWKSCache) GetKey(kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	expired := time.Since(c.fetchedAt) > c.ttl
	c.mu.RUnlock()

	if ok && !expired {
		return key, nil
	}

	if err := c.fetch(); err != nil {
		return nil, fmt.Errorf("fetching JWKS: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok = c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("key with kid %q not found in JWKS", kid)
	}
	return key, nil
}

func (c *JWKSCache) fetch() error {
	resp, err := c.client.Get(c.jwksURL)
	if err != nil {
		return fmt.Errorf("GET %s: %w", c.jwksURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var jwks JWKSResponse
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("decoding JWKS response: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pubKey, err := parseRSAPublicKey(k)
		if err != nil {
			continue
		}
		keys[k.Kid] = pubKey
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	return nil
}

func parseRSAPublicKey(k JWKSKey) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

const defaultJWKSCacheTTL = 5 * time.Minute

// keyFunc picks HMAC verification when a signing key is configured and JWKS
// otherwise. A missing JWKS URL is derived from the issuer.
func keyFunc(cfg JWTConfig) jwt.Keyfunc {
	if len(cfg.SigningKey) > 0 {
		return func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
			}
			return cfg.SigningKey, nil
		}
	}

	jwksURL := cfg.JWKSURL
	if jwksURL == "" && cfg.Issuer != "" {
		jwksURL = strings.TrimSuffix(cfg.Issuer, "/") + "/.well-known/jwks.json"
	}
	cache := NewJWKSCache(jwksURL, defaultJWKSCacheTTL)
	return func(t *jwt.Token) (interface{}, error) {
		kid, ok := t.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("token has no kid header")
		}
		return cache.GetKey(kid)
	}
}

var (
	ErrMissingToken = errors.New("missing authorization header")
	ErrBadScheme    = errors.New("invalid authorization format")
	ErrInvalidToken = errors.New("invalid token")
)

// Verifier checks bearer tokens outside of an echo request, e.g. in the
// Lambda entrypoint.
type Verifier struct {
	kf   jwt.Keyfunc
	opts []jwt.ParserOption
}

func NewVerifier(cfg JWTConfig) *Verifier {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "HS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Verifier{kf: keyFunc(cfg), opts: opts}
}

// Verify parses an Authorization header value ("Bearer <token>").
func (v *Verifier) Verify(authHeader string) (Identity, error) {
	if authHeader == "" {
		return Identity{}, ErrMissingToken
	}
	scheme, tokenStr, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(tokenStr) == "" {
		return Identity{}, ErrBadScheme
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, v.kf, v.opts...)
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	return claims.Identity(), nil
}

// JWTMiddleware verifies the bearer token and stores the resulting Identity
// on the request context. The hospital claim is exposed to the hospital
// middleware through the echo context.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	v := NewVerifier(cfg)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, err := v.Verify(c.Request().Header.Get("Authorization"))
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}
			setIdentity(c, id)
			return next(c)
		}
	}
}

// DevAuthMiddleware gives requests without a bearer token an admin identity.
// Requests that do carry a token are verified with cfg as usual.
func DevAuthMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	verify := JWTMiddleware(cfg)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		verified := verify(next)
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") != "" {
				return verified(c)
			}
			setIdentity(c, Identity{UserID: "dev-user", Roles: []string{RoleAdmin}})
			return next(c)
		}
	}
}

func setIdentity(c echo.Context, id Identity) {
	if id.HospitalID != "" {
		c.Set("jwt_hospital_id", id.HospitalID)
	}
	c.SetRequest(c.Request().WithContext(WithIdentity(c.Request().Context(), id)))
}
