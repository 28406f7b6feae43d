package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/wmsync/backend/internal/infrastructure/config"
)

// JWT errors
var (
	ErrInvalidToken      = errors.New("invalid token")
	ErrExpiredToken      = errors.New("token has expired")
	ErrTokenNotYetValid  = errors.New("token not yet valid")
	ErrInvalidClaims     = errors.New("invalid token claims")
	ErrMissingTenantID   = errors.New("missing tenant_id in token")
	ErrMissingSecret     = errors.New("jwt secret is not configured")
	ErrInsufficientScope = errors.New("token lacks the required scope")
)

// Scopes granted to service tokens
const (
	ScopeSyncRead  = "sync:read"
	ScopeSyncWrite = "sync:write"
)

// Claims are the claims carried by a service token. Every token is bound
// to exactly one tenant.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Scopes   []string `json:"scopes,omitempty"`
}

// TenantUUID parses the tenant claim
func (c *Claims) TenantUUID() (uuid.UUID, error) {
	return uuid.Parse(c.TenantID)
}

// HasScope reports whether the token grants scope. A token without
// scopes grants all of them.
func (c *Claims) HasScope(scope string) bool {
	if len(c.Scopes) == 0 {
		return true
	}
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ServiceTokenVerifier validates HMAC signed service tokens issued to
// the CRUD application.
type ServiceTokenVerifier struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

// NewServiceTokenVerifier creates a verifier from the JWT settings
func NewServiceTokenVerifier(cfg config.JWTConfig) (*ServiceTokenVerifier, error) {
	if cfg.Secret == "" {
		return nil, ErrMissingSecret
	}
	return &ServiceTokenVerifier{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		now:      time.Now,
	}, nil
}

// IssueInput describes a token to mint
type IssueInput struct {
	TenantID uuid.UUID
	Subject  string
	Scopes   []string
	TTL      time.Duration
}

// Issue mints a signed service token. It backs the token command of the
// server binary and the HTTP tests.
func (v *ServiceTokenVerifier) Issue(input IssueInput) (string, time.Time, error) {
	now := v.now()
	ttl := input.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	expiresAt := now.Add(ttl)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   input.Subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		TenantID: input.TenantID.String(),
		Scopes:   input.Scopes,
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify validates a token string and returns its claims
func (v *ServiceTokenVerifier) Verify(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		if errors.Is(err, jwt.ErrTokenNotValidYet) {
			return nil, ErrTokenNotYetValid
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}
	if claims.TenantID == "" {
		return nil, ErrMissingTenantID
	}
	if _, err := claims.TenantUUID(); err != nil {
		return nil, ErrInvalidClaims
	}
	return claims, nil
}
