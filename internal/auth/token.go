package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultAccessTTL  = 60 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
	DefaultIssuer     = "breast-cancer-detection"

	minSecretLength = 32
)

// TokenKind separates access tokens from refresh tokens.
type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

// Claims is the signed payload of session tokens.
type Claims struct {
	TenantID    *string   `json:"tid"`
	Role        Role      `json:"role"`
	Permissions []string  `json:"perms"`
	Kind        TokenKind `json:"kind"`
	PatientID   *string   `json:"pid,omitempty"`
	Username    string    `json:"usr,omitempty"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies HS256 session tokens.
type TokenCodec struct {
	secrets    [][]byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// CodecOption configures TokenCodec behavior.
type CodecOption func(*TokenCodec) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) CodecOption {
	return func(c *TokenCodec) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			c.issuer = issuer
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) CodecOption {
	return func(c *TokenCodec) error {
		if ttl > 0 {
			c.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) CodecOption {
	return func(c *TokenCodec) error {
		if ttl > 0 {
			c.refreshTTL = ttl
		}
		return nil
	}
}

// WithPreviousSecrets keeps accepting tokens signed with retired secrets
// while new tokens are signed with the current one.
func WithPreviousSecrets(secrets ...string) CodecOption {
	return func(c *TokenCodec) error {
		for _, s := range secrets {
			if strings.TrimSpace(s) == "" {
				continue
			}
			c.secrets = append(c.secrets, []byte(s))
		}
		return nil
	}
}

// WithCodecClock overrides time source (useful for tests).
func WithCodecClock(fn func() time.Time) CodecOption {
	return func(c *TokenCodec) error {
		if fn != nil {
			c.now = fn
		}
		return nil
	}
}

// NewTokenCodec constructs a codec signing with secret.
func NewTokenCodec(secret string, opts ...CodecOption) (*TokenCodec, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("%w: token secret must be at least %d bytes", ErrInvalidInput, minSecretLength)
	}
	c := &TokenCodec{
		secrets:    [][]byte{[]byte(secret)},
		issuer:     DefaultIssuer,
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// AccessTTL returns the configured access token lifetime.
func (c *TokenCodec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (c *TokenCodec) RefreshTTL() time.Duration { return c.refreshTTL }

// IssuePair signs a fresh access and refresh token for p. The permission
// snapshot is recomputed from the registry.
func (c *TokenCodec) IssuePair(p Principal) (TokenPair, error) {
	now := c.now().UTC()
	access, accessExp, err := c.Encode(p, TokenAccess, now)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := c.Encode(p, TokenRefresh, now)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "bearer",
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Encode signs a single token of kind for p issued at now.
func (c *TokenCodec) Encode(p Principal, kind TokenKind, now time.Time) (string, time.Time, error) {
	ttl := c.accessTTL
	if kind == TokenRefresh {
		ttl = c.refreshTTL
	}
	exp := now.Add(ttl)
	claims := Claims{
		TenantID:    p.TenantID,
		Role:        p.Role,
		Permissions: permissionStrings(PermissionsFor(p.Role)),
		Kind:        kind,
		PatientID:   p.PatientID,
		Username:    p.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secrets[0])
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp.Truncate(time.Second), nil
}

// Decode verifies raw and requires the token to be of kind want. Failures
// map to TOKEN_EXPIRED, TOKEN_WRONG_KIND or TOKEN_MALFORMED.
func (c *TokenCodec) Decode(raw string, want TokenKind) (Session, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Session{}, ErrTokenMalformed
	}
	var (
		claims  *Claims
		lastErr error
	)
	for _, secret := range c.secrets {
		parsed := &Claims{}
		_, err := jwt.ParseWithClaims(raw, parsed, func(*jwt.Token) (any, error) {
			return secret, nil
		},
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(c.issuer),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(c.now),
		)
		if err == nil {
			claims = parsed
			break
		}
		lastErr = err
		if !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			break
		}
	}
	if claims == nil {
		if errors.Is(lastErr, jwt.ErrTokenExpired) {
			return Session{}, &Error{Kind: KindTokenExpired, Message: ErrTokenExpired.Message, Err: lastErr}
		}
		return Session{}, &Error{Kind: KindTokenMalformed, Message: ErrTokenMalformed.Message, Err: lastErr}
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		return Session{}, newError(KindTokenMalformed, "token is missing subject or role")
	}
	if claims.Kind != want {
		return Session{}, newError(KindTokenWrongKind, fmt.Sprintf("expected %s token", want))
	}
	perms := make([]Permission, len(claims.Permissions))
	for i, p := range claims.Permissions {
		perms[i] = Permission(p)
	}
	s := Session{
		PrincipalID: claims.Subject,
		Username:    claims.Username,
		TenantID:    claims.TenantID,
		Role:        claims.Role,
		Permissions: perms,
		PatientID:   claims.PatientID,
		TokenID:     claims.ID,
		Kind:        claims.Kind,
	}
	if claims.IssuedAt != nil {
		s.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return s, nil
}
