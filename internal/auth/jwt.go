// Package auth verifies the bearer tokens presented on socket upgrade and on
// the push API.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"classpulse/internal/logging"
)

// Identity is the decoded claim the realtime layer cares about
type Identity struct {
	UserID string
	Role   string
}

// Claims accepts the identity under any of the claim names issued by the
// platform's REST layer: userId, id, or the registered sub claim.
type Claims struct {
	UserID any    `json:"userId,omitempty"`
	ID     any    `json:"id,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Verifier turns a token into an identity. Implementations never return an
// error: every failure collapses to nil.
type Verifier interface {
	Verify(token string) *Identity
}

var ErrEmptySecret = errors.New("JWT secret is required")

// JWTVerifier validates HS256 tokens signed with a shared secret
type JWTVerifier struct {
	secret   []byte
	issuer   string
	audience string
}

// NewJWTVerifier creates a verifier; issuer and audience are checked only when set
func NewJWTVerifier(secret, issuer, audience string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &JWTVerifier{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
	}, nil
}

// Verify returns the identity carried by token, or nil when the token is
// missing, malformed, expired, wrongly signed or has no usable user id.
func (v *JWTVerifier) Verify(token string) *Identity {
	if token == "" {
		return nil
	}

	claims, err := v.parse(token)
	if err != nil {
		logging.Debug().Err(err).Msg("token verification failed")
		return nil
	}

	userID := claims.userID()
	if userID == "" {
		logging.Debug().Msg("token carries no user id")
		return nil
	}
	return &Identity{UserID: userID, Role: claims.Role}
}

func (v *JWTVerifier) parse(token string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// userID picks the first non-empty identity claim. Numeric ids from the
// relational store arrive as JSON numbers and are rendered without exponent.
func (c *Claims) userID() string {
	for _, v := range []any{c.UserID, c.ID} {
		if s := claimString(v); s != "" {
			return s
		}
	}
	return c.Subject
}

func claimString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}

// Issuer signs tokens with the same secret. The REST layer owns login; this
// exists for the CLI token helper and for tests.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl}
}

// Issue returns a signed HS256 token for userID
func (i *Issuer) Issue(userID, role string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
