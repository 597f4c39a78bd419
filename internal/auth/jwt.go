// Package auth verifies bearer tokens issued by the identity provider.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/yardcraft/internal/clock"
	"github.com/smallbiznis/yardcraft/internal/config"
)

var (
	ErrInvalidJWT      = errors.New("invalid_token")
	ErrExpiredJWT      = errors.New("token_expired")
	ErrUnauthenticated = errors.New("authentication_required")
	ErrMissingSecret   = errors.New("auth jwt secret is not configured")
)

const defaultRole = "customer"

// Claims carries the identity subject in sub and the caller's role.
type Claims struct {
	Role  string `json:"role,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
	issuer string
	clock  clock.Clock
}

func NewVerifier(cfg config.Config, clk clock.Clock) (*Verifier, error) {
	if cfg.AuthJWTSecret == "" {
		return nil, ErrMissingSecret
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Verifier{
		secret: []byte(cfg.AuthJWTSecret),
		issuer: cfg.AuthJWTIssuer,
		clock:  clk,
	}, nil
}

// Issue signs a token for subject. Used by operator tooling and tests.
func (v *Verifier) Issue(subject, role, email string, ttl time.Duration) (string, error) {
	now := v.clock.Now()
	claims := &Claims{
		Role:  role,
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func (v *Verifier) Verify(raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, ErrUnauthenticated
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredJWT
		}
		return Identity{}, ErrInvalidJWT
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidJWT
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return Identity{}, ErrInvalidJWT
	}
	role := strings.ToLower(strings.TrimSpace(claims.Role))
	if role == "" {
		role = defaultRole
	}
	return Identity{Subject: subject, Role: role, Email: claims.Email}, nil
}
