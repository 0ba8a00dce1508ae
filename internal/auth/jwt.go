// Package auth verifies the bearer tokens that identify riders and captains.
// Tokens are issued elsewhere; Issue exists for tooling and tests.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/ride-dispatch/internal/errs"
	"github.com/example/ride-dispatch/internal/models"
)

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type Identity struct {
	ActorID   string
	ActorType models.ActorType
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

func (v *Verifier) Issue(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: string(id.ActorType),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ActorID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify parses an HS256 token, with or without the "Bearer " prefix.
func (v *Verifier) Verify(token string) (Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return Identity{}, errs.E(errs.Unauthorized, "missing token")
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, errs.E(errs.Unauthorized, "token expired")
		}
		return Identity{}, errs.Wrap(errs.Unauthorized, err, "invalid token")
	}
	typ, ok := models.ParseActorType(claims.Role)
	if !ok || claims.Subject == "" {
		return Identity{}, errs.E(errs.Unauthorized, "token lacks subject or role")
	}
	return Identity{ActorID: claims.Subject, ActorType: typ}, nil
}
