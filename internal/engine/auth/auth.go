// Package auth issues and checks the HS256 bearer tokens staff use to
// review applications.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// StaffRoles may list, inspect and decide applications.
var StaffRoles = []string{RoleStaff, RoleAdmin}

type Principal struct {
	ActorID string
	Roles   []string
	Source  string
}

// ForbiddenError indicates an authenticated caller without a required role.
type ForbiddenError struct {
	Roles []string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("one of roles %s required", strings.Join(e.Roles, ", "))
}

type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

// HasRole reports whether p holds any of roles.
func (p Principal) HasRole(roles ...string) bool {
	for _, have := range p.Roles {
		for _, want := range roles {
			if strings.EqualFold(have, want) {
				return true
			}
		}
	}
	return false
}

func RequireRole(p Principal, roles ...string) error {
	if p.HasRole(roles...) {
		return nil
	}
	return ForbiddenError{Roles: roles}
}

// Sign issues a token for actor. A zero ttl produces a token without expiry.
func Sign(secret, actor string, roles []string, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	if strings.TrimSpace(actor) == "" {
		return "", errors.New("actor required")
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  actor,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Roles: roles,
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Parse verifies token and returns its principal.
func Parse(token, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("subject claim required")
	}
	return Principal{ActorID: claims.Subject, Roles: claims.Roles, Source: "jwt"}, nil
}
