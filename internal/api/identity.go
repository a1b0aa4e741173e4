// Rolegate - Role Resolution and Fail-Closed Access Enforcement
// Copyright 2026 T. Fedor (tfedor)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tfedor/rolegate

// Package api provides the HTTP surface: identity extraction, the
// routed endpoints the guard protects, and operational endpoints.
package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tfedor/rolegate/internal/authz"
	"github.com/tfedor/rolegate/internal/logging"
)

// Identity errors.
var (
	ErrNoCredentials      = errors.New("no credentials provided")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Identity extracts the caller's user id from a bearer token and
// places it in the request context for the guard. Authorization
// (role checks) happens downstream; this middleware establishes only
// who is asking.
type Identity struct {
	secret []byte
}

// NewIdentity creates the identity middleware with the shared HS256
// secret.
func NewIdentity(tokenSecret string) *Identity {
	return &Identity{secret: []byte(tokenSecret)}
}

// Middleware attaches the authenticated user id to the context.
// Requests without a usable identity proceed without one; every guard
// denies them uniformly, so an attacker cannot tell a bad token from
// an insufficient role.
func (i *Identity) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := i.subjectFromRequest(r)
		if err != nil {
			if !errors.Is(err, ErrNoCredentials) {
				logging.Debug().Err(err).Msg("Rejected bearer token")
			}
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(authz.WithUserID(r.Context(), userID)))
	})
}

// subjectFromRequest validates the bearer token and returns its
// subject claim.
func (i *Identity) subjectFromRequest(r *http.Request) (string, error) {
	tokenStr := extractBearer(r)
	if tokenStr == "" {
		return "", ErrNoCredentials
	}

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return "", ErrInvalidCredentials
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", ErrInvalidCredentials
	}
	return subject, nil
}

// extractBearer pulls the token from the Authorization header.
func extractBearer(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
