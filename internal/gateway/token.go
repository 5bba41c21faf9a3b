// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"grimm.is/campusgate/internal/errors"
	"grimm.is/campusgate/internal/store"
)

type contextKey string

const (
	ctxUserID contextKey = "user_id"
	ctxRole   contextKey = "role"
)

// issueToken mints an HS256 bearer token carrying the user and role claims.
func (s *Server) issueToken(userID string, role store.Role, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    string(role),
		"iat":     now.Unix(),
		"exp":     now.Add(s.tokenTTL).Unix(),
	})
	signed, err := token.SignedString(s.tokenSecret)
	if err != nil {
		return "", errors.Wrap(err, errors.KindInternal, "sign token")
	}
	return signed, nil
}

// parseToken validates a bearer token and returns the user and role claims.
func (s *Server) parseToken(raw string) (string, store.Role, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf(errors.KindNotAuthenticated, "unexpected signing method %v", t.Header["alg"])
		}
		return s.tokenSecret, nil
	}, jwt.WithTimeFunc(s.clock.Now))
	if err != nil || !token.Valid {
		return "", "", errors.Wrap(err, errors.KindNotAuthenticated, "invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", errors.New(errors.KindNotAuthenticated, "invalid claims")
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", "", errors.New(errors.KindNotAuthenticated, "token missing user claim")
	}
	role, _ := claims["role"].(string)
	return userID, store.Role(role), nil
}

// requireAuth validates the Authorization header and stashes the claims in
// the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, found := strings.CutPrefix(header, "Bearer ")
		if !found || raw == "" {
			s.respondError(w, errors.New(errors.KindNotAuthenticated, "missing bearer token"))
			return
		}
		userID, role, err := s.parseToken(raw)
		if err != nil {
			s.respondError(w, err)
			return
		}
		ctx := withClaims(r.Context(), userID, role)
		next(w, r.WithContext(ctx))
	}
}

// requireAdmin is requireAuth plus an admin role check.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		if role, _ := r.Context().Value(ctxRole).(store.Role); role != store.RoleAdmin {
			s.respondError(w, errors.New(errors.KindNotAuthenticated, "admin role required"))
			return
		}
		next(w, r)
	})
}

func withClaims(ctx context.Context, userID string, role store.Role) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, userID)
	return context.WithValue(ctx, ctxRole, role)
}

func claimedUser(r *http.Request) string {
	userID, _ := r.Context().Value(ctxUserID).(string)
	return userID
}
