package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/BradenHooton/autobot/internal/models"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// OperatorContextKey is the key for storing operator claims in context
	OperatorContextKey contextKey = "operator"
)

// OperatorMiddleware validates operator bearer tokens and injects the claims into context
func OperatorMiddleware(tm *TokenManager) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}

			// Parse Bearer token
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid authorization header format", http.StatusUnauthorized)
				return
			}

			claims, err := tm.ValidateToken(parts[1])
			if err != nil {
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), OperatorContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetOperatorFromContext extracts operator claims from request context
func GetOperatorFromContext(r *http.Request) *models.OperatorClaims {
	claims, ok := r.Context().Value(OperatorContextKey).(*models.OperatorClaims)
	if !ok {
		return nil
	}
	return claims
}
