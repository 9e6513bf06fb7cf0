package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kalendae/meeting-insights/internal"
)

// IdentityClaims is the token the add-on frontend presents: a signed
// assertion of who the calendar user is. It carries no backend
// permissions; those are resolved per request against the company
// backend.
type IdentityClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Identity verifies the bearer identity token and places the asserted
// email on the request context. Requests without a valid token are
// rejected before any handler runs.
func Identity(secret string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := bearerToken(r)
			if tokenStr == "" {
				writeUnauthorized(w, "missing identity token")
				return
			}

			claims := &IdentityClaims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, internal.ErrInvalidToken
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				logger.Warn("identity token rejected", "error", err)
				writeUnauthorized(w, "invalid identity token")
				return
			}
			if claims.Email == "" {
				writeUnauthorized(w, "identity token has no email claim")
				return
			}

			ctx := internal.ContextWithEmail(r.Context(), claims.Email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    http.StatusUnauthorized,
		"message": message,
	})
}
