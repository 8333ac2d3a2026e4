package v1

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const ctxKeySubject ctxKey = "authSubject"

// AuthConfig enables bearer token checks when Secret is set.
type AuthConfig struct {
	Secret string
	Issuer string
}

func parseBearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if len(h) < len("Bearer ") || !strings.EqualFold(h[:len("Bearer ")], "Bearer ") {
		return "", false
	}
	return strings.TrimSpace(h[len("Bearer "):]), true
}

// parseToken verifies an HS256 token and returns its registered claims.
func parseToken(tokenStr string, cfg AuthConfig) (*jwt.RegisteredClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// authJWT returns a middleware that enforces Authorization: Bearer JWT (HS256)
// and stores the token subject for per-request user checks. It returns nil
// when no secret is configured.
func authJWT(cfg AuthConfig) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, ok := parseBearerToken(r)
			if !ok {
				writeErr(w, http.StatusUnauthorized, "missing bearer token", "unauthorized")
				return
			}
			claims, err := parseToken(tok, cfg)
			if err != nil {
				writeErr(w, http.StatusUnauthorized, "invalid token", "unauthorized")
				return
			}
			noteSubject(r, claims.Subject)
			ctx := context.WithValue(r.Context(), ctxKeySubject, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// authorize writes 403 and returns false when an authenticated subject acts
// for another user. Without auth every user id is accepted.
func authorize(w http.ResponseWriter, r *http.Request, userID uuid.UUID) bool {
	sub, ok := r.Context().Value(ctxKeySubject).(string)
	if !ok {
		return true
	}
	if !strings.EqualFold(sub, userID.String()) {
		forbidden(w, "token subject does not match user_id")
		return false
	}
	return true
}
