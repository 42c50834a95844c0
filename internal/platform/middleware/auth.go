package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	id "dhfcore/pkg/domain"
	"dhfcore/pkg/requestcontext"
)

// ActorClaims is the identity the engine consumes from the external
// authentication collaborator. Roles feed the gate approval authorizer.
type ActorClaims struct {
	ActorID id.ActorID
	Roles   []string
}

// TokenValidator validates a bearer token and returns the actor claims.
type TokenValidator interface {
	ValidateToken(tokenString string) (*ActorClaims, error)
}

// JWTValidator validates HS256 tokens issued by the surrounding application.
type JWTValidator struct {
	signingKey []byte
}

// NewJWTValidator constructs a validator for the shared signing key.
func NewJWTValidator(signingKey string) *JWTValidator {
	return &JWTValidator{signingKey: []byte(signingKey)}
}

type actorClaims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// ValidateToken parses and verifies the token, returning actor identity.
func (v *JWTValidator) ValidateToken(tokenString string) (*ActorClaims, error) {
	var claims actorClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	actorID, err := id.ParseActorID(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("invalid subject claim: %w", err)
	}
	return &ActorClaims{ActorID: actorID, Roles: claims.Roles}, nil
}

// RequireAuth rejects requests without a valid bearer token and places the
// actor identity and roles in the request context.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestcontext.RequestID(ctx),
				)
				writeUnauthorized(w, "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				writeUnauthorized(w, "Invalid or expired token")
				return
			}

			ctx = requestcontext.WithActorID(ctx, claims.ActorID)
			ctx = requestcontext.WithRoles(ctx, claims.Roles)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}
