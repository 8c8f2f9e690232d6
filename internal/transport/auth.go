package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pitabwire/usecase/internal/config"
	"github.com/pitabwire/usecase/model"
)

type claimsKey struct{}

// WithClaims stores verified JWT claims in the context.
func WithClaims(ctx context.Context, claims map[string]any) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFrom extracts JWT claims from the context.
func ClaimsFrom(ctx context.Context) map[string]any {
	claims, _ := ctx.Value(claimsKey{}).(map[string]any)
	return claims
}

// JWTAuthenticator returns middleware that verifies HS256 bearer tokens and
// stores the verified claims in the request context. A request without an
// Authorization header passes through anonymously when cfg.AllowAnonymous
// is set.
func JWTAuthenticator(cfg config.IdentityConfig, secret []byte) func(http.Handler) http.Handler {
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = 30 * time.Second
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithLeeway(leeway),
		jwt.WithExpirationRequired(),
	)
	keyFunc := func(*jwt.Token) (any, error) {
		if len(secret) == 0 {
			return nil, fmt.Errorf("no signing secret configured")
		}
		return secret, nil
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				if cfg.AllowAnonymous {
					next.ServeHTTP(w, r)
					return
				}
				WriteError(w, r, model.NewUnauthorizedError("Missing authorization header"))
				return
			}
			tokenStr, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || tokenStr == "" {
				WriteError(w, r, model.NewUnauthorizedError("Invalid authorization header format"))
				return
			}

			claims := jwt.MapClaims{}
			token, err := parser.ParseWithClaims(tokenStr, claims, keyFunc)
			if err != nil {
				WriteError(w, r, model.NewUnauthorizedError(classifyJWTError(err)))
				return
			}
			if !token.Valid {
				WriteError(w, r, model.NewUnauthorizedError("Invalid token"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), map[string]any(claims))))
		})
	}
}

func classifyJWTError(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "Token expired"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "Token is missing a required claim"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "Invalid token issuer"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "Invalid token audience"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		if strings.Contains(err.Error(), "signing method") {
			return "Disallowed signing algorithm"
		}
		return "Invalid token signature"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "Malformed token"
	default:
		return "Invalid token"
	}
}

// Default claim paths for the RequestContext fields.
var defaultClaimPaths = map[string]string{
	"subject_id": "sub",
	"email":      "email",
	"tenant_id":  "tenant_id",
	"roles":      "roles",
	"locale":     "locale",
}

// BuildRequestContextMiddleware constructs a model.RequestContext from the
// verified claims and standard request headers. paths maps RequestContext
// fields to claim paths; nested claims use dot notation, as in
// "realm_access.roles". Requests without claims stay anonymous.
func BuildRequestContextMiddleware(paths map[string]string) func(http.Handler) http.Handler {
	resolved := make(map[string]string, len(defaultClaimPaths))
	for field, path := range defaultClaimPaths {
		resolved[field] = path
	}
	for field, path := range paths {
		resolved[field] = path
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFrom(r.Context())
			if claims == nil {
				next.ServeHTTP(w, r)
				return
			}

			locale := extractClaimString(claims, resolved["locale"])
			if locale == "" {
				locale = r.Header.Get("Accept-Language")
			}
			rctx := &model.RequestContext{
				SubjectID:     extractClaimString(claims, resolved["subject_id"]),
				Email:         extractClaimString(claims, resolved["email"]),
				TenantID:      extractClaimString(claims, resolved["tenant_id"]),
				Roles:         extractClaimStringSlice(claims, resolved["roles"]),
				Claims:        claims,
				CorrelationID: CorrelationIDFrom(r.Context()),
				TraceID:       traceIDFrom(r.Context()),
				Locale:        locale,
			}
			next.ServeHTTP(w, r.WithContext(model.WithRequestContext(r.Context(), rctx)))
		})
	}
}

func extractClaim(claims map[string]any, path string) any {
	if claims == nil || path == "" {
		return nil
	}
	var cur any = claims
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

func extractClaimString(claims map[string]any, path string) string {
	s, _ := extractClaim(claims, path).(string)
	return s
}

func extractClaimStringSlice(claims map[string]any, path string) []string {
	switch v := extractClaim(claims, path).(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case string:
		return strings.Fields(v)
	default:
		return nil
	}
}
