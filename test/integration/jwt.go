package integration

import (
	"maps"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestClaims holds the configurable claims for generating test JWT tokens.
type TestClaims struct {
	SubjectID string
	TenantID  string
	Email     string
	Roles     []string
	Extra     map[string]any
}

// tokenIssuer signs HS256 tokens with a shared secret.
type tokenIssuer struct {
	t        *testing.T
	secret   []byte
	issuer   string
	audience string
}

func newTokenIssuer(t *testing.T) *tokenIssuer {
	return &tokenIssuer{
		t:        t,
		secret:   []byte("integration-signing-secret-0123456789"),
		issuer:   "https://auth.test.usecase.dev",
		audience: "usecase-test",
	}
}

func (ti *tokenIssuer) claims(c TestClaims, issuedAt, expiresAt time.Time) jwt.MapClaims {
	mapClaims := jwt.MapClaims{
		"iss":       ti.issuer,
		"aud":       ti.audience,
		"iat":       jwt.NewNumericDate(issuedAt),
		"exp":       jwt.NewNumericDate(expiresAt),
		"sub":       c.SubjectID,
		"tenant_id": c.TenantID,
		"email":     c.Email,
	}
	if len(c.Roles) > 0 {
		roles := make([]any, len(c.Roles))
		for i, r := range c.Roles {
			roles[i] = r
		}
		mapClaims["roles"] = roles
	}
	maps.Copy(mapClaims, c.Extra)
	return mapClaims
}

func (ti *tokenIssuer) sign(method jwt.SigningMethod, claims jwt.MapClaims, key any) string {
	ti.t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		ti.t.Fatalf("sign JWT: %v", err)
	}
	return signed
}

// GenerateToken creates a valid, signed JWT token with the given claims.
func (ti *tokenIssuer) GenerateToken(c TestClaims) string {
	now := time.Now()
	return ti.sign(jwt.SigningMethodHS256, ti.claims(c, now, now.Add(time.Hour)), ti.secret)
}

// GenerateExpiredToken creates a JWT token that expired in the past.
func (ti *tokenIssuer) GenerateExpiredToken(c TestClaims) string {
	now := time.Now()
	return ti.sign(jwt.SigningMethodHS256, ti.claims(c, now.Add(-2*time.Hour), now.Add(-time.Hour)), ti.secret)
}

// GenerateForeignToken creates a token signed with a secret the server does
// not know.
func (ti *tokenIssuer) GenerateForeignToken(c TestClaims) string {
	now := time.Now()
	return ti.sign(jwt.SigningMethodHS256, ti.claims(c, now, now.Add(time.Hour)), []byte("some-other-secret-0123456789abcdef"))
}

// GenerateUnsignedToken creates an alg=none token.
func (ti *tokenIssuer) GenerateUnsignedToken(c TestClaims) string {
	now := time.Now()
	return ti.sign(jwt.SigningMethodNone, ti.claims(c, now, now.Add(time.Hour)), jwt.UnsafeAllowNoneSignatureType)
}
