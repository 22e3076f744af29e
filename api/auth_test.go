package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"

	"board-room/domain"
)

var testSecret = []byte("test-secret")

func signHS256(t *testing.T, claims jwt.MapClaims, secret []byte) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestResolveUserIDAndExpiresAtClaims(t *testing.T) {
	auth := NewSecretAuth(testSecret)
	expires := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	token := signHS256(t, jwt.MapClaims{"userId": "u-42", "expiresAt": expires.UnixMilli()}, testSecret)

	cred, err := auth.Resolve(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.UserID != "u-42" {
		t.Fatalf("unexpected user id: %s", cred.UserID)
	}
	if !cred.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected expiry: %v want %v", cred.ExpiresAt, expires)
	}
}

func TestResolveNumericUserID(t *testing.T) {
	auth := NewSecretAuth(testSecret)
	token := signHS256(t, jwt.MapClaims{"userId": 5, "expiresAt": time.Now().Add(time.Hour).UnixMilli()}, testSecret)

	cred, err := auth.Resolve(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.UserID != "5" {
		t.Fatalf("unexpected user id: %s", cred.UserID)
	}
}

func TestResolveRegisteredClaims(t *testing.T) {
	auth := NewSecretAuth(testSecret)
	auth.Audience = "api://aud"
	auth.Issuer = "https://issuer/"
	token := signHS256(t, jwt.MapClaims{
		"sub": "user-123",
		"aud": "api://aud",
		"iss": "https://issuer/",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
		"nbf": time.Now().Add(-time.Minute).Unix(),
	}, testSecret)

	cred, err := auth.Resolve(token)
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if cred.UserID != "user-123" {
		t.Fatalf("unexpected user id: %s", cred.UserID)
	}
}

func TestResolveRejections(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name  string
		token func(t *testing.T) string
		want  error
	}{
		{
			name:  "expiresAt in the past",
			token: func(t *testing.T) string { return signHS256(t, jwt.MapClaims{"userId": "u1", "expiresAt": past.UnixMilli()}, testSecret) },
			want:  domain.ErrTokenExpired,
		},
		{
			name:  "exp in the past",
			token: func(t *testing.T) string { return signHS256(t, jwt.MapClaims{"sub": "u1", "exp": past.Unix()}, testSecret) },
			want:  domain.ErrTokenExpired,
		},
		{
			name:  "no expiry claim",
			token: func(t *testing.T) string { return signHS256(t, jwt.MapClaims{"userId": "u1"}, testSecret) },
			want:  domain.ErrInvalidToken,
		},
		{
			name: "wrong secret",
			token: func(t *testing.T) string {
				return signHS256(t, jwt.MapClaims{"userId": "u1", "expiresAt": future.UnixMilli()}, []byte("other"))
			},
			want: domain.ErrInvalidToken,
		},
		{
			name:  "no subject",
			token: func(t *testing.T) string { return signHS256(t, jwt.MapClaims{"expiresAt": future.UnixMilli()}, testSecret) },
			want:  domain.ErrInvalidToken,
		},
		{
			name:  "not a jwt",
			token: func(*testing.T) string { return "garbage" },
			want:  domain.ErrInvalidToken,
		},
		{
			name:  "empty",
			token: func(*testing.T) string { return "" },
			want:  domain.ErrMissingToken,
		},
	}

	auth := NewSecretAuth(testSecret)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.Resolve(tt.token(t))
			if err != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestResolveAudienceMismatch(t *testing.T) {
	auth := NewSecretAuth(testSecret)
	auth.Audience = "api://aud"
	token := signHS256(t, jwt.MapClaims{"sub": "u1", "aud": "api://other", "exp": time.Now().Add(time.Minute).Unix()}, testSecret)

	if _, err := auth.Resolve(token); err != domain.ErrInvalidToken {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestRS256WithoutJWKSIsRejected(t *testing.T) {
	auth := NewAuth(nil, "", "", DefaultJWKSCacheTTL)
	token := signHS256(t, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(time.Minute).Unix()}, testSecret)

	if _, err := auth.Resolve(token); err != domain.ErrInvalidToken {
		t.Fatalf("expected invalid token for HS256 under RS256 auth, got %v", err)
	}
}

func TestBearerTokenFromHeader(t *testing.T) {
	header := make(http.Header)
	header.Set(echo.HeaderAuthorization, "  Bearer service-token ")

	token, err := bearerTokenFromHeader(header)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "service-token" {
		t.Fatalf("unexpected token content: %s", token)
	}
}

func TestBearerTokenFromHeaderErrors(t *testing.T) {
	if _, err := bearerTokenFromHeader(make(http.Header)); err != errMissingAuthorization {
		t.Fatalf("expected missing header error, got %v", err)
	}
	if _, err := bearerTokenFromString("Basic abc"); err != errBadAuthorization {
		t.Fatalf("expected bad auth header error, got %v", err)
	}
	if _, err := bearerTokenFromString("Bearer "); err != errBadAuthorization {
		t.Fatalf("expected bad auth header error for empty bearer, got %v", err)
	}
}

func TestServiceTokenMatches(t *testing.T) {
	header := make(http.Header)
	header.Set(echo.HeaderAuthorization, "Bearer s3cret")

	if !serviceTokenMatches(header, "s3cret") {
		t.Fatal("expected token to match")
	}
	if serviceTokenMatches(header, "other") {
		t.Fatal("expected mismatch")
	}
	if serviceTokenMatches(header, "") {
		t.Fatal("expected empty configured token to reject every caller")
	}
}
