package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/custodia-labs/cinema-etl/internal/core/domain"
)

func TestNewAdapter(t *testing.T) {
	adapter := NewAdapter("test-secret")
	if adapter == nil {
		t.Fatal("expected non-nil adapter")
	}
	if string(adapter.jwtSecret) != "test-secret" {
		t.Error("expected jwt secret to be set")
	}
}

func TestGenerateAndParseToken(t *testing.T) {
	adapter := NewAdapter("test-secret")

	now := time.Now()
	claims := &domain.TokenClaims{
		Subject:   "ops@example.com",
		Role:      domain.RoleOperator,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(time.Hour).Unix(),
	}

	token, err := adapter.GenerateToken(claims)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	if parts := strings.Split(token, "."); len(parts) != 3 {
		t.Fatalf("expected 3 token segments, got %d", len(parts))
	}

	parsed, err := adapter.ParseToken(token)
	if err != nil {
		t.Fatalf("failed to parse token: %v", err)
	}
	if *parsed != *claims {
		t.Errorf("claims mismatch: got %+v, want %+v", parsed, claims)
	}
}

func TestParseToken_Expired(t *testing.T) {
	adapter := NewAdapter("test-secret")
	past := time.Now().Add(-2 * time.Hour)

	token, err := adapter.GenerateToken(&domain.TokenClaims{
		Subject:   "svc",
		Role:      domain.RoleViewer,
		IssuedAt:  past.Unix(),
		ExpiresAt: past.Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	_, err = adapter.ParseToken(token)
	if !errors.Is(err, domain.ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	token, err := NewAdapter("secret-a").GenerateToken(&domain.TokenClaims{
		Subject:   "svc",
		Role:      domain.RoleViewer,
		IssuedAt:  time.Now().Unix(),
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	_, err = NewAdapter("secret-b").ParseToken(token)
	if !errors.Is(err, domain.ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestParseToken_Malformed(t *testing.T) {
	adapter := NewAdapter("test-secret")

	for _, token := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := adapter.ParseToken(token); !errors.Is(err, domain.ErrTokenInvalid) {
			t.Errorf("token %q: expected ErrTokenInvalid, got %v", token, err)
		}
	}
}

func TestParseToken_RejectsNoneAlgorithm(t *testing.T) {
	adapter := NewAdapter("test-secret")

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwtClaims{
		Role: domain.RoleOperator,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "svc",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build unsigned token: %v", err)
	}

	if _, err := adapter.ParseToken(token); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestParseToken_UnknownRole(t *testing.T) {
	adapter := NewAdapter("test-secret")

	token, err := adapter.GenerateToken(&domain.TokenClaims{
		Subject:   "svc",
		Role:      domain.Role("admin"),
		IssuedAt:  time.Now().Unix(),
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	if _, err := adapter.ParseToken(token); !errors.Is(err, domain.ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid, got %v", err)
	}
}
