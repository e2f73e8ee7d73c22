package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/cinema-etl/internal/core/domain"
	"github.com/custodia-labs/cinema-etl/internal/core/ports/driven"
	"github.com/custodia-labs/cinema-etl/internal/core/ports/driving"
)

// Ensure authService implements AuthService
var _ driving.AuthService = (*authService)(nil)

// authService implements the AuthService interface
type authService struct {
	authAdapter driven.AuthAdapter
	now         func() time.Time
}

// NewAuthService creates a new AuthService
func NewAuthService(authAdapter driven.AuthAdapter) driving.AuthService {
	return &authService{
		authAdapter: authAdapter,
		now:         time.Now,
	}
}

// IssueToken signs a token for subject with the given role
func (s *authService) IssueToken(ctx context.Context, subject string, role domain.Role, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("%w: subject required", domain.ErrInvalidInput)
	}
	if !role.IsValid() {
		return "", fmt.Errorf("%w: unknown role %q", domain.ErrInvalidInput, role)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("%w: ttl must be positive", domain.ErrInvalidInput)
	}

	now := s.now()
	claims := &domain.TokenClaims{
		Subject:   subject,
		Role:      role,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	return s.authAdapter.GenerateToken(claims)
}

// ValidateToken validates a JWT token and returns the auth context
func (s *authService) ValidateToken(ctx context.Context, token string) (*domain.AuthContext, error) {
	if token == "" {
		return nil, domain.ErrTokenInvalid
	}

	// Parse and validate JWT
	claims, err := s.authAdapter.ParseToken(token)
	if err != nil {
		if errors.Is(err, domain.ErrTokenExpired) {
			return nil, domain.ErrTokenExpired
		}
		return nil, domain.ErrTokenInvalid
	}

	// Check expiration
	if s.now().Unix() > claims.ExpiresAt {
		return nil, domain.ErrTokenExpired
	}

	if !claims.Role.IsValid() {
		return nil, domain.ErrTokenInvalid
	}

	return &domain.AuthContext{
		Subject: claims.Subject,
		Role:    claims.Role,
	}, nil
}
