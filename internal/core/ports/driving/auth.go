package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/cinema-etl/internal/core/domain"
)

// AuthService issues and validates status API tokens
type AuthService interface {
	// IssueToken signs a token for subject with the given role, valid for ttl
	IssueToken(ctx context.Context, subject string, role domain.Role, ttl time.Duration) (string, error)

	// ValidateToken validates a JWT token and returns the auth context
	ValidateToken(ctx context.Context, token string) (*domain.AuthContext, error)
}
