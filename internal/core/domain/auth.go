package domain

// Role is the access level carried by an API token
type Role string

const (
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

// IsValid checks if the role is known
func (r Role) IsValid() bool {
	return r == RoleOperator || r == RoleViewer
}

// TokenClaims represents the JWT token payload
type TokenClaims struct {
	Subject   string `json:"sub"`
	Role      Role   `json:"role"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// AuthContext contains the authenticated caller for request context
type AuthContext struct {
	Subject string `json:"subject"`
	Role    Role   `json:"role"`
}
