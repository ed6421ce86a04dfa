package model

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

type AuthClaims struct {
	UserID   string `json:"sub"`
	Username string `json:"username"`
	Role     string `json:"role"`
	TokenID  string `json:"jti"`
	Type     string `json:"typ"`
}

func (c *AuthClaims) IsAdmin() bool {
	return c != nil && c.Role == RoleAdmin
}

// Actor identifies who issued a task request.
type Actor struct {
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
	IP       string `json:"ip,omitempty"`
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}
