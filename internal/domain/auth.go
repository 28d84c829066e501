package domain

import (
	"fmt"
	"strings"
)

// Role grants access to role-gated endpoints.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// ParseRole normalizes a role name. An empty value yields RoleUser.
func ParseRole(value string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(value))) {
	case "", RoleUser:
		return RoleUser, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("unknown role %q", value)
	}
}

// String implements fmt.Stringer.
func (r Role) String() string {
	return string(r)
}
