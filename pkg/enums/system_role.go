package enums

import "fmt"

type SystemRole string

const (
	SystemRoleUser  SystemRole = "user"
	SystemRoleAgent SystemRole = "agent"
	SystemRoleAdmin SystemRole = "admin"
)

func (r SystemRole) IsValid() bool {
	switch r {
	case SystemRoleUser, SystemRoleAgent, SystemRoleAdmin:
		return true
	}
	return false
}

func ParseSystemRole(value string) (SystemRole, error) {
	r := SystemRole(value)
	if !r.IsValid() {
		return "", fmt.Errorf("invalid system role %q", value)
	}
	return r, nil
}
