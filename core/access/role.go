package access

import "strings"

// Role determines which dashboard prefix a user may access.
// The backend user record is the source of truth; the gateway only reads it.
type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleTutor   Role = "TUTOR"
	RoleAdmin   Role = "ADMIN"
)

// ParseRole parses a role string (case-insensitive). ok is false for anything
// outside the known enum; callers must treat that as "role unknown".
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleStudent:
		return RoleStudent, true
	case RoleTutor:
		return RoleTutor, true
	case RoleAdmin:
		return RoleAdmin, true
	}
	return "", false
}

func (r Role) String() string { return string(r) }
