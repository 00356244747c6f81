package account

import (
	"errors"
	"strings"
)

// ErrUnknownRole is returned when a role name does not match the hierarchy.
var ErrUnknownRole = errors.New("unknown role")

// Role is a position in the fixed, totally ordered role hierarchy
// user < viewer < admin < superadmin. The zero value is RoleUnknown and
// never satisfies any requirement.
type Role uint8

const (
	RoleUnknown Role = iota
	RoleUser
	RoleViewer
	RoleAdmin
	RoleSuperadmin
)

var roleNames = [...]string{
	RoleUnknown:    "",
	RoleUser:       "user",
	RoleViewer:     "viewer",
	RoleAdmin:      "admin",
	RoleSuperadmin: "superadmin",
}

// Rank returns the numeric level used for authorization comparisons.
func (r Role) Rank() int {
	switch r {
	case RoleUser:
		return 1
	case RoleViewer:
		return 10
	case RoleAdmin:
		return 50
	case RoleSuperadmin:
		return 100
	default:
		return 0
	}
}

// AtLeast reports whether r satisfies a route that requires min.
// An unknown role on either side never satisfies.
func (r Role) AtLeast(min Role) bool {
	if r.Rank() == 0 || min.Rank() == 0 {
		return false
	}
	return r.Rank() >= min.Rank()
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	return r.Rank() > 0
}

func (r Role) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return ""
}

// ParseRole maps a stored or configured role name to a Role.
func ParseRole(name string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "user":
		return RoleUser, nil
	case "viewer":
		return RoleViewer, nil
	case "admin":
		return RoleAdmin, nil
	case "superadmin":
		return RoleSuperadmin, nil
	default:
		return RoleUnknown, ErrUnknownRole
	}
}

// MarshalText encodes the role by name.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, ErrUnknownRole
	}
	return []byte(r.String()), nil
}

// UnmarshalText decodes a role name.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
