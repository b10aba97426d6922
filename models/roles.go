package models

import "strconv"

// Role is the ordinal privilege level of a user. Higher values are more
// privileged, comparisons are always "at least this privileged".
type Role int

const (
	RoleUser Role = iota + 1
	RoleTrusted
	RoleMod
	RoleAdmin
	RoleOwner
)

var roleNames = map[Role]string{
	RoleUser:    "user",
	RoleTrusted: "trusted",
	RoleMod:     "mod",
	RoleAdmin:   "admin",
	RoleOwner:   "owner",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "unknown"
}

func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// AtLeast reports whether r is at least as privileged as min.
func (r Role) AtLeast(min Role) bool {
	return min <= r
}

// ParseRole parses the numeric form submitted by role selectors.
func ParseRole(value string) (Role, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, ErrInvalid
	}

	role := Role(n)
	if !role.Valid() {
		return 0, ErrInvalid
	}

	return role, nil
}

// RolesJSON is the role table served by the public API.
func RolesJSON() map[string]int {
	roles := make(map[string]int, len(roleNames))
	for role, name := range roleNames {
		roles[name] = int(role)
	}
	return roles
}
