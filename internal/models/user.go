package models

import "strings"

type UserRole string

const (
	RoleStudent UserRole = "student"
	RoleTeacher UserRole = "teacher"
	RoleAdmin   UserRole = "admin"
)

// User is the read-only view of a Casdoor account. The service does not own
// user data.
type User struct {
	ID       string   `json:"id"`
	FullName string   `json:"full_name"`
	Email    string   `json:"email"`
	Role     UserRole `json:"role"`
	Groups   []string `json:"groups,omitempty"`
}

// InGroup reports whether the user belongs to groupID. Casdoor qualifies
// group names with the owner ("org/group"), both forms match.
func (u *User) InGroup(groupID string) bool {
	for _, g := range u.Groups {
		if g == groupID || strings.HasSuffix(g, "/"+groupID) {
			return true
		}
	}
	return false
}

func (u *User) IsStaff() bool {
	return u.Role == RoleTeacher || u.Role == RoleAdmin
}
