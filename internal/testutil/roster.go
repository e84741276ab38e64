package testutil

import (
	"context"

	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
	"github.com/SAP-F-2025/exam-attempt-service/internal/repositories"
)

// Roster is an in-memory UserRepository.
type Roster struct {
	users map[string]*models.User
}

func NewRoster(users ...*models.User) *Roster {
	r := &Roster{users: make(map[string]*models.User, len(users))}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

// SchoolRoster has two teachers, an admin and three students. s1 and s2 are
// in group 10A (s1 with the org-qualified name), s3 is in 10B.
func SchoolRoster() *Roster {
	return NewRoster(
		&models.User{ID: "teacher-1", FullName: "Ms Teacher", Role: models.RoleTeacher},
		&models.User{ID: "teacher-2", FullName: "Mr Other", Role: models.RoleTeacher},
		&models.User{ID: "admin-1", FullName: "Admin", Role: models.RoleAdmin},
		&models.User{ID: "s1", FullName: "Student One", Role: models.RoleStudent, Groups: []string{"school/10A"}},
		&models.User{ID: "s2", FullName: "Student Two", Role: models.RoleStudent, Groups: []string{"10A"}},
		&models.User{ID: "s3", FullName: "Student Three", Role: models.RoleStudent, Groups: []string{"10B"}},
	)
}

func (r *Roster) GetByID(_ context.Context, id string) (*models.User, error) {
	if u, ok := r.users[id]; ok {
		return u, nil
	}
	return nil, repositories.ErrNotFound
}

func (r *Roster) GetByIDs(_ context.Context, ids []string) ([]*models.User, error) {
	var out []*models.User
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (r *Roster) IsGroupMember(_ context.Context, groupID, userID string) (bool, error) {
	u, ok := r.users[userID]
	return ok && u.InGroup(groupID), nil
}

func (r *Roster) ListGroupMembers(_ context.Context, groupID string) ([]*models.User, error) {
	var out []*models.User
	for _, u := range r.users {
		if u.InGroup(groupID) {
			out = append(out, u)
		}
	}
	return out, nil
}
