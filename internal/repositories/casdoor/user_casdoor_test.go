package casdoor

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/casdoor/casdoor-go-sdk/casdoorsdk"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
	"github.com/SAP-F-2025/exam-attempt-service/internal/repositories"
)

type fakeSource struct {
	users  map[string]*casdoorsdk.User
	lookup int
}

func (f *fakeSource) GetUserByUserId(id string) (*casdoorsdk.User, error) {
	f.lookup++
	return f.users[id], nil
}

func (f *fakeSource) GetUsers() ([]*casdoorsdk.User, error) {
	out := make([]*casdoorsdk.User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, u)
	}
	return out, nil
}

func newFakeRoster(t *testing.T) (*UserCasdoor, *fakeSource) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	src := &fakeSource{users: map[string]*casdoorsdk.User{
		"s1": {Id: "s1", DisplayName: "Student One", Groups: []string{"school/10A"}},
		"s2": {Id: "s2", DisplayName: "Student Two", Groups: []string{"10B"}},
		"t1": {Id: "t1", DisplayName: "Teacher", Type: "teacher"},
	}}
	return newUserCasdoor(src, client), src
}

func TestUserCasdoor_GetByIDIsCached(t *testing.T) {
	repo, src := newFakeRoster(t)
	ctx := context.Background()

	u, err := repo.GetByID(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, models.RoleTeacher, u.Role)

	_, err = repo.GetByID(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, 1, src.lookup)
}

func TestUserCasdoor_GetByIDNotFound(t *testing.T) {
	repo, _ := newFakeRoster(t)

	_, err := repo.GetByID(context.Background(), "missing")
	require.True(t, repositories.IsNotFoundError(err))
}

func TestUserCasdoor_IsGroupMember(t *testing.T) {
	repo, _ := newFakeRoster(t)
	ctx := context.Background()

	ok, err := repo.IsGroupMember(ctx, "10A", "s1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.IsGroupMember(ctx, "10A", "s2")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = repo.IsGroupMember(ctx, "10A", "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUserCasdoor_ListGroupMembers(t *testing.T) {
	repo, _ := newFakeRoster(t)

	members, err := repo.ListGroupMembers(context.Background(), "10B")
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.Equal(t, "s2", members[0].ID)
}

func TestMapRole(t *testing.T) {
	require.Equal(t, models.RoleTeacher, MapRole("Instructor"))
	require.Equal(t, models.RoleAdmin, MapRole("administrator"))
	require.Equal(t, models.RoleStudent, MapRole("whatever"))
}
