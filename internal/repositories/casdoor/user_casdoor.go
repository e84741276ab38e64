package casdoor

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/casdoor/casdoor-go-sdk/casdoorsdk"
	"github.com/redis/go-redis/v9"

	"github.com/SAP-F-2025/exam-attempt-service/internal/cache"
	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
	"github.com/SAP-F-2025/exam-attempt-service/internal/repositories"
)

// CasdoorConfig holds the configuration for Casdoor connection
type CasdoorConfig struct {
	Endpoint         string
	ClientID         string
	ClientSecret     string
	Certificate      string
	OrganizationName string
	ApplicationName  string
}

// userSource is the subset of the Casdoor client the roster needs.
type userSource interface {
	GetUserByUserId(userId string) (*casdoorsdk.User, error)
	GetUsers() ([]*casdoorsdk.User, error)
}

type UserCasdoor struct {
	client userSource
	cache  *cache.CacheManager
}

func NewUserCasdoor(config CasdoorConfig, redisClient *redis.Client) repositories.UserRepository {
	client := casdoorsdk.NewClient(
		config.Endpoint,
		config.ClientID,
		config.ClientSecret,
		config.Certificate,
		config.OrganizationName,
		config.ApplicationName,
	)
	return newUserCasdoor(client, redisClient)
}

func newUserCasdoor(client userSource, redisClient *redis.Client) *UserCasdoor {
	return &UserCasdoor{
		client: client,
		cache:  cache.NewCacheManager(redisClient),
	}
}

// ===== CONVERSION METHODS =====

// convertCasdoorUserToModel converts Casdoor user to internal model
func convertCasdoorUserToModel(casdoorUser *casdoorsdk.User) *models.User {
	if casdoorUser == nil {
		return nil
	}

	return &models.User{
		ID:       casdoorUser.Id,
		FullName: casdoorUser.DisplayName,
		Email:    casdoorUser.Email,
		Role:     convertCasdoorRolesToModel(casdoorUser),
		Groups:   slices.Clone(casdoorUser.Groups),
	}
}

func convertCasdoorRolesToModel(casdoorUser *casdoorsdk.User) models.UserRole {
	if casdoorUser.IsAdmin {
		return models.RoleAdmin
	}

	var roles []models.UserRole
	for _, casdoorRole := range casdoorUser.Roles {
		if casdoorRole == nil {
			continue
		}
		roles = append(roles, MapRole(casdoorRole.Name))
	}
	if casdoorUser.Type != "" {
		roles = append(roles, MapRole(casdoorUser.Type))
	}

	// admin wins over teacher, teacher over student
	switch {
	case slices.Contains(roles, models.RoleAdmin):
		return models.RoleAdmin
	case slices.Contains(roles, models.RoleTeacher):
		return models.RoleTeacher
	}
	return models.RoleStudent
}

// MapRole maps a Casdoor role or user type name to a service role.
func MapRole(casdoorType string) models.UserRole {
	switch strings.ToLower(casdoorType) {
	case "teacher", "instructor":
		return models.RoleTeacher
	case "admin", "administrator":
		return models.RoleAdmin
	default:
		return models.RoleStudent
	}
}

// ===== READ OPERATIONS =====

// GetByID retrieves a user by ID
func (u *UserCasdoor) GetByID(ctx context.Context, id string) (*models.User, error) {
	return cache.CacheOrLoad(ctx, u.cache.Roster, cache.UserKey(id), cache.RosterCacheConfig.TTL, func() (*models.User, error) {
		casdoorUser, err := u.client.GetUserByUserId(id)
		if err != nil {
			return nil, fmt.Errorf("failed to get user from Casdoor: %w", err)
		}
		if casdoorUser == nil {
			return nil, fmt.Errorf("user %s: %w", id, repositories.ErrNotFound)
		}
		return convertCasdoorUserToModel(casdoorUser), nil
	})
}

// GetByIDs retrieves multiple users by their IDs. Unknown ids are skipped.
func (u *UserCasdoor) GetByIDs(ctx context.Context, ids []string) ([]*models.User, error) {
	users := make([]*models.User, 0, len(ids))
	for _, id := range ids {
		user, err := u.GetByID(ctx, id)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				continue
			}
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

// ===== GROUP MEMBERSHIP =====

// IsGroupMember checks membership through the user's Casdoor groups.
func (u *UserCasdoor) IsGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	return cache.CacheOrLoad(ctx, u.cache.Roster, cache.GroupMemberKey(groupID, userID), cache.RosterCacheConfig.TTL, func() (bool, error) {
		user, err := u.GetByID(ctx, userID)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return false, nil
			}
			return false, err
		}
		return user.InGroup(groupID), nil
	})
}

// ListGroupMembers lists the students of a group.
func (u *UserCasdoor) ListGroupMembers(ctx context.Context, groupID string) ([]*models.User, error) {
	casdoorUsers, err := u.client.GetUsers()
	if err != nil {
		return nil, fmt.Errorf("failed to list users from Casdoor: %w", err)
	}

	members := make([]*models.User, 0)
	for _, cu := range casdoorUsers {
		user := convertCasdoorUserToModel(cu)
		if user != nil && user.InGroup(groupID) {
			members = append(members, user)
		}
	}
	return members, nil
}
