package repositories

import (
	"context"

	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
)

// UserRepository reads users and group membership from the identity
// provider. The service is not the owner of user data.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByIDs(ctx context.Context, ids []string) ([]*models.User, error)

	IsGroupMember(ctx context.Context, groupID, userID string) (bool, error)
	ListGroupMembers(ctx context.Context, groupID string) ([]*models.User, error)
}
