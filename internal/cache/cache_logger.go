package cache

import (
	"context"
	"fmt"
	"log/slog"
)

// SafeInvalidatePattern safely invalidates cache pattern with logging
func SafeInvalidatePattern(ctx context.Context, helper *CacheHelper, pattern string) {
	if err := helper.InvalidatePattern(ctx, pattern); err != nil {
		slog.ErrorContext(ctx, "Failed to invalidate cache pattern",
			"error", err,
			"pattern", pattern)
	}
}

// SafeDelete safely deletes cache keys with logging
func SafeDelete(ctx context.Context, helper *CacheHelper, keys ...string) {
	if err := helper.Delete(ctx, keys...); err != nil {
		slog.ErrorContext(ctx, "Failed to delete cache keys",
			"error", err,
			"keys", keys)
	}
}

func ExamKey(examID uint) string {
	return fmt.Sprintf("id:%d", examID)
}

func QuestionSetKey(examID uint) string {
	return fmt.Sprintf("exam:%d", examID)
}

func GroupMemberKey(groupID, userID string) string {
	return fmt.Sprintf("group:%s:member:%s", groupID, userID)
}

func UserKey(userID string) string {
	return fmt.Sprintf("user:%s", userID)
}

// InvalidateExamCache drops the exam row and its question set.
func InvalidateExamCache(ctx context.Context, cm *CacheManager, examID uint) {
	SafeDelete(ctx, cm.Exam, ExamKey(examID))
	SafeDelete(ctx, cm.Questions, QuestionSetKey(examID))
}

// InvalidateGroupCache drops every cached membership answer of a group.
func InvalidateGroupCache(ctx context.Context, cm *CacheManager, groupID string) {
	SafeInvalidatePattern(ctx, cm.Roster, fmt.Sprintf("group:%s:*", groupID))
}
