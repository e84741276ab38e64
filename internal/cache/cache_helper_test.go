package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*CacheManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCacheManager(client), mr
}

type questionSet struct {
	ExamID uint     `json:"exam_id"`
	Slots  []string `json:"slots"`
}

func TestCacheOrLoad_HitAfterMiss(t *testing.T) {
	cm, mr := newTestManager(t)
	ctx := context.Background()

	calls := 0
	load := func() (questionSet, error) {
		calls++
		return questionSet{ExamID: 7, Slots: []string{"q:1", "s:1"}}, nil
	}

	first, err := CacheOrLoad(ctx, cm.Questions, QuestionSetKey(7), time.Minute, load)
	require.NoError(t, err)
	second, err := CacheOrLoad(ctx, cm.Questions, QuestionSetKey(7), time.Minute, load)
	require.NoError(t, err)

	require.Equal(t, 1, calls)
	require.Equal(t, first, second)
	require.True(t, mr.Exists("questions:exam:7"))
}

func TestCacheOrLoad_LoadErrorIsNotCached(t *testing.T) {
	cm, mr := newTestManager(t)

	_, err := CacheOrLoad(context.Background(), cm.Exam, ExamKey(1), time.Minute, func() (questionSet, error) {
		return questionSet{}, errors.New("boom")
	})
	require.Error(t, err)
	require.False(t, mr.Exists("exam:id:1"))
}

func TestCacheOrLoad_WithoutRedis(t *testing.T) {
	cm := NewCacheManager(nil)

	calls := 0
	for i := 0; i < 2; i++ {
		v, err := CacheOrLoad(context.Background(), cm.Exam, ExamKey(1), time.Minute, func() (int, error) {
			calls++
			return 5, nil
		})
		require.NoError(t, err)
		require.Equal(t, 5, v)
	}
	require.Equal(t, 2, calls)
	require.ErrorIs(t, cm.HealthCheck(context.Background()), ErrCacheNotAvailable)
}

func TestInvalidateExamCache(t *testing.T) {
	cm, mr := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, cm.Exam.Set(ctx, ExamKey(3), map[string]int{"id": 3}, time.Minute))
	require.NoError(t, cm.Questions.Set(ctx, QuestionSetKey(3), []int{1, 2}, time.Minute))
	require.NoError(t, cm.Questions.Set(ctx, QuestionSetKey(4), []int{1}, time.Minute))

	InvalidateExamCache(ctx, cm, 3)

	require.False(t, mr.Exists("exam:id:3"))
	require.False(t, mr.Exists("questions:exam:3"))
	require.True(t, mr.Exists("questions:exam:4"))
}

func TestInvalidateGroupCache(t *testing.T) {
	cm, mr := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, cm.Roster.Set(ctx, GroupMemberKey("g1", "s1"), true, time.Minute))
	require.NoError(t, cm.Roster.Set(ctx, GroupMemberKey("g1", "s2"), false, time.Minute))
	require.NoError(t, cm.Roster.Set(ctx, GroupMemberKey("g2", "s1"), true, time.Minute))

	InvalidateGroupCache(ctx, cm, "g1")

	require.False(t, mr.Exists("roster:group:g1:member:s1"))
	require.False(t, mr.Exists("roster:group:g1:member:s2"))
	require.True(t, mr.Exists("roster:group:g2:member:s1"))
}
