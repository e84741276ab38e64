package blueprint

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
)

func mcQuestion(t *testing.T, id uint, number int, keys ...string) models.ExamQuestion {
	t.Helper()
	q := models.ExamQuestion{ID: id, Number: number, Type: models.MultipleChoice, CorrectAnswer: keys[0], Points: 1}
	opts := make([]models.QuestionOption, len(keys))
	for i, k := range keys {
		opts[i] = models.QuestionOption{Key: k, Text: "option " + k}
	}
	require.NoError(t, q.SetOptions(opts))
	return q
}

func sampleQuestions(t *testing.T) []models.ExamQuestion {
	idx := 1
	return []models.ExamQuestion{
		mcQuestion(t, 11, 2, "A", "B", "C", "D", "E"),
		mcQuestion(t, 10, 1, "A", "B", "C", "D"),
		{ID: 12, Number: 3, Type: models.OpenUnordered, CorrectAnswer: "1,3,5", RuleType: models.RuleUnorderedDigits, Points: 2},
		{ID: 13, Number: 4, Type: models.Situation, SituationIndex: &idx, Points: 3},
	}
}

func TestBuild_Deterministic(t *testing.T) {
	questions := sampleQuestions(t)
	seed := SeedFor(42)

	first, err := Build(questions, seed)
	require.NoError(t, err)
	second, err := Build(questions, seed)
	require.NoError(t, err)

	a, err := Encode(first)
	require.NoError(t, err)
	b, err := Encode(second)
	require.NoError(t, err)
	require.Equal(t, string(a), string(b))
}

func TestBuild_OrdersByNumberAndTagsSlots(t *testing.T) {
	bp, err := Build(sampleQuestions(t), SeedFor(7))
	require.NoError(t, err)
	require.Len(t, bp.Items, 4)

	require.Equal(t, uint(10), bp.Items[0].QuestionID)
	require.Equal(t, 1, bp.Items[0].Position)
	require.Equal(t, "q:10", bp.Items[0].SlotKey)
	require.Equal(t, "s:1", bp.Items[3].SlotKey)

	// non-MC items carry no option order
	require.Empty(t, bp.Items[2].OptionOrder)
	require.Empty(t, bp.Items[3].OptionOrder)
}

func TestBuild_PermutesOptionsOnly(t *testing.T) {
	bp, err := Build(sampleQuestions(t), SeedFor(99))
	require.NoError(t, err)

	item := bp.Items[1]
	require.ElementsMatch(t, []string{"A", "B", "C", "D", "E"}, item.OptionOrder)
	for i, o := range item.Options {
		require.Equal(t, item.OptionOrder[i], o.Key)
	}
}

func TestBuild_SeedsDiffer(t *testing.T) {
	questions := []models.ExamQuestion{mcQuestion(t, 1, 1, "A", "B", "C", "D", "E", "F", "G", "H")}

	seen := map[string]bool{}
	for id := uint(1); id <= 20; id++ {
		bp, err := Build(questions, SeedFor(id))
		require.NoError(t, err)
		key := ""
		for _, k := range bp.Items[0].OptionOrder {
			key += k
		}
		seen[key] = true
	}
	require.Greater(t, len(seen), 1)
}

func TestBuild_DoesNotMutateInput(t *testing.T) {
	questions := sampleQuestions(t)
	before := string(questions[0].Options)

	_, err := Build(questions, SeedFor(3))
	require.NoError(t, err)
	require.Equal(t, before, string(questions[0].Options))
	require.Equal(t, 2, questions[0].Number)
}
