package validator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
)

func ptr[T any](v T) *T { return &v }

func fields(err error) []string {
	var out []string
	for _, e := range ToValidationErrors(err) {
		out = append(out, e.Field)
	}
	return out
}

func TestValidate_CreateExam(t *testing.T) {
	v := New()

	err := v.Validate(&CreateExamRequest{Title: "Algebra", Kind: models.ExamKindQuiz, Source: models.ExamSourceBank})
	require.NoError(t, err)

	err = v.Validate(&CreateExamRequest{Title: "", Kind: "olympiad", Source: "WORD", ScoringSet: "SET3"})
	require.Error(t, err)
	require.ElementsMatch(t, []string{"title", "kind", "source", "scoring_set"}, fields(err))
}

func TestValidate_SaveAnswerSlotKey(t *testing.T) {
	v := New()

	require.NoError(t, v.Validate(&SaveAnswerRequest{SlotKey: "q:12", SelectedOption: ptr("B")}))
	require.NoError(t, v.Validate(&SaveAnswerRequest{SlotKey: "s:1", TextAnswer: ptr("see drawing")}))

	for _, bad := range []string{"", "q:", "x:1", "q:0", "q:1;drop"} {
		err := v.Validate(&SaveAnswerRequest{SlotKey: bad})
		require.Error(t, err, bad)
	}
}

func TestValidate_GradeRequest(t *testing.T) {
	v := New()

	ok := &GradeRequest{
		ManualScores:    map[uint]float64{3: 1.5},
		SituationScores: []SituationScoreRequest{{Index: 1, Fraction: "2/3"}},
	}
	require.NoError(t, v.Validate(ok))

	bad := &GradeRequest{
		ManualScores:    map[uint]float64{3: -1},
		SituationScores: []SituationScoreRequest{{Index: 1, Fraction: "1/2"}},
	}
	err := v.Validate(bad)
	require.Error(t, err)
	require.Len(t, ToValidationErrors(err), 2)
}

func TestValidate_RunDuration(t *testing.T) {
	v := New()
	group := "10A"

	require.NoError(t, v.Validate(&CreateRunRequest{ExamID: 1, GroupID: &group, DurationMinutes: 45}))
	require.Error(t, v.Validate(&CreateRunRequest{ExamID: 1, GroupID: &group, DurationMinutes: 0}))
	require.Error(t, v.Validate(&CreateRunRequest{ExamID: 1, GroupID: &group, DurationMinutes: MaxRunDuration + 1}))
}

func TestValidateRunTarget(t *testing.T) {
	v := New()
	group, student := "10A", "s1"

	require.Empty(t, v.ValidateRunTarget(&CreateRunRequest{GroupID: &group}))
	require.Empty(t, v.ValidateRunTarget(&CreateRunRequest{StudentID: &student}))
	require.NotEmpty(t, v.ValidateRunTarget(&CreateRunRequest{}))
	require.NotEmpty(t, v.ValidateRunTarget(&CreateRunRequest{GroupID: &group, StudentID: &student}))
}

func TestValidateQuestions(t *testing.T) {
	v := New()

	valid := []QuestionRequest{
		{Number: 1, Type: models.MultipleChoice, Points: 1, CorrectAnswer: "B", Options: []OptionRequest{{Key: "A"}, {Key: "B"}}},
		{Number: 2, Type: models.OpenUnordered, Points: 2, CorrectAnswer: "1,3,5", RuleType: models.RuleUnorderedDigits},
		{Number: 3, Type: models.Situation, Points: 3, SituationIndex: ptr(1)},
	}
	require.NoError(t, v.ValidateQuestions(valid))

	invalid := []QuestionRequest{
		{Number: 1, Type: models.MultipleChoice, Points: 1, CorrectAnswer: "E", Options: []OptionRequest{{Key: "A"}, {Key: "B"}}},
		{Number: 1, Type: models.OpenSingleValue, Points: 1},
		{Number: 3, Type: models.Situation, Points: 3},
		{Number: 4, Type: "ESSAY", Points: 1},
	}
	err := v.ValidateQuestions(invalid)
	require.Error(t, err)
	require.ElementsMatch(t, []string{
		"questions[0].correct_answer",
		"questions[1].correct_answer",
		"questions[1].number",
		"questions[2].situation_index",
		"questions[3].type",
	}, fields(err))
}
