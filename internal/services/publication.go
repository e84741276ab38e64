package services

import (
	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
)

// GateResult is the student-facing result of an attempt. Until the result
// is published every score is withheld and Pending is set, whether or not
// grading already happened.
func GateResult(a *models.Attempt, answers []models.Answer) *StudentResult {
	res := &StudentResult{
		AttemptID:  a.ID,
		RunID:      a.RunID,
		ExamID:     a.ExamID,
		Status:     a.Status,
		FinishedAt: a.FinishedAt,
		Pending:    true,
	}
	if !a.IsPublished || !a.IsGraded() {
		return res
	}

	res.Pending = false
	res.Score = floatPtr(*a.FinalScore)
	res.AutoScore = floatPtr(a.AutoScore)
	res.ManualScore = floatPtr(*a.ManualScore)
	res.MaxScore = floatPtr(a.MaxScore)
	res.SlotPoints = make(map[string]float64, len(answers))
	for _, ans := range answers {
		points := ans.AutoPoints
		if ans.ManualPoints != nil {
			points += *ans.ManualPoints
		}
		res.SlotPoints[ans.SlotKey] = points
	}
	return res
}

// StudentView strips scoring data from a full attempt response.
func StudentView(resp *AttemptResponse) *StudentAttemptResponse {
	a := resp.Attempt
	view := &StudentAttemptResponse{
		ID:               a.ID,
		RunID:            a.RunID,
		ExamID:           a.ExamID,
		Status:           a.Status,
		StartedAt:        a.StartedAt,
		ExpiresAt:        a.ExpiresAt,
		FinishedAt:       a.FinishedAt,
		RemainingSeconds: resp.RemainingSeconds,
		Items:            resp.Items,
		Resumed:          resp.Resumed,
		AlreadySubmitted: resp.AlreadySubmitted,
		IsPublished:      a.IsPublished,
	}

	for i := range resp.Answers {
		view.Answers = append(view.Answers, StudentAnswerView(&resp.Answers[i]))
	}
	// The automatic part is known at submit time; manual and final
	// scores stay behind publication.
	if a.Status.IsTerminal() {
		autoScore, maxScore := a.AutoScore, a.MaxScore
		view.AutoScore = &autoScore
		view.MaxScore = &maxScore
		view.Result = GateResult(a, resp.Answers)
	}
	return view
}

func StudentAnswerView(ans *models.Answer) StudentAnswer {
	return StudentAnswer{
		SlotKey:        ans.SlotKey,
		SelectedOption: ans.SelectedOption,
		TextAnswer:     ans.TextAnswer,
		CanvasID:       ans.CanvasID,
		UpdatedAt:      ans.UpdatedAt,
	}
}
