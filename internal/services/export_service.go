package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/SAP-F-2025/exam-attempt-service/internal/models"
	"github.com/SAP-F-2025/exam-attempt-service/internal/repositories"
)

const resultsSheet = "Results"

var resultsHeader = []interface{}{
	"Attempt", "Student ID", "Student", "Status", "Auto score", "Manual score",
	"Final score", "Max score", "Published", "Started at", "Finished at",
}

type exportService struct {
	repo   repositories.Repository
	logger *slog.Logger
}

func NewExportService(repo repositories.Repository, logger *slog.Logger) ExportService {
	return &exportService{repo: repo, logger: logger}
}

// RunResults writes one row per non-archived attempt of the run as an xlsx
// workbook.
func (s *exportService) RunResults(ctx context.Context, runID uint, userID string, w io.Writer) error {
	run, err := loadRun(ctx, s.repo, nil, runID)
	if err != nil {
		return err
	}
	exam, err := loadExam(ctx, s.repo, nil, run.ExamID)
	if err != nil {
		return err
	}
	if err := authorizeExam(ctx, s.repo, exam, userID, "export"); err != nil {
		return err
	}

	attempts, _, err := s.repo.Attempt().List(ctx, nil, repositories.AttemptFilters{
		RunID:     &run.ID,
		SortBy:    "id",
		SortOrder: "asc",
	})
	if err != nil {
		return fmt.Errorf("failed to list attempts: %w", err)
	}

	names := s.studentNames(ctx, attempts)

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", resultsSheet); err != nil {
		return err
	}
	if err := f.SetSheetRow(resultsSheet, "A1", &resultsHeader); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	lastCol, _ := excelize.ColumnNumberToName(len(resultsHeader))
	if err := f.SetCellStyle(resultsSheet, "A1", lastCol+"1", bold); err != nil {
		return err
	}

	for i, a := range attempts {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := resultRow(a, names[a.StudentID])
		if err := f.SetSheetRow(resultsSheet, cell, &row); err != nil {
			return err
		}
	}

	if err := f.SetPanes(resultsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}

	s.logger.Info("Exported run results", "run_id", run.ID, "rows", len(attempts), "user_id", userID)
	return f.Write(w)
}

// studentNames is best effort; a roster failure leaves the column empty.
func (s *exportService) studentNames(ctx context.Context, attempts []*models.Attempt) map[string]string {
	ids := make([]string, 0, len(attempts))
	seen := make(map[string]bool)
	for _, a := range attempts {
		if !seen[a.StudentID] {
			seen[a.StudentID] = true
			ids = append(ids, a.StudentID)
		}
	}

	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names
	}
	users, err := s.repo.User().GetByIDs(ctx, ids)
	if err != nil {
		s.logger.Warn("Failed to resolve student names", "error", err)
		return names
	}
	for _, u := range users {
		names[u.ID] = u.FullName
	}
	return names
}

func resultRow(a *models.Attempt, name string) []interface{} {
	return []interface{}{
		a.ID,
		a.StudentID,
		name,
		string(a.Status),
		a.AutoScore,
		optionalFloat(a.ManualScore),
		optionalFloat(a.FinalScore),
		a.MaxScore,
		a.IsPublished,
		optionalTime(a.StartedAt),
		optionalTime(a.FinishedAt),
	}
}

func optionalFloat(v *float64) interface{} {
	if v == nil {
		return ""
	}
	return *v
}

func optionalTime(t *time.Time) interface{} {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
