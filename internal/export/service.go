package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clinaudit/formrunner/internal/domain"
	"github.com/clinaudit/formrunner/internal/repository"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

// Service writes a revalidation session's issues to an xlsx workbook for the
// audit team to circulate. Synchronous; runs after the batch, not during.
type Service struct {
	issues repository.IssueRepository

	exportDir string
	now       func() time.Time
}

// Option customizes the export service.
type Option func(*Service)

// WithExportDirectory overrides the output directory.
func WithExportDirectory(dir string) Option {
	return func(s *Service) {
		if strings.TrimSpace(dir) != "" {
			s.exportDir = filepath.Clean(dir)
		}
	}
}

// WithClock overrides the timestamp source used in file names.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService wires an export service over the issue store.
func NewService(issues repository.IssueRepository, opts ...Option) *Service {
	service := &Service{
		issues:    issues,
		exportDir: filepath.Join(os.TempDir(), "formrunner-exports"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

const sheetName = "Issues"

var headerRow = []any{
	"session_id", "session_datetime", "label_lower", "panel_name",
	"verbose_name", "subject_identifier", "visit_code", "visit_code_sequence",
	"visit_schedule_name", "schedule_name", "field_name", "response",
	"message", "short_message", "src_id", "src_revision",
	"src_report_datetime", "src_modified_datetime", "src_user_modified",
	"site_id", "extra_formfields", "exclude_formfields",
}

// WriteSession writes all issues stamped with the session id to a new
// workbook and returns its path.
func (s *Service) WriteSession(ctx context.Context, sessionID uuid.UUID) (string, error) {
	issues, err := s.issues.ListBySession(ctx, sessionID)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(s.exportDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	f.SetSheetName(f.GetSheetName(0), sheetName)
	if err := f.SetSheetRow(sheetName, "A1", &headerRow); err != nil {
		return "", fmt.Errorf("failed to write header row: %w", err)
	}

	for i, issue := range issues {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return "", fmt.Errorf("failed to compute cell name: %w", err)
		}
		row := issueRow(issue)
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return "", fmt.Errorf("failed to write issue row: %w", err)
		}
	}

	fileName := fmt.Sprintf("issues_%s_%s.xlsx", sessionID, s.now().Format("20060102T150405"))
	path := filepath.Join(s.exportDir, fileName)
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save workbook: %w", err)
	}
	return path, nil
}

func issueRow(issue domain.Issue) []any {
	reportDatetime := ""
	if issue.SrcReportDatetime != nil {
		reportDatetime = issue.SrcReportDatetime.Format(time.RFC3339)
	}
	return []any{
		issue.SessionID.String(),
		issue.SessionDatetime.Format(time.RFC3339),
		issue.LabelLower,
		issue.PanelName,
		issue.VerboseName,
		issue.SubjectIdentifier,
		issue.VisitCode,
		issue.VisitCodeSequence,
		issue.VisitScheduleName,
		issue.ScheduleName,
		issue.FieldName,
		issue.Response,
		issue.Message,
		issue.ShortMessage,
		issue.SrcID.String(),
		issue.SrcRevision,
		reportDatetime,
		issue.SrcModifiedDatetime.Format(time.RFC3339),
		issue.SrcUserModified,
		issue.SiteID,
		issue.ExtraFormFields,
		issue.ExcludeFormFields,
	}
}
