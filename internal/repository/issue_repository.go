package repository

import (
	"context"
	"fmt"

	"github.com/clinaudit/formrunner/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type issueRepository struct {
	pool *pgxpool.Pool
}

// NewIssueRepository wires an issue repository backed by pgxpool.
func NewIssueRepository(pool *pgxpool.Pool) IssueRepository {
	return &issueRepository{pool: pool}
}

const issueColumns = `id, session_id, session_datetime, raw_message, message,
	short_message, response, src_id, src_revision, src_report_datetime,
	src_modified_datetime, src_user_modified, site_id, extra_formfields,
	exclude_formfields, label_lower, panel_name, verbose_name,
	subject_identifier, visit_code, visit_code_sequence, visit_schedule_name,
	schedule_name, field_name, created_at`

const scopeClause = `label_lower = $1
	   AND panel_name = $2
	   AND subject_identifier = $3
	   AND visit_code = $4
	   AND visit_code_sequence = $5
	   AND visit_schedule_name = $6
	   AND schedule_name = $7`

func scopeArgs(scope domain.IssueScope) []any {
	return []any{
		scope.LabelLower,
		scope.PanelName,
		scope.Visit.SubjectIdentifier,
		scope.Visit.VisitCode,
		scope.Visit.VisitCodeSequence,
		scope.Visit.VisitScheduleName,
		scope.Visit.ScheduleName,
	}
}

func (r *issueRepository) Create(ctx context.Context, issue domain.Issue) (domain.Issue, error) {
	row := r.pool.QueryRow(ctx, insertIssueSQL, insertIssueArgs(issue)...)
	created, err := scanIssue(row)
	if err != nil {
		return domain.Issue{}, fmt.Errorf("failed to create issue: %w", err)
	}
	return created, nil
}

// Replace deletes the stale issues in a record's identity scope and inserts
// the replacements inside one transaction. A non-empty fieldName restricts
// both the delete and the inserts to that field, so filtered runs never
// touch other fields' issues.
func (r *issueRepository) Replace(ctx context.Context, scope domain.IssueScope, fieldName string, issues []domain.Issue) ([]domain.Issue, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	deleteSQL := `DELETE FROM issues WHERE ` + scopeClause
	deleteArgs := scopeArgs(scope)
	if fieldName != "" {
		deleteSQL += ` AND field_name = $8`
		deleteArgs = append(deleteArgs, fieldName)
	}
	if _, err := tx.Exec(ctx, deleteSQL, deleteArgs...); err != nil {
		return nil, fmt.Errorf("failed to delete stale issues: %w", err)
	}

	created := make([]domain.Issue, 0, len(issues))
	for _, issue := range issues {
		if fieldName != "" && issue.FieldName != fieldName {
			continue
		}
		row := tx.QueryRow(ctx, insertIssueSQL, insertIssueArgs(issue)...)
		inserted, err := scanIssue(row)
		if err != nil {
			return nil, fmt.Errorf("failed to create issue: %w", err)
		}
		created = append(created, inserted)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit issue replace: %w", err)
	}
	return created, nil
}

func (r *issueRepository) ListByScope(ctx context.Context, scope domain.IssueScope) ([]domain.Issue, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT `+issueColumns+`
		 FROM issues
		 WHERE `+scopeClause+`
		 ORDER BY field_name`,
		scopeArgs(scope)...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues by scope: %w", err)
	}
	defer rows.Close()

	return collectIssues(rows)
}

func (r *issueRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]domain.Issue, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT `+issueColumns+`
		 FROM issues
		 WHERE session_id = $1
		 ORDER BY label_lower, subject_identifier, visit_code, visit_code_sequence, field_name`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues by session: %w", err)
	}
	defer rows.Close()

	return collectIssues(rows)
}

const insertIssueSQL = `INSERT INTO issues (id, session_id, session_datetime,
	raw_message, message, short_message, response, src_id, src_revision,
	src_report_datetime, src_modified_datetime, src_user_modified, site_id,
	extra_formfields, exclude_formfields, label_lower, panel_name,
	verbose_name, subject_identifier, visit_code, visit_code_sequence,
	visit_schedule_name, schedule_name, field_name)
 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
	$16, $17, $18, $19, $20, $21, $22, $23, $24)
 RETURNING ` + issueColumns

func insertIssueArgs(issue domain.Issue) []any {
	id := issue.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	return []any{
		id,
		issue.SessionID,
		issue.SessionDatetime,
		issue.RawMessage,
		issue.Message,
		issue.ShortMessage,
		issue.Response,
		issue.SrcID,
		issue.SrcRevision,
		issue.SrcReportDatetime,
		issue.SrcModifiedDatetime,
		issue.SrcUserModified,
		issue.SiteID,
		issue.ExtraFormFields,
		issue.ExcludeFormFields,
		issue.LabelLower,
		issue.PanelName,
		issue.VerboseName,
		issue.SubjectIdentifier,
		issue.VisitCode,
		issue.VisitCodeSequence,
		issue.VisitScheduleName,
		issue.ScheduleName,
		issue.FieldName,
	}
}

func scanIssue(row pgx.Row) (domain.Issue, error) {
	var (
		issue             domain.Issue
		srcReportDatetime pgtype.Timestamptz
	)
	if err := row.Scan(
		&issue.ID,
		&issue.SessionID,
		&issue.SessionDatetime,
		&issue.RawMessage,
		&issue.Message,
		&issue.ShortMessage,
		&issue.Response,
		&issue.SrcID,
		&issue.SrcRevision,
		&srcReportDatetime,
		&issue.SrcModifiedDatetime,
		&issue.SrcUserModified,
		&issue.SiteID,
		&issue.ExtraFormFields,
		&issue.ExcludeFormFields,
		&issue.LabelLower,
		&issue.PanelName,
		&issue.VerboseName,
		&issue.SubjectIdentifier,
		&issue.VisitCode,
		&issue.VisitCodeSequence,
		&issue.VisitScheduleName,
		&issue.ScheduleName,
		&issue.FieldName,
		&issue.CreatedAt,
	); err != nil {
		return domain.Issue{}, err
	}

	if srcReportDatetime.Valid {
		t := srcReportDatetime.Time
		issue.SrcReportDatetime = &t
	}
	return issue, nil
}

func collectIssues(rows pgx.Rows) ([]domain.Issue, error) {
	issues := []domain.Issue{}
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate issues: %w", err)
	}
	return issues, nil
}
