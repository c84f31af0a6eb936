package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IdentityKey is the uniqueness scope of an Issue: one conceptual
// (record, field) pair within a subject's visit schedule. No two issues may
// coexist with the same key; a new error for the key replaces the old row.
type IdentityKey struct {
	LabelLower        string `json:"label_lower"`
	PanelName         string `json:"panel_name,omitempty"`
	VerboseName       string `json:"verbose_name"`
	SubjectIdentifier string `json:"subject_identifier"`
	VisitCode         string `json:"visit_code"`
	VisitCodeSequence int    `json:"visit_code_sequence"`
	VisitScheduleName string `json:"visit_schedule_name"`
	ScheduleName      string `json:"schedule_name"`
	FieldName         string `json:"field_name"`
}

// IssueScope selects all issues for one record within its visit, regardless
// of field. The display read path queries by scope.
type IssueScope struct {
	LabelLower string
	Visit      VisitReference
	PanelName  string
}

// Issue is one persisted validation error discovered by a revalidation run.
// Created by the runner, deleted by identity key before re-creation, never
// otherwise mutated.
type Issue struct {
	ID              uuid.UUID `json:"id"`
	SessionID       uuid.UUID `json:"session_id"`
	SessionDatetime time.Time `json:"session_datetime"`

	RawMessage   string `json:"raw_message"`
	Message      string `json:"message"`
	ShortMessage string `json:"short_message"`
	Response     string `json:"response"`

	SrcID               uuid.UUID  `json:"src_id"`
	SrcRevision         string     `json:"src_revision"`
	SrcReportDatetime   *time.Time `json:"src_report_datetime,omitempty"`
	SrcModifiedDatetime time.Time  `json:"src_modified_datetime"`
	SrcUserModified     string     `json:"src_user_modified"`
	SiteID              int        `json:"site_id"`

	ExtraFormFields   string `json:"extra_formfields"`
	ExcludeFormFields string `json:"exclude_formfields"`

	IdentityKey

	CreatedAt time.Time `json:"created_at"`
}

// String renders the operator-visible one-liner printed by verbose runs.
func (i Issue) String() string {
	return fmt.Sprintf("%s %s.%d %s.%s: %s",
		i.SubjectIdentifier, i.VisitCode, i.VisitCodeSequence,
		i.LabelLower, i.FieldName, i.ShortMessage)
}
