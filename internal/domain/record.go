package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Well-known attribute and relation names shared by visit-tracked records.
const (
	AttrSubjectIdentifier = "subject_identifier"
	AttrVisitCode         = "visit_code"
	AttrVisitCodeSequence = "visit_code_sequence"
	AttrVisitScheduleName = "visit_schedule_name"
	AttrScheduleName      = "schedule_name"
	AttrPanelName         = "name"

	RelationSubjectVisit = "subject_visit"
	RelationPanel        = "panel"
)

// Record represents a persisted instance of a record type. Scalar values and
// related-record ids live in the Attributes bag; the record type's schema
// descriptor says which attribute is which.
type Record struct {
	ID               uuid.UUID      `json:"id"`
	RecordType       string         `json:"record_type"`
	Attributes       map[string]any `json:"attributes"`
	Revision         string         `json:"revision"`
	ReportDatetime   *time.Time     `json:"report_datetime,omitempty"`
	ModifiedDatetime time.Time      `json:"modified_datetime"`
	UserModified     string         `json:"user_modified"`
	SiteID           int            `json:"site_id"`
	CreatedAt        time.Time      `json:"created_at"`
}

// NewRecord creates a record with a fresh id and a defensive copy of the
// attribute bag.
func NewRecord(recordType string, attributes map[string]any) Record {
	now := time.Now()
	return Record{
		ID:               uuid.New(),
		RecordType:       recordType,
		Attributes:       copyAttributes(attributes),
		ModifiedDatetime: now,
		CreatedAt:        now,
	}
}

// Attr returns an attribute value and whether it is present and non-nil.
func (r Record) Attr(name string) (any, bool) {
	value, ok := r.Attributes[name]
	if !ok || value == nil {
		return nil, false
	}
	return value, true
}

// StringAttr returns the attribute's string form, or "" when absent.
func (r Record) StringAttr(name string) string {
	value, ok := r.Attr(name)
	if !ok {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}

// IntAttr returns the attribute coerced to int, or 0 when absent or not
// numeric. JSONB round-trips numbers as float64, so both forms are accepted.
func (r Record) IntAttr(name string) int {
	value, ok := r.Attr(name)
	if !ok {
		return 0
	}
	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// RelationID returns the related-record id stored under a single-valued
// relation attribute. Absent or unparseable values report ok=false.
func (r Record) RelationID(name string) (uuid.UUID, bool) {
	value, ok := r.Attr(name)
	if !ok {
		return uuid.Nil, false
	}
	return parseRelationID(value)
}

// RelationIDs returns all related-record ids stored under a multi-valued
// relation attribute, skipping entries that do not parse.
func (r Record) RelationIDs(name string) []uuid.UUID {
	value, ok := r.Attr(name)
	if !ok {
		return nil
	}
	items, ok := value.([]any)
	if !ok {
		if id, ok := parseRelationID(value); ok {
			return []uuid.UUID{id}
		}
		return nil
	}
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		if id, ok := parseRelationID(item); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func parseRelationID(value any) (uuid.UUID, bool) {
	switch v := value.(type) {
	case uuid.UUID:
		return v, v != uuid.Nil
	case string:
		id, err := uuid.Parse(v)
		if err != nil {
			return uuid.Nil, false
		}
		return id, true
	default:
		return uuid.Nil, false
	}
}

// VisitReference carries the visit-tracking fields that scope issue identity.
type VisitReference struct {
	SubjectIdentifier string `json:"subject_identifier"`
	VisitCode         string `json:"visit_code"`
	VisitCodeSequence int    `json:"visit_code_sequence"`
	VisitScheduleName string `json:"visit_schedule_name"`
	ScheduleName      string `json:"schedule_name"`
}

// VisitReference reads the visit-tracking attributes off the record. For a
// visit record these are its own fields; for anything else the caller should
// first substitute the record's related visit.
func (r Record) VisitReference() VisitReference {
	return VisitReference{
		SubjectIdentifier: r.StringAttr(AttrSubjectIdentifier),
		VisitCode:         r.StringAttr(AttrVisitCode),
		VisitCodeSequence: r.IntAttr(AttrVisitCodeSequence),
		VisitScheduleName: r.StringAttr(AttrVisitScheduleName),
		ScheduleName:      r.StringAttr(AttrScheduleName),
	}
}

// WithAttribute returns a new record with an added/updated attribute.
func (r Record) WithAttribute(name string, value any) Record {
	attributes := copyAttributes(r.Attributes)
	attributes[name] = value
	r.Attributes = attributes
	r.ModifiedDatetime = time.Now()
	return r
}

// WithoutAttribute returns a new record without the named attribute.
func (r Record) WithoutAttribute(name string) Record {
	attributes := copyAttributes(r.Attributes)
	delete(attributes, name)
	r.Attributes = attributes
	r.ModifiedDatetime = time.Now()
	return r
}

func copyAttributes(attributes map[string]any) map[string]any {
	copied := make(map[string]any, len(attributes))
	for k, v := range attributes {
		copied[k] = v
	}
	return copied
}
