package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FieldKind classifies how a declared field is stored and resolved.
type FieldKind string

const (
	// FieldKindScalar is a plain value kept in the attribute bag.
	FieldKindScalar FieldKind = "scalar"
	// FieldKindSingleRelation stores one related-record id (one-to-one or
	// many-to-one).
	FieldKindSingleRelation FieldKind = "single_relation"
	// FieldKindMultiRelation stores a list of related-record ids.
	FieldKindMultiRelation FieldKind = "multi_relation"
)

// FieldDescriptor describes one declared field of a record type.
type FieldDescriptor struct {
	Name       string    `json:"name"`
	Kind       FieldKind `json:"kind"`
	TargetType string    `json:"targetType,omitempty"`
	Required   bool      `json:"required,omitempty"`
}

// IsRelation reports whether the field resolves to related records.
func (f FieldDescriptor) IsRelation() bool {
	return f.Kind == FieldKindSingleRelation || f.Kind == FieldKindMultiRelation
}

// RecordSchema is the storage-supplied descriptor for a record type. Name is
// the record type identifier (label_lower form, e.g. "meta_subject.bloodresult"),
// VerboseName the human readable label.
type RecordSchema struct {
	ID          uuid.UUID         `json:"id"`
	Name        string            `json:"name"`
	VerboseName string            `json:"verbose_name"`
	Fields      []FieldDescriptor `json:"fields"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// NewRecordSchema creates a schema descriptor with a defensive copy of the
// field list.
func NewRecordSchema(name, verboseName string, fields []FieldDescriptor) RecordSchema {
	now := time.Now()
	return RecordSchema{
		ID:          uuid.New(),
		Name:        name,
		VerboseName: verboseName,
		Fields:      copyDescriptors(fields),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Field returns the descriptor for a declared field name.
func (s RecordSchema) Field(name string) (FieldDescriptor, bool) {
	for _, field := range s.Fields {
		if field.Name == name {
			return field, true
		}
	}
	return FieldDescriptor{}, false
}

// HasField reports whether the field name is declared.
func (s RecordSchema) HasField(name string) bool {
	_, ok := s.Field(name)
	return ok
}

// Relations returns the declared relation fields in declaration order.
func (s RecordSchema) Relations() []FieldDescriptor {
	var relations []FieldDescriptor
	for _, field := range s.Fields {
		if field.IsRelation() {
			relations = append(relations, field)
		}
	}
	return relations
}

// IsRelationField reports whether the named field is a declared relation.
func (s RecordSchema) IsRelationField(name string) bool {
	field, ok := s.Field(name)
	return ok && field.IsRelation()
}

// GetFieldsAsJSONB returns the field list as JSONB for database storage.
func (s RecordSchema) GetFieldsAsJSONB() (json.RawMessage, error) {
	return json.Marshal(s.Fields)
}

// FromJSONBDescriptors decodes a stored field list.
func FromJSONBDescriptors(fieldsJSON json.RawMessage) ([]FieldDescriptor, error) {
	var fields []FieldDescriptor
	err := json.Unmarshal(fieldsJSON, &fields)
	return fields, err
}

func copyDescriptors(fields []FieldDescriptor) []FieldDescriptor {
	if fields == nil {
		return nil
	}
	copied := make([]FieldDescriptor, len(fields))
	copy(copied, fields)
	return copied
}

// FieldError reports a lookup against a field the record type does not
// declare. Batch invocation treats it as a per-type failure and moves on.
type FieldError struct {
	RecordType string
	Field      string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("unknown field %q for record type %q", e.Field, e.RecordType)
}
