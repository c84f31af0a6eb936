package forms

import (
	"context"
	"fmt"
	"strings"

	"github.com/clinaudit/formrunner/internal/domain"
)

// Rule is an extra per-form validation check. Returned messages are merged
// into the form's error map by field name.
type Rule func(data Data, instance domain.Record) map[string][]string

// SchemaForm is the default validation routine: it checks the payload
// against the record type's schema descriptor (required fields, relation
// presence) and then applies any registered custom rules. Consumers with
// richer rule sets supply their own Form implementation instead.
type SchemaForm struct {
	schema   domain.RecordSchema
	rules    []Rule
	data     Data
	instance domain.Record
	errors   map[string][]string
}

// NewSchemaFactory returns a Factory producing SchemaForms for one record
// type's schema.
func NewSchemaFactory(schema domain.RecordSchema, rules ...Rule) Factory {
	return func(data Data, instance domain.Record) Form {
		return &SchemaForm{
			schema:   schema,
			rules:    rules,
			data:     data,
			instance: instance,
		}
	}
}

// IsValid runs the checks and populates the error map. Safe to call more
// than once; each call re-validates from scratch.
func (f *SchemaForm) IsValid(_ context.Context) bool {
	f.errors = make(map[string][]string)

	for _, field := range f.schema.Fields {
		if !field.Required {
			continue
		}
		switch field.Kind {
		case domain.FieldKindSingleRelation:
			if f.data.Record(field.Name) == nil {
				f.addError(field.Name, requiredMessage(field.Name))
			}
		case domain.FieldKindMultiRelation:
			if len(f.data.Records(field.Name)) == 0 {
				f.addError(field.Name, requiredMessage(field.Name))
			}
		default:
			if isBlank(f.data[field.Name]) {
				f.addError(field.Name, requiredMessage(field.Name))
			}
		}
	}

	for _, rule := range f.rules {
		for fieldName, messages := range rule(f.data, f.instance) {
			for _, message := range messages {
				f.addError(fieldName, message)
			}
		}
	}

	return len(f.errors) == 0
}

// Errors returns the per-field error messages populated by IsValid.
func (f *SchemaForm) Errors() map[string][]string {
	if f.errors == nil {
		return map[string][]string{}
	}
	return f.errors
}

func (f *SchemaForm) addError(fieldName, message string) {
	f.errors[fieldName] = append(f.errors[fieldName], message)
}

func isBlank(value any) bool {
	if value == nil {
		return true
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// requiredMessage renders the error the way form layers do, with the field
// label marked up for emphasis. The runner strips the markup for the plain
// message column.
func requiredMessage(fieldName string) string {
	label := strings.ReplaceAll(fieldName, "_", " ")
	if label != "" {
		label = strings.ToUpper(label[:1]) + label[1:]
	}
	return fmt.Sprintf("<b>%s</b> is required.", label)
}
