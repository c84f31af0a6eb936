package forms

import (
	"context"

	"github.com/clinaudit/formrunner/internal/domain"
)

// Data is the reconstructed field-name to value payload fed to a form,
// emulating what a human-submitted form would have supplied. Scalar fields
// hold their stored value; single relations hold the resolved *domain.Record
// (nil when unresolvable); multi relations hold the full []domain.Record.
type Data map[string]any

// Record returns the related record stored under a single-relation key.
func (d Data) Record(name string) *domain.Record {
	value, ok := d[name]
	if !ok || value == nil {
		return nil
	}
	record, ok := value.(*domain.Record)
	if !ok {
		return nil
	}
	return record
}

// Records returns the related collection stored under a multi-relation key.
func (d Data) Records(name string) []domain.Record {
	value, ok := d[name]
	if !ok || value == nil {
		return nil
	}
	records, ok := value.([]domain.Record)
	if !ok {
		return nil
	}
	return records
}

// Form is one validation routine bound to a reconstructed payload and the
// existing stored record. IsValid populates the per-field error map as a
// side effect; Errors exposes it afterwards.
type Form interface {
	IsValid(ctx context.Context) bool
	Errors() map[string][]string
}

// Factory constructs the validation routine for one record instance.
type Factory func(data Data, instance domain.Record) Form

// Binding pairs a registered factory with the record type it targets.
type Binding struct {
	RecordType string
	Factory    Factory
}
