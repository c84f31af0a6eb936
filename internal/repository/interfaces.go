package repository

import (
	"context"

	"github.com/clinaudit/formrunner/internal/domain"

	"github.com/google/uuid"
)

// RecordRepository defines the storage operations the revalidator needs over
// stored records: a filterable, countable, iterable view of one record type
// plus id lookups for relation resolution.
type RecordRepository interface {
	Create(ctx context.Context, record domain.Record) (domain.Record, error)
	Update(ctx context.Context, record domain.Record) (domain.Record, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Record, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Record, error)
	// ListByType returns all records of a type matching the optional
	// attribute filter, in storage order. Filter keys must be declared by
	// the type's schema; unknown keys yield a domain.FieldError.
	ListByType(ctx context.Context, recordType string, filter map[string]any) ([]domain.Record, error)
	CountByType(ctx context.Context, recordType string, filter map[string]any) (int64, error)

	GetSchema(ctx context.Context, recordType string) (domain.RecordSchema, error)
	ListSchemas(ctx context.Context) ([]domain.RecordSchema, error)
	CreateSchema(ctx context.Context, schema domain.RecordSchema) (domain.RecordSchema, error)
}

// IssueRepository defines the create/filter/delete surface over persisted
// issues. Replace is the runner's write path: delete the stale issues in a
// record's identity scope, then insert the replacements, in one transaction.
type IssueRepository interface {
	Create(ctx context.Context, issue domain.Issue) (domain.Issue, error)
	Replace(ctx context.Context, scope domain.IssueScope, fieldName string, issues []domain.Issue) ([]domain.Issue, error)
	// ListByScope returns issues matching every identity-key field except
	// field_name, for presentation-time display.
	ListByScope(ctx context.Context, scope domain.IssueScope) ([]domain.Issue, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]domain.Issue, error)
}
