package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/clinaudit/formrunner/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a record or schema lookup matches nothing.
var ErrNotFound = errors.New("not found")

type recordRepository struct {
	pool *pgxpool.Pool
}

// NewRecordRepository wires a record repository backed by pgxpool.
func NewRecordRepository(pool *pgxpool.Pool) RecordRepository {
	return &recordRepository{pool: pool}
}

const recordColumns = `id, record_type, attributes, revision, report_datetime,
	modified_datetime, user_modified, site_id, created_at`

func (r *recordRepository) Create(ctx context.Context, record domain.Record) (domain.Record, error) {
	attributesJSON, err := json.Marshal(record.Attributes)
	if err != nil {
		return domain.Record{}, fmt.Errorf("failed to marshal attributes: %w", err)
	}

	row := r.pool.QueryRow(
		ctx,
		`INSERT INTO records (id, record_type, attributes, revision, report_datetime,
			modified_datetime, user_modified, site_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+recordColumns,
		record.ID,
		record.RecordType,
		attributesJSON,
		record.Revision,
		record.ReportDatetime,
		record.ModifiedDatetime,
		record.UserModified,
		record.SiteID,
	)
	created, err := scanRecord(row)
	if err != nil {
		return domain.Record{}, fmt.Errorf("failed to create record: %w", err)
	}
	return created, nil
}

func (r *recordRepository) Update(ctx context.Context, record domain.Record) (domain.Record, error) {
	attributesJSON, err := json.Marshal(record.Attributes)
	if err != nil {
		return domain.Record{}, fmt.Errorf("failed to marshal attributes: %w", err)
	}

	row := r.pool.QueryRow(
		ctx,
		`UPDATE records
		 SET attributes = $2,
		     revision = $3,
		     report_datetime = $4,
		     modified_datetime = now(),
		     user_modified = $5,
		     site_id = $6
		 WHERE id = $1
		 RETURNING `+recordColumns,
		record.ID,
		attributesJSON,
		record.Revision,
		record.ReportDatetime,
		record.UserModified,
		record.SiteID,
	)
	updated, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Record{}, fmt.Errorf("record %s: %w", record.ID, ErrNotFound)
		}
		return domain.Record{}, fmt.Errorf("failed to update record: %w", err)
	}
	return updated, nil
}

func (r *recordRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Record, error) {
	row := r.pool.QueryRow(
		ctx,
		`SELECT `+recordColumns+` FROM records WHERE id = $1`,
		id,
	)
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Record{}, fmt.Errorf("record %s: %w", id, ErrNotFound)
		}
		return domain.Record{}, fmt.Errorf("failed to get record: %w", err)
	}
	return record, nil
}

func (r *recordRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Record, error) {
	if len(ids) == 0 {
		return []domain.Record{}, nil
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT `+recordColumns+` FROM records WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get records by ids: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

func (r *recordRepository) ListByType(ctx context.Context, recordType string, filter map[string]any) ([]domain.Record, error) {
	filterJSON, err := r.filterJSON(ctx, recordType, filter)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT `+recordColumns+`
		 FROM records
		 WHERE record_type = $1
		   AND attributes @> $2
		 ORDER BY created_at, id`,
		recordType,
		filterJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

func (r *recordRepository) CountByType(ctx context.Context, recordType string, filter map[string]any) (int64, error) {
	filterJSON, err := r.filterJSON(ctx, recordType, filter)
	if err != nil {
		return 0, err
	}

	var count int64
	err = r.pool.QueryRow(
		ctx,
		`SELECT count(*) FROM records WHERE record_type = $1 AND attributes @> $2`,
		recordType,
		filterJSON,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// filterJSON validates filter keys against the type's schema and encodes the
// filter for JSONB containment matching. Unknown keys are a field error so
// batch invocation can skip the type and continue.
func (r *recordRepository) filterJSON(ctx context.Context, recordType string, filter map[string]any) ([]byte, error) {
	if len(filter) == 0 {
		return []byte(`{}`), nil
	}

	schema, err := r.GetSchema(ctx, recordType)
	if err != nil {
		return nil, err
	}
	for key := range filter {
		if !schema.HasField(key) {
			return nil, &domain.FieldError{RecordType: recordType, Field: key}
		}
	}

	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal filter: %w", err)
	}
	return filterJSON, nil
}

func (r *recordRepository) GetSchema(ctx context.Context, recordType string) (domain.RecordSchema, error) {
	row := r.pool.QueryRow(
		ctx,
		`SELECT id, name, verbose_name, fields, created_at, updated_at
		 FROM record_schemas
		 WHERE name = $1`,
		recordType,
	)
	schema, err := scanSchema(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RecordSchema{}, fmt.Errorf("schema %q: %w", recordType, ErrNotFound)
		}
		return domain.RecordSchema{}, fmt.Errorf("failed to get schema: %w", err)
	}
	return schema, nil
}

func (r *recordRepository) ListSchemas(ctx context.Context) ([]domain.RecordSchema, error) {
	rows, err := r.pool.Query(
		ctx,
		`SELECT id, name, verbose_name, fields, created_at, updated_at
		 FROM record_schemas
		 ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list schemas: %w", err)
	}
	defer rows.Close()

	schemas := []domain.RecordSchema{}
	for rows.Next() {
		schema, err := scanSchema(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schema: %w", err)
		}
		schemas = append(schemas, schema)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate schemas: %w", err)
	}
	return schemas, nil
}

func (r *recordRepository) CreateSchema(ctx context.Context, schema domain.RecordSchema) (domain.RecordSchema, error) {
	fieldsJSON, err := schema.GetFieldsAsJSONB()
	if err != nil {
		return domain.RecordSchema{}, fmt.Errorf("failed to marshal schema fields: %w", err)
	}

	row := r.pool.QueryRow(
		ctx,
		`INSERT INTO record_schemas (id, name, verbose_name, fields)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, name, verbose_name, fields, created_at, updated_at`,
		schema.ID,
		schema.Name,
		schema.VerboseName,
		fieldsJSON,
	)
	created, err := scanSchema(row)
	if err != nil {
		return domain.RecordSchema{}, fmt.Errorf("failed to create schema: %w", err)
	}
	return created, nil
}

func scanRecord(row pgx.Row) (domain.Record, error) {
	var (
		record         domain.Record
		attributesJSON []byte
		reportDatetime pgtype.Timestamptz
	)
	if err := row.Scan(
		&record.ID,
		&record.RecordType,
		&attributesJSON,
		&record.Revision,
		&reportDatetime,
		&record.ModifiedDatetime,
		&record.UserModified,
		&record.SiteID,
		&record.CreatedAt,
	); err != nil {
		return domain.Record{}, err
	}

	if err := json.Unmarshal(attributesJSON, &record.Attributes); err != nil {
		return domain.Record{}, fmt.Errorf("failed to unmarshal attributes: %w", err)
	}
	if reportDatetime.Valid {
		t := reportDatetime.Time
		record.ReportDatetime = &t
	}
	return record, nil
}

func collectRecords(rows pgx.Rows) ([]domain.Record, error) {
	records := []domain.Record{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return records, nil
}

func scanSchema(row pgx.Row) (domain.RecordSchema, error) {
	var (
		schema     domain.RecordSchema
		fieldsJSON []byte
	)
	if err := row.Scan(
		&schema.ID,
		&schema.Name,
		&schema.VerboseName,
		&fieldsJSON,
		&schema.CreatedAt,
		&schema.UpdatedAt,
	); err != nil {
		return domain.RecordSchema{}, err
	}

	fields, err := domain.FromJSONBDescriptors(fieldsJSON)
	if err != nil {
		return domain.RecordSchema{}, fmt.Errorf("failed to unmarshal schema fields: %w", err)
	}
	schema.Fields = fields
	return schema, nil
}
