package relations

import (
	"context"
	"fmt"
	"time"

	"github.com/clinaudit/formrunner/internal/domain"
	"github.com/clinaudit/formrunner/internal/repository"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"
)

// Resolver looks up related records by id through a caching batch loader.
// Revalidation runs resolve the same visit and panel rows over and over;
// repeat lookups are served from the loader cache instead of the database.
type Resolver struct {
	loader *dataloader.Loader
}

// NewResolver wires a resolver over the record repository.
func NewResolver(repo repository.RecordRepository) *Resolver {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		// Convert keys to []uuid.UUID
		ids := make([]uuid.UUID, len(keys))
		for i, k := range keys {
			id, err := uuid.Parse(k.String())
			if err != nil {
				return []*dataloader.Result{{Error: fmt.Errorf("invalid UUID: %w", err)}}
			}
			ids[i] = id
		}

		// Fetch records in batch
		records, err := repo.GetByIDs(ctx, ids)
		if err != nil {
			results := make([]*dataloader.Result, len(keys))
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		// Map UUID -> record for ordering
		recordMap := make(map[uuid.UUID]domain.Record)
		for _, r := range records {
			recordMap[r.ID] = r
		}

		// Build results in the same order as keys
		results := make([]*dataloader.Result, len(keys))
		for i, id := range ids {
			if r, ok := recordMap[id]; ok {
				results[i] = &dataloader.Result{Data: r}
			} else {
				results[i] = &dataloader.Result{Data: nil}
			}
		}

		return results
	}

	return &Resolver{
		loader: dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(5*time.Millisecond)),
	}
}

// Record resolves one related record by id. A missing record returns
// (nil, nil); payload reconstruction treats it as an absent relation.
func (r *Resolver) Record(ctx context.Context, id uuid.UUID) (*domain.Record, error) {
	value, err := r.loader.Load(ctx, dataloader.StringKey(id.String()))()
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}
	record, ok := value.(domain.Record)
	if !ok {
		return nil, fmt.Errorf("unexpected loader result type %T", value)
	}
	return &record, nil
}

// Records resolves the full related collection for a multi-valued relation.
// Ids that no longer resolve are skipped.
func (r *Resolver) Records(ctx context.Context, ids []uuid.UUID) ([]domain.Record, error) {
	if len(ids) == 0 {
		return []domain.Record{}, nil
	}

	keys := make(dataloader.Keys, len(ids))
	for i, id := range ids {
		keys[i] = dataloader.StringKey(id.String())
	}

	values, errs := r.loader.LoadMany(ctx, keys)()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	records := make([]domain.Record, 0, len(values))
	for _, value := range values {
		if value == nil {
			continue
		}
		record, ok := value.(domain.Record)
		if !ok {
			return nil, fmt.Errorf("unexpected loader result type %T", value)
		}
		records = append(records, record)
	}
	return records, nil
}
