package runner

import (
	"context"
	"errors"
	"log"

	"github.com/clinaudit/formrunner/internal/domain"
	"github.com/clinaudit/formrunner/internal/forms"
	"github.com/clinaudit/formrunner/internal/relations"
	"github.com/clinaudit/formrunner/internal/repository"
)

// RunAll resolves registered validation routines by app label or record-type
// name and runs each in turn. A type failing on a field lookup or a missing
// schema is reported and skipped; any other failure aborts the batch.
// Invoking with neither selector returns forms.ErrNothingToDo.
func RunAll(
	ctx context.Context,
	records repository.RecordRepository,
	issues repository.IssueRepository,
	appLabels, modelNames []string,
	opts ...Option,
) error {
	bindings, err := forms.Resolve(appLabels, modelNames)
	if err != nil {
		return err
	}

	// One shared resolver so visit and panel rows cached for one type serve
	// the rest of the batch.
	resolver := relations.NewResolver(records)

	for _, binding := range bindings {
		log.Printf("%s", binding.RecordType)
		r := New(binding.Factory, binding.RecordType, records, issues,
			append(append([]Option{}, opts...), WithResolver(resolver))...)
		if err := r.Run(ctx, RunFilter{}); err != nil {
			var fieldErr *domain.FieldError
			if errors.As(err, &fieldErr) || errors.Is(err, repository.ErrNotFound) {
				log.Printf("%v. See %s.", err, binding.RecordType)
				continue
			}
			return err
		}
	}
	return nil
}
