package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/clinaudit/formrunner/internal/domain"
	"github.com/clinaudit/formrunner/internal/forms"
	"github.com/clinaudit/formrunner/internal/relations"
	"github.com/clinaudit/formrunner/internal/repository"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
)

// Runner replays form validation against every stored instance of one record
// type and persists discovered errors as issues.
//
// Usage:
//
//	r := runner.New(factory, "meta_subject.bloodresult", records, issues)
//	err := r.Run(ctx, runner.RunFilter{})
type Runner struct {
	sessionID       uuid.UUID
	sessionDatetime time.Time

	factory           forms.Factory
	recordType        string
	extraFormFields   []string
	excludeFormFields []string
	filterOptions     map[string]any
	verbose           bool

	records  repository.RecordRepository
	issues   repository.IssueRepository
	resolver *relations.Resolver

	out io.Writer
	now func() time.Time
}

// RunFilter optionally restricts which discovered errors are persisted.
type RunFilter struct {
	// FieldName keeps only errors on the named field.
	FieldName string
	// PanelName keeps only records whose resolved panel name matches.
	PanelName string
}

// Option customizes a Runner.
type Option func(*Runner)

// WithExtraFormFields names record attributes to overlay into the
// reconstructed payload in addition to the declared fields.
func WithExtraFormFields(fields ...string) Option {
	return func(r *Runner) {
		r.extraFormFields = append([]string{}, fields...)
	}
}

// WithExcludeFormFields names fields whose errors are ignored when writing.
func WithExcludeFormFields(fields ...string) Option {
	return func(r *Runner) {
		r.excludeFormFields = append([]string{}, fields...)
	}
}

// WithFilter restricts the working set to records whose attributes match.
func WithFilter(filter map[string]any) Option {
	return func(r *Runner) {
		r.filterOptions = filter
	}
}

// WithVerbose toggles per-issue operator output. Defaults to on.
func WithVerbose(verbose bool) Option {
	return func(r *Runner) {
		r.verbose = verbose
	}
}

// WithOutput redirects progress and verbose output. Defaults to stdout.
func WithOutput(out io.Writer) Option {
	return func(r *Runner) {
		r.out = out
	}
}

// WithResolver shares a relation resolver (and its cache) across runners.
func WithResolver(resolver *relations.Resolver) Option {
	return func(r *Runner) {
		r.resolver = resolver
	}
}

// WithClock overrides the session timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// New creates a runner for one record type and its validation routine. Each
// Runner is one revalidation session: the session id and timestamp stamped
// onto every issue are generated here.
func New(
	factory forms.Factory,
	recordType string,
	records repository.RecordRepository,
	issues repository.IssueRepository,
	opts ...Option,
) *Runner {
	r := &Runner{
		factory:    factory,
		recordType: recordType,
		verbose:    true,
		records:    records,
		issues:     issues,
		out:        os.Stdout,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.resolver == nil {
		r.resolver = relations.NewResolver(records)
	}
	r.sessionID = uuid.New()
	r.sessionDatetime = r.now()
	return r
}

// SessionID returns the opaque identifier stamped on this run's issues.
func (r *Runner) SessionID() uuid.UUID {
	return r.sessionID
}

// Run revalidates every matching stored instance in storage order. Soft
// failures (missing relations, missing attributes) degrade to absent values;
// anything else propagates and aborts the run.
func (r *Runner) Run(ctx context.Context, filter RunFilter) error {
	schema, err := r.records.GetSchema(ctx, r.recordType)
	if err != nil {
		return err
	}

	total, err := r.records.CountByType(ctx, r.recordType, r.filterOptions)
	if err != nil {
		return err
	}
	list, err := r.records.ListByType(ctx, r.recordType, r.filterOptions)
	if err != nil {
		return err
	}

	bar := progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(r.out),
		progressbar.OptionSetDescription(r.recordType),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	defer bar.Finish()

	for _, record := range list {
		bar.Add(1)

		data, err := r.FormData(ctx, schema, record)
		if err != nil {
			return err
		}
		form := r.factory(data, record)
		form.IsValid(ctx)

		fieldErrors := r.keptErrors(form.Errors())

		panelName, err := r.panelName(ctx, record)
		if err != nil {
			return err
		}
		if filter.PanelName != "" && filter.PanelName != panelName {
			continue
		}

		scope, err := r.issueScope(ctx, record, panelName)
		if err != nil {
			return err
		}

		// Deterministic write order within a record.
		fieldNames := make([]string, 0, len(fieldErrors))
		for fieldName := range fieldErrors {
			fieldNames = append(fieldNames, fieldName)
		}
		sort.Strings(fieldNames)

		newIssues := make([]domain.Issue, 0, len(fieldNames))
		for _, fieldName := range fieldNames {
			if filter.FieldName != "" && fieldName != filter.FieldName {
				continue
			}
			key := keyForField(scope, schema.VerboseName, fieldName)
			newIssues = append(newIssues, r.buildIssue(record, fieldName, fieldErrors[fieldName], key))
		}

		// Replace clears the record's stale issues even when nothing errors
		// now, so a fixed record converges to a clean issue table.
		created, err := r.issues.Replace(ctx, scope, filter.FieldName, newIssues)
		if err != nil {
			return err
		}
		if r.verbose {
			for _, issue := range created {
				fmt.Fprintln(r.out, issue)
			}
		}
	}

	return nil
}

func (r *Runner) keptErrors(fieldErrors map[string][]string) map[string][]string {
	kept := make(map[string][]string, len(fieldErrors))
	for fieldName, messages := range fieldErrors {
		if len(messages) == 0 {
			continue
		}
		excluded := false
		for _, name := range r.excludeFormFields {
			if name == fieldName {
				excluded = true
				break
			}
		}
		if !excluded {
			kept[fieldName] = messages
		}
	}
	return kept
}

// FormData reconstructs the submitted-form-equivalent payload for one
// record: its own scalar attributes, every declared relation resolved to
// full records, the related visit (or the record's own subject identifier),
// and any configured extra fields overlaid last.
func (r *Runner) FormData(ctx context.Context, schema domain.RecordSchema, record domain.Record) (forms.Data, error) {
	data := forms.Data{}

	for name, value := range record.Attributes {
		if strings.HasPrefix(name, "_") || strings.HasSuffix(name, "_id") {
			continue
		}
		if schema.IsRelationField(name) {
			continue
		}
		data[name] = value
	}

	for _, field := range schema.Relations() {
		switch field.Kind {
		case domain.FieldKindSingleRelation:
			id, ok := record.RelationID(field.Name)
			if !ok {
				data[field.Name] = nil
				continue
			}
			related, err := r.resolver.Record(ctx, id)
			if err != nil {
				return nil, err
			}
			if related == nil {
				data[field.Name] = nil
			} else {
				data[field.Name] = related
			}
		case domain.FieldKindMultiRelation:
			related, err := r.resolver.Records(ctx, record.RelationIDs(field.Name))
			if err != nil {
				return nil, err
			}
			data[field.Name] = related
		}
	}

	if !schema.HasField(domain.RelationSubjectVisit) {
		data[domain.AttrSubjectIdentifier] = record.StringAttr(domain.AttrSubjectIdentifier)
	}

	for _, extra := range r.extraFormFields {
		if value, ok := record.Attr(extra); ok {
			data[extra] = value
		}
	}

	return data, nil
}

// panelName resolves the record's optional panel relation to its name
// attribute; "" when the record or relation lacks one.
func (r *Runner) panelName(ctx context.Context, record domain.Record) (string, error) {
	id, ok := record.RelationID(domain.RelationPanel)
	if !ok {
		return "", nil
	}
	panel, err := r.resolver.Record(ctx, id)
	if err != nil {
		return "", err
	}
	if panel == nil {
		return "", nil
	}
	return panel.StringAttr(domain.AttrPanelName), nil
}

// issueScope builds the record's identity scope. A record that is not
// itself a visit substitutes its related visit (falling back to itself) as
// the source of the visit-tracking fields.
func (r *Runner) issueScope(ctx context.Context, record domain.Record, panelName string) (domain.IssueScope, error) {
	visitSource := record
	if id, ok := record.RelationID(domain.RelationSubjectVisit); ok {
		visit, err := r.resolver.Record(ctx, id)
		if err != nil {
			return domain.IssueScope{}, err
		}
		if visit != nil {
			visitSource = *visit
		}
	}
	return domain.IssueScope{
		LabelLower: record.RecordType,
		Visit:      visitSource.VisitReference(),
		PanelName:  panelName,
	}, nil
}

func keyForField(scope domain.IssueScope, verboseName, fieldName string) domain.IdentityKey {
	return domain.IdentityKey{
		LabelLower:        scope.LabelLower,
		PanelName:         scope.PanelName,
		VerboseName:       verboseName,
		SubjectIdentifier: scope.Visit.SubjectIdentifier,
		VisitCode:         scope.Visit.VisitCode,
		VisitCodeSequence: scope.Visit.VisitCodeSequence,
		VisitScheduleName: scope.Visit.VisitScheduleName,
		ScheduleName:      scope.Visit.ScheduleName,
		FieldName:         fieldName,
	}
}

func (r *Runner) buildIssue(record domain.Record, fieldName string, messages []string, key domain.IdentityKey) domain.Issue {
	raw := rawMessage(messages)
	message := plainMessage(raw)

	response := ""
	if value, ok := record.Attr(fieldName); ok {
		response = fmt.Sprint(value)
	}

	return domain.Issue{
		SessionID:           r.sessionID,
		SessionDatetime:     r.sessionDatetime,
		RawMessage:          raw,
		Message:             message,
		ShortMessage:        truncate(message, shortMessageLen),
		Response:            response,
		SrcID:               record.ID,
		SrcRevision:         record.Revision,
		SrcReportDatetime:   record.ReportDatetime,
		SrcModifiedDatetime: record.ModifiedDatetime,
		SrcUserModified:     record.UserModified,
		SiteID:              record.SiteID,
		ExtraFormFields:     strings.Join(r.extraFormFields, ","),
		ExcludeFormFields:   strings.Join(r.excludeFormFields, ","),
		IdentityKey:         key,
	}
}
