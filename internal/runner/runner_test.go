package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/clinaudit/formrunner/internal/domain"
	"github.com/clinaudit/formrunner/internal/forms"
	"github.com/clinaudit/formrunner/internal/repository"

	"github.com/google/uuid"
)

const (
	visitType = "edc_visit.subjectvisit"
	panelType = "edc_lab.panel"
	crfType   = "meta_subject.bloodresult"
)

func visitSchema() domain.RecordSchema {
	return domain.NewRecordSchema(visitType, "Subject Visit", []domain.FieldDescriptor{
		{Name: "subject_identifier", Kind: domain.FieldKindScalar, Required: true},
		{Name: "visit_code", Kind: domain.FieldKindScalar, Required: true},
		{Name: "visit_code_sequence", Kind: domain.FieldKindScalar},
		{Name: "visit_schedule_name", Kind: domain.FieldKindScalar},
		{Name: "schedule_name", Kind: domain.FieldKindScalar},
	})
}

func crfSchema() domain.RecordSchema {
	return domain.NewRecordSchema(crfType, "Blood Result", []domain.FieldDescriptor{
		{Name: "subject_visit", Kind: domain.FieldKindSingleRelation, TargetType: visitType, Required: true},
		{Name: "panel", Kind: domain.FieldKindSingleRelation, TargetType: panelType},
		{Name: "weight_kg", Kind: domain.FieldKindScalar, Required: true},
		{Name: "notes", Kind: domain.FieldKindScalar},
		{Name: "specimens", Kind: domain.FieldKindMultiRelation, TargetType: "edc_lab.aliquot"},
	})
}

func newVisit() domain.Record {
	return domain.NewRecord(visitType, map[string]any{
		"subject_identifier":  "S-001",
		"visit_code":          "1000",
		"visit_code_sequence": 0,
		"visit_schedule_name": "visit_schedule",
		"schedule_name":       "schedule",
	})
}

func newPanel(name string) domain.Record {
	return domain.NewRecord(panelType, map[string]any{"name": name})
}

func newCRF(visit, panel domain.Record, attrs map[string]any) domain.Record {
	attributes := map[string]any{
		"subject_visit": visit.ID.String(),
		"panel":         panel.ID.String(),
	}
	for k, v := range attrs {
		attributes[k] = v
	}
	record := domain.NewRecord(crfType, attributes)
	record.Revision = "v1"
	record.UserModified = "audit"
	record.SiteID = 40
	return record
}

func newStubs() (*stubRecordRepo, *stubIssueRepo) {
	records := &stubRecordRepo{schemas: map[string]domain.RecordSchema{
		visitType: visitSchema(),
		panelType: domain.NewRecordSchema(panelType, "Panel", []domain.FieldDescriptor{
			{Name: "name", Kind: domain.FieldKindScalar, Required: true},
		}),
		crfType: crfSchema(),
	}}
	return records, &stubIssueRepo{}
}

func crfFactory(records *stubRecordRepo) forms.Factory {
	return forms.NewSchemaFactory(records.schemas[crfType])
}

func TestRunWritesIssueForMissingRequiredField(t *testing.T) {
	records, issues := newStubs()
	visit := newVisit()
	panel := newPanel("chemistry")
	crf := newCRF(visit, panel, map[string]any{"notes": "ok"})
	records.records = []domain.Record{visit, panel, crf}

	out := &bytes.Buffer{}
	r := New(crfFactory(records), crfType, records, issues, WithOutput(out))
	if err := r.Run(context.Background(), RunFilter{}); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if len(issues.issues) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(issues.issues))
	}
	issue := issues.issues[0]
	if issue.FieldName != "weight_kg" {
		t.Fatalf("expected issue on weight_kg, got %s", issue.FieldName)
	}
	if issue.RawMessage != "<b>Weight kg</b> is required." {
		t.Fatalf("unexpected raw message: %q", issue.RawMessage)
	}
	if issue.Message != "Weight kg is required." {
		t.Fatalf("unexpected message: %q", issue.Message)
	}
	if issue.ShortMessage != issue.Message {
		t.Fatalf("expected short message to equal message, got %q", issue.ShortMessage)
	}
	if issue.Response != "" {
		t.Fatalf("expected empty response for absent value, got %q", issue.Response)
	}
	if issue.LabelLower != crfType || issue.VerboseName != "Blood Result" {
		t.Fatalf("unexpected identity: %+v", issue.IdentityKey)
	}
	if issue.PanelName != "chemistry" {
		t.Fatalf("expected panel chemistry, got %q", issue.PanelName)
	}
	if issue.SubjectIdentifier != "S-001" || issue.VisitCode != "1000" || issue.VisitCodeSequence != 0 {
		t.Fatalf("expected visit identity from related visit, got %+v", issue.IdentityKey)
	}
	if issue.VisitScheduleName != "visit_schedule" || issue.ScheduleName != "schedule" {
		t.Fatalf("unexpected schedule identity: %+v", issue.IdentityKey)
	}
	if issue.SrcID != crf.ID || issue.SrcRevision != "v1" || issue.SrcUserModified != "audit" || issue.SiteID != 40 {
		t.Fatalf("unexpected source linkage: %+v", issue)
	}
	if issue.SessionID != r.SessionID() {
		t.Fatalf("issue not stamped with run session")
	}
	if !strings.Contains(out.String(), "weight_kg") {
		t.Fatalf("expected verbose output to mention the field, got %q", out.String())
	}
}

func TestRunUnescapesAndStripsMessages(t *testing.T) {
	records, issues := newStubs()
	visit := newVisit()
	panel := newPanel("chemistry")
	crf := newCRF(visit, panel, map[string]any{"weight_kg": 72.5})
	records.records = []domain.Record{visit, panel, crf}

	factory := forms.NewSchemaFactory(records.schemas[crfType], func(data forms.Data, instance domain.Record) map[string][]string {
		return map[string][]string{
			"weight_kg": {"&lt;b&gt;Weight&lt;/b&gt; is required."},
		}
	})

	r := New(factory, crfType, records, issues, WithVerbose(false))
	if err := r.Run(context.Background(), RunFilter{}); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if len(issues.issues) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(issues.issues))
	}
	issue := issues.issues[0]
	if issue.RawMessage != "<b>Weight</b> is required." {
		t.Fatalf("expected entities unescaped in raw message, got %q", issue.RawMessage)
	}
	if issue.Message != "Weight is required." {
		t.Fatalf("expected markup stripped from message, got %q", issue.Message)
	}
	if issue.Response != "72.5" {
		t.Fatalf("expected current value as response, got %q", issue.Response)
	}
}

func TestRunTruncatesShortMessage(t *testing.T) {
	records, issues := newStubs()
	visit := newVisit()
	panel := newPanel("chemistry")
	crf := newCRF(visit, panel, map[string]any{"weight_kg": 72.5})
	records.records = []domain.Record{visit, panel, crf}

	long := strings.Repeat("x", 300)
	factory := forms.NewSchemaFactory(records.schemas[crfType], func(data forms.Data, instance domain.Record) map[string][]string {
		return map[string][]string{"weight_kg": {long}}
	})

	r := New(factory, crfType, records, issues, WithVerbose(false))
	if err := r.Run(context.Background(), RunFilter{}); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	issue := issues.issues[0]
	if issue.Message != long {
		t.Fatalf("expected full message preserved")
	}
	if len(issue.ShortMessage) != 250 {
		t.Fatalf("expected short message truncated to 250, got %d", len(issue.ShortMessage))
	}
}

func TestRunLeavesCleanRecordsAlone(t *testing.T) {
	records, issues := newStubs()
	visit := newVisit()
	panel := newPanel("chemistry")
	crf := newCRF(visit, panel, map[string]any{"weight_kg": 72.5})
	records.records = []domain.Record{visit, panel, crf}

	r := New(crfFactory(records), crfType, records, issues, WithVerbose(false))
	if err := r.Run(context.Background(), RunFilter{}); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if len(issues.issues) != 0 {
		t.Fatalf("expected no issues for valid record, got %d", len(issues.issues))
	}
}

func TestRunRemovesStaleIssueAfterFix(t *testing.T) {
	records, issues := newStubs()
	visit := newVisit()
	panel := newPanel("chemistry")
	crf := newCRF(visit, panel, map[string]any{"notes": "ok"})
	records.records = []domain.Record{visit, panel, crf}

	r := New(crfFactory(records), crfType, records, issues, WithVerbose(false))
	if err := r.Run(context.Background(), RunFilter{}); err != nil {
		t.Fatalf("first run returned error: %v", err)
	}
	if len(issues.issues) != 1 {
		t.Fatalf("expected 1 issue after first run, got %d", len(issues.issues))
	}

	// Fix the data, then rerun.
	records.records[2] = crf.WithAttribute("weight_kg", 70.0)

	r2 := New(crfFactory(records), crfType, records, issues, WithVerbose(false))
	if err := r2.Run(context.Background(), RunFilter{}); err != nil {
		t.Fatalf("second run returned error: %v", err)
	}
	if len(issues.issues) != 0 {
		t.Fatalf("expected stale issue removed after fix, got %d", len(issues.issues))
	}
}

func TestRunIsIdempotent(t *testing.T) {
	records, issues := newStubs()
	visit := newVisit()
	panel := newPanel("chemistry")
	crf := newCRF(visit, panel, map[string]any{"notes": "ok"})
	records.records = []domain.Record{visit, panel, crf}

	for i := 0; i < 2; i++ {
		r := New(crfFactory(records), crfType, records, issues, WithVerbose(false))
		if err := r.Run(context.Background(), RunFilter{}); err != nil {
			t.Fatalf("run %d returned error: %v", i+1, err)
		}
	}

	if len(issues.issues) != 1 {
		t.Fatalf("expected exactly one issue after repeat runs, got %d", len(issues.issues))
	}
}

func TestRunFieldFilterRestrictsWrites(t *testing.T) {
	records, issues := newStubs()
	visit := newVisit()
	panel := newPanel("chemistry")
	crf := newCRF(visit, panel, nil)
	records.records = []domain.Record{visit, panel, crf}

	factory := forms.NewSchemaFactory(records.schemas[crfType], func(data forms.Data, instance domain.Record) map[string][]string {
		return map[string][]string{"notes": {"Notes look wrong."}}
	})

	r := New(factory, crfType, records, issues, WithVerbose(false))
	if err := r.Run(context.Background(), RunFilter{FieldName: "weight_kg"}); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if len(issues.issues) != 1 {
		t.Fatalf("expected only the matching field persisted, got %d issues", len(issues.issues))
	}
	if issues.issues[0].FieldName != "weight_kg" {
		t.Fatalf("expected weight_kg issue, got %s", issues.issues[0].FieldName)
	}
}

func TestRunFieldFilterLeavesOtherFieldsIssues(t *testing.T) {
	records, issues := newStubs()
	visit := newVisit()
	panel := newPanel("chemistry")
	crf := newCRF(visit, panel, map[string]any{"weight_kg": 70.0})
	records.records = []domain.Record{visit, panel, crf}

	// A prior run left an issue on notes.
	stale := domain.Issue{
		SessionID: uuid.New(),
		IdentityKey: domain.IdentityKey{
			LabelLower:        crfType,
			PanelName:         "chemistry",
			VerboseName:       "Blood Result",
			SubjectIdentifier: "S-001",
			VisitCode:         "1000",
			VisitScheduleName: "visit_schedule",
			ScheduleName:      "schedule",
			FieldName:         "notes",
		},
	}
	if _, err := issues.Create(context.Background(), stale); err != nil {
		t.Fatalf("seed issue: %v", err)
	}

	r := New(crfFactory(records), crfType, records, issues, WithVerbose(false))
	if err := r.Run(context.Background(), RunFilter{FieldName: "weight_kg"}); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if len(issues.issues) != 1 || issues.issues[0].FieldName != "notes" {
		t.Fatalf("expected field-filtered run to leave other fields' issues, got %+v", issues.issues)
	}
}

func TestRunPanelFilterRestrictsRecords(t *testing.T) {
	records, issues := newStubs()
	visit := newVisit()
	panel := newPanel("chemistry")
	crf := newCRF(visit, panel, map[string]any{"notes": "ok"})
	records.records = []domain.Record{visit, panel, crf}

	r := New(crfFactory(records), crfType, records, issues, WithVerbose(false))
	if err := r.Run(context.Background(), RunFilter{PanelName: "hematology"}); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if len(issues.issues) != 0 {
		t.Fatalf("expected no issues for non-matching panel, got %d", len(issues.issues))
	}

	r2 := New(crfFactory(records), crfType, records, issues, WithVerbose(false))
	if err := r2.Run(context.Background(), RunFilter{PanelName: "chemistry"}); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if len(issues.issues) != 1 {
		t.Fatalf("expected issue for matching panel, got %d", len(issues.issues))
	}
}

func TestRunExcludeFormFields(t *testing.T) {
	records, issues := newStubs()
	visit := newVisit()
	panel := newPanel("chemistry")
	crf := newCRF(visit, panel, map[string]any{"notes": "ok"})
	records.records = []domain.Record{visit, panel, crf}

	r := New(crfFactory(records), crfType, records, issues,
		WithVerbose(false), WithExcludeFormFields("weight_kg"))
	if err := r.Run(context.Background(), RunFilter{}); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if len(issues.issues) != 0 {
		t.Fatalf("expected excluded field's errors ignored, got %d issues", len(issues.issues))
	}
}

func TestRunStampsRunConfiguration(t *testing.T) {
	records, issues := newStubs()
	visit := newVisit()
	panel := newPanel("chemistry")
	crf := newCRF(visit, panel, map[string]any{"extra_marker": "yes"})
	records.records = []domain.Record{visit, panel, crf}

	r := New(crfFactory(records), crfType, records, issues,
		WithVerbose(false),
		WithExtraFormFields("extra_marker"),
		WithExcludeFormFields("notes", "specimens"))
	if err := r.Run(context.Background(), RunFilter{}); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if len(issues.issues) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(issues.issues))
	}
	issue := issues.issues[0]
	if issue.ExtraFormFields != "extra_marker" {
		t.Fatalf("unexpected extra_formfields: %q", issue.ExtraFormFields)
	}
	if issue.ExcludeFormFields != "notes,specimens" {
		t.Fatalf("unexpected exclude_formfields: %q", issue.ExcludeFormFields)
	}
}

func TestFormDataResolvesRelations(t *testing.T) {
	records, issues := newStubs()
	visit := newVisit()
	panel := newPanel("chemistry")
	aliquot1 := domain.NewRecord("edc_lab.aliquot", map[string]any{"identifier": "A1"})
	aliquot2 := domain.NewRecord("edc_lab.aliquot", map[string]any{"identifier": "A2"})
	crf := newCRF(visit, panel, map[string]any{
		"weight_kg": 72.5,
		"specimens": []any{aliquot1.ID.String(), aliquot2.ID.String()},
		"_cached":   "internal",
	})
	records.records = []domain.Record{visit, panel, aliquot1, aliquot2, crf}

	r := New(crfFactory(records), crfType, records, issues, WithVerbose(false))
	data, err := r.FormData(context.Background(), records.schemas[crfType], crf)
	if err != nil {
		t.Fatalf("form data returned error: %v", err)
	}

	if data.Record("subject_visit") == nil {
		t.Fatalf("expected subject_visit resolved to the visit record")
	}
	if data.Record("subject_visit").ID != visit.ID {
		t.Fatalf("resolved wrong visit record")
	}
	if data.Record("panel") == nil || data.Record("panel").StringAttr("name") != "chemistry" {
		t.Fatalf("expected panel resolved with name")
	}
	specimens := data.Records("specimens")
	if len(specimens) != 2 {
		t.Fatalf("expected full specimen collection materialized, got %d", len(specimens))
	}
	if data["weight_kg"] != 72.5 {
		t.Fatalf("expected scalar attribute carried over")
	}
	if _, ok := data["_cached"]; ok {
		t.Fatalf("expected internal attribute excluded from payload")
	}
	if _, ok := data["subject_identifier"]; ok {
		t.Fatalf("expected no direct subject_identifier when subject_visit is declared")
	}
}

func TestFormDataSoftFailsMissingRelation(t *testing.T) {
	records, issues := newStubs()
	visit := newVisit()
	crf := newCRF(visit, newPanel("chemistry"), map[string]any{"weight_kg": 72.5})
	// Neither the visit nor the panel is stored, so resolution comes up
	// empty rather than failing the run.
	records.records = []domain.Record{crf}

	r := New(crfFactory(records), crfType, records, issues, WithVerbose(false))
	data, err := r.FormData(context.Background(), records.schemas[crfType], crf)
	if err != nil {
		t.Fatalf("form data returned error: %v", err)
	}

	if data.Record("subject_visit") != nil {
		t.Fatalf("expected unresolvable visit to degrade to absent")
	}
	if data.Record("panel") != nil {
		t.Fatalf("expected unresolvable panel to degrade to absent")
	}
}

func TestFormDataUsesSubjectIdentifierWithoutVisit(t *testing.T) {
	records, issues := newStubs()
	schema := domain.NewRecordSchema("edc_registration.subject", "Subject", []domain.FieldDescriptor{
		{Name: "subject_identifier", Kind: domain.FieldKindScalar, Required: true},
		{Name: "full_name", Kind: domain.FieldKindScalar, Required: true},
	})
	records.schemas[schema.Name] = schema
	subject := domain.NewRecord(schema.Name, map[string]any{
		"subject_identifier": "S-002",
		"full_name":          "Test Person",
	})
	records.records = []domain.Record{subject}

	r := New(forms.NewSchemaFactory(schema), schema.Name, records, issues, WithVerbose(false))
	data, err := r.FormData(context.Background(), schema, subject)
	if err != nil {
		t.Fatalf("form data returned error: %v", err)
	}

	if data["subject_identifier"] != "S-002" {
		t.Fatalf("expected subject identifier included directly, got %v", data["subject_identifier"])
	}
}

func TestRunFilterOptionsRestrictWorkingSet(t *testing.T) {
	records, issues := newStubs()
	visit := newVisit()
	panel := newPanel("chemistry")
	crf1 := newCRF(visit, panel, map[string]any{"notes": "keep"})
	crf2 := newCRF(visit, panel, map[string]any{"notes": "skip"})
	records.records = []domain.Record{visit, panel, crf1, crf2}

	r := New(crfFactory(records), crfType, records, issues,
		WithVerbose(false), WithFilter(map[string]any{"notes": "keep"}))
	if err := r.Run(context.Background(), RunFilter{}); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if len(issues.issues) != 1 {
		t.Fatalf("expected only the filtered record processed, got %d issues", len(issues.issues))
	}
	if issues.issues[0].SrcID != crf1.ID {
		t.Fatalf("expected issue for the matching record")
	}
}

func TestRunUnknownFilterFieldReturnsFieldError(t *testing.T) {
	records, issues := newStubs()
	records.records = []domain.Record{}

	r := New(crfFactory(records), crfType, records, issues,
		WithVerbose(false), WithFilter(map[string]any{"no_such_field": 1}))
	err := r.Run(context.Background(), RunFilter{})
	var fieldErr *domain.FieldError
	if !errors.As(err, &fieldErr) {
		t.Fatalf("expected field error for unknown filter key, got %v", err)
	}
}

func TestRunAllSkipsFailingTypeAndContinues(t *testing.T) {
	records, issues := newStubs()
	visit := newVisit()
	panel := newPanel("chemistry")
	crf := newCRF(visit, panel, map[string]any{"notes": "ok"})
	records.records = []domain.Record{visit, panel, crf}

	// No schema is stored for the ghost type, so its run fails on lookup
	// and the batch moves on.
	forms.Default.Register("meta_subject.ghost", crfFactory(records))
	forms.Default.Register(crfType, crfFactory(records))

	err := RunAll(context.Background(), records, issues,
		nil, []string{"meta_subject.ghost", crfType}, WithVerbose(false))
	if err != nil {
		t.Fatalf("batch returned error: %v", err)
	}

	if len(issues.issues) != 1 {
		t.Fatalf("expected surviving type to produce its issue, got %d", len(issues.issues))
	}
}

func TestRunAllWithoutSelectorsFails(t *testing.T) {
	records, issues := newStubs()
	err := RunAll(context.Background(), records, issues, nil, nil)
	if !errors.Is(err, forms.ErrNothingToDo) {
		t.Fatalf("expected nothing-to-do error, got %v", err)
	}
}

type stubRecordRepo struct {
	schemas map[string]domain.RecordSchema
	records []domain.Record
}

func (s *stubRecordRepo) Create(ctx context.Context, record domain.Record) (domain.Record, error) {
	s.records = append(s.records, record)
	return record, nil
}

func (s *stubRecordRepo) Update(ctx context.Context, record domain.Record) (domain.Record, error) {
	for i, existing := range s.records {
		if existing.ID == record.ID {
			s.records[i] = record
			return record, nil
		}
	}
	return domain.Record{}, fmt.Errorf("record %s: %w", record.ID, repository.ErrNotFound)
}

func (s *stubRecordRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Record, error) {
	for _, record := range s.records {
		if record.ID == id {
			return record, nil
		}
	}
	return domain.Record{}, fmt.Errorf("record %s: %w", id, repository.ErrNotFound)
}

func (s *stubRecordRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Record, error) {
	var found []domain.Record
	for _, id := range ids {
		for _, record := range s.records {
			if record.ID == id {
				found = append(found, record)
			}
		}
	}
	return found, nil
}

func (s *stubRecordRepo) ListByType(ctx context.Context, recordType string, filter map[string]any) ([]domain.Record, error) {
	if err := s.checkFilter(recordType, filter); err != nil {
		return nil, err
	}
	var matched []domain.Record
	for _, record := range s.records {
		if record.RecordType != recordType {
			continue
		}
		if matchesFilter(record, filter) {
			matched = append(matched, record)
		}
	}
	return matched, nil
}

func (s *stubRecordRepo) CountByType(ctx context.Context, recordType string, filter map[string]any) (int64, error) {
	matched, err := s.ListByType(ctx, recordType, filter)
	if err != nil {
		return 0, err
	}
	return int64(len(matched)), nil
}

func (s *stubRecordRepo) checkFilter(recordType string, filter map[string]any) error {
	if len(filter) == 0 {
		return nil
	}
	schema, ok := s.schemas[recordType]
	if !ok {
		return fmt.Errorf("schema %q: %w", recordType, repository.ErrNotFound)
	}
	for key := range filter {
		if !schema.HasField(key) {
			return &domain.FieldError{RecordType: recordType, Field: key}
		}
	}
	return nil
}

func matchesFilter(record domain.Record, filter map[string]any) bool {
	for key, want := range filter {
		if fmt.Sprint(record.Attributes[key]) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func (s *stubRecordRepo) GetSchema(ctx context.Context, recordType string) (domain.RecordSchema, error) {
	schema, ok := s.schemas[recordType]
	if !ok {
		return domain.RecordSchema{}, fmt.Errorf("schema %q: %w", recordType, repository.ErrNotFound)
	}
	return schema, nil
}

func (s *stubRecordRepo) ListSchemas(ctx context.Context) ([]domain.RecordSchema, error) {
	var schemas []domain.RecordSchema
	for _, schema := range s.schemas {
		schemas = append(schemas, schema)
	}
	return schemas, nil
}

func (s *stubRecordRepo) CreateSchema(ctx context.Context, schema domain.RecordSchema) (domain.RecordSchema, error) {
	s.schemas[schema.Name] = schema
	return schema, nil
}

type stubIssueRepo struct {
	issues []domain.Issue
}

func (s *stubIssueRepo) Create(ctx context.Context, issue domain.Issue) (domain.Issue, error) {
	if issue.ID == uuid.Nil {
		issue.ID = uuid.New()
	}
	issue.CreatedAt = time.Now()
	s.issues = append(s.issues, issue)
	return issue, nil
}

func (s *stubIssueRepo) Replace(ctx context.Context, scope domain.IssueScope, fieldName string, issues []domain.Issue) ([]domain.Issue, error) {
	var kept []domain.Issue
	for _, existing := range s.issues {
		if inScope(existing, scope) && (fieldName == "" || existing.FieldName == fieldName) {
			continue
		}
		kept = append(kept, existing)
	}
	s.issues = kept

	var created []domain.Issue
	for _, issue := range issues {
		if fieldName != "" && issue.FieldName != fieldName {
			continue
		}
		saved, err := s.Create(ctx, issue)
		if err != nil {
			return nil, err
		}
		created = append(created, saved)
	}
	return created, nil
}

func (s *stubIssueRepo) ListByScope(ctx context.Context, scope domain.IssueScope) ([]domain.Issue, error) {
	var matched []domain.Issue
	for _, issue := range s.issues {
		if inScope(issue, scope) {
			matched = append(matched, issue)
		}
	}
	return matched, nil
}

func (s *stubIssueRepo) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]domain.Issue, error) {
	var matched []domain.Issue
	for _, issue := range s.issues {
		if issue.SessionID == sessionID {
			matched = append(matched, issue)
		}
	}
	return matched, nil
}

func inScope(issue domain.Issue, scope domain.IssueScope) bool {
	return issue.LabelLower == scope.LabelLower &&
		issue.PanelName == scope.PanelName &&
		issue.SubjectIdentifier == scope.Visit.SubjectIdentifier &&
		issue.VisitCode == scope.Visit.VisitCode &&
		issue.VisitCodeSequence == scope.Visit.VisitCodeSequence &&
		issue.VisitScheduleName == scope.Visit.VisitScheduleName &&
		issue.ScheduleName == scope.Visit.ScheduleName
}
