package display

import (
	"context"
	"fmt"
	"strings"

	"github.com/clinaudit/formrunner/internal/domain"
	"github.com/clinaudit/formrunner/internal/relations"
	"github.com/clinaudit/formrunner/internal/repository"
)

// Renderer is the presentation-time read path over stored issues. It never
// writes.
type Renderer struct {
	issues   repository.IssueRepository
	resolver *relations.Resolver
}

// NewRenderer wires a renderer over the issue store and relation resolver.
func NewRenderer(issues repository.IssueRepository, resolver *relations.Resolver) *Renderer {
	return &Renderer{issues: issues, resolver: resolver}
}

// IssuesFor returns all issues scoped to the record's identity: its type,
// its related visit, and its panel if it has one. All key fields except
// field_name participate in the match.
func (r *Renderer) IssuesFor(ctx context.Context, record domain.Record) ([]domain.Issue, error) {
	visitSource := record
	if id, ok := record.RelationID(domain.RelationSubjectVisit); ok {
		visit, err := r.resolver.Record(ctx, id)
		if err != nil {
			return nil, err
		}
		if visit != nil {
			visitSource = *visit
		}
	}

	panelName := ""
	if id, ok := record.RelationID(domain.RelationPanel); ok {
		panel, err := r.resolver.Record(ctx, id)
		if err != nil {
			return nil, err
		}
		if panel != nil {
			panelName = panel.StringAttr(domain.AttrPanelName)
		}
	}

	return r.issues.ListByScope(ctx, domain.IssueScope{
		LabelLower: record.RecordType,
		Visit:      visitSource.VisitReference(),
		PanelName:  panelName,
	})
}

// IssueBlock renders the record's issues as a joined text block, one
// "<message> [<field_name>]" line per issue. Empty when the record is clean.
func (r *Renderer) IssueBlock(ctx context.Context, record domain.Record) (string, error) {
	issues, err := r.IssuesFor(ctx, record)
	if err != nil {
		return "", err
	}

	lines := make([]string, 0, len(issues))
	for _, issue := range issues {
		lines = append(lines, fmt.Sprintf("%s [%s]", issue.Message, issue.FieldName))
	}
	return strings.Join(lines, "\n"), nil
}
