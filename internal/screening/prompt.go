// Package screening implements the hierarchical consensus pipeline: one
// record fans out to N models, the deterministic rule layer and the
// ensemble aggregator reduce the outputs, and every decision leaves an
// audit trail.
package screening

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"text/template"

	"github.com/sievehq/sieve/internal/core"
)

// elementLabels maps element names to the human-readable labels used in
// prompts.
var elementLabels = map[string]string{
	"population":             "Population",
	"intervention":           "Intervention",
	"comparison":             "Comparison",
	"outcome":                "Outcome",
	"timeframe":              "Timeframe",
	"study_design":           "Study design",
	"exposure":               "Exposure",
	"context":                "Context",
	"sample":                 "Sample",
	"phenomenon_of_interest": "Phenomenon of interest",
	"design":                 "Design",
	"evaluation":             "Evaluation",
	"research_type":          "Research type",
	"expectation":            "Expectation",
	"client_group":           "Client group",
	"location":               "Location",
	"impact":                 "Impact",
	"professionals":          "Professionals",
	"service":                "Service",
	"client":                 "Client",
	"improvement":            "Improvement",
	"behaviour":              "Behaviour",
	"health_context":         "Health context",
	"exclusions":             "Exclusions",
	"models_or_theories":     "Models or theories",
	"concept":                "Concept",
}

// screeningTemplate renders the criteria block, the record block, and the
// response-contract instructions. The template is deterministic: the same
// (criteria, record) pair always renders byte-identical output.
var screeningTemplate = template.Must(template.New("screening").Parse(`You are screening literature for a {{.Framework}} review.

Inclusion and exclusion criteria:
{{range .Elements}}
{{.Label}}:
{{- if .Include}}
  Include terms: {{.Include}}{{end}}
{{- if .Exclude}}
  Exclude terms: {{.Exclude}}{{end}}
{{- if .Maybe}}
  Maybe terms: {{.Maybe}}{{end}}
{{- if .EmptyNote}}
  (no terms specified){{end}}
{{end}}
{{- if .Languages}}
Language restriction: {{.Languages}}
{{end}}
{{- if .DateWindow}}
Publication window: {{.DateWindow}}
{{end}}
Record to screen:
Title: {{.Title}}
{{- if .Abstract}}
Abstract: {{.Abstract}}
{{- else}}
Abstract: (not available)
{{- end}}
{{- if .Year}}
Year: {{.Year}}
{{- end}}
{{- if .StudyType}}
Study type: {{.StudyType}}
{{- end}}

Assess each criteria element against the record, then decide.
When the record is ambiguous or the abstract is missing, default to INCLUDE: a wrongly excluded record is unrecoverable, a wrongly included one is caught at full-text review.

Respond with JSON only, no prose, in exactly this shape:
{
  "decision": "INCLUDE | EXCLUDE | HUMAN_REVIEW",
  "confidence": 0.0,
  "score": 0.0,
  "element_assessment": { {{.AssessmentShape}} },
  "rationale": "one short paragraph"
}`))

type promptElement struct {
	Label     string
	Include   string
	Exclude   string
	Maybe     string
	EmptyNote bool
}

type promptData struct {
	Framework       core.Framework
	Elements        []promptElement
	Languages       string
	DateWindow      string
	Title           string
	Abstract        string
	Year            int
	StudyType       string
	AssessmentShape string
}

// RenderPrompt produces the screening prompt for a (criteria, record) pair
func RenderPrompt(criteria core.Criteria, record core.Record) (string, error) {
	data := promptData{
		Framework: criteria.Framework,
		Title:     record.Title,
		Abstract:  record.Abstract,
		Year:      record.Year,
	}
	if record.StudyType != "" && record.StudyType != core.StudyUnknown {
		data.StudyType = string(record.StudyType)
	}

	names := criteria.ElementNames()
	var shapes []string
	for _, name := range names {
		label := elementLabels[name]
		if label == "" {
			label = name
		}
		terms := criteria.Elements[name]
		data.Elements = append(data.Elements, promptElement{
			Label:     label,
			Include:   strings.Join(terms.Include, "; "),
			Exclude:   strings.Join(terms.Exclude, "; "),
			Maybe:     strings.Join(terms.Maybe, "; "),
			EmptyNote: terms.Empty(),
		})
		shapes = append(shapes, fmt.Sprintf("%q: {\"match\": true, \"evidence\": \"...\"}", name))
	}
	data.AssessmentShape = strings.Join(shapes, ", ")

	if len(criteria.LanguageRestriction) > 0 {
		data.Languages = strings.Join(criteria.LanguageRestriction, ", ")
	}
	switch {
	case criteria.DateFrom > 0 && criteria.DateTo > 0:
		data.DateWindow = fmt.Sprintf("%d-%d", criteria.DateFrom, criteria.DateTo)
	case criteria.DateFrom > 0:
		data.DateWindow = fmt.Sprintf("%d onwards", criteria.DateFrom)
	case criteria.DateTo > 0:
		data.DateWindow = fmt.Sprintf("up to %d", criteria.DateTo)
	}

	var sb strings.Builder
	if err := screeningTemplate.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render screening prompt: %w", err)
	}
	return sb.String(), nil
}

// PromptHash returns the hex SHA-256 of a rendered prompt
func PromptHash(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}
