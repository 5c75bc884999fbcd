package qa

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sievehq/sieve/internal/llm"
)

// maxDocumentChars bounds how much extracted text one criterion prompt
// carries; the appraisal-relevant sections of a paper fit well within it.
const maxDocumentChars = 60_000

// RenderCriterionPrompt builds the per-criterion assessment prompt for one
// document. The judgment value set is the tool's own.
func RenderCriterionPrompt(tool Tool, criterion Criterion, documentText string) string {
	if len(documentText) > maxDocumentChars {
		documentText = documentText[:maxDocumentChars]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are assessing study quality using the %s.\n\n", tool.Name)
	fmt.Fprintf(&sb, "Criterion: %s\n", criterion.Text)
	if criterion.Domain != "" {
		fmt.Fprintf(&sb, "Domain: %s\n", criterion.Domain)
	}
	if criterion.Guidance != "" {
		fmt.Fprintf(&sb, "Guidance: %s\n", criterion.Guidance)
	}
	sb.WriteString("\nAssessment principles:\n")
	sb.WriteString("1. Be objective: base the judgment on textual facts, not impressions\n")
	sb.WriteString("2. Quote the passages that support the judgment verbatim\n")
	sb.WriteString("3. If the text does not address the criterion, say so rather than guessing\n")
	fmt.Fprintf(&sb, "\nMake an assessment judgment (%s) based on the following document content:\n\n", tool.Judgments)
	sb.WriteString("---\n")
	sb.WriteString(documentText)
	sb.WriteString("\n---\n\n")
	sb.WriteString("Respond with JSON only, in exactly this shape:\n")
	fmt.Fprintf(&sb, "{\n  \"judgment\": \"%s [select one]\",\n  \"reason\": \"...\",\n  \"evidence_quotes\": [\"...\"]\n}", tool.Judgments)
	return sb.String()
}

// criterionResponse is the lenient wire form of a criterion reply
type criterionResponse struct {
	Judgment       string   `json:"judgment"`
	Reason         string   `json:"reason"`
	EvidenceQuotes []string `json:"evidence_quotes"`
}

// ParseFailureJudgment marks a criterion whose response could not be parsed.
// It counts as a negative finding in the summary.
const ParseFailureJudgment = "Error: Parse Failure"

// ParseCriterionResponse parses raw model text into a CriterionResult.
// Parse failures degrade rather than error: the judgment becomes
// ParseFailureJudgment and the raw response is preserved in the reason.
func ParseCriterionResponse(criterion Criterion, raw string) CriterionResult {
	result := CriterionResult{
		CriterionID:   criterion.ID,
		CriterionText: criterion.Text,
	}

	cleaned := llm.CleanFences(raw)
	var parsed criterionResponse
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil || strings.TrimSpace(parsed.Judgment) == "" {
		result.Judgment = ParseFailureJudgment
		result.Reason = "raw response: " + raw
		return result
	}

	result.Judgment = strings.TrimSpace(parsed.Judgment)
	result.Reason = parsed.Reason
	result.EvidenceQuotes = parsed.EvidenceQuotes
	return result
}
