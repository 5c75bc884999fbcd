package llm

import (
	"encoding/json"
	"strings"
)

// CleanFences strips markdown code fences from a model response. Handles
// ```json and bare ``` openings, with or without a closing fence, so a
// response that was fence-wrapped round-trips to the inner text.
func CleanFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop a language tag such as "json" on the opening fence line.
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		firstLine := strings.TrimSpace(s[:idx])
		if firstLine == "" || isFenceTag(firstLine) {
			s = s[idx+1:]
		}
	} else {
		// Single-line fenced fragment: ```json{...}```
		s = strings.TrimPrefix(s, "json")
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

func isFenceTag(s string) bool {
	switch strings.ToLower(s) {
	case "json", "javascript", "js", "text":
		return true
	}
	return false
}

// screeningResponse is the lenient wire form of a screening reply. Models
// are inconsistent about the assessment field name; both spellings are
// accepted and folded into the canonical one.
type screeningResponse struct {
	Decision          string                       `json:"decision"`
	Score             *float64                     `json:"score"`
	Confidence        *float64                     `json:"confidence"`
	Rationale         string                       `json:"rationale"`
	ElementAssessment map[string]ElementAssessment `json:"element_assessment"`
	PICOAssessment    map[string]ElementAssessment `json:"pico_assessment"`
}

// ParseScreeningResponse parses raw model text into a ModelOutput. The text
// is fence-cleaned first. On failure the raw text is preserved in the
// returned error's RawBody for audit.
func ParseScreeningResponse(modelID, raw string) (ModelOutput, error) {
	cleaned := CleanFences(raw)

	var known screeningResponse
	if err := json.Unmarshal([]byte(cleaned), &known); err != nil {
		return ModelOutput{ModelID: modelID, RawResponse: raw}, &LLMError{
			Message:       "response is not valid JSON: " + err.Error(),
			RawBody:       raw,
			ErrorCategory: CategoryInvalidResponse,
			Original:      err,
		}
	}

	decision := Decision(strings.ToUpper(strings.TrimSpace(known.Decision)))
	if !ValidDecisions[decision] {
		return ModelOutput{ModelID: modelID, RawResponse: raw}, &LLMError{
			Message:       "decision label not recognized: " + known.Decision,
			RawBody:       raw,
			ErrorCategory: CategoryInvalidResponse,
		}
	}

	out := ModelOutput{
		ModelID:     modelID,
		Decision:    decision,
		Rationale:   known.Rationale,
		RawResponse: raw,
	}
	if known.Score != nil {
		out.Score = clamp01(*known.Score)
	}
	if known.Confidence != nil {
		out.Confidence = clamp01(*known.Confidence)
	}
	// element_assessment wins when both spellings are present.
	switch {
	case len(known.ElementAssessment) > 0:
		out.ElementAssessment = known.ElementAssessment
	case len(known.PICOAssessment) > 0:
		out.ElementAssessment = known.PICOAssessment
	}

	// Unknown provider-specific fields ride along in an opaque bag.
	var all map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &all); err == nil {
		for _, k := range []string{"decision", "score", "confidence", "rationale", "element_assessment", "pico_assessment"} {
			delete(all, k)
		}
		if len(all) > 0 {
			out.Extra = all
		}
	}
	return out, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
