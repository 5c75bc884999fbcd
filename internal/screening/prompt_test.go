package screening

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sievehq/sieve/internal/core"
	"github.com/sievehq/sieve/internal/llm"
)

func testCriteria() core.Criteria {
	return core.Criteria{
		CriteriaID: "c1",
		Framework:  core.FrameworkPICO,
		Elements: map[string]core.TermSet{
			"population":   {Include: []string{"adults", "sepsis"}, Exclude: []string{"animals"}},
			"intervention": {Include: []string{"stewardship"}},
			"comparison":   {Include: []string{"standard care"}},
			"outcome":      {Include: []string{"mortality"}, Maybe: []string{"length of stay"}},
		},
		LanguageRestriction: []string{"en"},
		DateFrom:            2010,
		DateTo:              2024,
		CriteriaVersion:     "1",
	}
}

func testRecord() core.Record {
	return core.Record{
		RecordID:  "r1",
		Title:     "Stewardship in sepsis",
		Abstract:  "A trial of stewardship vs standard care.",
		Year:      2020,
		StudyType: core.StudyRCT,
	}
}

func TestRenderPromptDeterministic(t *testing.T) {
	first, err := RenderPrompt(testCriteria(), testRecord())
	require.NoError(t, err)
	second, err := RenderPrompt(testCriteria(), testRecord())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, PromptHash(first), PromptHash(second))
}

func TestRenderPromptContent(t *testing.T) {
	prompt, err := RenderPrompt(testCriteria(), testRecord())
	require.NoError(t, err)

	assert.Contains(t, prompt, "PICO review")
	assert.Contains(t, prompt, "Population:")
	assert.Contains(t, prompt, "adults; sepsis")
	assert.Contains(t, prompt, "Exclude terms: animals")
	assert.Contains(t, prompt, "Maybe terms: length of stay")
	assert.Contains(t, prompt, "Language restriction: en")
	assert.Contains(t, prompt, "Publication window: 2010-2024")
	assert.Contains(t, prompt, "Title: Stewardship in sepsis")
	// Ambiguity defaults to INCLUDE by instruction.
	assert.Contains(t, prompt, "default to INCLUDE")
	// The response contract names every element of the framework.
	for _, element := range []string{"population", "intervention", "comparison", "outcome"} {
		assert.Contains(t, prompt, `"`+element+`"`)
	}
}

func TestRenderPromptMissingAbstract(t *testing.T) {
	record := testRecord()
	record.Abstract = ""
	prompt, err := RenderPrompt(testCriteria(), record)
	require.NoError(t, err)
	assert.Contains(t, prompt, "Abstract: (not available)")
}

func TestRenderPromptCustomFramework(t *testing.T) {
	criteria := core.Criteria{
		Framework:      core.FrameworkCustom,
		CustomElements: []string{"setting", "technology"},
		Elements: map[string]core.TermSet{
			"setting":    {Include: []string{"ICU"}},
			"technology": {Include: []string{"telemetry"}},
		},
	}
	prompt, err := RenderPrompt(criteria, testRecord())
	require.NoError(t, err)
	assert.Contains(t, prompt, `"setting"`)
	assert.Contains(t, prompt, `"technology"`)
}

func TestPromptHashStable(t *testing.T) {
	hash := PromptHash("some prompt")
	assert.Len(t, hash, 64)
	assert.Equal(t, hash, PromptHash("some prompt"))
	assert.NotEqual(t, hash, PromptHash("some prompt "))
}

// A model that echoes the prompt fence-wrapped must round-trip through the
// fence cleaner to the exact rendered text.
func TestRenderedPromptSurvivesFenceWrapping(t *testing.T) {
	prompt, err := RenderPrompt(testCriteria(), testRecord())
	require.NoError(t, err)
	wrapped := "```\n" + prompt + "\n```"
	assert.Equal(t, strings.TrimSpace(prompt), llm.CleanFences(wrapped))
}
