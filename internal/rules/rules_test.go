package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sievehq/sieve/internal/core"
	"github.com/sievehq/sieve/internal/llm"
)

func picoCriteria() core.Criteria {
	return core.Criteria{
		CriteriaID: "amr-review",
		Framework:  core.FrameworkPICO,
		Elements: map[string]core.TermSet{
			"population":   {Include: []string{"adults with sepsis"}},
			"intervention": {Include: []string{"antimicrobial stewardship"}},
			"comparison":   {Include: []string{"standard care"}},
			"outcome":      {Include: []string{"mortality"}},
		},
		CriteriaVersion: "1",
	}
}

func includeRecord() core.Record {
	return core.Record{
		RecordID:  "r1",
		Title:     "Antimicrobial stewardship in adult sepsis: a randomized trial",
		Abstract:  "We randomized adults with sepsis to stewardship or standard care.",
		StudyType: core.StudyRCT,
		Language:  "en",
	}
}

func output(decision llm.Decision, assessment map[string]llm.ElementAssessment) llm.ModelOutput {
	return llm.ModelOutput{
		ModelID:           "test-model",
		Decision:          decision,
		Score:             0.9,
		Confidence:        0.9,
		Rationale:         "test",
		ElementAssessment: assessment,
	}
}

func matchPtr(v bool) *bool { return &v }

func assessment(element string, match *bool) map[string]llm.ElementAssessment {
	return map[string]llm.ElementAssessment{
		element: {Match: match, Evidence: "quoted"},
	}
}

// --- PublicationTypeRule ---

func TestPublicationTypeEditorialTriggers(t *testing.T) {
	record := includeRecord()
	record.StudyType = core.StudyEditorial
	v := PublicationTypeRule{}.Check(record, picoCriteria(), nil)
	require.NotNil(t, v)
	assert.Equal(t, "PublicationType", v.RuleName)
}

func TestPublicationTypeErratumTriggers(t *testing.T) {
	record := includeRecord()
	record.StudyType = core.StudyErratum
	assert.NotNil(t, PublicationTypeRule{}.Check(record, picoCriteria(), nil))
}

func TestPublicationTypeTitleTriggers(t *testing.T) {
	tests := []string{
		"A systematic review of interventions",
		"Meta-analysis of stewardship programs",
		"Letter to the Editor regarding sepsis outcomes",
	}
	for _, title := range tests {
		record := core.Record{Title: title, StudyType: core.StudyUnknown}
		assert.NotNil(t, PublicationTypeRule{}.Check(record, picoCriteria(), nil), "title %q", title)
	}
}

func TestPublicationTypeRCTPasses(t *testing.T) {
	assert.Nil(t, PublicationTypeRule{}.Check(includeRecord(), picoCriteria(), nil))
}

func TestPublicationTypeUnknownPasses(t *testing.T) {
	record := includeRecord()
	record.StudyType = core.StudyUnknown
	assert.Nil(t, PublicationTypeRule{}.Check(record, picoCriteria(), nil))
}

// --- LanguageRule ---

func TestLanguageRestrictionExcludes(t *testing.T) {
	criteria := picoCriteria()
	criteria.LanguageRestriction = []string{"en", "de"}

	record := includeRecord()
	record.Language = "fr"
	require.NotNil(t, LanguageRule{}.Check(record, criteria, nil))

	record.Language = "EN"
	assert.Nil(t, LanguageRule{}.Check(record, criteria, nil), "matching is case-insensitive")
}

func TestLanguageUnsetPasses(t *testing.T) {
	criteria := picoCriteria()
	criteria.LanguageRestriction = []string{"en"}
	record := includeRecord()
	record.Language = ""
	assert.Nil(t, LanguageRule{}.Check(record, criteria, nil))
}

func TestLanguageNoRestrictionPasses(t *testing.T) {
	record := includeRecord()
	record.Language = "zh"
	assert.Nil(t, LanguageRule{}.Check(record, picoCriteria(), nil))
}

// --- StudyDesignRule ---

func TestStudyDesignExcluded(t *testing.T) {
	criteria := picoCriteria()
	criteria.StudyDesignExclude = []string{"qualitative", "case_control"}

	record := includeRecord()
	record.StudyType = core.StudyQualitative
	require.NotNil(t, StudyDesignRule{}.Check(record, criteria, nil))

	record.StudyType = core.StudyCaseControl
	assert.NotNil(t, StudyDesignRule{}.Check(record, criteria, nil), "matching is case-insensitive")

	record.StudyType = core.StudyRCT
	assert.Nil(t, StudyDesignRule{}.Check(record, criteria, nil))
}

func TestStudyDesignUnknownNeverTriggers(t *testing.T) {
	criteria := picoCriteria()
	criteria.StudyDesignExclude = []string{"unknown"}
	record := includeRecord()
	record.StudyType = core.StudyUnknown
	assert.Nil(t, StudyDesignRule{}.Check(record, criteria, nil))
}

// --- Soft rules ---

func TestPopulationPartialMatchTriggersAtHalf(t *testing.T) {
	outputs := []llm.ModelOutput{
		output(llm.DecisionInclude, assessment("population", matchPtr(false))),
		output(llm.DecisionInclude, assessment("population", matchPtr(false))),
		output(llm.DecisionInclude, assessment("population", matchPtr(true))),
		output(llm.DecisionInclude, assessment("population", matchPtr(true))),
	}
	v := PopulationPartialMatchRule{}.Check(includeRecord(), picoCriteria(), outputs)
	require.NotNil(t, v, "2 of 4 unmatched reaches the 50% threshold")
	assert.Equal(t, PenaltyPopulationPartial, v.Penalty)
}

func TestPopulationPartialMatchSkipsNulls(t *testing.T) {
	outputs := []llm.ModelOutput{
		output(llm.DecisionInclude, assessment("population", nil)),
		output(llm.DecisionInclude, assessment("population", matchPtr(true))),
		output(llm.DecisionInclude, assessment("population", matchPtr(false))),
	}
	// One null skipped: 1 of 2 votes unmatched triggers.
	assert.NotNil(t, PopulationPartialMatchRule{}.Check(includeRecord(), picoCriteria(), outputs))
}

func TestPopulationPartialMatchBelowThresholdPasses(t *testing.T) {
	outputs := []llm.ModelOutput{
		output(llm.DecisionInclude, assessment("population", matchPtr(false))),
		output(llm.DecisionInclude, assessment("population", matchPtr(true))),
		output(llm.DecisionInclude, assessment("population", matchPtr(true))),
	}
	assert.Nil(t, PopulationPartialMatchRule{}.Check(includeRecord(), picoCriteria(), outputs))
}

func TestOutcomePartialMatchPenalty(t *testing.T) {
	outputs := []llm.ModelOutput{
		output(llm.DecisionInclude, assessment("outcome", matchPtr(false))),
		output(llm.DecisionInclude, assessment("outcome", matchPtr(false))),
	}
	v := OutcomePartialMatchRule{}.Check(includeRecord(), picoCriteria(), outputs)
	require.NotNil(t, v)
	assert.Equal(t, PenaltyOutcomePartial, v.Penalty)
}

func TestAmbiguousInterventionTriggersOnDisagreement(t *testing.T) {
	outputs := []llm.ModelOutput{
		output(llm.DecisionInclude, assessment("intervention", matchPtr(true))),
		output(llm.DecisionInclude, assessment("intervention", matchPtr(false))),
	}
	v := AmbiguousInterventionRule{}.Check(includeRecord(), picoCriteria(), outputs)
	require.NotNil(t, v)
	assert.Equal(t, PenaltyAmbiguousIntervention, v.Penalty)
}

func TestAmbiguousInterventionUnanimousPasses(t *testing.T) {
	allTrue := []llm.ModelOutput{
		output(llm.DecisionInclude, assessment("intervention", matchPtr(true))),
		output(llm.DecisionInclude, assessment("intervention", matchPtr(true))),
	}
	assert.Nil(t, AmbiguousInterventionRule{}.Check(includeRecord(), picoCriteria(), allTrue))

	allFalse := []llm.ModelOutput{
		output(llm.DecisionInclude, assessment("intervention", matchPtr(false))),
		output(llm.DecisionInclude, assessment("intervention", matchPtr(false))),
	}
	assert.Nil(t, AmbiguousInterventionRule{}.Check(includeRecord(), picoCriteria(), allFalse))
}

// --- Framework slot mapping ---

func TestSlotMappingSPIDER(t *testing.T) {
	criteria := core.Criteria{
		Framework: core.FrameworkSPIDER,
		Elements: map[string]core.TermSet{
			"sample":     {Include: []string{"nurses"}},
			"evaluation": {Include: []string{"burnout"}},
		},
	}
	assert.Equal(t, "sample", ElementForSlot(criteria, SlotPopulation))
	assert.Equal(t, "evaluation", ElementForSlot(criteria, SlotOutcome))
	assert.Equal(t, "phenomenon_of_interest", ElementForSlot(criteria, SlotIntervention))

	// SPIDER's sample element feeds the population soft rule.
	outputs := []llm.ModelOutput{
		output(llm.DecisionInclude, assessment("sample", matchPtr(false))),
		output(llm.DecisionInclude, assessment("sample", matchPtr(false))),
	}
	assert.NotNil(t, PopulationPartialMatchRule{}.Check(core.Record{Title: "t"}, criteria, outputs))
}

func TestSlotMappingPECO(t *testing.T) {
	criteria := core.Criteria{Framework: core.FrameworkPECO}
	assert.Equal(t, "exposure", ElementForSlot(criteria, SlotIntervention))
}

// --- Engine ---

func TestEngineHardViolationShortCircuitsNothing(t *testing.T) {
	criteria := picoCriteria()
	record := includeRecord()
	record.StudyType = core.StudyEditorial

	outputs := []llm.ModelOutput{
		output(llm.DecisionInclude, assessment("outcome", matchPtr(false))),
		output(llm.DecisionInclude, assessment("outcome", matchPtr(false))),
	}
	result := NewEngine().Evaluate(record, criteria, outputs)
	assert.True(t, result.HasHardViolation())
	// Soft rules still report; the aggregator decides what matters.
	assert.NotEmpty(t, result.SoftViolations)
}

func TestEngineTotalPenaltySums(t *testing.T) {
	criteria := picoCriteria()
	outputs := []llm.ModelOutput{
		output(llm.DecisionInclude, map[string]llm.ElementAssessment{
			"population":   {Match: matchPtr(false)},
			"outcome":      {Match: matchPtr(false)},
			"intervention": {Match: matchPtr(true)},
		}),
		output(llm.DecisionInclude, map[string]llm.ElementAssessment{
			"population":   {Match: matchPtr(false)},
			"outcome":      {Match: matchPtr(false)},
			"intervention": {Match: matchPtr(false)},
		}),
	}
	result := NewEngine().Evaluate(includeRecord(), criteria, outputs)
	assert.False(t, result.HasHardViolation())
	assert.Len(t, result.SoftViolations, 3)
	assert.InDelta(t, 0.30, result.TotalPenalty, 0.0001)
}

func TestEngineCleanRecordNoViolations(t *testing.T) {
	outputs := []llm.ModelOutput{
		output(llm.DecisionInclude, map[string]llm.ElementAssessment{
			"population": {Match: matchPtr(true)},
			"outcome":    {Match: matchPtr(true)},
		}),
	}
	result := NewEngine().Evaluate(includeRecord(), picoCriteria(), outputs)
	assert.False(t, result.HasHardViolation())
	assert.Empty(t, result.SoftViolations)
	assert.Zero(t, result.TotalPenalty)
}

func TestEngineErroredOutputsSkipped(t *testing.T) {
	outputs := []llm.ModelOutput{
		{ModelID: "broken", Err: "timeout"},
		output(llm.DecisionInclude, assessment("population", matchPtr(true))),
	}
	result := NewEngine().Evaluate(includeRecord(), picoCriteria(), outputs)
	assert.Empty(t, result.SoftViolations)
}
