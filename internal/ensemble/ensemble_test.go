package ensemble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sievehq/sieve/internal/core"
	"github.com/sievehq/sieve/internal/llm"
)

func vote(modelID string, decision llm.Decision, score, confidence float64) llm.ModelOutput {
	return llm.ModelOutput{ModelID: modelID, Decision: decision, Score: score, Confidence: confidence}
}

func testAggregator() *Aggregator {
	return New(Thresholds{High: 0.85, Mid: 0.5, Low: 0.3})
}

func TestRuleOverride(t *testing.T) {
	// Three enthusiastic INCLUDE votes cannot outvote a hard violation.
	outputs := []llm.ModelOutput{
		vote("a", llm.DecisionInclude, 0.9, 0.9),
		vote("b", llm.DecisionInclude, 0.9, 0.9),
		vote("c", llm.DecisionInclude, 0.9, 0.9),
	}
	ruleResult := core.RuleResult{
		HardViolations: []core.Violation{{RuleName: "PublicationType", Description: "editorial"}},
	}

	decision, err := testAggregator().Aggregate("r1", outputs, ruleResult)
	require.NoError(t, err)
	assert.Equal(t, llm.DecisionExclude, decision.Decision)
	assert.Equal(t, core.TierRuleOverride, decision.Tier)
	assert.Zero(t, decision.FinalScore)
	assert.InDelta(t, 0.9, decision.EnsembleConfidence, 0.0001)
}

func TestUnanimousHighConfidenceInclude(t *testing.T) {
	outputs := []llm.ModelOutput{
		vote("a", llm.DecisionInclude, 0.90, 0.95),
		vote("b", llm.DecisionInclude, 0.90, 0.95),
		vote("c", llm.DecisionInclude, 0.90, 0.95),
	}
	decision, err := testAggregator().Aggregate("r1", outputs, core.RuleResult{})
	require.NoError(t, err)
	assert.Equal(t, llm.DecisionInclude, decision.Decision)
	assert.Equal(t, core.TierHighConfidence, decision.Tier)
	assert.InDelta(t, 0.90, decision.FinalScore, 0.0001)
}

func TestSoftPenaltyDemotesToMajorityTier(t *testing.T) {
	outputs := []llm.ModelOutput{
		vote("a", llm.DecisionInclude, 0.72, 0.95),
		vote("b", llm.DecisionInclude, 0.72, 0.95),
		vote("c", llm.DecisionInclude, 0.72, 0.95),
	}
	ruleResult := core.RuleResult{
		SoftViolations: []core.Violation{{RuleName: "OutcomePartialMatch", Penalty: 0.10}},
		TotalPenalty:   0.10,
	}
	decision, err := testAggregator().Aggregate("r1", outputs, ruleResult)
	require.NoError(t, err)
	assert.Equal(t, llm.DecisionInclude, decision.Decision)
	assert.Equal(t, core.TierMajority, decision.Tier)
	assert.InDelta(t, 0.62, decision.FinalScore, 0.0001)
}

func TestEvenSplitGoesToHumanReview(t *testing.T) {
	outputs := []llm.ModelOutput{
		vote("a", llm.DecisionInclude, 0.6, 0.8),
		vote("b", llm.DecisionInclude, 0.6, 0.8),
		vote("c", llm.DecisionExclude, 0.3, 0.8),
		vote("d", llm.DecisionExclude, 0.3, 0.8),
	}
	decision, err := testAggregator().Aggregate("r1", outputs, core.RuleResult{})
	require.NoError(t, err)
	assert.Equal(t, llm.DecisionHumanReview, decision.Decision)
	assert.Equal(t, core.TierHumanReview, decision.Tier)
}

func TestMajorityExcludeBelowLowThreshold(t *testing.T) {
	outputs := []llm.ModelOutput{
		vote("a", llm.DecisionExclude, 0.1, 0.9),
		vote("b", llm.DecisionExclude, 0.2, 0.9),
		vote("c", llm.DecisionInclude, 0.4, 0.9),
	}
	decision, err := testAggregator().Aggregate("r1", outputs, core.RuleResult{})
	require.NoError(t, err)
	assert.Equal(t, llm.DecisionExclude, decision.Decision)
	assert.Equal(t, core.TierMajority, decision.Tier)
}

func TestErroredOutputsAreNonVotes(t *testing.T) {
	outputs := []llm.ModelOutput{
		vote("a", llm.DecisionInclude, 0.9, 0.95),
		vote("b", llm.DecisionInclude, 0.9, 0.95),
		{ModelID: "c", Err: "timed out"},
	}
	decision, err := testAggregator().Aggregate("r1", outputs, core.RuleResult{})
	require.NoError(t, err)
	// Two of two successful votes: unanimous among voters.
	assert.Equal(t, llm.DecisionInclude, decision.Decision)
	assert.Equal(t, core.TierHighConfidence, decision.Tier)
	assert.InDelta(t, 0.9, decision.FinalScore, 0.0001, "errored outputs are excluded from the mean, not zeroed")
}

func TestAllErroredEscalates(t *testing.T) {
	outputs := []llm.ModelOutput{
		{ModelID: "a", Err: "timeout"},
		{ModelID: "b", Err: "auth"},
	}
	decision, err := testAggregator().Aggregate("r1", outputs, core.RuleResult{})
	require.NoError(t, err)
	assert.Equal(t, llm.DecisionHumanReview, decision.Decision)
	assert.Equal(t, core.TierHumanReview, decision.Tier)
}

func TestNoOutputsIsAnError(t *testing.T) {
	_, err := testAggregator().Aggregate("r1", nil, core.RuleResult{})
	assert.ErrorIs(t, err, ErrNoOutputs)
}

func TestPenaltyCannotPushScoreNegative(t *testing.T) {
	outputs := []llm.ModelOutput{vote("a", llm.DecisionInclude, 0.1, 0.9)}
	ruleResult := core.RuleResult{TotalPenalty: 0.5}
	decision, err := testAggregator().Aggregate("r1", outputs, ruleResult)
	require.NoError(t, err)
	assert.Zero(t, decision.FinalScore)
}

// Invariants from the routing contract, checked across a grid of vote mixes.
func TestInvariants(t *testing.T) {
	mixes := [][]llm.ModelOutput{
		{vote("a", llm.DecisionInclude, 0.9, 0.9)},
		{vote("a", llm.DecisionExclude, 0.1, 0.9)},
		{vote("a", llm.DecisionInclude, 0.5, 0.4), vote("b", llm.DecisionExclude, 0.5, 0.4)},
		{vote("a", llm.DecisionHumanReview, 0.5, 0.5), vote("b", llm.DecisionInclude, 0.8, 0.9)},
		{vote("a", llm.DecisionInclude, 0.7, 0.6), vote("b", llm.DecisionInclude, 0.65, 0.7), vote("c", llm.DecisionExclude, 0.2, 0.8)},
		{{ModelID: "a", Err: "down"}, vote("b", llm.DecisionExclude, 0.05, 0.9), vote("c", llm.DecisionExclude, 0.1, 0.9)},
	}
	ruleResults := []core.RuleResult{
		{},
		{TotalPenalty: 0.15, SoftViolations: []core.Violation{{RuleName: "p", Penalty: 0.15}}},
		{HardViolations: []core.Violation{{RuleName: "h"}}},
	}

	agg := testAggregator()
	for _, outputs := range mixes {
		for _, ruleResult := range ruleResults {
			decision, err := agg.Aggregate("r", outputs, ruleResult)
			require.NoError(t, err)

			assert.Equal(t, ruleResult.HasHardViolation(), decision.Tier == core.TierRuleOverride,
				"tier 0 iff hard violation")
			assert.GreaterOrEqual(t, decision.FinalScore, 0.0)
			assert.LessOrEqual(t, decision.FinalScore, 1.0)
			assert.GreaterOrEqual(t, decision.EnsembleConfidence, 0.0)
			assert.LessOrEqual(t, decision.EnsembleConfidence, 1.0)
			if decision.Decision == llm.DecisionInclude {
				assert.Contains(t, []core.Tier{core.TierHighConfidence, core.TierMajority}, decision.Tier)
			}
		}
	}
}

// The aggregator is deterministic: permuting input order cannot change the outcome.
func TestOrderIndependence(t *testing.T) {
	a := vote("a", llm.DecisionInclude, 0.8, 0.9)
	b := vote("b", llm.DecisionExclude, 0.2, 0.7)
	c := vote("c", llm.DecisionInclude, 0.6, 0.8)

	agg := testAggregator()
	first, err := agg.Aggregate("r", []llm.ModelOutput{a, b, c}, core.RuleResult{})
	require.NoError(t, err)
	second, err := agg.Aggregate("r", []llm.ModelOutput{c, a, b}, core.RuleResult{})
	require.NoError(t, err)

	assert.Equal(t, first.Decision, second.Decision)
	assert.Equal(t, first.Tier, second.Tier)
	assert.InDelta(t, first.FinalScore, second.FinalScore, 1e-9)
	assert.InDelta(t, first.EnsembleConfidence, second.EnsembleConfidence, 1e-9)
}

func TestBinaryRecall(t *testing.T) {
	assert.True(t, BinaryRecall(llm.DecisionInclude))
	assert.True(t, BinaryRecall(llm.DecisionHumanReview))
	assert.False(t, BinaryRecall(llm.DecisionExclude))
}

func TestInvalidThresholdsFallBackToDefaults(t *testing.T) {
	agg := New(Thresholds{High: 0.2, Mid: 0.5, Low: 0.9})
	assert.Equal(t, DefaultThresholds(), agg.thresholds)
}
