// Package ensemble reduces the per-model outputs and the rule result for
// one record into a calibrated decision with a routing tier. Aggregation is
// deterministic and order-independent: the same outputs always produce the
// same decision regardless of completion order.
package ensemble

import (
	"errors"
	"time"

	"github.com/sievehq/sieve/internal/core"
	"github.com/sievehq/sieve/internal/llm"
)

// ErrNoOutputs is returned when aggregation is attempted with no model outputs
var ErrNoOutputs = errors.New("ensemble: no model outputs to aggregate")

// Thresholds are the calibration cut points. Invariant: High > Mid > Low.
type Thresholds struct {
	High float64
	Mid  float64
	Low  float64
}

// DefaultThresholds returns the standard calibration
func DefaultThresholds() Thresholds {
	return Thresholds{High: 0.85, Mid: 0.5, Low: 0.3}
}

// Valid reports whether the thresholds are strictly ordered
func (t Thresholds) Valid() bool {
	return t.High > t.Mid && t.Mid > t.Low
}

// Aggregator computes ensemble decisions
type Aggregator struct {
	thresholds Thresholds
}

// New creates an aggregator; invalid thresholds fall back to the defaults
func New(thresholds Thresholds) *Aggregator {
	if !thresholds.Valid() {
		thresholds = DefaultThresholds()
	}
	return &Aggregator{thresholds: thresholds}
}

// Aggregate reduces model outputs and the rule result to a ScreeningDecision.
// Errored outputs are non-votes: they are excluded from the score mean and
// the vote counts, and contribute zero confidence.
func (a *Aggregator) Aggregate(recordID string, outputs []llm.ModelOutput, ruleResult core.RuleResult) (core.ScreeningDecision, error) {
	if len(outputs) == 0 {
		return core.ScreeningDecision{}, ErrNoOutputs
	}

	decision := core.ScreeningDecision{
		RecordID:     recordID,
		ModelOutputs: outputs,
		RuleResult:   ruleResult,
		DecidedAt:    time.Now().UTC(),
	}

	var (
		successful    []llm.ModelOutput
		sumScore      float64
		sumConfidence float64
		includeVotes  int
		excludeVotes  int
	)
	for _, out := range outputs {
		if out.Errored() {
			continue
		}
		successful = append(successful, out)
		sumScore += out.Score
		sumConfidence += out.Confidence
		switch out.Decision {
		case llm.DecisionInclude:
			includeVotes++
		case llm.DecisionExclude:
			excludeVotes++
		}
	}

	meanConfidence := 0.0
	if len(successful) > 0 {
		meanConfidence = sumConfidence / float64(len(successful))
	}

	// Hard violations override everything the models said.
	if ruleResult.HasHardViolation() {
		decision.Decision = llm.DecisionExclude
		decision.Tier = core.TierRuleOverride
		decision.FinalScore = 0
		decision.EnsembleConfidence = meanConfidence
		return decision, nil
	}

	if len(successful) == 0 {
		// Every model errored; the pipeline layer attaches the message.
		decision.Decision = llm.DecisionHumanReview
		decision.Tier = core.TierHumanReview
		return decision, nil
	}

	baseScore := sumScore / float64(len(successful))
	finalScore := baseScore - ruleResult.TotalPenalty
	if finalScore < 0 {
		finalScore = 0
	}
	decision.FinalScore = finalScore
	decision.EnsembleConfidence = meanConfidence

	unanimous := includeVotes == len(successful)
	majorityInclude := includeVotes*2 > len(successful)
	majorityExclude := excludeVotes*2 > len(successful)

	switch {
	case unanimous && meanConfidence >= a.thresholds.High && finalScore >= a.thresholds.Mid:
		decision.Decision = llm.DecisionInclude
		decision.Tier = core.TierHighConfidence
	case majorityInclude && finalScore >= a.thresholds.Mid:
		decision.Decision = llm.DecisionInclude
		decision.Tier = core.TierMajority
	case finalScore < a.thresholds.Low && majorityExclude:
		decision.Decision = llm.DecisionExclude
		decision.Tier = core.TierMajority
	default:
		// Even splits and everything else land here.
		decision.Decision = llm.DecisionHumanReview
		decision.Tier = core.TierHumanReview
	}
	return decision, nil
}

// BinaryRecall collapses a three-way decision to a binary include flag for
// recall-oriented evaluation: HUMAN_REVIEW counts as INCLUDE. This is a
// policy knob for evaluation boundaries only; pipeline code keeps decisions
// three-way.
func BinaryRecall(decision llm.Decision) bool {
	return decision == llm.DecisionInclude || decision == llm.DecisionHumanReview
}
