// Package rules implements the deterministic rule layer of the screening
// pipeline. Hard rules force an EXCLUDE/tier-0 decision; soft rules add a
// bounded penalty to the ensemble score. The engine is stateless and
// framework-agnostic: element names are resolved through canonical slots.
package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sievehq/sieve/internal/core"
	"github.com/sievehq/sieve/internal/llm"
)

// Soft rule penalties
const (
	PenaltyPopulationPartial     = 0.15
	PenaltyOutcomePartial        = 0.10
	PenaltyAmbiguousIntervention = 0.05
)

// publicationTypePattern flags titles that identify non-primary literature
var publicationTypePattern = regexp.MustCompile(`(?i)systematic review|meta-analysis|letter to the editor`)

// Slot is a canonical criteria element role. Frameworks name the same role
// differently (SPIDER's "sample" is a population); rules match on slots.
type Slot int

// Canonical slots the soft rules evaluate
const (
	SlotPopulation Slot = iota
	SlotIntervention
	SlotOutcome
)

// slotNames maps each canonical slot to the element names that fill it
// across frameworks.
var slotNames = map[Slot][]string{
	SlotPopulation:   {"population", "sample", "client_group", "client"},
	SlotIntervention: {"intervention", "exposure", "phenomenon_of_interest", "concept", "improvement", "behaviour"},
	SlotOutcome:      {"outcome", "evaluation", "impact"},
}

// ElementForSlot returns the criteria element name filling a canonical slot,
// or "" when the framework has no element in that role.
func ElementForSlot(criteria core.Criteria, slot Slot) string {
	elements := criteria.ElementNames()
	for _, candidate := range slotNames[slot] {
		for _, name := range elements {
			if name == candidate {
				return name
			}
		}
	}
	return ""
}

// Rule checks one condition over a record and the model outputs. A nil
// return means the rule did not trigger.
type Rule interface {
	Name() string
	// Hard rules force EXCLUDE/tier 0; soft rules carry a penalty.
	Hard() bool
	Check(record core.Record, criteria core.Criteria, outputs []llm.ModelOutput) *core.Violation
}

// --- Hard rules ---

// PublicationTypeRule excludes editorials, errata, and titles that identify
// reviews or letters. An UNKNOWN study type never triggers on its own:
// misclassifying a primary study costs recall. The title check applies
// whatever the study type.
type PublicationTypeRule struct{}

// Name implements Rule
func (PublicationTypeRule) Name() string { return "PublicationType" }

// Hard implements Rule
func (PublicationTypeRule) Hard() bool { return true }

// Check implements Rule
func (PublicationTypeRule) Check(record core.Record, _ core.Criteria, _ []llm.ModelOutput) *core.Violation {
	if record.StudyType == core.StudyEditorial || record.StudyType == core.StudyErratum {
		return &core.Violation{
			RuleName:    "PublicationType",
			Description: fmt.Sprintf("study type %s is not primary literature", record.StudyType),
		}
	}
	if publicationTypePattern.MatchString(record.Title) {
		return &core.Violation{
			RuleName:    "PublicationType",
			Description: "title identifies a review or letter",
		}
	}
	return nil
}

// LanguageRule excludes records whose language falls outside the criteria's
// restriction. Records with no language set pass.
type LanguageRule struct{}

// Name implements Rule
func (LanguageRule) Name() string { return "Language" }

// Hard implements Rule
func (LanguageRule) Hard() bool { return true }

// Check implements Rule
func (LanguageRule) Check(record core.Record, criteria core.Criteria, _ []llm.ModelOutput) *core.Violation {
	if criteria.LanguageAllowed(record.Language) {
		return nil
	}
	return &core.Violation{
		RuleName:    "Language",
		Description: fmt.Sprintf("language %q is not in the allowed set", record.Language),
	}
}

// StudyDesignRule excludes records whose study type is listed in the
// criteria's design exclusions. UNKNOWN never triggers.
type StudyDesignRule struct{}

// Name implements Rule
func (StudyDesignRule) Name() string { return "StudyDesign" }

// Hard implements Rule
func (StudyDesignRule) Hard() bool { return true }

// Check implements Rule
func (StudyDesignRule) Check(record core.Record, criteria core.Criteria, _ []llm.ModelOutput) *core.Violation {
	if record.StudyType == core.StudyUnknown || record.StudyType == "" {
		return nil
	}
	for _, excluded := range criteria.StudyDesignExclude {
		if strings.EqualFold(strings.TrimSpace(excluded), string(record.StudyType)) {
			return &core.Violation{
				RuleName:    "StudyDesign",
				Description: fmt.Sprintf("study design %s is excluded by the criteria", record.StudyType),
			}
		}
	}
	return nil
}

// --- Soft rules ---

// slotVotes tallies model assessments for one canonical slot. Outputs with
// no assessment for the element, or a nil match, are skipped.
func slotVotes(criteria core.Criteria, outputs []llm.ModelOutput, slot Slot) (matched, unmatched int) {
	element := ElementForSlot(criteria, slot)
	if element == "" {
		return 0, 0
	}
	for _, out := range outputs {
		if out.Errored() {
			continue
		}
		assessment, ok := out.ElementAssessment[element]
		if !ok || assessment.Match == nil {
			continue
		}
		if *assessment.Match {
			matched++
		} else {
			unmatched++
		}
	}
	return matched, unmatched
}

// PopulationPartialMatchRule penalizes records where at least half the
// models judged the population element unmatched.
type PopulationPartialMatchRule struct{}

// Name implements Rule
func (PopulationPartialMatchRule) Name() string { return "PopulationPartialMatch" }

// Hard implements Rule
func (PopulationPartialMatchRule) Hard() bool { return false }

// Check implements Rule
func (PopulationPartialMatchRule) Check(_ core.Record, criteria core.Criteria, outputs []llm.ModelOutput) *core.Violation {
	matched, unmatched := slotVotes(criteria, outputs, SlotPopulation)
	total := matched + unmatched
	if total == 0 || unmatched*2 < total {
		return nil
	}
	return &core.Violation{
		RuleName:    "PopulationPartialMatch",
		Description: "half or more models judged the population element unmatched",
		Penalty:     PenaltyPopulationPartial,
	}
}

// OutcomePartialMatchRule penalizes records where at least half the models
// judged the outcome element unmatched.
type OutcomePartialMatchRule struct{}

// Name implements Rule
func (OutcomePartialMatchRule) Name() string { return "OutcomePartialMatch" }

// Hard implements Rule
func (OutcomePartialMatchRule) Hard() bool { return false }

// Check implements Rule
func (OutcomePartialMatchRule) Check(_ core.Record, criteria core.Criteria, outputs []llm.ModelOutput) *core.Violation {
	matched, unmatched := slotVotes(criteria, outputs, SlotOutcome)
	total := matched + unmatched
	if total == 0 || unmatched*2 < total {
		return nil
	}
	return &core.Violation{
		RuleName:    "OutcomePartialMatch",
		Description: "half or more models judged the outcome element unmatched",
		Penalty:     PenaltyOutcomePartial,
	}
}

// AmbiguousInterventionRule penalizes records where the models disagree on
// the intervention element: not all matched and not all unmatched.
type AmbiguousInterventionRule struct{}

// Name implements Rule
func (AmbiguousInterventionRule) Name() string { return "AmbiguousIntervention" }

// Hard implements Rule
func (AmbiguousInterventionRule) Hard() bool { return false }

// Check implements Rule
func (AmbiguousInterventionRule) Check(_ core.Record, criteria core.Criteria, outputs []llm.ModelOutput) *core.Violation {
	matched, unmatched := slotVotes(criteria, outputs, SlotIntervention)
	if matched == 0 || unmatched == 0 {
		return nil
	}
	return &core.Violation{
		RuleName:    "AmbiguousIntervention",
		Description: "models disagree on the intervention element",
		Penalty:     PenaltyAmbiguousIntervention,
	}
}

// Engine evaluates the standard rule set over one record
type Engine struct {
	rules []Rule
}

// NewEngine creates an engine with the standard hard and soft rules
func NewEngine() *Engine {
	return &Engine{rules: []Rule{
		PublicationTypeRule{},
		LanguageRule{},
		StudyDesignRule{},
		PopulationPartialMatchRule{},
		OutcomePartialMatchRule{},
		AmbiguousInterventionRule{},
	}}
}

// NewEngineWithRules creates an engine with an explicit rule set
func NewEngineWithRules(rules ...Rule) *Engine {
	return &Engine{rules: rules}
}

// Evaluate runs every rule and collects violations. The total penalty is
// the sum of soft penalties capped at 1.0.
func (e *Engine) Evaluate(record core.Record, criteria core.Criteria, outputs []llm.ModelOutput) core.RuleResult {
	var result core.RuleResult
	for _, rule := range e.rules {
		violation := rule.Check(record, criteria, outputs)
		if violation == nil {
			continue
		}
		if rule.Hard() {
			result.HardViolations = append(result.HardViolations, *violation)
		} else {
			result.SoftViolations = append(result.SoftViolations, *violation)
			result.TotalPenalty += violation.Penalty
		}
	}
	if result.TotalPenalty > 1.0 {
		result.TotalPenalty = 1.0
	}
	return result
}
