package qa

import (
	"regexp"
	"sort"
	"strings"
)

// Keyword, structure, and statistical-method signals per document type.
// Classification is a weighted vote: strong keywords count 3, structural
// section headings 2, characteristic statistical methods 1.
var strongKeywords = map[DocumentType][]*regexp.Regexp{
	DocRCT: compilePatterns(
		`\brandomi[sz]ed controlled trial\b`, `\bRCT\b`, `\brandomly (?:assigned|allocated)\b`,
		`\bdouble[- ]blind\b`, `\bplacebo[- ]controlled\b`, `\ballocation concealment\b`,
	),
	DocSystematicReview: compilePatterns(
		`\bsystematic review\b`, `\bmeta[- ]analysis\b`, `\bPRISMA\b`, `\bPROSPERO\b`,
		`\bsearch(?:ed)? (?:MEDLINE|PubMed|Embase|Cochrane)\b`, `\bpooled (?:estimate|analysis)\b`,
	),
	DocCohort: compilePatterns(
		`\bcohort stud(?:y|ies)\b`, `\bprospective(?:ly)? follow(?:ed|-up)\b`,
		`\bincidence rate\b`, `\bperson[- ]years\b`, `\bhazard ratio\b`,
	),
	DocCaseControl: compilePatterns(
		`\bcase[- ]control stud(?:y|ies)\b`, `\bmatched controls?\b`, `\bodds ratio\b`,
	),
	DocCrossSectional: compilePatterns(
		`\bcross[- ]sectional\b`, `\bprevalence\b`, `\bsurvey\b`, `\bquestionnaire\b`,
	),
	DocDiagnostic: compilePatterns(
		`\bdiagnostic accuracy\b`, `\bsensitivity and specificity\b`, `\breference standard\b`,
		`\bindex test\b`, `\bROC curve\b`, `\barea under the curve\b`,
	),
	DocQualitative: compilePatterns(
		`\bqualitative\b`, `\bsemi[- ]structured interviews?\b`, `\bthematic analysis\b`,
		`\bfocus groups?\b`, `\bgrounded theory\b`, `\bsaturation\b`,
	),
	DocEconomic: compilePatterns(
		`\bcost[- ]effectiveness\b`, `\bcost[- ]utility\b`, `\bQALY\b`, `\bincremental cost\b`,
		`\bwillingness[- ]to[- ]pay\b`, `\beconomic evaluation\b`,
	),
	DocAnimal: compilePatterns(
		`\bmice\b`, `\brats?\b.*\bmodel\b`, `\bin vivo\b`, `\banimal model\b`, `\bmurine\b`,
	),
}

var structureSignals = map[DocumentType][]*regexp.Regexp{
	DocRCT:              compilePatterns(`(?m)^\s*(?:randomi[sz]ation|trial design|participants and interventions)\b`),
	DocSystematicReview: compilePatterns(`(?m)^\s*(?:search strategy|eligibility criteria|data extraction|study selection)\b`),
	DocCohort:           compilePatterns(`(?m)^\s*(?:study population|exposure assessment|follow[- ]up)\b`),
	DocCaseControl:      compilePatterns(`(?m)^\s*(?:case (?:definition|ascertainment)|control selection)\b`),
	DocDiagnostic:       compilePatterns(`(?m)^\s*(?:test methods|reference standard)\b`),
	DocQualitative:      compilePatterns(`(?m)^\s*(?:interview guide|data collection|reflexivity)\b`),
	DocEconomic:         compilePatterns(`(?m)^\s*(?:cost analysis|sensitivity analys[ei]s|perspective)\b`),
}

var statisticalSignals = map[DocumentType][]*regexp.Regexp{
	DocRCT:              compilePatterns(`\bintention[- ]to[- ]treat\b`, `\bper[- ]protocol\b`),
	DocSystematicReview: compilePatterns(`\bI\^?2\b`, `\bheterogeneity\b`, `\bfunnel plot\b`, `\brandom[- ]effects?\b`),
	DocCohort:           compilePatterns(`\bCox (?:proportional hazards|regression)\b`, `\bKaplan[- ]Meier\b`),
	DocCaseControl:      compilePatterns(`\bconditional logistic regression\b`),
	DocCrossSectional:   compilePatterns(`\blogistic regression\b`, `\bchi[- ]squared?\b`),
	DocDiagnostic:       compilePatterns(`\blikelihood ratios?\b`, `\bpredictive values?\b`),
	DocEconomic:         compilePatterns(`\bMarkov model\b`, `\bdiscount(?:ed|ing) rate\b`),
}

func compilePatterns(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(`(?i)`+p))
	}
	return out
}

// classifyMinScore is the floor below which classification is refused and
// the caller should fall back to a default type.
const classifyMinScore = 3.0

// ClassifyDocument guesses a document's study design from its extracted
// text. Returns the best-scoring type and the per-type scores, except that
// Systematic Review is returned whenever it reaches the minimum signal and
// scores at least as high as RCT; when no type reaches the minimum signal,
// the bool result is false.
func ClassifyDocument(text string) (DocumentType, map[DocumentType]float64, bool) {
	if strings.TrimSpace(text) == "" {
		return "", nil, false
	}
	// Signals concentrate in the front matter; scoring the full text of a
	// long paper mostly adds citation noise.
	sample := text
	if len(sample) > 40_000 {
		sample = sample[:40_000]
	}

	scores := make(map[DocumentType]float64)
	for _, docType := range SupportedTypes() {
		var score float64
		for _, re := range strongKeywords[docType] {
			if re.MatchString(sample) {
				score += 3
			}
		}
		for _, re := range structureSignals[docType] {
			if re.MatchString(sample) {
				score += 2
			}
		}
		for _, re := range statisticalSignals[docType] {
			if re.MatchString(sample) {
				score += 1
			}
		}
		scores[docType] = score
	}

	// A systematic review that reports pooled RCTs will also fire RCT
	// keywords; prefer the review signal once it reaches the floor and is at
	// least the RCT score.
	if scores[DocSystematicReview] >= classifyMinScore && scores[DocSystematicReview] >= scores[DocRCT] {
		return DocSystematicReview, scores, true
	}

	best := rankScores(scores)
	if len(best) == 0 || scores[best[0]] < classifyMinScore {
		return "", scores, false
	}
	return best[0], scores, true
}

// rankScores orders types by descending score with a stable name tiebreak
func rankScores(scores map[DocumentType]float64) []DocumentType {
	types := make([]DocumentType, 0, len(scores))
	for t := range scores {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		if scores[types[i]] != scores[types[j]] {
			return scores[types[i]] > scores[types[j]]
		}
		return types[i] < types[j]
	})
	return types
}
