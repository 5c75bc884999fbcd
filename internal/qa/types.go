// Package qa implements the quality-assessment side of the engine: the
// per-document-type tool catalog, criterion prompt rendering, the
// document-design classifier, and the concurrent per-criterion fan-out.
package qa

import (
	"strings"
	"time"
)

// DocumentType is the study design driving tool selection
type DocumentType string

// Supported document types; each maps to one appraisal tool
const (
	DocRCT              DocumentType = "RCT"
	DocSystematicReview DocumentType = "Systematic Review"
	DocCohort           DocumentType = "Cohort Study"
	DocCaseControl      DocumentType = "Case-Control Study"
	DocCrossSectional   DocumentType = "Cross-Sectional Study"
	DocDiagnostic       DocumentType = "Diagnostic Study"
	DocQualitative      DocumentType = "Qualitative Research"
	DocEconomic         DocumentType = "Economic Evaluation"
	DocAnimal           DocumentType = "Animal Research"
	// DocAuto asks the classifier to infer the type from the text
	DocAuto DocumentType = "auto"
)

// Status is an assessment job's lifecycle state. The intended path is
// monotonic; error is reachable from any non-terminal state.
type Status string

// Assessment statuses
const (
	StatusUploading     Status = "uploading"
	StatusPendingText   Status = "pending_text_extraction"
	StatusProcessing    Status = "processing_assessment"
	StatusCompleted     Status = "completed"
	StatusError         Status = "error"
	StatusPendingWorker Status = "pending_celery"
)

// Terminal reports whether the status admits no further transition
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusError }

// statusRank orders the intended path for monotonicity checks
var statusRank = map[Status]int{
	StatusUploading:     0,
	StatusPendingWorker: 1,
	StatusPendingText:   2,
	StatusProcessing:    3,
	StatusCompleted:     4,
}

// CanTransition reports whether moving from s to next respects the
// lifecycle: forward along the intended path, or to error from any
// non-terminal state.
func (s Status) CanTransition(next Status) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusError {
		return true
	}
	from, okFrom := statusRank[s]
	to, okTo := statusRank[next]
	return okFrom && okTo && to > from
}

// Progress tracks criterion completion for observers. Current is monotonic:
// readers must ignore values lower than previously seen.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message,omitempty"`
}

// Criterion is one item of an appraisal tool
type Criterion struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Domain   string `json:"domain,omitempty"`
	Guidance string `json:"guidance,omitempty"`
	Critical bool   `json:"critical,omitempty"`
}

// Tool is one appraisal instrument: its name, judgment value set, and items
type Tool struct {
	Name string `json:"name"`
	// Judgments is the instrument's value set, e.g. "low risk/high
	// risk/some concerns"; the prompt embeds it verbatim
	Judgments string      `json:"judgments"`
	Criteria  []Criterion `json:"criteria"`
}

// CriterionResult is one criterion's parsed judgement
type CriterionResult struct {
	CriterionID    string   `json:"criterion_id"`
	CriterionText  string   `json:"criterion_text"`
	Judgment       string   `json:"judgment"`
	Reason         string   `json:"reason,omitempty"`
	EvidenceQuotes []string `json:"evidence_quotes,omitempty"`
}

// negativeJudgmentMarkers flag a result as a negative finding for the
// summary counters
var negativeJudgmentMarkers = []string{"no", "high risk", "poor", "not met"}

// Negative reports whether a judgment counts as a negative finding:
// it contains a negative marker or starts with "error".
func (r CriterionResult) Negative() bool {
	j := strings.ToLower(strings.TrimSpace(r.Judgment))
	if strings.HasPrefix(j, "error") {
		return true
	}
	for _, marker := range negativeJudgmentMarkers {
		if strings.Contains(j, marker) {
			return true
		}
	}
	return false
}

// AssessmentJob is the persisted state of one document's assessment
type AssessmentJob struct {
	AssessmentID     string            `json:"assessment_id"`
	Filename         string            `json:"filename"`
	DocumentType     DocumentType      `json:"document_type"`
	Status           Status            `json:"status"`
	Progress         Progress          `json:"progress"`
	SavedPDFFilename string            `json:"saved_pdf_filename,omitempty"`
	RawText          string            `json:"raw_text,omitempty"`
	Details          []CriterionResult `json:"assessment_details,omitempty"`

	SummaryTotalCriteriaEvaluated int `json:"summary_total_criteria_evaluated"`
	SummaryNegativeFindings       int `json:"summary_negative_findings"`

	CreatedAt time.Time `json:"created_at"`
	// Message carries the human-readable failure reason on error
	Message string `json:"message,omitempty"`
}

// BatchStatus is a batch job's lifecycle state
type BatchStatus string

// Batch statuses
const (
	BatchUploading  BatchStatus = "uploading"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
)

// BatchJob is the persisted state of one multi-document upload. A batch
// references its assessments by ID; deleting the batch leaves them intact.
type BatchJob struct {
	BatchID             string      `json:"batch_id"`
	AssessmentIDs       []string    `json:"assessment_ids"`
	Status              BatchStatus `json:"status"`
	TotalFiles          int         `json:"total_files"`
	SuccessfulFilenames []string    `json:"successful_filenames,omitempty"`
	FailedFilenames     []string    `json:"failed_filenames,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
}
