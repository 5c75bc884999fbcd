package qa

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sievehq/sieve/internal/dispatch"
	"github.com/sievehq/sieve/internal/llm"
	"github.com/sievehq/sieve/internal/logutil"
	"github.com/sievehq/sieve/internal/models"
)

// DefaultAssessmentDeadline bounds one document's criterion fan-out
const DefaultAssessmentDeadline = 30 * time.Minute

// Caller abstracts the dispatcher so tests can substitute a stub
type Caller interface {
	Call(ctx context.Context, req llm.Request, opts dispatch.CallOptions) (*dispatch.Result, error)
}

// Assessor fans one document's criteria out to concurrent LLM calls and
// assembles the ordered result list.
type Assessor struct {
	caller   Caller
	logger   logutil.LoggerInterface
	modelID  string
	deadline time.Duration
}

// NewAssessor creates an assessor using one catalog model for every criterion
func NewAssessor(caller Caller, logger logutil.LoggerInterface, modelID string, deadline time.Duration) (*Assessor, error) {
	if _, err := models.GetModel(modelID); err != nil {
		return nil, fmt.Errorf("assessor: %w", err)
	}
	if deadline <= 0 {
		deadline = DefaultAssessmentDeadline
	}
	return &Assessor{caller: caller, logger: logger, modelID: modelID, deadline: deadline}, nil
}

// criterionOutcome pairs one criterion's result with its catalog index
type criterionOutcome struct {
	index  int
	result CriterionResult
}

// Assess evaluates every criterion of the document type's tool against the
// extracted text. onProgress fires after each criterion completes with a
// monotonically increasing Current; observers polling the job record see
// partial progress, not just the final state.
//
// An unsupported document type completes immediately with no details and an
// explanatory message. Individual criterion failures degrade to parse-failure
// judgments and count as negative findings.
func (a *Assessor) Assess(ctx context.Context, documentType DocumentType, text string,
	onProgress func(Progress)) ([]CriterionResult, string) {

	tool, ok := ToolFor(documentType)
	if !ok {
		return nil, fmt.Sprintf("document type %q is not supported for quality assessment", documentType)
	}
	total := len(tool.Criteria)
	contextLogger := a.logger.WithContext(ctx)

	if onProgress != nil {
		onProgress(Progress{Current: 0, Total: total,
			Message: fmt.Sprintf("Assessing %d criteria with %s", total, tool.Name)})
	}

	callCtx, cancel := context.WithTimeout(ctx, a.deadline)
	defer cancel()

	var wg sync.WaitGroup
	outcomes := make(chan criterionOutcome, total)
	for i, criterion := range tool.Criteria {
		wg.Add(1)
		go func(index int, criterion Criterion) {
			defer wg.Done()
			outcomes <- criterionOutcome{
				index:  index,
				result: a.assessOne(callCtx, tool, criterion, text),
			}
		}(i, criterion)
	}
	go func() {
		wg.Wait()
		close(outcomes)
	}()

	// Calls cut off by the deadline fail fast inside assessOne (the
	// dispatcher propagates the context error) and arrive here as
	// degraded parse-failure results, so the join always drains.
	results := make([]CriterionResult, total)
	completed := 0
	for outcome := range outcomes {
		results[outcome.index] = outcome.result
		completed++
		if onProgress != nil {
			onProgress(Progress{Current: completed, Total: total,
				Message: fmt.Sprintf("Completed %d/%d criteria", completed, total)})
		}
	}

	contextLogger.InfoContext(ctx, "assessed %d criteria for %s (%d negative)",
		total, documentType, CountNegatives(results))
	return results, ""
}

// assessOne runs one criterion call. Failures degrade to a parse-failure
// judgment carrying the error, never an error return.
func (a *Assessor) assessOne(ctx context.Context, tool Tool, criterion Criterion, text string) CriterionResult {
	info, err := models.GetModel(a.modelID)
	if err != nil {
		return CriterionResult{
			CriterionID:   criterion.ID,
			CriterionText: criterion.Text,
			Judgment:      ParseFailureJudgment,
			Reason:        err.Error(),
		}
	}

	req := llm.Request{
		Provider: info.Provider,
		Model:    info.ID,
		Prompt:   RenderCriterionPrompt(tool, criterion, text),
		Params:   info.DefaultParams,
		Timeout:  info.Timeout,
	}
	result, err := a.caller.Call(ctx, req, dispatch.CallOptions{
		Cacheable: func(respText string) bool {
			parsed := ParseCriterionResponse(criterion, respText)
			return parsed.Judgment != ParseFailureJudgment
		},
	})
	if err != nil {
		return CriterionResult{
			CriterionID:   criterion.ID,
			CriterionText: criterion.Text,
			Judgment:      ParseFailureJudgment,
			Reason:        err.Error(),
		}
	}
	return ParseCriterionResponse(criterion, result.Text)
}

// CountNegatives counts results whose judgment is a negative finding
func CountNegatives(results []CriterionResult) int {
	count := 0
	for _, r := range results {
		if r.Negative() {
			count++
		}
	}
	return count
}
