package screening

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sievehq/sieve/internal/auditlog"
	"github.com/sievehq/sieve/internal/core"
	"github.com/sievehq/sieve/internal/dispatch"
	"github.com/sievehq/sieve/internal/ensemble"
	"github.com/sievehq/sieve/internal/llm"
	"github.com/sievehq/sieve/internal/logutil"
	"github.com/sievehq/sieve/internal/models"
	"github.com/sievehq/sieve/internal/rules"
)

// DefaultRecordDeadline bounds the whole fan-out for one record
const DefaultRecordDeadline = 3500 * time.Second

// Caller abstracts the dispatcher so tests can substitute a stub
type Caller interface {
	Call(ctx context.Context, req llm.Request, opts dispatch.CallOptions) (*dispatch.Result, error)
}

// Pipeline screens records through the consensus layers: N parallel model
// calls, the rule engine, and the ensemble aggregator.
type Pipeline struct {
	caller     Caller
	engine     *rules.Engine
	aggregator *ensemble.Aggregator
	audit      auditlog.Logger
	logger     logutil.LoggerInterface

	// modelIDs are the catalog models fanned out per record
	modelIDs []string
	// deadline bounds one record's fan-out wall clock
	deadline time.Duration
}

// Config shapes a Pipeline
type Config struct {
	ModelIDs       []string
	Thresholds     ensemble.Thresholds
	RecordDeadline time.Duration
}

// New creates a screening pipeline
func New(caller Caller, audit auditlog.Logger, logger logutil.LoggerInterface, cfg Config) (*Pipeline, error) {
	if len(cfg.ModelIDs) == 0 {
		return nil, fmt.Errorf("screening pipeline requires at least one model")
	}
	for _, id := range cfg.ModelIDs {
		if _, err := models.GetModel(id); err != nil {
			return nil, fmt.Errorf("screening pipeline: %w", err)
		}
	}
	deadline := cfg.RecordDeadline
	if deadline <= 0 {
		deadline = DefaultRecordDeadline
	}
	return &Pipeline{
		caller:     caller,
		engine:     rules.NewEngine(),
		aggregator: ensemble.New(cfg.Thresholds),
		audit:      audit,
		logger:     logger,
		modelIDs:   cfg.ModelIDs,
		deadline:   deadline,
	}, nil
}

// modelResult pairs one model's output with its fan-out slot
type modelResult struct {
	index  int
	output llm.ModelOutput
}

// Screen runs the full consensus pipeline for one (record, criteria) pair.
// Individual model failures degrade to non-votes; the record escalates to
// human review only when every model errored.
func (p *Pipeline) Screen(ctx context.Context, record core.Record, criteria core.Criteria) (core.ScreeningDecision, error) {
	ctx = logutil.WithCorrelationID(ctx)
	contextLogger := p.logger.WithContext(ctx)

	prompt, err := RenderPrompt(criteria, record)
	if err != nil {
		return core.ScreeningDecision{}, err
	}
	promptHash := PromptHash(prompt)

	outputs := p.fanOut(ctx, prompt, promptHash, contextLogger)

	ruleResult := p.engine.Evaluate(record, criteria, outputs)
	decision, err := p.aggregator.Aggregate(record.RecordID, outputs, ruleResult)
	if err != nil {
		return core.ScreeningDecision{}, err
	}

	if allErrored(outputs) {
		var msgs []string
		for _, out := range outputs {
			msgs = append(msgs, fmt.Sprintf("%s: %s", out.ModelID, out.Err))
		}
		decision.Message = "all models failed: " + strings.Join(msgs, "; ")
		contextLogger.WarnContext(ctx, "record %s: %s", record.RecordID, decision.Message)
	}

	p.appendAudit(record, criteria, outputs, decision)
	contextLogger.InfoContext(ctx, "record %s screened: %s (tier %d, score %.2f)",
		record.RecordID, decision.Decision, decision.Tier, decision.FinalScore)
	return decision, nil
}

// fanOut launches one goroutine per configured model and joins them under
// the record deadline. Models that miss the deadline are recorded as
// timeout errors; they do not block aggregation of the rest.
func (p *Pipeline) fanOut(ctx context.Context, prompt, promptHash string, contextLogger logutil.LoggerInterface) []llm.ModelOutput {
	var wg sync.WaitGroup
	resultChan := make(chan modelResult, len(p.modelIDs))

	callCtx, cancel := context.WithTimeout(ctx, p.deadline)
	defer cancel()

	for i, modelID := range p.modelIDs {
		wg.Add(1)
		go func(index int, modelID string) {
			defer wg.Done()
			resultChan <- modelResult{
				index:  index,
				output: p.callModel(callCtx, modelID, prompt, promptHash),
			}
		}(i, modelID)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	outputs := make([]llm.ModelOutput, len(p.modelIDs))
	received := make([]bool, len(p.modelIDs))

	collect := func() {
		for {
			select {
			case result := <-resultChan:
				outputs[result.index] = result.output
				received[result.index] = true
			default:
				return
			}
		}
	}

	select {
	case <-done:
	case <-time.After(p.deadline):
		contextLogger.WarnContext(ctx, "record deadline %v elapsed before all models responded", p.deadline)
	}
	collect()

	for i, ok := range received {
		if !ok {
			outputs[i] = llm.ModelOutput{
				ModelID:    p.modelIDs[i],
				PromptHash: promptHash,
				Err:        fmt.Sprintf("timed out after %v", p.deadline),
			}
		}
	}
	return outputs
}

// callModel dispatches one model call and parses the response. Any failure
// becomes an errored ModelOutput rather than an error: the ensemble treats
// it as a non-vote.
func (p *Pipeline) callModel(ctx context.Context, modelID, prompt, promptHash string) llm.ModelOutput {
	info, err := models.GetModel(modelID)
	if err != nil {
		return llm.ModelOutput{ModelID: modelID, PromptHash: promptHash, Err: err.Error()}
	}

	req := llm.Request{
		Provider: info.Provider,
		Model:    info.ID,
		Prompt:   prompt,
		Params:   info.DefaultParams,
		Timeout:  info.Timeout,
	}
	result, err := p.caller.Call(ctx, req, dispatch.CallOptions{
		Cacheable: func(text string) bool {
			_, parseErr := llm.ParseScreeningResponse(modelID, text)
			return parseErr == nil
		},
	})
	if err != nil {
		return llm.ModelOutput{ModelID: modelID, PromptHash: promptHash, Err: err.Error()}
	}

	// The answering model may differ from the requested one when the
	// dispatcher fell back; the output is attributed to the answerer.
	output, parseErr := llm.ParseScreeningResponse(result.Model, result.Text)
	output.PromptHash = promptHash
	output.LatencyMS = result.LatencyMS
	if parseErr != nil {
		output.Err = parseErr.Error()
	}
	return output
}

func allErrored(outputs []llm.ModelOutput) bool {
	for _, out := range outputs {
		if !out.Errored() {
			return false
		}
	}
	return len(outputs) > 0
}

func (p *Pipeline) appendAudit(record core.Record, criteria core.Criteria, outputs []llm.ModelOutput, decision core.ScreeningDecision) {
	entry := auditlog.Entry{
		RecordID:        record.RecordID,
		CriteriaID:      criteria.CriteriaID,
		CriteriaVersion: criteria.CriteriaVersion,
		ModelVersions:   map[string]string{},
		PromptHashes:    map[string]string{},
		ModelOutputs:    outputs,
		RuleResult:      decision.RuleResult,
		FinalDecision:   decision.Decision,
		Tier:            decision.Tier,
	}
	for _, out := range outputs {
		entry.PromptHashes[out.ModelID] = out.PromptHash
		if info, err := models.GetModel(out.ModelID); err == nil {
			entry.ModelVersions[out.ModelID] = info.FullModelID()
		}
	}
	p.audit.Log(entry)
}
