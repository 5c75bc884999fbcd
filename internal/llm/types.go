// Package llm defines the normalized request/response types shared by every
// provider client, the categorized error taxonomy, and the lenient parser
// that turns raw model text into a canonical structured output.
package llm

import (
	"context"
	"encoding/json"
	"time"
)

// Decision is the three-way screening verdict reported by a model
type Decision string

const (
	// DecisionInclude marks a record as relevant
	DecisionInclude Decision = "INCLUDE"
	// DecisionExclude marks a record as irrelevant
	DecisionExclude Decision = "EXCLUDE"
	// DecisionHumanReview defers the record to a human reviewer
	DecisionHumanReview Decision = "HUMAN_REVIEW"
)

// ValidDecisions is the label set accepted from screening responses
var ValidDecisions = map[Decision]bool{
	DecisionInclude:     true,
	DecisionExclude:     true,
	DecisionHumanReview: true,
}

// Request is a normalized LLM call, provider-agnostic. The dispatcher routes
// it to a concrete client which owns the wire format.
type Request struct {
	Provider     string
	Model        string
	SystemPrompt string
	Prompt       string
	// Params carries generation parameters (temperature, max_tokens, ...).
	// Clients silently drop parameters their model does not support.
	Params map[string]interface{}
	// Timeout bounds the single outbound HTTP call.
	Timeout time.Duration
}

// RawResponse is what a provider client returns on success: the unparsed
// response text plus call latency. Parsing is the caller's job.
type RawResponse struct {
	Text      string
	LatencyMS int64
}

// ElementAssessment is a model's per-element judgement for one criteria slot.
// Match is nil when the model could not assess the element.
type ElementAssessment struct {
	Match    *bool  `json:"match"`
	Evidence string `json:"evidence,omitempty"`
}

// ModelOutput is the normalized result of one LLM call for one record or
// criterion. Exactly one of Err or the decision fields is meaningful: an
// errored output carries no vote.
type ModelOutput struct {
	ModelID           string                       `json:"model_id"`
	Decision          Decision                     `json:"decision,omitempty"`
	Score             float64                      `json:"score"`
	Confidence        float64                      `json:"confidence"`
	Rationale         string                       `json:"rationale,omitempty"`
	ElementAssessment map[string]ElementAssessment `json:"element_assessment,omitempty"`
	RawResponse       string                       `json:"raw_response,omitempty"`
	// Extra keeps unknown provider-specific response fields for audit.
	Extra      map[string]json.RawMessage `json:"extra,omitempty"`
	PromptHash string                     `json:"prompt_hash,omitempty"`
	LatencyMS  int64                      `json:"latency_ms"`
	Err        string                     `json:"error,omitempty"`
}

// Errored reports whether this output failed and therefore carries no vote
func (o ModelOutput) Errored() bool { return o.Err != "" }

// Client is the minimal capability a provider client must implement.
// Implementations must not retry internally; retry policy belongs to the
// dispatcher.
type Client interface {
	// Complete sends one request and returns the raw response text and
	// latency, or a categorized error.
	Complete(ctx context.Context, req Request) (*RawResponse, error)

	// Provider returns the provider key this client serves.
	Provider() string
}
