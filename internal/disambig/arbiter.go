package disambig

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/troubadour-labs/attribution-cli/internal/cost"
	"github.com/troubadour-labs/attribution-cli/internal/model"
	"github.com/troubadour-labs/attribution-cli/internal/resilience"
	"github.com/troubadour-labs/attribution-cli/pkg/anthropic"
)

const arbiterSystemPrompt = `You are a music metadata analyst resolving identity questions about
recordings, works, and artists. You are given a numbered list of candidate records from different
catalog sources and free-text context about the group they were clustered into.

Decide which candidate, if any, refers to the same real-world entity the context describes.
Respond with ONLY a JSON object, no prose:

{"chosen_index": <zero-based index or null>, "confidence": <0.0-1.0>, "reasoning": "<one or two sentences>"}

Use null for chosen_index when no candidate is a confident match. Aliases, transliterations,
featured-artist suffixes, and remaster annotations do not make records different entities.
Different ISRCs or clearly different release years usually do.`

const defaultArbiterMaxTokens = 1024

// Arbiter implements Oracle using the Anthropic API. It is deliberately thin:
// the Disambiguator owns gating, caching, and fallback.
type Arbiter struct {
	client  anthropic.Client
	model   string
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	budget  *cost.Tracker
	log     *zap.Logger
}

// ArbiterOption configures an Arbiter.
type ArbiterOption func(*Arbiter)

// WithRetry sets the retry policy applied to each model call.
func WithRetry(cfg resilience.RetryConfig) ArbiterOption {
	return func(a *Arbiter) { a.retry = cfg }
}

// WithBreaker routes model calls through the given circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) ArbiterOption {
	return func(a *Arbiter) { a.breaker = cb }
}

// WithBudget enforces a spending cap. Once the tracker reports exhaustion
// the Arbiter refuses further calls and the Disambiguator falls back to
// heuristic decisions.
func WithBudget(t *cost.Tracker) ArbiterOption {
	return func(a *Arbiter) { a.budget = t }
}

// NewArbiter creates an Arbiter that asks the given model.
func NewArbiter(client anthropic.Client, modelID string, opts ...ArbiterOption) *Arbiter {
	a := &Arbiter{
		client: client,
		model:  modelID,
		retry:  resilience.DefaultRetryConfig(),
		log:    zap.L().Named("arbiter"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Warm sends a primer request so the shared system prompt is cached before a
// bulk run. Failure is non-fatal; later calls just pay the cache write.
func (a *Arbiter) Warm(ctx context.Context) {
	_, err := anthropic.PrimerRequest(ctx, a.client, anthropic.MessageRequest{
		Model:     a.model,
		MaxTokens: 16,
		System:    anthropic.BuildCachedSystemBlocks(arbiterSystemPrompt),
		Messages: []anthropic.Message{
			{Role: "user", Content: "Acknowledge receipt of the instructions."},
		},
	})
	if err != nil {
		a.log.Debug("primer failed", zap.Error(err))
	}
}

// arbiterVerdict is the JSON shape the model is instructed to emit.
type arbiterVerdict struct {
	ChosenIndex *int    `json:"chosen_index"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning"`
}

// Disambiguate asks the model to pick the candidate matching the group
// context, or decline.
func (a *Arbiter) Disambiguate(ctx context.Context, candidates []model.SourceRecord, contextText string) (Decision, error) {
	if len(candidates) == 0 {
		return Decision{}, eris.New("arbiter: no candidates")
	}

	if a.budget != nil {
		if err := a.budget.Check(); err != nil {
			return Decision{}, eris.Wrap(err, "arbiter")
		}
	}

	temp := 0.0
	req := anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   defaultArbiterMaxTokens,
		System:      anthropic.BuildCachedSystemBlocks(arbiterSystemPrompt),
		Messages:    []anthropic.Message{{Role: "user", Content: buildArbiterPrompt(candidates, contextText)}},
		Temperature: &temp,
	}
	resp, err := a.call(ctx, req)
	if err != nil {
		return Decision{}, eris.Wrap(err, "arbiter: create message")
	}
	resp.Usage.LogCost(a.model, "disambiguation")
	if a.budget != nil {
		a.budget.Record(a.model,
			int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens),
			int(resp.Usage.CacheCreationInputTokens), int(resp.Usage.CacheReadInputTokens))
	}

	var verdict arbiterVerdict
	if err := json.Unmarshal([]byte(cleanJSON(resp.Text())), &verdict); err != nil {
		a.log.Warn("unparseable verdict", zap.Error(err), zap.String("text", resp.Text()))
		return Decision{}, eris.Wrap(err, "arbiter: parse verdict")
	}

	if verdict.ChosenIndex != nil && (*verdict.ChosenIndex < 0 || *verdict.ChosenIndex >= len(candidates)) {
		return Decision{}, eris.Errorf("arbiter: chosen index %d out of range [0,%d)", *verdict.ChosenIndex, len(candidates))
	}
	if verdict.Confidence < 0 {
		verdict.Confidence = 0
	}
	if verdict.Confidence > 1 {
		verdict.Confidence = 1
	}

	return Decision{
		ChosenIndex: verdict.ChosenIndex,
		Confidence:  verdict.Confidence,
		Reasoning:   verdict.Reasoning,
	}, nil
}

// call sends the request with retries, optionally through the circuit
// breaker. Transient API errors are retried; everything else fails fast.
func (a *Arbiter) call(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	attempt := func(ctx context.Context) (*anthropic.MessageResponse, error) {
		if a.breaker == nil {
			return a.client.CreateMessage(ctx, req)
		}
		return resilience.ExecuteVal(ctx, a.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return a.client.CreateMessage(ctx, req)
		})
	}
	return resilience.DoVal(ctx, a.retry, attempt)
}

// buildArbiterPrompt renders candidates as a numbered list with their
// identifiers and metadata, followed by the group context.
func buildArbiterPrompt(candidates []model.SourceRecord, contextText string) string {
	var b strings.Builder
	b.WriteString("Candidates:\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. [%s] %q", i, c.Key(), c.Name)
		if len(c.AltNames) > 0 {
			fmt.Fprintf(&b, " (aka %s)", strings.Join(c.AltNames, ", "))
		}
		if ids := identifierSummary(c.Identifiers); ids != "" {
			fmt.Fprintf(&b, " ids={%s}", ids)
		}
		if len(c.Metadata) > 0 {
			fmt.Fprintf(&b, " meta={%s}", metadataSummary(c.Metadata))
		}
		b.WriteString("\n")
	}
	b.WriteString("\nContext:\n")
	b.WriteString(contextText)
	return b.String()
}

func identifierSummary(bundle model.IdentifierBundle) string {
	var parts []string
	for _, field := range model.MatchableIdentifierFields {
		if v := bundle.Get(field); v != "" {
			parts = append(parts, string(field)+"="+v)
		}
	}
	return strings.Join(parts, ", ")
}

func metadataSummary(meta map[string]string) string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+meta[k])
	}
	return strings.Join(parts, ", ")
}

// cleanJSON attempts to extract a JSON object from text that may contain
// markdown code fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Find first { and last }.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
