// Package planner – anthropic.go implements Provider and Clarifier on the
// Anthropic Messages API. The model is asked for a single JSON object and
// the reply is parsed out of the first balanced JSON block, tolerating
// markdown fences around it.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agentloom/agentloom/pkg/agentloom/plan"
)

// Options configures the Anthropic planner (model id, max tokens, API key).
type Options struct {
	Model     anthropic.Model
	MaxTokens int64
	APIKey    string
}

// Anthropic implements Provider and Clarifier using the official client.
type Anthropic struct {
	client *anthropic.Client
	opts   Options
}

// NewAnthropic creates a planner backed by the Anthropic Messages API.
func NewAnthropic(optFns ...func(o *Options)) *Anthropic {
	opts := Options{
		Model:     anthropic.ModelClaude3_5Sonnet20241022,
		MaxTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Anthropic{client: &client, opts: opts}
}

const proposeSystem = `You design automation agents. Given a user's description,
reply with ONLY a JSON object:
{"name": "...", "persona": "...", "instructions": "...",
 "behaviours": [{"name": "...", "instruction": "...",
   "capabilities": ["..."],
   "trigger": {"kind": "time-based|inbound-event|periodic-poll",
     "schedule": "cron, for time-based", "capability": "for periodic-poll",
     "event": "for inbound-event"}}],
 "initial_memories": ["..."]}
Use only capability names from the provided list. Prefer the simplest
trigger kind that satisfies the description.`

const clarifySystem = `You review automation descriptions for ambiguity.
Reply with ONLY a JSON array of clarification questions, each
{"id": "q1", "prompt": "..."}. Reply with [] if the description is
specific enough to act on without asking anything.`

// Propose converts a description into a plan.
func (a *Anthropic) Propose(ctx context.Context, description string, capabilities []string) (*plan.Plan, error) {
	prompt := fmt.Sprintf("Available capabilities: %s\n\nDescription:\n%s",
		strings.Join(capabilities, ", "), description)

	text, err := a.complete(ctx, proposeSystem, prompt)
	if err != nil {
		return nil, fmt.Errorf("propose plan: %w", err)
	}
	return parsePlan(text)
}

// Adjust revises a plan from user feedback.
func (a *Anthropic) Adjust(ctx context.Context, current *plan.Plan, feedback string, capabilities []string) (*plan.Plan, error) {
	currentJSON, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("marshal current plan: %w", err)
	}

	prompt := fmt.Sprintf(
		"Available capabilities: %s\n\nCurrent plan:\n%s\n\nUser feedback:\n%s\n\nReply with the full revised plan.",
		strings.Join(capabilities, ", "), currentJSON, feedback)

	text, err := a.complete(ctx, proposeSystem, prompt)
	if err != nil {
		return nil, fmt.Errorf("adjust plan: %w", err)
	}
	return parsePlan(text)
}

// Questions asks the model whether the description needs clarification.
func (a *Anthropic) Questions(ctx context.Context, description string) ([]plan.Question, error) {
	text, err := a.complete(ctx, clarifySystem, description)
	if err != nil {
		return nil, fmt.Errorf("clarify description: %w", err)
	}

	raw := extractJSON(text, '[', ']')
	if raw == "" {
		return nil, nil
	}
	var questions []plan.Question
	if err := json.Unmarshal([]byte(raw), &questions); err != nil {
		return nil, fmt.Errorf("parse clarification questions: %w", err)
	}
	return questions, nil
}

// complete runs one non-streaming Messages call and concatenates the text
// blocks of the reply.
func (a *Anthropic) complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.opts.Model,
		MaxTokens: a.opts.MaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic api error: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	return sb.String(), nil
}

func parsePlan(text string) (*plan.Plan, error) {
	raw := extractJSON(text, '{', '}')
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in planner reply")
	}
	var p plan.Plan
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if p.Name == "" || len(p.Behaviours) == 0 {
		return nil, fmt.Errorf("planner reply missing name or behaviours")
	}
	return &p, nil
}

// extractJSON returns the outermost open..close span in text, stripping
// anything around it (markdown fences, prose).
func extractJSON(text string, open, close byte) string {
	start := strings.IndexByte(text, open)
	end := strings.LastIndexByte(text, close)
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
