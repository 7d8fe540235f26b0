package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// DefaultChatModel is the model used for synthesis tasks (summaries,
// answers, relationship proposals).
const DefaultChatModel = openai.GPT4oMini

// ErrEmptyCompletion is returned when the model produces no output.
var ErrEmptyCompletion = errors.New("model returned empty completion")

// ChatAPI defines the interface for chat completion calls.
type ChatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ChatClient wraps the OpenAI chat API for the synthesis tasks the
// pipeline needs. All prompts are assembled here so callers deal only in
// domain inputs and structured outputs.
type ChatClient struct {
	api     ChatAPI
	model   string
	limiter *rate.Limiter
}

// ChatConfig configures the chat client.
type ChatConfig struct {
	APIKey            string
	Model             string
	RequestsPerSecond float64
}

// NewChatClient creates a chat client with explicit configuration.
func NewChatClient(cfg ChatConfig) *ChatClient {
	model := cfg.Model
	if model == "" {
		model = DefaultChatModel
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	return &ChatClient{
		api:     openai.NewClient(cfg.APIKey),
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

func (c *ChatClient) complete(ctx context.Context, system, user string, jsonMode bool) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.2,
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

// SummaryDraft is the structured output of a summarization call.
type SummaryDraft struct {
	Content   string   `json:"content"`
	KeyPoints []string `json:"key_points"`
	Entities  []string `json:"entities"`
}

const summarizeSystemPrompt = `You are a technical analyst condensing engineering activity.
Given a set of observations from one topic, produce a JSON object with:
"content": a 2-4 sentence narrative summary,
"key_points": up to 5 short bullet strings,
"entities": names of people, systems or projects mentioned.
Use only information present in the observations.`

// Summarize condenses a cluster of observation texts into a summary
// draft.
func (c *ChatClient) Summarize(ctx context.Context, scope string, observations []string) (*SummaryDraft, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\nObservations:\n", scope)
	for i, o := range observations {
		fmt.Fprintf(&b, "%d. %s\n", i+1, o)
	}

	out, err := c.complete(ctx, summarizeSystemPrompt, b.String(), true)
	if err != nil {
		return nil, err
	}
	var draft SummaryDraft
	if err := json.Unmarshal([]byte(out), &draft); err != nil {
		return nil, fmt.Errorf("failed to parse summary response: %w", err)
	}
	if draft.Content == "" {
		return nil, ErrEmptyCompletion
	}
	return &draft, nil
}

// RelationProposal is one model-suggested relationship between two
// documents, with the model's own confidence estimate.
type RelationProposal struct {
	TargetSourceID string  `json:"target_source_id"`
	RelationType   string  `json:"relation_type"`
	Confidence     float64 `json:"confidence"`
	Rationale      string  `json:"rationale"`
}

type relationProposalEnvelope struct {
	Relations []RelationProposal `json:"relations"`
}

const proposeRelationsSystemPrompt = `You identify relationships between engineering artifacts.
Given a document and a list of candidate related documents, return a JSON object:
{"relations": [{"target_source_id", "relation_type", "confidence", "rationale"}]}.
relation_type is one of: references, fixes, supersedes, relates_to.
confidence is 0.0-1.0. Only include relations you can justify from the text.`

// ProposeRelations asks the model for relationships between a document
// and candidate targets. Callers gate the proposals on confidence.
func (c *ChatClient) ProposeRelations(ctx context.Context, docText string, candidates []string) ([]RelationProposal, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Document:\n%s\n\nCandidates:\n", docText)
	for _, cand := range candidates {
		fmt.Fprintf(&b, "- %s\n", cand)
	}

	out, err := c.complete(ctx, proposeRelationsSystemPrompt, b.String(), true)
	if err != nil {
		return nil, err
	}
	var env relationProposalEnvelope
	if err := json.Unmarshal([]byte(out), &env); err != nil {
		return nil, fmt.Errorf("failed to parse relation proposals: %w", err)
	}
	return env.Relations, nil
}

const answerSystemPrompt = `You answer questions about a team's work using only the provided context passages.
Cite passages by their bracketed number, e.g. [2]. If the context does not
contain the answer, say so plainly instead of guessing.`

// Answer synthesizes a grounded answer from retrieved passages. Passages
// are numbered so the model can cite them.
func (c *ChatClient) Answer(ctx context.Context, question string, passages []string) (string, error) {
	var b strings.Builder
	b.WriteString("Context passages:\n")
	for i, p := range passages {
		fmt.Fprintf(&b, "[%d] %s\n\n", i+1, p)
	}
	fmt.Fprintf(&b, "Question: %s", question)

	return c.complete(ctx, answerSystemPrompt, b.String(), false)
}
