// Package synthesis produces a natural-language answer from ranked packs.
package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"ctxpack/internal/knowledge"
)

// Synthesizer turns packs into an answer, or explains why it could not.
type Synthesizer interface {
	Synthesize(ctx context.Context, q knowledge.Query, packs []knowledge.ContextPack) (knowledge.SynthesisResult, error)
}

// Unavailable builds an explicit no-answer result.
func Unavailable(reason string) knowledge.SynthesisResult {
	return knowledge.SynthesisResult{Available: false, Reason: reason}
}

// OpenAISynthesizer asks a chat model for a structured JSON answer.
type OpenAISynthesizer struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAISynthesizer creates a synthesizer. An empty baseURL uses the OpenAI API.
func NewOpenAISynthesizer(apiKey, baseURL, model string, maxTokens int) *OpenAISynthesizer {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAISynthesizer{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		maxTokens: maxTokens,
	}
}

const systemPrompt = `You answer questions about a codebase using only the supplied context packs.
Respond with a JSON object: {"summary": string, "citations": [packId], "confidence": number 0-1,
"insights": [string], "uncertainties": [string]}. Cite only pack ids you were given.`

// Synthesize implements Synthesizer.
func (s *OpenAISynthesizer) Synthesize(ctx context.Context, q knowledge.Query, packs []knowledge.ContextPack) (knowledge.SynthesisResult, error) {
	if len(packs) == 0 {
		return Unavailable("no packs to synthesize from"), nil
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(q, packs)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return knowledge.SynthesisResult{}, fmt.Errorf("openai chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Unavailable("model returned no choices"), nil
	}

	return ParseAnswer(resp.Choices[0].Message.Content, packs)
}

// BuildPrompt renders the query and packs as the user message.
func BuildPrompt(q knowledge.Query, packs []knowledge.ContextPack) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", q.Intent)
	if q.TaskType != "" {
		fmt.Fprintf(&b, "Task: %s\n", q.TaskType)
	}
	b.WriteString("\nContext packs:\n")
	for _, p := range packs {
		fmt.Fprintf(&b, "\n[%s] %s (%s, confidence %.2f)\n", p.PackID, p.TargetID, p.PackType, p.Confidence)
		if p.Summary != "" {
			fmt.Fprintf(&b, "%s\n", p.Summary)
		}
		for _, f := range p.KeyFacts {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	return b.String()
}

// ParseAnswer decodes a model reply. Citations not naming a supplied pack
// are dropped and confidence is clamped to [0, 1].
func ParseAnswer(content string, packs []knowledge.ContextPack) (knowledge.SynthesisResult, error) {
	var a knowledge.Answer
	if err := json.Unmarshal([]byte(content), &a); err != nil {
		return knowledge.SynthesisResult{}, fmt.Errorf("decode synthesis answer: %w", err)
	}
	if strings.TrimSpace(a.Summary) == "" {
		return Unavailable("model returned an empty summary"), nil
	}

	known := make(map[string]bool, len(packs))
	for _, p := range packs {
		known[p.PackID] = true
	}
	citations := a.Citations[:0]
	for _, c := range a.Citations {
		if known[c] {
			citations = append(citations, c)
		}
	}
	a.Citations = citations
	a.Confidence = min(1, max(0, a.Confidence))

	return knowledge.SynthesisResult{Available: true, Answer: &a}, nil
}
