package screening

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"
)

// Generator is the text-generation collaborator: given system instructions
// and user content it returns free-form text. It is unreliable by contract;
// callers must treat any error as recoverable via the rule-based path.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

type AnthropicGenerator struct {
	messages AnthropicMessager
	model    anthropic.Model
}

type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

func NewAnthropicGeneratorFromEnv() (*AnthropicGenerator, error) {
	apiKey := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY not configured")
	}
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicGenerator{messages: &c.Messages, model: anthropic.ModelClaudeSonnet4_20250514}, nil
}

func (g *AnthropicGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	resp, err := g.messages.New(ctx, anthropic.MessageNewParams{
		Model:       g.model,
		MaxTokens:   4096,
		System:      []anthropic.TextBlockParam{{Text: system}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(user))},
		Temperature: anthropic.Float(0.1),
	})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String(), nil
}

// BreakerGenerator wraps a Generator with a circuit breaker so a degraded
// backend fails fast instead of stalling every stage; an open breaker
// surfaces as an ordinary error and engages the rule-based fallback.
type BreakerGenerator struct {
	inner   Generator
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerGenerator(inner Generator) *BreakerGenerator {
	return &BreakerGenerator{
		inner: inner,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "generative-backend",
			Interval: 60 * time.Second,
			Timeout:  30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && ratio >= 0.6
			},
		}),
	}
}

func (g *BreakerGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	out, err := g.breaker.Execute(func() (any, error) {
		return g.inner.Generate(ctx, system, user)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// StageExecutor runs one generative stage: prompt the backend, strip any
// markdown code fences, parse the JSON body into out, and validate. A second
// attempt with corrective feedback is allowed for malformed content;
// transport failures and timeouts are returned as-is for the caller's
// fallback handling.
type StageExecutor struct {
	gen     Generator
	timeout time.Duration
}

func NewStageExecutor(gen Generator, timeout time.Duration) *StageExecutor {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &StageExecutor{gen: gen, timeout: timeout}
}

func (e *StageExecutor) Run(ctx context.Context, stageName, system, prompt string, out any, validate func() error) error {
	if e.gen == nil {
		return fmt.Errorf("%s: no generative backend configured", stageName)
	}

	feedback := ""
	for attempt := 1; attempt <= 2; attempt++ {
		fullPrompt := prompt + "\n\nRespond with only valid JSON matching the schema."
		if feedback != "" {
			fullPrompt += "\n\n" + feedback
		}

		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		raw, err := e.gen.Generate(callCtx, system, fullPrompt)
		cancel()
		if err != nil {
			return fmt.Errorf("%s backend failure: %w", stageName, err)
		}

		clean := stripCodeFences(raw)
		if clean == "" {
			feedback = "Your previous response was empty. Respond with valid JSON."
			continue
		}
		if err := json.Unmarshal([]byte(clean), out); err != nil {
			feedback = "Your previous response was not valid JSON. Respond with only valid JSON."
			continue
		}
		if err := validate(); err != nil {
			feedback = fmt.Sprintf("Your response failed validation: %s. Fix these issues.", err)
			continue
		}
		return nil
	}
	return fmt.Errorf("%s: backend returned unusable output", stageName)
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		parts := strings.SplitN(s, "\n", 2)
		if len(parts) == 2 {
			s = parts[1]
		}
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	return s
}
