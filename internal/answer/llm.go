package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/codeqa/internal/vectorstore"
)

var tracer = otel.Tracer("codeqa.answer")

// ErrNoAPIKey is returned when the LLM backend has no credential.
var ErrNoAPIKey = errors.New("no API key configured")

// LLMConfig configures the chat-model backend.
type LLMConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int

	// RateLimit is requests per second; Burst bounds bursts. A zero
	// RateLimit disables limiting.
	RateLimit float64
	Burst     int
}

// ApplyDefaults fills unset fields.
func (c *LLMConfig) ApplyDefaults() {
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.1
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1000
	}
	if c.RateLimit > 0 && c.Burst <= 0 {
		c.Burst = 1
	}
}

// LLMAnswerer answers with an OpenAI-compatible chat model.
type LLMAnswerer struct {
	model   llms.Model
	cfg     LLMConfig
	limiter *rate.Limiter
}

// NewLLMAnswerer creates the langchaingo OpenAI client for cfg.
func NewLLMAnswerer(cfg LLMConfig) (*LLMAnswerer, error) {
	cfg.ApplyDefaults()
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating chat client: %w", err)
	}
	return NewLLMAnswererWithModel(llm, cfg), nil
}

// NewLLMAnswererWithModel wraps an existing langchaingo model.
func NewLLMAnswererWithModel(model llms.Model, cfg LLMConfig) *LLMAnswerer {
	cfg.ApplyDefaults()
	a := &LLMAnswerer{model: model, cfg: cfg}
	if cfg.RateLimit > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)
	}
	return a
}

// Mode implements Answerer.
func (*LLMAnswerer) Mode() Mode { return ModeLLM }

// Model returns the chat model name.
func (a *LLMAnswerer) Model() string { return a.cfg.Model }

// Generate implements Answerer.
func (a *LLMAnswerer) Generate(ctx context.Context, question string, chunks []vectorstore.SearchResult) (Result, error) {
	if len(chunks) == 0 {
		return Result{Answer: NoResultsAnswer, Citations: []Citation{}, Mode: ModeLLM}, nil
	}

	ctx, span := tracer.Start(ctx, "answer.llm.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("answer.model", a.cfg.Model),
		attribute.Int("answer.chunks", len(chunks)),
	)

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			span.SetAttributes(attribute.Bool("answer.rate_limited", true))
			return Result{}, err
		}
	}

	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(schema.ChatMessageTypeHuman, buildPrompt(question, chunks)),
	}
	start := time.Now()
	resp, err := a.model.GenerateContent(ctx, messages,
		llms.WithTemperature(a.cfg.Temperature),
		llms.WithMaxTokens(a.cfg.MaxTokens),
	)
	span.SetAttributes(attribute.Int64("answer.duration_ms", time.Since(start).Milliseconds()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("%w: %w", ErrAnswerFailed, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("%w: empty response", ErrAnswerFailed)
	}

	text := strings.TrimSpace(resp.Choices[0].Content)
	if text == "" {
		return Result{}, fmt.Errorf("%w: empty completion", ErrAnswerFailed)
	}
	return Result{
		Answer:    CleanAnswer(text),
		Citations: ExtractCitations(text, chunks),
		Mode:      ModeLLM,
	}, nil
}
