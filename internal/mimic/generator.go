package mimic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"echotwin/pkg/llm"
)

// ErrEmptyGeneration signals that the model produced nothing usable.
// The cast is skipped for this tick and retried on the next one, since
// the run cursor only advances after a confirmed publish.
var ErrEmptyGeneration = errors.New("model returned empty generation")

const (
	maxReplyLength     = 140
	defaultMaxTokens   = 80
	defaultTemperature = 0.2
	generateTimeout    = 30 * time.Second
)

// GeneratedReply is the post-processed model output for one cast.
// Text is always non-empty and at most 140 characters.
type GeneratedReply struct {
	Text           string
	SourceCastHash string
}

// GeneratorConfig configures the reply generator.
type GeneratorConfig struct {
	Provider    llm.Provider
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Generator turns a StylePrompt into a publishable reply. Temperature
// stays low to favor consistency of voice over creativity, and the
// token ceiling bounds output length before truncation.
type Generator struct {
	provider    llm.Provider
	maxTokens   int
	temperature float64
	timeout     time.Duration
}

func NewGenerator(cfg GeneratorConfig) *Generator {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = generateTimeout
	}
	return &Generator{
		provider:    cfg.Provider,
		maxTokens:   maxTokens,
		temperature: temperature,
		timeout:     timeout,
	}
}

// Generate invokes the completion API and enforces the platform length
// constraint on the result.
func (g *Generator) Generate(ctx context.Context, prompt StylePrompt, sourceCastHash string) (GeneratedReply, error) {
	if g.provider == nil {
		return GeneratedReply{}, errors.New("LLM provider not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	raw, err := g.provider.Complete(ctx, llm.Request{
		Messages:    prompt.Messages(),
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	})
	if err != nil {
		return GeneratedReply{}, fmt.Errorf("generate reply: %w", err)
	}

	text := strings.TrimSpace(raw)
	if text == "" {
		return GeneratedReply{}, ErrEmptyGeneration
	}
	if len(text) > maxReplyLength {
		text = truncateAtWord(text, maxReplyLength)
	}

	return GeneratedReply{Text: text, SourceCastHash: sourceCastHash}, nil
}

// truncateAtWord hard-truncates s to maxLen bytes, backing up to the
// last space when that does not discard more than half the budget. The
// cut never lands mid-rune, so emoji-heavy replies stay valid UTF-8.
func truncateAtWord(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	truncated := s[:cut]
	lastSpace := strings.LastIndex(truncated, " ")
	if lastSpace > maxLen/2 {
		return truncated[:lastSpace]
	}
	return truncated
}
