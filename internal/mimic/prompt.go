package mimic

import (
	"errors"
	"fmt"
	"strings"

	"echotwin/internal/farcaster"
	"echotwin/pkg/llm"
)

// ErrInvalidInput signals malformed local data, such as an empty target
// cast. The run for that item is skipped and logged.
var ErrInvalidInput = errors.New("invalid prompt input")

const maxStyleExamples = 5

// Profile describes the user whose voice is being imitated. Read-only
// during a run.
type Profile struct {
	FID             int64
	DisplayHandle   string
	Tone            string
	StyleSampleSize int
}

// StylePrompt is the assembled prompt for one reply generation. It is
// constructed fresh per cast and never persisted.
type StylePrompt struct {
	SystemPersona string
	Guidelines    string
	StyleExamples []string
	TargetText    string
}

// BuildPrompt assembles a style-mimicking prompt from the user's
// historical casts and the cast being replied to. Pure and
// deterministic: the first StyleSampleSize (at most 5) examples are
// taken in order, never sampled.
func BuildPrompt(profile Profile, styleExamples []string, target farcaster.Cast) (StylePrompt, error) {
	if strings.TrimSpace(target.Text) == "" {
		return StylePrompt{}, fmt.Errorf("%w: target cast text is empty", ErrInvalidInput)
	}

	limit := profile.StyleSampleSize
	if limit <= 0 || limit > maxStyleExamples {
		limit = maxStyleExamples
	}
	examples := make([]string, 0, limit)
	for _, example := range styleExamples {
		if strings.TrimSpace(example) == "" {
			continue
		}
		examples = append(examples, example)
		if len(examples) == limit {
			break
		}
	}

	guidelines := "Guidelines: keep the voice, brevity, emojis, inside jokes. Respond in <=140 characters."
	if profile.Tone != "" && profile.Tone != "default" {
		guidelines += fmt.Sprintf(" Lean %s.", profile.Tone)
	}

	return StylePrompt{
		SystemPersona: fmt.Sprintf("You are the AI twin of %s.", profile.DisplayHandle),
		Guidelines:    guidelines,
		StyleExamples: examples,
		TargetText:    target.Text,
	}, nil
}

// Messages renders the prompt as a chat message sequence.
func (p StylePrompt) Messages() []llm.Message {
	messages := []llm.Message{
		{Role: "system", Content: p.SystemPersona},
		{Role: "system", Content: p.Guidelines},
	}
	if len(p.StyleExamples) > 0 {
		messages = append(messages, llm.Message{
			Role:    "system",
			Content: "Examples:\n" + strings.Join(p.StyleExamples, "\n"),
		})
	}
	messages = append(messages, llm.Message{
		Role:    "user",
		Content: "Reply to: " + p.TargetText,
	})
	return messages
}
