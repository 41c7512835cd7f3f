package ai

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"
)

// StubProvider answers with a fixed template so the whole pipeline can run
// without a live model. Output depends only on the prompt.
type StubProvider struct{}

func NewStubProvider() *StubProvider { return &StubProvider{} }

const stubTemplate = `This is a stub AI response for your prompt.

**Prompt received:** %s...

In a production environment, this would call a real AI provider like OpenAI or Anthropic.

**Key points:**
1. The system is working correctly
2. Replace the stub with a real provider
3. Configure AI_PROVIDER and AI_API_KEY environment variables

**Example response structure:**
- Clear explanations
- Step-by-step breakdowns
- Relevant examples
`

func StubResponse(prompt string) string {
	return fmt.Sprintf(stubTemplate, truncateRunes(prompt, 100))
}

func (p *StubProvider) Generate(ctx context.Context, prompt string, stream bool) (TextResult, error) {
	text := StubResponse(prompt)
	if !stream {
		return TextResult{Text: text}, nil
	}
	fragments := WordFragments(text)
	return TextResult{Stream: StartStream(ctx, func(ctx context.Context, chunks chan<- string) error {
		for _, f := range fragments {
			if !emit(ctx, chunks, f) {
				return ctx.Err()
			}
		}
		return nil
	})}, nil
}

var wordRe = regexp.MustCompile(`\S+\s*`)

// WordFragments splits text at word granularity, keeping each word's trailing
// whitespace so the fragments concatenate back to text exactly.
func WordFragments(text string) []string {
	idx := wordRe.FindAllStringIndex(text, -1)
	if len(idx) == 0 {
		if text == "" {
			return nil
		}
		return []string{text}
	}
	out := make([]string, 0, len(idx))
	for i, m := range idx {
		start := m[0]
		if i == 0 {
			start = 0
		}
		out = append(out, text[start:m[1]])
	}
	return out
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
