package ai

import "context"

// Provider is the one capability every text-generation backend offers.
// With stream=false the result carries Text; with stream=true it carries a
// Stream the caller must drain or Close.
type Provider interface {
	Generate(ctx context.Context, prompt string, stream bool) (TextResult, error)
}

type TextResult struct {
	Text   string
	Stream *Stream
}

type Message struct {
	Role    string
	Content string
}

func userPrompt(prompt string) []Message {
	return []Message{{Role: "user", Content: prompt}}
}
