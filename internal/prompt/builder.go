// Package prompt turns a node snapshot into provider prompt text. Everything
// here is pure: the same inputs always produce byte-identical output.
package prompt

import "strings"

type Kind string

const (
	KindExplain   Kind = "explain"
	KindQuiz      Kind = "quiz"
	KindSummarize Kind = "summarize"
)

func (k Kind) Valid() bool {
	switch k {
	case KindExplain, KindQuiz, KindSummarize:
		return true
	}
	return false
}

// Kinds lists the operations exposed over HTTP.
func Kinds() []Kind {
	return []Kind{KindExplain, KindQuiz, KindSummarize}
}

// Node is the part of a store node the templates read.
type Node struct {
	Title     string
	UserNotes string
}

// Context assembles the shared context block every template embeds.
func Context(n Node, extra string) string {
	var b strings.Builder
	b.WriteString("Title: ")
	b.WriteString(n.Title)
	b.WriteString("\n")
	if n.UserNotes != "" {
		b.WriteString("Notes: ")
		b.WriteString(n.UserNotes)
		b.WriteString("\n")
	}
	if extra != "" {
		b.WriteString("Additional Context: ")
		b.WriteString(extra)
		b.WriteString("\n")
	}
	return b.String()
}

// Build returns the prompt for kind. An unknown kind yields the raw context
// block rather than an error.
func Build(kind Kind, n Node, extra string) string {
	ctx := Context(n, extra)
	switch kind {
	case KindExplain:
		return "Please provide a detailed explanation of the following topic:\n\n" +
			ctx +
			"\n\nProvide a clear, comprehensive explanation suitable for learning and studying."
	case KindQuiz:
		return "Based on the following topic, generate 5 quiz questions to test understanding:\n\n" +
			ctx +
			"\n\nFormat each question clearly with multiple choice options (A, B, C, D) and indicate the correct answer."
	case KindSummarize:
		return "Please provide a concise summary of the following:\n\n" +
			ctx +
			"\n\nFocus on the key points and main ideas."
	default:
		return ctx
	}
}
