package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

var linearRegression = Node{Title: "Linear Regression", UserNotes: "basics"}

func TestBuild_Explain(t *testing.T) {
	got := Build(KindExplain, linearRegression, "")
	want := "Please provide a detailed explanation of the following topic:\n\n" +
		"Title: Linear Regression\nNotes: basics\n" +
		"\n\nProvide a clear, comprehensive explanation suitable for learning and studying."
	assert.Equal(t, want, got)
}

func TestBuild_QuizAsksForFiveMultipleChoice(t *testing.T) {
	got := Build(KindQuiz, linearRegression, "focus on OLS")
	assert.Contains(t, got, "generate 5 quiz questions")
	assert.Contains(t, got, "(A, B, C, D)")
	assert.Contains(t, got, "indicate the correct answer")
	assert.Contains(t, got, "Additional Context: focus on OLS\n")
}

func TestBuild_Summarize(t *testing.T) {
	got := Build(KindSummarize, Node{Title: "Entropy"}, "")
	assert.True(t, strings.HasPrefix(got, "Please provide a concise summary"))
	assert.NotContains(t, got, "Notes:")
	assert.NotContains(t, got, "Additional Context:")
}

func TestBuild_UnknownKindFallsBackToContext(t *testing.T) {
	got := Build(Kind("translate"), linearRegression, "x")
	assert.Equal(t, "Title: Linear Regression\nNotes: basics\nAdditional Context: x\n", got)
	assert.Equal(t, Context(linearRegression, "x"), got)
}

func TestBuild_Deterministic(t *testing.T) {
	for _, k := range append(Kinds(), Kind("other")) {
		a := Build(k, linearRegression, "extra")
		b := Build(k, Node{Title: "Linear Regression", UserNotes: "basics"}, "extra")
		assert.Equal(t, a, b, string(k))
	}
}

func TestKindValid(t *testing.T) {
	for _, k := range Kinds() {
		assert.True(t, k.Valid())
	}
	assert.False(t, Kind("").Valid())
	assert.False(t, Kind("Explain").Valid())
}
