package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyErrorText(t *testing.T) {
	c := NewDefaultClassifier()

	result := c.Classify("TypeError: Cannot read property 'x' of undefined, please fix")

	assert.Equal(t, CategoryDebug, result.Primary)
	assert.GreaterOrEqual(t, result.Confidence, 0.85)
	assert.Equal(t, UncertaintyLow, result.Uncertainty)
	assert.Contains(t, result.MatchedSignals, "ctx:has_error_messages")
	assert.True(t, result.Requirements.NeedsFocus)
	assert.Equal(t, LevelHigh, result.Requirements.Load)
}

func TestClassifyEmptyInput(t *testing.T) {
	c := NewDefaultClassifier()

	for _, text := range []string{"", "   ", "\n\t"} {
		result := c.Classify(text)
		assert.Equal(t, CategoryUnknown, result.Primary)
		assert.Zero(t, result.Confidence)
		assert.Equal(t, UncertaintyVeryHigh, result.Uncertainty)
		assert.Equal(t, FallbackStrategyClarify, result.FallbackStrategy)
	}
}

func TestClassifyNoSignal(t *testing.T) {
	c := NewDefaultClassifier()

	result := c.Classify("hello there, how are you today")
	assert.Equal(t, CategoryUnknown, result.Primary)
	assert.Equal(t, FallbackStrategyClarify, result.FallbackStrategy)
}

func TestClassifyCategories(t *testing.T) {
	c := NewDefaultClassifier()

	tests := []struct {
		name string
		text string
		want Category
	}{
		{"code syntax", "```\nfunc main() {\n}\n```", CategoryCode},
		{"implement request", "implement a function for the api endpoint", CategoryCode},
		{"writing", "draft a blog post about our launch, proofread the tone", CategoryWrite},
		{"research", "research and compare the sources, pros and cons", CategoryResearch},
		{"planning", "help me plan the roadmap and prioritize next steps", CategoryPlan},
		{"summarize", "summarize this document, key points only, tldr", CategorySummarize},
		{"sensitive", "check my credit card and password statements", CategorySensitive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := c.Classify(tt.text)
			assert.Equal(t, tt.want, result.Primary, "text: %s", tt.text)
		})
	}
}

func TestClassifyStrongSecondaryRaisesUncertainty(t *testing.T) {
	c := NewDefaultClassifier()

	result := c.Classify("fix the bug in the function and refactor the module")

	require.Equal(t, CategoryCode, result.Primary)
	require.NotEmpty(t, result.Secondary)
	assert.Equal(t, CategoryDebug, result.Secondary[0].Category)
	// Confidence band alone would be low uncertainty; the close debug
	// candidate bumps it one level.
	assert.Equal(t, UncertaintyMedium, result.Uncertainty)
}

func TestClassifyWeakSignalVeryUncertain(t *testing.T) {
	c := NewDefaultClassifier()

	result := c.Classify("write")
	assert.Equal(t, CategoryWrite, result.Primary)
	assert.Equal(t, UncertaintyVeryHigh, result.Uncertainty)
}

func TestClassifyDeterministic(t *testing.T) {
	c := NewDefaultClassifier()
	text := "fix the failing unit test in the parser module"

	first := c.Classify(text)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, c.Classify(text))
	}
}

func TestClassifyPunctuationAttachedKeywords(t *testing.T) {
	c := NewDefaultClassifier()

	// "bug," and "(error)" must still match their keywords.
	result := c.Classify("found a bug, the (error) appears on startup")
	assert.Equal(t, CategoryDebug, result.Primary)
}

func TestClassifyCustomTableWithoutDebugCategory(t *testing.T) {
	// Contextual bonuses must not assume the injected table defines every
	// category. A table without debug still classifies without panicking and
	// picks only from its own category order.
	table := RuleTable{
		Order: []Category{CategoryWrite},
		Categories: map[Category]CategoryRules{
			CategoryWrite: {Keywords: map[string]float64{"draft": 2.0}},
		},
	}
	c := NewClassifier(table, DefaultClassifierConfig())

	result := c.Classify("TypeError: draft failed")
	assert.Equal(t, CategoryWrite, result.Primary)
}

func BenchmarkClassify(b *testing.B) {
	c := NewDefaultClassifier()
	texts := []string{
		"fix the TypeError in the login handler",
		"write a blog post about our release process",
		"plan the quarterly roadmap and milestones",
		"summarize the meeting notes into a tldr",
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		c.Classify(texts[i%len(texts)])
	}
}
