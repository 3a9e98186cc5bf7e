package routing

// CategoryRules holds the weighted keyword and phrase tables for one category.
type CategoryRules struct {
	Keywords map[string]float64
	Phrases  map[string]float64
}

// RuleTable is the immutable classifier tuning injected at construction.
type RuleTable struct {
	Categories   map[Category]CategoryRules
	Requirements map[Category]CognitiveRequirements
	// Order fixes tie-breaking between equal scores.
	Order []Category
}

// DefaultRuleTable returns the built-in classification tables.
// Weights are tuning data, not invariants; callers may supply their own table.
func DefaultRuleTable() RuleTable {
	return RuleTable{
		Order: []Category{
			CategoryDebug, CategoryCode, CategorySensitive, CategoryResearch,
			CategoryWrite, CategoryPlan, CategorySummarize,
		},
		Categories: map[Category]CategoryRules{
			CategoryDebug: {
				Keywords: map[string]float64{
					"fix": 1.5, "bug": 2.0, "error": 2.0, "crash": 2.0,
					"broken": 1.5, "failing": 1.5, "fails": 1.5, "exception": 2.0,
					"traceback": 2.0, "typeerror": 2.5, "segfault": 2.5,
					"undefined": 1.0, "regression": 1.5, "debug": 2.5, "panic": 2.0,
				},
				Phrases: map[string]float64{
					"doesn't work": 2.0, "not working": 2.0,
					"cannot read property": 2.5, "stack trace": 2.0,
					"root cause": 1.5, "null pointer": 2.5,
				},
			},
			CategoryCode: {
				Keywords: map[string]float64{
					"implement": 2.0, "refactor": 2.0, "function": 1.5,
					"class": 1.0, "api": 1.0, "endpoint": 1.5, "compile": 1.5,
					"struct": 1.5, "goroutine": 2.0, "module": 1.0,
					"library": 1.0, "regex": 1.5, "script": 1.5,
				},
				Phrases: map[string]float64{
					"write a function": 2.5, "pull request": 1.5,
					"unit test": 1.5, "code review": 2.0, "write code": 2.5,
				},
			},
			CategoryWrite: {
				Keywords: map[string]float64{
					"draft": 2.0, "essay": 2.0, "blog": 2.0, "email": 1.5,
					"letter": 1.5, "rewrite": 1.5, "tone": 1.0, "paragraph": 1.5,
					"proofread": 2.5, "write": 1.0, "wording": 2.0,
				},
				Phrases: map[string]float64{
					"blog post": 2.5, "cover letter": 2.5, "sound more": 1.5,
					"write up": 2.0,
				},
			},
			CategoryResearch: {
				Keywords: map[string]float64{
					"research": 2.5, "compare": 1.5, "investigate": 2.0,
					"sources": 1.5, "literature": 2.0, "evidence": 1.5,
					"survey": 1.5, "analyze": 1.5, "benchmark": 1.5,
				},
				Phrases: map[string]float64{
					"find out": 1.5, "state of the art": 2.0,
					"pros and cons": 2.0, "dig into": 1.5,
				},
			},
			CategoryPlan: {
				Keywords: map[string]float64{
					"plan": 2.0, "roadmap": 2.5, "schedule": 1.5,
					"milestones": 2.0, "prioritize": 2.0, "organize": 1.5,
					"strategy": 1.5, "deadline": 1.5,
				},
				Phrases: map[string]float64{
					"break down": 1.5, "next steps": 2.0, "action items": 2.0,
					"project plan": 2.5,
				},
			},
			CategorySummarize: {
				Keywords: map[string]float64{
					"summarize": 2.5, "summary": 2.0, "tldr": 2.5,
					"condense": 2.0, "shorten": 1.5, "recap": 2.0,
				},
				Phrases: map[string]float64{
					"key points": 2.0, "main takeaways": 2.0, "sum up": 2.0,
				},
			},
			CategorySensitive: {
				Keywords: map[string]float64{
					"password": 2.5, "medical": 2.0, "salary": 2.0, "tax": 1.5,
					"diagnosis": 2.0, "therapy": 2.0, "confidential": 2.5,
					"private": 1.5, "ssn": 2.5, "passport": 2.0, "payroll": 2.0,
				},
				Phrases: map[string]float64{
					"bank account": 2.5, "health record": 2.5,
					"do not share": 2.0, "credit card": 2.5,
				},
			},
		},
		Requirements: map[Category]CognitiveRequirements{
			CategoryDebug:     {Load: LevelHigh, NeedsFocus: true, Urgent: true},
			CategoryCode:      {Load: LevelHigh, NeedsFocus: true, Patience: true},
			CategoryWrite:     {Load: LevelMedium, Creative: true},
			CategoryResearch:  {Load: LevelHigh, NeedsFocus: true, Patience: true},
			CategoryPlan:      {Load: LevelMedium, Creative: true},
			CategorySummarize: {Load: LevelLow, Patience: true},
			CategorySensitive: {Load: LevelMedium, NeedsFocus: true},
		},
	}
}

// requirementsFor returns the requirements entry with a medium-load default.
func (t RuleTable) requirementsFor(category Category) CognitiveRequirements {
	if req, ok := t.Requirements[category]; ok {
		return req
	}
	return CognitiveRequirements{Load: LevelMedium}
}
