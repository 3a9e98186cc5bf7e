package routing

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// Pre-compiled contextual signal patterns.
var (
	errorTextPattern = regexp.MustCompile(`(?i)(\b\w*(error|exception)\b\s*:|\btraceback\b|\bpanic:\s|\bsegmentation fault\b|\bcannot read propert(y|ies)\b|\bstack trace\b)`)
	codeFencePattern = regexp.MustCompile("```")
	codeSyntaxRegex  = regexp.MustCompile(`(\bfunc\s+\w+\s*\(|\bdef\s+\w+\s*\(|\bclass\s+\w+\s*[({:]|=>|:=|</\w+>|\breturn\s+\w+;)`)
)

// ClassifierConfig tunes scoring; injected at construction, never mutated.
type ClassifierConfig struct {
	PhraseWeightFactor   float64 // multiplier on phrase weights
	MultiMatchBoost      float64 // applied when >= 2 distinct signals match
	ErrorTextBonus       float64 // contextual bonus for debug
	CodeSyntaxBonus      float64 // contextual bonus for code
	SecondaryFloor       float64 // minimum raw score for a secondary candidate
	StrongSecondaryRatio float64 // secondary/primary score ratio considered "strong"
	ConfidenceScale      float64 // confidence = 1 - exp(-score/scale)
	MaxConfidence        float64
}

// DefaultClassifierConfig returns the built-in scoring configuration.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		PhraseWeightFactor:   1.3,
		MultiMatchBoost:      1.2,
		ErrorTextBonus:       4.0,
		CodeSyntaxBonus:      3.0,
		SecondaryFloor:       1.0,
		StrongSecondaryRatio: 0.65,
		ConfidenceScale:      3.0,
		MaxConfidence:        0.98,
	}
}

// Classifier maps raw task text to a category with uncertainty quantification.
// Classify is pure and deterministic given the injected tables.
type Classifier struct {
	rules RuleTable
	cfg   ClassifierConfig
}

// NewClassifier creates a classifier with explicit tables and tuning.
func NewClassifier(rules RuleTable, cfg ClassifierConfig) *Classifier {
	return &Classifier{rules: rules, cfg: cfg}
}

// NewDefaultClassifier creates a classifier with built-in tables.
func NewDefaultClassifier() *Classifier {
	return NewClassifier(DefaultRuleTable(), DefaultClassifierConfig())
}

// categoryScore tracks scoring state for one category during a single pass.
type categoryScore struct {
	score   float64
	signals []string
}

// Classify scores the text against every category and derives the primary
// pick, secondary candidates, and an uncertainty level.
func (c *Classifier) Classify(text string) Classification {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return unknownClassification()
	}

	lower := strings.ToLower(trimmed)
	tokens := tokenize(lower)

	scores := make(map[Category]*categoryScore, len(c.rules.Categories))
	for category, rules := range c.rules.Categories {
		cs := &categoryScore{}
		distinct := 0

		for keyword, weight := range rules.Keywords {
			if tokens[keyword] {
				cs.score += weight
				cs.signals = append(cs.signals, "kw:"+keyword)
				distinct++
			}
		}
		for phrase, weight := range rules.Phrases {
			if strings.Contains(lower, phrase) {
				cs.score += weight * c.cfg.PhraseWeightFactor
				cs.signals = append(cs.signals, "phrase:"+phrase)
				distinct++
			}
		}
		if distinct >= 2 {
			cs.score *= c.cfg.MultiMatchBoost
		}
		scores[category] = cs
	}

	// Contextual bonuses: signals that outrank plain keyword evidence.
	if errorTextPattern.MatchString(trimmed) {
		bump(scores, CategoryDebug, c.cfg.ErrorTextBonus, "ctx:has_error_messages")
	}
	if codeSyntaxRegex.MatchString(trimmed) {
		bump(scores, CategoryCode, c.cfg.CodeSyntaxBonus, "ctx:has_code_syntax")
	}

	primary := c.pickPrimary(scores)
	if primary == CategoryUnknown || scores[primary].score <= 0 {
		return unknownClassification()
	}

	// Contextual override: fenced code always yields "code" unless debug
	// signals are stronger.
	if codeFencePattern.MatchString(trimmed) && primary != CategoryCode {
		if scoreOf(scores, CategoryDebug) <= scoreOf(scores, CategoryCode)+c.cfg.CodeSyntaxBonus {
			bump(scores, CategoryCode, c.cfg.CodeSyntaxBonus, "ctx:code_fence_override")
			primary = c.pickPrimary(scores)
		}
	}

	primaryScore := scores[primary].score
	confidence := c.confidenceFor(primaryScore)
	secondary := c.secondaryCandidates(scores, primary, primaryScore)

	return Classification{
		Primary:        primary,
		Confidence:     confidence,
		MatchedSignals: scores[primary].signals,
		Secondary:      secondary,
		Uncertainty:    c.uncertaintyFor(confidence, scores, primary, primaryScore, secondary),
		Requirements:   c.rules.requirementsFor(primary),
	}
}

// pickPrimary selects the highest-scoring category, breaking ties by the
// fixed table order for determinism.
func (c *Classifier) pickPrimary(scores map[Category]*categoryScore) Category {
	best := CategoryUnknown
	bestScore := 0.0
	for _, category := range c.rules.Order {
		cs, ok := scores[category]
		if !ok {
			continue
		}
		if cs.score > bestScore {
			best = category
			bestScore = cs.score
		}
	}
	return best
}

// secondaryCandidates returns categories scoring between the floor and the
// primary score, ordered by score descending.
func (c *Classifier) secondaryCandidates(scores map[Category]*categoryScore, primary Category, primaryScore float64) []ScoredCategory {
	var out []ScoredCategory
	for _, category := range c.rules.Order {
		if category == primary {
			continue
		}
		cs, ok := scores[category]
		if !ok || cs.score < c.cfg.SecondaryFloor || cs.score > primaryScore {
			continue
		}
		out = append(out, ScoredCategory{
			Category:   category,
			Confidence: c.confidenceFor(cs.score),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// confidenceFor maps a raw score to [0,1] with saturation.
func (c *Classifier) confidenceFor(score float64) float64 {
	conf := 1 - math.Exp(-score/c.cfg.ConfidenceScale)
	if conf > c.cfg.MaxConfidence {
		conf = c.cfg.MaxConfidence
	}
	return clamp01(conf)
}

// uncertaintyFor derives the uncertainty level from the confidence band,
// bumped by strong secondary candidates and candidate count.
func (c *Classifier) uncertaintyFor(confidence float64, scores map[Category]*categoryScore, primary Category, primaryScore float64, secondary []ScoredCategory) Uncertainty {
	level := 0 // 0=low 1=medium 2=high 3=very_high
	switch {
	case confidence >= 0.8:
		level = 0
	case confidence >= 0.6:
		level = 1
	case confidence >= 0.4:
		level = 2
	default:
		level = 3
	}

	for _, sc := range secondary {
		if scores[sc.Category].score >= c.cfg.StrongSecondaryRatio*primaryScore {
			level++
			break
		}
	}
	if len(secondary) > 2 {
		level++
	}
	if level > 3 {
		level = 3
	}

	return [...]Uncertainty{UncertaintyLow, UncertaintyMedium, UncertaintyHigh, UncertaintyVeryHigh}[level]
}

// bump adds a contextual bonus to a category, creating the slot if the
// injected table does not define the category.
func bump(scores map[Category]*categoryScore, category Category, bonus float64, signal string) {
	cs, ok := scores[category]
	if !ok {
		cs = &categoryScore{}
		scores[category] = cs
	}
	cs.score += bonus
	cs.signals = append(cs.signals, signal)
}

func scoreOf(scores map[Category]*categoryScore, category Category) float64 {
	if cs, ok := scores[category]; ok {
		return cs.score
	}
	return 0
}

// unknownClassification is the sentinel returned for empty/invalid input.
func unknownClassification() Classification {
	return Classification{
		Primary:          CategoryUnknown,
		Confidence:       0,
		Uncertainty:      UncertaintyVeryHigh,
		Requirements:     CognitiveRequirements{Load: LevelMedium},
		FallbackStrategy: FallbackStrategyClarify,
	}
}

// tokenize splits lowered text into a word set, stripping punctuation so
// "TypeError:" matches the "typeerror" keyword.
func tokenize(lower string) map[string]bool {
	tokens := make(map[string]bool)
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			tokens[b.String()] = true
			b.Reset()
		}
	}
	for _, r := range lower {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}
