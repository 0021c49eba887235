package anonymizer

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

const (
	// contextWindow is how many tokens before a match are searched for
	// context words.
	contextWindow = 5
	// contextBoost is added to a pattern score when a context word is found.
	contextBoost = 0.35
	// minContextScore is the floor for a score that received a boost.
	minContextScore = 0.4
)

// Pattern is one named regular expression with its base confidence.
type Pattern struct {
	Name  string
	Regex string
	Score float64
}

// PatternRecognizer detects one entity type with a set of regex patterns.
// Context words found shortly before a match raise its score.
type PatternRecognizer struct {
	Entity   string
	Language string
	Context  []string

	patterns []compiledPattern
}

type compiledPattern struct {
	name  string
	re    *regexp.Regexp
	score float64
}

// NewPatternRecognizer compiles the given patterns. Any invalid pattern or
// score fails the whole recognizer.
func NewPatternRecognizer(entity, language string, patterns []Pattern, context []string) (*PatternRecognizer, error) {
	if entity == "" {
		return nil, errors.New("recognizer has no entity type")
	}
	if len(patterns) == 0 {
		return nil, fmt.Errorf("recognizer %s has no patterns", entity)
	}

	r := &PatternRecognizer{Entity: entity, Language: language}
	for _, p := range patterns {
		if p.Score <= 0 || p.Score > 1 {
			return nil, fmt.Errorf("pattern %s: score %.2f out of range (0, 1]", p.Name, p.Score)
		}
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("pattern %s: %w", p.Name, err)
		}
		r.patterns = append(r.patterns, compiledPattern{name: p.Name, re: re, score: p.Score})
	}
	for _, w := range context {
		r.Context = append(r.Context, strings.ToLower(w))
	}
	return r, nil
}

// Analyze returns every pattern match in text. extraContext holds call-level
// context words, applied in addition to the recognizer's own.
func (r *PatternRecognizer) Analyze(text string, extraContext []string) []Entity {
	var out []Entity
	for _, p := range r.patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			e := Entity{
				Type:  r.Entity,
				Start: loc[0],
				End:   loc[1],
				Score: p.score,
				Text:  text[loc[0]:loc[1]],
			}
			if r.hasContext(text[:loc[0]], extraContext) {
				e.Score = min(max(e.Score+contextBoost, minContextScore), 1.0)
			}
			out = append(out, e)
		}
	}
	return out
}

// hasContext reports whether any context word occurs in the last
// contextWindow tokens of prefix. A token matches when it contains the
// context word; a multi-word entry must match consecutive tokens.
func (r *PatternRecognizer) hasContext(prefix string, extra []string) bool {
	tokens := precedingTokens(prefix, contextWindow)
	if len(tokens) == 0 {
		return false
	}
	match := func(words []string) bool {
		for _, w := range words {
			if phraseIn(tokens, strings.Fields(strings.ToLower(w))) {
				return true
			}
		}
		return false
	}
	return match(r.Context) || match(extra)
}

func phraseIn(tokens, phrase []string) bool {
	if len(phrase) == 0 {
		return false
	}
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		ok := true
		for j, w := range phrase {
			if !strings.Contains(tokens[i+j], w) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// precedingTokens returns up to n lowercased word tokens from the end of s.
func precedingTokens(s string, n int) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) || r == '-' || r == '_')
	})
	if len(fields) > n {
		fields = fields[len(fields)-n:]
	}
	for i, f := range fields {
		fields[i] = strings.ToLower(f)
	}
	return fields
}
