// Package cleaning turns raw support-ticket messages into short, markup-free
// descriptions.
//
// Three stages run in order:
//  1. Normalize strips Jira markup, URLs and line breaks from the raw message.
//  2. Extract picks the part of the message that describes the request.
//  3. Sanitize rejects service spam and removes residual formatting noise.
//
// Each stage has a plain form returning a string with its documented
// fallback already applied, and a Result form that reports failures
// explicitly so callers can choose their own fallback.
package cleaning

import (
	"fmt"
	"regexp"
)

// ws matches one whitespace rune, including the Unicode separators that
// Go's \s class leaves out.
const ws = `[\s\v\p{Z}\x{85}]`

// Rule is one ordered substitution in a cleaning cascade.
type Rule struct {
	Name        string
	Pattern     *regexp.Regexp
	Replacement string
}

// Apply runs the substitution. The replacement is literal; no $-expansion.
func (r Rule) Apply(s string) string {
	return r.Pattern.ReplaceAllLiteralString(s, r.Replacement)
}

func rule(name, expr, replacement string) Rule {
	return Rule{Name: name, Pattern: regexp.MustCompile(expr), Replacement: replacement}
}

func applyAll(rules []Rule, s string) string {
	for _, r := range rules {
		s = r.Apply(s)
	}
	return s
}

// Result is the outcome of one cleaning stage.
type Result struct {
	Text string
	Err  error // non-nil when the stage failed; Text is then meaningless
}

// StageError tags a stage failure with the stage name.
type StageError struct {
	Stage  string
	Reason string
	Err    error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Reason)
}

func (e *StageError) Unwrap() error { return e.Err }

// guard converts a panic inside a stage into a tagged failure.
func guard(stage string, res *Result) {
	if r := recover(); r != nil {
		*res = Result{Err: &StageError{Stage: stage, Reason: fmt.Sprint(r)}}
	}
}
