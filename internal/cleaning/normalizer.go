package cleaning

import "strings"

// NormalizeRules is the ordered cascade applied to raw messages. Every match
// is replaced by a single space; later rules see the output of earlier ones.
var NormalizeRules = []Rule{
	rule("color_markup", `\{color:[^}]+\}`, " "),
	rule("url", `https?://\S+`, " "),
	rule("link_reference", `\|!https?://[^|]+!\|`, " "),
	rule("empty_table_cell", `\|\s*\|`, " "),
	// Lazy so two blocks keep the text between them; (?s) lets a block span
	// the line breaks Jira leaves inside its JSON payload.
	rule("adf_block", `(?s)\{adf\}.*?\{adf\}`, " "),
	rule("gccode_marker", `<\[ #gccode#[^\]]+#!`, " "),
	rule("line_breaks", `[\r\n]+`, " "),
	rule("whitespace_run", ws+`{2,}`, " "),
}

// Normalize strips markup and noise from a raw ticket message.
// Empty input yields "". On failure the original input is returned unchanged.
func Normalize(raw string) string {
	res := NormalizeResult(raw)
	if res.Err != nil {
		return raw
	}
	return res.Text
}

// NormalizeResult is Normalize without the fallback.
func NormalizeResult(raw string) (res Result) {
	defer guard("normalize", &res)
	if raw == "" {
		return Result{}
	}

	// Flattening decodes entities, so escaped markup can surface as a new
	// document. Repeat until the output no longer starts with a tag; each
	// flatten shortens the text and the cascade never lengthens it.
	text := raw
	for {
		if looksLikeHTML(text) {
			flat, err := flattenHTML(text)
			if err != nil {
				return Result{Err: &StageError{Stage: "normalize", Reason: "html flatten", Err: err}}
			}
			if len(flat) < len(text) {
				text = flat
				continue
			}
		}
		next := strings.TrimSpace(applyAll(NormalizeRules, text))
		if next == text || !looksLikeHTML(next) {
			return Result{Text: next}
		}
		text = next
	}
}
