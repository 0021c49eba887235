package cleaning

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const maxDescriptionRunes = 200

var (
	taskMarkerRe = regexp.MustCompile(`(?i)Tarefa:\s*([^\n]*)`)
	openerRe     = regexp.MustCompile(`(?i)^(?:Bom dia|Boa tarde|Gentileza|Identificado|Olá|Ola|Prezados|Solicito|Prezado|Gostaria)`)
)

// Extract derives the canonical description from a normalized message.
// First match wins: text after a "Tarefa:" marker, the whole message when it
// opens with a greeting or request, otherwise the first 200 characters.
func Extract(normalized string) string {
	res := ExtractResult(normalized)
	if res.Err != nil {
		return Truncate(normalized)
	}
	return res.Text
}

// ExtractResult is Extract without the fallback.
func ExtractResult(normalized string) (res Result) {
	defer guard("extract", &res)
	if normalized == "" {
		return Result{}
	}

	text := strings.Join(strings.Fields(normalized), " ")

	if m := taskMarkerRe.FindStringSubmatch(text); m != nil {
		return Result{Text: strings.TrimSpace(m[1])}
	}
	if openerRe.MatchString(text) {
		return Result{Text: strings.TrimSpace(text)}
	}
	return Result{Text: Truncate(text)}
}

// Truncate keeps the first 200 characters of s, trimmed, and marks a cut
// with an ellipsis.
func Truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxDescriptionRunes {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string([]rune(s)[:maxDescriptionRunes])) + "..."
}
