package cleaning

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// RejectPatterns identify service notifications and technical dumps that
// never carry a usable description.
var RejectPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)take\s+\d+\s+min\s+today\s+to\s+see\s+your\s+monitors`),
	regexp.MustCompile(`(?i)^<\[ `),
	regexp.MustCompile(`(?i)postman\s+inc`),
	regexp.MustCompile(`(?i)avoid\s+suspension\s+of\s+your\s+postman\s+account`),
}

// SanitizeRules run in order; later rules assume earlier noise is gone.
var SanitizeRules = []Rule{
	rule("color_markup", `(?i)\{color[^}]*\}`, ""),
	rule("gccode_code", `(?i)#gccode#\d+:\d+:\d+:[A-Za-z]+:\d+#`, ""),
	rule("gccode_marker", `(?i)<\[ #gccode#[^\]]+#!`, ""),
	rule("adf_block", `(?s)\{adf\}.*?\{adf\}`, ""),
	rule("leading_number", `(?i)^\d+`+ws+`*`, ""),
	rule("leading_index", `(?i)^\[\d+-`, ""),
	rule("heading", `(?i)h\d+\.`+ws+`*[\p{L}\p{M}\p{N}_]+`, ""),
	rule("attachment_count", `(?i)\*`+ws+`*\d+`+ws+`*anexos?`+ws+`*\*`, ""),
	rule("file_reference", `(?i)\[[^\]]+\.(?:pdf|jpe?g|png|docx?|xlsx?)\]`, ""),
	rule("open_bracket_run", `(?i)(?:`+ws+`*\[){2,}`, " "),
	rule("close_bracket_run", `(?i)(?:`+ws+`*\]){2,}`, " "),
	rule("stray_chars", `[\]\},]+`, ""),
	rule("leading_symbols", `^[^\p{L}\p{M}\p{N}_]+`, ""),
	rule("whitespace", ws+`+`, " "),
}

const minDescriptionRunes = 3

// Sanitize rejects spam descriptions and strips formatting artifacts.
// It returns "" for rejected, too short or symbol-only results, and also on
// failure so unsanitized text never leaks downstream.
func Sanitize(description string) string {
	res := SanitizeResult(description)
	if res.Err != nil {
		return ""
	}
	return res.Text
}

// SanitizeResult is Sanitize without the fallback.
func SanitizeResult(description string) (res Result) {
	defer guard("sanitize", &res)

	text := strings.TrimSpace(description)
	if text == "" {
		return Result{}
	}
	if Rejected(text) {
		return Result{}
	}

	text = strings.TrimSpace(applyAll(SanitizeRules, text))
	if utf8.RuneCountInString(text) < minDescriptionRunes || !hasAlnum(text) {
		return Result{}
	}
	return Result{Text: text}
}

// Rejected reports whether text matches a known spam signature.
func Rejected(text string) bool {
	for _, re := range RejectPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func hasAlnum(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			return true
		}
	}
	return false
}
