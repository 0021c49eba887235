package anonymizer

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"
)

// EntityModel is the statistical base recognizer of the engine: it tags
// free-text entities such as persons, locations and organizations.
// Implementations must be safe for concurrent use.
type EntityModel interface {
	Name() string
	Entities(ctx context.Context, text string) ([]Entity, error)
}

// heuristicScore matches the confidence reported for NER entities.
const heuristicScore = 0.85

// connectors may appear inside a person name between capitalized tokens.
var connectors = map[string]bool{
	"da": true, "de": true, "do": true, "das": true, "dos": true, "e": true, "di": true, "du": true,
}

// nonNameWords are capitalized words that commonly open or close a sentence
// in support tickets and are never part of a name. They are trimmed from both
// ends of a candidate sequence.
var nonNameWords = map[string]bool{
	"bom": true, "boa": true, "dia": true, "tarde": true, "noite": true,
	"olá": true, "ola": true, "oi": true,
	"prezado": true, "prezada": true, "prezados": true, "prezadas": true,
	"caro": true, "cara": true, "caros": true, "senhor": true, "senhora": true,
	"sr": true, "sra": true, "dr": true, "dra": true,
	"solicito": true, "solicitamos": true, "gostaria": true, "gentileza": true,
	"identificado": true, "peço": true, "favor": true, "por": true,
	"obrigado": true, "obrigada": true, "att": true, "atenciosamente": true,
	"cordialmente": true, "tarefa": true, "contrato": true, "termo": true,
	"formulário": true, "sistema": true, "pedido": true, "exclusão": true,
	"equipe": true, "setor": true, "cliente": true, "usuário": true, "colaborador": true,
	"segunda": true, "terça": true, "quarta": true, "quinta": true, "sexta": true,
	"sábado": true, "domingo": true,
	"janeiro": true, "fevereiro": true, "março": true, "abril": true, "maio": true,
	"junho": true, "julho": true, "agosto": true, "setembro": true, "outubro": true,
	"novembro": true, "dezembro": true,
}

// HeuristicModel is an offline person tagger. It reports sequences of two or
// more capitalized words (optionally joined by name connectors such as "da"
// or "dos") as PERSON entities.
type HeuristicModel struct{}

// NewHeuristicModel returns the offline person tagger.
func NewHeuristicModel() *HeuristicModel { return &HeuristicModel{} }

// Name implements EntityModel.
func (*HeuristicModel) Name() string { return "heuristic" }

type token struct {
	text       string
	start, end int
}

// Entities implements EntityModel.
func (*HeuristicModel) Entities(ctx context.Context, text string) ([]Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	toks := wordTokens(text)
	var out []Entity
	for i := 0; i < len(toks); {
		if !capitalized(toks[i].text) {
			i++
			continue
		}
		j := i
		for j+1 < len(toks) {
			next := toks[j+1]
			if !spaceBetween(text, toks[j], next) {
				break
			}
			if capitalized(next.text) {
				j++
				continue
			}
			if connectors[next.text] && j+2 < len(toks) &&
				capitalized(toks[j+2].text) && spaceBetween(text, next, toks[j+2]) {
				j += 2
				continue
			}
			break
		}
		if e, ok := personSpan(text, toks[i:j+1]); ok {
			out = append(out, e)
		}
		i = j + 1
	}
	return out, nil
}

// personSpan trims non-name words from both ends of a run and reports the
// remainder when it still has at least two capitalized tokens.
func personSpan(text string, run []token) (Entity, bool) {
	for len(run) > 0 && (nonNameWords[strings.ToLower(run[0].text)] || connectors[run[0].text]) {
		run = run[1:]
	}
	for len(run) > 0 && (nonNameWords[strings.ToLower(run[len(run)-1].text)] || connectors[run[len(run)-1].text]) {
		run = run[:len(run)-1]
	}
	names := 0
	for _, t := range run {
		if capitalized(t.text) {
			names++
		}
	}
	if names < 2 {
		return Entity{}, false
	}
	start, end := run[0].start, run[len(run)-1].end
	return Entity{Type: EntityPerson, Start: start, End: end, Score: heuristicScore, Text: text[start:end]}, true
}

// wordTokens splits text into runs of letters and combining marks.
func wordTokens(text string) []token {
	var toks []token
	start := -1
	for i, r := range text {
		isWord := unicode.IsLetter(r) || unicode.IsMark(r)
		switch {
		case isWord && start < 0:
			start = i
		case !isWord && start >= 0:
			toks = append(toks, token{text: text[start:i], start: start, end: i})
			start = -1
		}
	}
	if start >= 0 {
		toks = append(toks, token{text: text[start:], start: start, end: len(text)})
	}
	return toks
}

// capitalized reports an upper-case initial followed only by lower-case
// letters, which excludes acronyms such as CPF and placeholders.
func capitalized(s string) bool {
	first, size := utf8.DecodeRuneInString(s)
	if !unicode.IsUpper(first) || len(s) == size {
		return false
	}
	for _, r := range s[size:] {
		if unicode.IsUpper(r) {
			return false
		}
	}
	return true
}

func spaceBetween(text string, a, b token) bool {
	gap := text[a.end:b.start]
	return gap != "" && strings.TrimSpace(gap) == "" && !strings.ContainsAny(gap, "\r\n")
}
