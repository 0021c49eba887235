// Package anonymizer detects and redacts PII in ticket descriptions.
//
// Detection combines a statistical entity model (persons, locations,
// organizations) with regex pattern recognizers for structured identifiers
// (CPF, e-mail, phone). Redaction then runs in stages:
//  1. Analysis with a per-call threshold, boosting context words and a
//     preserve-list of known false positives.
//  2. Masking of every surviving span with a <TYPE> placeholder.
//  3. A second person-only pass over the masked text, replacing multi-word
//     names as whole words.
//  4. Literal corrections for known mis-tagging artifacts.
//  5. Whitespace collapse.
package anonymizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"ticket-anonymizer/internal/logger"
	"ticket-anonymizer/internal/metrics"
)

// CallThreshold is the minimum score used when redacting. It is stricter
// than the engine default to reduce false positives on ticket text.
const CallThreshold = 0.8

// ErrNotInitialized is returned by Provider.Get when initialization failed.
var ErrNotInitialized = errors.New("anonymizer not initialized")

// preserved tokens are never redacted, whatever the model says.
var preserved = map[string]bool{
	"Solicito": true, "solicito": true, "Peço": true, "peço": true, "Olá": true,
	"Contrato": true, "Atenciosamente": true, "atenciosamente": true,
	"Termo": true, "Formulário": true,
}

// ignoredNameWords disqualify a manual person candidate when any of its
// tokens, or the whole candidate, matches case-insensitively.
var ignoredNameWords = map[string]bool{
	"solicito": true, "peço": true, "pedido": true, "atenciosamente": true,
	"att": true, "contrato": true, "termo": true, "formulário": true,
	"exclusão": true, "sistema": true,
}

// callContext boosts pattern matches that follow these words.
var callContext = []string{"cadastro", "dados", "colaborador", "documento", "cliente", "usuário", "funcionário"}

// corrections repair known mis-tagging artifacts, applied in order.
var corrections = []struct{ from, to string }{
	{"<LOCATION> Olá", "Olá"},
	{"<LOCATION> a", "a"},
	{`<LOCATION> \`, `\`},
	{"<ORGANIZATION>", "Termo"},
}

// Anonymizer redacts PII from free text. It is safe for concurrent use.
type Anonymizer struct {
	engine    *Engine
	threshold float64
	context   []string
	log       *logger.Logger
	metrics   *metrics.Metrics
}

// New returns an Anonymizer over engine. A threshold <= 0 selects
// CallThreshold. m may be nil.
func New(engine *Engine, threshold float64, log *logger.Logger, m *metrics.Metrics) *Anonymizer {
	if threshold <= 0 {
		threshold = CallThreshold
	}
	return &Anonymizer{
		engine:    engine,
		threshold: threshold,
		context:   callContext,
		log:       log,
		metrics:   m,
	}
}

// Anonymize returns text with PII redacted. Empty input returns "" without
// running the model. On failure the error is logged and the input is
// returned unchanged.
func (a *Anonymizer) Anonymize(ctx context.Context, text string) string {
	if text == "" {
		return ""
	}
	out, err := a.Redact(ctx, text)
	if err != nil {
		a.log.Errorf("anonymize_failed", "text=%q: %v", logger.Preview(text, 50), err)
		return text
	}
	return out
}

// Redact is Anonymize with the failure reported to the caller instead of
// resolved.
func (a *Anonymizer) Redact(ctx context.Context, text string) (out string, err error) {
	if text == "" {
		return "", nil
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("anonymize: %v", r)
		}
		if err != nil && a.metrics != nil {
			a.metrics.AnonymizeErrors.Add(1)
		}
		a.metrics.RecordAnonLatency(time.Since(start))
	}()

	found, err := a.engine.Analyze(ctx, text, AnalyzeOptions{
		Threshold: a.threshold,
		Context:   a.context,
		Preserve:  preserved,
	})
	if err != nil {
		return "", fmt.Errorf("analyze: %w", err)
	}
	masked := a.mask(text, found)

	for _, name := range a.manualNames(ctx, masked) {
		var n int
		masked, n = replaceWholeWord(masked, name, Placeholder(EntityPerson))
		if a.metrics != nil {
			a.metrics.NameRedactions.Add(int64(n))
		}
	}

	for _, c := range corrections {
		masked = strings.ReplaceAll(masked, c.from, c.to)
	}
	return strings.Join(strings.Fields(masked), " "), nil
}

// mask replaces each span with its placeholder. Spans must not overlap.
func (a *Anonymizer) mask(text string, spans []Entity) string {
	if len(spans) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, e := range spans {
		b.WriteString(text[last:e.Start])
		b.WriteString(Placeholder(e.Type))
		last = e.End
		a.metrics.RecordEntity(e.Type)
	}
	b.WriteString(text[last:])
	return b.String()
}

// manualNames re-runs the entity model over masked text and returns the
// multi-word person names worth replacing, longest first. A model failure
// here only skips the pass.
func (a *Anonymizer) manualNames(ctx context.Context, masked string) []string {
	model := a.engine.Model()
	if model == nil {
		return nil
	}
	ents, err := model.Entities(ctx, masked)
	if err != nil {
		a.log.Warnf("names_failed", "manual name pass skipped: %v", err)
		return nil
	}

	set := make(map[string]bool)
	for _, e := range ents {
		if normalizeType(e.Type) != EntityPerson {
			continue
		}
		name := e.Text
		words := strings.Fields(name)
		if len(words) < 2 || ignoredNameWords[strings.ToLower(name)] || preserved[name] {
			continue
		}
		skip := false
		for _, w := range words {
			if ignoredNameWords[strings.ToLower(w)] {
				skip = true
				break
			}
		}
		if !skip {
			set[name] = true
		}
	}

	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	return names
}

// replaceWholeWord replaces literal occurrences of word that sit on word
// boundaries at both ends. It returns the new text and the replacement
// count.
func replaceWholeWord(text, word, repl string) (string, int) {
	if word == "" {
		return text, 0
	}
	first, _ := utf8.DecodeRuneInString(word)
	lastR, _ := utf8.DecodeLastRuneInString(word)

	var b strings.Builder
	count, off := 0, 0
	for off <= len(text) {
		i := strings.Index(text[off:], word)
		if i < 0 {
			break
		}
		s, e := off+i, off+i+len(word)
		if boundary(text[:s], first, true) && boundary(text[e:], lastR, false) {
			b.WriteString(text[off:s])
			b.WriteString(repl)
			count++
			off = e
			continue
		}
		_, size := utf8.DecodeRuneInString(text[s:])
		b.WriteString(text[off : s+size])
		off = s + size
	}
	if count == 0 {
		return text, 0
	}
	b.WriteString(text[off:])
	return b.String(), count
}

// boundary reports whether a word boundary separates the edge rune of a
// match from its neighbour in side (the text before or after the match).
func boundary(side string, edge rune, before bool) bool {
	var neighbour rune
	var ok bool
	if before {
		if side != "" {
			neighbour, _ = utf8.DecodeLastRuneInString(side)
			ok = true
		}
	} else if side != "" {
		neighbour, _ = utf8.DecodeRuneInString(side)
		ok = true
	}
	if !ok {
		return isWordRune(edge)
	}
	return isWordRune(neighbour) != isWordRune(edge)
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

// Close releases resources held by the entity model, such as its cache.
func (a *Anonymizer) Close() error {
	if c, ok := a.engine.Model().(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Provider initializes an Anonymizer at most once and hands out the shared
// instance. A failed initialization is not retried.
type Provider struct {
	once  sync.Once
	build func(context.Context) (*Anonymizer, error)
	inst  *Anonymizer
	err   error
}

// NewProvider returns a Provider that calls build on first use.
func NewProvider(build func(context.Context) (*Anonymizer, error)) *Provider {
	return &Provider{build: build}
}

// Get returns the shared Anonymizer, initializing it on the first call.
func (p *Provider) Get(ctx context.Context) (*Anonymizer, error) {
	p.once.Do(func() {
		p.inst, p.err = p.build(ctx)
		if p.err == nil && p.inst == nil {
			p.err = errors.New("builder returned no anonymizer")
		}
	})
	if p.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotInitialized, p.err)
	}
	return p.inst, nil
}
