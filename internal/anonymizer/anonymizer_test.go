package anonymizer

import (
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
	"sync"
	"testing"

	"ticket-anonymizer/internal/logger"
	"ticket-anonymizer/internal/metrics"
)

// fakeModel tags every literal occurrence of its detections. When err is
// set, calls after the first failAfter succeed-calls return it.
type fakeModel struct {
	mu         sync.Mutex
	calls      int
	detections []detection
	err        error
	failAfter  int
}

func (f *fakeModel) Name() string { return "fake" }

func (f *fakeModel) Entities(_ context.Context, text string) ([]Entity, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if f.err != nil && n > f.failAfter {
		return nil, f.err
	}
	return locate(text, f.detections), nil
}

func (f *fakeModel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func quietLogger() *logger.Logger {
	return logger.NewWithWriter("ANONYMIZER", "error", io.Discard)
}

func newTestAnonymizer(model EntityModel, m *metrics.Metrics) *Anonymizer {
	engine := NewEngine(model, "pt", DefaultThreshold, quietLogger())
	engine.Register(DefaultRecognizers)
	return New(engine, CallThreshold, quietLogger(), m)
}

var cpfFormatted = regexp.MustCompile(`\d{3}\.\d{3}\.\d{3}-\d{2}`)

func TestAnonymize_EndToEndCPF(t *testing.T) {
	m := metrics.New()
	a := newTestAnonymizer(NewHeuristicModel(), m)

	in := "Solicito a exclusão do CPF 123.456.789-00 do cadastro. Atenciosamente."
	got := a.Anonymize(context.Background(), in)

	want := "Solicito a exclusão do CPF <CPF> do cadastro. Atenciosamente."
	if got != want {
		t.Errorf("Anonymize() = %q, want %q", got, want)
	}
	if cpfFormatted.MatchString(got) {
		t.Errorf("CPF digits survived: %q", got)
	}
	if n := m.Snapshot().Anonymization.Entities["CPF"]; n != 1 {
		t.Errorf("CPF redactions = %d, want 1", n)
	}
}

func TestAnonymize_PatternCoverage(t *testing.T) {
	a := newTestAnonymizer(NewHeuristicModel(), nil)

	in := "Meu e-mail é joao.silva@empresa.com.br e telefone (11) 98765-4321, CPF 123.456.789-00"
	got := a.Anonymize(context.Background(), in)

	for _, literal := range []string{"joao.silva@empresa.com.br", "(11) 98765-4321", "123.456.789-00"} {
		if strings.Contains(got, literal) {
			t.Errorf("%q not redacted in %q", literal, got)
		}
	}
	for _, ph := range []string{"<EMAIL>", "<TELEFONE>", "<CPF>"} {
		if !strings.Contains(got, ph) {
			t.Errorf("missing %s in %q", ph, got)
		}
	}
}

func TestAnonymize_UnformattedCPFBeatsPhone(t *testing.T) {
	a := newTestAnonymizer(NewHeuristicModel(), nil)
	got := a.Anonymize(context.Background(), "CPF 12345678901 informado")
	if got != "CPF <CPF> informado" {
		t.Errorf("got %q", got)
	}
}

func TestAnonymize_EmptyInputSkipsModel(t *testing.T) {
	f := &fakeModel{}
	a := newTestAnonymizer(f, nil)
	if got := a.Anonymize(context.Background(), ""); got != "" {
		t.Errorf("got %q, want empty", got)
	}
	if f.callCount() != 0 {
		t.Errorf("model called %d times for empty input", f.callCount())
	}
}

func TestAnonymize_PreserveList(t *testing.T) {
	f := &fakeModel{detections: []detection{
		{Text: "Atenciosamente", Type: "PERSON", Confidence: 0.95},
		{Text: "Solicito", Type: "PERSON", Confidence: 0.95},
	}}
	a := newTestAnonymizer(f, nil)

	for _, in := range []string{"Atenciosamente", "Solicito", "Termo", "Olá"} {
		if got := a.Anonymize(context.Background(), in); got != in {
			t.Errorf("Anonymize(%q) = %q, preserve-list token was redacted", in, got)
		}
	}
}

func TestAnonymize_PreservedSpanDoesNotShadowName(t *testing.T) {
	f := &fakeModel{detections: []detection{
		{Text: "Atenciosamente", Type: "PERSON", Confidence: 0.95},
		{Text: "Atenciosamente Joana Prado", Type: "PERSON", Confidence: 0.85},
	}}
	a := newTestAnonymizer(f, nil)

	got := a.Anonymize(context.Background(), "Obrigado. Atenciosamente Joana Prado")
	if want := "Obrigado. <PERSON>"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestAnonymize_ModelEntitiesMasked(t *testing.T) {
	a := newTestAnonymizer(NewHeuristicModel(), nil)
	got := a.Anonymize(context.Background(), "Favor falar com Maria da Silva Souza sobre o acesso.")
	want := "Favor falar com <PERSON> sobre o acesso."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestAnonymize_ManualNamePass(t *testing.T) {
	// Below the call threshold: only the manual pass replaces the name.
	f := &fakeModel{detections: []detection{{Text: "João Pereira", Type: "PER", Confidence: 0.75}}}
	m := metrics.New()
	a := newTestAnonymizer(f, m)

	got := a.Anonymize(context.Background(), "João Pereira abriu o chamado. Ligar para João Pereira e João Pereiras.")
	want := "<PERSON> abriu o chamado. Ligar para <PERSON> e João Pereiras."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if n := m.NameRedactions.Load(); n != 2 {
		t.Errorf("NameRedactions = %d, want 2", n)
	}
}

func TestAnonymize_ManualPassFilters(t *testing.T) {
	cases := []struct {
		name string
		det  detection
		in   string
	}{
		{"single token", detection{Text: "Maria", Type: "PERSON", Confidence: 0.5}, "Falar com Maria hoje"},
		{"ignored word", detection{Text: "Contrato Silva", Type: "PERSON", Confidence: 0.5}, "Ver Contrato Silva hoje"},
		{"not a person", detection{Text: "Rio Grande", Type: "LOC", Confidence: 0.5}, "Filial Rio Grande"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			a := newTestAnonymizer(&fakeModel{detections: []detection{c.det}}, nil)
			if got := a.Anonymize(context.Background(), c.in); got != c.in {
				t.Errorf("got %q, want unchanged %q", got, c.in)
			}
		})
	}
}

func TestAnonymize_Corrections(t *testing.T) {
	cases := []struct {
		det  detection
		in   string
		want string
	}{
		{detection{Text: "Brasil", Type: "LOCATION", Confidence: 0.9}, "Brasil a equipe", "a equipe"},
		{detection{Text: "Recife", Type: "LOCATION", Confidence: 0.9}, "Recife Olá time", "Olá time"},
		{detection{Text: "ACME", Type: "ORG", Confidence: 0.9}, "Assinar o ACME hoje", "Assinar o Termo hoje"},
	}
	for _, c := range cases {
		a := newTestAnonymizer(&fakeModel{detections: []detection{c.det}}, nil)
		if got := a.Anonymize(context.Background(), c.in); got != c.want {
			t.Errorf("Anonymize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestAnonymize_CollapsesWhitespace(t *testing.T) {
	a := newTestAnonymizer(NewHeuristicModel(), nil)
	if got := a.Anonymize(context.Background(), "  acesso \t negado\n hoje  "); got != "acesso negado hoje" {
		t.Errorf("got %q", got)
	}
}

func TestAnonymize_FailOpen(t *testing.T) {
	f := &fakeModel{err: errors.New("model crashed")}
	m := metrics.New()
	a := newTestAnonymizer(f, m)

	in := "CPF 123.456.789-00"
	if got := a.Anonymize(context.Background(), in); got != in {
		t.Errorf("got %q, want original input on failure", got)
	}
	if _, err := a.Redact(context.Background(), in); err == nil {
		t.Error("Redact should report the model failure")
	}
	if n := m.AnonymizeErrors.Load(); n != 2 {
		t.Errorf("AnonymizeErrors = %d, want 2", n)
	}
}

func TestAnonymize_ManualPassFailureKeepsMasking(t *testing.T) {
	f := &fakeModel{err: errors.New("second call fails"), failAfter: 1}
	a := newTestAnonymizer(f, nil)

	got, err := a.Redact(context.Background(), "CPF 123.456.789-00")
	if err != nil {
		t.Fatalf("Redact: %v", err)
	}
	if got != "CPF <CPF>" {
		t.Errorf("got %q", got)
	}
}

func TestReplaceWholeWord(t *testing.T) {
	cases := []struct {
		text, word, want string
		n                int
	}{
		{"Ana Lima e Ana Limas", "Ana Lima", "<P> e Ana Limas", 1},
		{"xAna Lima", "Ana Lima", "xAna Lima", 0},
		{"(Ana Lima)", "Ana Lima", "(<P>)", 1},
		{"Ana Lima Ana Lima", "Ana Lima", "<P> <P>", 2},
		{"Élcio Báez.", "Élcio Báez", "<P>.", 1},
		{"a.b+c", "a.b+c", "<P>", 1},
	}
	for _, c := range cases {
		got, n := replaceWholeWord(c.text, c.word, "<P>")
		if got != c.want || n != c.n {
			t.Errorf("replaceWholeWord(%q, %q) = %q, %d; want %q, %d", c.text, c.word, got, n, c.want, c.n)
		}
	}
}

func TestProvider_InitializesOnce(t *testing.T) {
	var builds int
	var mu sync.Mutex
	p := NewProvider(func(context.Context) (*Anonymizer, error) {
		mu.Lock()
		builds++
		mu.Unlock()
		return newTestAnonymizer(NewHeuristicModel(), nil), nil
	})

	var wg sync.WaitGroup
	results := make([]*Anonymizer, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := p.Get(context.Background())
			if err != nil {
				t.Errorf("Get: %v", err)
			}
			results[i] = a
		}()
	}
	wg.Wait()

	if builds != 1 {
		t.Errorf("builder called %d times, want 1", builds)
	}
	for _, a := range results {
		if a != results[0] {
			t.Error("Provider returned different instances")
		}
	}
}

func TestProvider_FailureIsSticky(t *testing.T) {
	var builds int
	p := NewProvider(func(context.Context) (*Anonymizer, error) {
		builds++
		return nil, errors.New("model missing")
	})

	for range 3 {
		if _, err := p.Get(context.Background()); !errors.Is(err, ErrNotInitialized) {
			t.Errorf("expected ErrNotInitialized, got %v", err)
		}
	}
	if builds != 1 {
		t.Errorf("builder called %d times, want 1", builds)
	}
}

func TestBuild_Backends(t *testing.T) {
	ctx := context.Background()

	a, err := Build(ctx, Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Build(default): %v", err)
	}
	if name := a.engine.Model().Name(); name != "heuristic" {
		t.Errorf("default model = %s", name)
	}
	if got := len(a.engine.Recognizers()); got != len(DefaultRecognizers) {
		t.Errorf("registered %d recognizers, want %d", got, len(DefaultRecognizers))
	}

	if _, err := Build(ctx, Options{Backend: "spacy", Logger: quietLogger()}); err == nil {
		t.Error("expected error for unknown backend")
	}
	if _, err := Build(ctx, Options{Backend: "ollama", Logger: quietLogger()}); err == nil {
		t.Error("expected error for ollama without endpoint")
	}
	if _, err := Build(ctx, Options{Backend: "gemini", Logger: quietLogger()}); err == nil {
		t.Error("expected error for gemini without key")
	}
}
