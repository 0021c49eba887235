package anonymizer

// RecognizerSpec declares one custom pattern recognizer.
type RecognizerSpec struct {
	Entity   string
	Patterns []Pattern
	Context  []string
}

// DefaultRecognizers are the structured PII recognizers registered on every
// engine: CPF numbers, e-mail addresses and Brazilian phone numbers.
var DefaultRecognizers = []RecognizerSpec{
	{
		Entity: EntityCPF,
		Patterns: []Pattern{
			{Name: "cpf_formatado", Regex: `\b\d{3}\.\d{3}\.\d{3}-\d{2}\b`, Score: 0.9},
			{Name: "cpf_simples", Regex: `\b\d{11}\b`, Score: 0.85},
		},
		Context: []string{"CPF", "documento", "cadastro", "número"},
	},
	{
		Entity: EntityEmail,
		Patterns: []Pattern{
			{Name: "email_simples", Regex: `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`, Score: 0.95},
		},
		Context: []string{"e-mail", "contato", "enviar para"},
	},
	{
		Entity: EntityPhone,
		Patterns: []Pattern{
			{Name: "telefone_formatado", Regex: `\(\d{2}\)\s?\d{4,5}-\d{4}`, Score: 0.9},
			{Name: "telefone_simples", Regex: `\b\d{10,11}\b`, Score: 0.8},
		},
		Context: []string{"telefone", "celular", "contato"},
	},
}
