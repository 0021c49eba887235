package cleaning

import "testing"

func TestSanitize_Rejections(t *testing.T) {
	cases := []string{
		"Take 5 min today to see your monitors and alerts",
		"take   15  MIN today to see your monitors",
		"<[ #gccode#3:40748:374288:S:1201#! Favor verificar",
		"Mensagem enviada pela Postman Inc. com detalhes do pedido",
		"Please avoid suspension of your Postman account by updating billing",
	}
	for _, in := range cases {
		if got := Sanitize(in); got != "" {
			t.Errorf("Sanitize(%q) = %q, want rejection", in, got)
		}
	}
}

func TestSanitize_Cleaning(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Solicito a exclusão do CPF 123.456.789-00 do cadastro.", "Solicito a exclusão do CPF 123.456.789-00 do cadastro."},
		{"color markup", "{color:#ff0000}Erro no relatório{color}", "Erro no relatório"},
		{"gccode code", "Erro #gccode#3:40748:374288:S:1201# no envio", "Erro no envio"},
		{"adf block", "Texto {adf}lixo\ninterno{adf} final", "Texto final"},
		{"leading number", "123 Erro ao salvar", "Erro ao salvar"},
		{"leading index", "[12-Falha no login", "Falha no login"},
		{"heading marker", "h1. Titulo Problema na fatura", "Problema na fatura"},
		{"attachment count", "Segue evidência *2 anexos* e erro", "Segue evidência e erro"},
		{"file reference", "Veja [PRINT_TELA.PNG] com o erro", "Veja com o erro"},
		{"bracket runs", "Erro [[[ teste ]]] fim", "Erro teste fim"},
		{"stray characters", "Valores: 1,2,3}", "Valores: 123"},
		{"leading symbols", "--> Acesso negado", "Acesso negado"},
		{"accented start kept", "É necessário liberar o acesso", "É necessário liberar o acesso"},
		{"whitespace collapse", "Erro   ao\n\nabrir", "Erro ao abrir"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Sanitize(c.in); got != c.want {
				t.Errorf("Sanitize(%q) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}

func TestSanitize_Validation(t *testing.T) {
	for _, in := range []string{"", "   ", "ab", "!!!", "-- ** --", "{color:red}", "[a.pdf]"} {
		if got := Sanitize(in); got != "" {
			t.Errorf("Sanitize(%q) = %q, want empty", in, got)
		}
	}
	if got := Sanitize("abc"); got != "abc" {
		t.Errorf("three characters should pass, got %q", got)
	}
}

func TestSanitizeRules_Order(t *testing.T) {
	want := []string{
		"color_markup", "gccode_code", "gccode_marker", "adf_block",
		"leading_number", "leading_index", "heading", "attachment_count",
		"file_reference", "open_bracket_run", "close_bracket_run",
		"stray_chars", "leading_symbols", "whitespace",
	}
	if len(SanitizeRules) != len(want) {
		t.Fatalf("got %d rules, want %d", len(SanitizeRules), len(want))
	}
	for i, r := range SanitizeRules {
		if r.Name != want[i] {
			t.Errorf("rule %d = %s, want %s", i, r.Name, want[i])
		}
	}
}

func TestRejected(t *testing.T) {
	if Rejected("Erro comum no sistema") {
		t.Error("ordinary text should not be rejected")
	}
	if !Rejected("POSTMAN   INC") {
		t.Error("rejection should be case-insensitive")
	}
}
