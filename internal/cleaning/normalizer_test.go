package cleaning

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain text untouched", "Erro ao emitir nota fiscal", "Erro ao emitir nota fiscal"},
		{"color spans", "{color:#5b5b5b}Erro no login{color:#000000}", "Erro no login"},
		{"absolute url", "Veja https://jira.example.com/browse/ABC-1 agora", "Veja agora"},
		{"empty table cell", "Coluna | | valor", "Coluna valor"},
		{"adf block across lines", "Início {adf}{\"type\":\"doc\"\n\"content\":[]}{adf} fim", "Início fim"},
		{"gccode marker", "<[ #gccode#3:40748:374288:S:1201#! Favor verificar", "Favor verificar"},
		{"line breaks", "Linha 1\r\nLinha 2\n\nLinha 3", "Linha 1 Linha 2 Linha 3"},
		{"whitespace runs", "  muitos    espaços\t\taqui  ", "muitos espaços aqui"},
		{"html body", "<p>Olá equipe</p><p>Preciso de acesso<br>ao sistema</p>", "Olá equipe Preciso de acesso ao sistema"},
		{"html entities", "<div>Fatura &amp; boleto</div>", "Fatura & boleto"},
		{"escaped html inside html", "<p>&lt;div&gt;Preciso de acesso&lt;/div&gt;</p>", "Preciso de acesso"},
		{"html after jira markup", "{color:red}<p>Erro &amp; aviso</p>{color:#000}", "Erro & aviso"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Normalize(c.in); got != c.want {
				t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"{color:#5b5b5b}Erro{color:#000000} no   login\n\nVer https://x.io/a",
		"Coluna | | valor |  | fim",
		"<[ #gccode#1:2:3:S:4#! texto {adf}x\ny{adf} resto",
		"Tarefa: Solicito a exclusão do CPF 123.456.789-00 do cadastro. Atenciosamente.",
		"<p>Olá</p><p>linha<br>quebrada</p>",
		"<p>&lt;div&gt;Preciso de acesso</p>",
		"<div>&amp;lt;p&amp;gt;duas camadas</div>",
		"{color:#000}<span>texto</span>",
		"   ",
	}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("not idempotent for %q:\n once:  %q\n twice: %q", in, once, twice)
		}
		if strings.Contains(once, "  ") {
			t.Errorf("double space left in %q", once)
		}
	}
}

func TestNormalizeRules_Isolated(t *testing.T) {
	byName := func(name string) Rule {
		for _, r := range NormalizeRules {
			if r.Name == name {
				return r
			}
		}
		t.Fatalf("no rule %q", name)
		return Rule{}
	}

	if got := byName("link_reference").Apply("a |!https://x.io/y.png!| b"); got != "a   b" {
		t.Errorf("link_reference: got %q", got)
	}
	if got := byName("adf_block").Apply("{adf}a{adf} meio {adf}b{adf}"); got != "  meio  " {
		t.Errorf("adf_block should match pairs lazily, got %q", got)
	}
	if got := byName("color_markup").Apply("{color}x"); got != "{color}x" {
		t.Errorf("color_markup should need a colon, got %q", got)
	}
}

func TestNormalizeResult_EmptyHasNoError(t *testing.T) {
	res := NormalizeResult("")
	if res.Err != nil || res.Text != "" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestLooksLikeHTML(t *testing.T) {
	cases := map[string]bool{
		"<p>texto</p>":           true,
		"  <DIV>texto</DIV>":     true,
		"<!DOCTYPE html><html>":  true,
		"<[ #gccode#1:2#! texto": false,
		"texto <p>depois</p>":    false,
		"<pre>codigo</pre>":      false,
	}
	for in, want := range cases {
		if got := looksLikeHTML(in); got != want {
			t.Errorf("looksLikeHTML(%q) = %v, want %v", in, got, want)
		}
	}
}
