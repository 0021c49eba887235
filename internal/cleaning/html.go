package cleaning

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// htmlDocRe matches messages whose body is an HTML document or fragment.
// Jira's "<[ #gccode#" marker does not start with a tag name and never matches.
var htmlDocRe = regexp.MustCompile(`(?i)^\s*<(?:!doctype|html|head|body|div|p|table|span|br|ul|ol|h[1-6])\b`)

func looksLikeHTML(s string) bool {
	return htmlDocRe.MatchString(s)
}

// flattenHTML reduces an HTML message to its visible text, turning block
// boundaries into line breaks so the cascade collapses them like Jira text.
func flattenHTML(s string) (string, error) {
	root, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)
	doc.Find("script, style, head").Remove()
	doc.Find("br").Each(func(_ int, sel *goquery.Selection) {
		sel.ReplaceWithNodes(lineBreak())
	})
	doc.Find("p, div, li, tr, td, th, h1, h2, h3, h4, h5, h6").Each(func(_ int, sel *goquery.Selection) {
		sel.AppendNodes(lineBreak())
	})
	return doc.Text(), nil
}

func lineBreak() *html.Node {
	return &html.Node{Type: html.TextNode, Data: "\n"}
}
