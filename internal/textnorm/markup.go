package textnorm

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// invisible lists elements whose content never counts as visible text.
const invisible = "script, style, noscript, header, footer, nav"

// stripMarkup returns the visible text of an HTML fragment. Plain text passes
// through with its whitespace collapsed.
func stripMarkup(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return visibleText(doc)
}

// visibleText drops invisible elements and joins the remaining text nodes with
// single spaces.
func visibleText(doc *goquery.Document) string {
	doc.Find(invisible).Remove()

	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
		case html.CommentNode, html.DoctypeNode:
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range doc.Nodes {
		walk(n)
	}
	return strings.Join(parts, " ")
}
