package sink

import (
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// documentTitle pulls the first heading out of a markdown document for
// log fields. Empty when the document has no heading.
func documentTitle(content string) string {
	md := goldmark.New()
	source := []byte(content)
	doc := md.Parser().Parse(text.NewReader(source))
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		if h, ok := node.(*ast.Heading); ok {
			return string(h.Text(source))
		}
	}
	return ""
}
